package ledger

import (
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// NormalizeName lowercases and collapses internal whitespace. It is
// the basis of staff attribution: collection and expense records carry
// staff names, not staff ids, so this normalization is the only join
// key between cash ledger entries and staff identity. Do not tighten
// the matching rules without product sign-off.
func NormalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// NameMatches reports whether two names refer to the same person:
// equal after normalization, or one is a word-prefix of the other,
// which tolerates trailing honorifics and suffixes.
func NameMatches(a, b string) bool {
	na := NormalizeName(a)
	nb := NormalizeName(b)
	if na == "" || nb == "" {
		return false
	}
	if na == nb {
		return true
	}
	return strings.HasPrefix(na, nb+" ") || strings.HasPrefix(nb, na+" ")
}

func hasHandoverPrefix(customer string) bool {
	return strings.HasPrefix(strings.TrimSpace(customer), HandoverPrefix)
}

// HandoverStaffName returns the staff name recorded in a handover
// collection's customer field, or "" for ordinary collections.
func HandoverStaffName(customer string) string {
	trimmed := strings.TrimSpace(customer)
	if !strings.HasPrefix(trimmed, HandoverPrefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(trimmed, HandoverPrefix))
}

// ParseAmount parses a human-formatted decimal string. Thousands
// separators, currency markers and stray whitespace are tolerated;
// anything unparsable sums as zero rather than failing.
func ParseAmount(s string) decimal.Decimal {
	cleaned := strings.TrimSpace(s)
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	cleaned = strings.ReplaceAll(cleaned, "₹", "")
	cleaned = strings.ReplaceAll(cleaned, " ", "")
	if cleaned == "" {
		return decimal.Zero
	}
	value, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero
	}
	return value
}

// collectionTime reads the record's epoch-millisecond creation stamp
// out of its id; 0 when the id is not numeric.
func collectionTime(c Collection) int64 {
	value, err := strconv.ParseInt(strings.TrimSpace(c.ID), 10, 64)
	if err != nil {
		return 0
	}
	return value
}

// LastHandoverTime returns the creation stamp of the staff member's
// most recent completed handover, or 0 when none exists.
func LastHandoverTime(collections []Collection, staffName string) int64 {
	var last int64
	for _, c := range collections {
		if !c.IsHandover() || c.Status != StatusPaid {
			continue
		}
		if !NameMatches(HandoverStaffName(c.Customer), staffName) {
			continue
		}
		if t := collectionTime(c); t > last {
			last = t
		}
	}
	return last
}

type CashPosition struct {
	LastHandoverAt int64           `json:"lastHandoverAt"`
	Collected      decimal.Decimal `json:"collected"`
	Expenses       decimal.Decimal `json:"expenses"`
	Net            decimal.Decimal `json:"net"`
}

// CashInHand computes a staff member's cash position since their last
// handover. Only Cash-mode Paid collections strictly after the
// handover count; cash expenses attributed to the staff subtract. The
// net is floored at zero: an expense attributed after its offsetting
// collection never shows as a negative cash position.
func CashInHand(collections []Collection, expenses []Expense, staffName string) CashPosition {
	last := LastHandoverTime(collections, staffName)
	collected := decimal.Zero
	for _, c := range collections {
		if c.IsHandover() || c.Status != StatusPaid {
			continue
		}
		if !strings.EqualFold(c.Mode, ModeCash) {
			continue
		}
		if !NameMatches(c.Staff, staffName) {
			continue
		}
		if collectionTime(c) <= last {
			continue
		}
		collected = collected.Add(ParseAmount(c.Amount))
	}
	spent := decimal.Zero
	for _, e := range expenses {
		if !isCashExpense(e) {
			continue
		}
		if !NameMatches(e.CreatedBy, staffName) {
			continue
		}
		if e.ID <= last {
			continue
		}
		spent = spent.Add(decimal.NewFromFloat(e.Amount))
	}
	net := collected.Sub(spent)
	if net.IsNegative() {
		net = decimal.Zero
	}
	return CashPosition{
		LastHandoverAt: last,
		Collected:      collected,
		Expenses:       spent,
		Net:            net,
	}
}

// Bank deposits normally carry no method and therefore count as cash;
// an explicitly recorded non-cash method excludes the expense.
func isCashExpense(e Expense) bool {
	switch NormalizeName(e.Method) {
	case "", "cash":
		return true
	}
	return false
}

// LifetimeOnlineTotal sums a staff member's non-cash Paid collections
// across all time. Only cash is subject to handover settlement, so the
// online total is unbounded by the handover window.
func LifetimeOnlineTotal(collections []Collection, staffName string) decimal.Decimal {
	total := decimal.Zero
	for _, c := range collections {
		if c.IsHandover() || c.Status != StatusPaid {
			continue
		}
		if strings.EqualFold(c.Mode, ModeCash) {
			continue
		}
		if !NameMatches(c.Staff, staffName) {
			continue
		}
		total = total.Add(ParseAmount(c.Amount))
	}
	return total
}

// WalletBalance is a staff member's all-time Paid collections minus
// their completed handover settlements.
func WalletBalance(collections []Collection, staffName string) decimal.Decimal {
	balance := decimal.Zero
	for _, c := range collections {
		if c.Status != StatusPaid {
			continue
		}
		if c.IsHandover() {
			if NameMatches(HandoverStaffName(c.Customer), staffName) {
				balance = balance.Sub(ParseAmount(c.Amount))
			}
			continue
		}
		if NameMatches(c.Staff, staffName) {
			balance = balance.Add(ParseAmount(c.Amount))
		}
	}
	return balance
}

type DailyTotal struct {
	Date  string          `json:"date"`
	Total decimal.Decimal `json:"total"`
}

// DailyCollectionTotals sums Paid non-handover collections per date,
// sorted by date string.
func DailyCollectionTotals(collections []Collection) []DailyTotal {
	totals := map[string]decimal.Decimal{}
	for _, c := range collections {
		if c.IsHandover() || c.Status != StatusPaid {
			continue
		}
		date := strings.TrimSpace(c.Date)
		if date == "" {
			continue
		}
		totals[date] = totals[date].Add(ParseAmount(c.Amount))
	}
	dates := make([]string, 0, len(totals))
	for date := range totals {
		dates = append(dates, date)
	}
	sort.Strings(dates)
	out := make([]DailyTotal, 0, len(dates))
	for _, date := range dates {
		out = append(out, DailyTotal{Date: date, Total: totals[date]})
	}
	return out
}

package ledger

import (
	"errors"
	"strconv"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrClosed       = errors.New("closed")
	ErrQueueFull    = errors.New("queue full")
)

// Logger matches the standard library log.Logger and logrus.
type Logger interface {
	Printf(format string, args ...any)
}

func logf(logger Logger, format string, args ...any) {
	if logger == nil {
		return
	}
	logger.Printf(format, args...)
}

// ChangeEvent is a payload-less, process-wide signal. Consumers re-read
// the repository after receiving one; the event itself carries no data.
type ChangeEvent string

const (
	EventCustomers     ChangeEvent = "customers-changed"
	EventExpenses      ChangeEvent = "expenses-changed"
	EventCollections   ChangeEvent = "transactions-changed"
	EventStaff         ChangeEvent = "staff-changed"
	EventDealers       ChangeEvent = "dealers-changed"
	EventZones         ChangeEvent = "zones-changed"
	EventSettings      ChangeEvent = "settings-changed"
	EventAlerts        ChangeEvent = "alerts-changed"
	EventStaffAlerts   ChangeEvent = "staff-alerts-changed"
	EventSecurity      ChangeEvent = "security-changed"
	EventStorageReload ChangeEvent = "storage-reload"
)

// Local store keys, one per entity collection. The remote document store
// uses the same names as collection identifiers.
const (
	KeyCustomers            = "customers"
	KeyExpenses             = "expenses"
	KeyCollections          = "collections"
	KeyStaff                = "staff"
	KeyDealers              = "dealers"
	KeyZones                = "zones"
	KeyAppSettings          = "app_settings"
	KeyCompanyDetails       = "company_details"
	KeyAdminProfile         = "admin_profile"
	KeyNotificationSettings = "notification_settings"
	KeyMobilePermissions    = "mobile_permissions"
	KeyAdminSecurity        = "admin_security"
	KeyAlerts               = "alerts"
	KeyStaffAlerts          = "staff_alerts"
)

// SingletonDocKey is the fixed remote document key for singleton
// configuration entities.
const SingletonDocKey = "main"

// HandoverPrefix marks a Collection that records a staff-to-admin cash
// settlement instead of a customer payment. It is the join key between
// staff cash-in-hand accounting and the admin ledger.
const HandoverPrefix = "HANDOVER:"

const (
	StatusPaid       = "Paid"
	StatusProcessing = "Processing"
	StatusFailed     = "Failed"
	StatusVisit      = "Visit"

	ModeCash   = "Cash"
	ModeUPI    = "UPI"
	ModeCheque = "Cheque"
)

// Entity is anything a ListRepo can store. Key returns the stable
// identity, unique within the entity's collection.
type Entity interface {
	Key() string
}

type Customer struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Contact string `json:"contact"`
	Phone   string `json:"phone"`
	City    string `json:"city"`
	Status  string `json:"status"`
	Balance string `json:"balance"`
	Email   string `json:"email,omitempty"`
	Address string `json:"address,omitempty"`
}

func (c Customer) Key() string { return c.ID }

// Expense ids are epoch-millisecond creation stamps; cash accounting
// uses them as timestamps.
type Expense struct {
	ID        int64   `json:"id"`
	Title     string  `json:"title"`
	Party     string  `json:"party"`
	Amount    float64 `json:"amount"`
	Date      string  `json:"date"`
	Category  string  `json:"category"`
	Method    string  `json:"method"`
	Status    string  `json:"status"`
	Notes     string  `json:"notes,omitempty"`
	Image     string  `json:"image,omitempty"`
	CreatedBy string  `json:"createdBy,omitempty"`
}

func (e Expense) Key() string { return strconv.FormatInt(e.ID, 10) }

// Collection is a payment event. Amount is a human-formatted decimal
// string and may contain thousands separators; sum it through
// ParseAmount only. The id is an epoch-millisecond creation stamp.
type Collection struct {
	ID       string `json:"id"`
	Customer string `json:"customer"`
	Staff    string `json:"staff"`
	Amount   string `json:"amount"`
	Status   string `json:"status"`
	Date     string `json:"date"`
	Time     string `json:"time"`
	Mode     string `json:"mode"`
	Contact  string `json:"contact"`
	Remarks  string `json:"remarks,omitempty"`
	Image    string `json:"image,omitempty"`
}

func (c Collection) Key() string { return c.ID }

// IsHandover reports whether the record is a staff-to-admin settlement.
func (c Collection) IsHandover() bool {
	return hasHandoverPrefix(c.Customer)
}

type Staff struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Phone         string `json:"phone"`
	Role          string `json:"role"`
	Status        string `json:"status"`
	Joined        string `json:"joined"`
	Zone          string `json:"zone,omitempty"`
	Address       string `json:"address,omitempty"`
	Pin           string `json:"pin,omitempty"`
	EmployeeID    string `json:"employeeId,omitempty"`
	LastSeen      int64  `json:"lastSeen,omitempty"`
	WalletBalance string `json:"walletBalance,omitempty"`
}

func (s Staff) Key() string { return s.ID }

type Dealer struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Contact  string `json:"contact"`
	Category string `json:"category"`
	Balance  string `json:"balance"`
	Paid     string `json:"paid"`
}

func (d Dealer) Key() string { return d.ID }

type Zone struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (z Zone) Key() string { return z.ID }

type Alert struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Desc      string `json:"desc"`
	Timestamp int64  `json:"timestamp"`
	Read      bool   `json:"read"`
	Target    string `json:"target,omitempty"`
	Path      string `json:"path,omitempty"`
}

func (a Alert) Key() string { return a.ID }

// Notification is a staff-facing alert.
type Notification struct {
	ID        string `json:"id"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
	Read      bool   `json:"read"`
	Target    string `json:"target,omitempty"`
}

func (n Notification) Key() string { return n.ID }

type AppSettings struct {
	Currency string `json:"currency"`
	Locale   string `json:"locale"`
	Theme    string `json:"theme"`
	AutoSync bool   `json:"autoSync"`
}

type CompanyDetails struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Phone   string `json:"phone"`
	Email   string `json:"email"`
	GSTIN   string `json:"gstin,omitempty"`
	Logo    string `json:"logo,omitempty"`
}

type AdminProfile struct {
	Name   string `json:"name"`
	Phone  string `json:"phone"`
	Email  string `json:"email"`
	Avatar string `json:"avatar,omitempty"`
}

type NotificationSettings struct {
	CollectionAlerts bool `json:"collectionAlerts"`
	StaffAlerts      bool `json:"staffAlerts"`
	DailySummary     bool `json:"dailySummary"`
}

type MobilePermissions struct {
	AllowCollections  bool `json:"allowCollections"`
	AllowExpenses     bool `json:"allowExpenses"`
	AllowCustomerEdit bool `json:"allowCustomerEdit"`
}

type AdminSecurity struct {
	Pin         string `json:"pin"`
	TwoFactor   bool   `json:"twoFactor"`
	ForceLogout bool   `json:"forceLogout"`
}

// DefaultAppSettings is the fallback returned when nothing has been
// persisted yet or the stored value is corrupt.
func DefaultAppSettings() AppSettings {
	return AppSettings{Currency: "INR", Locale: "en-IN", Theme: "light", AutoSync: true}
}

func DefaultNotificationSettings() NotificationSettings {
	return NotificationSettings{CollectionAlerts: true, StaffAlerts: true}
}

func DefaultMobilePermissions() MobilePermissions {
	return MobilePermissions{AllowCollections: true, AllowExpenses: true}
}

package ledger

// Undefined marks a field whose value was never set by the caller.
// Remote document stores reject such fields, so every record is passed
// through Sanitize before it crosses the process boundary.
type undefinedValue struct{}

var Undefined = undefinedValue{}

// Sanitize returns a copy of doc with every Undefined leaf replaced by
// an explicit null. Nested objects are rewritten recursively; array
// elements are passed through unchanged. Idempotent; doc is not
// mutated.
func Sanitize(doc map[string]any) map[string]any {
	if doc == nil {
		return nil
	}
	out := make(map[string]any, len(doc))
	for key, value := range doc {
		switch typed := value.(type) {
		case undefinedValue:
			out[key] = nil
		case map[string]any:
			out[key] = Sanitize(typed)
		default:
			out[key] = value
		}
	}
	return out
}

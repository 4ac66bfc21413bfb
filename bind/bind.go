package bind

// State is a binding's tri-state.
type State int

const (
	// Loading means the result is pending (or the binding was reset).
	Loading State = iota

	// Missing means the lookup resolved and there is no such value:
	// no row with that id, no match, or the binding is disabled.
	Missing

	// Loaded means the binding holds a resolved value.
	Loaded
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case Loading:
		return "loading"
	case Missing:
		return "missing"
	case Loaded:
		return "loaded"
	default:
		return "unknown"
	}
}

// Options control binding behavior.
type Options struct {
	// Disabled makes the binding inert: it reports Missing (or
	// Loading, per ResetOnDisabled), subscribes to nothing, and
	// fetches nothing until re-enabled.
	Disabled bool

	// KeepValueOnChange keeps showing the previous value after a key
	// change until the new fetch resolves, instead of resetting to
	// Loading. Stale-while-revalidate, opt-in.
	KeepValueOnChange bool

	// ResetOnDisabled makes a disabled binding report Loading instead
	// of Missing.
	ResetOnDisabled bool
}

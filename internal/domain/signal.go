package domain

// Signal is the binary trend state derived from the CDC Action Zone
// indicator. SignalUnknown only appears before the first evaluation.
type Signal string

const (
	SignalUp      Signal = "up"
	SignalDown    Signal = "down"
	SignalUnknown Signal = "unknown"
)

func (s Signal) String() string {
	return string(s)
}

// SignalResult carries the computed signal together with diagnostic fields.
// Err is a tag, not an error value: signal computation degrades to
// SignalDown instead of failing the caller.
type SignalResult struct {
	Signal Signal
	// FastEMA and SlowEMA are the last-bar EMA values used for the decision.
	FastEMA float64
	SlowEMA float64
	// Err names the failure that forced a conservative downgrade, empty on
	// clean evaluation.
	Err string
}

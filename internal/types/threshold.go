package types

// ThresholdKind selects the increment semantics of a threshold.
type ThresholdKind string

const (
	// ThresholdKindCount counts qualifying events (one per event,
	// regardless of the event's amount).
	ThresholdKindCount ThresholdKind = "count"
	// ThresholdKindValue sums coinValue × amount across all gifts.
	ThresholdKindValue ThresholdKind = "value"
)

// AggregateKey is the single reserved key for the value-kind threshold.
const AggregateKey = "*total*"

// ThresholdConfig binds a counter to an action. Key is a canonical gift
// name for count-kind, or AggregateKey for the value-kind total.
type ThresholdConfig struct {
	Key    string           `json:"key"`
	Kind   ThresholdKind    `json:"kind"`
	Target int              `json:"target"`
	Action ActionDescriptor `json:"action"`
}

// ThresholdStatus is a read-only snapshot of one counter, for the
// observability sink.
type ThresholdStatus struct {
	Key               string `json:"key"`
	Current           int    `json:"current"`
	Target            int    `json:"target"`
	ActionDescription string `json:"actionDescription"`
}

package types

// ActionKind distinguishes device operations from user scripts.
type ActionKind string

const (
	ActionKindOperation ActionKind = "operation"
	ActionKindScript    ActionKind = "script"
)

// ActionParam is one ordered key/value parameter of an action. Parameter
// semantics depend on the action itself.
type ActionParam struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// ActionDescriptor describes a configured action to run when a gift
// arrives or a threshold fires.
type ActionDescriptor struct {
	Kind        ActionKind    `json:"kind"`
	Name        string        `json:"name"`
	Params      []ActionParam `json:"params,omitempty"`
	Description string        `json:"description,omitempty"`
}

// Param returns the value for key, if present.
func (a ActionDescriptor) Param(key string) (string, bool) {
	for _, p := range a.Params {
		if p.Key == key {
			return p.Value, true
		}
	}
	return "", false
}

// FirstParam returns the first parameter value, if any.
func (a ActionDescriptor) FirstParam() (string, bool) {
	if len(a.Params) == 0 {
		return "", false
	}
	return a.Params[0].Value, true
}

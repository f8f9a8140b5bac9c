package events

import (
	"encoding/json"
	"fmt"
)

// Payload is the typed data of an event. The set of payload types is closed.
type Payload interface {
	isPayload()
}

// Change records a value going from OldValue to NewValue. Transfers use the
// human-readable holder labels.
type Change struct {
	OldValue string `json:"old_value"`
	NewValue string `json:"new_value"`
}

// BatchChange is a Change whose subject joined a batch with the listed
// amendements.
type BatchChange struct {
	OldValue string `json:"old_value"`
	NewValue string `json:"new_value"`
	Nums     []int  `json:"amendements_nums"`
}

type Count struct {
	Count int `json:"count"`
}

// Flagged lists records an import could not place, for manual review.
type Flagged struct {
	Items []string `json:"items"`
}

type Failure struct {
	Attempts int    `json:"attempts"`
	Error    string `json:"error"`
}

func (Change) isPayload()      {}
func (BatchChange) isPayload() {}
func (Count) isPayload()       {}
func (Flagged) isPayload()     {}
func (Failure) isPayload()     {}

func decodeAs[T Payload](raw []byte) (Payload, error) {
	var p T
	if len(raw) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return p, nil
}

func is[T Payload](p Payload) bool {
	_, ok := p.(T)
	return ok
}

// EncodePayload serializes the payload for storage.
func EncodePayload(p Payload) ([]byte, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return raw, nil
}

// DecodePayload reads a stored payload back into the type registered for kind.
func DecodePayload(kind Kind, raw []byte) (Payload, error) {
	def, ok := definitions[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	p, err := def.decode(raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", kind, err)
	}
	return p, nil
}

// Values returns the old and new values carried by value-change payloads.
func Values(p Payload) (oldValue, newValue string) {
	switch v := p.(type) {
	case Change:
		return v.OldValue, v.NewValue
	case BatchChange:
		return v.OldValue, v.NewValue
	}
	return "", ""
}

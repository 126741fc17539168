package push

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"
)

// Envelope is the unit carried on the push channel.
type Envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEnvelope marshals data into an envelope stamped with the current time.
func NewEnvelope(eventType string, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Envelope{Type: eventType, Data: raw, Timestamp: time.Now().UTC()}, nil
}

// Decode unmarshals the payload into target.
func (e Envelope) Decode(target any) error {
	if len(e.Data) == 0 {
		return errors.New("empty payload")
	}
	return json.Unmarshal(e.Data, target)
}

func parseEnvelope(raw []byte) (Envelope, error) {
	var envelope Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return Envelope{}, err
	}
	if strings.TrimSpace(envelope.Type) == "" {
		return Envelope{}, errors.New("missing type")
	}
	return envelope, nil
}

type Handler interface {
	HandleEvent(Envelope)
}

type HandlerFunc func(Envelope)

func (f HandlerFunc) HandleEvent(e Envelope) {
	f(e)
}

// sameHandler reports whether two handlers are the identical registration.
// Only comparable dynamic types can be identical; func-backed handlers are
// always distinct.
func sameHandler(a, b Handler) bool {
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || ta == nil || !ta.Comparable() {
		return false
	}
	return a == b
}

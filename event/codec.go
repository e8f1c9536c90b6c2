package event

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// Codec encodes envelopes for the broker.
type Codec interface {
	Name() string
	Encode(Envelope) ([]byte, error)
	Decode([]byte) (Envelope, error)
}

// CodecByName returns the codec registered under name ("json" or "cbor").
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSON{}, nil
	case "cbor":
		return CBOR{}, nil
	default:
		return nil, fmt.Errorf("unknown event codec %q", name)
	}
}

// JSON is the default, human-readable codec.
type JSON struct{}

func (JSON) Name() string { return "json" }

func (JSON) Encode(e Envelope) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(e)
}

func (JSON) Decode(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	return e, e.Validate()
}

// encMode uses Core Deterministic Encoding: the same envelope always yields
// identical bytes.
var encMode cbor.EncMode

// decMode ignores unknown fields for forward compatibility.
var decMode cbor.DecMode

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("event: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("event: CBOR decoder initialization failed: " + err.Error())
	}
}

// cborEnvelope carries the JSON payload as a byte string.
type cborEnvelope struct {
	EventID       string `cbor:"event_id"`
	EventType     string `cbor:"event_type"`
	TenantID      string `cbor:"tenant_id"`
	OccurredAt    string `cbor:"occurred_at"`
	SourceService string `cbor:"source_service,omitempty"`
	SchemaVersion int    `cbor:"schema_version"`
	Payload       []byte `cbor:"payload"`
}

// CBOR is the compact binary codec.
type CBOR struct{}

func (CBOR) Name() string { return "cbor" }

func (CBOR) Encode(e Envelope) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	occurred, err := e.OccurredAt.MarshalText()
	if err != nil {
		return nil, err
	}
	return encMode.Marshal(cborEnvelope{
		EventID:       e.EventID,
		EventType:     e.EventType,
		TenantID:      e.TenantID,
		OccurredAt:    string(occurred),
		SourceService: e.SourceService,
		SchemaVersion: e.SchemaVersion,
		Payload:       e.Payload,
	})
}

func (CBOR) Decode(data []byte) (Envelope, error) {
	var w cborEnvelope
	if err := decMode.Unmarshal(data, &w); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	e := Envelope{
		EventID:       w.EventID,
		EventType:     w.EventType,
		TenantID:      w.TenantID,
		SourceService: w.SourceService,
		SchemaVersion: w.SchemaVersion,
		Payload:       w.Payload,
	}
	if err := e.OccurredAt.UnmarshalText([]byte(w.OccurredAt)); err != nil {
		return Envelope{}, fmt.Errorf("%w: occurred_at: %v", ErrInvalidEnvelope, err)
	}
	return e, e.Validate()
}

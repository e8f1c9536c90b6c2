package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// SchemaVersion is the envelope schema written by this module.
const SchemaVersion = 1

// ErrInvalidEnvelope marks an envelope that can never be processed. Consumers
// dead-letter it instead of retrying.
var ErrInvalidEnvelope = errors.New("invalid event envelope")

// Envelope is the broker payload. Payload holds the JSON-encoded fact.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	TenantID      string          `json:"tenant_id"`
	OccurredAt    time.Time       `json:"occurred_at"`
	SourceService string          `json:"source_service,omitempty"`
	SchemaVersion int             `json:"schema_version"`
	Payload       json.RawMessage `json:"payload"`
}

// Validate checks the fields every consumer relies on.
func (e Envelope) Validate() error {
	switch {
	case strings.TrimSpace(e.EventID) == "":
		return fmt.Errorf("%w: missing event_id", ErrInvalidEnvelope)
	case strings.TrimSpace(e.EventType) == "":
		return fmt.Errorf("%w: missing event_type", ErrInvalidEnvelope)
	case strings.TrimSpace(e.TenantID) == "":
		return fmt.Errorf("%w: missing tenant_id", ErrInvalidEnvelope)
	case e.OccurredAt.IsZero():
		return fmt.Errorf("%w: missing occurred_at", ErrInvalidEnvelope)
	case e.SchemaVersion < 1 || e.SchemaVersion > SchemaVersion:
		return fmt.Errorf("%w: unsupported schema_version %d", ErrInvalidEnvelope, e.SchemaVersion)
	case len(e.Payload) == 0 || !json.Valid(e.Payload):
		return fmt.Errorf("%w: payload is not valid JSON", ErrInvalidEnvelope)
	}
	return nil
}

// DecodePayload unmarshals the payload into v. Failures wrap
// ErrInvalidEnvelope.
func (e Envelope) DecodePayload(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("%w: payload: %v", ErrInvalidEnvelope, err)
	}
	return nil
}

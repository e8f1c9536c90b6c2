package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MrEthical07/goIdentity/store"
	"github.com/MrEthical07/goIdentity/tenant"
)

// ErrInvalidPayload is returned by Append for a payload that is not JSON.
var ErrInvalidPayload = errors.New("outbox: payload is not valid JSON")

// Append stages an integration event in the caller's transaction. The record
// becomes visible to the dispatcher only when tx commits, together with the
// mutation it describes. payload is JSON-encoded unless it already is
// json.RawMessage or []byte.
func Append(ctx context.Context, tx *store.Tx, tc tenant.Context, eventType string, payload any) (string, error) {
	if tx == nil {
		return "", errors.New("outbox: append requires a transaction")
	}
	if strings.TrimSpace(eventType) == "" {
		return "", errors.New("outbox: event type is required")
	}

	raw, err := encodePayload(payload)
	if err != nil {
		return "", err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("outbox: event id: %w", err)
	}

	rec := &store.OutboxRecord{
		EventID:   id.String(),
		EventType: eventType,
		Payload:   raw,
		CreatedAt: time.Now().UTC(),
	}
	if err := tx.Scoped(tc).AppendOutbox(ctx, rec); err != nil {
		return "", fmt.Errorf("outbox: append %s: %w", eventType, err)
	}
	return rec.EventID, nil
}

func encodePayload(payload any) ([]byte, error) {
	var raw []byte
	switch p := payload.(type) {
	case nil:
		return nil, ErrInvalidPayload
	case json.RawMessage:
		raw = p
	case []byte:
		raw = p
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		raw = b
	}
	if !json.Valid(raw) {
		return nil, ErrInvalidPayload
	}
	return raw, nil
}

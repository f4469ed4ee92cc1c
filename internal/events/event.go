package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/roach88/paywatch/internal/canonical"
)

// Event is one emitted notification.
type Event struct {
	ID        string         `json:"id"`
	Seq       int64          `json:"seq"`
	Name      string         `json:"name"`
	PaymentID string         `json:"payment_id,omitempty"`
	OrderID   string         `json:"order_id,omitempty"`
	At        time.Time      `json:"at"`
	Payload   map[string]any `json:"payload"`
}

// newEvent builds an event and derives its id from name, seq and
// payload. Payloads the canonical encoder rejects get a random id.
func newEvent(seq int64, name string, at time.Time, payload map[string]any) (Event, error) {
	e := Event{
		Seq:     seq,
		Name:    name,
		At:      at.UTC(),
		Payload: payload,
	}
	if v, ok := payload["payment_id"].(string); ok {
		e.PaymentID = v
	}
	if v, ok := payload["order_id"].(string); ok {
		e.OrderID = v
	}

	id, err := canonical.ID(canonical.DomainEvent, map[string]any{
		"name":    name,
		"seq":     seq,
		"payload": payload,
	})
	if err != nil {
		e.ID = uuid.Must(uuid.NewV7()).String()
		return e, err
	}
	e.ID = id
	return e, nil
}

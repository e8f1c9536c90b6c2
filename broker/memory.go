package broker

import (
	"context"
	"fmt"
	"strconv"
	"sync"
)

// DeadLetter is a message parked by a subscriber.
type DeadLetter struct {
	Delivery Delivery
	Reason   string
}

type memoryEntry struct {
	delivery Delivery
	inFlight bool
	handed   int
}

// Memory is an in-process broker. One Memory serves as both publisher and the
// subscriber of a single consumer group.
type Memory struct {
	mu        sync.Mutex
	next      uint64
	entries   []*memoryEntry
	published []Message
	dead      []DeadLetter
	failNext  int
	failErr   error
	closed    bool
}

// NewMemory returns an empty in-process broker.
func NewMemory() *Memory {
	return &Memory{}
}

// FailNext makes the next n Publish calls fail with err (ErrUnavailable when
// err is nil).
func (m *Memory) FailNext(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		err = ErrUnavailable
	}
	m.failNext = n
	m.failErr = err
}

// Publish stores msg unless a failure was injected.
func (m *Memory) Publish(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if m.failNext > 0 {
		m.failNext--
		return fmt.Errorf("publish %s: %w", msg.EventID, m.failErr)
	}

	m.next++
	body := append([]byte(nil), msg.Body...)
	msg.Body = body
	m.published = append(m.published, msg)
	m.entries = append(m.entries, &memoryEntry{
		delivery: Delivery{Message: msg, ID: strconv.FormatUint(m.next, 10)},
	})
	return nil
}

// Receive hands out up to max deliveries that are not in flight. It never
// blocks.
func (m *Memory) Receive(ctx context.Context, max int) ([]Delivery, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if max <= 0 {
		max = 1
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}

	var out []Delivery
	for _, e := range m.entries {
		if len(out) == max {
			break
		}
		if e.inFlight {
			continue
		}
		e.inFlight = true
		d := e.delivery
		d.Redelivered = e.handed > 0
		e.handed++
		out = append(out, d)
	}
	return out, nil
}

// Ack removes the delivery.
func (m *Memory) Ack(_ context.Context, d Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remove(d.ID)
	return nil
}

// Nack returns the delivery to the queue at its original position.
func (m *Memory) Nack(_ context.Context, d Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.delivery.ID == d.ID {
			e.inFlight = false
			return nil
		}
	}
	return nil
}

// DeadLetter parks the delivery and removes it from the queue.
func (m *Memory) DeadLetter(_ context.Context, d Delivery, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.remove(d.ID) {
		m.dead = append(m.dead, DeadLetter{Delivery: d, Reason: reason})
	}
	return nil
}

// Redeliver puts msg on the queue again as a second copy, the way a broker
// does after losing an acknowledgement.
func (m *Memory) Redeliver(msg Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	m.entries = append(m.entries, &memoryEntry{
		delivery: Delivery{Message: msg, ID: strconv.FormatUint(m.next, 10)},
		handed:   1,
	})
}

// Published returns every acknowledged publish in order.
func (m *Memory) Published() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.published...)
}

// DeadLetters returns the parked deliveries.
func (m *Memory) DeadLetters() []DeadLetter {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]DeadLetter(nil), m.dead...)
}

// Pending reports queued deliveries, in flight or not.
func (m *Memory) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Close makes further calls fail with ErrClosed.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *Memory) remove(id string) bool {
	for i, e := range m.entries {
		if e.delivery.ID == id {
			m.entries = append(m.entries[:i], m.entries[i+1:]...)
			return true
		}
	}
	return false
}

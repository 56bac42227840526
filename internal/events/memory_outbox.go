package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryRecord struct {
	entry     OutboxEntry
	delivered bool
	lastError string
}

// MemoryOutbox is an in-process Source and Publisher for tests and local runs.
type MemoryOutbox struct {
	mu          sync.Mutex
	records     []*memoryRecord
	maxAttempts int
	now         func() time.Time
}

func NewMemoryOutbox() *MemoryOutbox {
	return &MemoryOutbox{maxAttempts: DefaultMaxAttempts, now: time.Now}
}

func (m *MemoryOutbox) WithMaxAttempts(n int) *MemoryOutbox {
	if n > 0 {
		m.maxAttempts = n
	}
	return m
}

func (m *MemoryOutbox) Publish(ctx context.Context, tenantID, aggregate string, evt CanonicalEvent, opts ...EnvelopeOption) (uuid.UUID, error) {
	env, err := NewEnvelope(aggregate, evt, opts...)
	if err != nil {
		return uuid.Nil, err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return uuid.Nil, fmt.Errorf("events: marshal envelope: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, &memoryRecord{entry: OutboxEntry{
		ID:        env.EventID,
		TenantID:  tenantID,
		Type:      env.EventType,
		Payload:   data,
		CreatedAt: m.now().UTC(),
	}})
	return env.EventID, nil
}

func (m *MemoryOutbox) FetchPending(ctx context.Context, limit int32) ([]OutboxEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []OutboxEntry
	for _, rec := range m.records {
		if int32(len(out)) >= limit {
			break
		}
		if rec.delivered || rec.entry.Attempts >= m.maxAttempts {
			continue
		}
		out = append(out, rec.entry)
	}
	return out, nil
}

func (m *MemoryOutbox) MarkDelivered(ctx context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.records {
		if rec.entry.ID == id && !rec.delivered {
			rec.delivered = true
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryOutbox) MarkFailed(ctx context.Context, id uuid.UUID, cause error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.records {
		if rec.entry.ID == id && !rec.delivered {
			rec.entry.Attempts++
			if cause != nil {
				rec.lastError = cause.Error()
			}
		}
	}
	return nil
}

// Entries returns every entry of the given type, delivered or not.
// An empty type returns everything.
func (m *MemoryOutbox) Entries(eventType string) []OutboxEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []OutboxEntry
	for _, rec := range m.records {
		if eventType == "" || rec.entry.Type == eventType {
			out = append(out, rec.entry)
		}
	}
	return out
}

package audit

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chain(t *testing.T, n int) []Event {
	t.Helper()
	events := make([]Event, n)
	prev := ""
	for i := range events {
		e := Event{
			ID:        uuid.New(),
			Sequence:  uint64(i + 1),
			Timestamp: time.Date(2024, 1, 15, 8, 0, i, 0, time.UTC),
			EventType: EventValidationComplete,
			Actor:     "test",
			Status:    StatusSuccess,
			Details:   map[string]any{"errors": 0, "fields": []string{"age"}},
			PrevHash:  prev,
		}
		h, err := e.ComputeHash()
		require.NoError(t, err)
		e.Hash = h
		prev = h
		events[i] = e
	}
	return events
}

func TestEvent_ComputeHash_IgnoresHash(t *testing.T) {
	e := chain(t, 1)[0]
	again, err := e.ComputeHash()
	require.NoError(t, err)
	assert.Equal(t, e.Hash, again)
	assert.Len(t, e.Hash, 64)
}

func TestEvent_ComputeHash_KeyOrderIndependent(t *testing.T) {
	a := Event{ID: uuid.Nil, EventType: EventPHIDetected, Status: StatusWarning,
		Details: map[string]any{"b": 1, "a": "x"}}
	b := a
	b.Details = map[string]any{"a": "x", "b": 1}

	ha, err := a.ComputeHash()
	require.NoError(t, err)
	hb, err := b.ComputeHash()
	require.NoError(t, err)
	assert.Equal(t, ha, hb)
}

func TestVerify(t *testing.T) {
	events := chain(t, 5)
	require.NoError(t, Verify(events))
	require.NoError(t, Verify(events[2:]), "a suffix verifies on its own")
	require.NoError(t, Verify(nil))
}

func TestVerify_DetectsTampering(t *testing.T) {
	tests := []struct {
		name   string
		mutate func([]Event) []Event
	}{
		{"altered status", func(es []Event) []Event { es[2].Status = StatusFailure; return es }},
		{"altered details", func(es []Event) []Event { es[1].Details = map[string]any{"errors": 3}; return es }},
		{"removed event", func(es []Event) []Event { return append(es[:2], es[3:]...) }},
		{"reordered", func(es []Event) []Event { es[1], es[2] = es[2], es[1]; return es }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Verify(tt.mutate(chain(t, 5)))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrChainBroken))
		})
	}
}

func TestReadJSONLines_RoundTrip(t *testing.T) {
	events := chain(t, 3)
	var data []byte
	for _, e := range events {
		line, err := json.Marshal(e)
		require.NoError(t, err)
		data = append(append(data, line...), '\n')
	}

	got, err := ReadJSONLines(data)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, events[1].ID, got[1].ID)
	assert.NoError(t, Verify(got), "decoded events must still verify")
}

func TestEvent_JSONShape(t *testing.T) {
	e := Event{
		ID:         uuid.MustParse("8f14e45f-ceea-467f-a9f0-6f6c1f1b0b1e"),
		Sequence:   7,
		Timestamp:  time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC),
		EventType:  EventValidationStart,
		SourceType: "csv",
		SourcePath: "in.csv",
		Actor:      "phigate.Validator",
		Status:     StatusStarted,
	}
	raw, err := json.Marshal(e)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	assert.Equal(t, "2024-01-15T08:00:00Z", m["timestamp"])
	assert.Equal(t, "validation_start", m["event_type"])
	assert.Equal(t, "csv", m["source_type"])
	assert.NotContains(t, m, "hash")
	assert.NotContains(t, m, "details")
}

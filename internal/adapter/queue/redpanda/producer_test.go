package redpanda

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPairRecord_Shape(t *testing.T) {
	event := testEvent()

	rec, err := pairRecord("conversation-messages", event)
	require.NoError(t, err)

	assert.Equal(t, "conversation-messages", rec.Topic)
	assert.Equal(t, []byte("conv-1"), rec.Key, "records are keyed by conversation so a conversation stays on one partition")

	var decoded struct {
		RequestID string `json:"request_id"`
		User      struct {
			Content string `json:"content"`
		} `json:"user"`
		Agent struct {
			WorkerKind string `json:"worker_kind"`
		} `json:"agent"`
	}
	require.NoError(t, json.Unmarshal(rec.Value, &decoded))
	assert.Equal(t, "req-1", decoded.RequestID)
	assert.Equal(t, "please fact check this", decoded.User.Content)
	assert.Equal(t, "factchecker", decoded.Agent.WorkerKind)

	headers := map[string]string{}
	for _, h := range rec.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, "req-1", headers["request_id"])
	assert.Equal(t, "proj-1", headers["project_id"])
	assert.Equal(t, "user-1", headers["user_id"])
}

func TestNewProducer_RequiresBrokers(t *testing.T) {
	_, err := NewProducer(nil, "")
	require.Error(t, err)
}

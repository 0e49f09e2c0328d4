package notify

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMessage(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	s := RunSummary{RunID: "abc", Channels: 12, Passed: 10, BudgetExceeded: true}

	msg, err := NewMessage(s, now)
	require.NoError(t, err)
	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, amqp.Persistent, msg.DeliveryMode)
	assert.Equal(t, "abc", msg.MessageId)
	assert.Equal(t, EventRunCompleted, msg.Type)

	var body RunMessage
	require.NoError(t, json.Unmarshal(msg.Body, &body))
	assert.Equal(t, EventRunCompleted, body.Event)
	assert.Equal(t, 12, body.Run.Channels)
	assert.True(t, body.Run.BudgetExceeded)
	assert.True(t, body.Timestamp.Equal(now))
}

func TestNewMessage_failedRun(t *testing.T) {
	msg, err := NewMessage(RunSummary{RunID: "x", Error: errors.New("disk full").Error()}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, EventRunFailed, msg.Type)
}

func TestNop(t *testing.T) {
	var n Notifier = Nop{}
	assert.NoError(t, n.Notify(t.Context(), RunSummary{}))
	assert.NoError(t, n.Close())
}

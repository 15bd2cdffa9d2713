package realtime

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pactguard/pactguard/internal/enforcement"
)

// newTestClient attaches a client directly to the hub, bypassing the
// websocket upgrade. The pumps are never started, so tests drain Send
// themselves.
func newTestClient(t *testing.T, h *Hub, buffer int, topics ...string) *Client {
	t.Helper()

	client := &Client{
		ID:     uuid.NewString(),
		UserID: "test",
		Hub:    h,
		Send:   make(chan []byte, buffer),
		Topics: make(map[string]bool),
	}
	for _, topic := range topics {
		client.Topics[topic] = true
	}

	h.mutex.Lock()
	h.clients[client] = true
	h.mutex.Unlock()

	return client
}

func TestBroadcastToTopic(t *testing.T) {
	hub := NewHub(zap.NewNop())

	subscriber := newTestClient(t, hub, 4, TopicViolations)
	bystander := newTestClient(t, hub, 4)

	violation := enforcement.ContractViolation{
		Type:     enforcement.ViolationRateLimit,
		Severity: enforcement.SeverityHigh,
		Message:  "Rate limit exceeded",
	}
	require.NoError(t, hub.SendViolation(violation))

	select {
	case data := <-subscriber.Send:
		var msg Message
		require.NoError(t, json.Unmarshal(data, &msg))
		assert.Equal(t, MessageTypeViolation, msg.Type)
		assert.Equal(t, TopicViolations, msg.Topic)
		assert.False(t, msg.Timestamp.IsZero(), "Broadcast must stamp the message")
	default:
		t.Fatal("Subscriber did not receive the violation")
	}

	assert.Empty(t, bystander.Send, "Unsubscribed clients must not receive topic messages")
	assert.Equal(t, 2, hub.GetConnectedClients())
}

func TestSlowClientEviction(t *testing.T) {
	hub := NewHub(zap.NewNop())

	// A zero-capacity buffer with no running writePump models a client
	// that stopped draining its queue.
	slow := newTestClient(t, hub, 0, TopicViolations)

	require.NoError(t, hub.SendViolation(enforcement.ContractViolation{
		Type:    enforcement.ViolationPerformance,
		Message: "Latency SLA exceeded",
	}))

	assert.Equal(t, 0, hub.GetConnectedClients(), "Backlogged client must be evicted")

	// The client's readPump may still process inbound frames after the
	// eviction. The ack path must tolerate the closed send channel.
	assert.NotPanics(t, func() {
		slow.handleSubscription(&SubscriptionRequest{
			Type:   "subscribe",
			Topics: []string{TopicScores},
		})
	}, "Subscription ack after eviction must not panic")

	assert.False(t, slow.trySend([]byte("late")), "Sends to an evicted client must be dropped")
}

func TestCloseSendIdempotent(t *testing.T) {
	hub := NewHub(zap.NewNop())
	client := newTestClient(t, hub, 1)

	assert.NotPanics(t, func() {
		client.closeSend()
		client.closeSend()
	}, "Repeated closes must be a no-op")
}

func TestHandleSubscription(t *testing.T) {
	hub := NewHub(zap.NewNop())
	client := newTestClient(t, hub, 4)

	client.handleSubscription(&SubscriptionRequest{
		Type:   "subscribe",
		Topics: []string{TopicViolations, TopicScores},
	})

	client.mutex.RLock()
	assert.True(t, client.Topics[TopicViolations])
	assert.True(t, client.Topics[TopicScores])
	client.mutex.RUnlock()

	select {
	case data := <-client.Send:
		var msg Message
		require.NoError(t, json.Unmarshal(data, &msg))
		assert.Equal(t, MessageTypeSubscribe, msg.Type)
		assert.Equal(t, client.ID, msg.ClientID)
	default:
		t.Fatal("Subscription ack was not delivered")
	}

	client.handleSubscription(&SubscriptionRequest{
		Type:   "unsubscribe",
		Topics: []string{TopicScores},
	})

	client.mutex.RLock()
	assert.True(t, client.Topics[TopicViolations], "Other subscriptions must survive an unsubscribe")
	assert.False(t, client.Topics[TopicScores])
	client.mutex.RUnlock()
}

package stream

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	channelPrefix  = "walk:"
	channelSuffix  = ":trail"
	channelPattern = channelPrefix + "*" + channelSuffix
)

// Hub fans live trail updates out to viewers of a walk. With redis the
// update travels through pub/sub so viewers on every instance receive it
// exactly once; without redis delivery stays in-process.
type Hub struct {
	redis   *redis.Client
	clients map[string]map[*Client]struct{}
	mu      sync.RWMutex
	ready   chan struct{}
	cancel  context.CancelFunc
}

type Client struct {
	SessionID string
	Send      chan []byte
}

func NewHub(redisClient *redis.Client) *Hub {
	h := &Hub{
		redis:   redisClient,
		clients: map[string]map[*Client]struct{}{},
		ready:   make(chan struct{}),
	}

	if redisClient != nil {
		ctx, cancel := context.WithCancel(context.Background())
		h.cancel = cancel
		go h.subscribeRedis(ctx)
	} else {
		close(h.ready)
	}
	return h
}

// Ready is closed once the hub can receive cross-instance updates.
func (h *Hub) Ready() <-chan struct{} {
	return h.ready
}

func (h *Hub) Close() {
	if h.cancel != nil {
		h.cancel()
	}
}

func (h *Hub) Register(sessionID string) *Client {
	client := &Client{
		SessionID: sessionID,
		Send:      make(chan []byte, 64),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[sessionID] == nil {
		h.clients[sessionID] = map[*Client]struct{}{}
	}
	h.clients[sessionID][client] = struct{}{}
	return client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sessionClients, ok := h.clients[client.SessionID]; ok {
		delete(sessionClients, client)
		if len(sessionClients) == 0 {
			delete(h.clients, client.SessionID)
		}
	}
	close(client.Send)
}

// Publish encodes v as JSON and broadcasts it to viewers of sessionID.
func (h *Hub) Publish(sessionID string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		logrus.WithError(err).WithField("session_id", sessionID).Error("stream encode failed")
		return
	}
	h.Broadcast(sessionID, payload)
}

func (h *Hub) Broadcast(sessionID string, payload []byte) {
	if h.redis == nil {
		h.deliver(sessionID, payload)
		return
	}
	if err := h.redis.Publish(context.Background(), redisChannel(sessionID), payload).Err(); err != nil {
		logrus.WithError(err).WithField("session_id", sessionID).Warn("redis publish failed, delivering locally")
		h.deliver(sessionID, payload)
	}
}

// deliver never blocks: slow viewers miss updates rather than stall ingestion.
func (h *Hub) deliver(sessionID string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients[sessionID] {
		select {
		case client.Send <- payload:
		default:
		}
	}
}

func (h *Hub) subscribeRedis(ctx context.Context) {
	pubsub := h.redis.PSubscribe(ctx, channelPattern)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		logrus.WithError(err).Warn("redis subscribe failed")
	}
	close(h.ready)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			sessionID := sessionIDFromChannel(msg.Channel)
			if sessionID == "" {
				continue
			}
			h.deliver(sessionID, []byte(msg.Payload))
		}
	}
}

func redisChannel(sessionID string) string {
	return channelPrefix + sessionID + channelSuffix
}

func sessionIDFromChannel(ch string) string {
	if !strings.HasPrefix(ch, channelPrefix) || !strings.HasSuffix(ch, channelSuffix) {
		return ""
	}
	if len(ch) <= len(channelPrefix)+len(channelSuffix) {
		return ""
	}
	return ch[len(channelPrefix) : len(ch)-len(channelSuffix)]
}

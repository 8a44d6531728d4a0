// Package stream fans walking state out to websocket clients. With Redis
// configured, every message goes through pub/sub so all API instances see it.
package stream

import (
	"context"
	"strings"
	"sync"

	"backend-walklog/internal/logging"

	"github.com/redis/go-redis/v9"
)

const (
	channelPrefix = "walking:"
	channelSuffix = ":broadcast"
)

type Hub struct {
	redis   *redis.Client
	pubsub  *redis.PubSub
	clients map[string]map[*Client]struct{}
	mu      sync.RWMutex
	done    chan struct{}
}

type Client struct {
	Channel string
	Send    chan []byte
}

func NewHub(redisClient *redis.Client) *Hub {
	h := &Hub{
		clients: map[string]map[*Client]struct{}{},
		done:    make(chan struct{}),
	}

	if redisClient != nil {
		ctx := context.Background()
		pubsub := redisClient.PSubscribe(ctx, channelPrefix+"*"+channelSuffix)
		if _, err := pubsub.Receive(ctx); err != nil {
			logging.Warn().Err(err).Msg("redis subscribe failed, stream stays local")
			_ = pubsub.Close()
		} else {
			h.redis = redisClient
			h.pubsub = pubsub
			go h.subscribeRedis()
		}
	}
	if h.pubsub == nil {
		close(h.done)
	}
	return h
}

func (h *Hub) Register(channel string) *Client {
	client := &Client{
		Channel: channel,
		Send:    make(chan []byte, 64),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[channel] == nil {
		h.clients[channel] = map[*Client]struct{}{}
	}
	h.clients[channel][client] = struct{}{}
	return client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if channelClients, ok := h.clients[client.Channel]; ok {
		if _, registered := channelClients[client]; !registered {
			return
		}
		delete(channelClients, client)
		if len(channelClients) == 0 {
			delete(h.clients, client.Channel)
		}
		close(client.Send)
	}
}

// Broadcast never blocks: slow clients miss messages rather than stall the
// walking machine.
func (h *Hub) Broadcast(channel string, payload []byte) {
	if h.redis != nil {
		err := h.redis.Publish(context.Background(), redisChannel(channel), payload).Err()
		if err == nil {
			return
		}
		logging.Warn().Err(err).Str("channel", channel).Msg("redis publish failed, delivering locally")
	}
	h.deliver(channel, payload)
}

func (h *Hub) deliver(channel string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients[channel] {
		select {
		case client.Send <- payload:
		default:
		}
	}
}

func (h *Hub) subscribeRedis() {
	defer close(h.done)
	for msg := range h.pubsub.Channel() {
		channel := channelFromRedis(msg.Channel)
		if channel == "" {
			continue
		}
		h.deliver(channel, []byte(msg.Payload))
	}
}

// Close stops the Redis subscription.
func (h *Hub) Close() error {
	if h.pubsub == nil {
		return nil
	}
	err := h.pubsub.Close()
	<-h.done
	return err
}

func redisChannel(channel string) string {
	return channelPrefix + channel + channelSuffix
}

func channelFromRedis(ch string) string {
	// walking:{channel}:broadcast
	if len(ch) <= len(channelPrefix)+len(channelSuffix) ||
		!strings.HasPrefix(ch, channelPrefix) || !strings.HasSuffix(ch, channelSuffix) {
		return ""
	}
	return ch[len(channelPrefix) : len(ch)-len(channelSuffix)]
}

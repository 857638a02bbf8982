package stream

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	channelPattern = "tracking:*:broadcast"
	outboxSize     = 256
	publishTimeout = 2 * time.Second
)

type frame struct {
	topic   string
	payload []byte
}

// Hub fans live frames out to observer connections. With Redis configured,
// frames travel through pub/sub so observers attached to other processes see
// them too.
type Hub struct {
	redis   *redis.Client
	pubsub  *redis.PubSub
	clients map[string]map[*Client]struct{}
	mu      sync.RWMutex

	// Publishing runs on its own goroutine so Broadcast never waits on Redis.
	publish   func(ctx context.Context, channel string, payload []byte) error
	outbox    chan frame
	stop      chan struct{}
	closeOnce sync.Once
}

type Client struct {
	Topic string
	Send  chan []byte
}

func NewHub(redisClient *redis.Client) *Hub {
	h := &Hub{
		clients: map[string]map[*Client]struct{}{},
	}

	if redisClient != nil {
		ctx := context.Background()
		pubsub := redisClient.PSubscribe(ctx, channelPattern)
		// wait for the subscription so nothing published right after is missed
		if _, err := pubsub.Receive(ctx); err != nil {
			log.Printf("redis subscribe error, hub stays local: %v", err)
			_ = pubsub.Close()
		} else {
			h.redis = redisClient
			h.pubsub = pubsub
			h.publish = func(ctx context.Context, channel string, payload []byte) error {
				return redisClient.Publish(ctx, channel, payload).Err()
			}
			h.outbox = make(chan frame, outboxSize)
			h.stop = make(chan struct{})
			go h.forwardRedis(pubsub)
			go h.publishLoop()
		}
	}
	return h
}

func (h *Hub) Register(topic string) *Client {
	client := &Client{
		Topic: topic,
		Send:  make(chan []byte, 64),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[topic] == nil {
		h.clients[topic] = map[*Client]struct{}{}
	}
	h.clients[topic][client] = struct{}{}
	return client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if topicClients, ok := h.clients[client.Topic]; ok {
		if _, registered := topicClients[client]; !registered {
			return
		}
		delete(topicClients, client)
		if len(topicClients) == 0 {
			delete(h.clients, client.Topic)
		}
		close(client.Send)
	}
}

// Broadcast delivers payload to every observer of topic. It never blocks:
// slow observers miss frames, and with Redis configured a full outbox drops
// the frame.
func (h *Hub) Broadcast(topic string, payload []byte) {
	if h.outbox != nil {
		select {
		case h.outbox <- frame{topic: topic, payload: payload}:
		default:
			log.Printf("stream: outbox full, frame for %s dropped", topic)
		}
		return
	}
	h.deliver(topic, payload)
}

// Close stops publishing to and forwarding from Redis.
func (h *Hub) Close() error {
	if h.pubsub == nil {
		return nil
	}
	h.closeOnce.Do(func() { close(h.stop) })
	return h.pubsub.Close()
}

// publishLoop sends queued frames to Redis in order. A frame Redis refuses
// or times out on is delivered to local observers instead.
func (h *Hub) publishLoop() {
	for {
		select {
		case <-h.stop:
			return
		case f := <-h.outbox:
			ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
			err := h.publish(ctx, redisChannel(f.topic), f.payload)
			cancel()
			if err != nil {
				log.Printf("redis publish error: %v", err)
				h.deliver(f.topic, f.payload)
			}
		}
	}
}

func (h *Hub) deliver(topic string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients[topic] {
		select {
		case client.Send <- payload:
		default:
		}
	}
}

func (h *Hub) forwardRedis(pubsub *redis.PubSub) {
	for msg := range pubsub.Channel() {
		topic := topicFromChannel(msg.Channel)
		if topic == "" {
			continue
		}
		h.deliver(topic, []byte(msg.Payload))
	}
}

func redisChannel(topic string) string {
	return "tracking:" + topic + ":broadcast"
}

func topicFromChannel(ch string) string {
	// tracking:{topic}:broadcast
	const prefix = "tracking:"
	const suffix = ":broadcast"
	if len(ch) <= len(prefix)+len(suffix) {
		return ""
	}
	return ch[len(prefix) : len(ch)-len(suffix)]
}

package stream

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func expectFrame(t *testing.T, ch <-chan []byte, want string) {
	t.Helper()
	select {
	case msg := <-ch:
		if string(msg) != want {
			t.Fatalf("expected %q, got %q", want, msg)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timeout waiting for %q", want)
	}
}

func TestHubBroadcast(t *testing.T) {
	hub := NewHub(nil)
	client := hub.Register("device-1")
	defer hub.Unregister(client)

	hub.Broadcast("device-1", []byte("hello"))
	hub.Broadcast("other", []byte("ignored"))
	expectFrame(t, client.Send, "hello")

	select {
	case msg := <-client.Send:
		t.Fatalf("unexpected frame %q", msg)
	default:
	}
}

func TestHubHelpers(t *testing.T) {
	ch := redisChannel("device-1:notices")
	if ch != "tracking:device-1:notices:broadcast" {
		t.Fatalf("unexpected channel %q", ch)
	}
	if topicFromChannel(ch) != "device-1:notices" {
		t.Fatalf("unexpected topic")
	}
	if topicFromChannel("bad") != "" {
		t.Fatalf("expected empty topic")
	}
}

func TestUnregisterClosesOnce(t *testing.T) {
	hub := NewHub(nil)
	client := hub.Register("device-2")
	hub.Unregister(client)
	hub.Unregister(client)
	if _, ok := <-client.Send; ok {
		t.Fatalf("expected channel closed")
	}
}

func TestHubSlowClientMissesFrames(t *testing.T) {
	hub := NewHub(nil)
	client := hub.Register("device-3")
	defer hub.Unregister(client)

	for i := 0; i < cap(client.Send)+10; i++ {
		hub.Broadcast("device-3", []byte("x"))
	}
	if len(client.Send) != cap(client.Send) {
		t.Fatalf("expected full buffer, got %d", len(client.Send))
	}
}

func TestHubRedisRoundTrip(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	hub := NewHub(client)
	defer hub.Close()
	ws := hub.Register("device-redis")
	defer hub.Unregister(ws)

	hub.Broadcast("device-redis", []byte("ping"))
	expectFrame(t, ws.Send, "ping")

	// frames published by another process arrive too
	if err := client.Publish(context.Background(), redisChannel("device-redis"), "pong").Err(); err != nil {
		t.Fatalf("publish error: %v", err)
	}
	expectFrame(t, ws.Send, "pong")
}

func TestHubRedisUnavailableStaysLocal(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	server.Close()
	defer client.Close()

	hub := NewHub(client)
	node := hub.Register("device-bad")
	defer hub.Unregister(node)

	hub.Broadcast("device-bad", []byte("ping"))
	expectFrame(t, node.Send, "ping")
}

func TestHubBroadcastDoesNotWaitOnRedis(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	hub := NewHub(client)
	defer hub.Close()
	node := hub.Register("device-slow")
	defer hub.Unregister(node)

	release := make(chan struct{})
	hub.publish = func(ctx context.Context, _ string, _ []byte) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return errors.New("redis stalled")
	}

	start := time.Now()
	for i := 0; i < 5; i++ {
		hub.Broadcast("device-slow", []byte("coord"))
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("broadcast blocked for %v", elapsed)
	}

	// once Redis gives up, frames fall back to local delivery in order
	close(release)
	for i := 0; i < 5; i++ {
		expectFrame(t, node.Send, "coord")
	}
}

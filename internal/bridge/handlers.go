package bridge

import (
	"errors"
	"log"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

const rendererQueueSize = 256

var (
	errRendererClosed  = errors.New("renderer connection closed")
	errRendererBacklog = errors.New("renderer send queue full")
)

// RegisterRoutes exposes the renderer websocket. Only one renderer is
// attached at a time; a new connection replaces the old one.
func RegisterRoutes(r fiber.Router, b *Bridge) {
	r.Get("/ws", websocket.New(func(c *websocket.Conn) {
		conn := newConnRenderer(rendererQueueSize)
		b.Attach(conn)
		defer b.Detach(conn)

		done := make(chan struct{})
		go func() {
			for msg := range conn.queue {
				if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
					break
				}
			}
			_ = c.Close()
			close(done)
		}()

		for {
			_, msg, err := c.ReadMessage()
			if err != nil {
				break
			}
			if err := b.Receive(conn, msg); err != nil {
				log.Printf("bridge: ignoring renderer message: %v", err)
			}
		}
		_ = conn.Close()
		<-done
	}))
}

// connRenderer queues frames for one websocket connection.
type connRenderer struct {
	mu     sync.Mutex
	queue  chan []byte
	closed bool
}

func newConnRenderer(size int) *connRenderer {
	return &connRenderer{queue: make(chan []byte, size)}
}

func (r *connRenderer) Send(data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return errRendererClosed
	}
	select {
	case r.queue <- data:
		return nil
	default:
		return errRendererBacklog
	}
}

func (r *connRenderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	return nil
}

// Package bridge carries the ordered JSON message protocol between the drive
// controller and the map renderer.
//
// Nothing reaches the renderer before it has sent mapReady. Messages issued
// earlier are dropped and counted, not queued. Once ready, delivery is FIFO
// in emission order.
package bridge

import (
	"encoding/json"
	"errors"
	"log"
	"sync"
)

var (
	ErrNotReady       = errors.New("map renderer not ready")
	ErrUnknownMessage = errors.New("unknown renderer message")
	ErrStaleRenderer  = errors.New("message from detached renderer")
)

// Renderer is the send side of an attached map renderer. Send must not block.
type Renderer interface {
	Send(data []byte) error
}

// Mirror receives a copy of every delivered frame. Broadcast must not block.
type Mirror interface {
	Broadcast(topic string, payload []byte)
}

type Bridge struct {
	mu        sync.Mutex
	renderer  Renderer
	ready     bool
	darkMode  bool
	dropped   uint64
	delivered uint64

	mirror Mirror
	topic  string
}

func New(mirror Mirror, topic string) *Bridge {
	return &Bridge{mirror: mirror, topic: topic}
}

// Attach makes r the current renderer. A previous renderer is closed, and
// readiness starts over for the new one.
func (b *Bridge) Attach(r Renderer) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.renderer != nil && b.renderer != r {
		closeRenderer(b.renderer)
	}
	b.renderer = r
	b.ready = false
}

// Detach ends r's lifetime if it is still the current renderer.
func (b *Bridge) Detach(r Renderer) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.renderer == r {
		b.renderer = nil
		b.ready = false
	}
}

// Receive handles one inbound frame from r.
func (b *Bridge) Receive(r Renderer, raw []byte) error {
	var msg struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return err
	}
	if msg.Type != TypeMapReady {
		return ErrUnknownMessage
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.renderer != r {
		return ErrStaleRenderer
	}
	if b.ready {
		return nil
	}
	b.ready = true
	// the theme chosen before the map finished loading is replayed once
	return b.sendLocked(ModeChange(b.darkMode))
}

// Send delivers msg if the renderer is ready, otherwise drops it.
func (b *Bridge) Send(msg Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sendLocked(msg)
}

// SetDarkMode records the theme and emits modeChange.
func (b *Bridge) SetDarkMode(dark bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.darkMode = dark
	return b.sendLocked(ModeChange(dark))
}

func (b *Bridge) DarkMode() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.darkMode
}

func (b *Bridge) Ready() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ready
}

// Stats returns how many messages were delivered and dropped so far.
func (b *Bridge) Stats() (delivered, dropped uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.delivered, b.dropped
}

func (b *Bridge) sendLocked(msg Message) error {
	if b.renderer == nil || !b.ready {
		b.dropped++
		return ErrNotReady
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := b.renderer.Send(data); err != nil {
		log.Printf("bridge: renderer send failed, detaching: %v", err)
		closeRenderer(b.renderer)
		b.renderer = nil
		b.ready = false
		b.dropped++
		return err
	}
	b.delivered++

	if b.mirror != nil {
		b.mirror.Broadcast(b.topic, data)
	}
	return nil
}

func closeRenderer(r Renderer) {
	if c, ok := r.(interface{ Close() error }); ok {
		_ = c.Close()
	}
}

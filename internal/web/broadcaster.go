package web

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cjeanneret/povfan/internal/logic/fan"
)

// Event types sent on the SSE stream.
const (
	EventStatus = "status"
	EventFrame  = "frame"
	EventDone   = "done"
)

// Message is one SSE message: an event type and its JSON payload.
type Message struct {
	Event string
	Data  string
}

// StatusEvent represents a single status message for SSE.
type StatusEvent struct {
	Time  string `json:"t"`
	Level string `json:"l,omitempty"`
	Msg   string `json:"msg"`
}

// FrameEvent is a sampled frame in a compact form for the viewer.
type FrameEvent struct {
	T      float64      `json:"t"`
	Blades []BladeEvent `json:"blades"`
}

// BladeEvent lists the placed LEDs of one blade. LEDs outside the image are
// sent with color "#000000".
type BladeEvent struct {
	Index  int       `json:"i"`
	Angle  float64   `json:"angle"`
	X      []float64 `json:"x"`
	Y      []float64 `json:"y"`
	Colors []string  `json:"c"`
}

// NewFrameEvent converts a sampled frame.
func NewFrameEvent(f fan.Frame) FrameEvent {
	evt := FrameEvent{T: f.T, Blades: make([]BladeEvent, len(f.Blades))}
	for i, b := range f.Blades {
		be := BladeEvent{
			Index:  b.Index,
			Angle:  b.Angle,
			X:      make([]float64, len(b.Positions)),
			Y:      make([]float64, len(b.Positions)),
			Colors: make([]string, len(b.Positions)),
		}
		for k, p := range b.Positions {
			c := b.Colors[k]
			be.X[k], be.Y[k] = p.X, p.Y
			be.Colors[k] = fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
		}
		evt.Blades[i] = be
	}
	return evt
}

// StatusBroadcaster distributes events to multiple SSE clients.
type StatusBroadcaster struct {
	mu      sync.RWMutex
	clients map[chan Message]struct{}
}

// NewStatusBroadcaster creates a new broadcaster.
func NewStatusBroadcaster() *StatusBroadcaster {
	return &StatusBroadcaster{
		clients: make(map[chan Message]struct{}),
	}
}

// Subscribe returns a channel that receives broadcast messages and a cleanup function.
// The caller must call the returned cleanup when done (e.g. on client disconnect).
func (b *StatusBroadcaster) Subscribe() (<-chan Message, func()) {
	ch := make(chan Message, 64)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.clients, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}

// Clients returns the number of subscribers.
func (b *StatusBroadcaster) Clients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// publish marshals v and hands it to every client.
// Slow clients may miss messages (non-blocking, buffered).
func (b *StatusBroadcaster) publish(event string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	msg := Message{Event: event, Data: string(data)}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.clients {
		select {
		case ch <- msg:
		default:
			// channel full, skip
		}
	}
}

// Broadcast sends a status message to all subscribed clients.
// Messages are sent as JSON: {"t":"...","l":"info","msg":"..."}
func (b *StatusBroadcaster) Broadcast(level, msg string) {
	b.publish(EventStatus, StatusEvent{
		Time:  time.Now().Format(time.RFC3339),
		Level: level,
		Msg:   msg,
	})
}

// BroadcastMsg is a convenience for level "info".
func (b *StatusBroadcaster) BroadcastMsg(msg string) {
	b.Broadcast("info", msg)
}

// BroadcastFrame sends a sampled frame.
func (b *StatusBroadcaster) BroadcastFrame(f fan.Frame) {
	b.publish(EventFrame, NewFrameEvent(f))
}

// BroadcastDone signals the end of a scan.
func (b *StatusBroadcaster) BroadcastDone(frames int, err error) {
	evt := struct {
		Frames int    `json:"frames"`
		Error  string `json:"error,omitempty"`
	}{Frames: frames}
	if err != nil {
		evt.Error = err.Error()
	}
	b.publish(EventDone, evt)
}

// BroadcastWriter implements io.Writer; each Write broadcasts the content to SSE clients.
func BroadcastWriter(b *StatusBroadcaster) *broadcastWriter {
	return &broadcastWriter{b: b}
}

// broadcastWriter wraps StatusBroadcaster as io.Writer for use with debug.SetOutput.
type broadcastWriter struct {
	b *StatusBroadcaster
}

func (w *broadcastWriter) Write(p []byte) (n int, err error) {
	for _, line := range strings.Split(string(p), "\n") {
		if msg := strings.TrimSpace(line); msg != "" {
			w.b.BroadcastMsg(msg)
		}
	}
	return len(p), nil
}

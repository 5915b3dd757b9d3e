package web

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/cjeanneret/povfan/internal/logic/fan"
	"github.com/cjeanneret/povfan/internal/logic/geometry"
	"github.com/cjeanneret/povfan/internal/raster"
)

func receive(t *testing.T, ch <-chan Message) Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for broadcast")
		return Message{}
	}
}

func TestBroadcaster_SubscribeAndReceive(t *testing.T) {
	b := NewStatusBroadcaster()
	ch, unsub := b.Subscribe()
	defer unsub()

	b.Broadcast("info", "hello")

	msg := receive(t, ch)
	if msg.Event != EventStatus {
		t.Errorf("event = %q, want %q", msg.Event, EventStatus)
	}
	var evt StatusEvent
	if err := json.Unmarshal([]byte(msg.Data), &evt); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if evt.Msg != "hello" || evt.Level != "info" {
		t.Errorf("event = %+v, want info/hello", evt)
	}
	if evt.Time == "" {
		t.Error("event should have a timestamp")
	}
}

func TestBroadcaster_MultipleSubscribers(t *testing.T) {
	b := NewStatusBroadcaster()
	ch1, unsub1 := b.Subscribe()
	defer unsub1()
	ch2, unsub2 := b.Subscribe()
	defer unsub2()

	if b.Clients() != 2 {
		t.Errorf("Clients() = %d, want 2", b.Clients())
	}
	b.BroadcastMsg("multi")

	for i, ch := range []<-chan Message{ch1, ch2} {
		var evt StatusEvent
		if err := json.Unmarshal([]byte(receive(t, ch).Data), &evt); err != nil {
			t.Fatalf("subscriber %d: unmarshal: %v", i, err)
		}
		if evt.Msg != "multi" {
			t.Errorf("subscriber %d: msg = %q, want \"multi\"", i, evt.Msg)
		}
	}
}

func TestBroadcaster_UnsubscribeClosesChannel(t *testing.T) {
	b := NewStatusBroadcaster()
	ch, unsub := b.Subscribe()
	unsub()
	unsub() // second call is a no-op

	if _, ok := <-ch; ok {
		t.Error("expected channel to be closed after unsubscribe")
	}
	if b.Clients() != 0 {
		t.Errorf("Clients() = %d after unsubscribe", b.Clients())
	}
	// Broadcasting after unsubscribe should not panic
	b.Broadcast("info", "after unsub")
}

func TestBroadcaster_FullChannelDropsMessage(t *testing.T) {
	b := NewStatusBroadcaster()
	ch, unsub := b.Subscribe()
	defer unsub()

	// Fill the channel buffer (64 messages), then overflow it.
	for i := 0; i < 65; i++ {
		b.Broadcast("info", "fill")
	}

	count := 0
	for len(ch) > 0 {
		<-ch
		count++
	}
	if count != 64 {
		t.Errorf("expected 64 buffered messages, got %d", count)
	}
}

func TestBroadcaster_FrameEvent(t *testing.T) {
	b := NewStatusBroadcaster()
	ch, unsub := b.Subscribe()
	defer unsub()

	frame := fan.Frame{
		T: 0.25,
		Blades: []fan.BladeSample{{
			Index:     1,
			Angle:     90,
			Positions: []geometry.Point{{X: 0, Y: 1}, {X: 0, Y: 5}},
			Colors:    []raster.RGB{{R: 255, G: 16, B: 1}, raster.Off, raster.Off},
		}},
	}
	b.BroadcastFrame(frame)

	msg := receive(t, ch)
	if msg.Event != EventFrame {
		t.Fatalf("event = %q, want %q", msg.Event, EventFrame)
	}
	var evt FrameEvent
	if err := json.Unmarshal([]byte(msg.Data), &evt); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if evt.T != 0.25 || len(evt.Blades) != 1 {
		t.Fatalf("frame = %+v", evt)
	}
	be := evt.Blades[0]
	if be.Index != 1 || be.Angle != 90 {
		t.Errorf("blade = %+v", be)
	}
	// Only placed LEDs are sent.
	if len(be.Colors) != 2 || be.Colors[0] != "#ff1001" || be.Colors[1] != "#000000" {
		t.Errorf("colors = %v", be.Colors)
	}
	if be.Y[1] != 5 {
		t.Errorf("y = %v", be.Y)
	}
}

func TestBroadcaster_Done(t *testing.T) {
	b := NewStatusBroadcaster()
	ch, unsub := b.Subscribe()
	defer unsub()

	b.BroadcastDone(417, nil)
	msg := receive(t, ch)
	if msg.Event != EventDone || msg.Data != `{"frames":417}` {
		t.Errorf("done = %+v", msg)
	}
}

func TestBroadcastWriter_Write(t *testing.T) {
	b := NewStatusBroadcaster()
	ch, unsub := b.Subscribe()
	defer unsub()

	w := BroadcastWriter(b)
	in := "  first line  \nsecond line\n"
	n, err := w.Write([]byte(in))
	if err != nil {
		t.Fatalf("Write error: %v", err)
	}
	if n != len(in) {
		t.Errorf("n = %d, want %d", n, len(in))
	}

	for _, want := range []string{"first line", "second line"} {
		var evt StatusEvent
		if err := json.Unmarshal([]byte(receive(t, ch).Data), &evt); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if evt.Msg != want {
			t.Errorf("msg = %q, want %q", evt.Msg, want)
		}
	}
}

func TestBroadcastWriter_EmptyWriteIgnored(t *testing.T) {
	b := NewStatusBroadcaster()
	ch, unsub := b.Subscribe()
	defer unsub()

	BroadcastWriter(b).Write([]byte("   \n"))

	select {
	case <-ch:
		t.Error("expected no message for whitespace-only write")
	case <-time.After(50 * time.Millisecond):
		// expected: no message
	}
}

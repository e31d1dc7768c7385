package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
)

func TestNewBroadcaster(t *testing.T) {
	b := NewBroadcaster()
	if b == nil {
		t.Fatal("NewBroadcaster returned nil")
	}
	if b.ListenerCount() != 0 {
		t.Errorf("Initial ListenerCount = %d, want 0", b.ListenerCount())
	}
}

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroadcaster()

	l1 := b.Subscribe("mp3")
	if b.ListenerCount() != 1 {
		t.Errorf("After 1 subscribe: ListenerCount = %d, want 1", b.ListenerCount())
	}

	l2 := b.Subscribe("mp3")
	if b.ListenerCount() != 2 {
		t.Errorf("After 2 subscribes: ListenerCount = %d, want 2", b.ListenerCount())
	}

	b.Unsubscribe(l1)
	if b.ListenerCount() != 1 {
		t.Errorf("After 1 unsubscribe: ListenerCount = %d, want 1", b.ListenerCount())
	}

	b.Unsubscribe(l2)
	if b.ListenerCount() != 0 {
		t.Errorf("After all unsubscribed: ListenerCount = %d, want 0", b.ListenerCount())
	}
}

func TestBroadcastDelivers(t *testing.T) {
	b := NewBroadcaster()
	l := b.Subscribe("mp3")

	ctx, cancel := context.WithCancel(context.Background())
	source := make(chan []int16, 10)

	go b.Run(ctx, source)

	// Send a frame
	frame := []int16{100, 200, 300, 400}
	source <- frame

	// Listener should receive it
	select {
	case got := <-l.C:
		if len(got) != len(frame) {
			t.Errorf("Received frame length %d, want %d", len(got), len(frame))
		}
		for i, v := range got {
			if v != frame[i] {
				t.Errorf("Frame[%d] = %d, want %d", i, v, frame[i])
			}
		}
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for frame")
	}

	cancel()
	b.Unsubscribe(l)
}

func TestBroadcastMultipleListeners(t *testing.T) {
	b := NewBroadcaster()
	listeners := make([]*Listener, 5)
	for i := range listeners {
		listeners[i] = b.Subscribe("mp3")
	}

	ctx, cancel := context.WithCancel(context.Background())
	source := make(chan []int16, 10)

	go b.Run(ctx, source)

	frame := []int16{42, -42}
	source <- frame

	// All listeners should get the frame
	for i, l := range listeners {
		select {
		case got := <-l.C:
			if got[0] != 42 {
				t.Errorf("Listener %d got frame[0]=%d, want 42", i, got[0])
			}
		case <-time.After(time.Second):
			t.Errorf("Listener %d timed out", i)
		}
	}

	cancel()
	for _, l := range listeners {
		b.Unsubscribe(l)
	}
}

func TestBroadcastDropsSlowListener(t *testing.T) {
	b := NewBroadcaster()
	slow := b.Subscribe("webrtc")
	fast := b.Subscribe("mp3")

	ctx, cancel := context.WithCancel(context.Background())
	source := make(chan []int16, 200)

	go b.Run(ctx, source)

	// Fill the slow listener's buffer (150 capacity) without reading
	for i := 0; i < 200; i++ {
		source <- []int16{int16(i)}
	}

	// Give broadcaster time to process
	time.Sleep(100 * time.Millisecond)

	// Fast listener should have frames (we drain them)
	fastCount := 0
	for {
		select {
		case <-fast.C:
			fastCount++
		default:
			goto done
		}
	}
done:

	// Slow listener should have exactly buffer capacity (150) frames, rest dropped
	slowCount := 0
	for {
		select {
		case <-slow.C:
			slowCount++
		default:
			goto countDone
		}
	}
countDone:

	if slowCount > 150 {
		t.Errorf("Slow listener got %d frames, should cap at buffer size 150", slowCount)
	}
	if fastCount == 0 {
		t.Error("Fast listener got 0 frames")
	}
	if slow.Dropped() != int64(200-slowCount) {
		t.Errorf("Slow listener dropped %d, want %d", slow.Dropped(), 200-slowCount)
	}
	stats := b.Stats()
	if stats.Frames != 200 || stats.Listeners["webrtc"] != 1 || stats.Listeners["mp3"] != 1 {
		t.Errorf("Stats = %+v", stats)
	}

	cancel()
	b.Unsubscribe(slow)
	b.Unsubscribe(fast)
}

func TestBroadcastStopsOnContextCancel(t *testing.T) {
	b := NewBroadcaster()
	ctx, cancel := context.WithCancel(context.Background())
	source := make(chan []int16, 10)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		b.Run(ctx, source)
	}()

	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		// good
	case <-time.After(2 * time.Second):
		t.Fatal("Broadcaster did not stop after context cancel")
	}
}

func TestBroadcastStopsOnSourceClose(t *testing.T) {
	b := NewBroadcaster()
	ctx := context.Background()
	source := make(chan []int16, 10)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		b.Run(ctx, source)
	}()

	close(source)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		// good
	case <-time.After(2 * time.Second):
		t.Fatal("Broadcaster did not stop after source closed")
	}
}

func TestListenerDoneChannel(t *testing.T) {
	b := NewBroadcaster()
	l := b.Subscribe("mp3")

	b.Unsubscribe(l)

	// done channel should be closed
	select {
	case <-l.done:
		// good
	default:
		t.Error("Listener done channel not closed after unsubscribe")
	}
}

func TestUnsubscribeTwice(t *testing.T) {
	b := NewBroadcaster()
	l := b.Subscribe("mp3")
	b.Unsubscribe(l)
	b.Unsubscribe(l) // must not panic on double close
	if b.ListenerCount() != 0 {
		t.Errorf("ListenerCount = %d, want 0", b.ListenerCount())
	}
}

func TestMP3Args(t *testing.T) {
	args := mp3Args("320k")
	joined := strings.Join(args, " ")
	for _, want := range []string{"-ar 48000", "-ac 2", "-b:a 320k", "-codec:a libmp3lame"} {
		if !strings.Contains(joined, want) {
			t.Errorf("ffmpeg args %q missing %q", joined, want)
		}
	}
	if h := NewHTTPHandler(NewBroadcaster(), "", "x"); h.bitrate != "192k" {
		t.Errorf("default bitrate = %q", h.bitrate)
	}
}

func TestWebRTCDefaults(t *testing.T) {
	h := NewWebRTCHandler(NewBroadcaster(), 0, "pulseforge")
	if h.bitrate != 128000 || h.PeerCount() != 0 {
		t.Errorf("handler = bitrate %d peers %d", h.bitrate, h.PeerCount())
	}
}

func TestWebRTCPeerRemoval(t *testing.T) {
	h := NewWebRTCHandler(NewBroadcaster(), 0, "pulseforge")
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatal(err)
	}
	p := &peer{done: make(chan struct{})}
	h.peers[pc] = p

	if h.PeerCount() != 1 {
		t.Fatalf("PeerCount = %d, want 1", h.PeerCount())
	}
	h.Close()
	select {
	case <-p.done:
	default:
		t.Error("peer stream not stopped by Close")
	}
	if h.PeerCount() != 0 || h.removePeer(pc) {
		t.Error("peer still registered after Close")
	}
}

func TestWebRTCRejectsBadOffer(t *testing.T) {
	h := NewWebRTCHandler(NewBroadcaster(), 0, "pulseforge")
	req := httptest.NewRequest("POST", "/offer", strings.NewReader("not sdp"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

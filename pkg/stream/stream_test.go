package stream

import (
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"imu-sensorhub/pkg/sensor"
)

type fakeSubscriber struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeSubscriber) add(s string) {
	f.mu.Lock()
	f.calls = append(f.calls, s)
	f.mu.Unlock()
}

func (f *fakeSubscriber) Subscribe(client string, ch sensor.Channel, rate uint32, latency uint64) error {
	if !sensor.Descriptors[ch].Supports(rate) {
		return fmt.Errorf("bad rate")
	}
	f.add(fmt.Sprintf("sub %s %s %d %d", client, ch, rate, latency))
	return nil
}

func (f *fakeSubscriber) Unsubscribe(client string, ch sensor.Channel) {
	f.add(fmt.Sprintf("unsub %s %s", client, ch))
}

func (f *fakeSubscriber) UnsubscribeAll(client string) {
	f.add("unsub-all " + client)
}

func (f *fakeSubscriber) RequestFlush(ch sensor.Channel) {
	f.add("flush " + ch.String())
}

func (f *fakeSubscriber) Configured(ch sensor.Channel) (uint32, uint64, bool) {
	if ch != sensor.Accel {
		return 0, 0, false
	}
	return sensor.HZ(100), 50000000, true
}

func (f *fakeSubscriber) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func dial(t *testing.T, h *Hub) (*websocket.Conn, func()) {
	t.Helper()
	srv := httptest.NewServer(h)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		srv.Close()
		t.Fatalf("Dial() error = %v", err)
	}
	return conn, func() {
		conn.Close()
		h.Close()
		srv.Close()
	}
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var m map[string]any
	if err := conn.ReadJSON(&m); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	return m
}

func TestSubscribeCommand(t *testing.T) {
	sub := &fakeSubscriber{}
	h := New(sub, nil)
	conn, cleanup := dial(t, h)
	defer cleanup()

	if err := conn.WriteJSON(Command{Type: "subscribe", Channel: "accel", RateHz: 100, LatencyMs: 50}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	reply := readMessage(t, conn)
	if reply["type"] != "ack" {
		t.Fatalf("reply = %v, want ack", reply)
	}
	want := fmt.Sprintf("sub ws-1 accel %d 50000000", sensor.HZ(100))
	if got := sub.snapshot(); len(got) != 1 || got[0] != want {
		t.Errorf("calls = %v, want [%s]", got, want)
	}

	conn.WriteJSON(Command{Type: "subscribe", Channel: "accel", RateHz: 1600})
	if reply := readMessage(t, conn); reply["type"] != "error" {
		t.Errorf("unsupported rate reply = %v, want error", reply)
	}
	conn.WriteJSON(Command{Type: "subscribe", Channel: "compass"})
	if reply := readMessage(t, conn); reply["type"] != "error" {
		t.Errorf("unknown channel reply = %v, want error", reply)
	}
	conn.WriteJSON(Command{Type: "flush", Channel: "gyro"})
	readMessage(t, conn)
	conn.WriteJSON(Command{Type: "subscribe", Channel: "flat"})
	readMessage(t, conn)

	calls := sub.snapshot()
	if calls[1] != "flush gyro" {
		t.Errorf("calls[1] = %q, want flush gyro", calls[1])
	}
	wantFlat := fmt.Sprintf("sub ws-1 flat %d 0", sensor.RateOnChange)
	if calls[2] != wantFlat {
		t.Errorf("calls[2] = %q, want %q", calls[2], wantFlat)
	}
}

func TestBroadcast(t *testing.T) {
	sub := &fakeSubscriber{}
	h := New(sub, nil)
	conn, cleanup := dial(t, h)
	defer cleanup()
	waitFor(t, "client registration", func() bool { return h.ClientCount() == 1 })

	b := &sensor.SampleBatch{}
	b.Reset(sensor.Accel)
	b.Append(5000, 0.5, -0.5, 9.81)
	h.Samples(b)
	h.Event(sensor.StepCount, 42)
	h.Flush(sensor.Accel)
	h.Packet(sensor.CalResult(sensor.TypeGyro, sensor.StatusSuccess, [3]int32{1, 2, 3}))

	m := readMessage(t, conn)
	if m["type"] != "samples" || m["channel"] != "accel" {
		t.Fatalf("first message = %v, want accel samples", m)
	}
	batch := m["batch"].(map[string]any)
	if batch["reference_ns"].(float64) != 5000 {
		t.Errorf("reference_ns = %v, want 5000", batch["reference_ns"])
	}
	if n := len(batch["samples"].([]any)); n != 1 {
		t.Errorf("len(samples) = %d, want 1", n)
	}

	m = readMessage(t, conn)
	if m["type"] != "event" || m["value"].(float64) != 42 {
		t.Errorf("event message = %v", m)
	}
	m = readMessage(t, conn)
	if m["type"] != "flush" || m["channel"] != "accel" {
		t.Errorf("flush message = %v", m)
	}
	m = readMessage(t, conn)
	p := m["packet"].(map[string]any)
	if m["type"] != "packet" || p["sensor_type"].(float64) != float64(sensor.TypeGyro) {
		t.Errorf("packet message = %v", m)
	}
}

func TestDisconnectDropsSubscriptions(t *testing.T) {
	sub := &fakeSubscriber{}
	h := New(sub, nil)
	conn, cleanup := dial(t, h)
	defer cleanup()
	waitFor(t, "client registration", func() bool { return h.ClientCount() == 1 })

	conn.Close()
	waitFor(t, "client removal", func() bool { return len(sub.snapshot()) > 0 })
	if n := h.ClientCount(); n != 0 {
		t.Errorf("ClientCount() = %d, want 0", n)
	}
	calls := sub.snapshot()
	if len(calls) != 1 || calls[0] != "unsub-all ws-1" {
		t.Errorf("calls = %v, want [unsub-all ws-1]", calls)
	}
}

func TestStatusCommand(t *testing.T) {
	h := New(&fakeSubscriber{}, nil)
	conn, cleanup := dial(t, h)
	defer cleanup()

	conn.WriteJSON(Command{Type: "status", Channel: "accel"})
	m := readMessage(t, conn)
	if m["type"] != "status" || m["rate_hz"] != 100.0 || m["latency_ms"] != 50.0 {
		t.Errorf("accel status = %v, want 100 Hz and 50 ms", m)
	}
	conn.WriteJSON(Command{Type: "status", Channel: "gyro"})
	m = readMessage(t, conn)
	if _, ok := m["rate_hz"]; m["type"] != "status" || ok {
		t.Errorf("gyro status = %v, want no configuration", m)
	}
}

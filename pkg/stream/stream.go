// Websocket event stream
//
// Broadcasts sample batches, flush markers, embedded events and host
// packets to websocket clients as JSON. Clients subscribe to channels with
// small JSON commands; a disconnect drops all of its subscriptions.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package stream

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"imu-sensorhub/pkg/log"
	"imu-sensorhub/pkg/pool"
	"imu-sensorhub/pkg/sensor"
)

const (
	sendQueueLen = 256
	readLimit    = 4096
	pongWait     = 60 * time.Second
	pingPeriod   = 30 * time.Second
	writeWait    = 10 * time.Second
)

// Subscriber is the request side of the sensor hub.
type Subscriber interface {
	Subscribe(client string, ch sensor.Channel, rate uint32, latency uint64) error
	Unsubscribe(client string, ch sensor.Channel)
	UnsubscribeAll(client string)
	RequestFlush(ch sensor.Channel)
	// Configured reports the configuration the task confirmed for ch.
	Configured(ch sensor.Channel) (rate uint32, latency uint64, ok bool)
}

// Message is one outgoing JSON message.
type Message struct {
	Type      string              `json:"type"`
	Channel   string              `json:"channel,omitempty"`
	Batch     *sensor.SampleBatch `json:"batch,omitempty"`
	Value     *uint64             `json:"value,omitempty"`
	Packet    *PacketInfo         `json:"packet,omitempty"`
	RateHz    *float64            `json:"rate_hz,omitempty"`
	LatencyMs *float64            `json:"latency_ms,omitempty"`
	Error     string              `json:"error,omitempty"`
}

// PacketInfo is a decoded host packet plus its wire bytes.
type PacketInfo struct {
	SensorType uint8    `json:"sensor_type"`
	MsgID      uint8    `json:"msg_id"`
	Status     uint8    `json:"status"`
	Bias       [3]int32 `json:"bias"`
	Raw        []byte   `json:"raw"`
}

// Command is one incoming JSON command.
type Command struct {
	Type      string  `json:"type"`
	Channel   string  `json:"channel"`
	RateHz    float32 `json:"rate_hz"`
	OnChange  bool    `json:"on_change"`
	LatencyMs float64 `json:"latency_ms"`
	NoData    bool    `json:"no_data"`
}

// Hub serves the websocket endpoint and implements sensor.Sink.
type Hub struct {
	sub      Subscriber
	log      *log.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[int64]*client
	nextID  atomic.Int64
	dropped atomic.Uint64
}

// New creates a stream hub forwarding client commands to sub.
func New(sub Subscriber, logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.GetLogger("stream")
	}
	return &Hub{
		sub:     sub,
		log:     logger,
		clients: make(map[int64]*client),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns the number of messages dropped for slow clients.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[int64]*client)
	h.mu.Unlock()
	for _, c := range clients {
		c.close()
		h.sub.UnsubscribeAll(c.name)
	}
}

// encode renders m into a pooled buffer and returns an exact-size copy
// shared by all clients.
func encode(m Message) ([]byte, error) {
	buf := pool.GetByteBuffer()
	defer pool.PutByteBuffer(buf)
	if err := json.NewEncoder(buf).Encode(m); err != nil {
		return nil, err
	}
	return append([]byte(nil), buf.Bytes()...), nil
}

func (h *Hub) broadcast(m Message) {
	data, err := encode(m)
	if err != nil {
		h.log.WithError(err).Errorf("encode %s message", m.Type)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if !c.send(data) {
			h.dropped.Add(1)
		}
	}
}

// Samples implements sensor.Sink. The batch is encoded before returning.
func (h *Hub) Samples(b *sensor.SampleBatch) {
	h.broadcast(Message{Type: "samples", Channel: b.Channel.String(), Batch: b})
}

// Flush implements sensor.Sink.
func (h *Hub) Flush(ch sensor.Channel) {
	h.broadcast(Message{Type: "flush", Channel: ch.String()})
}

// Event implements sensor.Sink.
func (h *Hub) Event(ch sensor.Channel, value uint64) {
	h.broadcast(Message{Type: "event", Channel: ch.String(), Value: &value})
}

// Packet implements sensor.Sink.
func (h *Hub) Packet(p sensor.ResultPacket) {
	h.broadcast(Message{Type: "packet", Packet: &PacketInfo{
		SensorType: uint8(p.SensorType),
		MsgID:      p.MsgID,
		Status:     p.Status,
		Bias:       p.Bias,
		Raw:        p.Encode(),
	}})
}

// ServeHTTP upgrades the request and serves the client until it goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	id := h.nextID.Add(1)
	c := &client{
		id:     id,
		name:   fmt.Sprintf("ws-%d", id),
		conn:   conn,
		hub:    h,
		sendCh: make(chan []byte, sendQueueLen),
		done:   make(chan struct{}),
	}
	h.mu.Lock()
	h.clients[id] = c
	h.mu.Unlock()
	h.log.Info("client %s connected from %s", c.name, r.RemoteAddr)

	go c.writePump()
	c.readPump()
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c.id]
	delete(h.clients, c.id)
	h.mu.Unlock()
	if ok {
		h.sub.UnsubscribeAll(c.name)
		h.log.Info("client %s disconnected", c.name)
	}
}

// handle applies one client command and returns the reply.
func (h *Hub) handle(c *client, cmd Command) Message {
	reply := Message{Type: "ack", Channel: cmd.Channel}
	ch, ok := sensor.ParseChannel(cmd.Channel)
	if !ok {
		reply.Type = "error"
		reply.Error = fmt.Sprintf("unknown channel %q", cmd.Channel)
		return reply
	}
	switch cmd.Type {
	case "subscribe":
		rate := sensor.HZ(cmd.RateHz)
		if cmd.OnChange {
			rate = sensor.RateOnChange
		} else if len(sensor.Descriptors[ch].Rates) == 1 {
			rate = sensor.Descriptors[ch].Rates[0]
		}
		latency := uint64(cmd.LatencyMs * float64(time.Millisecond))
		if cmd.NoData {
			latency = sensor.LatencyNoData
		}
		if err := h.sub.Subscribe(c.name, ch, rate, latency); err != nil {
			reply.Type = "error"
			reply.Error = err.Error()
		}
	case "unsubscribe":
		h.sub.Unsubscribe(c.name, ch)
	case "flush":
		h.sub.RequestFlush(ch)
	case "status":
		reply.Type = "status"
		if rate, latency, ok := h.sub.Configured(ch); ok {
			hz := sensor.RateHz(rate)
			ms := float64(latency) / float64(time.Millisecond)
			reply.RateHz, reply.LatencyMs = &hz, &ms
		}
	default:
		reply.Type = "error"
		reply.Error = fmt.Sprintf("unknown command %q", cmd.Type)
	}
	return reply
}

type client struct {
	id     int64
	name   string
	conn   *websocket.Conn
	hub    *Hub
	sendCh chan []byte
	done   chan struct{}
	once   sync.Once
}

// send queues data without blocking. It reports false when the client is
// gone or too slow.
func (c *client) send(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.sendCh <- data:
		return true
	default:
		return false
	}
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func (c *client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.close()
	}()

	c.conn.SetReadLimit(readLimit)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.WithError(err).Warnf("client %s read", c.name)
			}
			return
		}
		var cmd Command
		var reply Message
		if err := json.Unmarshal(data, &cmd); err != nil {
			reply = Message{Type: "error", Error: "malformed command"}
		} else {
			reply = c.hub.handle(c, cmd)
		}
		if out, err := encode(reply); err == nil {
			c.send(out)
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case data := <-c.sendCh:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.hub.log.WithError(err).Debugf("client %s write", c.name)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

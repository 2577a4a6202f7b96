package sensor

import (
	"fmt"
	"sort"
	"sync"

	"imu-sensorhub/pkg/log"
)

// Controller is the command side of the task. Calls must not block; the
// task queues them onto its loop.
type Controller interface {
	Power(ch Channel, on bool)
	SetRate(ch Channel, rate uint32, latency uint64)
	Flush(ch Channel)
}

// Sink receives delivered events. A batch is only valid during the call.
type Sink interface {
	Samples(b *SampleBatch)
	Flush(ch Channel)
	Event(ch Channel, value uint64)
	Packet(p ResultPacket)
}

// SelfClient is the client name used for the task's own subscriptions.
const SelfClient = "task"

type request struct {
	rate    uint32
	latency uint64
}

// Subscription is one client request, for diagnostics.
type Subscription struct {
	Client  string
	Channel Channel
	Rate    uint32
	Latency uint64
}

// Hub is the Framework implementation of the host. It keeps per-client
// requests, drives the task with the fastest rate and the shortest latency
// requested per channel, and fans task output out to sinks.
type Hub struct {
	mu       sync.Mutex
	ctl      Controller
	log      *log.Logger
	sinks    []Sink
	requests [NumChannels]map[string]request
	ready    [NumChannels]bool
	on       [NumChannels]bool
	applied  [NumChannels]request
	confirm  [NumChannels]request
	powered  [NumChannels]bool
	disabled [NumChannels]bool
}

// NewHub creates a hub. SetController must be called before requests
// reach the task.
func NewHub(logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.GetLogger("hub")
	}
	h := &Hub{log: logger}
	for i := range h.requests {
		h.requests[i] = make(map[string]request)
	}
	return h
}

// SetController attaches the task. The task and the hub reference each
// other, so this is split from NewHub.
func (h *Hub) SetController(c Controller) {
	h.mu.Lock()
	h.ctl = c
	h.mu.Unlock()
}

// AddSink registers an output.
func (h *Hub) AddSink(s Sink) {
	h.mu.Lock()
	h.sinks = append(h.sinks, s)
	h.mu.Unlock()
}

// RemoveSink drops an output registered with AddSink.
func (h *Hub) RemoveSink(s Sink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, x := range h.sinks {
		if x == s {
			h.sinks = append(h.sinks[:i], h.sinks[i+1:]...)
			return
		}
	}
}

// Disable withdraws a channel the board does not carry. Later
// subscriptions to it fail.
func (h *Hub) Disable(ch Channel) {
	if ch < 0 || ch >= NumChannels {
		return
	}
	h.mu.Lock()
	h.disabled[ch] = true
	h.mu.Unlock()
}

// Subscribe records a client request and reconfigures the channel.
func (h *Hub) Subscribe(client string, ch Channel, rate uint32, latency uint64) error {
	if ch < 0 || ch >= NumChannels {
		return fmt.Errorf("unknown channel %d", int(ch))
	}
	if !Descriptors[ch].Supports(rate) {
		return fmt.Errorf("%s does not support rate %.3f Hz", ch, RateHz(rate))
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.disabled[ch] {
		return fmt.Errorf("%s is not available", ch)
	}
	h.requests[ch][client] = request{rate: rate, latency: latency}
	h.apply(ch)
	return nil
}

// Unsubscribe drops one client request.
func (h *Hub) Unsubscribe(client string, ch Channel) {
	if ch < 0 || ch >= NumChannels {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.requests[ch][client]; ok {
		delete(h.requests[ch], client)
		h.apply(ch)
	}
}

// UnsubscribeAll drops every request of a client.
func (h *Hub) UnsubscribeAll(client string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.requests {
		if _, ok := h.requests[ch][client]; ok {
			delete(h.requests[ch], client)
			h.apply(Channel(ch))
		}
	}
}

// RequestFlush asks the task for a flush marker on ch.
func (h *Hub) RequestFlush(ch Channel) {
	h.mu.Lock()
	ctl := h.ctl
	h.mu.Unlock()
	if ctl != nil && ch >= 0 && ch < NumChannels {
		ctl.Flush(ch)
	}
}

// Subscriptions lists current requests ordered by channel and client.
func (h *Hub) Subscriptions() []Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []Subscription
	for ch, reqs := range h.requests {
		for c, r := range reqs {
			out = append(out, Subscription{Client: c, Channel: Channel(ch), Rate: r.rate, Latency: r.latency})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Channel != out[j].Channel {
			return out[i].Channel < out[j].Channel
		}
		return out[i].Client < out[j].Client
	})
	return out
}

// Configured reports the rate and latency the task last confirmed for ch.
// ok is false until the task has confirmed a configuration.
func (h *Hub) Configured(ch Channel) (rate uint32, latency uint64, ok bool) {
	if ch < 0 || ch >= NumChannels {
		return 0, 0, false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	c := h.confirm[ch]
	return c.rate, c.latency, c.rate != 0
}

// Powered reports the last power state confirmed by the task.
func (h *Hub) Powered(ch Channel) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.powered[ch]
}

// apply pushes the aggregate request of ch to the task. Channels that have
// not finished init are applied from InitComplete.
func (h *Hub) apply(ch Channel) {
	if !h.ready[ch] || h.ctl == nil {
		return
	}
	reqs := h.requests[ch]
	if len(reqs) == 0 {
		if h.on[ch] {
			h.on[ch] = false
			h.applied[ch] = request{}
			h.ctl.Power(ch, false)
		}
		return
	}
	agg := request{latency: ^uint64(0)}
	for _, r := range reqs {
		if r.rate > agg.rate {
			agg.rate = r.rate
		}
		if r.latency < agg.latency {
			agg.latency = r.latency
		}
	}
	if !h.on[ch] {
		h.on[ch] = true
		h.ctl.Power(ch, true)
	}
	if agg != h.applied[ch] {
		h.applied[ch] = agg
		h.ctl.SetRate(ch, agg.rate, agg.latency)
	}
}

// InitComplete implements Framework.
func (h *Hub) InitComplete(ch Channel) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ready[ch] = true
	h.log.Debug("%s ready", ch)
	h.apply(ch)
}

// PowerStateChanged implements Framework.
func (h *Hub) PowerStateChanged(ch Channel, on bool) {
	h.mu.Lock()
	h.powered[ch] = on
	h.mu.Unlock()
	h.log.Debug("%s power %v", ch, on)
}

// RateChanged implements Framework.
func (h *Hub) RateChanged(ch Channel, rate uint32, latency uint64) {
	h.mu.Lock()
	h.confirm[ch] = request{rate: rate, latency: latency}
	h.mu.Unlock()
	h.log.Debug("%s rate %.3f Hz latency %d ns", ch, RateHz(rate), latency)
}

func (h *Hub) eachSink(fn func(s Sink)) {
	h.mu.Lock()
	sinks := append([]Sink(nil), h.sinks...)
	h.mu.Unlock()
	for _, s := range sinks {
		fn(s)
	}
}

// Samples implements Framework. The batch is released after every sink
// has seen it.
func (h *Hub) Samples(b *SampleBatch, release func()) {
	h.eachSink(func(s Sink) { s.Samples(b) })
	release()
}

// Flush implements Framework.
func (h *Hub) Flush(ch Channel) {
	h.eachSink(func(s Sink) { s.Flush(ch) })
}

// Event implements Framework.
func (h *Hub) Event(ch Channel, value uint64) {
	h.eachSink(func(s Sink) { s.Event(ch, value) })
}

// Packet implements Framework.
func (h *Hub) Packet(p ResultPacket) {
	h.eachSink(func(s Sink) { s.Packet(p) })
}

// Request implements Framework for the task's own subscriptions.
func (h *Hub) Request(ch Channel, rate uint32, latency uint64) {
	if err := h.Subscribe(SelfClient, ch, rate, latency); err != nil {
		h.log.Warn("self request: %v", err)
	}
}

// Release implements Framework.
func (h *Hub) Release(ch Channel) {
	h.Unsubscribe(SelfClient, ch)
}

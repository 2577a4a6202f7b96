package sensor

// MaxSamplesPerBatch bounds a single sample batch.
const MaxSamplesPerBatch = 15

// Sample is one three-axis reading. DeltaNs is the time since the
// previous sample in the batch and is zero for the first.
type Sample struct {
	DeltaNs uint64  `json:"delta_ns"`
	X       float32 `json:"x"`
	Y       float32 `json:"y"`
	Z       float32 `json:"z"`
}

// SampleBatch is an output buffer owned by the task while being filled and
// by the consumer after hand-off.
type SampleBatch struct {
	Channel     Channel  `json:"channel"`
	ReferenceNs uint64   `json:"reference_ns"`
	Bias        bool     `json:"bias,omitempty"`
	Samples     []Sample `json:"samples"`
	lastNs      uint64
}

// Reset prepares a recycled batch for a channel.
func (b *SampleBatch) Reset(ch Channel) {
	b.Channel = ch
	b.ReferenceNs = 0
	b.Bias = false
	b.lastNs = 0
	if cap(b.Samples) < MaxSamplesPerBatch {
		b.Samples = make([]Sample, 0, MaxSamplesPerBatch)
	}
	b.Samples = b.Samples[:0]
}

// Full reports whether no further sample fits.
func (b *SampleBatch) Full() bool {
	return len(b.Samples) >= MaxSamplesPerBatch
}

// Append adds a sample at absolute host time ns. It returns false when the
// batch is already full.
func (b *SampleBatch) Append(ns uint64, x, y, z float32) bool {
	if b.Full() {
		return false
	}
	s := Sample{X: x, Y: y, Z: z}
	if len(b.Samples) == 0 {
		b.ReferenceNs = ns
	} else {
		s.DeltaNs = ns - b.lastNs
	}
	b.lastNs = ns
	b.Samples = append(b.Samples, s)
	return true
}

// LastNs is the absolute time of the newest sample.
func (b *SampleBatch) LastNs() uint64 {
	return b.lastNs
}

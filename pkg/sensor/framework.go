package sensor

// Framework is the sensor registration and event delivery boundary the
// task reports into. All calls are made from the task's event loop.
type Framework interface {
	// InitComplete announces that a channel finished hardware init.
	InitComplete(ch Channel)
	// PowerStateChanged confirms a power request.
	PowerStateChanged(ch Channel, on bool)
	// RateChanged confirms a rate/latency request.
	RateChanged(ch Channel, rate uint32, latency uint64)
	// Samples hands over a filled batch. The consumer calls release once
	// it no longer needs the batch.
	Samples(batch *SampleBatch, release func())
	// Flush emits a flush-complete marker.
	Flush(ch Channel)
	// Event emits an embedded value (step, tap axes, flat state, step total).
	Event(ch Channel, value uint64)
	// Packet sends a result packet to the host.
	Packet(p ResultPacket)
	// Request and Release subscribe the task itself to another channel.
	Request(ch Channel, rate uint32, latency uint64)
	Release(ch Channel)
}

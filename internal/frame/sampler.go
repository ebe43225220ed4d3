package frame

// Sampler keeps every Nth frame of a stream and drops the rest. It is not
// safe for concurrent use; the capture loop owns it.
type Sampler struct {
	every   uint64
	seen    uint64
	sampled uint64
}

// NewSampler returns a sampler that keeps frames N, 2N, 3N... An every
// below 1 keeps every frame.
func NewSampler(every int) *Sampler {
	if every < 1 {
		every = 1
	}
	return &Sampler{every: uint64(every)}
}

// Offer reports whether f is selected and, if so, returns it with its
// sample index.
func (s *Sampler) Offer(f Frame) (Sampled, bool) {
	s.seen++
	if s.seen%s.every != 0 {
		return Sampled{}, false
	}
	s.sampled++
	return Sampled{Index: s.sampled, Frame: f}, true
}

// Fail consumes a sample slot for an acquisition failure so the engine sees
// the gap.
func (s *Sampler) Fail(err error) Sampled {
	s.sampled++
	return Sampled{Index: s.sampled, Err: err}
}

// Every returns the sampling period.
func (s *Sampler) Every() int {
	return int(s.every)
}

// Package frame carries captured frames from acquisition to inference:
// decimation to a processing cadence and a bounded hand-off queue.
package frame

import "time"

// Frame is one JPEG image received from the camera.
type Frame struct {
	Seq  uint64    // position in the received sequence, starting at 1
	Time time.Time // wall-clock time the frame was received
	JPEG []byte
}

// Sampled is a frame selected for processing, or a marker that acquisition
// failed for a sample slot.
type Sampled struct {
	Index uint64 // position in the sampled sequence, starting at 1
	Frame Frame
	Err   error
}

// Package monitor runs the acquisition and reconciliation pipeline for one
// camera: frames are captured and decimated on one goroutine and handed
// through a bounded queue to a second goroutine that runs detection and
// reconciliation in sample order.
package monitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alfredjeanlab/atlasgrid/internal/capture"
	"github.com/alfredjeanlab/atlasgrid/internal/detect"
	"github.com/alfredjeanlab/atlasgrid/internal/frame"
	"github.com/alfredjeanlab/atlasgrid/internal/metrics"
	"github.com/alfredjeanlab/atlasgrid/internal/reconcile"
)

// Reconciler consumes processed samples in order.
type Reconciler interface {
	Process(ctx context.Context, s reconcile.Sample) error
}

// Defaults for Config.
const (
	DefaultSampleEvery = 3
	DefaultQueueSize   = 4
)

// Config configures a Monitor. Zero values select defaults.
type Config struct {
	SampleEvery int
	QueueSize   int
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

// Stats counts frames at each pipeline stage.
type Stats struct {
	Received  uint64 `json:"received"`
	Sampled   uint64 `json:"sampled"`
	Dropped   uint64 `json:"dropped"`
	Failed    uint64 `json:"failed"`
	Processed uint64 `json:"processed"`
}

// Monitor wires a frame source, a detector and a reconciler together.
type Monitor struct {
	source   capture.Source
	detector detect.Detector
	engine   Reconciler
	sampler  *frame.Sampler
	queue    *frame.Queue[frame.Sampled]
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time

	received  atomic.Uint64
	sampled   atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
	processed atomic.Uint64
}

// New creates a monitor. Run starts it.
func New(source capture.Source, detector detect.Detector, engine Reconciler, cfg Config) *Monitor {
	if cfg.SampleEvery < 1 {
		cfg.SampleEvery = DefaultSampleEvery
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	m := &Monitor{
		source:   source,
		detector: detector,
		engine:   engine,
		sampler:  frame.NewSampler(cfg.SampleEvery),
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
		now:      time.Now,
	}
	m.queue = frame.NewQueue(cfg.QueueSize, m.onDrop)
	return m
}

// Run captures and processes frames until ctx ends or the source stops. A
// sample already handed to the reconciler when ctx ends is allowed to
// finish its ledger write.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info("monitor: starting",
		"sample_every", m.sampler.Every(), "queue_size", m.queue.Cap())

	var (
		wg        sync.WaitGroup
		sourceErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer m.queue.Close()
		sourceErr = m.source.Run(ctx, m.onFrame, m.onFailure)
	}()

	for {
		smp, err := m.queue.Pop(ctx)
		if err != nil {
			if !errors.Is(err, frame.ErrQueueClosed) && !errors.Is(err, context.Canceled) {
				m.logger.Warn("monitor: queue", "err", err)
			}
			break
		}
		m.process(ctx, smp)
	}
	wg.Wait()

	st := m.Stats()
	m.logger.Info("monitor: stopped",
		"received", st.Received, "sampled", st.Sampled, "dropped", st.Dropped,
		"failed", st.Failed, "processed", st.Processed)
	return sourceErr
}

// Stats returns the pipeline counters.
func (m *Monitor) Stats() Stats {
	return Stats{
		Received:  m.received.Load(),
		Sampled:   m.sampled.Load(),
		Dropped:   m.dropped.Load(),
		Failed:    m.failed.Load(),
		Processed: m.processed.Load(),
	}
}

// onFrame runs on the capture goroutine.
func (m *Monitor) onFrame(f frame.Frame) {
	m.received.Add(1)
	m.metrics.FrameReceived()
	smp, ok := m.sampler.Offer(f)
	if !ok {
		return
	}
	m.sampled.Add(1)
	m.metrics.FrameSampled()
	m.queue.Push(smp)
}

// onFailure runs on the capture goroutine.
func (m *Monitor) onFailure(err error) {
	smp := m.sampler.Fail(err)
	smp.Frame.Time = m.now()
	m.queue.Push(smp)
}

func (m *Monitor) onDrop(smp frame.Sampled) {
	m.dropped.Add(1)
	m.metrics.FrameDropped()
	m.logger.Debug("monitor: queue full, dropped oldest sample", "sample", smp.Index)
}

func (m *Monitor) process(ctx context.Context, smp frame.Sampled) {
	sample := reconcile.Sample{Index: smp.Index, Time: smp.Frame.Time, Err: smp.Err}
	if sample.Err == nil {
		sample.Detections, sample.Err = m.detector.Detect(ctx, smp.Frame)
	}
	if sample.Err != nil {
		m.failed.Add(1)
	}

	if err := m.engine.Process(context.WithoutCancel(ctx), sample); err != nil {
		m.logger.Error("monitor: sample not fully reconciled", "sample", smp.Index, "err", err)
	}
	m.processed.Add(1)
}

// Package capture acquires frames from the camera.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/alfredjeanlab/atlasgrid/internal/frame"
	"github.com/alfredjeanlab/atlasgrid/internal/model"
)

// Source delivers frames until ctx ends. onFailure receives an
// AcquisitionFailure each time the source loses the camera.
type Source interface {
	Run(ctx context.Context, onFrame func(frame.Frame), onFailure func(error)) error
}

// JPEG start- and end-of-image markers.
var (
	soi = []byte{0xFF, 0xD8}
	eoi = []byte{0xFF, 0xD9}
)

// Defaults for MJPEGSource.
const (
	DefaultReconnectDelay = 2 * time.Second
	DefaultConnectTimeout = 10 * time.Second
	DefaultMaxFrameBytes  = 4 << 20
	readChunk             = 4096
)

// errStreamEnded is returned when the camera closes the stream cleanly.
var errStreamEnded = errors.New("stream ended")

// MJPEGOptions configures an MJPEGSource. Zero values select defaults.
type MJPEGOptions struct {
	Client         *http.Client
	ReconnectDelay time.Duration
	MaxFrameBytes  int
	Logger         *slog.Logger
}

// MJPEGSource reads a multipart MJPEG stream over HTTP, such as the one
// served by ESP32 camera boards, and cuts it into JPEG frames on the image
// markers. It reconnects after a delay whenever the stream fails.
type MJPEGSource struct {
	url            string
	client         *http.Client
	reconnectDelay time.Duration
	maxFrameBytes  int
	logger         *slog.Logger
	now            func() time.Time

	seq uint64
}

// NewMJPEGSource returns a source for the stream at url.
func NewMJPEGSource(url string, opts MJPEGOptions) *MJPEGSource {
	if opts.Client == nil {
		opts.Client = &http.Client{Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			ResponseHeaderTimeout: DefaultConnectTimeout,
		}}
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.MaxFrameBytes <= 0 {
		opts.MaxFrameBytes = DefaultMaxFrameBytes
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &MJPEGSource{
		url:            url,
		client:         opts.Client,
		reconnectDelay: opts.ReconnectDelay,
		maxFrameBytes:  opts.MaxFrameBytes,
		logger:         opts.Logger,
		now:            time.Now,
	}
}

// Run streams frames until ctx ends. It returns nil on cancellation.
func (s *MJPEGSource) Run(ctx context.Context, onFrame func(frame.Frame), onFailure func(error)) error {
	for {
		s.logger.Info("capture: connecting", "url", s.url)
		err := s.stream(ctx, onFrame)
		if ctx.Err() != nil {
			return nil
		}
		s.logger.Warn("capture: stream lost", "url", s.url, "err", err, "retry_in", s.reconnectDelay)
		if onFailure != nil {
			onFailure(model.NewFailure(model.AcquisitionFailure, "capture "+s.url, err))
		}

		timer := time.NewTimer(s.reconnectDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func (s *MJPEGSource) stream(ctx context.Context, onFrame func(frame.Frame)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("connecting: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	s.logger.Info("capture: connected", "url", s.url, "content_type", resp.Header.Get("Content-Type"))

	return s.readFrames(resp.Body, onFrame)
}

// readFrames cuts JPEG images out of r until it fails or ends.
func (s *MJPEGSource) readFrames(r io.Reader, onFrame func(frame.Frame)) error {
	chunk := make([]byte, readChunk)
	var buf []byte
	for {
		n, err := r.Read(chunk)
		buf = append(buf, chunk[:n]...)

		for {
			img, rest, ok := cutJPEG(buf)
			if ok {
				s.seq++
				onFrame(frame.Frame{Seq: s.seq, Time: s.now(), JPEG: bytes.Clone(img)})
			}
			buf = append(buf[:0], rest...)
			if !ok {
				break
			}
		}
		if len(buf) > s.maxFrameBytes {
			s.logger.Warn("capture: discarding oversized frame", "bytes", len(buf))
			buf = buf[:0]
		}

		if errors.Is(err, io.EOF) {
			return errStreamEnded
		}
		if err != nil {
			return err
		}
	}
}

// cutJPEG finds the first complete image in buf. It returns the image and
// the bytes after it, or, when no complete image is present, the tail that
// may still begin one.
func cutJPEG(buf []byte) (img, rest []byte, ok bool) {
	start := bytes.Index(buf, soi)
	if start < 0 {
		// Keep a trailing 0xFF: it may be the first half of a marker.
		if n := len(buf); n > 0 && buf[n-1] == soi[0] {
			return nil, buf[n-1:], false
		}
		return nil, nil, false
	}
	end := bytes.Index(buf[start+len(soi):], eoi)
	if end < 0 {
		return nil, buf[start:], false
	}
	end += start + len(soi) + len(eoi)
	return buf[start:end], buf[end:], true
}

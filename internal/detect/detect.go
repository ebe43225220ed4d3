// Package detect is the boundary to the object detector. The model runs
// out of process; this package posts frames to it and validates what comes
// back.
package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alfredjeanlab/atlasgrid/internal/frame"
	"github.com/alfredjeanlab/atlasgrid/internal/metrics"
	"github.com/alfredjeanlab/atlasgrid/internal/model"
)

// Detector returns the objects found in a frame. Errors are
// DetectionFailures.
type Detector interface {
	Detect(ctx context.Context, f frame.Frame) ([]model.Detection, error)
}

// Func adapts a function to the Detector interface.
type Func func(ctx context.Context, f frame.Frame) ([]model.Detection, error)

// Detect calls fn.
func (fn Func) Detect(ctx context.Context, f frame.Frame) ([]model.Detection, error) {
	return fn(ctx, f)
}

// DefaultTimeout bounds one inference request.
const DefaultTimeout = 5 * time.Second

// maxErrorBody caps how much of an error response is quoted.
const maxErrorBody = 512

// HTTPOptions configures an HTTPDetector. Zero values select defaults.
type HTTPOptions struct {
	Timeout time.Duration
	Token   string
	Metrics *metrics.Metrics
	Client  *http.Client
}

// HTTPDetector posts each frame as image/jpeg to an inference endpoint and
// expects {"detections": [{"label", "confidence", "bbox": {x1,y1,x2,y2}}]}.
type HTTPDetector struct {
	url        string
	token      string
	httpClient *http.Client
	metrics    *metrics.Metrics
}

// NewHTTPDetector returns a detector for the endpoint at url.
func NewHTTPDetector(url string, opts HTTPOptions) *HTTPDetector {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: opts.Timeout}
	}
	return &HTTPDetector{
		url:        strings.TrimRight(url, "/"),
		token:      opts.Token,
		httpClient: opts.Client,
		metrics:    opts.Metrics,
	}
}

type detectResponse struct {
	Detections []model.Detection `json:"detections"`
	Error      string            `json:"error,omitempty"`
}

// Detect runs inference on one frame.
func (d *HTTPDetector) Detect(ctx context.Context, f frame.Frame) ([]model.Detection, error) {
	start := time.Now()
	dets, err := d.detect(ctx, f)
	d.metrics.Inference(time.Since(start))
	if err != nil {
		return nil, model.NewFailure(model.DetectionFailure, "detect", err)
	}
	return dets, nil
}

func (d *HTTPDetector) detect(ctx context.Context, f frame.Frame) ([]model.Detection, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(f.JPEG))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "image/jpeg")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Frame-Seq", strconv.FormatUint(f.Seq, 10))
	if d.token != "" {
		req.Header.Set("Authorization", "Bearer "+d.token)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	var out detectResponse
	if resp.StatusCode >= 400 {
		if json.Unmarshal(body, &out) == nil && out.Error != "" {
			return nil, fmt.Errorf("detector returned %d: %s", resp.StatusCode, out.Error)
		}
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return nil, fmt.Errorf("detector returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	for i, det := range out.Detections {
		if err := validate(det); err != nil {
			return nil, fmt.Errorf("detection %d: %w", i, err)
		}
	}
	return out.Detections, nil
}

func validate(d model.Detection) error {
	if strings.TrimSpace(d.Label) == "" {
		return fmt.Errorf("missing label")
	}
	if math.IsNaN(d.Confidence) || d.Confidence < 0 || d.Confidence > 1 {
		return fmt.Errorf("confidence %v outside [0, 1]", d.Confidence)
	}
	b := d.Box
	for _, v := range []float64{b.X1, b.Y1, b.X2, b.Y2} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("non-finite bbox %+v", b)
		}
	}
	if !b.Valid() {
		return fmt.Errorf("empty bbox %+v", b)
	}
	return nil
}

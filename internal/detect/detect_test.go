package detect

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/alfredjeanlab/atlasgrid/internal/frame"
	"github.com/alfredjeanlab/atlasgrid/internal/metrics"
	"github.com/alfredjeanlab/atlasgrid/internal/model"
)

// testHandler captures the incoming request and returns a canned response.
type testHandler struct {
	contentType string
	seq         string
	auth        string
	body        []byte

	statusCode   int
	responseBody string
}

func (h *testHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.contentType = r.Header.Get("Content-Type")
	h.seq = r.Header.Get("X-Frame-Seq")
	h.auth = r.Header.Get("Authorization")
	h.body, _ = io.ReadAll(r.Body)

	w.Header().Set("Content-Type", "application/json")
	if h.statusCode != 0 {
		w.WriteHeader(h.statusCode)
	}
	_, _ = w.Write([]byte(h.responseBody))
}

func TestHTTPDetector_Detect(t *testing.T) {
	h := &testHandler{responseBody: `{"detections": [
		{"label": "car", "confidence": 0.91, "bbox": {"x1": 240, "y1": 20, "x2": 290, "y2": 100}},
		{"label": "cone", "confidence": 0.4, "bbox": {"x1": 10, "y1": 10, "x2": 20, "y2": 30}}
	]}`}
	srv := httptest.NewServer(h)
	defer srv.Close()

	m := metrics.New()
	d := NewHTTPDetector(srv.URL, HTTPOptions{Token: "secret", Metrics: m})
	dets, err := d.Detect(context.Background(), frame.Frame{Seq: 42, JPEG: []byte{0xFF, 0xD8, 0xFF, 0xD9}})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(dets) != 2 || dets[0].Label != "car" || dets[0].Box.X2 != 290 || dets[1].Confidence != 0.4 {
		t.Errorf("detections = %+v", dets)
	}
	if h.contentType != "image/jpeg" || h.seq != "42" || h.auth != "Bearer secret" || len(h.body) != 4 {
		t.Errorf("request = %+v", h)
	}
	n, err := testutil.GatherAndCount(m.Registry(), "atlasgrid_detect_inference_duration_seconds")
	if err != nil || n != 1 {
		t.Errorf("inference histogram series = %d, %v", n, err)
	}
}

func TestHTTPDetector_EmptyResult(t *testing.T) {
	srv := httptest.NewServer(&testHandler{responseBody: `{"detections": []}`})
	defer srv.Close()

	dets, err := NewHTTPDetector(srv.URL, HTTPOptions{}).Detect(context.Background(), frame.Frame{})
	if err != nil || len(dets) != 0 {
		t.Errorf("Detect() = %v, %v", dets, err)
	}
}

func TestHTTPDetector_Failures(t *testing.T) {
	for _, tc := range []struct {
		name    string
		handler *testHandler
		wantMsg string
	}{
		{"ServerErrorJSON", &testHandler{statusCode: 500, responseBody: `{"error": "model not loaded"}`}, "model not loaded"},
		{"ServerErrorText", &testHandler{statusCode: 502, responseBody: "bad gateway"}, "bad gateway"},
		{"Garbage", &testHandler{responseBody: "not json"}, "decoding response"},
		{"ConfidenceOutOfRange", &testHandler{responseBody: `{"detections": [{"label": "car", "confidence": 1.5, "bbox": {"x1": 0, "y1": 0, "x2": 1, "y2": 1}}]}`}, "outside [0, 1]"},
		{"EmptyBox", &testHandler{responseBody: `{"detections": [{"label": "car", "confidence": 0.5, "bbox": {"x1": 5, "y1": 0, "x2": 5, "y2": 1}}]}`}, "empty bbox"},
		{"MissingLabel", &testHandler{responseBody: `{"detections": [{"confidence": 0.5, "bbox": {"x1": 0, "y1": 0, "x2": 1, "y2": 1}}]}`}, "missing label"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()

			_, err := NewHTTPDetector(srv.URL, HTTPOptions{}).Detect(context.Background(), frame.Frame{})
			if !model.IsKind(err, model.DetectionFailure) {
				t.Fatalf("expected detection failure, got %v", err)
			}
			if !strings.Contains(err.Error(), tc.wantMsg) {
				t.Errorf("error %q does not mention %q", err, tc.wantMsg)
			}
		})
	}
}

func TestHTTPDetector_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	d := NewHTTPDetector(srv.URL, HTTPOptions{Timeout: 20 * time.Millisecond})
	_, err := d.Detect(context.Background(), frame.Frame{})
	if !model.IsKind(err, model.DetectionFailure) {
		t.Errorf("expected detection failure on timeout, got %v", err)
	}
}

func TestFunc(t *testing.T) {
	boom := errors.New("boom")
	var d Detector = Func(func(ctx context.Context, f frame.Frame) ([]model.Detection, error) {
		return nil, boom
	})
	if _, err := d.Detect(context.Background(), frame.Frame{}); !errors.Is(err, boom) {
		t.Errorf("Detect() = %v", err)
	}
}

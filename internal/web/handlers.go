package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/cjeanneret/povfan/internal/logic/fan"
	"github.com/cjeanneret/povfan/internal/logic/geometry"
	"github.com/cjeanneret/povfan/internal/logic/scan"
	"github.com/cjeanneret/povfan/internal/raster"
)

// Request limits.
const (
	MaxBodyBytes     = 1 << 20
	MaxLEDCount      = 1024
	MaxSpacingCm     = 100.0
	MaxRotationHz    = 1000.0
	MinScanIntervalS = 1e-6
	DefaultCooldown  = 5 * time.Second
)

// ScanFunc runs one rotation scan, handing every frame to visit.
// It is called from the POST /scan handler in a goroutine.
type ScanFunc func(ctx context.Context, interval float64, visit func(fan.Frame) error) (int, error)

// ParamsRequest holds the parameters POST /params may change. Absent fields
// are left untouched.
type ParamsRequest struct {
	RotationHz *float64 `json:"rotation_hz,omitempty"`
	LEDCount   *int     `json:"led_count,omitempty"`
	SpacingCm  *float64 `json:"spacing_cm,omitempty"`
	Justify    *bool    `json:"justify,omitempty"`
	Mode       *string  `json:"mode,omitempty"`
}

// ScanRequest is the optional body of POST /scan.
type ScanRequest struct {
	IntervalS float64 `json:"interval_s,omitempty"`
}

// ConfigResponse is the body of GET /config.
type ConfigResponse struct {
	fan.Settings
	PeriodS       float64 `json:"period_s,omitempty"`
	ScanIntervalS float64 `json:"scan_interval_s"`
	Scanning      bool    `json:"scanning"`
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// ValidateParams checks a parameter update before it reaches the fan.
func ValidateParams(p ParamsRequest) error {
	if p.RotationHz == nil && p.LEDCount == nil && p.SpacingCm == nil && p.Justify == nil && p.Mode == nil {
		return errors.New("no parameter given")
	}
	if p.RotationHz != nil {
		if hz := *p.RotationHz; !finite(hz) || math.Abs(hz) > MaxRotationHz {
			return fmt.Errorf("rotation_hz must be between -%g and %g", MaxRotationHz, MaxRotationHz)
		}
	}
	if p.LEDCount != nil && (*p.LEDCount < 1 || *p.LEDCount > MaxLEDCount) {
		return fmt.Errorf("led_count must be between 1 and %d", MaxLEDCount)
	}
	if p.SpacingCm != nil {
		if s := *p.SpacingCm; !finite(s) || s <= 0 || s > MaxSpacingCm {
			return fmt.Errorf("spacing_cm must be > 0 and <= %g", MaxSpacingCm)
		}
	}
	if p.Mode != nil {
		if _, err := geometry.ParseFitMode(*p.Mode); err != nil {
			return err
		}
	}
	return nil
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Fan          *fan.Assembly
	Broadcaster  *StatusBroadcaster
	RunScan      ScanFunc
	ScanInterval float64       // default scan step (s)
	Cooldown     time.Duration // minimum delay between two scan starts

	logger    *slog.Logger
	staticFS  fs.FS
	baseCtx   context.Context
	runningMu sync.Mutex
	running   bool
	lastScan  time.Time
}

// NewHandlers creates handlers with the given dependencies.
// If runScan is nil, POST /scan will return 503 Service Unavailable.
func NewHandlers(f *fan.Assembly, broadcaster *StatusBroadcaster, runScan ScanFunc, scanInterval float64, staticFS fs.FS, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		Fan:          f,
		Broadcaster:  broadcaster,
		RunScan:      runScan,
		ScanInterval: scanInterval,
		Cooldown:     DefaultCooldown,
		logger:       logger,
		staticFS:     staticFS,
		baseCtx:      context.Background(),
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// httpStatus maps engine errors to response codes.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, raster.ErrImageLoad):
		return http.StatusServiceUnavailable
	case errors.Is(err, scan.ErrSamplingPrecondition):
		return http.StatusUnprocessableEntity
	case errors.Is(err, geometry.ErrInvalidParameter), errors.Is(err, geometry.ErrInvalidConfiguration):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handlers) isRunning() bool {
	h.runningMu.Lock()
	defer h.runningMu.Unlock()
	return h.running
}

// HandleConfig returns the current fan settings as JSON.
func (h *Handlers) HandleConfig(w http.ResponseWriter, r *http.Request) {
	resp := ConfigResponse{
		Settings:      h.Fan.Snapshot(),
		ScanIntervalS: h.ScanInterval,
		Scanning:      h.isRunning(),
	}
	if p := h.Fan.Period(); finite(p) {
		resp.PeriodS = p
	}
	writeJSON(w, http.StatusOK, resp)
}

// ServeIndex serves the main HTML page (root path only).
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// HandleSample handles POST /sample?t=<seconds>[&blade=<index>]. It changes
// state: the blades advance by t and the resulting frame is returned.
func (h *Handlers) HandleSample(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	t := 0.0
	if s := q.Get("t"); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || !finite(v) {
			http.Error(w, "t must be a finite number of seconds", http.StatusBadRequest)
			return
		}
		t = v
	}

	var frame fan.Frame
	if s := q.Get("blade"); s != "" {
		i, err := strconv.Atoi(s)
		if err != nil {
			http.Error(w, "blade must be an integer", http.StatusBadRequest)
			return
		}
		bs, err := h.Fan.SampleAt(i, t)
		if err != nil {
			http.Error(w, err.Error(), httpStatus(err))
			return
		}
		frame = fan.Frame{T: t, Blades: []fan.BladeSample{bs}}
	} else {
		f, err := h.Fan.Sample(t)
		if err != nil {
			http.Error(w, err.Error(), httpStatus(err))
			return
		}
		frame = f
	}
	writeJSON(w, http.StatusOK, NewFrameEvent(frame))
}

// HandleParams handles POST /params to change the fan configuration.
func (h *Handlers) HandleParams(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	var p ParamsRequest
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if err := ValidateParams(p); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.applyParams(p); err != nil {
		http.Error(w, err.Error(), httpStatus(err))
		return
	}
	s := h.Fan.Snapshot()
	h.Broadcaster.Broadcast("info", fmt.Sprintf("parameters updated: %d LEDs, %.2f cm spacing, %g Hz, %s",
		s.LEDCount, s.SpacingCm, s.RotationHz, s.Mode))
	writeJSON(w, http.StatusOK, s)
}

// applyParams changes the layout before the LED count so that a packed
// spacing and its LED count can be sent together.
func (h *Handlers) applyParams(p ParamsRequest) error {
	if p.Mode != nil {
		m, _ := geometry.ParseFitMode(*p.Mode)
		if err := h.Fan.SetMode(m); err != nil {
			return err
		}
	}
	if p.Justify != nil {
		if err := h.Fan.SetJustify(*p.Justify); err != nil {
			return err
		}
	}
	if p.SpacingCm != nil {
		if err := h.Fan.SetSpacing(*p.SpacingCm); err != nil {
			return err
		}
	}
	if p.LEDCount != nil {
		if err := h.Fan.SetLEDCount(*p.LEDCount); err != nil {
			return err
		}
	}
	if p.RotationHz != nil {
		if err := h.Fan.SetRotationRate(*p.RotationHz); err != nil {
			return err
		}
	}
	return nil
}

// HandleScan handles POST /scan to start a rotation scan streamed on
// /frames/stream.
func (h *Handlers) HandleScan(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	var req ScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	interval := req.IntervalS
	if interval == 0 {
		interval = h.ScanInterval
	}
	if !(interval >= MinScanIntervalS) {
		http.Error(w, fmt.Sprintf("interval_s must be >= %g, got %g", MinScanIntervalS, interval), http.StatusUnprocessableEntity)
		return
	}

	if err := h.Fan.ImageErr(); err != nil {
		http.Error(w, err.Error(), httpStatus(err))
		return
	}
	frames, err := scan.Frames(h.Fan.Period(), interval)
	if err != nil {
		http.Error(w, err.Error(), httpStatus(err))
		return
	}

	if h.RunScan == nil {
		http.Error(w, "scan not configured", http.StatusServiceUnavailable)
		return
	}

	h.runningMu.Lock()
	if h.running {
		h.runningMu.Unlock()
		http.Error(w, "scan already in progress", http.StatusConflict)
		return
	}
	if !h.lastScan.IsZero() && time.Since(h.lastScan) < h.Cooldown {
		h.runningMu.Unlock()
		http.Error(w, "scan started too recently", http.StatusTooManyRequests)
		return
	}
	h.running = true
	h.lastScan = time.Now()
	h.runningMu.Unlock()

	// Run in goroutine; clear running when done
	go func() {
		defer func() {
			h.runningMu.Lock()
			h.running = false
			h.runningMu.Unlock()
		}()

		n, err := h.RunScan(h.baseCtx, interval, func(f fan.Frame) error {
			h.Broadcaster.BroadcastFrame(f)
			return nil
		})
		if err != nil {
			h.Broadcaster.Broadcast("error", "Scan failed: "+err.Error())
			h.logger.Error("scan failed", "frames", n, "err", err)
		} else {
			h.Broadcaster.Broadcast("info", fmt.Sprintf("Scan complete: %d frames", n))
		}
		h.Broadcaster.BroadcastDone(n, err)
	}()

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":     "started",
		"frames":     frames,
		"interval_s": interval,
	})
}

// HandleFrameStream handles GET /frames/stream for SSE.
func (h *Handlers) HandleFrameStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	// Send initial comment to establish connection
	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	// Heartbeat while idle
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Event, msg.Data)
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

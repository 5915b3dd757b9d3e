package debug

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

// Debug levels
const (
	LevelOff     = 0 // No output
	LevelInfo    = 1 // Important info (fan geometry, timing summary)
	LevelLive    = 2 // Live info (frames sampled, parameter changes)
	LevelVerbose = 3 // Verbose (layouts, conversion factors)
	LevelTrace   = 4 // Trace (per-blade samples, very low level)
)

// slog levels backing each debug level. tint prints the custom ones as
// offsets from DBG/INF.
const (
	SlogInfo    = slog.LevelInfo
	SlogLive    = slog.Level(-2)
	SlogVerbose = slog.LevelDebug
	SlogTrace   = slog.Level(-8)
	slogOff     = slog.Level(100)
)

var (
	mu     sync.Mutex
	level  int
	out    io.Writer = os.Stdout
	logger atomic.Pointer[slog.Logger]
)

func init() {
	rebuild()
}

// Init initializes the debug system with a level (0-4).
// 0 = no output
// 1 = important info (fan geometry, timing summary)
// 2 = live info (frames, parameter changes)
// 3 = verbose (layouts, conversion factors)
// 4 = trace (every blade sample)
func Init(debugLevel int) {
	mu.Lock()
	defer mu.Unlock()
	level = debugLevel
	rebuild()
}

// SetOutput redirects debug output, e.g. to stdout and the web status stream.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
	rebuild()
}

// rebuild must be called with mu held (or from init).
func rebuild() {
	h := tint.NewHandler(out, &tint.Options{
		Level:      slogLevel(level),
		TimeFormat: "15:04:05.000",
		NoColor:    !isTerminal(out),
	})
	logger.Store(slog.New(h).With("app", "povfan"))
}

func slogLevel(l int) slog.Level {
	switch {
	case l <= LevelOff:
		return slogOff
	case l == LevelInfo:
		return SlogInfo
	case l == LevelLive:
		return SlogLive
	case l == LevelVerbose:
		return SlogVerbose
	default:
		return SlogTrace
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}

// Level returns the current debug level.
func Level() int {
	mu.Lock()
	defer mu.Unlock()
	return level
}

// IsEnabled returns true if debug level is >= the requested level.
func IsEnabled(minLevel int) bool {
	return Level() >= minLevel
}

// Logger returns the structured logger behind the debug functions, for
// components that take a *slog.Logger.
func Logger() *slog.Logger {
	return logger.Load()
}

func logf(l slog.Level, format string, args ...any) {
	lg := logger.Load()
	if !lg.Enabled(context.Background(), l) {
		return
	}
	lg.Log(context.Background(), l, fmt.Sprintf(format, args...))
}

// --- Level 1 functions (Info): important info ---

// Info prints a level 1 message (important info).
func Info(format string, args ...any) {
	logf(SlogInfo, format, args...)
}

// Summary prints an important summary title (level 1).
func Summary(title string) {
	logf(SlogInfo, "═══ %s ═══", title)
}

// Geometry prints the fan geometry (level 1).
func Geometry(blades, leds int, hz float64, mode string) {
	logger.Load().Log(context.Background(), SlogInfo, "fan geometry",
		"blades", blades, "leds_per_blade", leds, "hz", hz, "mode", mode)
}

// Value prints a named value (level 1).
func Value(name string, value any) {
	logger.Load().Log(context.Background(), SlogInfo, name, "value", value)
}

// --- Level 2 functions (Live): real-time info ---

// Live prints a level 2 message (live info).
func Live(format string, args ...any) {
	logf(SlogLive, format, args...)
}

// Frame prints a sampled frame (level 2).
func Frame(index int, t float64, lit, total int) {
	logger.Load().Log(context.Background(), SlogLive, "frame sampled",
		"index", index, "t", t, "lit", lit, "leds", total)
}

// --- Level 3 functions (Verbose): everything ---

// Verbose prints a level 3 message (verbose).
func Verbose(format string, args ...any) {
	logf(SlogVerbose, format, args...)
}

// Section prints a section separator (level 3).
func Section(name string) {
	logf(SlogVerbose, "━━━ %s ━━━", name)
}

// Step prints a numbered step (level 3).
func Step(num int, description string) {
	logf(SlogVerbose, "Step %d: %s", num, description)
}

// PrintStruct prints a struct in formatted form (level 3).
func PrintStruct(name string, v any) {
	logf(SlogVerbose, "%s: %+v", name, v)
}

// Layout prints a blade layout (level 3).
func Layout(leds int, spacing float64, radii []float64) {
	logger.Load().Log(context.Background(), SlogVerbose, "blade layout",
		"leds", leds, "spacing_cm", spacing, "radii_cm", radii)
}

// --- Level 4 functions (Trace): very low level ---

// Trace prints a level 4 message (trace).
func Trace(format string, args ...any) {
	logf(SlogTrace, format, args...)
}

// --- General functions ---

// Error prints a debug error (level 1+).
func Error(err error) {
	logger.Load().Log(context.Background(), slog.LevelError, "error", "err", err)
}

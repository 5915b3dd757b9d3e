package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/cjeanneret/povfan/internal/config"
	"github.com/cjeanneret/povfan/internal/debug"
	"github.com/cjeanneret/povfan/internal/logic/fan"
	"github.com/cjeanneret/povfan/internal/logic/geometry"
	"github.com/cjeanneret/povfan/internal/logic/scan"
	"github.com/cjeanneret/povfan/internal/render"
	"github.com/cjeanneret/povfan/internal/web"
)

const usage = `usage: povfan [flags] [sim|timing|sample|serve]

Commands:
  sim     scan one rotation and plot every LED position in its color (default)
  timing  measure how fast the sampling loop runs against the rotation rate
  sample  print the LEDs of every blade at --time seconds
  serve   start the web viewer (same as --web)

Flags:
`

var defaultConfigPath = filepath.Join("configs", "default.yaml")

// overrides holds the CLI values that replace configuration entries.
// Zero values mean "use config".
type overrides struct {
	Image    string
	LEDs     int
	Blades   int
	Hz       float64
	Mode     string
	Interval float64 // s
	Duration float64 // s
	Out      string
	Verbose  int
	Parallel bool
}

// cli is the parsed command line.
type cli struct {
	configPath     string
	configExplicit bool
	command        string
	sampleTime     float64
	web            *webPortFlag
	overrides      overrides
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		log.Fatalf("povfan: %v", err)
	}
}

func parseFlags(args []string, stderr io.Writer) (*cli, error) {
	c := &cli{web: &webPortFlag{defaultPort: 8080}}
	o := &c.overrides

	flags := pflag.NewFlagSet("povfan", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.Usage = func() {
		fmt.Fprint(stderr, usage)
		flags.PrintDefaults()
	}
	flags.StringVarP(&c.configPath, "config", "c", defaultConfigPath, "path to config file (built-in defaults when the default file is missing)")
	flags.StringVarP(&o.Image, "image", "i", "", "override source image path")
	flags.IntVar(&o.LEDs, "leds", 0, "override LEDs per blade")
	flags.IntVar(&o.Blades, "blades", 0, "override blade count")
	flags.Float64Var(&o.Hz, "hz", 0, "override rotation rate in Hz (negative = clockwise)")
	flags.StringVarP(&o.Mode, "mode", "m", "", "override fitting mode (inscribe, circum_tb, circum_lr)")
	flags.Float64Var(&o.Interval, "interval", 0, "override scan time step in seconds")
	flags.Float64Var(&o.Duration, "duration", 0, "override timing run length in seconds")
	flags.StringVarP(&o.Out, "out", "o", "", "override plot output path (.png, .svg, .pdf)")
	flags.BoolVarP(&o.Parallel, "parallel", "p", false, "sample blades concurrently")
	flags.CountVarP(&o.Verbose, "verbose", "v", "raise debug level (-v info, -vv live, -vvv verbose, -vvvv trace)")
	flags.Float64VarP(&c.sampleTime, "time", "t", 0, "time in seconds for the sample command")
	flags.VarP(c.web, "web", "w", "start web server on port; --web for default 8080, --web=8980 for a custom port")
	flags.Lookup("web").NoOptDefVal = strconv.Itoa(c.web.defaultPort)

	if err := flags.Parse(args); err != nil {
		return nil, err
	}
	c.configExplicit = flags.Changed("config")

	switch flags.NArg() {
	case 0:
		c.command = "sim"
		if c.web.port() > 0 {
			c.command = "serve"
		}
	case 1:
		c.command = flags.Arg(0)
	default:
		return nil, fmt.Errorf("expected at most one command, got %v", flags.Args())
	}
	switch c.command {
	case "sim", "timing", "sample", "serve":
	default:
		return nil, fmt.Errorf("unknown command %q", c.command)
	}
	if math.IsNaN(c.sampleTime) || math.IsInf(c.sampleTime, 0) || c.sampleTime < 0 {
		return nil, fmt.Errorf("time must be a finite value >= 0, got %g", c.sampleTime)
	}
	return c, nil
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	c, err := parseFlags(args, os.Stderr)
	if err != nil {
		return err
	}

	// Load configuration
	cfg, err := loadConfig(c.configPath, c.configExplicit)
	if err != nil {
		return fmt.Errorf("load config failed: %w", err)
	}

	// Validate CLI overrides (only non-zero values are applied; zero means "use config default")
	if err := validateCLIOverrides(c.overrides); err != nil {
		return fmt.Errorf("invalid CLI override: %w", err)
	}
	applyOverrides(cfg, c.overrides)

	// Initialize debug system
	debug.Init(cfg.Defaults.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Config path", c.configPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)
	debug.Value("Command", c.command)

	var broadcaster *web.StatusBroadcaster
	if c.command == "serve" {
		// Redirect before the fan logger is derived so it streams too.
		broadcaster = web.NewStatusBroadcaster()
		debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(broadcaster)))
	}

	debug.Step(1, "Building fan")
	f, err := newFan(cfg)
	if err != nil {
		return fmt.Errorf("build fan: %w", err)
	}
	s := f.Snapshot()
	debug.Geometry(s.BladeCount, s.LEDCount, s.RotationHz, s.Mode.String())
	debug.Layout(s.LEDCount, s.SpacingCm, s.RadiiCm)
	if err := f.ImageErr(); err != nil {
		debug.Error(err)
	}

	switch c.command {
	case "timing":
		return runTiming(ctx, cfg, f, stdout)
	case "sample":
		return runSample(f, c.sampleTime, stdout)
	case "serve":
		addr := cfg.Web.Listen
		if port := c.web.port(); port > 0 {
			addr = fmt.Sprintf(":%d", port)
		}
		return runServe(ctx, cfg, f, broadcaster, addr)
	default:
		return runSim(ctx, cfg, f, stdout)
	}
}

// loadConfig reads path. The default path may be absent, in which case the
// built-in defaults are used.
func loadConfig(path string, explicit bool) (*config.Config, error) {
	if err := config.ValidateConfigPath(path); err != nil {
		return nil, err
	}
	cfg, err := config.Load(path)
	if err != nil && !explicit && errors.Is(err, fs.ErrNotExist) {
		return config.Default(), nil
	}
	return cfg, err
}

func newFan(cfg *config.Config) (*fan.Assembly, error) {
	opts := cfg.FanOptions()
	opts.Logger = debug.Logger().With("component", "fan")
	return fan.New(opts)
}

// runSim scans one rotation and saves the plot of every sampled LED.
func runSim(ctx context.Context, cfg *config.Config, f *fan.Assembly, w io.Writer) error {
	debug.Step(2, "Scanning one rotation")
	debug.Value("Interval (s)", cfg.Defaults.SimIntervalS)

	plt := render.NewRotationPlot()
	frames, err := scan.RotationScan(ctx, f, cfg.Defaults.SimIntervalS, plt.Add)
	if err != nil {
		return fmt.Errorf("rotation scan: %w", err)
	}

	debug.Step(3, "Rendering plot")
	s := f.Snapshot()
	title := fmt.Sprintf("%d blades, %d LEDs, %s", s.BladeCount, s.LEDCount, s.Mode)
	if err := plt.Save(cfg.Defaults.PlotPath, render.Options{Title: title, MaxRadius: s.MaxRadiusCm}); err != nil {
		return err
	}

	debug.Summary("Simulation Summary")
	debug.Value("Frames", frames)
	debug.Value("Points", plt.Len())
	fmt.Fprintf(w, "%d frames, %d points written to %s\n", frames, plt.Len(), cfg.Defaults.PlotPath)
	return nil
}

// runTiming repeatedly samples the fan and reports the achieved refresh rate.
func runTiming(ctx context.Context, cfg *config.Config, f *fan.Assembly, w io.Writer) error {
	debug.Step(2, "Measuring loop timing")
	debug.Value("Duration", cfg.TimingDuration())

	durations, err := scan.MeasureLoopTiming(ctx, f, cfg.TimingDuration())
	if err != nil {
		return fmt.Errorf("loop timing: %w", err)
	}
	summary := scan.Summarize(durations, f.Snapshot().RotationHz)

	debug.Summary("Timing Summary")
	debug.Info("%d passes, mean %s, refresh %.1f Hz", summary.Passes, summary.Mean, summary.RefreshHz)
	debug.PrintStruct("Summary", summary)
	fmt.Fprintln(w, summary.String())
	return nil
}

// runSample prints the state of every blade t seconds after start.
func runSample(f *fan.Assembly, t float64, w io.Writer) error {
	frame, err := f.Sample(t)
	if err != nil {
		return fmt.Errorf("sample: %w", err)
	}
	frame.T = t
	for _, b := range frame.Blades {
		debug.Live("blade %d at %.2f° (%.4f rotations): %d/%d LEDs lit",
			b.Index, b.Angle, b.Rotations, b.Lit(), len(b.Colors))
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(frame)
}

// runServe starts the web viewer. Scans stream every frame to connected
// clients.
func runServe(ctx context.Context, cfg *config.Config, f *fan.Assembly, broadcaster *web.StatusBroadcaster, addr string) error {
	debug.Step(2, "Starting web server")
	debug.Value("Listen", addr)

	runScan := func(ctx context.Context, interval float64, visit func(fan.Frame) error) (int, error) {
		return scan.RotationScan(ctx, f, interval, visit)
	}
	h := web.NewHandlers(f, broadcaster, runScan, cfg.Web.ScanIntervalS, nil, debug.Logger().With("component", "web"))
	srv, err := web.NewServer(addr, h)
	if err != nil {
		return err
	}
	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("web server: %w", err)
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// validateCLIOverrides checks that non-zero CLI overrides are within valid ranges.
// Zero values are ignored (they mean "use config default").
func validateCLIOverrides(o overrides) error {
	if o.LEDs != 0 && (o.LEDs < 1 || o.LEDs > web.MaxLEDCount) {
		return fmt.Errorf("leds must be between 1 and %d, got %d", web.MaxLEDCount, o.LEDs)
	}
	if o.Blades < 0 {
		return fmt.Errorf("blades must be >= 1, got %d", o.Blades)
	}
	if o.Hz != 0 && (!finite(o.Hz) || math.Abs(o.Hz) > web.MaxRotationHz) {
		return fmt.Errorf("hz must be between -%g and %g, got %g", web.MaxRotationHz, web.MaxRotationHz, o.Hz)
	}
	if o.Mode != "" {
		if _, err := geometry.ParseFitMode(o.Mode); err != nil {
			return err
		}
	}
	if o.Interval != 0 && (!finite(o.Interval) || o.Interval < 0) {
		return fmt.Errorf("interval must be > 0, got %g", o.Interval)
	}
	if o.Duration != 0 && (!finite(o.Duration) || o.Duration < 0) {
		return fmt.Errorf("duration must be > 0, got %g", o.Duration)
	}
	if o.Verbose > debug.LevelTrace {
		return fmt.Errorf("verbose may be repeated at most %d times", debug.LevelTrace)
	}
	return nil
}

// applyOverrides mutates cfg with overrides. Only non-zero override values are applied.
func applyOverrides(cfg *config.Config, o overrides) {
	if o.Image != "" {
		cfg.Fan.Image = o.Image
	}
	if o.LEDs > 0 {
		cfg.Fan.LEDCount = o.LEDs
	}
	if o.Blades > 0 {
		cfg.Fan.BladeCount = o.Blades
	}
	if o.Hz != 0 {
		cfg.Fan.RotationHz = o.Hz
	}
	if o.Mode != "" {
		cfg.Fan.Mode = o.Mode
	}
	if o.Interval > 0 {
		cfg.Defaults.SimIntervalS = o.Interval
	}
	if o.Duration > 0 {
		cfg.Defaults.TimingDurationS = o.Duration
	}
	if o.Out != "" {
		cfg.Defaults.PlotPath = o.Out
	}
	if o.Verbose > 0 {
		cfg.Defaults.DebugLevel = o.Verbose
	}
	if o.Parallel {
		cfg.Defaults.Parallel = true
	}
}

// webPortFlag implements pflag.Value for --web: 0 = disabled, --web or --web= → 8080, --web=8980 → 8980.
type webPortFlag struct {
	val         int
	defaultPort int
}

func (w *webPortFlag) String() string {
	if w.val == 0 {
		return "0"
	}
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.val = w.defaultPort
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.val = v
	return nil
}

func (w *webPortFlag) Type() string { return "port" }

func (w *webPortFlag) port() int { return w.val }

// Package main provides the CLI entrypoint for midibeat.
package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/avolkin/midibeat/internal/config"
	"github.com/avolkin/midibeat/internal/midiin"
	"github.com/avolkin/midibeat/internal/model"
	"github.com/avolkin/midibeat/internal/remote"
	"github.com/avolkin/midibeat/internal/tempo"
	"github.com/avolkin/midibeat/internal/tui"
)

const (
	defaultDevice     = "/dev/midi1"
	defaultRemotePort = 7777
)

var (
	flagDevice       string
	flagMinBPM       float64
	flagMaxBPM       float64
	flagResolution   float64
	flagToleranceMs  float64
	flagTolerancePct float64
	flagFalloff      string
	flagMaxHarmonic  int
	flagRemote       bool
	flagRemotePort   int
	flagVerbose      bool
)

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "midibeat",
		Short:         "Real-time MIDI tempo detector",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE:          runDashboardCmd,
	}

	addDetectionFlags(rootCmd)
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newDevicesCmd())
	rootCmd.AddCommand(newConfigCmd())

	return rootCmd
}

func addDetectionFlags(cmd *cobra.Command) {
	def := model.DefaultDetection()
	cmd.Flags().StringVar(&flagDevice, "device", defaultDevice, "raw MIDI device node")
	cmd.Flags().Float64Var(&flagMinBPM, "min-bpm", def.Range.Min, "lower bound of the tempo search range")
	cmd.Flags().Float64Var(&flagMaxBPM, "max-bpm", def.Range.Max, "upper bound of the tempo search range")
	cmd.Flags().Float64Var(&flagResolution, "resolution", def.Resolution, "curve bin width in BPM")
	cmd.Flags().Float64Var(&flagToleranceMs, "tolerance-ms", float64(def.Tolerance.Absolute.Milliseconds()), "absolute timing tolerance in milliseconds")
	cmd.Flags().Float64Var(&flagTolerancePct, "tolerance-pct", 0, "relative timing tolerance in percent (overrides --tolerance-ms)")
	cmd.Flags().StringVar(&flagFalloff, "falloff", string(def.Tolerance.Shape), "vote falloff shape: gaussian or triangular")
	cmd.Flags().IntVar(&flagMaxHarmonic, "max-harmonic", def.MaxHarmonic, "highest beat multiple and subdivision to consider")
	cmd.Flags().BoolVar(&flagRemote, "remote", false, "push tempo changes to TCP clients")
	cmd.Flags().IntVar(&flagRemotePort, "remote-port", defaultRemotePort, "TCP port for tempo push")
	cmd.Flags().BoolVar(&flagVerbose, "verbose", false, "enable debug logging")
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Headless monitor: log tempo changes without a dashboard",
		Args:  cobra.NoArgs,
		RunE:  runHeadlessCmd,
	}
	addDetectionFlags(cmd)
	return cmd
}

func newDevicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List raw MIDI device nodes",
		Args:  cobra.NoArgs,
		RunE:  runDevicesCmd,
	}
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Create/open config file",
		Args:  cobra.NoArgs,
		RunE:  runConfigCmd,
	}
}

// session bundles everything both UI modes share: the engine, the MIDI
// source, and the optional remote push server.
type session struct {
	engine *tempo.Engine
	source *midiin.Source
	remote *remote.Server
	device string
	log    *zap.Logger
}

func buildSession(cmd *cobra.Command, log *zap.Logger) (*session, error) {
	fileCfg, err := config.LoadConfig(config.DefaultConfigPath())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	detection, err := fileCfg.Detection()
	if err != nil {
		return nil, err
	}
	applyDetectionFlags(cmd, &detection)
	if err := detection.Validate(); err != nil {
		return nil, err
	}

	device := fileCfg.Device(defaultDevice)
	if cmd.Flags().Changed("device") {
		device = flagDevice
	}

	engine, err := tempo.NewEngine(detection)
	if err != nil {
		return nil, err
	}

	s := &session{
		engine: engine,
		source: midiin.NewSource(device, engine, log),
		device: device,
		log:    log,
	}

	remoteOn := fileCfg.RemoteEnabled(false)
	if cmd.Flags().Changed("remote") {
		remoteOn = flagRemote
	}
	if remoteOn {
		port := flagRemotePort
		if !cmd.Flags().Changed("remote-port") {
			if port, err = fileCfg.RemotePort(defaultRemotePort); err != nil {
				return nil, err
			}
		}
		s.remote = remote.NewServer(fmt.Sprintf(":%d", port), engine, log)
	}
	return s, nil
}

// applyDetectionFlags overrides file-derived settings with any flags
// the user set explicitly.
func applyDetectionFlags(cmd *cobra.Command, d *model.Detection) {
	flags := cmd.Flags()
	if flags.Changed("min-bpm") {
		d.Range.Min = flagMinBPM
	}
	if flags.Changed("max-bpm") {
		d.Range.Max = flagMaxBPM
	}
	if flags.Changed("resolution") {
		d.Resolution = flagResolution
	}
	if flags.Changed("tolerance-ms") {
		d.Tolerance.Absolute = time.Duration(flagToleranceMs * float64(time.Millisecond))
		d.Tolerance.Relative = 0
	}
	if flags.Changed("tolerance-pct") {
		d.Tolerance.Relative = flagTolerancePct / 100
		d.Tolerance.Absolute = 0
	}
	if flags.Changed("falloff") {
		d.Tolerance.Shape = model.FalloffShape(flagFalloff)
	}
	if flags.Changed("max-harmonic") {
		d.MaxHarmonic = flagMaxHarmonic
	}
}

// start launches the analysis worker, MIDI reader, and remote server.
// The source failing is fatal for the session, so its error lands in
// errc for the caller to surface.
func (s *session) start(ctx context.Context) <-chan error {
	errc := make(chan error, 1)
	go s.engine.Run(ctx)
	go func() {
		if err := s.source.Run(ctx); err != nil && ctx.Err() == nil {
			errc <- err
		}
	}()
	if s.remote != nil {
		go func() {
			if err := s.remote.Run(ctx); err != nil && ctx.Err() == nil {
				s.log.Error("remote server stopped", zap.Error(err))
			}
		}()
	}
	return errc
}

func runDashboardCmd(cmd *cobra.Command, _ []string) error {
	// The dashboard owns the terminal, so logs go to a file.
	log, err := buildLogger(flagVerbose, config.DefaultLogPath())
	if err != nil {
		return err
	}
	defer log.Sync()

	s, err := buildSession(cmd, log)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := s.start(ctx)

	dash := tui.NewModel(s.engine, s.device)
	if err := tui.Run(dash); err != nil {
		return err
	}
	select {
	case err := <-errc:
		return err
	default:
		return nil
	}
}

func runHeadlessCmd(cmd *cobra.Command, _ []string) error {
	log, err := buildLogger(flagVerbose, "")
	if err != nil {
		return err
	}
	defer log.Sync()

	s, err := buildSession(cmd, log)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	errc := s.start(ctx)

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	var lastGen uint64
	var lastBPM float64
	for {
		select {
		case <-ctx.Done():
			log.Info("shutting down")
			return nil
		case err := <-errc:
			return err
		case <-ticker.C:
			snap := s.engine.Snapshot()
			if snap.Generation == lastGen {
				continue
			}
			lastGen = snap.Generation
			if !snap.Estimate.OK || snap.Estimate.BPM == lastBPM {
				continue
			}
			lastBPM = snap.Estimate.BPM
			log.Info("tempo",
				zap.Float64("bpm", snap.Estimate.BPM),
				zap.Float64("confidence", snap.Estimate.Confidence),
				zap.Int("onsets", snap.Onsets))
		}
	}
}

func runDevicesCmd(cmd *cobra.Command, _ []string) error {
	devices, err := midiin.ListDevices()
	if err != nil {
		return fmt.Errorf("failed to scan MIDI devices: %w", err)
	}
	if len(devices) == 0 {
		return fmt.Errorf("no raw MIDI device nodes found")
	}
	for _, d := range devices {
		if _, err := fmt.Fprintln(cmd.OutOrStdout(), d); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
	}
	return nil
}

func runConfigCmd(_ *cobra.Command, _ []string) error {
	path := config.DefaultConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to stat config: %w", err)
		}
		if err := os.WriteFile(path, []byte(defaultConfigTemplate()), 0o644); err != nil {
			return fmt.Errorf("failed to write config: %w", err)
		}
	}

	editor := strings.TrimSpace(os.Getenv("EDITOR"))
	if editor == "" {
		editor = "vi"
	}
	parts := strings.Fields(editor)
	if len(parts) == 0 {
		return fmt.Errorf("editor command is empty")
	}
	cmd := exec.Command(parts[0], append(parts[1:], path)...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to open editor: %w", err)
	}
	return nil
}

// buildLogger creates a zap logger. With an empty path it logs to
// stderr, human-readable on a terminal and JSON when piped; otherwise
// to the file, creating parent directories.
func buildLogger(verbose bool, path string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if path != "" || term.IsTerminal(int(os.Stderr.Fd())) {
		cfg.Encoding = "console"
		cfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	}
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		cfg.OutputPaths = []string{path}
		cfg.ErrorOutputPaths = []string{path}
	} else {
		cfg.OutputPaths = []string{"stderr"}
		cfg.ErrorOutputPaths = []string{"stderr"}
	}
	log, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return log, nil
}

func defaultConfigTemplate() string {
	def := model.DefaultDetection()
	return fmt.Sprintf(`# midibeat configuration
# Uncomment a value to enable it. CLI flags override config values.

[midi]
# device = %q        # Raw MIDI device node

[remote]
# enabled = false          # Push tempo changes to TCP clients
# port = %d              # TCP port for tempo push

[tempo]
# min-bpm = %.0f             # Lower bound of the tempo search range
# max-bpm = %.0f            # Upper bound of the tempo search range
# resolution = %.1f         # Curve bin width in BPM
# tolerance-ms = %.0f        # Absolute timing tolerance in milliseconds
# tolerance-pct = 4.0      # Relative tolerance in percent (replaces tolerance-ms)
# falloff = %q      # Vote falloff shape: gaussian or triangular
# max-harmonic = %d         # Highest beat multiple and subdivision to consider
# harmonic-decay = %.1f     # Weight decay per harmonic order
# max-onsets = %d          # Onset window capacity
# max-age-sec = %.0f        # Onset window age limit in seconds
# min-interval-ms = %.0f    # Shortest interval treated as rhythmic
# min-intervals = %d        # Evidence floor for a confident estimate
# min-prominence = %.1f     # Peak-over-mean floor for a confident estimate
# hysteresis = %.1f         # Score margin a challenger needs to displace the estimate
# smoothing-bins = %d       # Curve smoothing window in bins
# min-age-weight = %.2f     # Weight floor for the oldest interval
# velocity-weight = %.1f    # Influence of note velocities on interval weight
# pitch-weight = %.1f       # Influence of pitch-class distance on interval weight
# octave-weight = %.1f      # Influence of octave distance on interval weight
`,
		defaultDevice,
		defaultRemotePort,
		def.Range.Min,
		def.Range.Max,
		def.Resolution,
		float64(def.Tolerance.Absolute.Milliseconds()),
		string(def.Tolerance.Shape),
		def.MaxHarmonic,
		def.HarmonicDecay,
		def.Window.MaxOnsets,
		def.Window.MaxAge.Seconds(),
		float64(def.MinInterval.Milliseconds()),
		def.MinIntervals,
		def.MinProminence,
		def.HysteresisMargin,
		def.SmoothingBins,
		def.MinAgeWeight,
		def.VelocityWeight,
		def.PitchWeight,
		def.OctaveWeight,
	)
}

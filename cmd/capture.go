package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"firestige.xyz/satchel/internal/capture"
	"firestige.xyz/satchel/internal/config"
	"firestige.xyz/satchel/internal/core"
	"firestige.xyz/satchel/internal/export"
	"firestige.xyz/satchel/internal/gamedata"
	"firestige.xyz/satchel/internal/inventory"
	"firestige.xyz/satchel/internal/log"
	"firestige.xyz/satchel/internal/metrics"
	"firestige.xyz/satchel/internal/pipeline"
	"firestige.xyz/satchel/internal/reporter"
)

// User-facing outcome messages.
const (
	msgFatal   = "session failed to extract data, please relaunch the game with capture running"
	msgPartial = "data extracted, some records may be missing or incomplete"
)

// captureCmd represents the capture command
var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Capture a game session and export its inventory",
	Long: `Capture game traffic until Ctrl-C, the end of the capture source or a
fatal session error, then export the accumulated inventory as GOOD JSON.

Start the capture before launching the game: the session key is recovered from
the handshake at the start of the connection.

Examples:
  satchel capture                              # Live capture with the default backend, export to stdout
  satchel capture -b afpacket -o good.json     # Live capture with AF_PACKET, export to a file
  satchel capture --file session.pcap          # Replay a capture file`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if err := runCapture(ctx, captureOpts, os.Stdout, os.Stderr); err != nil {
			exitWithError("capture failed", err)
		}
	},
}

type captureOptions struct {
	backend            string
	file               string
	output             string
	gamedata           string
	skipPrivilegeCheck bool
}

var captureOpts captureOptions

func init() {
	captureCmd.Flags().StringVarP(&captureOpts.backend, "backend", "b", "",
		"capture backend (see 'satchel backends'; overrides capture.backend)")
	captureCmd.Flags().StringVar(&captureOpts.file, "file", "",
		"replay a pcap/pcapng file (implies --backend file)")
	captureCmd.Flags().StringVarP(&captureOpts.output, "output", "o", "",
		"export file path, '-' for stdout (overrides export.output)")
	captureCmd.Flags().StringVar(&captureOpts.gamedata, "gamedata", "",
		"game data catalog YAML (overrides export.gamedata)")
	captureCmd.Flags().BoolVar(&captureOpts.skipPrivilegeCheck, "skip-privilege-check", false,
		"do not warn when running without elevated privileges")
}

// loadCaptureConfig loads the config file and applies flag overrides.
func loadCaptureConfig(path string, opts captureOptions) (*config.GlobalConfig, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if opts.file != "" {
		cfg.Capture.File = opts.file
		if opts.backend == "" {
			cfg.Capture.Backend = "file"
		}
	}
	if opts.backend != "" {
		cfg.Capture.Backend = opts.backend
	}
	if opts.output != "" {
		cfg.Export.Output = opts.output
	}
	if opts.gamedata != "" {
		cfg.Export.GameData = opts.gamedata
	}
	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runCapture(ctx context.Context, opts captureOptions, stdout, stderr io.Writer) error {
	cfg, err := loadCaptureConfig(configFile, opts)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := log.Init(cfg.Log); err != nil {
		return fmt.Errorf("failed to init logging: %w", err)
	}
	defer log.Close()

	catalog, err := gamedata.Load(cfg.Export.GameData)
	if err != nil {
		return fmt.Errorf("failed to load game data: %w", err)
	}

	if capture.RequiresPrivilege(cfg.Capture.Backend) && !opts.skipPrivilegeCheck && os.Geteuid() != 0 {
		fmt.Fprintf(stderr, "Warning: backend %q usually needs root or CAP_NET_RAW; capture may fail\n", cfg.Capture.Backend)
	}

	if cfg.Metrics.Enabled {
		srv := metrics.NewServer(cfg.Metrics)
		if err := srv.Start(); err != nil {
			return err
		}
		defer srv.Stop(context.Background())
	}

	backend, err := capture.New(cfg.Capture.Backend, cfg.Capture)
	if err != nil {
		return err
	}

	fan, err := buildReporters(ctx, cfg.Reporters)
	if err != nil {
		return err
	}
	defer fan.Close()

	builder := pipeline.NewBuilder().
		WithGlobalConfig(cfg).
		WithBackend(backend).
		WithReporters(fan)
	if cfg.Capture.Dump.Enabled {
		rec, err := capture.NewRecorder(cfg.Capture.Dump.Path, cfg.Capture.SnapLen)
		if err != nil {
			return err
		}
		defer rec.Close()
		builder.WithRecorder(rec)
	}
	p, err := builder.Build()
	if err != nil {
		return err
	}

	fmt.Fprintf(stderr, "Capturing with %s backend, press Ctrl-C to stop\n", backend.Name())
	res, runErr := p.Run(ctx)
	return deliver(ctx, res, runErr, catalog, export.SettingsFromConfig(cfg.Export), cfg.Export.Output, fan, stdout, stderr)
}

// deliver projects the run result, writes the export and tells the user how
// complete it is.
func deliver(ctx context.Context, res *pipeline.Result, runErr error, catalog *gamedata.Catalog,
	settings export.Settings, output string, rep reporter.Reporter, stdout, stderr io.Writer) error {
	if res == nil || res.Snapshot.Empty() {
		if runErr != nil {
			fmt.Fprintln(stderr, msgFatal)
			return runErr
		}
		fmt.Fprintln(stderr, "no inventory observed; start the capture before launching the game")
		return nil
	}

	good, err := export.Project(res.Snapshot, catalog, settings)
	if err != nil {
		return fmt.Errorf("failed to project inventory: %w", err)
	}
	data, err := export.Marshal(good)
	if err != nil {
		return fmt.Errorf("failed to serialize export: %w", err)
	}
	if err := writeExport(output, data, stdout); err != nil {
		return err
	}

	sessionID := ""
	partial := runErr != nil
	if last := res.Last(); last != nil {
		sessionID = last.ID
		partial = partial || last.Stats.DecodeErrors > 0 || last.Stats.OrphanDeltas > 0
	}
	if rep != nil {
		if err := rep.Export(context.WithoutCancel(ctx), sessionID, data); err != nil {
			slog.Warn("export publish failed", "error", err)
		}
	}

	counts := res.Snapshot.Counts()
	slog.Info("export written",
		"output", outputName(output),
		"characters", len(good.Characters),
		"weapons", len(good.Weapons),
		"artifacts", len(good.Artifacts),
		"materials", len(good.Materials),
		"observed_artifacts", counts[inventory.KindArtifact])

	if partial {
		fmt.Fprintln(stderr, msgPartial)
		if runErr != nil && !errors.Is(runErr, core.ErrFramingError) {
			return runErr
		}
	}
	return nil
}

func outputName(path string) string {
	if path == "" || path == "-" {
		return "stdout"
	}
	return path
}

func writeExport(path string, data []byte, stdout io.Writer) error {
	if path == "" || path == "-" {
		_, err := stdout.Write(append(data, '\n'))
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write export: %w", err)
	}
	return nil
}

// buildReporters returns the log reporter plus every enabled remote reporter.
// Reporters already created are closed when a later one fails.
func buildReporters(ctx context.Context, cfg config.ReportersConfig) (reporter.Fanout, error) {
	fan := reporter.Fanout{reporter.NewLogReporter(nil)}
	add := func(r reporter.Reporter, err error) error {
		if err != nil {
			fan.Close()
			return err
		}
		fan = append(fan, r)
		return nil
	}
	if cfg.Kafka.Enabled {
		if err := add(reporter.NewKafkaReporter(cfg.Kafka)); err != nil {
			return nil, err
		}
	}
	if cfg.NATS.Enabled {
		if err := add(reporter.NewNATSReporter(cfg.NATS)); err != nil {
			return nil, err
		}
	}
	if cfg.Redis.Enabled {
		if err := add(reporter.NewRedisReporter(ctx, cfg.Redis)); err != nil {
			return nil, err
		}
	}
	return fan, nil
}

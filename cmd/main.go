package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"sleepywoodpecker/rtgraph/internal/config"
	"sleepywoodpecker/rtgraph/internal/logger"
	"sleepywoodpecker/rtgraph/internal/processing"
	"sleepywoodpecker/rtgraph/internal/producer"
	rserial "sleepywoodpecker/rtgraph/internal/rSerial"
)

type opts struct {
	configPath string
	duration   time.Duration
	cfg        *config.Config
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	o := &opts{cfg: config.Default()}
	if err := newRootCommand(o).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCommand(o *opts) *cobra.Command {
	root := &cobra.Command{
		Use:   "rtgraph",
		Short: "Real time plotting of multi-sensor readings",
		Long: `rtgraph launches a producer (a subprocess, or a serial device), reads one
record of comma separated sensor values per line, keeps a short history per
sensor and periodically renders an intensity map and a per-sensor scatter
plot as PNG files.

Examples:
  rtgraph -c "python3 sim.py" -p sensors.txt -n 64
  rtgraph --source serial -c /dev/ttyUSB0 --baud 460800 -p sensors.txt -i -b 20`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.resolve(cmd); err != nil {
				return err
			}
			return run(cmd.Context(), *o)
		},
	}

	d := config.Default()
	f := root.Flags()
	f.StringVar(&o.configPath, "config", "", "JSON config file; flags override its values")
	f.DurationVar(&o.duration, "duration", 0, "stop after this long (0 = run until Ctrl-C)")
	f.StringP("command", "c", d.Command, "producer command line, or device path with --source serial")
	f.String("source", d.Source, "producer kind: exec or serial")
	f.Int("baud", d.BaudRate, "serial baud rate")
	f.IntP("sensors", "n", d.Sensors, "number of sensors per record")
	f.IntP("buffer-size", "b", d.BufferSize, "samples kept per sensor")
	f.BoolP("integration", "i", d.Integration, "aggregate the whole buffer instead of the newest sample")
	f.String("reduction", d.Reduction, "integration reduction: mean or sum")
	f.String("delimiter", d.Delimiter, "field delimiter of producer records")
	f.StringP("positions", "p", d.PositionsFile, "sensor position file (rows of: x y sensor_index)")
	f.Duration("poll-interval", time.Duration(d.PollInterval), "queue polling interval")
	f.Duration("stop-grace", time.Duration(d.StopGrace), "time given to the producer to exit before it is killed")
	f.Float64("color-min", d.ColorMin, "intensity at the low end of the colour scale")
	f.Float64("color-max", d.ColorMax, "intensity at the high end of the colour scale")
	f.StringP("output-dir", "o", d.OutputDir, "directory for rendered PNG files")
	f.Int("render-every", d.RenderEvery, "render every Nth frame (0 = never)")
	f.String("log-file", d.LogFile, "log file path (empty = stdout only)")
	f.StringP("log-level", "l", d.LogLevel, "log level: debug, info, warn, error")
	f.Int("log-max-size", d.LogMaxSizeMB, "rotate the log file after this many megabytes")
	f.Int("log-max-backups", d.LogMaxBackups, "rotated log files to keep")

	return root
}

// resolve layers the config file, then explicitly set flags, over the
// defaults.
func (o *opts) resolve(cmd *cobra.Command) error {
	if o.configPath != "" {
		cfg, err := config.Load(o.configPath)
		if err != nil {
			return err
		}
		o.cfg = cfg
	}

	f := cmd.Flags()
	var errs []error
	set := func(name string, apply func() error) {
		if f.Changed(name) {
			errs = append(errs, apply())
		}
	}
	c := o.cfg
	set("command", func() (err error) { c.Command, err = f.GetString("command"); return })
	set("source", func() (err error) { c.Source, err = f.GetString("source"); return })
	set("baud", func() (err error) { c.BaudRate, err = f.GetInt("baud"); return })
	set("sensors", func() (err error) { c.Sensors, err = f.GetInt("sensors"); return })
	set("buffer-size", func() (err error) { c.BufferSize, err = f.GetInt("buffer-size"); return })
	set("integration", func() (err error) { c.Integration, err = f.GetBool("integration"); return })
	set("reduction", func() (err error) { c.Reduction, err = f.GetString("reduction"); return })
	set("delimiter", func() (err error) { c.Delimiter, err = f.GetString("delimiter"); return })
	set("positions", func() (err error) { c.PositionsFile, err = f.GetString("positions"); return })
	set("poll-interval", func() error {
		v, err := f.GetDuration("poll-interval")
		c.PollInterval = config.Duration(v)
		return err
	})
	set("stop-grace", func() error {
		v, err := f.GetDuration("stop-grace")
		c.StopGrace = config.Duration(v)
		return err
	})
	set("color-min", func() (err error) { c.ColorMin, err = f.GetFloat64("color-min"); return })
	set("color-max", func() (err error) { c.ColorMax, err = f.GetFloat64("color-max"); return })
	set("output-dir", func() (err error) { c.OutputDir, err = f.GetString("output-dir"); return })
	set("render-every", func() (err error) { c.RenderEvery, err = f.GetInt("render-every"); return })
	set("log-file", func() (err error) { c.LogFile, err = f.GetString("log-file"); return })
	set("log-level", func() (err error) { c.LogLevel, err = f.GetString("log-level"); return })
	set("log-max-size", func() (err error) { c.LogMaxSizeMB, err = f.GetInt("log-max-size"); return })
	set("log-max-backups", func() (err error) { c.LogMaxBackups, err = f.GetInt("log-max-backups"); return })

	if err := errors.Join(errs...); err != nil {
		return err
	}
	if c.Command == "" {
		return errors.New("no producer command: pass --command or set \"command\" in the config file")
	}
	return c.Validate()
}

func run(ctx context.Context, o opts) error {
	cfg := o.cfg

	log, err := logger.NewLogger(cfg.LogFile, cfg.LogLevel, logger.Rotation{
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
	})
	if err != nil {
		return err
	}
	defer log.Sync()

	log.Info("Starting rtgraph",
		zap.String("platform", runtime.GOOS+"/"+runtime.GOARCH),
		zap.String("go", runtime.Version()),
		zap.String("source", cfg.Source),
	)
	defer log.Info("Finishing rtgraph")

	reduction, err := processing.ParseReduction(cfg.Reduction)
	if err != nil {
		return err
	}

	var launcher producer.Launcher
	switch cfg.Source {
	case config.SourceSerial:
		launcher = rserial.NewLauncher(cfg.BaudRate, log)
	default:
		launcher = &producer.ExecLauncher{Logger: log, WaitDelay: time.Duration(cfg.StopGrace)}
	}

	queue := producer.NewQueue()
	channel := producer.NewChannel(queue, launcher, time.Duration(cfg.StopGrace), log)

	ctrl, err := processing.NewController(processing.Options{
		Command:     cfg.Command,
		NumSensors:  cfg.Sensors,
		BufferSize:  cfg.BufferSize,
		Integration: cfg.Integration,
		Reduction:   reduction,
		Delimiter:   cfg.Delimiter[0],
		ColorMin:    cfg.ColorMin,
		ColorMax:    cfg.ColorMax,
	}, channel, queue, log)
	if err != nil {
		return err
	}

	if cfg.PositionsFile != "" {
		if err := loadPositions(ctrl, cfg.PositionsFile, log); err != nil {
			return err
		}
	}

	if o.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.duration)
		defer cancel()
	}

	d := newDisplay(ctrl, cfg, log)
	return d.Run(ctx)
}

func loadPositions(ctrl *processing.Controller, path string, log *zap.Logger) error {
	log.Info("Loading sensor description file", zap.String("path", path))

	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	xs, ys, indices, err := processing.ReadTopology(file)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return ctrl.LoadTopology(xs, ys, indices)
}

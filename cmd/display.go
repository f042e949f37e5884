package main

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"sleepywoodpecker/rtgraph/internal/config"
	"sleepywoodpecker/rtgraph/internal/processing"
)

const MAP_FILE = "map.png"
const SCATTER_FILE = "scatter.png"

// display stands in for a plotting window: it drives the controller from a
// refresh timer and writes each Nth frame to disk.
type display struct {
	ctrl   *processing.Controller
	cfg    *config.Config
	logger *zap.Logger
	frames int
}

func newDisplay(ctrl *processing.Controller, cfg *config.Config, logger *zap.Logger) *display {
	return &display{
		ctrl:   ctrl,
		cfg:    cfg,
		logger: logger,
	}
}

func (d *display) Run(ctx context.Context) error {
	if err := d.ctrl.Start(); err != nil {
		return err
	}

	ticker := time.NewTicker(time.Duration(d.cfg.PollInterval))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			err := d.ctrl.Stop()
			if errors.Is(err, processing.ErrNotAcquiring) {
				err = nil
			}
			d.logStats()
			return err
		case <-ticker.C:
			if err := d.tick(); err != nil {
				d.ctrl.Stop()
				d.logStats()
				return err
			}
		}
	}
}

// tick is one refresh: drain, and project and maybe render when something
// new arrived.
func (d *display) tick() error {
	start := time.Now()

	values, err := d.ctrl.DrainAndParse()
	if len(values) > 0 {
		grid := d.ctrl.ProjectMap()
		scatter := d.ctrl.ProjectScatter()
		d.frames++

		if d.cfg.RenderEvery > 0 && d.frames%d.cfg.RenderEvery == 0 {
			d.render(grid, scatter)
		}

		elapsed := time.Since(start)
		if elapsed > 0 {
			d.logger.Debug("[display] frame", zap.Int("frame", d.frames), zap.Float64("fps", 1/elapsed.Seconds()))
		}
	}
	return err
}

func (d *display) render(grid *processing.Grid, scatter processing.Scatter) {
	colors := d.ctrl.Colors()
	mapPath := filepath.Join(d.cfg.OutputDir, MAP_FILE)
	if err := renderMap(grid, colors, mapPath); err != nil && !errors.Is(err, errNothingToRender) {
		d.logger.Warn("[display] could not render intensity map", zap.Error(err), zap.String("path", mapPath))
	}
	scatterPath := filepath.Join(d.cfg.OutputDir, SCATTER_FILE)
	if err := renderScatter(scatter, colors, scatterPath); err != nil && !errors.Is(err, errNothingToRender) {
		d.logger.Warn("[display] could not render scatter plot", zap.Error(err), zap.String("path", scatterPath))
	}
}

func (d *display) logStats() {
	s := d.ctrl.Stats()
	d.logger.Info("[display] acquisition summary",
		zap.Int("frames", d.frames),
		zap.Uint64("drains", s.Drains),
		zap.Uint64("records", s.Records),
		zap.Uint64("malformed", s.Malformed),
		zap.Uint64("dropped", s.Dropped),
	)
}

// Package batch runs the extent, clip, rasterize and overview stages over every
// AOI tile of a directory, isolating per tile failures and resuming previous
// runs.
package batch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/airbusgeo/landmask"
	"github.com/airbusgeo/landmask/internal/log"
	"github.com/google/uuid"
	"github.com/tbonfort/gobs"
	"go.uber.org/zap"
)

// State is the progress of a tile through the pipeline.
type State string

const (
	Pending        State = "PENDING"
	ExtentResolved State = "EXTENT_RESOLVED"
	Clipped        State = "CLIPPED"
	Rasterized     State = "RASTERIZED"
	Pyramided      State = "PYRAMIDED"
	Done           State = "DONE"
	Skipped        State = "SKIPPED"
	Failed         State = "FAILED"
)

// SummaryName is the file the run summary is written to in the output
// directory.
const SummaryName = "summary.yaml"

// Result is the outcome of one tile. Stage is the last state reached before a
// failure.
type Result struct {
	Tile     string          `json:"tile"`
	State    State           `json:"state"`
	Stage    State           `json:"stage,omitempty"`
	Reason   string          `json:"reason,omitempty"`
	Raster   string          `json:"raster,omitempty"`
	Stats    *landmask.Stats `json:"stats,omitempty"`
	Duration float64         `json:"seconds,omitempty"`
	Err      error           `json:"-"`
}

// Failure is a failed tile as listed in the summary.
type Failure struct {
	Tile   string `json:"tile"`
	Stage  State  `json:"stage"`
	Reason string `json:"reason"`
}

// Summary aggregates the results of a run.
type Summary struct {
	RunID    string    `json:"runId"`
	Tiles    int       `json:"tiles"`
	Done     int       `json:"done"`
	Skipped  int       `json:"skipped"`
	Failed   int       `json:"failed"`
	Failures []Failure `json:"failures,omitempty"`
	Results  []Result  `json:"-"`
}

// FailedTilesError is returned by Run when tiles failed and the configuration
// asks for failures to be fatal.
type FailedTilesError struct {
	Count int
}

func (e FailedTilesError) Error() string {
	return fmt.Sprintf("%d tiles failed", e.Count)
}

// Orchestrator drives a batch. The stage implementations are pluggable so that
// the gdal backend or test doubles can replace the native ones.
type Orchestrator struct {
	cfg        landmask.Config
	clipper    landmask.Clipper
	rasterizer landmask.Rasterizer
	overviews  landmask.OverviewBuilder
	params     runParams
}

type Option func(*Orchestrator)

func WithClipper(c landmask.Clipper) Option {
	return func(o *Orchestrator) { o.clipper = c }
}

func WithRasterizer(r landmask.Rasterizer) Option {
	return func(o *Orchestrator) { o.rasterizer = r }
}

func WithOverviewBuilder(b landmask.OverviewBuilder) Option {
	return func(o *Orchestrator) { o.overviews = b }
}

// New validates cfg and sets up the native stage implementations for the
// stages not provided through options. All failures are ConfigErrors.
func New(cfg landmask.Config, opts ...Option) (*Orchestrator, error) {
	if err := cfg.ValidateBatch(); err != nil {
		return nil, err
	}
	params, err := newRunParams(cfg)
	if err != nil {
		return nil, err
	}
	o := &Orchestrator{cfg: cfg, params: params}
	for _, opt := range opts {
		opt(o)
	}
	if o.clipper == nil {
		o.clipper = landmask.NewVectorClipper(&landmask.LazyLandLayer{Path: cfg.LandPath})
	}
	if o.rasterizer == nil {
		o.rasterizer = landmask.NewNativeRasterizer(
			landmask.BurnSemantic(cfg.Nodata),
			landmask.AllTouched(cfg.AllTouched))
	}
	if o.overviews == nil {
		o.overviews = landmask.NewNativeOverviewBuilder()
	}
	return o, nil
}

// Run processes every tile of the input directory. Tile failures are recorded
// in the summary and do not stop the batch. Once ctx is cancelled no new tile
// is started; tiles already running are completed, the others are reported as
// interrupted failures. The summary is also written to the output directory.
func (o *Orchestrator) Run(ctx context.Context) (Summary, error) {
	sum := Summary{RunID: uuid.New().String()}
	tiles, err := landmask.ScanTiles(o.cfg.InputDir, o.cfg.Prefix)
	if err != nil {
		return sum, err
	}
	if err := os.MkdirAll(o.cfg.OutputDir, 0o755); err != nil {
		return sum, landmask.ConfigError{Option: "output", Msg: err.Error()}
	}
	ctx = log.With(ctx, zap.String("run", sum.RunID))
	log.Logger(ctx).Info("starting batch",
		zap.Int("tiles", len(tiles)),
		zap.String("input", o.cfg.InputDir),
		zap.Float64("resolution", o.cfg.Resolution))

	var (
		mu      sync.Mutex
		results []Result
	)
	record := func(r Result) {
		mu.Lock()
		results = append(results, r)
		mu.Unlock()
	}

	pool := gobs.NewPool(o.cfg.Workers)
	batch := pool.Batch()
	for i, t := range tiles {
		if ctx.Err() != nil {
			for _, rest := range tiles[i:] {
				record(interrupted(rest))
			}
			break
		}
		t := t
		batch.Submit(func() error {
			if ctx.Err() != nil {
				record(interrupted(t))
				return nil
			}
			record(o.safeProcess(ctx, t))
			return nil
		})
	}
	_ = batch.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Tile < results[j].Tile })
	sum.Results = results
	sum.Tiles = len(results)
	for _, r := range results {
		switch r.State {
		case Done:
			sum.Done++
		case Skipped:
			sum.Skipped++
		default:
			sum.Failed++
			sum.Failures = append(sum.Failures, Failure{Tile: r.Tile, Stage: r.Stage, Reason: r.Reason})
		}
	}
	if err := writeYAML(filepath.Join(o.cfg.OutputDir, SummaryName), sum); err != nil {
		log.Logger(ctx).Error("failed to write summary", zap.Error(err))
	}
	log.Logger(ctx).Info("batch finished",
		zap.Int("done", sum.Done),
		zap.Int("skipped", sum.Skipped),
		zap.Int("failed", sum.Failed))
	if o.cfg.FailOnError && sum.Failed > 0 {
		return sum, FailedTilesError{Count: sum.Failed}
	}
	return sum, nil
}

func interrupted(t landmask.Tile) Result {
	return Result{Tile: t.ID, State: Failed, Stage: Pending, Reason: "interrupted", Err: context.Canceled}
}

func (o *Orchestrator) safeProcess(ctx context.Context, t landmask.Tile) (res Result) {
	start := time.Now()
	ctx = log.With(ctx, zap.String("tile", t.ID))
	res = Result{Tile: t.ID, State: Pending}
	defer func() {
		if p := recover(); p != nil {
			res.Err = fmt.Errorf("panic: %v", p)
		}
		res.Duration = time.Since(start).Seconds()
		if res.Err != nil {
			res.Stage = res.State
			res.State = Failed
			res.Reason = res.Err.Error()
			log.Logger(ctx).Warn("tile failed", zap.String("stage", string(res.Stage)), zap.Error(res.Err))
			return
		}
		log.Logger(ctx).Debug("tile processed", zap.String("state", string(res.State)),
			zap.Float64("seconds", res.Duration))
	}()
	// in-flight tiles run to completion even when the batch is interrupted
	o.process(context.WithoutCancel(ctx), t, &res)
	return res
}

// process advances res through the pipeline states, leaving it at the last
// state reached and setting res.Err on failure.
func (o *Orchestrator) process(ctx context.Context, t landmask.Tile, res *Result) {
	cfg := o.cfg
	manifestPath := filepath.Join(cfg.OutputDir, t.ManifestName(cfg.Resolution))
	fp, err := o.params.fingerprint(t)
	if err != nil {
		res.Err = landmask.ExtentParseError{Tile: t.ID, Err: err}
		return
	}
	if !cfg.Force {
		if m, ok := completed(cfg.OutputDir, manifestPath, fp); ok {
			res.State = Skipped
			res.Raster = m.Raster
			stats := m.Stats
			res.Stats = &stats
			return
		}
	}
	if err := removeStale(manifestPath); err != nil {
		res.Err = landmask.RasterizeError{Tile: t.ID, Err: err}
		return
	}

	aoi, err := landmask.LoadAOI(t)
	if err != nil {
		res.Err = err
		return
	}
	res.State = ExtentResolved

	clipName := t.ClipName()
	features, err := o.clipper.Clip(ctx, aoi, filepath.Join(cfg.OutputDir, clipName))
	if err != nil {
		res.Err = err
		return
	}
	res.State = Clipped

	grid, err := landmask.NewGrid(aoi.Extent, cfg.Resolution)
	if err != nil {
		res.Err = landmask.RasterizeError{Tile: t.ID, Err: err}
		return
	}
	rasterName := t.RasterName(cfg.Resolution)
	rasterPath := filepath.Join(cfg.OutputDir, rasterName)
	stats, err := o.rasterizer.Rasterize(ctx, landmask.RasterizeRequest{
		AOI:      aoi,
		ClipPath: filepath.Join(cfg.OutputDir, clipName),
		Grid:     grid,
		Dst:      rasterPath,
	})
	if err != nil {
		res.Err = err
		return
	}
	res.State = Rasterized
	res.Raster = rasterName
	res.Stats = &stats

	if len(cfg.OverviewFactors) > 0 {
		if err := o.overviews.BuildOverviews(ctx, rasterPath, cfg.OverviewFactors); err != nil {
			res.Err = err
			return
		}
	}
	res.State = Pyramided

	m := Manifest{
		Tile:         t.ID,
		Fingerprint:  fp,
		Resolution:   cfg.Resolution,
		Extent:       grid.Extent().String(),
		Width:        grid.Width,
		Height:       grid.Height,
		Clip:         clipName,
		Raster:       rasterName,
		Features:     features,
		Overviews:    cfg.OverviewFactors,
		Stats:        stats,
		LandFraction: stats.LandFraction(),
	}
	if err := writeYAML(manifestPath, m); err != nil {
		res.Err = landmask.OverviewError{Path: rasterPath, Err: fmt.Errorf("write manifest: %w", err)}
		return
	}
	res.State = Done
	log.Logger(ctx).Info("tile done",
		zap.Int("features", features),
		zap.Int64("land", stats.Land),
		zap.Float64("landFraction", stats.LandFraction()))
}

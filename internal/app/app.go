// Package app wires configuration, runtime, metrics and the SGEMM pipeline
// into an fx application.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/fxnlabs/clsgemm/internal/backend"
	"github.com/fxnlabs/clsgemm/internal/compute"
	"github.com/fxnlabs/clsgemm/internal/compute/host"
	"github.com/fxnlabs/clsgemm/internal/config"
	"github.com/fxnlabs/clsgemm/internal/metrics"
	"github.com/fxnlabs/clsgemm/internal/sgemm"
	"github.com/fxnlabs/clsgemm/internal/verify"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

// ErrVerificationFailed is returned by Runner.Run when C disagrees with the
// host reference.
var ErrVerificationFailed = errors.New("result verification failed")

// Module provides the runtime, the metrics recorder, the pipeline and the
// Runner. A *config.Config and a *zap.Logger must be supplied.
var Module = fx.Module("clsgemm",
	fx.Provide(
		NewRuntime,
		NewRecorder,
		NewPipeline,
		NewRunner,
	),
)

// New builds the application with fx events logged through logger.
func New(cfg *config.Config, logger *zap.Logger, opts ...fx.Option) *fx.App {
	return fx.New(append([]fx.Option{
		fx.Supply(cfg, logger),
		fx.WithLogger(func(l *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: l.Named("fx")}
		}),
		Module,
	}, opts...)...)
}

type RuntimeParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    *config.Config
	Logger    *zap.Logger
	// HostOptions overrides the emulated platforms of the host backend.
	HostOptions *host.Options `optional:"true"`
}

// NewRuntime opens the configured backend and closes it on stop.
func NewRuntime(p RuntimeParams) (compute.Runtime, error) {
	rt, err := backend.Open(p.Config.Runtime.Backend, p.HostOptions, p.Logger)
	if err != nil {
		return nil, err
	}
	p.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return rt.Close()
		},
	})
	return rt, nil
}

// NewRecorder creates the run metrics. When a textfile is configured the
// metrics are written there on stop.
func NewRecorder(lc fx.Lifecycle, cfg *config.Config, rt compute.Runtime, logger *zap.Logger) *metrics.Recorder {
	rec := metrics.NewRecorder(rt.Name())
	rec.SetDims(cfg.Matrix.N, cfg.Matrix.K, cfg.Matrix.M)
	if path := cfg.Metrics.Textfile; path != "" {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if err := rec.WriteTextfile(path); err != nil {
					return fmt.Errorf("failed to write metrics textfile: %w", err)
				}
				logger.Debug("Metrics written", zap.String("path", path))
				return nil
			},
		})
	}
	return rec
}

func NewPipeline(rt compute.Runtime, rec *metrics.Recorder, logger *zap.Logger) *sgemm.Pipeline {
	return sgemm.NewPipeline(rt, logger, sgemm.WithObserver(rec))
}

// Report is what one Runner.Run produced.
type Report struct {
	Backend      string
	Result       *sgemm.Result
	Verification *verify.Report
}

// Runner executes the configured run.
type Runner struct {
	cfg      *config.Config
	runtime  compute.Runtime
	pipeline *sgemm.Pipeline
	logger   *zap.Logger
}

func NewRunner(cfg *config.Config, rt compute.Runtime, pipeline *sgemm.Pipeline, logger *zap.Logger) *Runner {
	return &Runner{cfg: cfg, runtime: rt, pipeline: pipeline, logger: logger.Named("runner")}
}

// Run builds A and B from the configuration, runs the pipeline and, when
// enabled, verifies C. A verification mismatch returns the report together
// with ErrVerificationFailed.
func (r *Runner) Run() (*Report, error) {
	m := r.cfg.Matrix
	a := m.A.Build(m.N, m.K)
	b := m.B.Build(m.K, m.M)

	res, err := r.pipeline.Run(sgemm.Options{
		PlatformName: r.cfg.Platform.Name,
		Kernel:       sgemm.KernelSource{Path: r.cfg.Kernel.Path, Source: r.cfg.Kernel.Source},
		EntryPoint:   r.cfg.Kernel.EntryPoint,
		BuildOptions: r.cfg.Kernel.BuildOptions,
		A:            a,
		B:            b,
		Debug:        r.cfg.Debug,
	})
	if err != nil {
		return nil, err
	}
	report := &Report{Backend: r.runtime.Name(), Result: res}

	if !r.cfg.Verify.Enabled {
		return report, nil
	}
	vr, err := verify.Verify(a, b, res.C, verify.Options{
		SampleRows:      r.cfg.Verify.SampleRows,
		Tolerance:       r.cfg.Verify.Tolerance,
		FreivaldsRounds: r.cfg.Verify.FreivaldsRounds,
		Seed:            m.A.Seed + 1,
	})
	if err != nil {
		return report, err
	}
	report.Verification = &vr
	r.logger.Info("Verification finished",
		zap.Bool("ok", vr.OK()),
		zap.Int("checked", vr.Checked),
		zap.Int("mismatches", vr.Mismatches),
		zap.Float64("max_rel_error", vr.MaxRelError),
		zap.String("digest", vr.Digest))
	if !vr.OK() {
		return report, ErrVerificationFailed
	}
	return report, nil
}

// Package sgemm drives one SGEMM run on a compute device: select a device,
// allocate buffers, compile the kernel, dispatch it and read C back.
package sgemm

import (
	"fmt"
	"time"

	"github.com/fxnlabs/clsgemm/internal/compute"
	"github.com/fxnlabs/clsgemm/internal/matrix"
	"github.com/fxnlabs/clsgemm/kernels"
	"go.uber.org/zap"
)

// Stage names reported to an Observer.
const (
	StageSelect   = "select"
	StageAllocate = "allocate"
	StageCompile  = "compile"
	StageDispatch = "dispatch"
	StageTransfer = "transfer"
)

// Observer receives timings of a run. Implementations must be safe to call
// from the goroutine running the pipeline.
type Observer interface {
	ObserveStage(stage string, d time.Duration)
	ObserveKernel(d time.Duration, flops float64)
	ObserveRun(kind string, err error)
}

type nopObserver struct{}

func (nopObserver) ObserveStage(string, time.Duration)   {}
func (nopObserver) ObserveKernel(time.Duration, float64) {}
func (nopObserver) ObserveRun(string, error)             {}

// Options configure one run.
type Options struct {
	// PlatformName is matched as a substring of platform names.
	PlatformName string
	Kernel       KernelSource
	EntryPoint   string
	BuildOptions string

	A *matrix.Matrix
	B *matrix.Matrix

	// Debug logs previews of A, B and C.
	Debug bool
}

// Result is the outcome of a successful run.
type Result struct {
	C         *matrix.Matrix
	Dims      Dims
	Elapsed   time.Duration
	Partition WorkPartition
	Platform  compute.PlatformInfo
	Device    compute.DeviceInfo
	Build     compute.BuildInfo
	Stages    map[string]time.Duration
}

// GFLOPS is the kernel throughput.
func (r *Result) GFLOPS() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return r.Dims.FLOPs() / float64(r.Elapsed.Nanoseconds())
}

// Pipeline runs SGEMM on a runtime.
type Pipeline struct {
	runtime  compute.Runtime
	logger   *zap.Logger
	observer Observer
}

// Option customises a Pipeline.
type Option func(*Pipeline)

// WithObserver reports timings to o.
func WithObserver(o Observer) Option {
	return func(p *Pipeline) {
		if o != nil {
			p.observer = o
		}
	}
}

// NewPipeline returns a pipeline on rt.
func NewPipeline(rt compute.Runtime, logger *zap.Logger, opts ...Option) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pipeline{runtime: rt, logger: logger.Named("pipeline"), observer: nopObserver{}}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run executes Select, Allocate, Compile, Dispatch and Transfer in order.
// The first failure aborts the run. Every handle acquired is released before
// Run returns, in reverse order of acquisition.
func (p *Pipeline) Run(opts Options) (res *Result, err error) {
	defer func() {
		kind := ""
		if err != nil {
			kind = KindOf(err).String()
		}
		p.observer.ObserveRun(kind, err)
	}()

	if opts.A == nil || opts.B == nil {
		return nil, &Error{Kind: KindOther, Op: "validate", Err: fmt.Errorf("matrices A and B are required")}
	}
	if opts.A.Cols != opts.B.Rows {
		return nil, &Error{Kind: KindOther, Op: "validate", Err: fmt.Errorf("A is %d×%d and B is %d×%d, inner dimensions differ",
			opts.A.Rows, opts.A.Cols, opts.B.Rows, opts.B.Cols)}
	}
	dims := Dims{N: opts.A.Rows, K: opts.A.Cols, M: opts.B.Cols}
	if err := dims.validate(); err != nil {
		return nil, &Error{Kind: KindOther, Op: "validate", Err: err}
	}
	res = &Result{Dims: dims, Stages: map[string]time.Duration{}}
	stage := func(name string, start time.Time) {
		d := time.Since(start)
		res.Stages[name] = d
		p.observer.ObserveStage(name, d)
	}

	if opts.Debug {
		p.logger.Debug("Matrix A", zap.Stringer("a", opts.A))
		p.logger.Debug("Matrix B", zap.Stringer("b", opts.B))
	}

	start := time.Now()
	sel, err := SelectDevice(p.runtime, opts.PlatformName)
	if err != nil {
		return nil, err
	}
	stage(StageSelect, start)
	res.Platform, res.Device = sel.PlatformInfo, sel.DeviceInfo
	p.logger.Info("Selected device",
		zap.String("platform", sel.PlatformInfo.Name),
		zap.String("device", sel.DeviceInfo.Name),
		zap.Int("compute_units", sel.DeviceInfo.MaxComputeUnits))

	start = time.Now()
	ctx, err := sel.Device.NewContext()
	if err != nil {
		return nil, runtimeError(StageAllocate, err)
	}
	defer p.release("context", ctx.Release)
	q, err := ctx.CreateQueue(sel.Device, compute.QueueProfiling)
	if err != nil {
		return nil, runtimeError(StageAllocate, err)
	}
	defer p.release("queue", q.Release)
	c := matrix.Zeros(dims.N, dims.M)
	bufs, err := AllocateBuffers(ctx, q, opts.A, opts.B, c)
	if err != nil {
		return nil, err
	}
	defer p.release("buffers", bufs.Release)
	stage(StageAllocate, start)

	start = time.Now()
	source, err := LoadKernelSource(opts.Kernel)
	if err != nil {
		return nil, err
	}
	entry := opts.EntryPoint
	if entry == "" {
		entry = kernels.SgemmEntryPoint
	}
	prog, err := CompileKernel(ctx, sel.Device, source, WithDimDefine(opts.BuildOptions, dims.K), entry, p.logger)
	if err != nil {
		return nil, err
	}
	defer p.release("program", prog.Release)
	res.Build = prog.Info
	stage(StageCompile, start)

	start = time.Now()
	res.Partition = Partition(dims.N, sel.DeviceInfo.MaxComputeUnits)
	res.Elapsed, err = Dispatch(q, prog.Kernel, dims, res.Partition, bufs, p.logger)
	if err != nil {
		return nil, err
	}
	stage(StageDispatch, start)
	p.observer.ObserveKernel(res.Elapsed, dims.FLOPs())

	start = time.Now()
	res.C, err = ReadResult(q, bufs.C, dims.N, dims.M)
	if err != nil {
		return nil, err
	}
	stage(StageTransfer, start)

	if opts.Debug {
		p.logger.Debug("Matrix C", zap.Stringer("c", res.C))
	}
	p.logger.Info("Kernel finished",
		zap.Duration("elapsed", res.Elapsed),
		zap.Float64("gflops", res.GFLOPS()),
		zap.Int("global", res.Partition.Global),
		zap.Int("local", res.Partition.Local))
	return res, nil
}

func (p *Pipeline) release(what string, release func() error) {
	if err := release(); err != nil {
		p.logger.Warn("Failed to release "+what, zap.Error(err))
	}
}

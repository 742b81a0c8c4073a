package sgemm

import (
	"fmt"
	"math"
	"time"

	"github.com/fxnlabs/clsgemm/internal/compute"
	"go.uber.org/zap"
)

// Dims are the matrix dimensions: A is N×K, B is K×M, C is N×M.
type Dims struct {
	N int
	K int
	M int
}

// FLOPs is the floating point operation count of one multiply.
func (d Dims) FLOPs() float64 {
	return 2 * float64(d.N) * float64(d.K) * float64(d.M)
}

func (d Dims) validate() error {
	if d.N <= 0 || d.K <= 0 || d.M <= 0 {
		return fmt.Errorf("dimensions must be positive, got n=%d k=%d m=%d", d.N, d.K, d.M)
	}
	if d.N > math.MaxUint32 || d.K > math.MaxUint32 || d.M > math.MaxUint32 {
		return fmt.Errorf("dimensions must fit in 32 bits, got n=%d k=%d m=%d", d.N, d.K, d.M)
	}
	return nil
}

// WorkPartition is the 1-D launch geometry.
type WorkPartition struct {
	Global       int
	Local        int
	ComputeUnits int
	// Remainder is Global mod Local, the size of a trailing partial group.
	Remainder int
}

// Uniform reports whether Local evenly divides Global.
func (p WorkPartition) Uniform() bool {
	return p.Local > 0 && p.Remainder == 0
}

// Groups returns the number of work-groups, counting a partial one.
func (p WorkPartition) Groups() int {
	if p.Local == 0 {
		return 0
	}
	return (p.Global + p.Local - 1) / p.Local
}

// Validate rejects a zero local size.
func (p WorkPartition) Validate() error {
	if p.Local <= 0 {
		return fmt.Errorf("%w: %d rows over %d compute units", ErrZeroLocalSize, p.Global, p.ComputeUnits)
	}
	return nil
}

// Partition splits global work-items over the device's compute units:
// local = floor(global / computeUnits). The result is not validated; a
// device with more units than rows yields Local == 0.
func Partition(global, computeUnits int) WorkPartition {
	p := WorkPartition{Global: global, ComputeUnits: computeUnits}
	if computeUnits > 0 {
		p.Local = global / computeUnits
	}
	if p.Local > 0 {
		p.Remainder = global % p.Local
	}
	return p
}

// Dispatch binds the kernel arguments, launches one work-item per row of C,
// drains the queue and returns the kernel's device execution time from the
// launch event's profiling counters. The queue must have profiling enabled.
//
// A zero local size fails with KindRuntimeDevice wrapping ErrZeroLocalSize
// before anything is launched. A non-uniform partition is logged and
// launched as is.
func Dispatch(q compute.Queue, k compute.Kernel, dims Dims, part WorkPartition, bufs *Buffers, logger *zap.Logger) (time.Duration, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := dims.validate(); err != nil {
		return 0, &Error{Kind: KindOther, Op: "dispatch", Err: err}
	}
	if err := part.Validate(); err != nil {
		return 0, runtimeError("dispatch", err)
	}
	if !part.Uniform() {
		logger.Warn("Local size does not divide global size, trailing work-group is partial",
			zap.Int("global", part.Global),
			zap.Int("local", part.Local),
			zap.Int("remainder", part.Remainder))
	}

	setters := []func() error{
		func() error { return k.SetArgUint32(0, uint32(dims.N)) },
		func() error { return k.SetArgUint32(1, uint32(dims.K)) },
		func() error { return k.SetArgUint32(2, uint32(dims.M)) },
		func() error { return k.SetArgBuffer(3, bufs.A) },
		func() error { return k.SetArgBuffer(4, bufs.B) },
		func() error { return k.SetArgBuffer(5, bufs.C) },
		func() error { return k.SetArgLocal(6, compute.ByteSize(dims.K)) },
	}
	for i, set := range setters {
		if err := set(); err != nil {
			return 0, runtimeError("dispatch", fmt.Errorf("argument %d: %w", i, err))
		}
	}

	ev, err := q.EnqueueNDRangeKernel(k, []int{part.Global}, []int{part.Local})
	if err != nil {
		return 0, runtimeError("dispatch", err)
	}
	defer func() {
		if err := ev.Release(); err != nil {
			logger.Warn("Failed to release launch event", zap.Error(err))
		}
	}()
	if err := q.Finish(); err != nil {
		return 0, runtimeError("dispatch", err)
	}
	prof, err := ev.Profile()
	if err != nil {
		return 0, runtimeError("dispatch", err)
	}
	return prof.Elapsed(), nil
}

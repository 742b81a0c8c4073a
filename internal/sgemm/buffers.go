package sgemm

import (
	"errors"
	"fmt"

	"github.com/fxnlabs/clsgemm/internal/compute"
	"github.com/fxnlabs/clsgemm/internal/matrix"
)

// Buffers are the device buffers of one run.
type Buffers struct {
	A compute.Buffer
	B compute.Buffer
	C compute.Buffer

	// WriteA is the pending upload of A's host data.
	WriteA compute.Event
}

// AllocateBuffers creates A read-only, B read-only initialised from host
// memory and C write-only, each as large as its host matrix, then queues a
// non-blocking write of a into A. On failure everything created so far is
// released.
//
// a must stay unmodified until q has been drained.
func AllocateBuffers(ctx compute.Context, q compute.Queue, a, b, c *matrix.Matrix) (_ *Buffers, err error) {
	bufs := &Buffers{}
	defer func() {
		if err != nil {
			_ = bufs.Release()
		}
	}()

	if bufs.A, err = ctx.CreateBuffer(compute.MemReadOnly, a.ByteSize(), nil); err != nil {
		return nil, runtimeError("allocate", fmt.Errorf("buffer A: %w", err))
	}
	if bufs.B, err = ctx.CreateBuffer(compute.MemReadOnly|compute.MemCopyHostPtr, b.ByteSize(), b.Data); err != nil {
		return nil, runtimeError("allocate", fmt.Errorf("buffer B: %w", err))
	}
	if bufs.C, err = ctx.CreateBuffer(compute.MemWriteOnly, c.ByteSize(), nil); err != nil {
		return nil, runtimeError("allocate", fmt.Errorf("buffer C: %w", err))
	}
	if bufs.WriteA, err = q.EnqueueWriteBuffer(bufs.A, false, a.Data); err != nil {
		return nil, runtimeError("allocate", fmt.Errorf("write A: %w", err))
	}
	return bufs, nil
}

// Release frees the buffers in reverse creation order.
func (b *Buffers) Release() error {
	var errs []error
	if b.WriteA != nil {
		errs = append(errs, b.WriteA.Release())
		b.WriteA = nil
	}
	for _, buf := range []*compute.Buffer{&b.C, &b.B, &b.A} {
		if *buf != nil {
			errs = append(errs, (*buf).Release())
			*buf = nil
		}
	}
	return errors.Join(errs...)
}

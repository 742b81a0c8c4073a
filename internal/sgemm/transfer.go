package sgemm

import (
	"github.com/fxnlabs/clsgemm/internal/compute"
	"github.com/fxnlabs/clsgemm/internal/matrix"
)

// ReadResult copies buffer c into a new rows×cols host matrix with a
// blocking read.
func ReadResult(q compute.Queue, c compute.Buffer, rows, cols int) (*matrix.Matrix, error) {
	out := matrix.Zeros(rows, cols)
	ev, err := q.EnqueueReadBuffer(c, true, out.Data)
	if ev != nil {
		defer ev.Release()
	}
	if err != nil {
		return nil, runtimeError("transfer", err)
	}
	return out, nil
}

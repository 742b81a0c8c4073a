package host

import (
	"fmt"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// SgemmKernelName is the entry point of the SGEMM kernel.
const SgemmKernelName = "Sgemm"

// SgemmKernel computes C = A×B one row of C per work-item, the way the
// device kernel does: the work-item's row of A is staged in the local
// scratch, then multiplied against B.
//
// Arguments: n, k, m (uint32), A (n×k), B (k×m), C (n×m), local scratch of
// at least k floats.
type SgemmKernel struct{}

func (SgemmKernel) NumArgs() int {
	return 7
}

func (SgemmKernel) Validate(nd NDRange, args []Arg) error {
	want := []ArgKind{ArgUint32, ArgUint32, ArgUint32, ArgBuffer, ArgBuffer, ArgBuffer, ArgLocal}
	for i, kind := range want {
		if args[i].Kind != kind {
			return fmt.Errorf("argument %d has the wrong kind", i)
		}
	}
	n, k, m := int(args[0].Uint32), int(args[1].Uint32), int(args[2].Uint32)
	switch {
	case n == 0 || k == 0 || m == 0:
		return fmt.Errorf("dimensions must be positive, got n=%d k=%d m=%d", n, k, m)
	case len(args[3].Buffer) < n*k:
		return fmt.Errorf("A holds %d floats, %d×%d needs %d", len(args[3].Buffer), n, k, n*k)
	case len(args[4].Buffer) < k*m:
		return fmt.Errorf("B holds %d floats, %d×%d needs %d", len(args[4].Buffer), k, m, k*m)
	case len(args[5].Buffer) < n*m:
		return fmt.Errorf("C holds %d floats, %d×%d needs %d", len(args[5].Buffer), n, m, n*m)
	case args[6].LocalBytes < k*4:
		return fmt.Errorf("scratch holds %d bytes, needs %d", args[6].LocalBytes, k*4)
	}
	return nil
}

func (SgemmKernel) RunGroup(nd NDRange, g WorkGroup, args []Arg) error {
	n, k, m := int(args[0].Uint32), int(args[1].Uint32), int(args[2].Uint32)
	a, b, c := args[3].Buffer, args[4].Buffer, args[5].Buffer
	scratch := args[6].Local[:k]

	bm := blas32.General{Rows: k, Cols: m, Stride: m, Data: b[:k*m]}
	x := blas32.Vector{N: k, Inc: 1, Data: scratch}
	for i := g.Offset; i < g.Offset+g.Size; i++ {
		// work-items past the last row idle, like the device kernel's guard
		if i >= n {
			break
		}
		copy(scratch, a[i*k:(i+1)*k])
		y := blas32.Vector{N: m, Inc: 1, Data: c[i*m : (i+1)*m]}
		blas32.Gemv(blas.Trans, 1, bm, x, 0, y)
	}
	return nil
}

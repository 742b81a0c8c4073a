// Package matrix holds the host-side row-major float32 matrices fed to the
// kernel.
package matrix

import (
	"fmt"
	"math"
	"math/rand"
	"strings"

	"github.com/fxnlabs/clsgemm/internal/compute"
	"gonum.org/v1/gonum/blas/blas32"
)

// DefaultSeed seeds Random when the configuration does not name one.
const DefaultSeed = 12345

// Matrix is a dense row-major float32 matrix laid out contiguously: Stride
// always equals Cols, so Data is exactly what a device buffer holds.
type Matrix struct {
	blas32.General
}

// New wraps data as a rows×cols matrix without copying.
func New(rows, cols int, data []float32) *Matrix {
	return &Matrix{General: blas32.General{Rows: rows, Cols: cols, Stride: cols, Data: data}}
}

// Zeros returns a rows×cols matrix of zeros.
func Zeros(rows, cols int) *Matrix {
	return New(rows, cols, make([]float32, rows*cols))
}

// Ordered fills element i (in row-major order) with start + i*step, computed
// in float64 and rounded once.
func Ordered(rows, cols int, start, step float64) *Matrix {
	m := Zeros(rows, cols)
	for i := range m.Data {
		m.Data[i] = float32(start + float64(i)*step)
	}
	return m
}

// Random fills the matrix with uniform values in [0, 1) from a seeded source,
// so the same seed gives the same matrix.
func Random(rows, cols int, seed int64) *Matrix {
	rng := rand.New(rand.NewSource(seed))
	m := Zeros(rows, cols)
	for i := range m.Data {
		m.Data[i] = rng.Float32()
	}
	return m
}

// FromRows builds a matrix from a slice of rows. All rows must have the
// same length.
func FromRows(rows [][]float32) (*Matrix, error) {
	if len(rows) == 0 {
		return New(0, 0, nil), nil
	}
	cols := len(rows[0])
	m := Zeros(len(rows), cols)
	for i, r := range rows {
		if len(r) != cols {
			return nil, fmt.Errorf("row %d has %d columns, expected %d", i, len(r), cols)
		}
		copy(m.Data[i*cols:], r)
	}
	return m, nil
}

// Len returns the element count.
func (m *Matrix) Len() int {
	return len(m.Data)
}

// ByteSize returns the size of the backing array in bytes.
func (m *Matrix) ByteSize() int {
	return compute.ByteSize(len(m.Data))
}

// At returns element (i, j).
func (m *Matrix) At(i, j int) float32 {
	return m.Data[i*m.Stride+j]
}

// Row returns row i as a subslice of Data.
func (m *Matrix) Row(i int) []float32 {
	return m.Data[i*m.Stride : i*m.Stride+m.Cols]
}

// Float64 returns a float64 copy of Data.
func (m *Matrix) Float64() []float64 {
	out := make([]float64, len(m.Data))
	for i, v := range m.Data {
		out[i] = float64(v)
	}
	return out
}

// Equal reports whether both matrices have the same shape and bitwise
// identical elements.
func (m *Matrix) Equal(o *Matrix) bool {
	if m.Rows != o.Rows || m.Cols != o.Cols || len(m.Data) != len(o.Data) {
		return false
	}
	for i := range m.Data {
		a, b := m.Data[i], o.Data[i]
		if a != b && !(math.IsNaN(float64(a)) && math.IsNaN(float64(b))) {
			return false
		}
	}
	return true
}

// Preview formats at most maxRows×maxCols elements, eliding the rest with
// "...".
func (m *Matrix) Preview(maxRows, maxCols int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%d×%d]", m.Rows, m.Cols)
	for i := 0; i < min(m.Rows, maxRows); i++ {
		sb.WriteString("\n ")
		for j := 0; j < min(m.Cols, maxCols); j++ {
			fmt.Fprintf(&sb, " %.6g", m.At(i, j))
		}
		if m.Cols > maxCols {
			sb.WriteString(" ...")
		}
	}
	if m.Rows > maxRows {
		sb.WriteString("\n  ...")
	}
	return sb.String()
}

func (m *Matrix) String() string {
	return m.Preview(4, 6)
}

package verify

import (
	"math/rand"
	"testing"

	"github.com/fxnlabs/clsgemm/internal/matrix"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// product computes a×b with float32 accumulation.
func product(a, b *matrix.Matrix) *matrix.Matrix {
	c := matrix.Zeros(a.Rows, b.Cols)
	for i := 0; i < a.Rows; i++ {
		for j := 0; j < b.Cols; j++ {
			var acc float32
			for l := 0; l < a.Cols; l++ {
				acc += a.At(i, l) * b.At(l, j)
			}
			c.Data[i*c.Cols+j] = acc
		}
	}
	return c
}

func TestVerify_CorrectProduct(t *testing.T) {
	a := matrix.Random(40, 30, 1)
	b := matrix.Random(30, 20, 2)
	c := product(a, b)

	rep, err := Verify(a, b, c, DefaultOptions())
	require.NoError(t, err)
	assert.True(t, rep.OK())
	assert.Len(t, rep.Rows, 16)
	assert.Equal(t, 0, rep.Rows[0])
	assert.Equal(t, 39, rep.Rows[len(rep.Rows)-1])
	assert.Equal(t, 16*20, rep.Checked)
	assert.Less(t, rep.MaxRelError, 1e-5)
	assert.Len(t, rep.Digest, 64)
}

func TestVerify_SmallExact(t *testing.T) {
	a := matrix.Ordered(4, 2, 0, 1)
	b := matrix.Ordered(2, 3, 0, 1)
	c, err := matrix.FromRows([][]float32{{3, 4, 5}, {9, 14, 19}, {15, 24, 33}, {21, 34, 47}})
	require.NoError(t, err)

	rep, err := Verify(a, b, c, Options{FreivaldsRounds: 4})
	require.NoError(t, err)
	assert.True(t, rep.OK())
	assert.Equal(t, []int{0, 1, 2, 3}, rep.Rows)
	assert.Zero(t, rep.MaxAbsError)
}

func TestVerify_DetectsCorruption(t *testing.T) {
	a := matrix.Random(32, 16, 3)
	b := matrix.Random(16, 8, 4)
	c := product(a, b)
	c.Data[5*8+3] += 10

	rep, err := Verify(a, b, c, Options{Tolerance: 1e-3})
	require.NoError(t, err)
	assert.False(t, rep.OK())
	assert.Equal(t, 1, rep.Mismatches)
	assert.InDelta(t, 10, rep.MaxAbsError, 1e-3)
}

func TestVerify_FreivaldsCatchesUnsampledRow(t *testing.T) {
	a := matrix.Ordered(64, 8, 1, 0)
	b := matrix.Ordered(8, 8, 1, 0)
	c := product(a, b)

	rep, err := Verify(a, b, c, Options{SampleRows: 2, FreivaldsRounds: 8, Seed: 7})
	require.NoError(t, err)
	require.Equal(t, []int{0, 63}, rep.Rows)
	require.True(t, rep.OK())

	// every column of row 30 is off, so any r with a set bit exposes it
	for j := 0; j < 8; j++ {
		c.Data[30*8+j] += 100
	}
	rep, err = Verify(a, b, c, Options{SampleRows: 2, FreivaldsRounds: 8, Seed: 7})
	require.NoError(t, err)
	assert.Zero(t, rep.Mismatches)
	assert.False(t, rep.FreivaldsPassed)
	assert.False(t, rep.OK())
}

func TestSampleRows(t *testing.T) {
	tests := []struct {
		name string
		rows int
		want int
		size int
	}{
		{name: "one is raised to first and last", rows: 10, want: 1, size: 2},
		{name: "two", rows: 10, want: 2, size: 2},
		{name: "five", rows: 10, want: 5, size: 5},
		{name: "zero checks all", rows: 10, want: 0, size: 10},
		{name: "more than rows checks all", rows: 3, want: 16, size: 3},
		{name: "single row", rows: 1, want: 1, size: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sampleRows(tt.rows, tt.want, rand.New(rand.NewSource(1)))
			require.Len(t, got, tt.size)
			assert.Equal(t, 0, got[0])
			assert.Equal(t, tt.rows-1, got[len(got)-1])
			assert.IsIncreasing(t, got)
		})
	}
}

func TestVerify_ShapeMismatch(t *testing.T) {
	_, err := Verify(matrix.Zeros(2, 3), matrix.Zeros(2, 3), matrix.Zeros(2, 3), DefaultOptions())
	assert.Error(t, err)

	_, err = Verify(matrix.Zeros(0, 0), matrix.Zeros(0, 0), matrix.Zeros(0, 0), DefaultOptions())
	assert.Error(t, err)
}

func TestDigest(t *testing.T) {
	a := matrix.Ordered(3, 3, 0, 1)
	b := matrix.Ordered(3, 3, 0, 1)
	assert.Equal(t, Digest(a), Digest(b))

	b.Data[8] = 8.000001
	assert.NotEqual(t, Digest(a), Digest(b))
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", Digest(matrix.Zeros(0, 0)))
}

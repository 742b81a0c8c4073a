package matrix

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

func TestOrdered(t *testing.T) {
	m := Ordered(2, 3, 0, 1)
	assert.Equal(t, []float32{0, 1, 2, 3, 4, 5}, m.Data)
	assert.Equal(t, float32(5), m.At(1, 2))
	assert.Equal(t, []float32{3, 4, 5}, m.Row(1))

	small := Ordered(1, 3, 0.00001, 0.00001)
	assert.InDelta(t, 0.00003, small.Data[2], 1e-9)
}

func TestZeros(t *testing.T) {
	m := Zeros(3, 4)
	assert.Equal(t, 12, m.Len())
	assert.Equal(t, 48, m.ByteSize())
	for _, v := range m.Data {
		assert.Zero(t, v)
	}
}

func TestRandom(t *testing.T) {
	a := Random(8, 8, DefaultSeed)
	b := Random(8, 8, DefaultSeed)
	c := Random(8, 8, 1)

	assert.True(t, a.Equal(b), "same seed must give the same matrix")
	assert.False(t, a.Equal(c))
	for _, v := range a.Data {
		assert.GreaterOrEqual(t, v, float32(0))
		assert.Less(t, v, float32(1))
	}
}

func TestFromRows(t *testing.T) {
	m, err := FromRows([][]float32{{1, 2}, {3, 4}, {5, 6}})
	require.NoError(t, err)
	assert.Equal(t, 3, m.Rows)
	assert.Equal(t, 2, m.Cols)
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6}, m.Data)

	_, err = FromRows([][]float32{{1, 2}, {3}})
	assert.EqualError(t, err, "row 1 has 1 columns, expected 2")

	empty, err := FromRows(nil)
	require.NoError(t, err)
	assert.Zero(t, empty.Len())
}

func TestMatrix_General(t *testing.T) {
	a := Ordered(4, 2, 0, 1)
	b := Ordered(2, 3, 0, 1)
	c := Zeros(4, 3)
	assert.Equal(t, a.Cols, a.Stride)

	blas32.Gemm(blas.NoTrans, blas.NoTrans, 1, a.General, b.General, 0, c.General)
	assert.Equal(t, []float32{3, 4, 5, 9, 14, 19, 15, 24, 33, 21, 34, 47}, c.Data)
	assert.Equal(t, []float32{9, 14, 19}, c.Row(1))
}

func TestEqual(t *testing.T) {
	nan := float32(math.NaN())
	a := New(1, 2, []float32{1, nan})
	b := New(1, 2, []float32{1, nan})
	assert.True(t, a.Equal(b))

	assert.False(t, a.Equal(New(2, 1, []float32{1, nan})))
	assert.False(t, a.Equal(New(1, 2, []float32{2, nan})))
}

func TestFloat64(t *testing.T) {
	m := Ordered(1, 3, 1, 0.5)
	assert.Equal(t, []float64{1, 1.5, 2}, m.Float64())
}

func TestPreview(t *testing.T) {
	m := Ordered(3, 4, 0, 1)
	assert.Equal(t, "[3×4]\n  0 1 2 ...\n  4 5 6 ...\n  ...", m.Preview(2, 3))
	assert.Equal(t, "[3×4]\n  0 1 2 3\n  4 5 6 7\n  8 9 10 11", m.String())
}

// Package verify checks a device result against a float64 reference
// computed on the host.
package verify

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/fxnlabs/clsgemm/internal/matrix"
	"gonum.org/v1/gonum/mat"
)

// Options tune a verification.
type Options struct {
	// SampleRows is the number of rows of C compared exactly against the
	// reference. The first and last rows are always among them, so values
	// below 2 are raised to 2. Zero or at least the row count checks every
	// row.
	SampleRows int
	// Tolerance bounds |c - ref| / (1 + |ref|) per element.
	Tolerance float64
	// FreivaldsRounds of C·r == A·(B·r) run over the whole product.
	FreivaldsRounds int
	Seed            int64
}

// DefaultOptions suit float32 products with k in the thousands.
func DefaultOptions() Options {
	return Options{SampleRows: 16, Tolerance: 1e-3, FreivaldsRounds: 2, Seed: matrix.DefaultSeed}
}

// Report is the outcome of Verify.
type Report struct {
	Rows        []int
	Checked     int
	Mismatches  int
	MaxAbsError float64
	MaxRelError float64
	// FreivaldsPassed is true when every round agreed or no round ran.
	FreivaldsPassed bool
	// Digest is the SHA-256 of C's little-endian bytes.
	Digest string
}

// OK reports whether the result passed.
func (r Report) OK() bool {
	return r.Mismatches == 0 && r.FreivaldsPassed
}

// Verify compares c against a×b.
func Verify(a, b, c *matrix.Matrix, opts Options) (Report, error) {
	if a.Cols != b.Rows || c.Rows != a.Rows || c.Cols != b.Cols {
		return Report{}, fmt.Errorf("shape mismatch: A %d×%d, B %d×%d, C %d×%d", a.Rows, a.Cols, b.Rows, b.Cols, c.Rows, c.Cols)
	}
	if a.Len() == 0 || b.Len() == 0 {
		return Report{}, fmt.Errorf("empty matrices")
	}
	if opts.Tolerance <= 0 {
		opts.Tolerance = DefaultOptions().Tolerance
	}
	rng := rand.New(rand.NewSource(opts.Seed))

	rep := Report{Rows: sampleRows(a.Rows, opts.SampleRows, rng), Digest: Digest(c)}
	bd := mat.NewDense(b.Rows, b.Cols, b.Float64())

	sub := mat.NewDense(len(rep.Rows), a.Cols, nil)
	for i, row := range rep.Rows {
		for j, v := range a.Row(row) {
			sub.Set(i, j, float64(v))
		}
	}
	var ref mat.Dense
	ref.Mul(sub, bd)

	for i, row := range rep.Rows {
		for j := 0; j < c.Cols; j++ {
			want := ref.At(i, j)
			got := float64(c.At(row, j))
			abs := math.Abs(got - want)
			rel := abs / (1 + math.Abs(want))
			rep.Checked++
			rep.MaxAbsError = math.Max(rep.MaxAbsError, abs)
			rep.MaxRelError = math.Max(rep.MaxRelError, rel)
			if rel > opts.Tolerance || math.IsNaN(got) {
				rep.Mismatches++
			}
		}
	}

	rep.FreivaldsPassed = freivalds(a, bd, c, opts.FreivaldsRounds, opts.Tolerance, rng)
	return rep, nil
}

// sampleRows picks max(want, 2) distinct rows in ascending order, always
// including the first and the last.
func sampleRows(rows, want int, rng *rand.Rand) []int {
	if want > 0 {
		want = max(want, 2)
	}
	if want <= 0 || want >= rows {
		out := make([]int, rows)
		for i := range out {
			out[i] = i
		}
		return out
	}
	picked := map[int]bool{0: true, rows - 1: true}
	for len(picked) < want {
		picked[rng.Intn(rows)] = true
	}
	out := make([]int, 0, len(picked))
	for r := range picked {
		out = append(out, r)
	}
	sort.Ints(out)
	return out
}

// freivalds checks C·r against A·(B·r) for random 0/1 vectors r.
func freivalds(a *matrix.Matrix, bd *mat.Dense, c *matrix.Matrix, rounds int, tol float64, rng *rand.Rand) bool {
	if rounds <= 0 {
		return true
	}
	ad := mat.NewDense(a.Rows, a.Cols, a.Float64())
	cd := mat.NewDense(c.Rows, c.Cols, c.Float64())
	r := mat.NewVecDense(c.Cols, nil)
	var br, abr, cr mat.VecDense
	for round := 0; round < rounds; round++ {
		for j := 0; j < c.Cols; j++ {
			r.SetVec(j, float64(rng.Intn(2)))
		}
		br.MulVec(bd, r)
		abr.MulVec(ad, &br)
		cr.MulVec(cd, r)
		for i := 0; i < c.Rows; i++ {
			want, got := abr.AtVec(i), cr.AtVec(i)
			// sums over up to m elements, so scale the bound by the row's magnitude
			if math.Abs(got-want) > tol*(1+math.Abs(want)) {
				return false
			}
		}
	}
	return true
}

// Digest returns the hex SHA-256 of m's elements in little-endian order.
func Digest(m *matrix.Matrix) string {
	h := sha256.New()
	buf := make([]byte, 4)
	for _, v := range m.Data {
		binary.LittleEndian.PutUint32(buf, math.Float32bits(v))
		h.Write(buf)
	}
	return hex.EncodeToString(h.Sum(nil))
}

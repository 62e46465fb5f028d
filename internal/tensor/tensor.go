package tensor

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
)

// Tensor is a dense, row-major float64 matrix with fixed extents. It is the
// sole value type exchanged between the layer kernels and the gradient
// checker.
type Tensor struct {
	rows int
	cols int
	data []float64
}

// New creates a tensor from data and extents. The data slice is copied.
func New(data []float64, rows, cols int) (*Tensor, error) {
	if rows < 0 || cols < 0 {
		return nil, fmt.Errorf("tensor: negative extents %dx%d", rows, cols)
	}

	if len(data) != rows*cols {
		return nil, fmt.Errorf("tensor: data length %d does not match extents %dx%d (%d elements)", len(data), rows, cols, rows*cols)
	}

	return &Tensor{rows: rows, cols: cols, data: append([]float64(nil), data...)}, nil
}

// newOwned creates a Tensor taking ownership of data without copying. The
// caller must not retain or modify data after this call, and len(data) must
// equal rows*cols.
func newOwned(data []float64, rows, cols int) *Tensor {
	return &Tensor{rows: rows, cols: cols, data: data}
}

// Zeros creates a zero-initialized tensor.
func Zeros(rows, cols int) (*Tensor, error) {
	if rows < 0 || cols < 0 {
		return nil, fmt.Errorf("tensor: negative extents %dx%d", rows, cols)
	}

	return &Tensor{rows: rows, cols: cols, data: make([]float64, rows*cols)}, nil
}

// Full creates a tensor filled with value.
func Full(rows, cols int, value float64) (*Tensor, error) {
	t, err := Zeros(rows, cols)
	if err != nil {
		return nil, err
	}

	for i := range t.data {
		t.data[i] = value
	}

	return t, nil
}

// Rand creates a tensor with entries sampled uniformly from [-scale, scale).
func Rand(rows, cols int, scale float64, rng *rand.Rand) (*Tensor, error) {
	if rng == nil {
		return nil, errors.New("tensor: rand requires a non-nil rng")
	}

	t, err := Zeros(rows, cols)
	if err != nil {
		return nil, err
	}

	for i := range t.data {
		t.data[i] = (rng.Float64()*2 - 1) * scale
	}

	return t, nil
}

func (t *Tensor) Rows() int {
	if t == nil {
		return 0
	}

	return t.rows
}

func (t *Tensor) Cols() int {
	if t == nil {
		return 0
	}

	return t.cols
}

func (t *Tensor) ElemCount() int {
	if t == nil {
		return 0
	}

	return len(t.data)
}

// At returns the entry at row i, column j. Indices are the caller's
// responsibility; out-of-range access panics as with any slice.
func (t *Tensor) At(i, j int) float64 {
	return t.data[i*t.cols+j]
}

// Set stores v at row i, column j.
func (t *Tensor) Set(i, j int, v float64) {
	t.data[i*t.cols+j] = v
}

// Data returns a copy of the underlying tensor data.
func (t *Tensor) Data() []float64 {
	if t == nil {
		return nil
	}

	return append([]float64(nil), t.data...)
}

// RawData returns the underlying data slice. Only the owner of the tensor may
// write through it; everyone else must treat it as read-only.
func (t *Tensor) RawData() []float64 {
	if t == nil {
		return nil
	}

	return t.data
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	if t == nil {
		return nil
	}

	dup, _ := New(t.data, t.rows, t.cols)

	return dup
}

// Row returns row i as a sub-slice of the underlying data.
func (t *Tensor) Row(i int) []float64 {
	return t.data[i*t.cols : (i+1)*t.cols]
}

// SameShape reports whether t and o have identical extents.
func (t *Tensor) SameShape(o *Tensor) bool {
	return t != nil && o != nil && t.rows == o.rows && t.cols == o.cols
}

// EqualApprox reports whether t and o have identical extents and every pair
// of entries differs by at most tol in absolute value.
func (t *Tensor) EqualApprox(o *Tensor, tol float64) bool {
	if !t.SameShape(o) {
		return false
	}

	for i := range t.data {
		if math.Abs(t.data[i]-o.data[i]) > tol {
			return false
		}
	}

	return true
}

// MatMul computes a * b.
func MatMul(a, b *Tensor) (*Tensor, error) {
	if a == nil || b == nil {
		return nil, errors.New("tensor: matmul requires non-nil inputs")
	}

	if a.cols != b.rows {
		return nil, fmt.Errorf("tensor: matmul mismatch: %dx%d times %dx%d", a.rows, a.cols, b.rows, b.cols)
	}

	out := make([]float64, a.rows*b.cols)

	for i := 0; i < a.rows; i++ {
		aRow := a.data[i*a.cols : (i+1)*a.cols]
		outRow := out[i*b.cols : (i+1)*b.cols]

		for k, av := range aRow {
			if av == 0 {
				continue
			}

			bRow := b.data[k*b.cols : (k+1)*b.cols]
			for j, bv := range bRow {
				outRow[j] += av * bv
			}
		}
	}

	return newOwned(out, a.rows, b.cols), nil
}

// Transpose returns a new tensor with rows and columns swapped.
func (t *Tensor) Transpose() *Tensor {
	if t == nil {
		return nil
	}

	out := make([]float64, len(t.data))

	for i := 0; i < t.rows; i++ {
		for j := 0; j < t.cols; j++ {
			out[j*t.rows+i] = t.data[i*t.cols+j]
		}
	}

	return newOwned(out, t.cols, t.rows)
}

// Add computes a + b element-wise.
func Add(a, b *Tensor) (*Tensor, error) {
	return elementwise(a, b, func(x, y float64) float64 { return x + y }, "add")
}

// Sub computes a - b element-wise.
func Sub(a, b *Tensor) (*Tensor, error) {
	return elementwise(a, b, func(x, y float64) float64 { return x - y }, "sub")
}

// Hadamard computes the element-wise product a * b.
func Hadamard(a, b *Tensor) (*Tensor, error) {
	return elementwise(a, b, func(x, y float64) float64 { return x * y }, "hadamard")
}

// AddRowVector adds the 1xC row vector v to every row of t.
func AddRowVector(t, v *Tensor) (*Tensor, error) {
	if t == nil || v == nil {
		return nil, errors.New("tensor: add row vector requires non-nil inputs")
	}

	if v.rows != 1 || v.cols != t.cols {
		return nil, fmt.Errorf("tensor: add row vector: %dx%d does not broadcast over %dx%d", v.rows, v.cols, t.rows, t.cols)
	}

	out := t.Clone()

	for i := 0; i < out.rows; i++ {
		row := out.Row(i)
		for j := range row {
			row[j] += v.data[j]
		}
	}

	return out, nil
}

// Scale returns t with every entry multiplied by s.
func (t *Tensor) Scale(s float64) *Tensor {
	if t == nil {
		return nil
	}

	out := t.Clone()
	for i := range out.data {
		out.data[i] *= s
	}

	return out
}

// Apply returns t with fn applied to every entry.
func (t *Tensor) Apply(fn func(float64) float64) *Tensor {
	if t == nil {
		return nil
	}

	out := t.Clone()
	for i := range out.data {
		out.data[i] = fn(out.data[i])
	}

	return out
}

// Sum returns the sum of all entries.
func (t *Tensor) Sum() float64 {
	if t == nil {
		return 0
	}

	var sum float64
	for _, v := range t.data {
		sum += v
	}

	return sum
}

// ColSums returns a 1xC tensor containing the sum of each column.
func (t *Tensor) ColSums() *Tensor {
	if t == nil {
		return nil
	}

	out := make([]float64, t.cols)

	for i := 0; i < t.rows; i++ {
		row := t.Row(i)
		for j, v := range row {
			out[j] += v
		}
	}

	return newOwned(out, 1, t.cols)
}

func elementwise(a, b *Tensor, fn func(x, y float64) float64, opName string) (*Tensor, error) {
	if a == nil || b == nil {
		return nil, fmt.Errorf("tensor: %s requires non-nil inputs", opName)
	}

	if !a.SameShape(b) {
		return nil, fmt.Errorf("tensor: %s shape mismatch: %dx%d vs %dx%d", opName, a.rows, a.cols, b.rows, b.cols)
	}

	out := a.Clone()
	for i := range out.data {
		out.data[i] = fn(out.data[i], b.data[i])
	}

	return out, nil
}

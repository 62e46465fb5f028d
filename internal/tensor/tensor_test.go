package tensor

import (
	"math"
	"math/rand"
	"testing"
)

func equalF64(got, want []float64, tol float64) bool {
	if len(got) != len(want) {
		return false
	}

	for i := range got {
		if math.Abs(got[i]-want[i]) > tol {
			return false
		}
	}

	return true
}

func TestNewValidatesLength(t *testing.T) {
	_, err := New([]float64{1, 2, 3}, 2, 2)
	if err == nil {
		t.Fatal("expected error for mismatched data length")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	x, err := New([]float64{1, 2, 3, 4}, 2, 2)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	y := x.Clone()
	y.Set(0, 0, 99)

	if x.At(0, 0) != 1 {
		t.Fatalf("clone aliased the original: x[0,0] = %v", x.At(0, 0))
	}
}

func TestMatMul(t *testing.T) {
	a, _ := New([]float64{1, 2, 3, 4, 5, 6}, 2, 3)
	b, _ := New([]float64{7, 8, 9, 10, 11, 12}, 3, 2)

	out, err := MatMul(a, b)
	if err != nil {
		t.Fatalf("matmul: %v", err)
	}

	if out.Rows() != 2 || out.Cols() != 2 {
		t.Fatalf("out extents = %dx%d, want 2x2", out.Rows(), out.Cols())
	}

	want := []float64{58, 64, 139, 154}
	if got := out.Data(); !equalF64(got, want, 0) {
		t.Fatalf("data = %v, want %v", got, want)
	}
}

func TestMatMulMismatch(t *testing.T) {
	a, _ := Zeros(2, 3)
	b, _ := Zeros(2, 3)

	_, err := MatMul(a, b)
	if err == nil {
		t.Fatal("expected error for inner-dimension mismatch")
	}
}

func TestTranspose(t *testing.T) {
	x, _ := New([]float64{1, 2, 3, 4, 5, 6}, 2, 3)

	y := x.Transpose()
	if y.Rows() != 3 || y.Cols() != 2 {
		t.Fatalf("extents = %dx%d, want 3x2", y.Rows(), y.Cols())
	}

	want := []float64{1, 4, 2, 5, 3, 6}
	if got := y.Data(); !equalF64(got, want, 0) {
		t.Fatalf("data = %v, want %v", got, want)
	}
}

func TestAddRowVector(t *testing.T) {
	x, _ := New([]float64{1, 2, 3, 4}, 2, 2)
	v, _ := New([]float64{10, 20}, 1, 2)

	out, err := AddRowVector(x, v)
	if err != nil {
		t.Fatalf("add row vector: %v", err)
	}

	want := []float64{11, 22, 13, 24}
	if got := out.Data(); !equalF64(got, want, 0) {
		t.Fatalf("data = %v, want %v", got, want)
	}
}

func TestAddRowVectorRejectsBadShape(t *testing.T) {
	x, _ := Zeros(2, 2)
	v, _ := Zeros(1, 3)

	_, err := AddRowVector(x, v)
	if err == nil {
		t.Fatal("expected error for non-broadcastable row vector")
	}
}

func TestColSums(t *testing.T) {
	x, _ := New([]float64{1, 2, 3, 4, 5, 6}, 2, 3)

	out := x.ColSums()
	want := []float64{5, 7, 9}

	if got := out.Data(); !equalF64(got, want, 0) {
		t.Fatalf("col sums = %v, want %v", got, want)
	}
}

func TestElementwiseOps(t *testing.T) {
	a, _ := New([]float64{1, 2, 3, 4}, 2, 2)
	b, _ := New([]float64{5, 6, 7, 8}, 2, 2)

	sum, err := Add(a, b)
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	if got := sum.Data(); !equalF64(got, []float64{6, 8, 10, 12}, 0) {
		t.Fatalf("add = %v", got)
	}

	diff, err := Sub(b, a)
	if err != nil {
		t.Fatalf("sub: %v", err)
	}

	if got := diff.Data(); !equalF64(got, []float64{4, 4, 4, 4}, 0) {
		t.Fatalf("sub = %v", got)
	}

	prod, err := Hadamard(a, b)
	if err != nil {
		t.Fatalf("hadamard: %v", err)
	}

	if got := prod.Data(); !equalF64(got, []float64{5, 12, 21, 32}, 0) {
		t.Fatalf("hadamard = %v", got)
	}
}

func TestRandStaysInRange(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	x, err := Rand(10, 10, 0.5, rng)
	if err != nil {
		t.Fatalf("rand: %v", err)
	}

	for _, v := range x.RawData() {
		if v < -0.5 || v >= 0.5 {
			t.Fatalf("entry %v outside [-0.5, 0.5)", v)
		}
	}
}

func TestEqualApprox(t *testing.T) {
	a, _ := New([]float64{1, 2}, 1, 2)
	b, _ := New([]float64{1.0000001, 2}, 1, 2)

	if !a.EqualApprox(b, 1e-6) {
		t.Fatal("tensors should be approximately equal")
	}

	if a.EqualApprox(b, 1e-9) {
		t.Fatal("tensors should differ at 1e-9 tolerance")
	}
}

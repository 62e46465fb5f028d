// Package testutil provides shared fixture helpers for tests: tensor
// construction that fails the test instead of returning an error, and
// temporary dataset/weights files.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/example/gradlab/internal/tensor"
)

// MustTensor builds a tensor or fails the test.
func MustTensor(tb testing.TB, data []float64, rows, cols int) *tensor.Tensor {
	tb.Helper()

	t, err := tensor.New(data, rows, cols)
	if err != nil {
		tb.Fatalf("tensor.New(%d elements, %dx%d): %v", len(data), rows, cols, err)
	}

	return t
}

// MustZeros builds a zero tensor or fails the test.
func MustZeros(tb testing.TB, rows, cols int) *tensor.Tensor {
	tb.Helper()

	t, err := tensor.Zeros(rows, cols)
	if err != nil {
		tb.Fatalf("tensor.Zeros(%dx%d): %v", rows, cols, err)
	}

	return t
}

// WriteTempFile writes content into a fresh file under tb's temp dir and
// returns its path.
func WriteTempFile(tb testing.TB, name, content string) string {
	tb.Helper()

	path := filepath.Join(tb.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		tb.Fatalf("write %s: %v", path, err)
	}

	return path
}

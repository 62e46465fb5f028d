// Package dataset reads labeled tabular pixel data for the classifier
// examples. Each CSV row is "label, pixel_1 ... pixel_n"; pixels are scaled
// into [0,1] and labels one-hot encoded.
package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/example/gradlab/internal/tensor"
)

// pixelScale maps 8-bit pixel values into [0,1].
const pixelScale = 1.0 / 255.0

// Load reads a labeled pixel CSV from r. It returns the feature matrix
// (N, n) with pixels scaled into [0,1] and the integer label per row.
// Ragged rows and non-numeric cells are fatal.
func Load(r io.Reader) (*tensor.Tensor, []int, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	var (
		features []float64
		labels   []int
		width    int
	)

	for row := 1; ; row++ {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}

		if err != nil {
			return nil, nil, fmt.Errorf("dataset: row %d: %w", row, err)
		}

		if len(record) < 2 {
			return nil, nil, fmt.Errorf("dataset: row %d has %d columns, need a label and at least one pixel", row, len(record))
		}

		if width == 0 {
			width = len(record) - 1
		} else if len(record)-1 != width {
			return nil, nil, fmt.Errorf("dataset: row %d has %d pixels, previous rows have %d", row, len(record)-1, width)
		}

		label, err := strconv.Atoi(record[0])
		if err != nil {
			return nil, nil, fmt.Errorf("dataset: row %d label %q: %w", row, record[0], err)
		}

		if label < 0 {
			return nil, nil, fmt.Errorf("dataset: row %d label %d is negative", row, label)
		}

		labels = append(labels, label)

		for col, cell := range record[1:] {
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, nil, fmt.Errorf("dataset: row %d pixel %d %q: %w", row, col+1, cell, err)
			}

			features = append(features, v*pixelScale)
		}
	}

	if len(labels) == 0 {
		return nil, nil, fmt.Errorf("dataset: no rows")
	}

	x, err := tensor.New(features, len(labels), width)
	if err != nil {
		return nil, nil, err
	}

	return x, labels, nil
}

// LoadFile reads a labeled pixel CSV from path.
func LoadFile(path string) (*tensor.Tensor, []int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("dataset: open %s: %w", path, err)
	}
	defer f.Close()

	x, labels, err := Load(f)
	if err != nil {
		return nil, nil, fmt.Errorf("dataset: %s: %w", path, err)
	}

	return x, labels, nil
}

// OneHot encodes integer labels into an (N, k) indicator matrix.
// A label outside [0, k) is fatal.
func OneHot(labels []int, k int) (*tensor.Tensor, error) {
	if k <= 0 {
		return nil, fmt.Errorf("dataset: one-hot needs a positive class count, got %d", k)
	}

	out, err := tensor.Zeros(len(labels), k)
	if err != nil {
		return nil, err
	}

	for i, label := range labels {
		if label < 0 || label >= k {
			return nil, fmt.Errorf("dataset: label %d at row %d outside [0, %d)", label, i+1, k)
		}

		out.Set(i, label, 1)
	}

	return out, nil
}

// NumClasses returns max(labels)+1, the smallest class count that can
// one-hot encode labels.
func NumClasses(labels []int) int {
	k := 0
	for _, label := range labels {
		if label+1 > k {
			k = label + 1
		}
	}

	return k
}

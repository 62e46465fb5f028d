package layers

import (
	"errors"
	"fmt"
	"math"

	"github.com/example/gradlab/internal/tensor"
)

// ReLUForward computes max(0, x) element-wise.
func ReLUForward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if x == nil {
		return nil, errors.New("layers: relu forward requires non-nil input")
	}

	return x.Apply(func(v float64) float64 { return math.Max(0, v) }), nil
}

// ReLUBackward routes dOut through the positive entries of x.
func ReLUBackward(dout, x *tensor.Tensor) (*tensor.Tensor, error) {
	if dout == nil || x == nil {
		return nil, errors.New("layers: relu backward requires non-nil dout/x")
	}

	if !dout.SameShape(x) {
		return nil, fmt.Errorf("layers: relu backward shape mismatch: %dx%d vs %dx%d", dout.Rows(), dout.Cols(), x.Rows(), x.Cols())
	}

	dx := dout.Clone()
	dxData := dx.RawData()
	xData := x.RawData()

	for i := range dxData {
		if xData[i] <= 0 {
			dxData[i] = 0
		}
	}

	return dx, nil
}

// SigmoidForward computes 1/(1+exp(-x)) element-wise.
func SigmoidForward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if x == nil {
		return nil, errors.New("layers: sigmoid forward requires non-nil input")
	}

	return x.Apply(sigmoid), nil
}

// SigmoidBackward computes dOut * s * (1-s) element-wise, with s = sigmoid(x).
func SigmoidBackward(dout, x *tensor.Tensor) (*tensor.Tensor, error) {
	if dout == nil || x == nil {
		return nil, errors.New("layers: sigmoid backward requires non-nil dout/x")
	}

	s, err := SigmoidForward(x)
	if err != nil {
		return nil, err
	}

	grad := s.Apply(func(v float64) float64 { return v * (1 - v) })

	dx, err := tensor.Hadamard(dout, grad)
	if err != nil {
		return nil, fmt.Errorf("layers: sigmoid backward: %w", err)
	}

	return dx, nil
}

// TanhForward computes tanh(x) element-wise.
func TanhForward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if x == nil {
		return nil, errors.New("layers: tanh forward requires non-nil input")
	}

	return x.Apply(math.Tanh), nil
}

// TanhBackward computes dOut * (1 - tanh(x)^2) element-wise.
func TanhBackward(dout, x *tensor.Tensor) (*tensor.Tensor, error) {
	if dout == nil || x == nil {
		return nil, errors.New("layers: tanh backward requires non-nil dout/x")
	}

	grad := x.Apply(func(v float64) float64 {
		t := math.Tanh(v)
		return 1 - t*t
	})

	dx, err := tensor.Hadamard(dout, grad)
	if err != nil {
		return nil, fmt.Errorf("layers: tanh backward: %w", err)
	}

	return dx, nil
}

// SoftmaxForward computes a numerically stable row-wise softmax.
func SoftmaxForward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if x == nil {
		return nil, errors.New("layers: softmax forward requires non-nil input")
	}

	if x.Cols() == 0 {
		return nil, errors.New("layers: softmax forward requires at least one column")
	}

	out := x.Clone()

	for i := 0; i < out.Rows(); i++ {
		row := out.Row(i)

		maxV := math.Inf(-1)
		for _, v := range row {
			if v > maxV {
				maxV = v
			}
		}

		var sum float64
		for j, v := range row {
			e := math.Exp(v - maxV)
			row[j] = e
			sum += e
		}

		for j := range row {
			row[j] /= sum
		}
	}

	return out, nil
}

// SoftmaxBackward computes the row-wise softmax Jacobian-vector product
// dX[i,j] = p[i,j] * (dOut[i,j] - sum_k dOut[i,k]*p[i,k]).
func SoftmaxBackward(dout, x *tensor.Tensor) (*tensor.Tensor, error) {
	if dout == nil || x == nil {
		return nil, errors.New("layers: softmax backward requires non-nil dout/x")
	}

	if !dout.SameShape(x) {
		return nil, fmt.Errorf("layers: softmax backward shape mismatch: %dx%d vs %dx%d", dout.Rows(), dout.Cols(), x.Rows(), x.Cols())
	}

	p, err := SoftmaxForward(x)
	if err != nil {
		return nil, err
	}

	dx := p.Clone()

	for i := 0; i < dx.Rows(); i++ {
		pRow := p.Row(i)
		doutRow := dout.Row(i)
		dxRow := dx.Row(i)

		var dot float64
		for j := range pRow {
			dot += doutRow[j] * pRow[j]
		}

		for j := range dxRow {
			dxRow[j] = pRow[j] * (doutRow[j] - dot)
		}
	}

	return dx, nil
}

func sigmoid(v float64) float64 {
	return 1 / (1 + math.Exp(-v))
}

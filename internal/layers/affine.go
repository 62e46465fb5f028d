// Package layers implements the forward and backward passes of the layer
// primitives validated by the gradient checker: affine transform, 2-D
// convolution and max-pooling (each in three implementation variants that
// must agree), element-wise activations, loss functions and regularizers.
//
// All kernels operate on dense 2-D float64 tensors. Images are stored
// row-major, one example per row, as (N, C*H*W) matrices; convolution
// filters as (F, C*Hf*Wf).
package layers

import (
	"errors"
	"fmt"

	"github.com/example/gradlab/internal/tensor"
)

// AffineForward computes X*W + b for X (N,D), W (D,M) and b (1,M).
func AffineForward(x, w, b *tensor.Tensor) (*tensor.Tensor, error) {
	if x == nil || w == nil || b == nil {
		return nil, errors.New("layers: affine forward requires non-nil x/w/b")
	}

	out, err := tensor.MatMul(x, w)
	if err != nil {
		return nil, fmt.Errorf("layers: affine forward: %w", err)
	}

	out, err = tensor.AddRowVector(out, b)
	if err != nil {
		return nil, fmt.Errorf("layers: affine forward bias: %w", err)
	}

	return out, nil
}

// AffineBackward computes the gradients of an affine forward pass:
// dX = dOut*W^T, dW = X^T*dOut, db = column sums of dOut.
func AffineBackward(dout, x, w *tensor.Tensor) (dx, dw, db *tensor.Tensor, err error) {
	if dout == nil || x == nil || w == nil {
		return nil, nil, nil, errors.New("layers: affine backward requires non-nil dout/x/w")
	}

	dx, err = tensor.MatMul(dout, w.Transpose())
	if err != nil {
		return nil, nil, nil, fmt.Errorf("layers: affine backward dx: %w", err)
	}

	dw, err = tensor.MatMul(x.Transpose(), dout)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("layers: affine backward dw: %w", err)
	}

	return dx, dw, dout.ColSums(), nil
}

package layers

import (
	"errors"
	"fmt"
	"math"

	"github.com/example/gradlab/internal/tensor"
)

// lossPair validates the common precondition of every loss kernel.
func lossPair(pred, target *tensor.Tensor, name string) error {
	if pred == nil || target == nil {
		return fmt.Errorf("layers: %s requires non-nil pred/target", name)
	}

	if !pred.SameShape(target) {
		return fmt.Errorf("layers: %s shape mismatch: %dx%d vs %dx%d", name, pred.Rows(), pred.Cols(), target.Rows(), target.Cols())
	}

	if pred.Rows() == 0 {
		return fmt.Errorf("layers: %s requires at least one row", name)
	}

	return nil
}

// L1Loss computes mean absolute error: sum|pred-target| / N, with N the
// number of rows (examples).
func L1Loss(pred, target *tensor.Tensor) (float64, error) {
	if err := lossPair(pred, target, "l1 loss"); err != nil {
		return 0, err
	}

	diff, err := tensor.Sub(pred, target)
	if err != nil {
		return 0, err
	}

	return diff.Apply(math.Abs).Sum() / float64(pred.Rows()), nil
}

// L1LossBackward computes sign(pred-target) / N.
func L1LossBackward(pred, target *tensor.Tensor) (*tensor.Tensor, error) {
	if err := lossPair(pred, target, "l1 loss backward"); err != nil {
		return nil, err
	}

	diff, err := tensor.Sub(pred, target)
	if err != nil {
		return nil, err
	}

	n := float64(pred.Rows())

	return diff.Apply(func(v float64) float64 {
		switch {
		case v > 0:
			return 1 / n
		case v < 0:
			return -1 / n
		default:
			return 0
		}
	}), nil
}

// L2Loss computes mean squared error: sum((pred-target)^2) / N.
func L2Loss(pred, target *tensor.Tensor) (float64, error) {
	if err := lossPair(pred, target, "l2 loss"); err != nil {
		return 0, err
	}

	diff, err := tensor.Sub(pred, target)
	if err != nil {
		return 0, err
	}

	return diff.Apply(func(v float64) float64 { return v * v }).Sum() / float64(pred.Rows()), nil
}

// L2LossBackward computes 2*(pred-target) / N.
func L2LossBackward(pred, target *tensor.Tensor) (*tensor.Tensor, error) {
	if err := lossPair(pred, target, "l2 loss backward"); err != nil {
		return nil, err
	}

	diff, err := tensor.Sub(pred, target)
	if err != nil {
		return nil, err
	}

	return diff.Scale(2 / float64(pred.Rows())), nil
}

// LogLoss computes binary log loss over probability predictions in (0,1):
// sum(-target*log(pred) - (1-target)*log(1-pred)) / N.
func LogLoss(pred, target *tensor.Tensor) (float64, error) {
	if err := lossPair(pred, target, "log loss"); err != nil {
		return 0, err
	}

	predData := pred.RawData()
	targetData := target.RawData()

	var sum float64
	for i, p := range predData {
		if p <= 0 || p >= 1 {
			return 0, fmt.Errorf("layers: log loss prediction %g at entry %d outside (0,1)", p, i)
		}

		y := targetData[i]
		sum += -y*math.Log(p) - (1-y)*math.Log(1-p)
	}

	return sum / float64(pred.Rows()), nil
}

// LogLossBackward computes (1/N) * (-target/pred + (1-target)/(1-pred)).
func LogLossBackward(pred, target *tensor.Tensor) (*tensor.Tensor, error) {
	if err := lossPair(pred, target, "log loss backward"); err != nil {
		return nil, err
	}

	dpred := pred.Clone()
	dpredData := dpred.RawData()
	targetData := target.RawData()
	n := float64(pred.Rows())

	for i, p := range dpredData {
		if p <= 0 || p >= 1 {
			return nil, fmt.Errorf("layers: log loss backward prediction %g at entry %d outside (0,1)", p, i)
		}

		y := targetData[i]
		dpredData[i] = (-y/p + (1-y)/(1-p)) / n
	}

	return dpred, nil
}

// CrossEntropyLoss computes mean categorical cross-entropy over rows of
// probabilities against one-hot (or soft) targets: -sum(target*log(pred)) / N.
func CrossEntropyLoss(pred, target *tensor.Tensor) (float64, error) {
	if err := lossPair(pred, target, "cross-entropy loss"); err != nil {
		return 0, err
	}

	predData := pred.RawData()
	targetData := target.RawData()

	var sum float64
	for i, p := range predData {
		y := targetData[i]
		if y == 0 {
			continue
		}

		if p <= 0 {
			return 0, fmt.Errorf("layers: cross-entropy prediction %g at entry %d is not positive", p, i)
		}

		sum -= y * math.Log(p)
	}

	return sum / float64(pred.Rows()), nil
}

// CrossEntropyLossBackward computes -(target/pred) / N.
func CrossEntropyLossBackward(pred, target *tensor.Tensor) (*tensor.Tensor, error) {
	if err := lossPair(pred, target, "cross-entropy backward"); err != nil {
		return nil, err
	}

	dpred := pred.Clone()
	dpredData := dpred.RawData()
	targetData := target.RawData()
	n := float64(pred.Rows())

	for i, p := range dpredData {
		y := targetData[i]
		if y == 0 {
			dpredData[i] = 0
			continue
		}

		if p <= 0 {
			return nil, fmt.Errorf("layers: cross-entropy backward prediction %g at entry %d is not positive", p, i)
		}

		dpredData[i] = -y / p / n
	}

	return dpred, nil
}

var errNilWeights = errors.New("layers: regularizer requires non-nil weights")

// L2Reg computes lambda/2 * sum(W^2).
func L2Reg(w *tensor.Tensor, lambda float64) (float64, error) {
	if w == nil {
		return 0, errNilWeights
	}

	return lambda / 2 * w.Apply(func(v float64) float64 { return v * v }).Sum(), nil
}

// L2RegBackward computes lambda * W.
func L2RegBackward(w *tensor.Tensor, lambda float64) (*tensor.Tensor, error) {
	if w == nil {
		return nil, errNilWeights
	}

	return w.Scale(lambda), nil
}

// L1Reg computes lambda * sum|W|.
func L1Reg(w *tensor.Tensor, lambda float64) (float64, error) {
	if w == nil {
		return 0, errNilWeights
	}

	return lambda * w.Apply(math.Abs).Sum(), nil
}

// L1RegBackward computes lambda * sign(W).
func L1RegBackward(w *tensor.Tensor, lambda float64) (*tensor.Tensor, error) {
	if w == nil {
		return nil, errNilWeights
	}

	return w.Apply(func(v float64) float64 {
		switch {
		case v > 0:
			return lambda
		case v < 0:
			return -lambda
		default:
			return 0
		}
	}), nil
}

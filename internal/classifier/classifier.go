// Package classifier trains and evaluates a softmax linear classifier on
// labeled pixel data. It is a worked example for the layer library: one
// affine transform, row-wise softmax, cross-entropy loss with an L2 weight
// penalty, plain minibatch SGD.
package classifier

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/example/gradlab/internal/dataset"
	"github.com/example/gradlab/internal/layers"
	"github.com/example/gradlab/internal/tensor"
)

// Config holds the training hyperparameters.
type Config struct {
	Classes      int
	Epochs       int
	BatchSize    int
	LearningRate float64
	L2           float64
	Seed         int64
	Logger       *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.Epochs <= 0 {
		c.Epochs = 10
	}

	if c.BatchSize <= 0 {
		c.BatchSize = 32
	}

	if c.LearningRate <= 0 {
		c.LearningRate = 0.1
	}

	if c.Logger == nil {
		c.Logger = slog.Default()
	}

	return c
}

// Model is a trained softmax classifier: W (D, K) and b (1, K).
type Model struct {
	W *tensor.Tensor
	B *tensor.Tensor
}

// Train fits a softmax classifier to x (N, D) and integer labels.
func Train(x *tensor.Tensor, labels []int, cfg Config) (*Model, error) {
	if x == nil {
		return nil, errors.New("classifier: train requires a non-nil feature matrix")
	}

	if x.Rows() != len(labels) {
		return nil, fmt.Errorf("classifier: %d feature rows but %d labels", x.Rows(), len(labels))
	}

	cfg = cfg.withDefaults()

	k := cfg.Classes
	if k <= 0 {
		k = dataset.NumClasses(labels)
	}

	y, err := dataset.OneHot(labels, k)
	if err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(cfg.Seed))

	w, err := tensor.Rand(x.Cols(), k, 0.01, rng)
	if err != nil {
		return nil, err
	}

	b, err := tensor.Zeros(1, k)
	if err != nil {
		return nil, err
	}

	m := &Model{W: w, B: b}
	n := x.Rows()
	order := rng.Perm(n)

	for epoch := 1; epoch <= cfg.Epochs; epoch++ {
		rng.Shuffle(n, func(i, j int) { order[i], order[j] = order[j], order[i] })

		var epochLoss float64
		batches := 0

		for start := 0; start < n; start += cfg.BatchSize {
			end := min(start+cfg.BatchSize, n)

			xb, yb, err := gatherBatch(x, y, order[start:end])
			if err != nil {
				return nil, err
			}

			loss, err := m.step(xb, yb, cfg)
			if err != nil {
				return nil, fmt.Errorf("classifier: epoch %d: %w", epoch, err)
			}

			epochLoss += loss
			batches++
		}

		cfg.Logger.Info("epoch finished",
			"epoch", epoch,
			"mean_loss", epochLoss/float64(batches),
		)
	}

	return m, nil
}

// step runs one SGD update on a minibatch and returns its loss.
func (m *Model) step(xb, yb *tensor.Tensor, cfg Config) (float64, error) {
	probs, err := m.Predict(xb)
	if err != nil {
		return 0, err
	}

	loss, err := layers.CrossEntropyLoss(probs, yb)
	if err != nil {
		return 0, err
	}

	penalty, err := layers.L2Reg(m.W, cfg.L2)
	if err != nil {
		return 0, err
	}

	loss += penalty

	// Softmax + cross-entropy collapse to dLogits = (probs - Y) / batch.
	dlogits, err := tensor.Sub(probs, yb)
	if err != nil {
		return 0, err
	}

	dlogits = dlogits.Scale(1 / float64(xb.Rows()))

	_, dw, db, err := layers.AffineBackward(dlogits, xb, m.W)
	if err != nil {
		return 0, err
	}

	dreg, err := layers.L2RegBackward(m.W, cfg.L2)
	if err != nil {
		return 0, err
	}

	if dw, err = tensor.Add(dw, dreg); err != nil {
		return 0, err
	}

	if m.W, err = tensor.Sub(m.W, dw.Scale(cfg.LearningRate)); err != nil {
		return 0, err
	}

	if m.B, err = tensor.Sub(m.B, db.Scale(cfg.LearningRate)); err != nil {
		return 0, err
	}

	return loss, nil
}

// Predict returns the (N, K) class probability matrix for x.
func (m *Model) Predict(x *tensor.Tensor) (*tensor.Tensor, error) {
	if m == nil || m.W == nil || m.B == nil {
		return nil, errors.New("classifier: model is not initialized")
	}

	logits, err := layers.AffineForward(x, m.W, m.B)
	if err != nil {
		return nil, err
	}

	return layers.SoftmaxForward(logits)
}

// Metrics reports one evaluation pass.
type Metrics struct {
	Examples int
	Correct  int
	Accuracy float64
	MeanLoss float64
}

// Evaluate scores the model on x and labels.
func (m *Model) Evaluate(x *tensor.Tensor, labels []int) (Metrics, error) {
	if x == nil || x.Rows() != len(labels) {
		return Metrics{}, fmt.Errorf("classifier: evaluate needs matching features and labels")
	}

	probs, err := m.Predict(x)
	if err != nil {
		return Metrics{}, err
	}

	y, err := dataset.OneHot(labels, probs.Cols())
	if err != nil {
		return Metrics{}, err
	}

	loss, err := layers.CrossEntropyLoss(probs, y)
	if err != nil {
		return Metrics{}, err
	}

	correct := 0

	for i, label := range labels {
		row := probs.Row(i)

		best := 0
		for j := 1; j < len(row); j++ {
			if row[j] > row[best] {
				best = j
			}
		}

		if best == label {
			correct++
		}
	}

	return Metrics{
		Examples: len(labels),
		Correct:  correct,
		Accuracy: float64(correct) / float64(len(labels)),
		MeanLoss: loss,
	}, nil
}

// gatherBatch copies the selected rows of x and y into batch tensors.
func gatherBatch(x, y *tensor.Tensor, rows []int) (xb, yb *tensor.Tensor, err error) {
	xb, err = tensor.Zeros(len(rows), x.Cols())
	if err != nil {
		return nil, nil, err
	}

	yb, err = tensor.Zeros(len(rows), y.Cols())
	if err != nil {
		return nil, nil, err
	}

	for i, r := range rows {
		copy(xb.Row(i), x.Row(r))
		copy(yb.Row(i), y.Row(r))
	}

	return xb, yb, nil
}

package gradcheck

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/example/gradlab/internal/layers"
	"github.com/example/gradlab/internal/tensor"
)

// The adapters below wire each layer primitive to the Layer capability
// surface. Each one owns the random tensors for the duration of a check and
// decides which tensors get probed: layers with parameters check the input
// as well as weights and bias, pooling and activations check the input only,
// losses check the prediction, regularizers the weight matrix.

// AffineCase checks the affine transform X*W + b against an L2 loss.
type AffineCase struct {
	N, D, M int

	x, w, b, target *tensor.Tensor
}

func (c *AffineCase) Name() string { return "affine" }

func (c *AffineCase) Init(rng *rand.Rand) error {
	var err error

	if c.x, err = tensor.Rand(c.N, c.D, 0.5, rng); err != nil {
		return err
	}

	if c.w, err = tensor.Rand(c.D, c.M, 0.5, rng); err != nil {
		return err
	}

	if c.b, err = tensor.Rand(1, c.M, 0.5, rng); err != nil {
		return err
	}

	c.target, err = tensor.Rand(c.N, c.M, 0.5, rng)

	return err
}

func (c *AffineCase) Params() []Param {
	return []Param{{"X", c.x}, {"W", c.w}, {"b", c.b}}
}

func (c *AffineCase) Loss() (float64, error) {
	out, err := layers.AffineForward(c.x, c.w, c.b)
	if err != nil {
		return 0, err
	}

	return layers.L2Loss(out, c.target)
}

func (c *AffineCase) Gradients() (map[string]*tensor.Tensor, error) {
	out, err := layers.AffineForward(c.x, c.w, c.b)
	if err != nil {
		return nil, err
	}

	dout, err := layers.L2LossBackward(out, c.target)
	if err != nil {
		return nil, err
	}

	dx, dw, db, err := layers.AffineBackward(dout, c.x, c.w)
	if err != nil {
		return nil, err
	}

	return map[string]*tensor.Tensor{"X": dx, "W": dw, "b": db}, nil
}

// ConvCase checks one 2-D convolution variant against an L2 loss.
type ConvCase struct {
	Variant string
	Geom    layers.ConvGeom

	forward  func(x, w, b *tensor.Tensor, g layers.ConvGeom) (*tensor.Tensor, error)
	backward func(dout, x, w *tensor.Tensor, g layers.ConvGeom) (dx, dw, db *tensor.Tensor, err error)

	x, w, b, target *tensor.Tensor
}

// NewConvCase builds a ConvCase for variant "direct", "im2col" or "simple".
func NewConvCase(variant string, g layers.ConvGeom) (*ConvCase, error) {
	c := &ConvCase{Variant: variant, Geom: g}

	switch variant {
	case "direct":
		c.forward, c.backward = layers.ConvForwardDirect, layers.ConvBackwardDirect
	case "im2col":
		c.forward, c.backward = layers.ConvForwardIm2col, layers.ConvBackwardIm2col
	case "simple":
		c.forward, c.backward = layers.ConvForwardSimple, layers.ConvBackwardSimple
	default:
		return nil, fmt.Errorf("gradcheck: unknown conv variant %q", variant)
	}

	return c, nil
}

func (c *ConvCase) Name() string { return "conv2d_" + c.Variant }

func (c *ConvCase) Init(rng *rand.Rand) error {
	g := c.Geom

	hout, wout, err := g.OutDims()
	if err != nil {
		return err
	}

	if c.x, err = tensor.Rand(g.N, g.C*g.Hin*g.Win, 0.5, rng); err != nil {
		return err
	}

	if c.w, err = tensor.Rand(g.F, g.C*g.Hf*g.Wf, 0.5, rng); err != nil {
		return err
	}

	if c.b, err = tensor.Rand(1, g.F, 0.5, rng); err != nil {
		return err
	}

	c.target, err = tensor.Rand(g.N, g.F*hout*wout, 0.5, rng)

	return err
}

func (c *ConvCase) Params() []Param {
	return []Param{{"X", c.x}, {"W", c.w}, {"b", c.b}}
}

func (c *ConvCase) Loss() (float64, error) {
	out, err := c.forward(c.x, c.w, c.b, c.Geom)
	if err != nil {
		return 0, err
	}

	return layers.L2Loss(out, c.target)
}

func (c *ConvCase) Gradients() (map[string]*tensor.Tensor, error) {
	out, err := c.forward(c.x, c.w, c.b, c.Geom)
	if err != nil {
		return nil, err
	}

	dout, err := layers.L2LossBackward(out, c.target)
	if err != nil {
		return nil, err
	}

	dx, dw, db, err := c.backward(dout, c.x, c.w, c.Geom)
	if err != nil {
		return nil, err
	}

	return map[string]*tensor.Tensor{"X": dx, "W": dw, "b": db}, nil
}

// PoolCase checks one max-pooling variant against an L2 loss. Pooling has no
// parameters, so only the input is probed.
type PoolCase struct {
	Variant string
	Geom    layers.PoolGeom

	forward  func(x *tensor.Tensor, g layers.PoolGeom) (*tensor.Tensor, error)
	backward func(dout, x *tensor.Tensor, g layers.PoolGeom) (*tensor.Tensor, error)

	x, target *tensor.Tensor
}

// NewPoolCase builds a PoolCase for variant "direct", "im2col" or "simple".
func NewPoolCase(variant string, g layers.PoolGeom) (*PoolCase, error) {
	c := &PoolCase{Variant: variant, Geom: g}

	switch variant {
	case "direct":
		c.forward, c.backward = layers.PoolForwardDirect, layers.PoolBackwardDirect
	case "im2col":
		c.forward, c.backward = layers.PoolForwardIm2col, layers.PoolBackwardIm2col
	case "simple":
		c.forward, c.backward = layers.PoolForwardSimple, layers.PoolBackwardSimple
	default:
		return nil, fmt.Errorf("gradcheck: unknown pool variant %q", variant)
	}

	return c, nil
}

func (c *PoolCase) Name() string { return "maxpool_" + c.Variant }

func (c *PoolCase) Init(rng *rand.Rand) error {
	g := c.Geom

	hout, wout, err := g.OutDims()
	if err != nil {
		return err
	}

	if c.x, err = tensor.Rand(g.N, g.C*g.Hin*g.Win, 0.5, rng); err != nil {
		return err
	}

	c.target, err = tensor.Rand(g.N, g.C*hout*wout, 0.5, rng)

	return err
}

func (c *PoolCase) Params() []Param {
	return []Param{{"X", c.x}}
}

func (c *PoolCase) Loss() (float64, error) {
	out, err := c.forward(c.x, c.Geom)
	if err != nil {
		return 0, err
	}

	return layers.L2Loss(out, c.target)
}

func (c *PoolCase) Gradients() (map[string]*tensor.Tensor, error) {
	out, err := c.forward(c.x, c.Geom)
	if err != nil {
		return nil, err
	}

	dout, err := layers.L2LossBackward(out, c.target)
	if err != nil {
		return nil, err
	}

	dx, err := c.backward(dout, c.x, c.Geom)
	if err != nil {
		return nil, err
	}

	return map[string]*tensor.Tensor{"X": dx}, nil
}

// ActivationCase checks an element-wise (or row-wise, for softmax)
// activation against an L2 loss on its output.
type ActivationCase struct {
	Kind string
	N, D int

	forward  func(x *tensor.Tensor) (*tensor.Tensor, error)
	backward func(dout, x *tensor.Tensor) (*tensor.Tensor, error)

	x, target *tensor.Tensor
}

// NewActivationCase builds a case for "relu", "sigmoid", "tanh" or "softmax".
func NewActivationCase(kind string, n, d int) (*ActivationCase, error) {
	c := &ActivationCase{Kind: kind, N: n, D: d}

	switch kind {
	case "relu":
		c.forward, c.backward = layers.ReLUForward, layers.ReLUBackward
	case "sigmoid":
		c.forward, c.backward = layers.SigmoidForward, layers.SigmoidBackward
	case "tanh":
		c.forward, c.backward = layers.TanhForward, layers.TanhBackward
	case "softmax":
		c.forward, c.backward = layers.SoftmaxForward, layers.SoftmaxBackward
	default:
		return nil, fmt.Errorf("gradcheck: unknown activation %q", kind)
	}

	return c, nil
}

func (c *ActivationCase) Name() string { return c.Kind }

func (c *ActivationCase) Init(rng *rand.Rand) error {
	var err error

	if c.x, err = tensor.Rand(c.N, c.D, 1.0, rng); err != nil {
		return err
	}

	c.target, err = tensor.Rand(c.N, c.D, 1.0, rng)

	return err
}

func (c *ActivationCase) Params() []Param {
	return []Param{{"X", c.x}}
}

func (c *ActivationCase) Loss() (float64, error) {
	out, err := c.forward(c.x)
	if err != nil {
		return 0, err
	}

	return layers.L2Loss(out, c.target)
}

func (c *ActivationCase) Gradients() (map[string]*tensor.Tensor, error) {
	out, err := c.forward(c.x)
	if err != nil {
		return nil, err
	}

	dout, err := layers.L2LossBackward(out, c.target)
	if err != nil {
		return nil, err
	}

	dx, err := c.backward(dout, c.x)
	if err != nil {
		return nil, err
	}

	return map[string]*tensor.Tensor{"X": dx}, nil
}

// LossCase checks a loss function directly: the prediction tensor is the
// probed parameter and the loss function is the scalar objective.
type LossCase struct {
	Kind string
	N, D int

	loss     func(pred, target *tensor.Tensor) (float64, error)
	backward func(pred, target *tensor.Tensor) (*tensor.Tensor, error)
	domain   func(rng *rand.Rand, n, d int) (pred, target *tensor.Tensor, err error)

	pred, target *tensor.Tensor
}

// NewLossCase builds a case for "l1", "l2", "log" or "cross_entropy".
// Log loss and cross-entropy sample predictions bounded away from their
// domain edges so the ±h probes stay inside (0,1).
func NewLossCase(kind string, n, d int) (*LossCase, error) {
	c := &LossCase{Kind: kind, N: n, D: d}

	switch kind {
	case "l1":
		c.loss, c.backward, c.domain = layers.L1Loss, layers.L1LossBackward, unboundedPair
	case "l2":
		c.loss, c.backward, c.domain = layers.L2Loss, layers.L2LossBackward, unboundedPair
	case "log":
		c.loss, c.backward, c.domain = layers.LogLoss, layers.LogLossBackward, binaryPair
	case "cross_entropy":
		c.loss, c.backward, c.domain = layers.CrossEntropyLoss, layers.CrossEntropyLossBackward, simplexPair
	default:
		return nil, fmt.Errorf("gradcheck: unknown loss %q", kind)
	}

	return c, nil
}

func (c *LossCase) Name() string { return "loss_" + c.Kind }

func (c *LossCase) Init(rng *rand.Rand) error {
	var err error
	c.pred, c.target, err = c.domain(rng, c.N, c.D)

	return err
}

func (c *LossCase) Params() []Param {
	return []Param{{"pred", c.pred}}
}

func (c *LossCase) Loss() (float64, error) {
	return c.loss(c.pred, c.target)
}

func (c *LossCase) Gradients() (map[string]*tensor.Tensor, error) {
	dpred, err := c.backward(c.pred, c.target)
	if err != nil {
		return nil, err
	}

	return map[string]*tensor.Tensor{"pred": dpred}, nil
}

// RegCase checks a regularizer: the weight matrix is the probed parameter.
type RegCase struct {
	Kind       string
	Rows, Cols int
	Lambda     float64

	w *tensor.Tensor
}

// NewRegCase builds a case for "l1" or "l2".
func NewRegCase(kind string, rows, cols int, lambda float64) (*RegCase, error) {
	switch kind {
	case "l1", "l2":
	default:
		return nil, fmt.Errorf("gradcheck: unknown regularizer %q", kind)
	}

	return &RegCase{Kind: kind, Rows: rows, Cols: cols, Lambda: lambda}, nil
}

func (c *RegCase) Name() string { return "reg_" + c.Kind }

func (c *RegCase) Init(rng *rand.Rand) error {
	var err error
	c.w, err = tensor.Rand(c.Rows, c.Cols, 0.5, rng)

	return err
}

func (c *RegCase) Params() []Param {
	return []Param{{"W", c.w}}
}

func (c *RegCase) Loss() (float64, error) {
	if c.Kind == "l1" {
		return layers.L1Reg(c.w, c.Lambda)
	}

	return layers.L2Reg(c.w, c.Lambda)
}

func (c *RegCase) Gradients() (map[string]*tensor.Tensor, error) {
	var (
		dw  *tensor.Tensor
		err error
	)

	if c.Kind == "l1" {
		dw, err = layers.L1RegBackward(c.w, c.Lambda)
	} else {
		dw, err = layers.L2RegBackward(c.w, c.Lambda)
	}

	if err != nil {
		return nil, err
	}

	return map[string]*tensor.Tensor{"W": dw}, nil
}

func unboundedPair(rng *rand.Rand, n, d int) (pred, target *tensor.Tensor, err error) {
	if pred, err = tensor.Rand(n, d, 1.0, rng); err != nil {
		return nil, nil, err
	}

	target, err = tensor.Rand(n, d, 1.0, rng)

	return pred, target, err
}

// binaryPair samples predictions in [0.15, 0.85] and hard 0/1 targets.
func binaryPair(rng *rand.Rand, n, d int) (pred, target *tensor.Tensor, err error) {
	pred, err = tensor.Zeros(n, d)
	if err != nil {
		return nil, nil, err
	}

	target, err = tensor.Zeros(n, d)
	if err != nil {
		return nil, nil, err
	}

	predData := pred.RawData()
	targetData := target.RawData()

	for i := range predData {
		predData[i] = 0.15 + 0.7*rng.Float64()
		if rng.Float64() < 0.5 {
			targetData[i] = 1
		}
	}

	return pred, target, nil
}

// simplexPair samples row-normalized positive predictions (every entry at
// least 0.1 before normalization) and one-hot targets.
func simplexPair(rng *rand.Rand, n, d int) (pred, target *tensor.Tensor, err error) {
	pred, err = tensor.Zeros(n, d)
	if err != nil {
		return nil, nil, err
	}

	target, err = tensor.Zeros(n, d)
	if err != nil {
		return nil, nil, err
	}

	for i := 0; i < n; i++ {
		row := pred.Row(i)

		var sum float64
		for j := range row {
			row[j] = 0.1 + 0.9*rng.Float64()
			sum += row[j]
		}

		for j := range row {
			row[j] /= sum
		}

		target.Set(i, rng.Intn(d), 1)
	}

	return pred, target, nil
}

// Registry returns the full suite of gradient-check cases with small default
// shapes. Tensor sizes stay in the low hundreds of entries since the scan
// reruns the full forward pass twice per entry.
func Registry() (map[string]Layer, error) {
	convGeom := layers.ConvGeom{
		N: 2, C: 2, Hin: 5, Win: 5,
		F: 3, Hf: 3, Wf: 3,
		Stride: 2, Pad: 1,
	}
	poolGeom := layers.PoolGeom{
		N: 2, C: 2, Hin: 6, Win: 6,
		Hp: 2, Wp: 2,
		Stride: 2, Pad: 0,
	}

	cases := map[string]Layer{
		"affine": &AffineCase{N: 3, D: 4, M: 5},
	}

	for _, variant := range []string{"direct", "im2col", "simple"} {
		cc, err := NewConvCase(variant, convGeom)
		if err != nil {
			return nil, err
		}

		cases[cc.Name()] = cc

		pc, err := NewPoolCase(variant, poolGeom)
		if err != nil {
			return nil, err
		}

		cases[pc.Name()] = pc
	}

	for _, kind := range []string{"relu", "sigmoid", "tanh", "softmax"} {
		ac, err := NewActivationCase(kind, 3, 6)
		if err != nil {
			return nil, err
		}

		cases[ac.Name()] = ac
	}

	for _, kind := range []string{"l1", "l2", "log", "cross_entropy"} {
		lc, err := NewLossCase(kind, 3, 6)
		if err != nil {
			return nil, err
		}

		cases[lc.Name()] = lc
	}

	for _, kind := range []string{"l1", "l2"} {
		rc, err := NewRegCase(kind, 4, 5, 0.25)
		if err != nil {
			return nil, err
		}

		cases[rc.Name()] = rc
	}

	return cases, nil
}

// RegistryNames returns the sorted case names of Registry.
func RegistryNames() ([]string, error) {
	cases, err := Registry()
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(cases))
	for name := range cases {
		names = append(names, name)
	}

	sort.Strings(names)

	return names, nil
}

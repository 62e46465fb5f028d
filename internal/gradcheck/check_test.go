package gradcheck

import (
	"bytes"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"testing"

	"github.com/example/gradlab/internal/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func quietOptions() Options {
	return Options{Logger: quietLogger()}
}

func TestRelError(t *testing.T) {
	assert.InDelta(t, 0.5, RelError(1.0, 0.5, 1e-12), 1e-12)
	assert.Equal(t, 0.0, RelError(0, 0, 1e-12))

	// Epsilon keeps near-zero pairs out of the ERROR band.
	rel := RelError(1e-15, -1e-15, 1e-12)
	assert.False(t, math.IsNaN(rel))
	assert.False(t, math.IsInf(rel, 0))
}

func TestClassifyBoundaries(t *testing.T) {
	cases := []struct {
		name       string
		analytical float64
		numeric    float64
		want       Band
	}{
		{"close match is ok", 1.0, 1.0001, BandOK},
		{"two percent off is an error", 1.0, 1.02, BandError},
		{"half the magnitude is an error", 1.0, 0.5, BandError},
		{"exactly at warn threshold stays ok", 1.0, 1.0, BandOK},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rel := RelError(tc.analytical, tc.numeric, DefaultEpsilon)
			assert.Equal(t, tc.want, Classify(rel, DefaultWarnAt, DefaultErrorAt))
		})
	}

	// Threshold semantics are strict: exactly warnAt classifies OK,
	// exactly errorAt classifies WARNING.
	assert.Equal(t, BandOK, Classify(1e-4, DefaultWarnAt, DefaultErrorAt))
	assert.Equal(t, BandWarning, Classify(1e-2, DefaultWarnAt, DefaultErrorAt))
	assert.Equal(t, BandError, Classify(1.1e-2, DefaultWarnAt, DefaultErrorAt))
}

// recordingLayer snapshots its inner layer's parameters right after Init so
// a test can verify the probe loop restored every entry bit-for-bit.
type recordingLayer struct {
	Layer
	snapshots map[string][]uint64
}

func (r *recordingLayer) Init(rng *rand.Rand) error {
	if err := r.Layer.Init(rng); err != nil {
		return err
	}

	r.snapshots = make(map[string][]uint64)

	for _, p := range r.Layer.Params() {
		bits := make([]uint64, p.T.ElemCount())
		for i, v := range p.T.RawData() {
			bits[i] = math.Float64bits(v)
		}

		r.snapshots[p.Name] = bits
	}

	return nil
}

func TestProbeRestoresEntriesBitForBit(t *testing.T) {
	layer := &recordingLayer{Layer: &AffineCase{N: 2, D: 3, M: 2}}
	rng := rand.New(rand.NewSource(7))

	_, err := Check(layer, rng, quietOptions())
	require.NoError(t, err)

	for _, p := range layer.Layer.Params() {
		want := layer.snapshots[p.Name]
		for i, v := range p.T.RawData() {
			require.Equal(t, want[i], math.Float64bits(v),
				"param %s entry %d changed across the scan", p.Name, i)
		}
	}
}

// expCase is a one-entry layer with loss exp(x), whose analytical gradient
// is exact. The centered-difference error against it isolates the h curve.
type expCase struct {
	x *tensor.Tensor
}

func (c *expCase) Name() string { return "exp" }

func (c *expCase) Init(*rand.Rand) error {
	var err error
	c.x, err = tensor.Full(1, 1, 0.5)

	return err
}

func (c *expCase) Params() []Param { return []Param{{"x", c.x}} }

func (c *expCase) Loss() (float64, error) {
	return math.Exp(c.x.At(0, 0)), nil
}

func (c *expCase) Gradients() (map[string]*tensor.Tensor, error) {
	g, err := tensor.Full(1, 1, math.Exp(c.x.At(0, 0)))
	if err != nil {
		return nil, err
	}

	return map[string]*tensor.Tensor{"x": g}, nil
}

func TestCenteredDifferenceErrorCurve(t *testing.T) {
	// Truncation error of the centered estimate shrinks quadratically in h,
	// then rounding error takes over once h gets near the precision floor:
	// the measured error over h is U-shaped.
	errAt := func(h float64) float64 {
		res, err := Check(&expCase{}, rand.New(rand.NewSource(1)), Options{
			Step:   h,
			Logger: quietLogger(),
		})
		require.NoError(t, err)

		return res.MaxRelError
	}

	coarse := errAt(1e-1)
	mid := errAt(1e-2)
	fine := errAt(1e-3)
	floor := errAt(1e-12)

	assert.Greater(t, coarse, mid, "error should shrink from h=1e-1 to h=1e-2")
	assert.Greater(t, mid, fine, "error should shrink from h=1e-2 to h=1e-3")
	assert.Greater(t, floor, fine, "cancellation should dominate at h=1e-12")
}

func TestCheckAffineEndToEnd(t *testing.T) {
	layer := &AffineCase{N: 3, D: 100, M: 10}
	rng := rand.New(rand.NewSource(42))

	res, err := Check(layer, rng, quietOptions())
	require.NoError(t, err)

	assert.Equal(t, 3*100+100*10+10, res.Entries)
	assert.Zero(t, res.Errors, "max rel error %g", res.MaxRelError)
	assert.Less(t, res.MaxRelError, 1e-2)
}

func TestCheckCrossEntropyEndToEnd(t *testing.T) {
	layer, err := NewLossCase("cross_entropy", 3, 10)
	require.NoError(t, err)

	res, err := Check(layer, rand.New(rand.NewSource(42)), quietOptions())
	require.NoError(t, err)

	assert.Equal(t, 30, res.Entries)
	assert.Zero(t, res.Errors, "max rel error %g", res.MaxRelError)
	assert.Less(t, res.MaxRelError, 1e-2)
}

func TestCheckFullSuite(t *testing.T) {
	cases, err := Registry()
	require.NoError(t, err)

	names, err := RegistryNames()
	require.NoError(t, err)
	require.Len(t, names, len(cases))

	rng := rand.New(rand.NewSource(1234))

	for _, name := range names {
		t.Run(name, func(t *testing.T) {
			res, err := Check(cases[name], rng, quietOptions())
			require.NoError(t, err)

			assert.Positive(t, res.Entries)
			assert.Zero(t, res.Errors, "layer %s max rel error %g", name, res.MaxRelError)
		})
	}
}

// scaledGradients doubles every analytical gradient, which the checker must
// flag on every entry without aborting the scan.
type scaledGradients struct {
	*AffineCase
}

func (s *scaledGradients) Gradients() (map[string]*tensor.Tensor, error) {
	grads, err := s.AffineCase.Gradients()
	if err != nil {
		return nil, err
	}

	for name, g := range grads {
		grads[name] = g.Scale(2)
	}

	return grads, nil
}

func TestCheckReportsWrongGradientAndContinues(t *testing.T) {
	var buf bytes.Buffer

	layer := &scaledGradients{&AffineCase{N: 2, D: 3, M: 2}}
	opts := Options{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}

	res, err := Check(layer, rand.New(rand.NewSource(9)), opts)
	require.NoError(t, err, "gradient discrepancies must not fail the scan")

	assert.Equal(t, 2*3+3*2+2, res.Entries, "scan must visit every entry")
	assert.Positive(t, res.Errors)
	assert.Contains(t, buf.String(), "gradient mismatch")
	assert.Contains(t, buf.String(), "loss_plus")
}

// missingGradient drops one parameter's gradient to trigger a fatal error.
type missingGradient struct {
	*AffineCase
}

func (m *missingGradient) Gradients() (map[string]*tensor.Tensor, error) {
	grads, err := m.AffineCase.Gradients()
	if err != nil {
		return nil, err
	}

	delete(grads, "b")

	return grads, nil
}

func TestCheckMissingGradientIsFatal(t *testing.T) {
	layer := &missingGradient{&AffineCase{N: 2, D: 2, M: 2}}

	_, err := Check(layer, rand.New(rand.NewSource(3)), quietOptions())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no analytical gradient")
}

func TestCheckNilArguments(t *testing.T) {
	_, err := Check(nil, rand.New(rand.NewSource(1)), quietOptions())
	require.Error(t, err)

	_, err = Check(&AffineCase{N: 1, D: 1, M: 1}, nil, quietOptions())
	require.Error(t, err)
}

package layers

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/example/gradlab/internal/tensor"
	"github.com/stretchr/testify/require"
)

func poolGeoms() []PoolGeom {
	return []PoolGeom{
		{N: 2, C: 1, Hin: 4, Win: 4, Hp: 2, Wp: 2, Stride: 2, Pad: 0},
		{N: 1, C: 2, Hin: 5, Win: 5, Hp: 3, Wp: 3, Stride: 2, Pad: 1},
		{N: 2, C: 2, Hin: 6, Win: 4, Hp: 2, Wp: 2, Stride: 1, Pad: 0},
	}
}

func TestPoolForwardVariantsAgree(t *testing.T) {
	for i, g := range poolGeoms() {
		t.Run(fmt.Sprintf("geom%d", i), func(t *testing.T) {
			rng := rand.New(rand.NewSource(int64(400 + i)))

			x, err := tensor.Rand(g.N, g.C*g.Hin*g.Win, 1.0, rng)
			require.NoError(t, err)

			direct, err := PoolForwardDirect(x, g)
			require.NoError(t, err)

			im2col, err := PoolForwardIm2col(x, g)
			require.NoError(t, err)

			simple, err := PoolForwardSimple(x, g)
			require.NoError(t, err)

			require.True(t, direct.EqualApprox(im2col, parityTol), "direct vs im2col diverge")
			require.True(t, direct.EqualApprox(simple, parityTol), "direct vs simple diverge")
		})
	}
}

func TestPoolBackwardVariantsAgree(t *testing.T) {
	for i, g := range poolGeoms() {
		t.Run(fmt.Sprintf("geom%d", i), func(t *testing.T) {
			rng := rand.New(rand.NewSource(int64(500 + i)))

			x, err := tensor.Rand(g.N, g.C*g.Hin*g.Win, 1.0, rng)
			require.NoError(t, err)

			hout, wout, err := g.OutDims()
			require.NoError(t, err)

			dout, err := tensor.Rand(g.N, g.C*hout*wout, 1.0, rng)
			require.NoError(t, err)

			dxD, err := PoolBackwardDirect(dout, x, g)
			require.NoError(t, err)

			dxI, err := PoolBackwardIm2col(dout, x, g)
			require.NoError(t, err)

			dxS, err := PoolBackwardSimple(dout, x, g)
			require.NoError(t, err)

			require.True(t, dxD.EqualApprox(dxI, parityTol), "dX direct vs im2col")
			require.True(t, dxD.EqualApprox(dxS, parityTol), "dX direct vs simple")
		})
	}
}

func TestPoolForwardKnownValues(t *testing.T) {
	g := PoolGeom{N: 1, C: 1, Hin: 4, Win: 4, Hp: 2, Wp: 2, Stride: 2, Pad: 0}
	x := mustTensor(t, []float64{
		1, 2, 5, 6,
		3, 4, 7, 8,
		9, 10, 13, 14,
		11, 12, 15, 16,
	}, 1, 16)

	out, err := PoolForwardDirect(x, g)
	require.NoError(t, err)
	require.Equal(t, []float64{4, 8, 12, 16}, out.Data())
}

func TestPoolBackwardRoutesToMax(t *testing.T) {
	g := PoolGeom{N: 1, C: 1, Hin: 2, Win: 2, Hp: 2, Wp: 2, Stride: 2, Pad: 0}
	x := mustTensor(t, []float64{1, 9, 3, 4}, 1, 4)
	dout := mustTensor(t, []float64{5}, 1, 1)

	dx, err := PoolBackwardDirect(dout, x, g)
	require.NoError(t, err)
	require.Equal(t, []float64{0, 5, 0, 0}, dx.Data())
}

func TestPoolRejectsMismatchedInput(t *testing.T) {
	g := PoolGeom{N: 2, C: 1, Hin: 4, Win: 4, Hp: 2, Wp: 2, Stride: 2, Pad: 0}
	x := mustTensor(t, make([]float64, 16), 1, 16)

	_, err := PoolForwardDirect(x, g)
	require.Error(t, err)
}

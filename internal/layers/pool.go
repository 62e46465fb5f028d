package layers

import (
	"fmt"
	"math"

	"github.com/example/gradlab/internal/tensor"
)

// PoolGeom describes one 2-D max-pooling problem over (N, C*Hin*Win) images.
type PoolGeom struct {
	N, C, Hin, Win int
	Hp, Wp         int
	Stride, Pad    int
}

func (g PoolGeom) conv() ConvGeom {
	return ConvGeom{
		N: g.N, C: g.C, Hin: g.Hin, Win: g.Win,
		F: 1, Hf: g.Hp, Wf: g.Wp,
		Stride: g.Stride, Pad: g.Pad,
	}
}

// OutDims returns the spatial output extents.
func (g PoolGeom) OutDims() (hout, wout int, err error) {
	return g.conv().OutDims()
}

func (g PoolGeom) validate(x *tensor.Tensor) error {
	if x == nil {
		return fmt.Errorf("layers: max pool requires non-nil input")
	}

	if g.N <= 0 || g.C <= 0 || g.Hin <= 0 || g.Win <= 0 || g.Hp <= 0 || g.Wp <= 0 {
		return fmt.Errorf("layers: max pool geometry has non-positive extents: %+v", g)
	}

	if x.Rows() != g.N || x.Cols() != g.C*g.Hin*g.Win {
		return fmt.Errorf("layers: max pool input %dx%d does not match geometry (%d, %d*%d*%d)", x.Rows(), x.Cols(), g.N, g.C, g.Hin, g.Win)
	}

	return nil
}

// PoolForwardDirect computes max pooling with explicit window loops,
// skipping out-of-bounds taps. Padding therefore behaves as -Inf padding.
func PoolForwardDirect(x *tensor.Tensor, g PoolGeom) (*tensor.Tensor, error) {
	if err := g.validate(x); err != nil {
		return nil, err
	}

	hout, wout, err := g.OutDims()
	if err != nil {
		return nil, err
	}

	out, err := tensor.Zeros(g.N, g.C*hout*wout)
	if err != nil {
		return nil, err
	}

	xData := x.RawData()
	outData := out.RawData()

	for n := 0; n < g.N; n++ {
		xBase := n * g.C * g.Hin * g.Win
		outBase := n * g.C * hout * wout

		for c := 0; c < g.C; c++ {
			for ho := 0; ho < hout; ho++ {
				for wo := 0; wo < wout; wo++ {
					maxV := math.Inf(-1)

					for hp := 0; hp < g.Hp; hp++ {
						hi := ho*g.Stride - g.Pad + hp
						if hi < 0 || hi >= g.Hin {
							continue
						}

						for wp := 0; wp < g.Wp; wp++ {
							wi := wo*g.Stride - g.Pad + wp
							if wi < 0 || wi >= g.Win {
								continue
							}

							v := xData[xBase+(c*g.Hin+hi)*g.Win+wi]
							if v > maxV {
								maxV = v
							}
						}
					}

					outData[outBase+(c*hout+ho)*wout+wo] = maxV
				}
			}
		}
	}

	return out, nil
}

// PoolBackwardDirect routes each output gradient to the first maximal entry
// of its window (ties break toward the lowest index, matching the forward
// scan order of all three variants).
func PoolBackwardDirect(dout, x *tensor.Tensor, g PoolGeom) (*tensor.Tensor, error) {
	if err := g.validate(x); err != nil {
		return nil, err
	}

	hout, wout, err := g.OutDims()
	if err != nil {
		return nil, err
	}

	if dout == nil || dout.Rows() != g.N || dout.Cols() != g.C*hout*wout {
		return nil, fmt.Errorf("layers: max pool backward dout %dx%d does not match output (%d, %d*%d*%d)", dout.Rows(), dout.Cols(), g.N, g.C, hout, wout)
	}

	dx, err := tensor.Zeros(g.N, g.C*g.Hin*g.Win)
	if err != nil {
		return nil, err
	}

	xData := x.RawData()
	doutData := dout.RawData()
	dxData := dx.RawData()

	for n := 0; n < g.N; n++ {
		xBase := n * g.C * g.Hin * g.Win
		outBase := n * g.C * hout * wout

		for c := 0; c < g.C; c++ {
			for ho := 0; ho < hout; ho++ {
				for wo := 0; wo < wout; wo++ {
					maxV := math.Inf(-1)
					argmax := -1

					for hp := 0; hp < g.Hp; hp++ {
						hi := ho*g.Stride - g.Pad + hp
						if hi < 0 || hi >= g.Hin {
							continue
						}

						for wp := 0; wp < g.Wp; wp++ {
							wi := wo*g.Stride - g.Pad + wp
							if wi < 0 || wi >= g.Win {
								continue
							}

							idx := xBase + (c*g.Hin+hi)*g.Win + wi
							if xData[idx] > maxV {
								maxV = xData[idx]
								argmax = idx
							}
						}
					}

					if argmax >= 0 {
						dxData[argmax] += doutData[outBase+(c*hout+ho)*wout+wo]
					}
				}
			}
		}
	}

	return dx, nil
}

// PoolForwardIm2col computes max pooling by extracting each channel's
// windows into a patch matrix (missing taps filled with -Inf) and taking
// per-column maxima.
func PoolForwardIm2col(x *tensor.Tensor, g PoolGeom) (*tensor.Tensor, error) {
	if err := g.validate(x); err != nil {
		return nil, err
	}

	hout, wout, err := g.OutDims()
	if err != nil {
		return nil, err
	}

	out, err := tensor.Zeros(g.N, g.C*hout*wout)
	if err != nil {
		return nil, err
	}

	cg := g.conv()
	outData := out.RawData()
	negInf := math.Inf(-1)

	for n := 0; n < g.N; n++ {
		xRow := x.Row(n)
		outBase := n * g.C * hout * wout

		for c := 0; c < g.C; c++ {
			// Reuse the convolution patch extractor on a single channel.
			channel := xRow[c*g.Hin*g.Win : (c+1)*g.Hin*g.Win]
			chGeom := cg
			chGeom.C = 1

			patches := im2colFill(channel, chGeom, hout, wout, negInf)
			pData := patches.RawData()
			cols := hout * wout

			for col := 0; col < cols; col++ {
				maxV := negInf
				for row := 0; row < g.Hp*g.Wp; row++ {
					if v := pData[row*cols+col]; v > maxV {
						maxV = v
					}
				}

				outData[outBase+c*cols+col] = maxV
			}
		}
	}

	return out, nil
}

// PoolBackwardIm2col mirrors PoolForwardIm2col: the gradient of each output
// column flows to the first row achieving the column maximum.
func PoolBackwardIm2col(dout, x *tensor.Tensor, g PoolGeom) (*tensor.Tensor, error) {
	if err := g.validate(x); err != nil {
		return nil, err
	}

	hout, wout, err := g.OutDims()
	if err != nil {
		return nil, err
	}

	if dout == nil || dout.Rows() != g.N || dout.Cols() != g.C*hout*wout {
		return nil, fmt.Errorf("layers: max pool im2col backward dout %dx%d does not match output (%d, %d*%d*%d)", dout.Rows(), dout.Cols(), g.N, g.C, hout, wout)
	}

	dx, err := tensor.Zeros(g.N, g.C*g.Hin*g.Win)
	if err != nil {
		return nil, err
	}

	cg := g.conv()
	doutData := dout.RawData()
	negInf := math.Inf(-1)
	cols := hout * wout

	for n := 0; n < g.N; n++ {
		xRow := x.Row(n)
		dxRow := dx.Row(n)
		outBase := n * g.C * cols

		for c := 0; c < g.C; c++ {
			channel := xRow[c*g.Hin*g.Win : (c+1)*g.Hin*g.Win]
			chGeom := cg
			chGeom.C = 1

			patches := im2colFill(channel, chGeom, hout, wout, negInf)
			pData := patches.RawData()

			for col := 0; col < cols; col++ {
				maxV := negInf
				argRow := -1

				for row := 0; row < g.Hp*g.Wp; row++ {
					if v := pData[row*cols+col]; v > maxV {
						maxV = v
						argRow = row
					}
				}

				if argRow < 0 || math.IsInf(maxV, -1) {
					continue
				}

				// Map (patch row, output column) back to the input pixel.
				hp := argRow / g.Wp
				wp := argRow % g.Wp
				ho := col / wout
				wo := col % wout
				hi := ho*g.Stride - g.Pad + hp
				wi := wo*g.Stride - g.Pad + wp
				dxRow[(c*g.Hin+hi)*g.Win+wi] += doutData[outBase+c*cols+col]
			}
		}
	}

	return dx, nil
}

// PoolForwardSimple is the reference implementation over a materialized
// -Inf-padded input buffer.
func PoolForwardSimple(x *tensor.Tensor, g PoolGeom) (*tensor.Tensor, error) {
	if err := g.validate(x); err != nil {
		return nil, err
	}

	hout, wout, err := g.OutDims()
	if err != nil {
		return nil, err
	}

	out, err := tensor.Zeros(g.N, g.C*hout*wout)
	if err != nil {
		return nil, err
	}

	hp := g.Hin + 2*g.Pad
	wp := g.Win + 2*g.Pad
	outData := out.RawData()

	for n := 0; n < g.N; n++ {
		padded := padImage(x.Row(n), g.conv(), math.Inf(-1))
		outBase := n * g.C * hout * wout

		for c := 0; c < g.C; c++ {
			for ho := 0; ho < hout; ho++ {
				for wo := 0; wo < wout; wo++ {
					maxV := math.Inf(-1)

					for ph := 0; ph < g.Hp; ph++ {
						for pw := 0; pw < g.Wp; pw++ {
							v := padded[(c*hp+ho*g.Stride+ph)*wp+wo*g.Stride+pw]
							if v > maxV {
								maxV = v
							}
						}
					}

					outData[outBase+(c*hout+ho)*wout+wo] = maxV
				}
			}
		}
	}

	return out, nil
}

// PoolBackwardSimple computes the gradient over the padded buffer and crops
// the padding, mirroring PoolForwardSimple.
func PoolBackwardSimple(dout, x *tensor.Tensor, g PoolGeom) (*tensor.Tensor, error) {
	if err := g.validate(x); err != nil {
		return nil, err
	}

	hout, wout, err := g.OutDims()
	if err != nil {
		return nil, err
	}

	if dout == nil || dout.Rows() != g.N || dout.Cols() != g.C*hout*wout {
		return nil, fmt.Errorf("layers: max pool simple backward dout %dx%d does not match output (%d, %d*%d*%d)", dout.Rows(), dout.Cols(), g.N, g.C, hout, wout)
	}

	dx, err := tensor.Zeros(g.N, g.C*g.Hin*g.Win)
	if err != nil {
		return nil, err
	}

	hp := g.Hin + 2*g.Pad
	wp := g.Win + 2*g.Pad
	doutData := dout.RawData()

	for n := 0; n < g.N; n++ {
		padded := padImage(x.Row(n), g.conv(), math.Inf(-1))
		dpadded := make([]float64, g.C*hp*wp)
		outBase := n * g.C * hout * wout

		for c := 0; c < g.C; c++ {
			for ho := 0; ho < hout; ho++ {
				for wo := 0; wo < wout; wo++ {
					maxV := math.Inf(-1)
					argmax := -1

					for ph := 0; ph < g.Hp; ph++ {
						for pw := 0; pw < g.Wp; pw++ {
							idx := (c*hp+ho*g.Stride+ph)*wp + wo*g.Stride + pw
							if padded[idx] > maxV {
								maxV = padded[idx]
								argmax = idx
							}
						}
					}

					if argmax >= 0 && !math.IsInf(maxV, -1) {
						dpadded[argmax] += doutData[outBase+(c*hout+ho)*wout+wo]
					}
				}
			}
		}

		dxRow := dx.Row(n)
		for c := 0; c < g.C; c++ {
			for hi := 0; hi < g.Hin; hi++ {
				for wi := 0; wi < g.Win; wi++ {
					dxRow[(c*g.Hin+hi)*g.Win+wi] = dpadded[(c*hp+hi+g.Pad)*wp+wi+g.Pad]
				}
			}
		}
	}

	return dx, nil
}

// im2colFill is im2col with a configurable fill for out-of-bounds taps.
func im2colFill(xRow []float64, g ConvGeom, hout, wout int, fill float64) *tensor.Tensor {
	patches, _ := tensor.Full(g.C*g.Hf*g.Wf, hout*wout, fill)
	pData := patches.RawData()
	cols := hout * wout

	for c := 0; c < g.C; c++ {
		for hf := 0; hf < g.Hf; hf++ {
			for wf := 0; wf < g.Wf; wf++ {
				row := (c*g.Hf+hf)*g.Wf + wf
				base := row * cols

				for ho := 0; ho < hout; ho++ {
					hi := ho*g.Stride - g.Pad + hf
					if hi < 0 || hi >= g.Hin {
						continue
					}

					for wo := 0; wo < wout; wo++ {
						wi := wo*g.Stride - g.Pad + wf
						if wi < 0 || wi >= g.Win {
							continue
						}

						pData[base+ho*wout+wo] = xRow[(c*g.Hin+hi)*g.Win+wi]
					}
				}
			}
		}
	}

	return patches
}

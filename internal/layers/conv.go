package layers

import (
	"errors"
	"fmt"

	"github.com/example/gradlab/internal/tensor"
)

// ConvGeom describes one 2-D convolution or pooling problem. Images are
// (N, C*Hin*Win) matrices, filters (F, C*Hf*Wf), biases (1, F).
type ConvGeom struct {
	N, C, Hin, Win int
	F, Hf, Wf      int
	Stride, Pad    int
}

// OutDims returns the spatial output extents.
func (g ConvGeom) OutDims() (hout, wout int, err error) {
	if g.Stride <= 0 {
		return 0, 0, fmt.Errorf("layers: conv stride must be > 0, got %d", g.Stride)
	}

	if g.Pad < 0 {
		return 0, 0, fmt.Errorf("layers: conv pad must be >= 0, got %d", g.Pad)
	}

	hout = (g.Hin+2*g.Pad-g.Hf)/g.Stride + 1
	wout = (g.Win+2*g.Pad-g.Wf)/g.Stride + 1

	if hout <= 0 || wout <= 0 {
		return 0, 0, fmt.Errorf("layers: conv produced non-positive output extents %dx%d", hout, wout)
	}

	return hout, wout, nil
}

func (g ConvGeom) validate(x, w, b *tensor.Tensor) error {
	if x == nil || w == nil {
		return errors.New("layers: conv requires non-nil input/filters")
	}

	if g.N <= 0 || g.C <= 0 || g.Hin <= 0 || g.Win <= 0 || g.F <= 0 || g.Hf <= 0 || g.Wf <= 0 {
		return fmt.Errorf("layers: conv geometry has non-positive extents: %+v", g)
	}

	if x.Rows() != g.N || x.Cols() != g.C*g.Hin*g.Win {
		return fmt.Errorf("layers: conv input %dx%d does not match geometry (%d, %d*%d*%d)", x.Rows(), x.Cols(), g.N, g.C, g.Hin, g.Win)
	}

	if w.Rows() != g.F || w.Cols() != g.C*g.Hf*g.Wf {
		return fmt.Errorf("layers: conv filters %dx%d do not match geometry (%d, %d*%d*%d)", w.Rows(), w.Cols(), g.F, g.C, g.Hf, g.Wf)
	}

	if b != nil && (b.Rows() != 1 || b.Cols() != g.F) {
		return fmt.Errorf("layers: conv bias %dx%d does not match filter count %d", b.Rows(), b.Cols(), g.F)
	}

	return nil
}

// ConvForwardDirect computes the convolution with explicit nested loops,
// skipping out-of-bounds taps instead of materializing padding.
func ConvForwardDirect(x, w, b *tensor.Tensor, g ConvGeom) (*tensor.Tensor, error) {
	if err := g.validate(x, w, b); err != nil {
		return nil, err
	}

	hout, wout, err := g.OutDims()
	if err != nil {
		return nil, err
	}

	out, err := tensor.Zeros(g.N, g.F*hout*wout)
	if err != nil {
		return nil, err
	}

	xData := x.RawData()
	wData := w.RawData()
	outData := out.RawData()

	var bData []float64
	if b != nil {
		bData = b.RawData()
	}

	for n := 0; n < g.N; n++ {
		xBase := n * g.C * g.Hin * g.Win
		outBase := n * g.F * hout * wout

		for f := 0; f < g.F; f++ {
			wBase := f * g.C * g.Hf * g.Wf

			for ho := 0; ho < hout; ho++ {
				for wo := 0; wo < wout; wo++ {
					var sum float64
					if bData != nil {
						sum = bData[f]
					}

					for c := 0; c < g.C; c++ {
						for hf := 0; hf < g.Hf; hf++ {
							hi := ho*g.Stride - g.Pad + hf
							if hi < 0 || hi >= g.Hin {
								continue
							}

							for wf := 0; wf < g.Wf; wf++ {
								wi := wo*g.Stride - g.Pad + wf
								if wi < 0 || wi >= g.Win {
									continue
								}

								xIdx := xBase + (c*g.Hin+hi)*g.Win + wi
								wIdx := wBase + (c*g.Hf+hf)*g.Wf + wf
								sum += xData[xIdx] * wData[wIdx]
							}
						}
					}

					outData[outBase+(f*hout+ho)*wout+wo] = sum
				}
			}
		}
	}

	return out, nil
}

// ConvBackwardDirect computes dX, dW and db for a direct-loop convolution.
func ConvBackwardDirect(dout, x, w *tensor.Tensor, g ConvGeom) (dx, dw, db *tensor.Tensor, err error) {
	if err := g.validate(x, w, nil); err != nil {
		return nil, nil, nil, err
	}

	hout, wout, err := g.OutDims()
	if err != nil {
		return nil, nil, nil, err
	}

	if dout == nil || dout.Rows() != g.N || dout.Cols() != g.F*hout*wout {
		return nil, nil, nil, fmt.Errorf("layers: conv backward dout %dx%d does not match output (%d, %d*%d*%d)", dout.Rows(), dout.Cols(), g.N, g.F, hout, wout)
	}

	dx, err = tensor.Zeros(g.N, g.C*g.Hin*g.Win)
	if err != nil {
		return nil, nil, nil, err
	}

	dw, err = tensor.Zeros(g.F, g.C*g.Hf*g.Wf)
	if err != nil {
		return nil, nil, nil, err
	}

	db, err = tensor.Zeros(1, g.F)
	if err != nil {
		return nil, nil, nil, err
	}

	xData := x.RawData()
	wData := w.RawData()
	doutData := dout.RawData()
	dxData := dx.RawData()
	dwData := dw.RawData()
	dbData := db.RawData()

	for n := 0; n < g.N; n++ {
		xBase := n * g.C * g.Hin * g.Win
		outBase := n * g.F * hout * wout

		for f := 0; f < g.F; f++ {
			wBase := f * g.C * g.Hf * g.Wf

			for ho := 0; ho < hout; ho++ {
				for wo := 0; wo < wout; wo++ {
					d := doutData[outBase+(f*hout+ho)*wout+wo]
					if d == 0 {
						continue
					}

					dbData[f] += d

					for c := 0; c < g.C; c++ {
						for hf := 0; hf < g.Hf; hf++ {
							hi := ho*g.Stride - g.Pad + hf
							if hi < 0 || hi >= g.Hin {
								continue
							}

							for wf := 0; wf < g.Wf; wf++ {
								wi := wo*g.Stride - g.Pad + wf
								if wi < 0 || wi >= g.Win {
									continue
								}

								xIdx := xBase + (c*g.Hin+hi)*g.Win + wi
								wIdx := wBase + (c*g.Hf+hf)*g.Wf + wf
								dwData[wIdx] += d * xData[xIdx]
								dxData[xIdx] += d * wData[wIdx]
							}
						}
					}
				}
			}
		}
	}

	return dx, dw, db, nil
}

// im2col expands one image (row xRow of length C*Hin*Win) into a patch
// matrix of shape (C*Hf*Wf, Hout*Wout). Out-of-bounds taps contribute zero.
func im2col(xRow []float64, g ConvGeom, hout, wout int) *tensor.Tensor {
	patches, _ := tensor.Zeros(g.C*g.Hf*g.Wf, hout*wout)
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

// col2im scatters a patch-matrix gradient back into an image row,
// accumulating where patches overlap.
func col2im(dpatches *tensor.Tensor, g ConvGeom, hout, wout int, dxRow []float64) {
	pData := dpatches.RawData()
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

						dxRow[(c*g.Hin+hi)*g.Win+wi] += pData[base+ho*wout+wo]
					}
				}
			}
		}
	}
}

// ConvForwardIm2col computes the convolution as a matrix product over
// extracted patches: out_n = W * im2col(x_n) + b.
func ConvForwardIm2col(x, w, b *tensor.Tensor, g ConvGeom) (*tensor.Tensor, error) {
	if err := g.validate(x, w, b); err != nil {
		return nil, err
	}

	hout, wout, err := g.OutDims()
	if err != nil {
		return nil, err
	}

	out, err := tensor.Zeros(g.N, g.F*hout*wout)
	if err != nil {
		return nil, err
	}

	var bData []float64
	if b != nil {
		bData = b.RawData()
	}

	for n := 0; n < g.N; n++ {
		patches := im2col(x.Row(n), g, hout, wout)

		prod, err := tensor.MatMul(w, patches)
		if err != nil {
			return nil, fmt.Errorf("layers: conv im2col forward: %w", err)
		}

		outRow := out.Row(n)
		prodData := prod.RawData()
		copy(outRow, prodData)

		if bData != nil {
			for f := 0; f < g.F; f++ {
				base := f * hout * wout
				for i := 0; i < hout*wout; i++ {
					outRow[base+i] += bData[f]
				}
			}
		}
	}

	return out, nil
}

// ConvBackwardIm2col computes dX, dW, db using the patch-matrix formulation:
// dW += dOut_n * im2col(x_n)^T, dPatches = W^T * dOut_n, dX = col2im(dPatches).
func ConvBackwardIm2col(dout, x, w *tensor.Tensor, g ConvGeom) (dx, dw, db *tensor.Tensor, err error) {
	if err := g.validate(x, w, nil); err != nil {
		return nil, nil, nil, err
	}

	hout, wout, err := g.OutDims()
	if err != nil {
		return nil, nil, nil, err
	}

	if dout == nil || dout.Rows() != g.N || dout.Cols() != g.F*hout*wout {
		return nil, nil, nil, fmt.Errorf("layers: conv im2col backward dout %dx%d does not match output (%d, %d*%d*%d)", dout.Rows(), dout.Cols(), g.N, g.F, hout, wout)
	}

	dx, err = tensor.Zeros(g.N, g.C*g.Hin*g.Win)
	if err != nil {
		return nil, nil, nil, err
	}

	dw, err = tensor.Zeros(g.F, g.C*g.Hf*g.Wf)
	if err != nil {
		return nil, nil, nil, err
	}

	db, err = tensor.Zeros(1, g.F)
	if err != nil {
		return nil, nil, nil, err
	}

	dwData := dw.RawData()
	dbData := db.RawData()
	wT := w.Transpose()

	for n := 0; n < g.N; n++ {
		doutN, err := tensor.New(dout.Row(n), g.F, hout*wout)
		if err != nil {
			return nil, nil, nil, err
		}

		patches := im2col(x.Row(n), g, hout, wout)

		dwN, err := tensor.MatMul(doutN, patches.Transpose())
		if err != nil {
			return nil, nil, nil, fmt.Errorf("layers: conv im2col backward dw: %w", err)
		}

		for i, v := range dwN.RawData() {
			dwData[i] += v
		}

		dpatches, err := tensor.MatMul(wT, doutN)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("layers: conv im2col backward dpatches: %w", err)
		}

		col2im(dpatches, g, hout, wout, dx.Row(n))

		doutData := doutN.RawData()
		for f := 0; f < g.F; f++ {
			base := f * hout * wout
			for i := 0; i < hout*wout; i++ {
				dbData[f] += doutData[base+i]
			}
		}
	}

	return dx, dw, db, nil
}

// ConvForwardSimple is the reference implementation: it materializes the
// zero-padded input and walks every tap unconditionally. Slowest of the
// three, used as the ground truth in cross-variant parity checks.
func ConvForwardSimple(x, w, b *tensor.Tensor, g ConvGeom) (*tensor.Tensor, error) {
	if err := g.validate(x, w, b); err != nil {
		return nil, err
	}

	hout, wout, err := g.OutDims()
	if err != nil {
		return nil, err
	}

	out, err := tensor.Zeros(g.N, g.F*hout*wout)
	if err != nil {
		return nil, err
	}

	hp := g.Hin + 2*g.Pad
	wp := g.Win + 2*g.Pad
	wData := w.RawData()
	outData := out.RawData()

	var bData []float64
	if b != nil {
		bData = b.RawData()
	}

	for n := 0; n < g.N; n++ {
		padded := padImage(x.Row(n), g, 0)
		outBase := n * g.F * hout * wout

		for f := 0; f < g.F; f++ {
			wBase := f * g.C * g.Hf * g.Wf

			for ho := 0; ho < hout; ho++ {
				for wo := 0; wo < wout; wo++ {
					var sum float64
					if bData != nil {
						sum = bData[f]
					}

					for c := 0; c < g.C; c++ {
						for hf := 0; hf < g.Hf; hf++ {
							for wf := 0; wf < g.Wf; wf++ {
								pIdx := (c*hp+ho*g.Stride+hf)*wp + wo*g.Stride + wf
								wIdx := wBase + (c*g.Hf+hf)*g.Wf + wf
								sum += padded[pIdx] * wData[wIdx]
							}
						}
					}

					outData[outBase+(f*hout+ho)*wout+wo] = sum
				}
			}
		}
	}

	return out, nil
}

// ConvBackwardSimple computes gradients over the materialized padded input
// and crops the padding from dX afterwards.
func ConvBackwardSimple(dout, x, w *tensor.Tensor, g ConvGeom) (dx, dw, db *tensor.Tensor, err error) {
	if err := g.validate(x, w, nil); err != nil {
		return nil, nil, nil, err
	}

	hout, wout, err := g.OutDims()
	if err != nil {
		return nil, nil, nil, err
	}

	if dout == nil || dout.Rows() != g.N || dout.Cols() != g.F*hout*wout {
		return nil, nil, nil, fmt.Errorf("layers: conv simple backward dout %dx%d does not match output (%d, %d*%d*%d)", dout.Rows(), dout.Cols(), g.N, g.F, hout, wout)
	}

	dx, err = tensor.Zeros(g.N, g.C*g.Hin*g.Win)
	if err != nil {
		return nil, nil, nil, err
	}

	dw, err = tensor.Zeros(g.F, g.C*g.Hf*g.Wf)
	if err != nil {
		return nil, nil, nil, err
	}

	db, err = tensor.Zeros(1, g.F)
	if err != nil {
		return nil, nil, nil, err
	}

	hp := g.Hin + 2*g.Pad
	wp := g.Win + 2*g.Pad
	wData := w.RawData()
	doutData := dout.RawData()
	dwData := dw.RawData()
	dbData := db.RawData()

	for n := 0; n < g.N; n++ {
		padded := padImage(x.Row(n), g, 0)
		dpadded := make([]float64, g.C*hp*wp)
		outBase := n * g.F * hout * wout

		for f := 0; f < g.F; f++ {
			wBase := f * g.C * g.Hf * g.Wf

			for ho := 0; ho < hout; ho++ {
				for wo := 0; wo < wout; wo++ {
					d := doutData[outBase+(f*hout+ho)*wout+wo]
					dbData[f] += d

					for c := 0; c < g.C; c++ {
						for hf := 0; hf < g.Hf; hf++ {
							for wf := 0; wf < g.Wf; wf++ {
								pIdx := (c*hp+ho*g.Stride+hf)*wp + wo*g.Stride + wf
								wIdx := wBase + (c*g.Hf+hf)*g.Wf + wf
								dwData[wIdx] += d * padded[pIdx]
								dpadded[pIdx] += d * wData[wIdx]
							}
						}
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

	return dx, dw, db, nil
}

// padImage copies one image row into a zero-padded (or fill-padded) buffer of
// shape C x (Hin+2*Pad) x (Win+2*Pad).
func padImage(xRow []float64, g ConvGeom, fill float64) []float64 {
	hp := g.Hin + 2*g.Pad
	wp := g.Win + 2*g.Pad
	padded := make([]float64, g.C*hp*wp)

	if fill != 0 {
		for i := range padded {
			padded[i] = fill
		}
	}

	for c := 0; c < g.C; c++ {
		for hi := 0; hi < g.Hin; hi++ {
			srcBase := (c*g.Hin + hi) * g.Win
			dstBase := (c*hp+hi+g.Pad)*wp + g.Pad
			copy(padded[dstBase:dstBase+g.Win], xRow[srcBase:srcBase+g.Win])
		}
	}

	return padded
}

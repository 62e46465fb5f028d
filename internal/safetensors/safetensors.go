// Package safetensors persists named weight matrices in the safetensors
// format: an 8-byte little-endian header length, a JSON header mapping
// tensor names to dtype/shape/offsets, then the raw tensor data. Only F64
// 2-D tensors are written and read; anything else in a file is rejected.
package safetensors

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"github.com/example/gradlab/internal/tensor"
)

const dtypeF64 = "F64"

type headerEntry struct {
	DType   string  `json:"dtype"`
	Shape   []int64 `json:"shape"`
	Offsets [2]int  `json:"data_offsets"`
}

// Encode serializes named matrices into a safetensors payload. Tensors are
// laid out in name order so identical inputs produce identical bytes.
func Encode(tensors map[string]*tensor.Tensor) ([]byte, error) {
	if len(tensors) == 0 {
		return nil, errors.New("safetensors: no tensors to encode")
	}

	names := make([]string, 0, len(tensors))
	for name := range tensors {
		names = append(names, name)
	}

	sort.Strings(names)

	header := make(map[string]headerEntry, len(names))

	var raw []byte

	for _, name := range names {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			return nil, errors.New("safetensors: tensor name must not be empty")
		}

		t := tensors[name]
		if t == nil {
			return nil, fmt.Errorf("safetensors: tensor %q is nil", name)
		}

		start := len(raw)
		raw = append(raw, make([]byte, t.ElemCount()*8)...)

		for i, v := range t.RawData() {
			binary.LittleEndian.PutUint64(raw[start+i*8:], math.Float64bits(v))
		}

		header[trimmed] = headerEntry{
			DType:   dtypeF64,
			Shape:   []int64{int64(t.Rows()), int64(t.Cols())},
			Offsets: [2]int{start, len(raw)},
		}
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("safetensors: encode header: %w", err)
	}

	out := make([]byte, 0, 8+len(headerJSON)+len(raw))
	lenPrefix := make([]byte, 8)
	binary.LittleEndian.PutUint64(lenPrefix, uint64(len(headerJSON)))
	out = append(out, lenPrefix...)
	out = append(out, headerJSON...)
	out = append(out, raw...)

	return out, nil
}

// WriteFile writes named matrices into a .safetensors file.
func WriteFile(path string, tensors map[string]*tensor.Tensor) error {
	data, err := Encode(tensors)
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("safetensors: write %s: %w", path, err)
	}

	return nil
}

// Decode parses a safetensors payload into named matrices.
func Decode(data []byte) (map[string]*tensor.Tensor, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("safetensors: payload too short (%d bytes)", len(data))
	}

	headerLen := binary.LittleEndian.Uint64(data[:8])
	if headerLen > uint64(len(data)-8) {
		return nil, fmt.Errorf("safetensors: header length %d exceeds payload size %d", headerLen, len(data))
	}

	headerEnd := 8 + int(headerLen)

	var header map[string]headerEntry
	if err := json.Unmarshal(data[8:headerEnd], &header); err != nil {
		return nil, fmt.Errorf("safetensors: parse header: %w", err)
	}

	out := make(map[string]*tensor.Tensor, len(header))

	for name, entry := range header {
		if name == "__metadata__" {
			continue
		}

		t, err := decodeEntry(name, entry, data[headerEnd:])
		if err != nil {
			return nil, err
		}

		out[name] = t
	}

	if len(out) == 0 {
		return nil, errors.New("safetensors: no tensors found")
	}

	return out, nil
}

// ReadFile reads named matrices from a .safetensors file.
func ReadFile(path string) (map[string]*tensor.Tensor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("safetensors: read %s: %w", path, err)
	}

	tensors, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("safetensors: %s: %w", path, err)
	}

	return tensors, nil
}

// Matrix returns the named tensor from a decoded set, with a descriptive
// error listing what is available when it is missing.
func Matrix(tensors map[string]*tensor.Tensor, name string) (*tensor.Tensor, error) {
	t, ok := tensors[name]
	if !ok {
		names := make([]string, 0, len(tensors))
		for n := range tensors {
			names = append(names, n)
		}

		sort.Strings(names)

		return nil, fmt.Errorf("safetensors: tensor %q not found (available: %s)", name, strings.Join(names, ", "))
	}

	return t, nil
}

func decodeEntry(name string, entry headerEntry, raw []byte) (*tensor.Tensor, error) {
	if strings.ToUpper(entry.DType) != dtypeF64 {
		return nil, fmt.Errorf("safetensors: tensor %q has unsupported dtype %q, want F64", name, entry.DType)
	}

	if len(entry.Shape) != 2 {
		return nil, fmt.Errorf("safetensors: tensor %q has %d-d shape %v, want 2-d", name, len(entry.Shape), entry.Shape)
	}

	rows, cols := entry.Shape[0], entry.Shape[1]
	if rows < 0 || cols < 0 {
		return nil, fmt.Errorf("safetensors: tensor %q has negative shape %v", name, entry.Shape)
	}

	start, end := entry.Offsets[0], entry.Offsets[1]
	if start < 0 || end < start || end > len(raw) {
		return nil, fmt.Errorf("safetensors: tensor %q data [%d:%d] exceeds payload size %d", name, start, end, len(raw))
	}

	elemCount := rows * cols
	if int64(end-start) != elemCount*8 {
		return nil, fmt.Errorf("safetensors: tensor %q shape %v needs %d bytes, data has %d", name, entry.Shape, elemCount*8, end-start)
	}

	data := make([]float64, elemCount)
	for i := range data {
		data[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[start+i*8:]))
	}

	return tensor.New(data, int(rows), int(cols))
}

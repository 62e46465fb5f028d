package safetensors

import (
	"encoding/binary"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/example/gradlab/internal/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustTensor(t *testing.T, data []float64, rows, cols int) *tensor.Tensor {
	t.Helper()

	out, err := tensor.New(data, rows, cols)
	require.NoError(t, err)

	return out
}

func sampleTensors(t *testing.T) map[string]*tensor.Tensor {
	t.Helper()

	return map[string]*tensor.Tensor{
		"W": mustTensor(t, []float64{1, -2.5, 3, 0.125, -7, 42}, 2, 3),
		"b": mustTensor(t, []float64{0.5, -0.5, 9}, 1, 3),
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	in := sampleTensors(t)

	data, err := Encode(in)
	require.NoError(t, err)

	out, err := Decode(data)
	require.NoError(t, err)
	require.Len(t, out, 2)

	for name, want := range in {
		got, err := Matrix(out, name)
		require.NoError(t, err)

		assert.Equal(t, want.Rows(), got.Rows())
		assert.Equal(t, want.Cols(), got.Cols())
		assert.Equal(t, want.RawData(), got.RawData())
	}
}

func TestEncodeIsDeterministic(t *testing.T) {
	first, err := Encode(sampleTensors(t))
	require.NoError(t, err)

	second, err := Encode(sampleTensors(t))
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestEncodeRejectsBadInput(t *testing.T) {
	_, err := Encode(nil)
	assert.Error(t, err)

	_, err = Encode(map[string]*tensor.Tensor{"": mustTensor(t, []float64{1}, 1, 1)})
	assert.Error(t, err)

	_, err = Encode(map[string]*tensor.Tensor{"W": nil})
	assert.Error(t, err)
}

func TestWriteReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weights.safetensors")

	require.NoError(t, WriteFile(path, sampleTensors(t)))

	out, err := ReadFile(path)
	require.NoError(t, err)

	w, err := Matrix(out, "W")
	require.NoError(t, err)
	assert.Equal(t, 2, w.Rows())
	assert.Equal(t, 3, w.Cols())
}

func TestMatrixMissingNameListsAvailable(t *testing.T) {
	out, err := Decode(mustEncode(t, sampleTensors(t)))
	require.NoError(t, err)

	_, err = Matrix(out, "bias")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "W")
	assert.Contains(t, err.Error(), "b")
}

func TestDecodeRejectsCorruptPayloads(t *testing.T) {
	valid := mustEncode(t, sampleTensors(t))

	t.Run("truncated prefix", func(t *testing.T) {
		_, err := Decode(valid[:4])
		assert.Error(t, err)
	})

	t.Run("header length past end", func(t *testing.T) {
		data := append([]byte(nil), valid...)
		binary.LittleEndian.PutUint64(data[:8], uint64(len(data)))

		_, err := Decode(data)
		assert.Error(t, err)
	})

	t.Run("malformed header json", func(t *testing.T) {
		_, err := Decode(withHeader(t, []byte(`{"W": `)))
		assert.Error(t, err)
	})

	t.Run("unsupported dtype", func(t *testing.T) {
		_, err := Decode(headerOnly(t, headerEntry{
			DType: "F32", Shape: []int64{1, 1}, Offsets: [2]int{0, 4},
		}, 4))
		assert.Error(t, err)
	})

	t.Run("non 2-d shape", func(t *testing.T) {
		_, err := Decode(headerOnly(t, headerEntry{
			DType: "F64", Shape: []int64{2}, Offsets: [2]int{0, 16},
		}, 16))
		assert.Error(t, err)
	})

	t.Run("offsets past payload", func(t *testing.T) {
		_, err := Decode(headerOnly(t, headerEntry{
			DType: "F64", Shape: []int64{1, 2}, Offsets: [2]int{0, 16},
		}, 8))
		assert.Error(t, err)
	})

	t.Run("shape and byte length disagree", func(t *testing.T) {
		_, err := Decode(headerOnly(t, headerEntry{
			DType: "F64", Shape: []int64{2, 2}, Offsets: [2]int{0, 16},
		}, 16))
		assert.Error(t, err)
	})
}

func TestDecodeSkipsMetadataEntry(t *testing.T) {
	in := map[string]*tensor.Tensor{"W": mustTensor(t, []float64{1, 2}, 1, 2)}

	data, err := Encode(in)
	require.NoError(t, err)

	// Rebuild the payload with a __metadata__ entry spliced into the header.
	headerLen := binary.LittleEndian.Uint64(data[:8])

	var header map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data[8:8+headerLen], &header))

	header["__metadata__"] = json.RawMessage(`{"format":"pt"}`)

	out, err := Decode(withRawHeader(t, header, data[8+headerLen:]))
	require.NoError(t, err)
	require.Len(t, out, 1)

	w, err := Matrix(out, "W")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2}, w.RawData())
}

func mustEncode(t *testing.T, tensors map[string]*tensor.Tensor) []byte {
	t.Helper()

	data, err := Encode(tensors)
	require.NoError(t, err)

	return data
}

// withHeader frames raw header bytes with the 8-byte length prefix.
func withHeader(t *testing.T, header []byte) []byte {
	t.Helper()

	out := make([]byte, 8, 8+len(header))
	binary.LittleEndian.PutUint64(out, uint64(len(header)))

	return append(out, header...)
}

// headerOnly builds a payload with a single "W" entry and zeroed raw data.
func headerOnly(t *testing.T, entry headerEntry, rawBytes int) []byte {
	t.Helper()

	headerJSON, err := json.Marshal(map[string]headerEntry{"W": entry})
	require.NoError(t, err)

	return append(withHeader(t, headerJSON), make([]byte, rawBytes)...)
}

func withRawHeader(t *testing.T, header map[string]json.RawMessage, raw []byte) []byte {
	t.Helper()

	headerJSON, err := json.Marshal(header)
	require.NoError(t, err)

	return append(withHeader(t, headerJSON), raw...)
}

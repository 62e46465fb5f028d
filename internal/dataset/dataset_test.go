package dataset

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	csv := "0,0,255\n1,128,0\n2,255,255\n"

	x, labels, err := Load(strings.NewReader(csv))
	require.NoError(t, err)

	assert.Equal(t, 3, x.Rows())
	assert.Equal(t, 2, x.Cols())
	assert.Equal(t, []int{0, 1, 2}, labels)

	assert.InDelta(t, 0.0, x.At(0, 0), 1e-12)
	assert.InDelta(t, 1.0, x.At(0, 1), 1e-12)
	assert.InDelta(t, 128.0/255.0, x.At(1, 0), 1e-12)
}

func TestLoadRejectsBadInput(t *testing.T) {
	cases := []struct {
		name string
		csv  string
	}{
		{"empty input", ""},
		{"label only", "3\n"},
		{"ragged rows", "0,1,2\n1,3\n"},
		{"non-numeric label", "x,1,2\n"},
		{"non-numeric pixel", "0,1,abc\n"},
		{"negative label", "-1,1,2\n"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := Load(strings.NewReader(tc.csv))
			assert.Error(t, err)
		})
	}
}

func TestOneHot(t *testing.T) {
	y, err := OneHot([]int{2, 0, 1}, 3)
	require.NoError(t, err)

	want := [][]float64{
		{0, 0, 1},
		{1, 0, 0},
		{0, 1, 0},
	}

	for i, row := range want {
		for j, v := range row {
			assert.Equal(t, v, y.At(i, j), "entry (%d,%d)", i, j)
		}
	}
}

func TestOneHotRejectsOutOfRange(t *testing.T) {
	_, err := OneHot([]int{0, 3}, 3)
	assert.Error(t, err)

	_, err = OneHot([]int{0}, 0)
	assert.Error(t, err)
}

func TestNumClasses(t *testing.T) {
	assert.Equal(t, 0, NumClasses(nil))
	assert.Equal(t, 1, NumClasses([]int{0, 0}))
	assert.Equal(t, 10, NumClasses([]int{3, 9, 0}))
}

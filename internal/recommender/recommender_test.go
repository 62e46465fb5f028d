package recommender

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func sampleFactors() (Factors, Factors) {
	u := Factors{Name: "U", M: mat.NewDense(2, 2, []float64{
		1, 2,
		3, 4,
	})}
	v := Factors{Name: "V", M: mat.NewDense(3, 2, []float64{
		1, 0,
		0, 1,
		1, 1,
	})}

	return u, v
}

func TestScore(t *testing.T) {
	u, v := sampleFactors()

	scores, err := Score(u, v)
	require.NoError(t, err)

	users, items := scores.Dims()
	assert.Equal(t, 2, users)
	assert.Equal(t, 3, items)

	want := []float64{
		1, 2, 3,
		3, 4, 7,
	}

	for i, v := range want {
		assert.InDelta(t, v, scores.At(i/3, i%3), 1e-12, "score (%d,%d)", i/3, i%3)
	}
}

func TestScoreRejectsRankMismatch(t *testing.T) {
	u := Factors{Name: "U", M: mat.NewDense(2, 3, nil)}
	v := Factors{Name: "V", M: mat.NewDense(2, 2, nil)}

	_, err := Score(u, v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rank mismatch")
}

func TestScoreRejectsNilFactors(t *testing.T) {
	u, _ := sampleFactors()

	_, err := Score(u, Factors{Name: "V"})
	assert.Error(t, err)

	_, err = ScoreUser(Factors{Name: "U"}, u, 0)
	assert.Error(t, err)
}

func TestScoreUser(t *testing.T) {
	u, v := sampleFactors()

	row, err := ScoreUser(u, v, 1)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{3, 4, 7}, row, 1e-12)

	_, err = ScoreUser(u, v, 2)
	assert.Error(t, err)

	_, err = ScoreUser(u, v, -1)
	assert.Error(t, err)
}

func TestTopK(t *testing.T) {
	scores := mat.NewDense(2, 4, []float64{
		0.1, 0.9, 0.5, 0.9,
		-1, -2, -3, -4,
	})

	ranked, err := TopK(scores, 2)
	require.NoError(t, err)
	require.Len(t, ranked, 2)

	// Equal scores keep the lower item id first.
	assert.Equal(t, []Ranked{{Item: 1, Score: 0.9}, {Item: 3, Score: 0.9}}, ranked[0])
	assert.Equal(t, []Ranked{{Item: 0, Score: -1}, {Item: 1, Score: -2}}, ranked[1])
}

func TestTopKClampsToItemCount(t *testing.T) {
	scores := mat.NewDense(1, 2, []float64{2, 1})

	ranked, err := TopK(scores, 10)
	require.NoError(t, err)
	assert.Len(t, ranked[0], 2)
}

func TestTopKRejectsBadInput(t *testing.T) {
	_, err := TopK(nil, 3)
	assert.Error(t, err)

	_, err = TopK(mat.NewDense(1, 1, nil), 0)
	assert.Error(t, err)
}

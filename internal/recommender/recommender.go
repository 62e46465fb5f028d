// Package recommender reconstructs predicted ratings from two factor
// matrices produced by a matrix-factorization run: scores = U * Vᵀ, with U
// the (users, rank) user factors and V the (items, rank) item factors.
package recommender

import (
	"errors"
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// Factors holds one side of the factorization.
type Factors struct {
	// Name labels error messages ("U" or "V").
	Name string
	M    *mat.Dense
}

// validate checks a factor matrix against its declared extents. A mismatch
// is fatal to the whole scoring run.
func (f Factors) validate(rows, rank int) error {
	if f.M == nil {
		return fmt.Errorf("recommender: factor matrix %s is nil", f.Name)
	}

	r, c := f.M.Dims()
	if rows > 0 && r != rows {
		return fmt.Errorf("recommender: factor matrix %s has %d rows, declared %d", f.Name, r, rows)
	}

	if c != rank {
		return fmt.Errorf("recommender: factor matrix %s has rank %d, declared %d", f.Name, c, rank)
	}

	return nil
}

// Score reconstructs the full (users, items) rating matrix. The two factor
// matrices must share a rank; any disagreement aborts scoring.
func Score(u, v Factors) (*mat.Dense, error) {
	if u.M == nil || v.M == nil {
		return nil, errors.New("recommender: scoring requires both factor matrices")
	}

	_, uRank := u.M.Dims()
	if err := u.validate(0, uRank); err != nil {
		return nil, err
	}

	_, vRank := v.M.Dims()
	if uRank != vRank {
		return nil, fmt.Errorf("recommender: factor rank mismatch: %s has %d, %s has %d", u.Name, uRank, v.Name, vRank)
	}

	users, _ := u.M.Dims()
	items, _ := v.M.Dims()

	scores := mat.NewDense(users, items, nil)
	scores.Mul(u.M, v.M.T())

	return scores, nil
}

// ScoreUser returns the predicted ratings for a single user row. A user id
// outside the factor matrix bounds is fatal.
func ScoreUser(u, v Factors, user int) ([]float64, error) {
	if u.M == nil || v.M == nil {
		return nil, errors.New("recommender: scoring requires both factor matrices")
	}

	users, _ := u.M.Dims()
	if user < 0 || user >= users {
		return nil, fmt.Errorf("recommender: user id %d outside [0, %d)", user, users)
	}

	scores, err := Score(u, v)
	if err != nil {
		return nil, err
	}

	items, _ := v.M.Dims()
	row := make([]float64, items)
	mat.Row(row, user, scores)

	return row, nil
}

// Ranked is one scored item.
type Ranked struct {
	Item  int
	Score float64
}

// TopK returns each user's k best-scored items, highest first. Ties break
// toward the lower item id.
func TopK(scores *mat.Dense, k int) ([][]Ranked, error) {
	if scores == nil {
		return nil, errors.New("recommender: top-k requires a score matrix")
	}

	if k <= 0 {
		return nil, fmt.Errorf("recommender: top-k requires k > 0, got %d", k)
	}

	users, items := scores.Dims()
	if k > items {
		k = items
	}

	out := make([][]Ranked, users)

	for u := 0; u < users; u++ {
		ranked := make([]Ranked, items)
		for i := 0; i < items; i++ {
			ranked[i] = Ranked{Item: i, Score: scores.At(u, i)}
		}

		sort.SliceStable(ranked, func(a, b int) bool {
			return ranked[a].Score > ranked[b].Score
		})

		out[u] = ranked[:k]
	}

	return out, nil
}

package vector

import "sort"

// Candidate is a stored vector offered for ranking.
type Candidate struct {
	ID     string
	Vector []float32
}

// Scored is a ranked candidate. Index points back into the candidate slice.
type Scored struct {
	Index int
	ID    string
	Score float64
}

// Rank scores every candidate against query by cosine similarity, keeps those
// scoring at least minScore, and returns at most k of them ordered by descending
// score. Equal scores keep their candidate order. A candidate whose dimensionality
// differs from the query aborts ranking with a *DimensionMismatchError.
func Rank(query []float32, candidates []Candidate, k int, minScore float64) ([]Scored, error) {
	if k <= 0 || len(candidates) == 0 {
		return nil, nil
	}
	scores := make([]Scored, 0, len(candidates))
	for i, c := range candidates {
		score, err := CosineSimilarity(query, c.Vector)
		if err != nil {
			if mismatch, ok := err.(*DimensionMismatchError); ok {
				mismatch.ID = c.ID
			}
			return nil, err
		}
		if score >= minScore {
			scores = append(scores, Scored{Index: i, ID: c.ID, Score: score})
		}
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].Score > scores[j].Score })
	if k > len(scores) {
		k = len(scores)
	}
	return scores[:k], nil
}

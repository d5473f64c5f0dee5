package submissions

import "math"

// scorePrecision bounds stored scores to 10 decimal digits.
const scorePrecision = 1e10

// RoundScore normalizes a score to at most 10 decimal digits.
func RoundScore(score float64) float64 {
	return math.Round(score*scorePrecision) / scorePrecision
}

func roundScorePtr(score *float64) *float64 {
	if score == nil {
		return nil
	}
	rounded := RoundScore(*score)
	return &rounded
}

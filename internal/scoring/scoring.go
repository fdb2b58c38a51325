// Package scoring ranks nominations from submitted ballots.
package scoring

import (
	"math"
	"sort"

	"github.com/eldtechnologies/rankvote/internal/models"
)

// Tally is the outcome of Compute.
type Tally struct {
	Results []models.Result
	// Missing lists ballot entries that referenced a nomination that no
	// longer exists. They contribute nothing to any score.
	Missing []string
}

// Weight returns the score contributed by a ballot entry at position n
// (0-indexed) when ballots may hold up to votesPerVoter entries.
func Weight(n, votesPerVoter int) float64 {
	v := float64(votesPerVoter)
	return math.Pow((v-0.5*float64(n))/v, float64(n+1))
}

// Compute sums positional weights across all ballots and orders nominations
// by descending score. Ties are broken by nomination ID ascending. Ballots
// are summed in user ID order so the floating point totals do not depend on
// map iteration.
func Compute(rankings map[string][]string, nominations map[string]models.Nomination, votesPerVoter int) Tally {
	if votesPerVoter < 1 {
		votesPerVoter = 1
	}

	voters := make([]string, 0, len(rankings))
	for userID := range rankings {
		voters = append(voters, userID)
	}
	sort.Strings(voters)

	scores := make(map[string]float64)
	var missing []string

	for _, userID := range voters {
		for n, nominationID := range rankings[userID] {
			if _, ok := nominations[nominationID]; !ok {
				missing = append(missing, nominationID)
				continue
			}
			scores[nominationID] += Weight(n, votesPerVoter)
		}
	}

	results := make([]models.Result, 0, len(scores))
	for id, score := range scores {
		results = append(results, models.Result{
			NominationID:   id,
			NominationText: nominations[id].Text,
			Score:          score,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return a.NominationID < b.NominationID
	})

	return Tally{Results: results, Missing: missing}
}

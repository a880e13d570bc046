// Package scoring holds the pure contribution scorers. Every function here is
// stateless and side-effect free; callers may evaluate members in parallel.
package scoring

import (
	"math"

	"github.com/trustchain-labs/trustchain/internal/activity"
)

// Component weights inside the code score: commit count carries 30%, line
// impact 40%, file spread 30%.
var (
	codeWeightCommits = 0.3
	codeWeightLines   = 0.4
	codeWeightFiles   = 0.3

	// Anti-gaming multipliers. Many trivial commits or a last-day commit
	// burst both cost 30% of the affected score.
	spamPenalty    = 0.7
	lastDayPenalty = 0.7

	// Penalty trigger thresholds
	spamMinCommits   = 10
	spamAvgLines     = 5.0
	lastDayBurstFrac = 0.3
)

func clamp01to100(v float64) float64 {
	return math.Min(100.0, math.Max(0.0, v))
}

// round2 rounds to 2 decimal places. All published scores share this
// rounding; the commitment hash formats them with the same precision.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// CodeScore converts one author's summary stats plus the cohort's stats into
// a normalized 0-100 code-contribution score. Shares are relative to cohort
// totals, so the cohort with zero commits scores 0 for every author.
func CodeScore(own activity.AuthorStats, cohort []activity.AuthorStats) float64 {
	if len(cohort) == 0 {
		return 0.0
	}

	var totalCommits, totalAdded, totalRemoved, totalFiles int
	for _, m := range cohort {
		totalCommits += m.Commits
		totalAdded += m.LinesAdded
		totalRemoved += m.LinesRemoved
		totalFiles += m.FilesModified
	}

	if totalCommits == 0 {
		return 0.0
	}

	commitShare := float64(own.Commits) / float64(totalCommits)
	addShare := 0.0
	if totalAdded > 0 {
		addShare = float64(own.LinesAdded) / float64(totalAdded)
	}
	remShare := 0.0
	if totalRemoved > 0 {
		remShare = float64(own.LinesRemoved) / float64(totalRemoved)
	}
	fileShare := 0.0
	if totalFiles > 0 {
		fileShare = float64(own.FilesModified) / float64(totalFiles)
	}

	raw := codeWeightCommits*commitShare +
		codeWeightLines*(addShare+remShare)/2 +
		codeWeightFiles*fileShare
	raw = math.Min(1.0, raw) * 100.0

	// Commit-count gaming: many commits with very few lines each
	if own.Commits > spamMinCommits {
		avgLines := float64(own.LinesAdded+own.LinesRemoved) / float64(own.Commits)
		if avgLines < spamAvgLines {
			raw *= spamPenalty
		}
	}

	return round2(clamp01to100(raw))
}

// TimeConsistencyScore converts activity-day spread and last-day burst ratio
// into a normalized 0-100 consistency score.
func TimeConsistencyScore(activeDays, totalDays, lastDayCommits, totalCommits int) float64 {
	if totalDays < 1 {
		totalDays = 1
	}
	base := 100.0 * float64(activeDays) / float64(totalDays)

	// Penalize last-minute dumping: >30% of commits on the final day
	if totalCommits > 0 && float64(lastDayCommits)/float64(totalCommits) > lastDayBurstFrac {
		base *= lastDayPenalty
	}

	return round2(clamp01to100(base))
}

// PeerVoteScore converts the list of 1-5 ratings received by a member into a
// normalized 0-100 score: 1 maps to 0, 5 maps to 100. No votes means 0.
func PeerVoteScore(votes []int) float64 {
	if len(votes) == 0 {
		return 0.0
	}
	sum := 0
	for _, v := range votes {
		sum += v
	}
	avg := float64(sum) / float64(len(votes))
	normalized := 100.0 * (avg - 1) / 4.0
	return round2(clamp01to100(normalized))
}

// FinalScore blends the three 0-100 component scores with the project
// weights. The weight total renormalizes to 1 when the configured triple
// drifts, and a non-positive total falls back to 1 so malformed configuration
// cannot divide by zero.
func FinalScore(code, timeScore, peer, weightCode, weightTime, weightVote float64) float64 {
	totalW := weightCode + weightTime + weightVote
	if totalW <= 0 {
		totalW = 1.0
	}
	final := (weightCode/totalW)*code +
		(weightTime/totalW)*timeScore +
		(weightVote/totalW)*peer
	return round2(clamp01to100(final))
}

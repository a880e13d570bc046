package scoring

// ReputationTier maps a final score to the non-transferable award amount
// minted for the member. Step function, minted at most once per member.
func ReputationTier(finalScore float64) uint64 {
	switch {
	case finalScore >= 90:
		return 100
	case finalScore >= 80:
		return 80
	case finalScore >= 70:
		return 60
	case finalScore >= 60:
		return 40
	case finalScore >= 50:
		return 20
	default:
		return 0
	}
}

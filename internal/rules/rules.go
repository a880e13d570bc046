// Package rules defines the abstract voting and finalization rule set that
// both trust domains implement: the off-ledger project lifecycle and the
// ledger enforcement contract. Neither implementation calls into the other;
// both are tested against the conformance table in fixtures.go.
package rules

import "time"

// VoteRequest is one vote submission as seen by a rule checker.
type VoteRequest struct {
	Voter  string
	Target string
	Score  int
	Now    time.Time
}

// VotingRules accepts or rejects a vote submission. A nil return accepts;
// rejections carry a ConflictError reason code and must leave no state
// behind.
type VotingRules interface {
	AcceptVote(req VoteRequest) error
}

// FinalizationRules accepts or rejects a finalize request from caller at the
// given time.
type FinalizationRules interface {
	AcceptFinalize(caller string, now time.Time) error
}

// Window reports whether now falls in the voting window
// [deadlineContribution, deadlineVoting). The window is time-derived, not
// read from stored status: the stored status only distinguishes
// deployed-vs-not and finalized-vs-not.
func Window(now, deadlineContribution, deadlineVoting time.Time) bool {
	return !now.Before(deadlineContribution) && now.Before(deadlineVoting)
}

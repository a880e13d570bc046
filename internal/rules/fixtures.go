package rules

import (
	"time"

	"github.com/trustchain-labs/trustchain/internal/errors"
)

// Conformance fixture shared by the lifecycle and contract rule tests. Both
// implementations build their own state from this description and must reach
// the same decisions, except where the ledger layer's coarser per-sender
// record cannot see the violation (LedgerReason differs from Reason there).

// FixtureDeadlineContribution / FixtureDeadlineVoting bound the voting window
// used by every case below.
var (
	FixtureDeadlineContribution = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	FixtureDeadlineVoting       = time.Date(2025, 3, 8, 0, 0, 0, 0, time.UTC)
)

// FixtureCreator owns the project; FixtureMembers is the full cohort.
var (
	FixtureCreator = "carol"
	FixtureMembers = []string{"carol", "alice", "bob"}
)

// PriorVote seeds a vote that already exists before the case runs.
type PriorVote struct {
	Voter  string
	Target string
	Score  int
}

// VoteCase is one row of the vote-acceptance conformance table.
// Reason is the expected rejection from the full off-ledger rule set
// (empty = accept). LedgerReason is what the ledger's per-sender record can
// detect on its own; when it differs from Reason the gap is deliberate and
// documented.
type VoteCase struct {
	Name         string
	Now          time.Time
	Voter        string
	Target       string
	Score        int
	Prior        []PriorVote
	Reason       errors.ConflictReason
	LedgerReason errors.ConflictReason
}

// VoteCases is the shared vote-acceptance property table.
var VoteCases = []VoteCase{
	{
		Name:  "valid vote inside the window",
		Now:   FixtureDeadlineContribution.Add(24 * time.Hour),
		Voter: "alice", Target: "bob", Score: 4,
	},
	{
		Name:  "vote at the exact window open is accepted",
		Now:   FixtureDeadlineContribution,
		Voter: "alice", Target: "bob", Score: 3,
	},
	{
		Name:  "vote before the contribution deadline",
		Now:   FixtureDeadlineContribution.Add(-time.Second),
		Voter: "alice", Target: "bob", Score: 4,
		Reason:       errors.ReasonVotingNotOpen,
		LedgerReason: errors.ReasonVotingNotOpen,
	},
	{
		Name:  "vote at the voting deadline is closed",
		Now:   FixtureDeadlineVoting,
		Voter: "alice", Target: "bob", Score: 4,
		Reason:       errors.ReasonVotingClosed,
		LedgerReason: errors.ReasonVotingClosed,
	},
	{
		Name:  "self vote rejected regardless of timing",
		Now:   FixtureDeadlineContribution.Add(24 * time.Hour),
		Voter: "alice", Target: "alice", Score: 5,
		Reason: errors.ReasonSelfVote,
		// The contract records only has_voted per sender; self-vote
		// integrity is an off-ledger guarantee.
		LedgerReason: "",
	},
	{
		Name:  "duplicate vote for the same target",
		Now:   FixtureDeadlineContribution.Add(24 * time.Hour),
		Voter: "alice", Target: "bob", Score: 4,
		Prior:        []PriorVote{{Voter: "alice", Target: "bob", Score: 5}},
		Reason:       errors.ReasonDuplicateVote,
		LedgerReason: errors.ReasonDuplicateVote,
	},
	{
		Name:  "non-member voter",
		Now:   FixtureDeadlineContribution.Add(24 * time.Hour),
		Voter: "mallory", Target: "bob", Score: 4,
		Reason:       errors.ReasonNotAMember,
		LedgerReason: errors.ReasonNotAMember, // never opted in
	},
	{
		Name:  "non-member target",
		Now:   FixtureDeadlineContribution.Add(24 * time.Hour),
		Voter: "alice", Target: "mallory", Score: 4,
		Reason: errors.ReasonTargetNotMember,
		// Target validity is invisible to the per-sender ledger record.
		LedgerReason: "",
	},
}

// FinalizeCase is one row of the finalize-acceptance property table.
type FinalizeCase struct {
	Name             string
	Now              time.Time
	Caller           string
	AlreadyFinalized bool
	Reason           errors.ConflictReason
}

// FinalizeCases is the shared finalize-acceptance property table. Both
// implementations reject with the same reasons; the lifecycle additionally
// treats already_finalized as a success no-op at its public surface.
var FinalizeCases = []FinalizeCase{
	{
		Name:   "creator finalizes at the voting deadline",
		Now:    FixtureDeadlineVoting,
		Caller: FixtureCreator,
	},
	{
		Name:   "creator finalizes after the voting deadline",
		Now:    FixtureDeadlineVoting.Add(time.Hour),
		Caller: FixtureCreator,
	},
	{
		Name:   "finalize before the voting deadline",
		Now:    FixtureDeadlineVoting.Add(-time.Second),
		Caller: FixtureCreator,
		Reason: errors.ReasonFinalizeTooEarly,
	},
	{
		Name:   "non-creator cannot finalize",
		Now:    FixtureDeadlineVoting.Add(time.Hour),
		Caller: "alice",
		Reason: errors.ReasonNotCreator,
	},
	{
		Name:             "second finalize reports already finalized",
		Now:              FixtureDeadlineVoting.Add(time.Hour),
		Caller:           FixtureCreator,
		AlreadyFinalized: true,
		Reason:           errors.ReasonAlreadyFinalized,
	},
}

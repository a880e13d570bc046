// Package lifecycle orchestrates a project from creation through analysis,
// voting and finalization. It carries the full off-ledger rule set, which is
// strictly stronger than what the enforcement contract can check on its own:
// the ledger's per-sender vote record cannot see targets, so self-vote and
// target-membership integrity live here.
package lifecycle

import (
	"fmt"
	"time"

	"github.com/trustchain-labs/trustchain/internal/errors"
	"github.com/trustchain-labs/trustchain/internal/rules"
)

// Rules is the off-ledger rule checker for one project. State lookups are
// injected so the checker stays independent of the storage layer.
type Rules struct {
	Creator              string
	DeadlineContribution time.Time
	DeadlineVoting       time.Time

	IsMember    func(identity string) (bool, error)
	HasVoted    func(voter, target string) (bool, error)
	IsFinalized func() (bool, error)
}

var (
	_ rules.VotingRules       = (*Rules)(nil)
	_ rules.FinalizationRules = (*Rules)(nil)
)

// AcceptVote applies the full vote rule set in a fixed order: window, voter
// membership, target membership, self-vote, duplicate. The caller validates
// the score range before the request reaches here.
func (r *Rules) AcceptVote(req rules.VoteRequest) error {
	if req.Now.Before(r.DeadlineContribution) {
		return errors.NewConflictError(errors.ReasonVotingNotOpen,
			fmt.Sprintf("voting opens at %s", r.DeadlineContribution.Format(time.RFC3339)))
	}
	if !req.Now.Before(r.DeadlineVoting) {
		return errors.NewConflictError(errors.ReasonVotingClosed,
			fmt.Sprintf("voting closed at %s", r.DeadlineVoting.Format(time.RFC3339)))
	}

	voterIsMember, err := r.IsMember(req.Voter)
	if err != nil {
		return errors.NewInternalError("failed to check voter membership", err)
	}
	if !voterIsMember {
		return errors.NewConflictError(errors.ReasonNotAMember, "voter is not a project member")
	}

	targetIsMember, err := r.IsMember(req.Target)
	if err != nil {
		return errors.NewInternalError("failed to check target membership", err)
	}
	if !targetIsMember {
		return errors.NewConflictError(errors.ReasonTargetNotMember, "vote target is not a project member")
	}

	if req.Voter == req.Target {
		return errors.NewConflictError(errors.ReasonSelfVote, "members cannot vote for themselves")
	}

	voted, err := r.HasVoted(req.Voter, req.Target)
	if err != nil {
		return errors.NewInternalError("failed to check for a prior vote", err)
	}
	if voted {
		return errors.NewConflictError(errors.ReasonDuplicateVote, "vote for this target already recorded")
	}

	return nil
}

// AcceptFinalize applies the finalize rule set: deadline first, then the
// frozen check, then the caller check.
func (r *Rules) AcceptFinalize(caller string, now time.Time) error {
	if now.Before(r.DeadlineVoting) {
		return errors.NewConflictError(errors.ReasonFinalizeTooEarly,
			fmt.Sprintf("finalization opens at %s", r.DeadlineVoting.Format(time.RFC3339)))
	}

	finalized, err := r.IsFinalized()
	if err != nil {
		return errors.NewInternalError("failed to check finalization state", err)
	}
	if finalized {
		return errors.NewConflictError(errors.ReasonAlreadyFinalized, "project is already finalized")
	}

	if caller != r.Creator {
		return errors.NewConflictError(errors.ReasonNotCreator, "only the project creator can finalize")
	}

	return nil
}

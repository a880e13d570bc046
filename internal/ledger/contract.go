// Package ledger holds the enforcement contract that anchors project voting
// and finalization rules at the trust boundary, plus the algod client used to
// deploy and drive its on-chain counterpart. The contract here and the
// lifecycle's rule checks are two independent implementations of the same
// abstract rule set: the off-chain service is not trusted to self-report
// correctly, so neither layer delegates to the other.
package ledger

import (
	"sync"
	"time"

	"github.com/trustchain-labs/trustchain/internal/errors"
	"github.com/trustchain-labs/trustchain/internal/rules"
)

// InitParams records the immutable project rules at contract creation.
// Weights are percent integers (40/30/30 for 0.4/0.3/0.3), matching the
// uint-only on-chain representation.
type InitParams struct {
	ProjectID            string
	Creator              string
	DeadlineContribution time.Time
	DeadlineVoting       time.Time
	WeightCode           uint64
	WeightTime           uint64
	WeightVote           uint64
	ReputationAsset      uint64
}

// LocalState is the per-account slice of ledger state. The vote record is a
// single has_voted flag plus one score slot per sender: the contract cannot
// see vote targets, so self-vote and per-target integrity live off-ledger.
type LocalState struct {
	HasVoted         bool   `json:"has_voted"`
	VoteScore        uint64 `json:"vote_score"`
	ReputationEarned uint64 `json:"reputation_earned"`
}

// GlobalState is the contract-wide slice of ledger state.
type GlobalState struct {
	InitParams
	Finalized   bool     `json:"finalized"`
	ScoreHashes []string `json:"score_hashes"`
	MemberCount int      `json:"member_count"`
}

// Contract is the in-process enforcement contract. State moves only through
// its transition methods, mirroring how the on-chain program is the sole
// writer of its application state. All methods are safe for concurrent use;
// the internal mutex models the ledger's total ordering of transactions.
type Contract struct {
	mu     sync.Mutex
	global GlobalState
	locals map[string]*LocalState
}

// NewContract initializes contract state for a project with finalized=false.
func NewContract(params InitParams) *Contract {
	return &Contract{
		global: GlobalState{InitParams: params},
		locals: make(map[string]*LocalState),
	}
}

// Global returns a copy of the contract-wide state for read-back verification.
func (c *Contract) Global() GlobalState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.global
}

// Local returns a copy of one account's state and whether it has opted in.
func (c *Contract) Local(account string) (LocalState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	local, ok := c.locals[account]
	if !ok {
		return LocalState{}, false
	}
	return *local, true
}

// OptIn registers an account before the voting deadline, initializing its
// has_voted and reputation_earned slots.
func (c *Contract) OptIn(sender string, now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !now.Before(c.global.DeadlineVoting) {
		return errors.NewConflictError(errors.ReasonVotingClosed, "opt-in closed at voting deadline")
	}
	if _, ok := c.locals[sender]; ok {
		return nil // opting in twice is harmless
	}
	c.locals[sender] = &LocalState{}
	c.global.MemberCount++
	return nil
}

// AcceptVote checks a vote submission against the contract's rules without
// applying it. This is the ledger's side of the shared rule set: window
// gating plus the per-sender has_voted slot. It cannot see the target, so
// self-votes and per-target duplicates pass here and are caught off-ledger.
func (c *Contract) AcceptVote(req rules.VoteRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.acceptVoteLocked(req)
}

func (c *Contract) acceptVoteLocked(req rules.VoteRequest) error {
	if req.Now.Before(c.global.DeadlineContribution) {
		return errors.NewConflictError(errors.ReasonVotingNotOpen, "voting has not opened")
	}
	if !req.Now.Before(c.global.DeadlineVoting) {
		return errors.NewConflictError(errors.ReasonVotingClosed, "voting deadline passed")
	}
	local, ok := c.locals[req.Voter]
	if !ok {
		return errors.NewConflictError(errors.ReasonNotAMember, "sender has not opted in")
	}
	if local.HasVoted {
		return errors.NewConflictError(errors.ReasonDuplicateVote, "sender already voted")
	}
	return nil
}

// SubmitVote applies a vote: sets the sender's has_voted flag and records
// the submitted score. A second vote from the same sender is rejected
// unconditionally.
func (c *Contract) SubmitVote(req rules.VoteRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.acceptVoteLocked(req); err != nil {
		return err
	}
	local := c.locals[req.Voter]
	local.HasVoted = true
	local.VoteScore = uint64(req.Score)
	return nil
}

// RecordScoreHash anchors a score commitment after the voting deadline and
// before finalization closes the record set.
func (c *Contract) RecordScoreHash(hash string, now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if now.Before(c.global.DeadlineVoting) {
		return errors.NewConflictError(errors.ReasonFinalizeTooEarly, "score hashes accepted after voting deadline")
	}
	if c.global.Finalized {
		return errors.NewConflictError(errors.ReasonAlreadyFinalized, "record set is closed after finalize")
	}
	c.global.ScoreHashes = append(c.global.ScoreHashes, hash)
	return nil
}

// AcceptFinalize checks a finalize request without applying it.
func (c *Contract) AcceptFinalize(caller string, now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.acceptFinalizeLocked(caller, now)
}

func (c *Contract) acceptFinalizeLocked(caller string, now time.Time) error {
	if now.Before(c.global.DeadlineVoting) {
		return errors.NewConflictError(errors.ReasonFinalizeTooEarly, "cannot finalize before voting deadline")
	}
	if c.global.Finalized {
		return errors.NewConflictError(errors.ReasonAlreadyFinalized, "project already finalized")
	}
	if caller != c.global.Creator {
		return errors.NewConflictError(errors.ReasonNotCreator, "only the recorded creator may finalize")
	}
	return nil
}

// Finalize flips the contract to finalized. One-way: there is no transition
// back.
func (c *Contract) Finalize(caller string, now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.acceptFinalizeLocked(caller, now); err != nil {
		return err
	}
	c.global.Finalized = true
	return nil
}

// RecordReputation records the award amount for a recipient whose
// reputation_earned slot is still zero. It records only; the actual asset
// transfer is a separate, atomically-grouped transaction by the same caller.
func (c *Contract) RecordReputation(caller, recipient string, amount uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.global.Finalized {
		return errors.NewConflictError(errors.ReasonFinalizeTooEarly, "reputation recorded only after finalize")
	}
	if caller != c.global.Creator {
		return errors.NewConflictError(errors.ReasonNotCreator, "only the recorded creator may record reputation")
	}
	local, ok := c.locals[recipient]
	if !ok {
		return errors.NewConflictError(errors.ReasonTargetNotMember, "recipient has not opted in")
	}
	if local.ReputationEarned != 0 {
		return errors.NewConflictError(errors.ReasonAlreadyMinted, "reputation already recorded for recipient")
	}
	local.ReputationEarned = amount
	return nil
}

var (
	_ rules.VotingRules       = (*Contract)(nil)
	_ rules.FinalizationRules = (*Contract)(nil)
)

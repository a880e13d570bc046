package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/trustchain-labs/trustchain/internal/activity"
	"github.com/trustchain-labs/trustchain/internal/database"
	"github.com/trustchain-labs/trustchain/internal/errors"
	"github.com/trustchain-labs/trustchain/internal/ledger"
	"github.com/trustchain-labs/trustchain/internal/monitoring"
	"github.com/trustchain-labs/trustchain/internal/rules"
	"github.com/trustchain-labs/trustchain/internal/scoring"
)

// weightSumTolerance bounds float drift on user-supplied weights
const weightSumTolerance = 0.01

// Chain is the ledger surface the lifecycle drives. *ledger.Client satisfies
// it; tests substitute a recording fake.
type Chain interface {
	IsEnabled() bool
	CreatorAddress() string
	Deploy(ctx context.Context, params ledger.InitParams) (uint64, string, error)
	RecordScoreHash(ctx context.Context, appID uint64, scoreHash string) (string, error)
	Finalize(ctx context.Context, appID uint64) (string, error)
	MintReputation(ctx context.Context, appID uint64, recipient string, amount uint64) (string, error)
	ReadState(ctx context.Context, appID uint64) (*ledger.OnChainState, error)
}

var _ Chain = (*ledger.Client)(nil)

// Service drives projects through their lifecycle. Vote and finalize paths
// serialize per project so the rule check and the write happen atomically
// with respect to other requests on the same project; the UNIQUE constraints
// in the store are the cross-process backstop.
type Service struct {
	repo    *database.Repository
	history activity.HistoryProvider
	chain   Chain
	metrics *monitoring.Metrics
	now     func() time.Time

	locks sync.Map // project id -> *sync.Mutex
}

// NewService creates the lifecycle service. history may be nil when no
// repository adapter is configured; Analyze then fails with a collaborator
// error.
func NewService(repo *database.Repository, history activity.HistoryProvider, chain Chain, metrics *monitoring.Metrics) *Service {
	return &Service{
		repo:    repo,
		history: history,
		chain:   chain,
		metrics: metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) projectLock(projectID string) *sync.Mutex {
	lock, _ := s.locks.LoadOrStore(projectID, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

// CreateProjectParams carries everything needed to open a project.
type CreateProjectParams struct {
	Name                 string
	RepoURL              string
	Creator              string
	Members              []string
	WeightCode           float64
	WeightTime           float64
	WeightVote           float64
	DeadlineContribution time.Time
	DeadlineVoting       time.Time
}

func (p CreateProjectParams) validate() error {
	if p.Name == "" {
		return errors.NewValidationError("project name is required")
	}
	if p.RepoURL == "" {
		return errors.NewValidationError("repository URL is required")
	}
	if p.Creator == "" {
		return errors.NewValidationError("project creator is required")
	}
	for _, w := range []float64{p.WeightCode, p.WeightTime, p.WeightVote} {
		if w < 0 || w > 1 {
			return errors.NewValidationError("weights must be between 0 and 1",
				"weight_code", p.WeightCode, "weight_time", p.WeightTime, "weight_vote", p.WeightVote)
		}
	}
	if sum := p.WeightCode + p.WeightTime + p.WeightVote; math.Abs(sum-1) > weightSumTolerance {
		return errors.NewValidationError("weights must sum to 1",
			"sum", sum)
	}
	if !p.DeadlineContribution.Before(p.DeadlineVoting) {
		return errors.NewValidationError("contribution deadline must precede the voting deadline")
	}
	return nil
}

// CreateProject stores the project, its membership, and attempts to deploy
// the enforcement application. Deployment failure is not fatal: the project
// stays in draft and every off-ledger rule still applies.
func (s *Service) CreateProject(ctx context.Context, params CreateProjectParams) (*database.Project, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}

	project := database.NewProject(
		params.Name, params.RepoURL, params.Creator,
		params.WeightCode, params.WeightTime, params.WeightVote,
		params.DeadlineContribution.UTC(), params.DeadlineVoting.UTC(),
	)

	members := []*database.Member{
		database.NewMember(project.ID, params.Creator, database.RoleOwner),
	}
	for _, identity := range params.Members {
		if identity == "" || identity == params.Creator {
			continue
		}
		members = append(members, database.NewMember(project.ID, identity, database.RoleMember))
	}

	if err := s.repo.CreateProject(project, members); err != nil {
		return nil, err
	}

	slog.Info("Project created",
		"project_id", project.ID,
		"name", project.Name,
		"members", len(members))

	if s.chain != nil && s.chain.IsEnabled() {
		s.metrics.IncrementLedgerCall()
		appID, appAddr, err := s.chain.Deploy(ctx, ledger.InitParams{
			ProjectID:            project.ID,
			Creator:              s.chain.CreatorAddress(),
			DeadlineContribution: project.DeadlineContribution,
			DeadlineVoting:       project.DeadlineVoting,
			WeightCode:           weightPercent(project.WeightCode),
			WeightTime:           weightPercent(project.WeightTime),
			WeightVote:           weightPercent(project.WeightVote),
		})
		if err != nil {
			s.metrics.IncrementLedgerFailure()
			slog.Warn("Ledger deployment failed, project stays in draft",
				"project_id", project.ID,
				"error", err)
		} else if err := s.repo.SetProjectDeployed(project.ID, appID, appAddr); err != nil {
			slog.Error("Failed to record ledger deployment",
				"project_id", project.ID,
				"app_id", appID,
				"error", err)
		} else {
			project.AppID = appID
			project.AppAddress = appAddr
			project.Status = database.StatusActive
		}
	}

	return project, nil
}

// GetProject returns one project by id
func (s *Service) GetProject(projectID string) (*database.Project, error) {
	return s.getProject(projectID)
}

func (s *Service) getProject(projectID string) (*database.Project, error) {
	project, err := s.repo.GetProject(projectID)
	if err != nil {
		return nil, errors.NewInternalError("failed to load project", err)
	}
	if project == nil {
		return nil, errors.NewNotFoundError("project", projectID)
	}
	return project, nil
}

// Members returns the project's membership
func (s *Service) Members(projectID string) ([]*database.Member, error) {
	return s.repo.ListMembers(projectID)
}

// Analyze pulls commit history up to the contribution deadline, aggregates it
// per author, scores the raw code and consistency components, and replaces
// the project's activity snapshot. Reruns replace wholesale; a failed fetch
// leaves the previous snapshot untouched.
func (s *Service) Analyze(ctx context.Context, projectID string) ([]*database.ActivitySummary, error) {
	project, err := s.getProject(projectID)
	if err != nil {
		return nil, err
	}
	if s.history == nil {
		return nil, errors.NewCollaboratorError("history", fmt.Errorf("no history provider configured"))
	}

	since, until := activity.Window(time.Time{}, project.DeadlineContribution)

	commits, err := s.history.Commits(ctx, project.RepoURL, since, until)
	if err != nil {
		return nil, err
	}

	stats := activity.Aggregate(commits, since, until)

	cohort := make([]activity.AuthorStats, 0, len(stats))
	for _, st := range stats {
		cohort = append(cohort, st)
	}

	summaries := make([]*database.ActivitySummary, 0, len(stats))
	for author, st := range stats {
		summary := database.NewActivitySummary(projectID)
		summary.Author = author
		summary.Commits = st.Commits
		summary.LinesAdded = st.LinesAdded
		summary.LinesRemoved = st.LinesRemoved
		summary.FilesModified = st.FilesModified
		summary.ActiveDays = st.ActiveDays
		summary.TotalDays = st.TotalDays
		summary.LastDayCommits = st.LastDayCommits
		summary.CodeScoreRaw = scoring.CodeScore(st, cohort)
		summary.TimeScoreRaw = scoring.TimeConsistencyScore(st.ActiveDays, st.TotalDays, st.LastDayCommits, st.Commits)
		summaries = append(summaries, summary)
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].Author < summaries[j].Author })

	if err := s.repo.ReplaceActivitySummaries(projectID, summaries); err != nil {
		return nil, err
	}

	slog.Info("Activity analyzed",
		"project_id", projectID,
		"commits", len(commits),
		"authors", len(summaries))

	return summaries, nil
}

// SubmitVote records one peer vote after the full rule check. Rejections are
// conflict errors carrying a machine-readable reason; a rejected vote writes
// nothing.
func (s *Service) SubmitVote(ctx context.Context, projectID, voter, target string, score int) (*database.Vote, error) {
	if score < 1 || score > 5 {
		return nil, errors.NewValidationError("score must be between 1 and 5", "score", score)
	}

	project, err := s.getProject(projectID)
	if err != nil {
		return nil, err
	}

	lock := s.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	checker := s.rulesFor(project)
	if err := checker.AcceptVote(rules.VoteRequest{
		Voter:  voter,
		Target: target,
		Score:  score,
		Now:    s.now(),
	}); err != nil {
		return nil, err
	}

	vote := database.NewVote(projectID, voter, target, score)
	if err := s.repo.InsertVote(vote); err != nil {
		// A concurrent writer may win the race; the constraint maps to a
		// duplicate-vote conflict.
		return nil, errors.ToAppError(err)
	}

	slog.Info("Vote recorded",
		"project_id", projectID,
		"voter", voter,
		"score", score)

	return vote, nil
}

// Finalize freezes every member's score exactly once. A repeat call returns
// the frozen results, flagged alreadyFinalized, without writing anything.
// After the scores are stored the ledger side runs best-effort: anchor each
// commitment, finalize the application, and mint reputation. Ledger failures
// never unwind the stored scores; the mint-once guard in the store keeps
// retried mints from paying twice.
func (s *Service) Finalize(ctx context.Context, projectID, caller string) (scores []*database.FinalScore, alreadyFinalized bool, err error) {
	lock := s.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	// Fetched under the lock so a concurrent finalize that just won the
	// race is seen as frozen state, not re-run or rejected.
	project, err := s.getProject(projectID)
	if err != nil {
		return nil, false, err
	}

	if project.Status == database.StatusFinalized {
		scores, err := s.repo.GetFinalScores(projectID)
		return scores, true, err
	}

	checker := s.rulesFor(project)
	if err := checker.AcceptFinalize(caller, s.now()); err != nil {
		return nil, false, err
	}

	members, err := s.repo.ListMembers(projectID)
	if err != nil {
		return nil, false, err
	}
	summaries, err := s.repo.GetActivitySummaries(projectID)
	if err != nil {
		return nil, false, err
	}
	votesByTarget, err := s.repo.VotesByTarget(projectID)
	if err != nil {
		return nil, false, err
	}

	scores = make([]*database.FinalScore, 0, len(members))
	for _, member := range members {
		var code, timeScore float64
		if summary, ok := summaries[member.Identity]; ok {
			code = summary.CodeScoreRaw
			timeScore = summary.TimeScoreRaw
		}
		peer := scoring.PeerVoteScore(votesByTarget[member.Identity])
		final := scoring.FinalScore(code, timeScore, peer,
			project.WeightCode, project.WeightTime, project.WeightVote)

		record := database.NewFinalScore(projectID, member.Identity)
		record.CodeScore = code
		record.TimeScore = timeScore
		record.PeerScore = peer
		record.FinalScore = final
		record.ScoreHash = scoring.Commitment(code, timeScore, peer, final)
		scores = append(scores, record)
	}

	if err := s.repo.InsertFinalScores(projectID, scores); err != nil {
		return nil, false, err
	}

	slog.Info("Project finalized",
		"project_id", projectID,
		"members", len(scores))

	s.anchorAndMint(ctx, project, scores)

	return scores, false, nil
}

// anchorAndMint runs the post-finalize ledger work. Failures are logged and
// never unwind the frozen off-ledger result; a failed on-chain finalize stops
// the mint loop, since the application only mints once finalized.
func (s *Service) anchorAndMint(ctx context.Context, project *database.Project, scores []*database.FinalScore) {
	if s.chain == nil || !s.chain.IsEnabled() || project.AppID == 0 {
		return
	}

	// The application refuses new score hashes once its finalized flag is
	// set, so every commitment is anchored before the finalize call.
	for _, score := range scores {
		s.metrics.IncrementLedgerCall()
		if _, err := s.chain.RecordScoreHash(ctx, project.AppID, score.ScoreHash); err != nil {
			s.metrics.IncrementLedgerFailure()
			slog.Warn("Score hash anchoring failed",
				"project_id", project.ID,
				"member", score.Member,
				"error", err)
		}
	}

	s.metrics.IncrementLedgerCall()
	if _, err := s.chain.Finalize(ctx, project.AppID); err != nil {
		s.metrics.IncrementLedgerFailure()
		slog.Warn("Ledger finalize failed",
			"project_id", project.ID,
			"app_id", project.AppID,
			"error", err)
		// mint_rep requires the finalized flag; without it every mint
		// would bounce
		return
	}

	for _, score := range scores {
		amount := scoring.ReputationTier(score.FinalScore)
		if amount == 0 {
			continue
		}
		if err := s.repo.SetReputationMinted(project.ID, score.Member, amount); err != nil {
			// Already minted by an earlier attempt
			continue
		}
		s.metrics.IncrementLedgerCall()
		if _, err := s.chain.MintReputation(ctx, project.AppID, score.Member, amount); err != nil {
			s.metrics.IncrementLedgerFailure()
			slog.Warn("Reputation mint failed",
				"project_id", project.ID,
				"member", score.Member,
				"amount", amount,
				"error", err)
		}
	}
}

// Scores returns the frozen results for a finalized project.
func (s *Service) Scores(projectID string) ([]*database.FinalScore, error) {
	project, err := s.getProject(projectID)
	if err != nil {
		return nil, err
	}
	if project.Status != database.StatusFinalized {
		return nil, errors.NewConflictError(errors.ReasonFinalizeTooEarly, "project is not finalized yet")
	}
	return s.repo.GetFinalScores(projectID)
}

// LedgerCheck reports what the on-ledger application says about the project
// backing a verification.
type LedgerCheck struct {
	Finalized        bool `json:"finalized"`
	FingerprintMatch bool `json:"fingerprint_match"`
}

// VerificationResult is the outcome of an independent commitment check. The
// Ledger field is populated only when the project has a deployed application
// and its state could be read back.
type VerificationResult struct {
	Member     string       `json:"member"`
	FinalScore float64      `json:"final_score"`
	ScoreHash  string       `json:"score_hash"`
	Verified   bool         `json:"verified"`
	Ledger     *LedgerCheck `json:"ledger,omitempty"`
}

// VerifyMember recomputes a member's commitment from the stored components
// and compares it against the frozen hash. For deployed projects the
// application's global state is read back and matched against the project; a
// failed read degrades to the off-ledger check alone.
func (s *Service) VerifyMember(ctx context.Context, projectID, member string) (*VerificationResult, error) {
	project, err := s.getProject(projectID)
	if err != nil {
		return nil, err
	}
	score, err := s.repo.GetFinalScore(projectID, member)
	if err != nil {
		return nil, errors.NewInternalError("failed to load final score", err)
	}
	if score == nil {
		return nil, errors.NewNotFoundError("final score", member)
	}

	result := &VerificationResult{
		Member:     score.Member,
		FinalScore: score.FinalScore,
		ScoreHash:  score.ScoreHash,
		Verified: scoring.VerifyCommitment(
			score.CodeScore, score.TimeScore, score.PeerScore, score.FinalScore, score.ScoreHash),
	}

	if s.chain != nil && s.chain.IsEnabled() && project.AppID != 0 {
		s.metrics.IncrementLedgerCall()
		state, err := s.chain.ReadState(ctx, project.AppID)
		if err != nil {
			s.metrics.IncrementLedgerFailure()
			slog.Warn("On-ledger state read failed",
				"project_id", projectID,
				"app_id", project.AppID,
				"error", err)
		} else {
			result.Ledger = &LedgerCheck{
				Finalized:        state.Finalized,
				FingerprintMatch: state.ProjectFingerprint == ledger.Fingerprint(projectID),
			}
		}
	}

	return result, nil
}

// rulesFor builds the rule checker for one project with repository-backed
// lookups.
func (s *Service) rulesFor(project *database.Project) *Rules {
	return &Rules{
		Creator:              project.Creator,
		DeadlineContribution: project.DeadlineContribution,
		DeadlineVoting:       project.DeadlineVoting,
		IsMember: func(identity string) (bool, error) {
			member, err := s.repo.GetMember(project.ID, identity)
			if err != nil {
				return false, err
			}
			return member != nil, nil
		},
		HasVoted: func(voter, target string) (bool, error) {
			return s.repo.HasVoted(project.ID, voter, target)
		},
		IsFinalized: func() (bool, error) {
			current, err := s.repo.GetProject(project.ID)
			if err != nil {
				return false, err
			}
			return current.Status == database.StatusFinalized, nil
		},
	}
}

func weightPercent(w float64) uint64 {
	return uint64(math.Round(w * 100))
}

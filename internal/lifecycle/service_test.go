package lifecycle

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trustchain-labs/trustchain/internal/activity"
	"github.com/trustchain-labs/trustchain/internal/database"
	"github.com/trustchain-labs/trustchain/internal/errors"
	"github.com/trustchain-labs/trustchain/internal/ledger"
	"github.com/trustchain-labs/trustchain/internal/monitoring"
	"github.com/trustchain-labs/trustchain/internal/scoring"
)

type fakeHistory struct {
	commits []activity.Commit
	err     error
}

func (f *fakeHistory) Commits(_ context.Context, _ string, _, _ time.Time) ([]activity.Commit, error) {
	return f.commits, f.err
}

// fakeChain records the order of ledger calls
type fakeChain struct {
	mu      sync.Mutex
	calls   []string
	state   *ledger.OnChainState
	readErr error
}

func (f *fakeChain) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeChain) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeChain) IsEnabled() bool        { return true }
func (f *fakeChain) CreatorAddress() string { return "CREATORADDR" }

func (f *fakeChain) Deploy(_ context.Context, _ ledger.InitParams) (uint64, string, error) {
	f.record("deploy")
	return 7, "APPADDR", nil
}

func (f *fakeChain) RecordScoreHash(_ context.Context, _ uint64, _ string) (string, error) {
	f.record("score_hash")
	return "tx", nil
}

func (f *fakeChain) Finalize(_ context.Context, _ uint64) (string, error) {
	f.record("finalize")
	return "tx", nil
}

func (f *fakeChain) MintReputation(_ context.Context, _ uint64, _ string, _ uint64) (string, error) {
	f.record("mint_rep")
	return "tx", nil
}

func (f *fakeChain) ReadState(_ context.Context, _ uint64) (*ledger.OnChainState, error) {
	f.record("read_state")
	if f.readErr != nil {
		return nil, f.readErr
	}
	return f.state, nil
}

func newTestService(t *testing.T, history activity.HistoryProvider) *Service {
	t.Helper()
	chain, err := ledger.NewClient("", "", "", 0)
	require.NoError(t, err)
	return newTestServiceWithChain(t, history, chain)
}

func newTestServiceWithChain(t *testing.T, history activity.HistoryProvider, chain Chain) *Service {
	t.Helper()
	db, err := database.NewDB(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewService(database.NewRepository(db), history, chain, monitoring.NewMetrics())
}

var (
	testDeadlineContribution = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	testDeadlineVoting       = time.Date(2025, 3, 8, 0, 0, 0, 0, time.UTC)
)

func createTestProject(t *testing.T, svc *Service) *database.Project {
	t.Helper()
	project, err := svc.CreateProject(context.Background(), CreateProjectParams{
		Name:                 "trustchain-demo",
		RepoURL:              "https://github.com/example/demo",
		Creator:              "carol",
		Members:              []string{"alice", "bob"},
		WeightCode:           0.4,
		WeightTime:           0.3,
		WeightVote:           0.3,
		DeadlineContribution: testDeadlineContribution,
		DeadlineVoting:       testDeadlineVoting,
	})
	require.NoError(t, err)
	return project
}

func atTime(svc *Service, now time.Time) {
	svc.now = func() time.Time { return now }
}

func TestCreateProjectValidation(t *testing.T) {
	svc := newTestService(t, nil)

	tests := []struct {
		name   string
		mutate func(*CreateProjectParams)
	}{
		{"empty name", func(p *CreateProjectParams) { p.Name = "" }},
		{"empty repo url", func(p *CreateProjectParams) { p.RepoURL = "" }},
		{"empty creator", func(p *CreateProjectParams) { p.Creator = "" }},
		{"weights do not sum to one", func(p *CreateProjectParams) { p.WeightCode = 0.9 }},
		{"negative weight", func(p *CreateProjectParams) { p.WeightCode = -0.1; p.WeightTime = 0.8 }},
		{"deadlines out of order", func(p *CreateProjectParams) {
			p.DeadlineContribution = testDeadlineVoting
			p.DeadlineVoting = testDeadlineContribution
		}},
		{"equal deadlines", func(p *CreateProjectParams) {
			p.DeadlineVoting = p.DeadlineContribution
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := CreateProjectParams{
				Name: "p", RepoURL: "https://github.com/example/demo", Creator: "carol",
				WeightCode: 0.4, WeightTime: 0.3, WeightVote: 0.3,
				DeadlineContribution: testDeadlineContribution,
				DeadlineVoting:       testDeadlineVoting,
			}
			tt.mutate(&params)

			_, err := svc.CreateProject(context.Background(), params)
			require.Error(t, err)
			assert.Equal(t, errors.CategoryValidation, errors.ToAppError(err).Category)
		})
	}
}

func TestCreateProject(t *testing.T) {
	svc := newTestService(t, nil)
	project := createTestProject(t, svc)

	// Ledger disabled: no deployment, project stays in draft
	assert.Equal(t, database.StatusDraft, project.Status)
	assert.Zero(t, project.AppID)

	members, err := svc.Members(project.ID)
	require.NoError(t, err)
	require.Len(t, members, 3)

	byIdentity := make(map[string]string)
	for _, m := range members {
		byIdentity[m.Identity] = m.Role
	}
	assert.Equal(t, database.RoleOwner, byIdentity["carol"])
	assert.Equal(t, database.RoleMember, byIdentity["alice"])
	assert.Equal(t, database.RoleMember, byIdentity["bob"])
}

func TestCreateProjectDeduplicatesCreator(t *testing.T) {
	svc := newTestService(t, nil)
	project, err := svc.CreateProject(context.Background(), CreateProjectParams{
		Name: "p", RepoURL: "https://github.com/example/demo", Creator: "carol",
		Members:    []string{"carol", "alice", ""},
		WeightCode: 0.4, WeightTime: 0.3, WeightVote: 0.3,
		DeadlineContribution: testDeadlineContribution,
		DeadlineVoting:       testDeadlineVoting,
	})
	require.NoError(t, err)

	members, err := svc.Members(project.ID)
	require.NoError(t, err)
	assert.Len(t, members, 2)
}

func TestAnalyze(t *testing.T) {
	base := testDeadlineContribution.Add(-48 * time.Hour)
	history := &fakeHistory{commits: []activity.Commit{
		{
			SHA: "a1", AuthorID: "alice", Timestamp: base,
			Files: []activity.FileChange{{Path: "main.go", Insertions: 120, Deletions: 10}},
		},
		{
			SHA: "a2", AuthorID: "alice", Timestamp: base.Add(24 * time.Hour),
			Files: []activity.FileChange{{Path: "util.go", Insertions: 40, Deletions: 5}},
		},
		{
			SHA: "b1", AuthorID: "bob", Timestamp: base,
			Files: []activity.FileChange{{Path: "doc.md", Insertions: 10, Deletions: 0}},
		},
	}}

	svc := newTestService(t, history)
	project := createTestProject(t, svc)

	summaries, err := svc.Analyze(context.Background(), project.ID)
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	// Sorted by author
	assert.Equal(t, "alice", summaries[0].Author)
	assert.Equal(t, "bob", summaries[1].Author)
	assert.Equal(t, 2, summaries[0].Commits)
	assert.Equal(t, 160, summaries[0].LinesAdded)
	assert.Greater(t, summaries[0].CodeScoreRaw, summaries[1].CodeScoreRaw)

	// Rerun replaces the snapshot wholesale
	history.commits = history.commits[:1]
	summaries, err = svc.Analyze(context.Background(), project.ID)
	require.NoError(t, err)
	assert.Len(t, summaries, 1)
}

func TestAnalyzeFetchFailureKeepsSnapshot(t *testing.T) {
	history := &fakeHistory{commits: []activity.Commit{
		{
			SHA: "a1", AuthorID: "alice", Timestamp: testDeadlineContribution.Add(-time.Hour),
			Files: []activity.FileChange{{Path: "main.go", Insertions: 10, Deletions: 1}},
		},
	}}
	svc := newTestService(t, history)
	project := createTestProject(t, svc)

	_, err := svc.Analyze(context.Background(), project.ID)
	require.NoError(t, err)

	history.err = assert.AnError
	_, err = svc.Analyze(context.Background(), project.ID)
	require.Error(t, err)

	history.err = nil
	summaries, err := svc.Analyze(context.Background(), project.ID)
	require.NoError(t, err)
	assert.Len(t, summaries, 1)
}

func TestSubmitVote(t *testing.T) {
	svc := newTestService(t, nil)
	project := createTestProject(t, svc)
	atTime(svc, testDeadlineContribution.Add(24*time.Hour))

	vote, err := svc.SubmitVote(context.Background(), project.ID, "alice", "bob", 4)
	require.NoError(t, err)
	assert.Equal(t, 4, vote.Score)

	// Same voter, different target is a separate vote
	_, err = svc.SubmitVote(context.Background(), project.ID, "alice", "carol", 5)
	require.NoError(t, err)
}

func TestSubmitVoteRejections(t *testing.T) {
	svc := newTestService(t, nil)
	project := createTestProject(t, svc)
	inWindow := testDeadlineContribution.Add(24 * time.Hour)

	tests := []struct {
		name   string
		now    time.Time
		voter  string
		target string
		reason errors.ConflictReason
	}{
		{"before window", testDeadlineContribution.Add(-time.Second), "alice", "bob", errors.ReasonVotingNotOpen},
		{"at voting deadline", testDeadlineVoting, "alice", "bob", errors.ReasonVotingClosed},
		{"self vote", inWindow, "alice", "alice", errors.ReasonSelfVote},
		{"non-member voter", inWindow, "mallory", "bob", errors.ReasonNotAMember},
		{"non-member target", inWindow, "alice", "mallory", errors.ReasonTargetNotMember},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			atTime(svc, tt.now)
			_, err := svc.SubmitVote(context.Background(), project.ID, tt.voter, tt.target, 4)
			require.Error(t, err)
			assert.True(t, errors.IsConflict(err, tt.reason), "got %v", err)
		})
	}
}

func TestSubmitVoteScoreValidation(t *testing.T) {
	svc := newTestService(t, nil)
	project := createTestProject(t, svc)
	atTime(svc, testDeadlineContribution.Add(24*time.Hour))

	for _, score := range []int{0, 6, -1} {
		_, err := svc.SubmitVote(context.Background(), project.ID, "alice", "bob", score)
		require.Error(t, err)
		assert.Equal(t, errors.CategoryValidation, errors.ToAppError(err).Category)
	}
}

func TestSubmitVoteDuplicateWritesNothing(t *testing.T) {
	svc := newTestService(t, nil)
	project := createTestProject(t, svc)
	atTime(svc, testDeadlineContribution.Add(24*time.Hour))

	_, err := svc.SubmitVote(context.Background(), project.ID, "alice", "bob", 4)
	require.NoError(t, err)

	_, err = svc.SubmitVote(context.Background(), project.ID, "alice", "bob", 2)
	require.Error(t, err)
	assert.True(t, errors.IsConflict(err, errors.ReasonDuplicateVote), "got %v", err)

	repo := svc.repo
	count, err := repo.CountVotes(project.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// The original score stands
	votes, err := repo.VotesByTarget(project.ID)
	require.NoError(t, err)
	assert.Equal(t, []int{4}, votes["bob"])
}

func TestFinalizeRejections(t *testing.T) {
	svc := newTestService(t, nil)
	project := createTestProject(t, svc)

	atTime(svc, testDeadlineVoting.Add(-time.Second))
	_, _, err := svc.Finalize(context.Background(), project.ID, "carol")
	require.Error(t, err)
	assert.True(t, errors.IsConflict(err, errors.ReasonFinalizeTooEarly), "got %v", err)

	atTime(svc, testDeadlineVoting)
	_, _, err = svc.Finalize(context.Background(), project.ID, "alice")
	require.Error(t, err)
	assert.True(t, errors.IsConflict(err, errors.ReasonNotCreator), "got %v", err)
}

func TestFinalize(t *testing.T) {
	history := &fakeHistory{commits: []activity.Commit{
		{
			SHA: "a1", AuthorID: "alice", Timestamp: testDeadlineContribution.Add(-time.Hour),
			Files: []activity.FileChange{{Path: "main.go", Insertions: 100, Deletions: 20}},
		},
	}}
	svc := newTestService(t, history)
	project := createTestProject(t, svc)

	_, err := svc.Analyze(context.Background(), project.ID)
	require.NoError(t, err)

	atTime(svc, testDeadlineContribution.Add(24*time.Hour))
	_, err = svc.SubmitVote(context.Background(), project.ID, "bob", "alice", 5)
	require.NoError(t, err)
	_, err = svc.SubmitVote(context.Background(), project.ID, "carol", "alice", 5)
	require.NoError(t, err)

	atTime(svc, testDeadlineVoting)
	scores, alreadyFinalized, err := svc.Finalize(context.Background(), project.ID, "carol")
	require.NoError(t, err)
	assert.False(t, alreadyFinalized)
	require.Len(t, scores, 3)

	byMember := make(map[string]*database.FinalScore)
	for _, s := range scores {
		byMember[s.Member] = s
	}

	alice := byMember["alice"]
	require.NotNil(t, alice)
	assert.InDelta(t, 100.0, alice.PeerScore, 0.001)
	assert.Greater(t, alice.FinalScore, byMember["bob"].FinalScore)

	// Members without activity or votes score zero on those components
	assert.Zero(t, byMember["bob"].CodeScore)
	assert.Zero(t, byMember["bob"].PeerScore)

	for _, s := range scores {
		assert.True(t, scoring.VerifyCommitment(s.CodeScore, s.TimeScore, s.PeerScore, s.FinalScore, s.ScoreHash),
			"commitment for %s must verify", s.Member)
	}

	updated, err := svc.GetProject(project.ID)
	require.NoError(t, err)
	assert.Equal(t, database.StatusFinalized, updated.Status)
}

func TestFinalizeIsIdempotent(t *testing.T) {
	svc := newTestService(t, nil)
	project := createTestProject(t, svc)

	atTime(svc, testDeadlineVoting)
	first, alreadyFinalized, err := svc.Finalize(context.Background(), project.ID, "carol")
	require.NoError(t, err)
	assert.False(t, alreadyFinalized)
	require.Len(t, first, 3)

	second, alreadyFinalized, err := svc.Finalize(context.Background(), project.ID, "carol")
	require.NoError(t, err)
	assert.True(t, alreadyFinalized, "repeat finalize must report the frozen state")
	require.Len(t, second, 3)

	frozen := make(map[string]*database.FinalScore)
	for _, s := range first {
		frozen[s.Member] = s
	}
	for _, s := range second {
		require.Contains(t, frozen, s.Member)
		assert.Equal(t, frozen[s.Member].ID, s.ID, "repeat finalize must not rewrite rows")
		assert.Equal(t, frozen[s.Member].ScoreHash, s.ScoreHash)
	}
}

func TestFinalizeAnchorsHashesBeforeLedgerFinalize(t *testing.T) {
	chain := &fakeChain{}
	svc := newTestServiceWithChain(t, nil, chain)
	project := createTestProject(t, svc)
	require.Equal(t, database.StatusActive, project.Status)

	atTime(svc, testDeadlineVoting)
	_, _, err := svc.Finalize(context.Background(), project.ID, "carol")
	require.NoError(t, err)

	// The application rejects score_hash calls once its finalized flag is
	// set, so every anchor must land before the finalize transition.
	calls := chain.callLog()
	require.Equal(t, []string{"deploy", "score_hash", "score_hash", "score_hash", "finalize"}, calls)

	// Deploy, three anchors and the finalize each count as one ledger call
	assert.Equal(t, int64(5), atomic.LoadInt64(&svc.metrics.LedgerCalls))
	assert.Zero(t, atomic.LoadInt64(&svc.metrics.LedgerFailures))
}

func TestConcurrentFinalizeIsIdempotent(t *testing.T) {
	svc := newTestService(t, nil)
	project := createTestProject(t, svc)
	atTime(svc, testDeadlineVoting)

	type outcome struct {
		already bool
		err     error
	}
	results := make(chan outcome, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, already, err := svc.Finalize(context.Background(), project.ID, "carol")
			results <- outcome{already, err}
		}()
	}

	freshRuns := 0
	for i := 0; i < 2; i++ {
		r := <-results
		require.NoError(t, r.err)
		if !r.already {
			freshRuns++
		}
	}
	assert.Equal(t, 1, freshRuns, "exactly one caller computes, the other sees frozen state")
}

func TestScoresBeforeFinalize(t *testing.T) {
	svc := newTestService(t, nil)
	project := createTestProject(t, svc)

	_, err := svc.Scores(project.ID)
	require.Error(t, err)
	assert.True(t, errors.IsConflict(err, errors.ReasonFinalizeTooEarly), "got %v", err)
}

func TestVerifyMember(t *testing.T) {
	svc := newTestService(t, nil)
	project := createTestProject(t, svc)

	atTime(svc, testDeadlineVoting)
	_, _, err := svc.Finalize(context.Background(), project.ID, "carol")
	require.NoError(t, err)

	result, err := svc.VerifyMember(context.Background(), project.ID, "alice")
	require.NoError(t, err)
	assert.True(t, result.Verified)
	assert.Equal(t, "alice", result.Member)
	assert.Nil(t, result.Ledger, "no deployed application, nothing to read back")

	_, err = svc.VerifyMember(context.Background(), project.ID, "nobody")
	require.Error(t, err)
}

func TestVerifyMemberReadsLedgerState(t *testing.T) {
	chain := &fakeChain{}
	svc := newTestServiceWithChain(t, nil, chain)
	project := createTestProject(t, svc)
	require.NotZero(t, project.AppID)

	chain.state = &ledger.OnChainState{
		ProjectFingerprint: ledger.Fingerprint(project.ID),
		Finalized:          true,
	}

	atTime(svc, testDeadlineVoting)
	_, _, err := svc.Finalize(context.Background(), project.ID, "carol")
	require.NoError(t, err)

	result, err := svc.VerifyMember(context.Background(), project.ID, "alice")
	require.NoError(t, err)
	require.NotNil(t, result.Ledger)
	assert.True(t, result.Ledger.Finalized)
	assert.True(t, result.Ledger.FingerprintMatch)

	// A fingerprint for another project must not match
	chain.state.ProjectFingerprint = ledger.Fingerprint("another-project")
	result, err = svc.VerifyMember(context.Background(), project.ID, "alice")
	require.NoError(t, err)
	require.NotNil(t, result.Ledger)
	assert.False(t, result.Ledger.FingerprintMatch)
}

func TestVerifyMemberDegradesOnLedgerReadFailure(t *testing.T) {
	chain := &fakeChain{readErr: assert.AnError}
	svc := newTestServiceWithChain(t, nil, chain)
	project := createTestProject(t, svc)

	atTime(svc, testDeadlineVoting)
	_, _, err := svc.Finalize(context.Background(), project.ID, "carol")
	require.NoError(t, err)

	result, err := svc.VerifyMember(context.Background(), project.ID, "alice")
	require.NoError(t, err)
	assert.True(t, result.Verified)
	assert.Nil(t, result.Ledger)
}

func TestGetProjectNotFound(t *testing.T) {
	svc := newTestService(t, nil)

	_, err := svc.GetProject("no-such-id")
	require.Error(t, err)
	assert.Equal(t, 404, errors.ToAppError(err).HTTPStatus)
}

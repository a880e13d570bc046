package database

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()

	db, err := NewDB(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewRepository(db)
}

func seedProject(t *testing.T, repo *Repository) *Project {
	t.Helper()

	project := NewProject("trustchain-demo", "github.com/trustchain-labs/demo", "carol",
		0.4, 0.3, 0.3,
		time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 3, 8, 0, 0, 0, 0, time.UTC))

	members := []*Member{
		NewMember(project.ID, "carol", "creator"),
		NewMember(project.ID, "alice", "member"),
		NewMember(project.ID, "bob", "member"),
	}

	require.NoError(t, repo.CreateProject(project, members))
	return project
}

func TestCreateAndGetProject(t *testing.T) {
	repo := newTestRepo(t)
	project := seedProject(t, repo)

	got, err := repo.GetProject(project.ID)
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, project.ID, got.ID)
	assert.Equal(t, "trustchain-demo", got.Name)
	assert.Equal(t, "carol", got.Creator)
	assert.Equal(t, StatusDraft, got.Status)
	assert.InDelta(t, 0.4, got.WeightCode, 1e-9)
	assert.Zero(t, got.AppID)
}

func TestGetProjectMissingReturnsNil(t *testing.T) {
	repo := newTestRepo(t)

	got, err := repo.GetProject("nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCreateProjectRejectsDuplicateMember(t *testing.T) {
	repo := newTestRepo(t)

	project := NewProject("dup", "github.com/trustchain-labs/dup", "carol",
		0.4, 0.3, 0.3, time.Now().UTC(), time.Now().UTC().Add(time.Hour))
	members := []*Member{
		NewMember(project.ID, "alice", "member"),
		NewMember(project.ID, "alice", "member"),
	}

	err := repo.CreateProject(project, members)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "UNIQUE constraint failed")

	// The transaction rolled back, so the project never landed either.
	got, err := repo.GetProject(project.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSetProjectDeployed(t *testing.T) {
	repo := newTestRepo(t)
	project := seedProject(t, repo)

	require.NoError(t, repo.SetProjectDeployed(project.ID, 4242, "APPADDR"))

	got, err := repo.GetProject(project.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, got.Status)
	assert.Equal(t, uint64(4242), got.AppID)
	assert.Equal(t, "APPADDR", got.AppAddress)

	// Deployment is recorded once; a second attempt must not clobber it.
	require.NoError(t, repo.SetProjectDeployed(project.ID, 9999, "OTHER"))
	got, err = repo.GetProject(project.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(4242), got.AppID)
}

func TestListMembersOrdered(t *testing.T) {
	repo := newTestRepo(t)
	project := seedProject(t, repo)

	members, err := repo.ListMembers(project.ID)
	require.NoError(t, err)
	require.Len(t, members, 3)

	identities := make([]string, len(members))
	for i, m := range members {
		identities[i] = m.Identity
	}
	assert.ElementsMatch(t, []string{"carol", "alice", "bob"}, identities)
}

func TestGetMember(t *testing.T) {
	repo := newTestRepo(t)
	project := seedProject(t, repo)

	m, err := repo.GetMember(project.ID, "alice")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "member", m.Role)

	m, err = repo.GetMember(project.ID, "mallory")
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestReplaceActivitySummaries(t *testing.T) {
	repo := newTestRepo(t)
	project := seedProject(t, repo)

	first := NewActivitySummary(project.ID)
	first.Author = "alice"
	first.Commits = 5
	first.CodeScoreRaw = 42.5
	require.NoError(t, repo.ReplaceActivitySummaries(project.ID, []*ActivitySummary{first}))

	second := NewActivitySummary(project.ID)
	second.Author = "alice"
	second.Commits = 9
	third := NewActivitySummary(project.ID)
	third.Author = "bob"
	third.Commits = 2
	require.NoError(t, repo.ReplaceActivitySummaries(project.ID, []*ActivitySummary{second, third}))

	summaries, err := repo.GetActivitySummaries(project.ID)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, 9, summaries["alice"].Commits)
	assert.Equal(t, 2, summaries["bob"].Commits)
}

func TestInsertVoteAndUniqueConstraint(t *testing.T) {
	repo := newTestRepo(t)
	project := seedProject(t, repo)

	require.NoError(t, repo.InsertVote(NewVote(project.ID, "alice", "bob", 4)))

	voted, err := repo.HasVoted(project.ID, "alice", "bob")
	require.NoError(t, err)
	assert.True(t, voted)

	voted, err = repo.HasVoted(project.ID, "bob", "alice")
	require.NoError(t, err)
	assert.False(t, voted)

	err = repo.InsertVote(NewVote(project.ID, "alice", "bob", 2))
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "UNIQUE constraint failed"))

	count, err := repo.CountVotes(project.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestVotesByTarget(t *testing.T) {
	repo := newTestRepo(t)
	project := seedProject(t, repo)

	require.NoError(t, repo.InsertVote(NewVote(project.ID, "alice", "bob", 4)))
	require.NoError(t, repo.InsertVote(NewVote(project.ID, "carol", "bob", 5)))
	require.NoError(t, repo.InsertVote(NewVote(project.ID, "bob", "alice", 3)))

	votes, err := repo.VotesByTarget(project.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{4, 5}, votes["bob"])
	assert.Equal(t, []int{3}, votes["alice"])
}

func TestInsertFinalScoresFreezesProject(t *testing.T) {
	repo := newTestRepo(t)
	project := seedProject(t, repo)

	alice := NewFinalScore(project.ID, "alice")
	alice.CodeScore = 80
	alice.TimeScore = 60
	alice.PeerScore = 90
	alice.FinalScore = 77
	alice.ScoreHash = "hash-alice"

	bob := NewFinalScore(project.ID, "bob")
	bob.FinalScore = 40
	bob.ScoreHash = "hash-bob"

	require.NoError(t, repo.InsertFinalScores(project.ID, []*FinalScore{bob, alice}))

	got, err := repo.GetProject(project.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFinalized, got.Status)

	scores, err := repo.GetFinalScores(project.ID)
	require.NoError(t, err)
	require.Len(t, scores, 2)
	assert.Equal(t, "alice", scores[0].Member, "highest final score first")
	assert.Equal(t, "bob", scores[1].Member)

	one, err := repo.GetFinalScore(project.ID, "alice")
	require.NoError(t, err)
	require.NotNil(t, one)
	assert.Equal(t, "hash-alice", one.ScoreHash)
	assert.Nil(t, one.ReputationMinted)

	missing, err := repo.GetFinalScore(project.ID, "mallory")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSetReputationMintedOnce(t *testing.T) {
	repo := newTestRepo(t)
	project := seedProject(t, repo)

	score := NewFinalScore(project.ID, "alice")
	score.FinalScore = 85
	score.ScoreHash = "hash"
	require.NoError(t, repo.InsertFinalScores(project.ID, []*FinalScore{score}))

	require.NoError(t, repo.SetReputationMinted(project.ID, "alice", 500))

	got, err := repo.GetFinalScore(project.ID, "alice")
	require.NoError(t, err)
	require.NotNil(t, got.ReputationMinted)
	assert.Equal(t, uint64(500), *got.ReputationMinted)

	err = repo.SetReputationMinted(project.ID, "alice", 900)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already minted")

	got, err = repo.GetFinalScore(project.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(500), *got.ReputationMinted)
}

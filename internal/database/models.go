package database

import (
	"time"

	"github.com/google/uuid"
)

// Project lifecycle statuses. Transitions are monotonic: draft -> active ->
// voting -> finalized, with no backward edge.
const (
	StatusDraft     = "draft"
	StatusActive    = "active"
	StatusVoting    = "voting"
	StatusFinalized = "finalized"
)

// Member roles
const (
	RoleOwner  = "owner"
	RoleMember = "member"
)

// Project holds contribution rules, deadlines and the optional ledger
// application reference once deployed.
type Project struct {
	ID                   string    `json:"id" db:"id"`
	Name                 string    `json:"name" db:"name"`
	RepoURL              string    `json:"repo_url" db:"repo_url"`
	Creator              string    `json:"creator" db:"creator"`
	WeightCode           float64   `json:"weight_code" db:"weight_code"`
	WeightTime           float64   `json:"weight_time" db:"weight_time"`
	WeightVote           float64   `json:"weight_vote" db:"weight_vote"`
	DeadlineContribution time.Time `json:"deadline_contribution" db:"deadline_contribution"`
	DeadlineVoting       time.Time `json:"deadline_voting" db:"deadline_voting"`
	Status               string    `json:"status" db:"status"`
	AppID                uint64    `json:"app_id,omitempty" db:"app_id"`
	AppAddress           string    `json:"app_address,omitempty" db:"app_address"`
	CreatedAt            time.Time `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time `json:"updated_at" db:"updated_at"`
}

// Member is a (project, identity) pairing. Identity is an opaque key from the
// identity provider; its internal structure is never inspected.
type Member struct {
	ID        string    `json:"id" db:"id"`
	ProjectID string    `json:"project_id" db:"project_id"`
	Identity  string    `json:"identity" db:"identity"`
	Role      string    `json:"role" db:"role"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// ActivitySummary is the derived, replaceable per-author snapshot produced by
// an analysis run. Regenerated wholesale per project, last-write-wins.
type ActivitySummary struct {
	ID             string    `json:"id" db:"id"`
	ProjectID      string    `json:"project_id" db:"project_id"`
	Author         string    `json:"author" db:"author"`
	Commits        int       `json:"commits" db:"commits"`
	LinesAdded     int       `json:"lines_added" db:"lines_added"`
	LinesRemoved   int       `json:"lines_removed" db:"lines_removed"`
	FilesModified  int       `json:"files_modified" db:"files_modified"`
	ActiveDays     int       `json:"active_days" db:"active_days"`
	TotalDays      int       `json:"total_days" db:"total_days"`
	LastDayCommits int       `json:"last_day_commits" db:"last_day_commits"`
	CodeScoreRaw   float64   `json:"code_score_raw" db:"code_score_raw"`
	TimeScoreRaw   float64   `json:"time_score_raw" db:"time_score_raw"`
	AnalyzedAt     time.Time `json:"analyzed_at" db:"analyzed_at"`
}

// Vote is one immutable peer rating: voter -> target, score 1-5. There is no
// edit or delete operation.
type Vote struct {
	ID        string    `json:"id" db:"id"`
	ProjectID string    `json:"project_id" db:"project_id"`
	Voter     string    `json:"voter" db:"voter"`
	Target    string    `json:"target" db:"target"`
	Score     int       `json:"score" db:"score"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// FinalScore is the frozen per-member result written exactly once at
// finalize time.
type FinalScore struct {
	ID               string    `json:"id" db:"id"`
	ProjectID        string    `json:"project_id" db:"project_id"`
	Member           string    `json:"member" db:"member"`
	CodeScore        float64   `json:"code_score" db:"code_score"`
	TimeScore        float64   `json:"time_score" db:"time_score"`
	PeerScore        float64   `json:"peer_score" db:"peer_score"`
	FinalScore       float64   `json:"final_score" db:"final_score"`
	ScoreHash        string    `json:"score_hash" db:"score_hash"`
	ReputationMinted *uint64   `json:"reputation_minted,omitempty" db:"reputation_minted"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
}

// NewProject creates a new project with generated ID in draft status
func NewProject(name, repoURL, creator string, weightCode, weightTime, weightVote float64, deadlineContribution, deadlineVoting time.Time) *Project {
	now := time.Now().UTC()
	return &Project{
		ID:                   uuid.New().String(),
		Name:                 name,
		RepoURL:              repoURL,
		Creator:              creator,
		WeightCode:           weightCode,
		WeightTime:           weightTime,
		WeightVote:           weightVote,
		DeadlineContribution: deadlineContribution,
		DeadlineVoting:       deadlineVoting,
		Status:               StatusDraft,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
}

// NewMember creates a new membership record
func NewMember(projectID, identity, role string) *Member {
	return &Member{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		Identity:  identity,
		Role:      role,
		CreatedAt: time.Now().UTC(),
	}
}

// NewVote creates a new vote record
func NewVote(projectID, voter, target string, score int) *Vote {
	return &Vote{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		Voter:     voter,
		Target:    target,
		Score:     score,
		CreatedAt: time.Now().UTC(),
	}
}

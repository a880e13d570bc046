package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Repository handles database operations
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// CreateProject inserts a project together with its initial member rows in
// one transaction.
func (r *Repository) CreateProject(project *Project, members []*Member) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO projects (id, name, repo_url, creator, weight_code, weight_time, weight_vote,
			deadline_contribution, deadline_voting, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, project.ID, project.Name, project.RepoURL, project.Creator,
		project.WeightCode, project.WeightTime, project.WeightVote,
		project.DeadlineContribution, project.DeadlineVoting, project.Status,
		project.CreatedAt, project.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}

	for _, m := range members {
		_, err = tx.Exec(`
			INSERT INTO project_members (id, project_id, identity, role, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, m.ID, m.ProjectID, m.Identity, m.Role, m.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to add member %s: %w", m.Identity, err)
		}
	}

	return tx.Commit()
}

// GetProject fetches a project by ID
func (r *Repository) GetProject(projectID string) (*Project, error) {
	var p Project
	var appID sql.NullInt64
	var appAddress, repoURL sql.NullString

	err := r.db.QueryRow(`
		SELECT id, name, repo_url, creator, weight_code, weight_time, weight_vote,
			deadline_contribution, deadline_voting, status, app_id, app_address, created_at, updated_at
		FROM projects WHERE id = ?
	`, projectID).Scan(
		&p.ID, &p.Name, &repoURL, &p.Creator, &p.WeightCode, &p.WeightTime, &p.WeightVote,
		&p.DeadlineContribution, &p.DeadlineVoting, &p.Status, &appID, &appAddress,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query project: %w", err)
	}

	p.RepoURL = repoURL.String
	if appID.Valid {
		p.AppID = uint64(appID.Int64)
	}
	p.AppAddress = appAddress.String
	return &p, nil
}

// SetProjectDeployed records the ledger application reference and moves the
// project from draft to active. Called once after successful deployment.
func (r *Repository) SetProjectDeployed(projectID string, appID uint64, appAddress string) error {
	_, err := r.db.Exec(`
		UPDATE projects SET app_id = ?, app_address = ?, status = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, appID, appAddress, StatusActive, time.Now().UTC(), projectID, StatusDraft)
	if err != nil {
		return fmt.Errorf("failed to mark project deployed: %w", err)
	}
	return nil
}

// SetProjectStatus updates the lifecycle status field
func (r *Repository) SetProjectStatus(projectID, status string) error {
	_, err := r.db.Exec(`
		UPDATE projects SET status = ?, updated_at = ? WHERE id = ?
	`, status, time.Now().UTC(), projectID)
	if err != nil {
		return fmt.Errorf("failed to update project status: %w", err)
	}
	return nil
}

// ListMembers returns all members of a project
func (r *Repository) ListMembers(projectID string) ([]*Member, error) {
	rows, err := r.db.Query(`
		SELECT id, project_id, identity, role, created_at
		FROM project_members WHERE project_id = ? ORDER BY created_at
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query members: %w", err)
	}
	defer rows.Close()

	var members []*Member
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.ID, &m.ProjectID, &m.Identity, &m.Role, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		members = append(members, &m)
	}
	return members, rows.Err()
}

// GetMember returns the membership row for (project, identity), or nil
func (r *Repository) GetMember(projectID, identity string) (*Member, error) {
	var m Member
	err := r.db.QueryRow(`
		SELECT id, project_id, identity, role, created_at
		FROM project_members WHERE project_id = ? AND identity = ?
	`, projectID, identity).Scan(&m.ID, &m.ProjectID, &m.Identity, &m.Role, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query member: %w", err)
	}
	return &m, nil
}

// ReplaceActivitySummaries swaps out the whole per-author snapshot for a
// project in one transaction: a failed analysis run never leaves a partial
// overwrite behind.
func (r *Repository) ReplaceActivitySummaries(projectID string, summaries []*ActivitySummary) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM activity_summaries WHERE project_id = ?`, projectID); err != nil {
		return fmt.Errorf("failed to clear prior summaries: %w", err)
	}

	for _, s := range summaries {
		_, err := tx.Exec(`
			INSERT INTO activity_summaries (id, project_id, author, commits, lines_added, lines_removed,
				files_modified, active_days, total_days, last_day_commits,
				code_score_raw, time_score_raw, analyzed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, s.ID, s.ProjectID, s.Author, s.Commits, s.LinesAdded, s.LinesRemoved,
			s.FilesModified, s.ActiveDays, s.TotalDays, s.LastDayCommits,
			s.CodeScoreRaw, s.TimeScoreRaw, s.AnalyzedAt)
		if err != nil {
			return fmt.Errorf("failed to insert summary for %s: %w", s.Author, err)
		}
	}

	return tx.Commit()
}

// GetActivitySummaries returns the latest snapshot for a project keyed by author
func (r *Repository) GetActivitySummaries(projectID string) (map[string]*ActivitySummary, error) {
	rows, err := r.db.Query(`
		SELECT id, project_id, author, commits, lines_added, lines_removed,
			files_modified, active_days, total_days, last_day_commits,
			code_score_raw, time_score_raw, analyzed_at
		FROM activity_summaries WHERE project_id = ?
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query summaries: %w", err)
	}
	defer rows.Close()

	summaries := make(map[string]*ActivitySummary)
	for rows.Next() {
		var s ActivitySummary
		err := rows.Scan(&s.ID, &s.ProjectID, &s.Author, &s.Commits, &s.LinesAdded, &s.LinesRemoved,
			&s.FilesModified, &s.ActiveDays, &s.TotalDays, &s.LastDayCommits,
			&s.CodeScoreRaw, &s.TimeScoreRaw, &s.AnalyzedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan summary: %w", err)
		}
		summaries[s.Author] = &s
	}
	return summaries, rows.Err()
}

// InsertVote records a vote. The UNIQUE(project_id, voter, target) constraint
// makes the duplicate check atomic with respect to concurrent writers; a
// violation surfaces as a UNIQUE constraint error the caller maps to a
// duplicate-vote conflict.
func (r *Repository) InsertVote(vote *Vote) error {
	_, err := r.db.Exec(`
		INSERT INTO votes (id, project_id, voter, target, score, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, vote.ID, vote.ProjectID, vote.Voter, vote.Target, vote.Score, vote.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert vote: %w", err)
	}
	return nil
}

// HasVoted reports whether (voter, target) already voted in this project
func (r *Repository) HasVoted(projectID, voter, target string) (bool, error) {
	var count int
	err := r.db.QueryRow(`
		SELECT COUNT(*) FROM votes WHERE project_id = ? AND voter = ? AND target = ?
	`, projectID, voter, target).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check vote: %w", err)
	}
	return count > 0, nil
}

// CountVotes returns the number of votes recorded for a project
func (r *Repository) CountVotes(projectID string) (int, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM votes WHERE project_id = ?`, projectID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count votes: %w", err)
	}
	return count, nil
}

// VotesByTarget returns the 1-5 ratings received per member identity
func (r *Repository) VotesByTarget(projectID string) (map[string][]int, error) {
	rows, err := r.db.Query(`
		SELECT target, score FROM votes WHERE project_id = ? ORDER BY created_at
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query votes: %w", err)
	}
	defer rows.Close()

	votes := make(map[string][]int)
	for rows.Next() {
		var target string
		var score int
		if err := rows.Scan(&target, &score); err != nil {
			return nil, fmt.Errorf("failed to scan vote: %w", err)
		}
		votes[target] = append(votes[target], score)
	}
	return votes, rows.Err()
}

// InsertFinalScores writes all FinalScore rows and flips the project to
// finalized in one transaction, so a finalize is either fully recorded or
// not at all.
func (r *Repository) InsertFinalScores(projectID string, scores []*FinalScore) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, s := range scores {
		_, err := tx.Exec(`
			INSERT INTO final_scores (id, project_id, member, code_score, time_score, peer_score,
				final_score, score_hash, reputation_minted, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, s.ID, s.ProjectID, s.Member, s.CodeScore, s.TimeScore, s.PeerScore,
			s.FinalScore, s.ScoreHash, s.ReputationMinted, s.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert final score for %s: %w", s.Member, err)
		}
	}

	_, err = tx.Exec(`
		UPDATE projects SET status = ?, updated_at = ? WHERE id = ?
	`, StatusFinalized, time.Now().UTC(), projectID)
	if err != nil {
		return fmt.Errorf("failed to mark project finalized: %w", err)
	}

	return tx.Commit()
}

// GetFinalScores returns the frozen scores for a project, highest first
func (r *Repository) GetFinalScores(projectID string) ([]*FinalScore, error) {
	rows, err := r.db.Query(`
		SELECT id, project_id, member, code_score, time_score, peer_score,
			final_score, score_hash, reputation_minted, created_at
		FROM final_scores WHERE project_id = ? ORDER BY final_score DESC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query final scores: %w", err)
	}
	defer rows.Close()

	var scores []*FinalScore
	for rows.Next() {
		s, err := scanFinalScore(rows)
		if err != nil {
			return nil, err
		}
		scores = append(scores, s)
	}
	return scores, rows.Err()
}

// GetFinalScore returns one member's frozen score, or nil
func (r *Repository) GetFinalScore(projectID, member string) (*FinalScore, error) {
	row := r.db.QueryRow(`
		SELECT id, project_id, member, code_score, time_score, peer_score,
			final_score, score_hash, reputation_minted, created_at
		FROM final_scores WHERE project_id = ? AND member = ?
	`, projectID, member)

	s, err := scanFinalScore(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// SetReputationMinted records the minted award amount; mint-once is enforced
// by only updating rows that have no amount yet.
func (r *Repository) SetReputationMinted(projectID, member string, amount uint64) error {
	res, err := r.db.Exec(`
		UPDATE final_scores SET reputation_minted = ?
		WHERE project_id = ? AND member = ? AND reputation_minted IS NULL
	`, amount, projectID, member)
	if err != nil {
		return fmt.Errorf("failed to record minted reputation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("reputation already minted for %s", member)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanFinalScore(row rowScanner) (*FinalScore, error) {
	var s FinalScore
	var minted sql.NullInt64
	err := row.Scan(&s.ID, &s.ProjectID, &s.Member, &s.CodeScore, &s.TimeScore, &s.PeerScore,
		&s.FinalScore, &s.ScoreHash, &minted, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, sql.ErrNoRows
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan final score: %w", err)
	}
	if minted.Valid {
		amount := uint64(minted.Int64)
		s.ReputationMinted = &amount
	}
	return &s, nil
}

// NewActivitySummary builds a summary row with a generated ID
func NewActivitySummary(projectID string) *ActivitySummary {
	return &ActivitySummary{
		ID:         uuid.New().String(),
		ProjectID:  projectID,
		AnalyzedAt: time.Now().UTC(),
	}
}

// NewFinalScore builds a final score row with a generated ID
func NewFinalScore(projectID, member string) *FinalScore {
	return &FinalScore{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		Member:    member,
		CreatedAt: time.Now().UTC(),
	}
}

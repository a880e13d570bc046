package activity

import (
	"context"
	"time"
)

// DefaultWindowDays is the trailing analysis window applied when the caller
// does not pin an explicit range.
const DefaultWindowDays = 90

// FileChange holds the insertion/deletion counts for one file in one commit.
type FileChange struct {
	Path       string `json:"path"`
	Insertions int    `json:"insertions"`
	Deletions  int    `json:"deletions"`
}

// Commit is one raw commit record as supplied by a repository-history
// provider. ParentCount > 1 marks a merge commit.
type Commit struct {
	SHA         string       `json:"sha"`
	AuthorID    string       `json:"author_id"`
	Timestamp   time.Time    `json:"timestamp"`
	Files       []FileChange `json:"files"`
	ParentCount int          `json:"parent_count"`
}

// Insertions returns the total insertions across all files in the commit.
func (c Commit) Insertions() int {
	total := 0
	for _, f := range c.Files {
		total += f.Insertions
	}
	return total
}

// Deletions returns the total deletions across all files in the commit.
func (c Commit) Deletions() int {
	total := 0
	for _, f := range c.Files {
		total += f.Deletions
	}
	return total
}

// AuthorStats is the per-author summary the scorers consume.
type AuthorStats struct {
	AuthorID       string `json:"author_id"`
	Commits        int    `json:"commits"`
	LinesAdded     int    `json:"lines_added"`
	LinesRemoved   int    `json:"lines_removed"`
	FilesModified  int    `json:"files_modified"`
	ActiveDays     int    `json:"active_days"`
	TotalDays      int    `json:"total_days"`
	LastDayCommits int    `json:"last_day_commits"`
}

// HistoryProvider supplies the ordered commit list for a repository within
// [since, until). Implementations surface unreachable sources as recoverable
// collaborator failures; they never return partial data alongside an error.
type HistoryProvider interface {
	Commits(ctx context.Context, repoURL string, since, until time.Time) ([]Commit, error)
}

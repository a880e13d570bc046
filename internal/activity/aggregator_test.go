package activity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return ts
}

func TestAggregate(t *testing.T) {
	since := day(t, "2025-01-01T00:00:00Z")
	until := day(t, "2025-01-31T00:00:00Z")

	commits := []Commit{
		{
			SHA: "a1", AuthorID: "alice", Timestamp: day(t, "2025-01-02T10:00:00Z"),
			Files: []FileChange{{Path: "main.go", Insertions: 100, Deletions: 20}},
		},
		{
			SHA: "a2", AuthorID: "alice", Timestamp: day(t, "2025-01-02T15:00:00Z"),
			Files: []FileChange{{Path: "main.go", Insertions: 30, Deletions: 5}, {Path: "util.go", Insertions: 10, Deletions: 0}},
		},
		{
			SHA: "a3", AuthorID: "alice", Timestamp: day(t, "2025-01-10T09:00:00Z"),
			Files: []FileChange{{Path: "api.go", Insertions: 50, Deletions: 50}},
		},
		{
			SHA: "b1", AuthorID: "bob", Timestamp: day(t, "2025-01-30T12:00:00Z"),
			Files: []FileChange{{Path: "readme.md", Insertions: 5, Deletions: 1}},
		},
	}

	stats := Aggregate(commits, since, until)
	require.Len(t, stats, 2)

	alice := stats["alice"]
	assert.Equal(t, 3, alice.Commits)
	assert.Equal(t, 190, alice.LinesAdded)
	assert.Equal(t, 75, alice.LinesRemoved)
	assert.Equal(t, 3, alice.FilesModified) // main.go counted once
	assert.Equal(t, 2, alice.ActiveDays)
	assert.Equal(t, 30, alice.TotalDays)
	assert.Equal(t, 0, alice.LastDayCommits)

	bob := stats["bob"]
	assert.Equal(t, 1, bob.Commits)
	assert.Equal(t, 1, bob.LastDayCommits) // Jan 30 is the window's final day
}

func TestAggregateExcludesMergeAndNoOpCommits(t *testing.T) {
	since := day(t, "2025-01-01T00:00:00Z")
	until := day(t, "2025-01-11T00:00:00Z")

	commits := []Commit{
		{
			SHA: "m1", AuthorID: "alice", Timestamp: day(t, "2025-01-02T10:00:00Z"),
			ParentCount: 2,
			Files:       []FileChange{{Path: "main.go", Insertions: 500, Deletions: 100}},
		},
		{
			SHA: "w1", AuthorID: "alice", Timestamp: day(t, "2025-01-03T10:00:00Z"),
			Files: []FileChange{{Path: "main.go", Insertions: 0, Deletions: 0}},
		},
		{
			SHA: "r1", AuthorID: "alice", Timestamp: day(t, "2025-01-04T10:00:00Z"),
			Files: []FileChange{{Path: "main.go", Insertions: 1, Deletions: 1}},
		},
	}

	stats := Aggregate(commits, since, until)
	require.Contains(t, stats, "alice")

	alice := stats["alice"]
	assert.Equal(t, 1, alice.Commits, "merge and whitespace commits must not count")
	assert.Equal(t, 1, alice.LinesAdded)
	assert.Equal(t, 1, alice.ActiveDays)
}

func TestAggregateIgnoresCommitsOutsideWindow(t *testing.T) {
	since := day(t, "2025-01-10T00:00:00Z")
	until := day(t, "2025-01-20T00:00:00Z")

	commits := []Commit{
		{SHA: "early", AuthorID: "alice", Timestamp: day(t, "2025-01-09T23:59:59Z"),
			Files: []FileChange{{Path: "a.go", Insertions: 10, Deletions: 0}}},
		{SHA: "in", AuthorID: "alice", Timestamp: day(t, "2025-01-10T00:00:00Z"),
			Files: []FileChange{{Path: "a.go", Insertions: 10, Deletions: 0}}},
		{SHA: "late", AuthorID: "alice", Timestamp: day(t, "2025-01-20T00:00:00Z"),
			Files: []FileChange{{Path: "a.go", Insertions: 10, Deletions: 0}}},
	}

	stats := Aggregate(commits, since, until)
	assert.Equal(t, 1, stats["alice"].Commits)
}

func TestAggregateEmptyInput(t *testing.T) {
	since := day(t, "2025-01-01T00:00:00Z")
	until := day(t, "2025-01-31T00:00:00Z")

	stats := Aggregate(nil, since, until)
	assert.Empty(t, stats)
}

func TestAggregateMissingAuthorFallsBackToUnknown(t *testing.T) {
	since := day(t, "2025-01-01T00:00:00Z")
	until := day(t, "2025-01-31T00:00:00Z")

	commits := []Commit{
		{SHA: "x", Timestamp: day(t, "2025-01-05T00:00:00Z"),
			Files: []FileChange{{Path: "a.go", Insertions: 1, Deletions: 0}}},
	}

	stats := Aggregate(commits, since, until)
	assert.Contains(t, stats, "unknown")
}

func TestWindowDefaults(t *testing.T) {
	until := day(t, "2025-06-01T00:00:00Z")

	since, resolvedUntil := Window(time.Time{}, until)
	assert.Equal(t, until, resolvedUntil)
	assert.Equal(t, until.AddDate(0, 0, -DefaultWindowDays), since)

	// Both zero: trailing window ending now
	since, resolvedUntil = Window(time.Time{}, time.Time{})
	assert.WithinDuration(t, time.Now().UTC(), resolvedUntil, time.Minute)
	assert.Equal(t, DefaultWindowDays, int(resolvedUntil.Sub(since).Hours()/24))
}

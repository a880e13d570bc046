package activity

import "time"

// Aggregate turns a raw commit list into per-author summary statistics for
// the window [since, until). It is a pure transform: no I/O, no shared state,
// safe to run concurrently across projects.
//
// Merge commits and whitespace/no-op commits (zero insertions and deletions)
// are excluded before counting. last_day_commits counts commits on the final
// calendar day of the window, which is where last-minute dumping lands.
func Aggregate(commits []Commit, since, until time.Time) map[string]AuthorStats {
	totalDays := int(until.Sub(since).Hours() / 24)
	if totalDays < 1 {
		totalDays = 1
	}
	lastDay := until.Add(-24 * time.Hour).UTC().Truncate(24 * time.Hour)

	type accum struct {
		commits        int
		linesAdded     int
		linesRemoved   int
		files          map[string]struct{}
		days           map[time.Time]struct{}
		lastDayCommits int
	}

	byAuthor := make(map[string]*accum)

	for _, c := range commits {
		if c.ParentCount > 1 {
			continue
		}
		ins, del := c.Insertions(), c.Deletions()
		if ins == 0 && del == 0 {
			continue
		}
		if c.Timestamp.Before(since) || !c.Timestamp.Before(until) {
			continue
		}

		author := c.AuthorID
		if author == "" {
			author = "unknown"
		}

		a := byAuthor[author]
		if a == nil {
			a = &accum{
				files: make(map[string]struct{}),
				days:  make(map[time.Time]struct{}),
			}
			byAuthor[author] = a
		}

		a.commits++
		a.linesAdded += ins
		a.linesRemoved += del
		for _, f := range c.Files {
			a.files[f.Path] = struct{}{}
		}

		day := c.Timestamp.UTC().Truncate(24 * time.Hour)
		a.days[day] = struct{}{}
		if day.Equal(lastDay) {
			a.lastDayCommits++
		}
	}

	out := make(map[string]AuthorStats, len(byAuthor))
	for author, a := range byAuthor {
		out[author] = AuthorStats{
			AuthorID:       author,
			Commits:        a.commits,
			LinesAdded:     a.linesAdded,
			LinesRemoved:   a.linesRemoved,
			FilesModified:  len(a.files),
			ActiveDays:     len(a.days),
			TotalDays:      totalDays,
			LastDayCommits: a.lastDayCommits,
		}
	}
	return out
}

// Window resolves an analysis range, defaulting to a trailing
// DefaultWindowDays window ending at until (or now when until is zero).
func Window(since, until time.Time) (time.Time, time.Time) {
	if until.IsZero() {
		until = time.Now().UTC()
	}
	if since.IsZero() {
		since = until.AddDate(0, 0, -DefaultWindowDays)
	}
	return since, until
}

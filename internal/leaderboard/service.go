// Package leaderboard builds the per-project dashboard: member standings
// from the latest activity snapshot, vote participation, and the frozen
// results once a project is finalized.
package leaderboard

import (
	"encoding/json"
	"log/slog"
	"sort"
	"time"

	"github.com/trustchain-labs/trustchain/internal/cache"
	"github.com/trustchain-labs/trustchain/internal/database"
	"github.com/trustchain-labs/trustchain/internal/errors"
	"github.com/trustchain-labs/trustchain/internal/monitoring"
	"github.com/trustchain-labs/trustchain/internal/rules"
)

// Standing is one member's row on the dashboard. Before finalization the
// scores are the provisional raw components; after, the frozen results.
type Standing struct {
	Rank           int      `json:"rank"`
	Member         string   `json:"member"`
	Role           string   `json:"role"`
	Commits        int      `json:"commits"`
	LinesAdded     int      `json:"lines_added"`
	LinesRemoved   int      `json:"lines_removed"`
	CodeScore      float64  `json:"code_score"`
	TimeScore      float64  `json:"time_score"`
	PeerScore      *float64 `json:"peer_score,omitempty"`
	FinalScore     *float64 `json:"final_score,omitempty"`
	ScoreHash      string   `json:"score_hash,omitempty"`
	VotesReceived  int      `json:"votes_received"`
	ReputationMint *uint64  `json:"reputation_minted,omitempty"`
}

// Dashboard is the full dashboard response for one project
type Dashboard struct {
	ProjectID   string     `json:"project_id"`
	ProjectName string     `json:"project_name"`
	Status      string     `json:"status"`
	Finalized   bool       `json:"finalized"`
	VotingOpen  bool       `json:"voting_open"`
	Standings   []Standing `json:"standings"`
	TotalVotes  int        `json:"total_votes"`
	GeneratedAt time.Time  `json:"generated_at"`
}

// Service assembles and caches dashboards
type Service struct {
	repo    *database.Repository
	cache   *cache.Cache
	metrics *monitoring.Metrics
}

const dashboardTTL = 30 * time.Second

// NewService creates the dashboard service
func NewService(repo *database.Repository, metrics *monitoring.Metrics) *Service {
	return &Service{
		repo:    repo,
		cache:   cache.New(dashboardTTL),
		metrics: metrics,
	}
}

// Dashboard returns the dashboard for one project, serving from cache when
// fresh. Vote totals may lag by the cache TTL; Invalidate forces a rebuild.
func (s *Service) Dashboard(projectID string) (*Dashboard, error) {
	key := cache.Key("dashboard:" + projectID)
	if data, found := s.cache.Get(key); found {
		var dashboard Dashboard
		if err := json.Unmarshal(data, &dashboard); err == nil {
			s.metrics.IncrementCacheHit()
			return &dashboard, nil
		}
	}
	s.metrics.IncrementCacheMiss()

	dashboard, err := s.build(projectID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(dashboard); err == nil {
		s.cache.Set(key, data)
	} else {
		slog.Error("Failed to cache dashboard", "project_id", projectID, "error", err)
	}
	return dashboard, nil
}

// Invalidate drops a project's cached dashboard
func (s *Service) Invalidate(projectID string) {
	s.cache.Delete(cache.Key("dashboard:" + projectID))
}

// Close releases the cache
func (s *Service) Close() {
	s.cache.Close()
}

func (s *Service) build(projectID string) (*Dashboard, error) {
	project, err := s.repo.GetProject(projectID)
	if err != nil {
		return nil, errors.NewInternalError("failed to load project", err)
	}
	if project == nil {
		return nil, errors.NewNotFoundError("project", projectID)
	}

	members, err := s.repo.ListMembers(projectID)
	if err != nil {
		return nil, errors.NewInternalError("failed to load members", err)
	}
	summaries, err := s.repo.GetActivitySummaries(projectID)
	if err != nil {
		return nil, errors.NewInternalError("failed to load activity", err)
	}
	votesByTarget, err := s.repo.VotesByTarget(projectID)
	if err != nil {
		return nil, errors.NewInternalError("failed to load votes", err)
	}
	totalVotes, err := s.repo.CountVotes(projectID)
	if err != nil {
		return nil, errors.NewInternalError("failed to count votes", err)
	}

	finalized := project.Status == database.StatusFinalized
	var finals map[string]*database.FinalScore
	if finalized {
		scores, err := s.repo.GetFinalScores(projectID)
		if err != nil {
			return nil, errors.NewInternalError("failed to load final scores", err)
		}
		finals = make(map[string]*database.FinalScore, len(scores))
		for _, score := range scores {
			finals[score.Member] = score
		}
	}

	standings := make([]Standing, 0, len(members))
	for _, member := range members {
		standing := Standing{
			Member:        member.Identity,
			Role:          member.Role,
			VotesReceived: len(votesByTarget[member.Identity]),
		}
		if summary, ok := summaries[member.Identity]; ok {
			standing.Commits = summary.Commits
			standing.LinesAdded = summary.LinesAdded
			standing.LinesRemoved = summary.LinesRemoved
			standing.CodeScore = summary.CodeScoreRaw
			standing.TimeScore = summary.TimeScoreRaw
		}
		if final, ok := finals[member.Identity]; ok {
			standing.CodeScore = final.CodeScore
			standing.TimeScore = final.TimeScore
			standing.PeerScore = &final.PeerScore
			standing.FinalScore = &final.FinalScore
			standing.ScoreHash = final.ScoreHash
			standing.ReputationMint = final.ReputationMinted
		}
		standings = append(standings, standing)
	}

	// Frozen results rank by final score; before that, by provisional code
	// score with commits as tiebreak
	sort.SliceStable(standings, func(i, j int) bool {
		if finalized && standings[i].FinalScore != nil && standings[j].FinalScore != nil {
			return *standings[i].FinalScore > *standings[j].FinalScore
		}
		if standings[i].CodeScore != standings[j].CodeScore {
			return standings[i].CodeScore > standings[j].CodeScore
		}
		return standings[i].Commits > standings[j].Commits
	})
	for i := range standings {
		standings[i].Rank = i + 1
	}

	return &Dashboard{
		ProjectID:   project.ID,
		ProjectName: project.Name,
		Status:      project.Status,
		Finalized:   finalized,
		VotingOpen:  rules.Window(time.Now().UTC(), project.DeadlineContribution, project.DeadlineVoting),
		Standings:   standings,
		TotalVotes:  totalVotes,
		GeneratedAt: time.Now().UTC(),
	}, nil
}

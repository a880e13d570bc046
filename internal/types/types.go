package types

import "time"

// CreateProjectRequest is the payload for registering a new project.
// Weights apply to the code, time, and peer-vote components and must sum to 1.
type CreateProjectRequest struct {
	Name                 string    `json:"name" binding:"required"`
	RepoURL              string    `json:"repo_url" binding:"required"`
	Members              []string  `json:"members"`
	WeightCode           float64   `json:"weight_code"`
	WeightTime           float64   `json:"weight_time"`
	WeightVote           float64   `json:"weight_vote"`
	DeadlineContribution time.Time `json:"deadline_contribution" binding:"required"`
	DeadlineVoting       time.Time `json:"deadline_voting" binding:"required"`
}

// VoteRequest is the payload for casting a peer vote. The voter identity
// comes from the authenticated session, never from the body.
type VoteRequest struct {
	Target string `json:"target" binding:"required"`
	Score  int    `json:"score" binding:"required"`
}

// TokenRequest is the payload for exchanging an identity for a session token.
type TokenRequest struct {
	Identity string `json:"identity" binding:"required"`
}

// TokenResponse carries the issued session token.
type TokenResponse struct {
	Token     string    `json:"token"`
	Identity  string    `json:"identity"`
	ExpiresAt time.Time `json:"expires_at"`
}

package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/trustchain-labs/trustchain/internal/adapters"
	"github.com/trustchain-labs/trustchain/internal/config"
	"github.com/trustchain-labs/trustchain/internal/database"
	"github.com/trustchain-labs/trustchain/internal/errors"
	"github.com/trustchain-labs/trustchain/internal/identity"
	"github.com/trustchain-labs/trustchain/internal/leaderboard"
	"github.com/trustchain-labs/trustchain/internal/ledger"
	"github.com/trustchain-labs/trustchain/internal/lifecycle"
	"github.com/trustchain-labs/trustchain/internal/middleware"
	"github.com/trustchain-labs/trustchain/internal/monitoring"
	"github.com/trustchain-labs/trustchain/internal/ratelimit"
	"github.com/trustchain-labs/trustchain/internal/security"
	"github.com/trustchain-labs/trustchain/internal/types"
)

const analyzeTimeout = 5 * time.Minute

// deps bundles everything the router needs so handlers can be exercised in tests.
type deps struct {
	cfg         *config.Config
	lifecycle   *lifecycle.Service
	dashboard   *leaderboard.Service
	tokens      *identity.TokenService
	limiter     *ratelimit.RateLimiter
	metrics     *monitoring.Metrics
	logger      *monitoring.Logger
	compression *middleware.CompressionMiddleware
	redis       *ratelimit.RedisClient
	chain       *ledger.Client
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	appLogger := monitoring.NewLogger(cfg.SlogLevel())
	slog.SetDefault(appLogger.Logger)

	db, err := database.NewDB(cfg.DataDir)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	repo := database.NewRepository(db)

	chain, err := ledger.NewClient(cfg.Ledger.NodeAddress, cfg.Ledger.NodeToken, cfg.Ledger.Mnemonic, cfg.Ledger.ReputationAssetID)
	if err != nil {
		slog.Error("Failed to initialize ledger client", "error", err)
		os.Exit(1)
	}
	if chain.IsEnabled() {
		slog.Info("Ledger anchoring enabled", "node", cfg.Ledger.NodeAddress, "creator", chain.CreatorAddress())
	} else {
		slog.Info("Ledger anchoring disabled, running off-ledger only")
	}

	github := adapters.NewGitHubAdapter(cfg.GitHubToken)
	defer github.Close()

	appMetrics := monitoring.NewMetrics()

	redisClient, err := ratelimit.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		slog.Warn("Redis unavailable, rate limiting falls back to in-process limiters", "error", err)
	}

	limiterConfig := ratelimit.DefaultConfig()
	limiterConfig.IPLimitPerMin = cfg.RateLimit.IPLimitPerMin
	limiterConfig.AnalyzeLimitPerHour = cfg.RateLimit.AnalyzeLimitPerHour
	limiterConfig.VoteLimitPerMin = cfg.RateLimit.VoteLimitPerMin

	d := &deps{
		cfg:         cfg,
		lifecycle:   lifecycle.NewService(repo, github, chain, appMetrics),
		dashboard:   leaderboard.NewService(repo, appMetrics),
		tokens:      identity.NewTokenService(cfg.JWTSecret),
		limiter:     ratelimit.NewRateLimiter(redisClient, limiterConfig, appMetrics),
		metrics:     appMetrics,
		logger:      appLogger,
		compression: middleware.NewCompressionMiddleware(middleware.DefaultCompressionConfig()),
		redis:       redisClient,
		chain:       chain,
	}
	defer d.dashboard.Close()

	r := newRouter(d)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		slog.Info("Starting server", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if redisClient != nil {
		redisClient.Close()
	}

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server exited")
}

func newRouter(d *deps) *gin.Engine {
	r := gin.New()

	r.Use(d.compression.Handler())
	r.Use(monitoring.Middleware(d.metrics, d.logger))
	r.Use(errors.ErrorHandler())
	r.Use(errors.RecoveryHandler())

	sec := security.NewMiddleware(security.Config{
		RequestTimeout: d.cfg.RequestTimeout,
	})
	r.Use(sec.Headers)
	r.Use(sec.RequestTimeout)
	r.Use(sec.ValidateContentType)

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "Authorization")
	if len(d.cfg.CORS.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = d.cfg.CORS.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	r.Use(cors.New(corsConfig))

	r.Use(d.limiter.IPRateLimitMiddleware())

	r.GET("/health", d.handleHealth)

	api := r.Group("/api")
	api.POST("/auth/token", d.handleIssueToken)

	projects := api.Group("/projects")
	projects.GET("/:id", d.handleGetProject)
	projects.GET("/:id/members", d.handleListMembers)
	projects.GET("/:id/scores", d.handleScores)
	projects.GET("/:id/dashboard", d.handleDashboard)
	projects.GET("/:id/verify/:member", d.handleVerifyMember)

	authed := projects.Group("")
	authed.Use(d.tokens.Middleware())
	authed.POST("", d.handleCreateProject)
	authed.POST("/:id/analyze", d.limiter.AnalyzeRateLimitMiddleware(), d.handleAnalyze)
	authed.POST("/:id/vote", d.limiter.VoteRateLimitMiddleware(), d.handleVote)
	authed.POST("/:id/finalize", d.handleFinalize)

	return r
}

func (d *deps) handleHealth(c *gin.Context) {
	health := gin.H{
		"status":      "ok",
		"timestamp":   time.Now().Format(time.RFC3339),
		"metrics":     d.metrics.GetStats(),
		"rate_limits": d.limiter.GetStats(),
		"compression": d.compression.GetStats(),
		"ledger": gin.H{
			"enabled": d.chain.IsEnabled(),
		},
	}

	if d.redis != nil {
		health["redis"] = d.redis.GetPoolStats()
	}

	c.JSON(http.StatusOK, health)
}

// handleIssueToken exchanges a declared identity for a session token.
// Identities are opaque keys; binding them to a real person is the
// deployment's identity provider's job.
func (d *deps) handleIssueToken(c *gin.Context) {
	var req types.TokenRequest
	if err := c.BindJSON(&req); err != nil {
		d.respondError(c, errors.NewValidationError("identity is required"))
		return
	}

	token, expires, err := d.tokens.Issue(req.Identity)
	if err != nil {
		d.respondError(c, errors.NewValidationError(err.Error()))
		return
	}

	c.JSON(http.StatusOK, types.TokenResponse{
		Token:     token,
		Identity:  req.Identity,
		ExpiresAt: expires,
	})
}

func (d *deps) handleCreateProject(c *gin.Context) {
	var req types.CreateProjectRequest
	if err := c.BindJSON(&req); err != nil {
		d.respondError(c, errors.ToAppError(err))
		return
	}

	project, err := d.lifecycle.CreateProject(c.Request.Context(), lifecycle.CreateProjectParams{
		Name:                 req.Name,
		RepoURL:              req.RepoURL,
		Creator:              c.GetString(identity.ContextKey),
		Members:              req.Members,
		WeightCode:           req.WeightCode,
		WeightTime:           req.WeightTime,
		WeightVote:           req.WeightVote,
		DeadlineContribution: req.DeadlineContribution,
		DeadlineVoting:       req.DeadlineVoting,
	})
	if err != nil {
		d.respondError(c, err)
		return
	}

	d.metrics.IncrementProjectCreated()
	c.JSON(http.StatusCreated, project)
}

func (d *deps) handleGetProject(c *gin.Context) {
	projectID := c.Param("id")

	project, err := d.lifecycle.GetProject(projectID)
	if err != nil {
		d.respondError(c, err)
		return
	}

	members, err := d.lifecycle.Members(projectID)
	if err != nil {
		d.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"project": project,
		"members": members,
	})
}

func (d *deps) handleListMembers(c *gin.Context) {
	members, err := d.lifecycle.Members(c.Param("id"))
	if err != nil {
		d.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"members": members})
}

func (d *deps) handleAnalyze(c *gin.Context) {
	projectID := c.Param("id")

	ctx, cancel := context.WithTimeout(c.Request.Context(), analyzeTimeout)
	defer cancel()

	start := time.Now()
	summaries, err := d.lifecycle.Analyze(ctx, projectID)
	if err != nil {
		d.logger.CollaboratorLogger("github", "analyze", time.Since(start), err)
		d.respondError(c, err)
		return
	}

	d.metrics.IncrementAnalysisRun()
	d.metrics.IncrementGitHubCalls()
	d.dashboard.Invalidate(projectID)

	c.JSON(http.StatusOK, gin.H{
		"project_id": projectID,
		"summaries":  summaries,
		"duration":   time.Since(start).String(),
	})
}

func (d *deps) handleVote(c *gin.Context) {
	projectID := c.Param("id")
	voter := c.GetString(identity.ContextKey)

	var req types.VoteRequest
	if err := c.BindJSON(&req); err != nil {
		d.respondError(c, errors.ToAppError(err))
		return
	}

	vote, err := d.lifecycle.SubmitVote(c.Request.Context(), projectID, voter, req.Target, req.Score)
	if err != nil {
		d.metrics.IncrementVoteRejected()
		appErr := errors.ToAppError(err)
		if appErr.Category == errors.CategoryConflict {
			d.logger.RuleRejectionLogger(projectID, "vote", voter, string(appErr.Reason))
		}
		errors.LogError(c, appErr)
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	d.metrics.IncrementVoteRecorded()
	d.dashboard.Invalidate(projectID)
	c.JSON(http.StatusCreated, vote)
}

func (d *deps) handleFinalize(c *gin.Context) {
	projectID := c.Param("id")
	caller := c.GetString(identity.ContextKey)

	scores, alreadyFinalized, err := d.lifecycle.Finalize(c.Request.Context(), projectID, caller)
	if err != nil {
		appErr := errors.ToAppError(err)
		if appErr.Category == errors.CategoryConflict {
			d.logger.RuleRejectionLogger(projectID, "finalize", caller, string(appErr.Reason))
		}
		errors.LogError(c, appErr)
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	status := "finalized"
	if alreadyFinalized {
		status = "already_finalized"
	} else {
		d.metrics.IncrementProjectFinalized()
		d.dashboard.Invalidate(projectID)
	}
	c.JSON(http.StatusOK, gin.H{
		"project_id": projectID,
		"status":     status,
		"scores":     scores,
	})
}

func (d *deps) handleScores(c *gin.Context) {
	projectID := c.Param("id")

	scores, err := d.lifecycle.Scores(projectID)
	if err != nil {
		d.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"project_id": projectID,
		"scores":     scores,
	})
}

func (d *deps) handleDashboard(c *gin.Context) {
	dashboard, err := d.dashboard.Dashboard(c.Param("id"))
	if err != nil {
		d.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dashboard)
}

func (d *deps) handleVerifyMember(c *gin.Context) {
	result, err := d.lifecycle.VerifyMember(c.Request.Context(), c.Param("id"), c.Param("member"))
	if err != nil {
		d.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (d *deps) respondError(c *gin.Context, err error) {
	appErr := errors.ToAppError(err)
	errors.LogError(c, appErr)
	c.JSON(appErr.HTTPStatus, appErr)
}

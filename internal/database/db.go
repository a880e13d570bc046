package database

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DB represents the database connection with pooling
type DB struct {
	*sql.DB
	pool *ConnectionPool
}

// ConnectionPool manages database connection pooling
type ConnectionPool struct {
	db           *sql.DB
	maxOpenConns int
	maxIdleConns int
	maxLifetime  time.Duration
}

// NewConnectionPool creates a new database connection pool
func NewConnectionPool(db *sql.DB, maxOpen, maxIdle int, maxLifetime time.Duration) *ConnectionPool {
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(maxLifetime)

	return &ConnectionPool{
		db:           db,
		maxOpenConns: maxOpen,
		maxIdleConns: maxIdle,
		maxLifetime:  maxLifetime,
	}
}

// GetStats returns connection pool statistics
func (cp *ConnectionPool) GetStats() map[string]interface{} {
	stats := cp.db.Stats()

	return map[string]interface{}{
		"open_connections":     stats.OpenConnections,
		"in_use":               stats.InUse,
		"idle":                 stats.Idle,
		"max_open_connections": cp.maxOpenConns,
		"max_idle_connections": cp.maxIdleConns,
		"wait_count":           stats.WaitCount,
		"wait_duration_ms":     stats.WaitDuration.Milliseconds(),
	}
}

// NewDB creates a new database connection with optimized pooling
func NewDB(dataDir string) (*DB, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "trustchain.db")

	// WAL + foreign keys; busy timeout covers concurrent finalize/vote writers
	connStr := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", dbPath)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	pool := NewConnectionPool(db, 25, 5, 5*time.Minute)

	database := &DB{
		DB:   db,
		pool: pool,
	}

	if err := database.migrate(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	slog.Info("Database initialized with connection pooling",
		"path", dbPath,
		"max_open_conns", pool.maxOpenConns,
		"max_idle_conns", pool.maxIdleConns)

	return database, nil
}

// migrate creates the necessary tables. UNIQUE constraints on votes and
// final_scores are load-bearing: they are the atomic check-and-insert gate
// for concurrent writers on the same project.
func (db *DB) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS projects (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			repo_url TEXT,
			creator TEXT NOT NULL,
			weight_code REAL NOT NULL DEFAULT 0.4,
			weight_time REAL NOT NULL DEFAULT 0.3,
			weight_vote REAL NOT NULL DEFAULT 0.3,
			deadline_contribution DATETIME NOT NULL,
			deadline_voting DATETIME NOT NULL,
			status TEXT NOT NULL DEFAULT 'draft', -- draft | active | voting | finalized
			app_id INTEGER,
			app_address TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS project_members (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			identity TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT 'member', -- owner | member
			created_at DATETIME NOT NULL,
			UNIQUE(project_id, identity),
			FOREIGN KEY (project_id) REFERENCES projects(id) ON DELETE CASCADE
		)`,

		`CREATE TABLE IF NOT EXISTS activity_summaries (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			author TEXT NOT NULL,
			commits INTEGER NOT NULL,
			lines_added INTEGER NOT NULL,
			lines_removed INTEGER NOT NULL,
			files_modified INTEGER NOT NULL,
			active_days INTEGER NOT NULL,
			total_days INTEGER NOT NULL,
			last_day_commits INTEGER NOT NULL,
			code_score_raw REAL NOT NULL,
			time_score_raw REAL NOT NULL,
			analyzed_at DATETIME NOT NULL,
			UNIQUE(project_id, author),
			FOREIGN KEY (project_id) REFERENCES projects(id) ON DELETE CASCADE
		)`,

		`CREATE TABLE IF NOT EXISTS votes (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			voter TEXT NOT NULL,
			target TEXT NOT NULL,
			score INTEGER NOT NULL CHECK(score BETWEEN 1 AND 5),
			created_at DATETIME NOT NULL,
			UNIQUE(project_id, voter, target),
			FOREIGN KEY (project_id) REFERENCES projects(id) ON DELETE CASCADE
		)`,

		`CREATE TABLE IF NOT EXISTS final_scores (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			member TEXT NOT NULL,
			code_score REAL NOT NULL,
			time_score REAL NOT NULL,
			peer_score REAL NOT NULL,
			final_score REAL NOT NULL,
			score_hash TEXT NOT NULL,
			reputation_minted INTEGER,
			created_at DATETIME NOT NULL,
			UNIQUE(project_id, member),
			FOREIGN KEY (project_id) REFERENCES projects(id) ON DELETE CASCADE
		)`,

		// Indexes for performance
		`CREATE INDEX IF NOT EXISTS idx_members_project ON project_members(project_id)`,
		`CREATE INDEX IF NOT EXISTS idx_summaries_project ON activity_summaries(project_id)`,
		`CREATE INDEX IF NOT EXISTS idx_votes_project_target ON votes(project_id, target)`,
		`CREATE INDEX IF NOT EXISTS idx_final_scores_project ON final_scores(project_id, final_score DESC)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute migration: %w", err)
		}
	}

	return nil
}

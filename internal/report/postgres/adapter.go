// Package postgres implements the durable report.Store. Version records
// survive process restart; cache entries do not need to.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq" // Register postgres driver

	"github.com/tally-lab/project-tally/internal/aggregate"
	"github.com/tally-lab/project-tally/internal/report"
)

const connectPingTimeout = 5 * time.Second

// Adapter implements report.Store for PostgreSQL.
type Adapter struct {
	db                 *sql.DB
	stmtAppend         *sql.Stmt
	stmtList           *sql.Stmt
	stmtGet            *sql.Stmt
	stmtLatestByFP     *sql.Stmt
	stmtLatestByUpload *sql.Stmt
}

// NewAdapter opens a connection pool, verifies connectivity and prepares all
// statements. The report_versions table must exist; run migrations first.
func NewAdapter(dsn string, maxOpenConns, maxIdleConns int) (*Adapter, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres database: %w", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(context.Background(), connectPingTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres database: %w", err)
	}

	a := &Adapter{db: db}
	for _, p := range []struct {
		stmt **sql.Stmt
		q    string
		name string
	}{
		{&a.stmtAppend, queryAppendVersion, "appendVersion"},
		{&a.stmtList, queryListVersions, "listVersions"},
		{&a.stmtGet, queryGetVersion, "getVersion"},
		{&a.stmtLatestByFP, queryLatestByFingerprint, "latestByFingerprint"},
		{&a.stmtLatestByUpload, queryLatestByUpload, "latestByUpload"},
	} {
		stmt, err := db.Prepare(p.q)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to prepare %s statement: %w", p.name, err)
		}
		*p.stmt = stmt
	}

	slog.Info("[Postgres] Report version store initialized",
		"max_open_conns", maxOpenConns,
		"max_idle_conns", maxIdleConns)

	return a, nil
}

// DB exposes the underlying pool for migrations and health checks.
func (a *Adapter) DB() *sql.DB {
	return a.db
}

// Close releases prepared statements and the connection pool.
func (a *Adapter) Close() error {
	for _, stmt := range []*sql.Stmt{a.stmtAppend, a.stmtList, a.stmtGet, a.stmtLatestByFP, a.stmtLatestByUpload} {
		if stmt != nil {
			stmt.Close()
		}
	}
	return a.db.Close()
}

// Append persists a version and populates its VersionSeq from the database.
func (a *Adapter) Append(ctx context.Context, v *report.Version) error {
	resultJSON, err := json.Marshal(v.Result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	supersedes := sql.NullString{String: v.SupersedesVersionID, Valid: v.SupersedesVersionID != ""}

	var seq int64
	err = a.stmtAppend.QueryRowContext(ctx,
		v.VersionID,
		v.UploadID,
		v.RequestID,
		v.Fingerprint,
		supersedes,
		resultJSON,
		v.CreatedAt,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("failed to append report version: %w", err)
	}

	v.VersionSeq = seq

	slog.Debug("[Postgres] Appended report version",
		"version_id", v.VersionID,
		"upload_id", v.UploadID,
		"fingerprint", v.Fingerprint,
		"version_seq", seq)
	return nil
}

// ListVersions returns all versions for an upload ordered by version_seq.
func (a *Adapter) ListVersions(ctx context.Context, uploadID string) ([]*report.Version, error) {
	rows, err := a.stmtList.QueryContext(ctx, uploadID)
	if err != nil {
		return nil, fmt.Errorf("failed to query report versions: %w", err)
	}
	defer rows.Close()

	var versions []*report.Version
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate report versions: %w", err)
	}
	return versions, nil
}

// Get returns one version by id, or report.ErrVersionNotFound.
func (a *Adapter) Get(ctx context.Context, versionID string) (*report.Version, error) {
	return a.queryOne(ctx, a.stmtGet, versionID)
}

// LatestByFingerprint returns the newest version for a fingerprint.
func (a *Adapter) LatestByFingerprint(ctx context.Context, fp string) (*report.Version, error) {
	return a.queryOne(ctx, a.stmtLatestByFP, fp)
}

// LatestByUpload returns the newest version for an upload.
func (a *Adapter) LatestByUpload(ctx context.Context, uploadID string) (*report.Version, error) {
	return a.queryOne(ctx, a.stmtLatestByUpload, uploadID)
}

func (a *Adapter) queryOne(ctx context.Context, stmt *sql.Stmt, arg string) (*report.Version, error) {
	row := stmt.QueryRowContext(ctx, arg)
	v, err := scanVersion(row)
	if err == sql.ErrNoRows {
		return nil, report.ErrVersionNotFound
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanVersion(row rowScanner) (*report.Version, error) {
	var (
		v          report.Version
		supersedes sql.NullString
		resultJSON []byte
	)

	err := row.Scan(
		&v.VersionID,
		&v.UploadID,
		&v.RequestID,
		&v.Fingerprint,
		&supersedes,
		&resultJSON,
		&v.CreatedAt,
		&v.VersionSeq,
	)
	if err != nil {
		return nil, err
	}

	if supersedes.Valid {
		v.SupersedesVersionID = supersedes.String
	}

	var result aggregate.ComputationResult
	if err := json.Unmarshal(resultJSON, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal result for version %s: %w", v.VersionID, err)
	}
	v.Result = result

	return &v, nil
}

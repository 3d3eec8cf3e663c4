// Package audit implements the append-only clinical audit trail. Entries
// are hash-chained with SHA-256 and optionally signed with HMAC-SHA256 so
// that tampering with or removing an entry is detectable.
package audit

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/impcg-clinical-engine/internal/domain"
)

// DefaultUserID identifies the device when no authenticated user exists.
const DefaultUserID = "midwife_device_001"

// TimestampLayout is the canonical timestamp form used in hashes.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Entry is one audit record.
type Entry struct {
	Seq        int64            `json:"seq"`
	ID         string           `json:"id"`
	Timestamp  time.Time        `json:"timestamp"`
	UserID     string           `json:"user_id"`
	ActionType domain.AuditKind `json:"action_type"`
	Details    string           `json:"details"`
	PrevHash   string           `json:"prev_hash"`
	Hash       string           `json:"hash"`
	Signature  string           `json:"signature,omitempty"`
}

// ComputeHash returns the hex SHA-256 over the chained entry content.
func ComputeHash(e Entry) string {
	data := strings.Join([]string{
		e.PrevHash,
		e.ID,
		e.Timestamp.UTC().Format(TimestampLayout),
		e.UserID,
		string(e.ActionType),
		e.Details,
	}, "|")
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

func sign(key []byte, hash string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(hash))
	return hex.EncodeToString(mac.Sum(nil))
}

// ErrReadOnly is returned by Append on a trail opened with OpenReadOnly.
var ErrReadOnly = errors.New("audit trail is opened read-only")

// Trail is a SQLite-backed audit trail implementing domain.AuditRecorder.
type Trail struct {
	mu       sync.Mutex
	db       *sql.DB
	userID   string
	key      []byte
	clock    domain.Clock
	ids      domain.IDGenerator
	logger   *logrus.Logger
	lastHash string
	readOnly bool
}

// Option configures a Trail.
type Option func(*Trail)

// WithUserID sets the user recorded on each entry.
func WithUserID(id string) Option {
	return func(t *Trail) {
		if id != "" {
			t.userID = id
		}
	}
}

// WithSigningKey enables HMAC signatures.
func WithSigningKey(key string) Option {
	return func(t *Trail) {
		if key != "" {
			t.key = []byte(key)
		}
	}
}

// WithClock sets the time source.
func WithClock(c domain.Clock) Option {
	return func(t *Trail) { t.clock = c }
}

// WithIDGenerator sets the entry ID source.
func WithIDGenerator(g domain.IDGenerator) Option {
	return func(t *Trail) { t.ids = g }
}

// WithLogger sets a custom logger.
func WithLogger(l *logrus.Logger) Option {
	return func(t *Trail) { t.logger = l }
}

// NewSQLiteTrail opens (or creates) the trail database at dbPath.
func NewSQLiteTrail(dbPath string, opts ...Option) (*Trail, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	t, err := NewTrailFromDB(db, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	return t, nil
}

// OpenReadOnly opens an existing trail for inspection. The schema is left
// untouched, every connection is query-only and Append fails with
// ErrReadOnly, so a running engine keeps sole ownership of the chain head.
func OpenReadOnly(dbPath string, opts ...Option) (*Trail, error) {
	if _, err := os.Stat(dbPath); err != nil {
		return nil, fmt.Errorf("audit trail not found: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA query_only = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set query-only mode: %w", err)
	}

	t := newTrail(db, opts)
	t.readOnly = true
	return t, nil
}

func newTrail(db *sql.DB, opts []Option) *Trail {
	t := &Trail{
		db:     db,
		userID: DefaultUserID,
		clock:  domain.SystemClock{},
		ids:    domain.UUIDGenerator{},
		logger: logrus.New(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// NewTrailFromDB wraps an open database, creating the schema and restoring
// the chain head.
func NewTrailFromDB(db *sql.DB, opts ...Option) (*Trail, error) {
	t := newTrail(db, opts)

	if err := createSchema(db); err != nil {
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	err := db.QueryRow("SELECT hash FROM audit_log ORDER BY seq DESC LIMIT 1").Scan(&t.lastHash)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to read chain head: %w", err)
	}

	return t, nil
}

func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS audit_log (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		timestamp TEXT NOT NULL,
		user_id TEXT NOT NULL,
		action_type TEXT NOT NULL,
		details TEXT NOT NULL,
		prev_hash TEXT NOT NULL,
		hash TEXT NOT NULL,
		signature TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_audit_action_type ON audit_log(action_type);
	`

	_, err := db.Exec(schema)
	return err
}

// Record implements domain.AuditRecorder. Failures are logged and never
// returned, so clinical state changes are not blocked by the trail.
func (t *Trail) Record(ctx context.Context, kind domain.AuditKind, details string, subjectID string) {
	entry, err := t.Append(ctx, kind, details, subjectID)
	if err != nil {
		t.logger.WithFields(logrus.Fields{
			"action_type": kind,
			"error":       err,
		}).Warn("Failed to write audit entry")
		return
	}

	t.logger.WithFields(logrus.Fields{
		"audit_id":    entry.ID,
		"action_type": entry.ActionType,
		"details":     entry.Details,
	}).Info("Audit entry recorded")
}

// Append writes one entry and returns it. A non-empty subjectID is prefixed
// to the details as "[PatientID: <id>] ".
func (t *Trail) Append(ctx context.Context, kind domain.AuditKind, details string, subjectID string) (Entry, error) {
	if t.readOnly {
		return Entry{}, ErrReadOnly
	}
	if subjectID != "" {
		details = fmt.Sprintf("[PatientID: %s] %s", subjectID, details)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	e := Entry{
		ID:         t.ids.NewID(),
		Timestamp:  t.clock.Now().UTC().Truncate(time.Millisecond),
		UserID:     t.userID,
		ActionType: kind,
		Details:    details,
		PrevHash:   t.lastHash,
	}
	e.Hash = ComputeHash(e)
	if t.key != nil {
		e.Signature = sign(t.key, e.Hash)
	}

	res, err := t.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, timestamp, user_id, action_type, details, prev_hash, hash, signature)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Timestamp.Format(TimestampLayout), e.UserID, string(e.ActionType), e.Details, e.PrevHash, e.Hash, e.Signature,
	)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to insert audit entry: %w", err)
	}
	if seq, err := res.LastInsertId(); err == nil {
		e.Seq = seq
	}

	t.lastHash = e.Hash
	return e, nil
}

// Entries returns the most recent limit entries, oldest first. A limit <= 0
// returns all of them.
func (t *Trail) Entries(ctx context.Context, limit int) ([]Entry, error) {
	query := `SELECT seq, id, timestamp, user_id, action_type, details, prev_hash, hash, signature
		FROM audit_log ORDER BY seq ASC`
	args := []interface{}{}
	if limit > 0 {
		query = `SELECT seq, id, timestamp, user_id, action_type, details, prev_hash, hash, signature
		FROM (SELECT * FROM audit_log ORDER BY seq DESC LIMIT ?) ORDER BY seq ASC`
		args = append(args, limit)
	}

	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var ts, action string
		if err := rows.Scan(&e.Seq, &e.ID, &ts, &e.UserID, &action, &e.Details, &e.PrevHash, &e.Hash, &e.Signature); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		parsed, err := time.Parse(TimestampLayout, ts)
		if err != nil {
			return nil, fmt.Errorf("invalid timestamp on audit entry %s: %w", e.ID, err)
		}
		e.Timestamp = parsed.UTC()
		e.ActionType = domain.AuditKind(action)
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// VerifyReport summarises an integrity check.
type VerifyReport struct {
	Checked  int    `json:"checked"`
	Valid    bool   `json:"valid"`
	BrokenAt string `json:"broken_at,omitempty"` // ID of the first bad entry
	Reason   string `json:"reason,omitempty"`
}

// Verify recomputes every hash, checks each link to its predecessor and,
// when a signing key is configured, every signature.
func (t *Trail) Verify(ctx context.Context) (VerifyReport, error) {
	entries, err := t.Entries(ctx, 0)
	if err != nil {
		return VerifyReport{}, err
	}
	return VerifyEntries(entries, t.key), nil
}

// VerifyEntries checks a sequence of entries in order.
func VerifyEntries(entries []Entry, key []byte) VerifyReport {
	prev := ""
	for i, e := range entries {
		report := VerifyReport{Checked: i + 1}
		switch {
		case e.PrevHash != prev:
			report.BrokenAt, report.Reason = e.ID, "chain link mismatch"
		case ComputeHash(e) != e.Hash:
			report.BrokenAt, report.Reason = e.ID, "content hash mismatch"
		case key != nil && !hmac.Equal([]byte(sign(key, e.Hash)), []byte(e.Signature)):
			report.BrokenAt, report.Reason = e.ID, "signature mismatch"
		}
		if report.BrokenAt != "" {
			return report
		}
		prev = e.Hash
	}
	return VerifyReport{Checked: len(entries), Valid: true}
}

// Close closes the database connection.
func (t *Trail) Close() error {
	return t.db.Close()
}

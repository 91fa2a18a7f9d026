package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	apierr "github.com/victorgomez09/jobguard/internal/auth"
	"github.com/victorgomez09/jobguard/internal/auth/models"
)

// Schema for the credential store and the durable security event log.
const schema = `
CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,                          -- Random UUID.
    email TEXT NOT NULL UNIQUE COLLATE NOCASE,    -- Login identity, compared case-insensitively.
    password_hash TEXT NOT NULL,                  -- Hex PBKDF2-SHA256 digest.
    password_salt TEXT NOT NULL,                  -- Hex salt, unique per credential.
    role TEXT NOT NULL,                           -- admin or user.
    active INTEGER NOT NULL DEFAULT 1,            -- Soft disable flag.
    first_name TEXT NOT NULL DEFAULT '',
    last_name TEXT NOT NULL DEFAULT '',
    company TEXT NOT NULL DEFAULT '',
    phone TEXT NOT NULL DEFAULT '',
    last_login_at DATETIME,                       -- Last successful login.
    last_login_ip TEXT NOT NULL DEFAULT '',       -- Address of the last successful login.
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL,
    password_changed_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS password_history (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id TEXT NOT NULL,
    password_hash TEXT NOT NULL,
    password_salt TEXT NOT NULL,
    created_at DATETIME NOT NULL,
    FOREIGN KEY (user_id) REFERENCES users (id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS security_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    ts_unix INTEGER NOT NULL,                     -- Event time in unix nanoseconds, used for ordering and retention.
    event_type TEXT NOT NULL,
    severity TEXT NOT NULL,
    user_id TEXT NOT NULL DEFAULT '',
    ip_address TEXT NOT NULL DEFAULT '',
    details TEXT NOT NULL DEFAULT '{}'            -- JSON object.
);

CREATE INDEX IF NOT EXISTS idx_password_history_user_id ON password_history(user_id);
CREATE INDEX IF NOT EXISTS idx_security_events_ts ON security_events(ts_unix);
CREATE INDEX IF NOT EXISTS idx_security_events_user_id ON security_events(user_id);
`

// PasswordRecord is a previous credential kept to prevent reuse.
type PasswordRecord struct {
	Hash string
	Salt string
}

type SQLiteDB struct {
	db *sql.DB
}

// NewSQLiteDB opens the database at dbPath and applies the schema.
// ":memory:" is accepted and pinned to a single connection.
func NewSQLiteDB(dbPath string) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	if dbPath == ":memory:" {
		// every pooled connection would get its own empty database
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLiteDB{db: db}, nil
}

func (s *SQLiteDB) Close() error {
	return s.db.Close()
}

// Ping reports whether the database answers.
func (s *SQLiteDB) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const userColumns = `id, email, password_hash, password_salt, role, active,
    first_name, last_name, company, phone, last_login_at, last_login_ip,
    created_at, updated_at, password_changed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	var (
		user      models.User
		lastLogin sql.NullTime
	)
	err := row.Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.PasswordSalt, &user.Role, &user.Active,
		&user.FirstName, &user.LastName, &user.Company, &user.Phone, &lastLogin, &user.LastLoginIP,
		&user.CreatedAt, &user.UpdatedAt, &user.PasswordChangedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierr.ErrUserNotFound
		}
		return nil, err
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		user.LastLoginAt = &t
	}
	return &user, nil
}

// CreateUser inserts a new user. A duplicate email yields apierr.ErrEmailTaken.
func (s *SQLiteDB) CreateUser(ctx context.Context, user *models.User) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO users (
            id, email, password_hash, password_salt, role, active,
            first_name, last_name, company, phone,
            created_at, updated_at, password_changed_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `, user.ID, user.Email, user.PasswordHash, user.PasswordSalt, user.Role, user.Active,
		user.FirstName, user.LastName, user.Company, user.Phone,
		user.CreatedAt.UTC(), user.UpdatedAt.UTC(), user.PasswordChangedAt.UTC())
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return apierr.ErrEmailTaken
	}
	return err
}

// GetUserByEmail looks a user up by email, ignoring case.
func (s *SQLiteDB) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ?`, email))
}

// GetUserByID retrieves a user by their ID.
func (s *SQLiteDB) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id))
}

// ListUsers returns users ordered by creation time.
func (s *SQLiteDB) ListUsers(ctx context.Context, limit, offset int) ([]models.User, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY created_at, email LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// UpdateProfile writes the profile fields of user.
func (s *SQLiteDB) UpdateProfile(ctx context.Context, user *models.User) error {
	return s.execOne(ctx, `
        UPDATE users SET
            first_name = ?, last_name = ?, company = ?, phone = ?, updated_at = ?
        WHERE id = ?
    `, user.FirstName, user.LastName, user.Company, user.Phone, user.UpdatedAt.UTC(), user.ID)
}

// RecordLogin stamps a successful login.
func (s *SQLiteDB) RecordLogin(ctx context.Context, userID string, at time.Time, ip string) error {
	return s.execOne(ctx,
		`UPDATE users SET last_login_at = ?, last_login_ip = ? WHERE id = ?`,
		at.UTC(), ip, userID)
}

// SetActive enables or disables a user.
func (s *SQLiteDB) SetActive(ctx context.Context, userID string, active bool, at time.Time) error {
	return s.execOne(ctx,
		`UPDATE users SET active = ?, updated_at = ? WHERE id = ?`,
		active, at.UTC(), userID)
}

// SetRole changes the role of a user.
func (s *SQLiteDB) SetRole(ctx context.Context, userID string, role models.Role, at time.Time) error {
	return s.execOne(ctx,
		`UPDATE users SET role = ?, updated_at = ? WHERE id = ?`,
		role, at.UTC(), userID)
}

// UpdatePassword stores the new credential of user, moves the previous one
// into the history and keeps only the latest keep history entries.
func (s *SQLiteDB) UpdatePassword(ctx context.Context, user *models.User, previous PasswordRecord, keep int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
        UPDATE users SET
            password_hash = ?, password_salt = ?, password_changed_at = ?, updated_at = ?
        WHERE id = ?
    `, user.PasswordHash, user.PasswordSalt, user.PasswordChangedAt.UTC(), user.UpdatedAt.UTC(), user.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apierr.ErrUserNotFound
	}

	if keep > 0 {
		if _, err := tx.ExecContext(ctx, `
            INSERT INTO password_history (user_id, password_hash, password_salt, created_at)
            VALUES (?, ?, ?, ?)
        `, user.ID, previous.Hash, previous.Salt, user.PasswordChangedAt.UTC()); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
            DELETE FROM password_history
            WHERE user_id = ?
            AND id NOT IN (
                SELECT id FROM password_history
                WHERE user_id = ?
                ORDER BY id DESC
                LIMIT ?
            )
        `, user.ID, user.ID, keep); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetPasswordHistory returns up to limit previous credentials, newest first.
func (s *SQLiteDB) GetPasswordHistory(ctx context.Context, userID string, limit int) ([]PasswordRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT password_hash, password_salt
        FROM password_history
        WHERE user_id = ?
        ORDER BY id DESC
        LIMIT ?
    `, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []PasswordRecord
	for rows.Next() {
		var r PasswordRecord
		if err := rows.Scan(&r.Hash, &r.Salt); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *SQLiteDB) execOne(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apierr.ErrUserNotFound
	}
	return nil
}

// Append stores a security event. It implements store.AuditStore.
func (s *SQLiteDB) Append(ctx context.Context, event models.AuditEvent) error {
	details := []byte("{}")
	if len(event.Details) > 0 {
		var err error
		if details, err = json.Marshal(event.Details); err != nil {
			return fmt.Errorf("encode event details: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx, `
        INSERT INTO security_events (ts_unix, event_type, severity, user_id, ip_address, details)
        VALUES (?, ?, ?, ?, ?, ?)
    `, event.Timestamp.UnixNano(), event.EventType, event.Severity, event.UserID, event.SourceAddress, string(details))
	return err
}

// Recent returns up to limit events, newest first.
func (s *SQLiteDB) Recent(ctx context.Context, limit int) ([]models.AuditEvent, error) {
	if limit <= 0 {
		limit = -1 // no limit
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT ts_unix, event_type, severity, user_id, ip_address, details
        FROM security_events
        ORDER BY ts_unix DESC, id DESC
        LIMIT ?
    `, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []models.AuditEvent
	for rows.Next() {
		var (
			ev      models.AuditEvent
			ts      int64
			details string
		)
		if err := rows.Scan(&ts, &ev.EventType, &ev.Severity, &ev.UserID, &ev.SourceAddress, &details); err != nil {
			return nil, err
		}
		ev.Timestamp = time.Unix(0, ts).UTC()
		if details != "" && details != "{}" {
			if err := json.Unmarshal([]byte(details), &ev.Details); err != nil {
				return nil, fmt.Errorf("decode event details: %w", err)
			}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// PurgeEvents deletes events older than before and returns how many were removed.
func (s *SQLiteDB) PurgeEvents(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM security_events WHERE ts_unix < ?`, before.UnixNano())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

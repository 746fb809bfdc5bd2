package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS users (
    id                  TEXT PRIMARY KEY,
    email               TEXT NOT NULL,
    username            TEXT NOT NULL,
    password_hash       TEXT NOT NULL,
    first_name          TEXT NOT NULL,
    last_name           TEXT NOT NULL,
    profile_picture_url TEXT,
    country             TEXT,
    created_at          INTEGER NOT NULL,
    updated_at          INTEGER NOT NULL,
    CONSTRAINT users_email_key UNIQUE (email),
    CONSTRAINT users_username_key UNIQUE (username)
);
CREATE INDEX IF NOT EXISTS users_created_at_idx ON users (created_at DESC);
`

// SQLiteRepository stores users in a single SQLite file.
type SQLiteRepository struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and applies the schema.
// Use ":memory:" for a throwaway database.
func OpenSQLite(path string) (*SQLiteRepository, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	dsn := path
	if path != ":memory:" {
		dsn = filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if path == ":memory:" {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &SQLiteRepository{db: db}, nil
}

// Close releases the underlying database handle.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

// Ping checks that the database file is still usable.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Create inserts a new user record.
func (r *SQLiteRepository) Create(ctx context.Context, u *User) error {
	q := `
		INSERT INTO users (` + userColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, q,
		u.ID.String(), u.Email, u.Username, u.PasswordHash, u.FirstName, u.LastName,
		u.ProfilePictureURL, u.Country, toMillis(u.CreatedAt), toMillis(u.UpdatedAt),
	)
	if err != nil {
		if dup := sqliteUniqueViolation(err); dup != nil {
			return dup
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// Update overwrites the mutable columns of an existing user, guarded by the
// previously read updated_at.
func (r *SQLiteRepository) Update(ctx context.Context, u *User, prevUpdatedAt time.Time) error {
	q := `
		UPDATE users
		SET email = ?, username = ?, password_hash = ?, first_name = ?, last_name = ?,
		    profile_picture_url = ?, country = ?, updated_at = ?
		WHERE id = ? AND updated_at = ?`
	res, err := r.db.ExecContext(ctx, q,
		u.Email, u.Username, u.PasswordHash, u.FirstName, u.LastName,
		u.ProfilePictureURL, u.Country, toMillis(u.UpdatedAt), u.ID.String(), toMillis(prevUpdatedAt),
	)
	if err != nil {
		if dup := sqliteUniqueViolation(err); dup != nil {
			return dup
		}
		return fmt.Errorf("update user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if n == 0 {
		var exists bool
		if err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id = ?)`, u.ID.String()).Scan(&exists); err != nil {
			return fmt.Errorf("update user: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrStale
	}
	return nil
}

// GetByID retrieves a user by ID.
func (r *SQLiteRepository) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return r.scanOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id.String())
}

// GetByEmail retrieves a user by (already normalized) email.
func (r *SQLiteRepository) GetByEmail(ctx context.Context, email string) (*User, error) {
	return r.scanOne(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email)
}

// GetByUsername retrieves a user by exact username.
func (r *SQLiteRepository) GetByUsername(ctx context.Context, username string) (*User, error) {
	return r.scanOne(ctx, `SELECT `+userColumns+` FROM users WHERE username = ?`, username)
}

// ListRecent returns up to limit users, newest first.
func (r *SQLiteRepository) ListRecent(ctx context.Context, limit int) ([]*User, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var out []*User
	for rows.Next() {
		u, err := scanSQLiteUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) scanOne(ctx context.Context, q string, args ...any) (*User, error) {
	u, err := scanSQLiteUser(r.db.QueryRowContext(ctx, q, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return u, err
}

func scanSQLiteUser(row rowScanner) (*User, error) {
	var (
		u                  User
		id                 string
		created, updated   int64
		picture, countryNS sql.NullString
	)
	if err := row.Scan(
		&id, &u.Email, &u.Username, &u.PasswordHash, &u.FirstName, &u.LastName,
		&picture, &countryNS, &created, &updated,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("scan user id %q: %w", id, err)
	}
	u.ID = parsed
	if picture.Valid {
		u.ProfilePictureURL = &picture.String
	}
	if countryNS.Valid {
		u.Country = &countryNS.String
	}
	u.CreatedAt = fromMillis(created)
	u.UpdatedAt = fromMillis(updated)
	return &u, nil
}

func sqliteUniqueViolation(err error) error {
	var sqliteErr *msqlite.Error
	unique := errors.As(err, &sqliteErr) && sqliteErr.Code() == sqlite3lib.SQLITE_CONSTRAINT_UNIQUE
	message := strings.ToLower(err.Error())
	if !unique && !strings.Contains(message, "unique constraint failed") {
		return nil
	}
	if strings.Contains(message, "users.email") {
		return ErrDuplicateEmail
	}
	return ErrDuplicateUsername
}

// toMillis normalizes timestamps into millisecond precision for storage.
func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

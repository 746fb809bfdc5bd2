package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a user lookup finds no matching record.
var ErrNotFound = errors.New("user not found")

// ErrConflict is the parent of both uniqueness errors.
var ErrConflict = errors.New("user already exists")

// ErrDuplicateEmail is returned when a write uses an already-registered email.
var ErrDuplicateEmail = fmt.Errorf("%w: email already registered", ErrConflict)

// ErrDuplicateUsername is returned when a write uses an already-taken username.
var ErrDuplicateUsername = fmt.Errorf("%w: username already taken", ErrConflict)

// ErrStale is returned by Update when the stored updated_at no longer matches
// the value the caller read, meaning another write landed in between.
var ErrStale = errors.New("user record was modified concurrently")

// Repository is the storage contract for user records. Implementations must
// enforce email and username uniqueness atomically at write time.
type Repository interface {
	Create(ctx context.Context, u *User) error
	// Update writes u only if the stored updated_at still equals prevUpdatedAt.
	Update(ctx context.Context, u *User, prevUpdatedAt time.Time) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	ListRecent(ctx context.Context, limit int) ([]*User, error)
	Ping(ctx context.Context) error
}

const (
	pgUniqueViolation = "23505"

	emailConstraint    = "users_email_key"
	usernameConstraint = "users_username_key"

	userColumns = `id, email, username, password_hash, first_name, last_name,
		profile_picture_url, country, created_at, updated_at`
)

// PostgresRepository stores users in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Ping checks the pool can reach Postgres.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

// Create inserts a new user record. ID and timestamps must already be set.
func (r *PostgresRepository) Create(ctx context.Context, u *User) error {
	q := `
		INSERT INTO users (` + userColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := r.db.Exec(ctx, q,
		u.ID, u.Email, u.Username, u.PasswordHash, u.FirstName, u.LastName,
		u.ProfilePictureURL, u.Country, u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		if dup := uniqueViolation(err); dup != nil {
			return dup
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// Update overwrites the mutable columns of an existing user, guarded by the
// previously read updated_at.
func (r *PostgresRepository) Update(ctx context.Context, u *User, prevUpdatedAt time.Time) error {
	q := `
		UPDATE users
		SET email = $2, username = $3, password_hash = $4, first_name = $5, last_name = $6,
		    profile_picture_url = $7, country = $8, updated_at = $9
		WHERE id = $1 AND updated_at = $10`
	tag, err := r.db.Exec(ctx, q,
		u.ID, u.Email, u.Username, u.PasswordHash, u.FirstName, u.LastName,
		u.ProfilePictureURL, u.Country, u.UpdatedAt, prevUpdatedAt,
	)
	if err != nil {
		if dup := uniqueViolation(err); dup != nil {
			return dup
		}
		return fmt.Errorf("update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, u.ID).Scan(&exists); err != nil {
			return fmt.Errorf("update user: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrStale
	}
	return nil
}

// GetByID retrieves a user by their internal UUID.
func (r *PostgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return r.scanOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

// GetByEmail retrieves a user by their (already normalized) email address.
func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*User, error) {
	return r.scanOne(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
}

// GetByUsername retrieves a user by exact username.
func (r *PostgresRepository) GetByUsername(ctx context.Context, username string) (*User, error) {
	return r.scanOne(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username)
}

// ListRecent returns up to limit users, newest first.
func (r *PostgresRepository) ListRecent(ctx context.Context, limit int) ([]*User, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY created_at DESC, id LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var out []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) scanOne(ctx context.Context, q string, args ...any) (*User, error) {
	rows, err := r.db.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}

	u, err := scanUser(rows)
	if err != nil {
		return nil, err
	}
	return u, rows.Err()
}

// rowScanner is satisfied by pgx.Rows and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	var u User
	if err := row.Scan(
		&u.ID, &u.Email, &u.Username, &u.PasswordHash, &u.FirstName, &u.LastName,
		&u.ProfilePictureURL, &u.Country, &u.CreatedAt, &u.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	return &u, nil
}

func uniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgUniqueViolation {
		return nil
	}
	if pgErr.ConstraintName == emailConstraint {
		return ErrDuplicateEmail
	}
	return ErrDuplicateUsername
}

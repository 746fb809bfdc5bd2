package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100

	maxUpdateAttempts = 5
)

// BeforeSaveFunc runs after validation and before every Create or Update.
// Returning an error aborts the write. It is where a credential-hashing
// collaborator plugs in.
type BeforeSaveFunc func(ctx context.Context, u *User) error

// Service implements the identity-record rules on top of a Repository.
type Service struct {
	repo       Repository
	beforeSave BeforeSaveFunc
	now        func() time.Time
	logger     *zap.Logger
}

// NewService creates a new Service.
func NewService(repo Repository, logger *zap.Logger) *Service {
	return &Service{repo: repo, now: time.Now, logger: logger}
}

// SetBeforeSave installs the pre-persistence hook. nil disables it.
func (s *Service) SetBeforeSave(fn BeforeSaveFunc) {
	s.beforeSave = fn
}

// SetClock overrides the time source used for created_at/updated_at.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Register validates and persists a new record. The record is either stored
// with every field valid or not stored at all.
func (s *Service) Register(ctx context.Context, nu NewUser) (*User, error) {
	u := &User{
		Email:             nu.Email,
		Username:          nu.Username,
		PasswordHash:      nu.PasswordHash,
		FirstName:         nu.FirstName,
		LastName:          nu.LastName,
		ProfilePictureURL: cloneString(nu.ProfilePictureURL),
		Country:           cloneString(nu.Country),
	}
	normalize(u)
	if err := Validate(u); err != nil {
		return nil, err
	}
	if err := s.runBeforeSave(ctx, u); err != nil {
		return nil, err
	}

	now := s.timestamp()
	u.ID = uuid.New()
	u.CreatedAt = now
	u.UpdatedAt = now

	if err := s.repo.Create(ctx, u); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.logger.Info("user registered",
		zap.String("user_id", u.ID.String()),
		zap.String("username", u.Username),
	)
	return u, nil
}

// UpdateProfile applies upd to the stored record, re-validates the whole
// record and persists it with an advanced updated_at. The write is
// conditional on the updated_at that was read; if another write landed in
// between, the record is re-read and upd re-applied.
func (s *Service) UpdateProfile(ctx context.Context, id uuid.UUID, upd ProfileUpdate) (*User, error) {
	for attempt := 1; ; attempt++ {
		u, err := s.updateOnce(ctx, id, upd)
		if !errors.Is(err, ErrStale) {
			return u, err
		}
		if attempt == maxUpdateAttempts {
			s.logger.Warn("profile update kept losing races",
				zap.String("user_id", id.String()),
				zap.Int("attempts", attempt),
			)
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
}

func (s *Service) updateOnce(ctx context.Context, id uuid.UUID, upd ProfileUpdate) (*User, error) {
	u, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if upd.IsEmpty() {
		return u, nil
	}
	prevUpdatedAt := u.UpdatedAt

	applyUpdate(u, upd)
	normalize(u)
	if err := Validate(u); err != nil {
		return nil, err
	}
	if err := s.runBeforeSave(ctx, u); err != nil {
		return nil, err
	}

	// updated_at strictly increases so it can serve as the write guard.
	now := s.timestamp()
	if !now.After(prevUpdatedAt) {
		now = prevUpdatedAt.Add(time.Millisecond)
	}
	u.UpdatedAt = now

	if err := s.repo.Update(ctx, u, prevUpdatedAt); err != nil {
		if errors.Is(err, ErrConflict) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrStale) {
			return nil, err
		}
		return nil, fmt.Errorf("update user: %w", err)
	}

	s.logger.Info("user profile updated", zap.String("user_id", u.ID.String()))
	return u, nil
}

// FindByEmail looks a user up by email using the same normalization as
// writes, so "John.Doe@Example.com" finds "john.doe@example.com".
func (s *Service) FindByEmail(ctx context.Context, email string) (*User, error) {
	return s.repo.GetByEmail(ctx, NormalizeEmail(email))
}

// FindByUsername looks a user up by exact username.
func (s *Service) FindByUsername(ctx context.Context, username string) (*User, error) {
	return s.repo.GetByUsername(ctx, username)
}

// GetByID retrieves a user by ID.
func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.repo.GetByID(ctx, id)
}

// ListRecent returns the newest users. limit is clamped to [1, 100]; zero
// or negative means the default of 20.
func (s *Service) ListRecent(ctx context.Context, limit int) ([]*User, error) {
	switch {
	case limit <= 0:
		limit = defaultListLimit
	case limit > maxListLimit:
		limit = maxListLimit
	}
	return s.repo.ListRecent(ctx, limit)
}

func (s *Service) runBeforeSave(ctx context.Context, u *User) error {
	if s.beforeSave == nil {
		return nil
	}
	if err := s.beforeSave(ctx, u); err != nil {
		return fmt.Errorf("before save: %w", err)
	}
	return nil
}

// timestamp truncates to milliseconds, the coarsest precision of any store.
func (s *Service) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

func applyUpdate(u *User, upd ProfileUpdate) {
	if upd.Email != nil {
		u.Email = *upd.Email
	}
	if upd.Username != nil {
		u.Username = *upd.Username
	}
	if upd.FirstName != nil {
		u.FirstName = *upd.FirstName
	}
	if upd.LastName != nil {
		u.LastName = *upd.LastName
	}
	if upd.ProfilePictureURL != nil {
		u.ProfilePictureURL = cloneString(upd.ProfilePictureURL)
	}
	if upd.Country != nil {
		u.Country = cloneString(upd.Country)
	}
}

package users_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmerrifield20/authgate/internal/users"
	"go.uber.org/zap"
)

// ── Stub repo ─────────────────────────────────────────────────────────────

// failingRepo wraps a MemoryRepository and counts writes, optionally failing them.
type failingRepo struct {
	*users.MemoryRepository
	mu        sync.Mutex
	writes    int
	createErr error

	// beforeUpdate, when set, runs once ahead of the next Update.
	beforeUpdate func()
}

func (r *failingRepo) Create(ctx context.Context, u *users.User) error {
	r.mu.Lock()
	r.writes++
	r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	return r.MemoryRepository.Create(ctx, u)
}

func (r *failingRepo) Update(ctx context.Context, u *users.User, prevUpdatedAt time.Time) error {
	r.mu.Lock()
	r.writes++
	hook := r.beforeUpdate
	r.beforeUpdate = nil
	r.mu.Unlock()
	if hook != nil {
		hook()
	}
	return r.MemoryRepository.Update(ctx, u, prevUpdatedAt)
}

func newTestService(t *testing.T) (*users.Service, *failingRepo) {
	t.Helper()
	repo := &failingRepo{MemoryRepository: users.NewMemoryRepository()}
	return users.NewService(repo, zap.NewNop()), repo
}

func strPtr(s string) *string { return &s }

func johnDoe() users.NewUser {
	return users.NewUser{
		Email:        "John.Doe@Example.com",
		Username:     "valid_user1",
		PasswordHash: "opaque-hash",
		FirstName:    " John ",
		LastName:     "Doe",
		Country:      strPtr(" Ireland "),
	}
}

// ── Tests ─────────────────────────────────────────────────────────────────

func TestRegister_normalizesAndPersists(t *testing.T) {
	svc, _ := newTestService(t)

	u, err := svc.Register(context.Background(), johnDoe())
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if u.Email != "john.doe@example.com" {
		t.Errorf("email = %q, want lowercased", u.Email)
	}
	if u.FirstName != "John" || *u.Country != "Ireland" {
		t.Errorf("fields not trimmed: %+v", u)
	}
	if u.ID == uuid.Nil {
		t.Error("expected ID to be assigned")
	}
	if u.CreatedAt.IsZero() || !u.UpdatedAt.Equal(u.CreatedAt) {
		t.Errorf("timestamps: created=%v updated=%v", u.CreatedAt, u.UpdatedAt)
	}
}

func TestRegister_roundTripViaFindByEmail(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.Register(ctx, johnDoe())
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	got, err := svc.FindByEmail(ctx, "JOHN.DOE@EXAMPLE.COM")
	if err != nil {
		t.Fatalf("FindByEmail: %v", err)
	}
	a, _ := json.Marshal(created.Public())
	b, _ := json.Marshal(got.Public())
	if string(a) != string(b) || got.PasswordHash != created.PasswordHash {
		t.Fatalf("round trip mismatch:\n  created %s\n  got     %s", a, b)
	}
}

func TestRegister_rejectsWholeRecordOnValidationFailure(t *testing.T) {
	svc, repo := newTestService(t)

	nu := johnDoe()
	nu.Username = "bad username!"
	nu.ProfilePictureURL = strPtr("https://example.com/avatar.bmp")

	_, err := svc.Register(context.Background(), nu)
	var verr *users.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	if _, ok := verr.Fields[users.FieldUsername]; !ok {
		t.Error("expected username failure")
	}
	if _, ok := verr.Fields[users.FieldProfilePictureURL]; !ok {
		t.Error("expected profile_picture_url failure")
	}
	if repo.writes != 0 {
		t.Fatalf("repository written %d times, want 0", repo.writes)
	}
}

func TestRegister_duplicateEmailIsCaseInsensitive(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, johnDoe()); err != nil {
		t.Fatalf("first Register: %v", err)
	}

	dup := johnDoe()
	dup.Email = "JOHN.doe@example.COM"
	dup.Username = "another_user"
	_, err := svc.Register(ctx, dup)
	if !errors.Is(err, users.ErrDuplicateEmail) {
		t.Fatalf("expected ErrDuplicateEmail, got %v", err)
	}
	if !errors.Is(err, users.ErrConflict) {
		t.Fatal("expected duplicate email to match ErrConflict")
	}
}

func TestRegister_duplicateUsername(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, johnDoe()); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	dup := johnDoe()
	dup.Email = "someone.else@example.com"
	if _, err := svc.Register(ctx, dup); !errors.Is(err, users.ErrDuplicateUsername) {
		t.Fatalf("expected ErrDuplicateUsername, got %v", err)
	}
}

func TestRegister_repositoryErrorIsWrapped(t *testing.T) {
	svc, repo := newTestService(t)
	repo.createErr = errors.New("connection reset")

	_, err := svc.Register(context.Background(), johnDoe())
	if err == nil || errors.Is(err, users.ErrConflict) {
		t.Fatalf("expected wrapped storage error, got %v", err)
	}
}

func TestRegister_beforeSaveHookRunsAndCanAbort(t *testing.T) {
	svc, repo := newTestService(t)

	var seen string
	svc.SetBeforeSave(func(_ context.Context, u *users.User) error {
		seen = u.Email
		u.PasswordHash = "hashed:" + u.PasswordHash
		return nil
	})

	u, err := svc.Register(context.Background(), johnDoe())
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if seen != "john.doe@example.com" {
		t.Errorf("hook saw %q, want normalized email", seen)
	}
	if u.PasswordHash != "hashed:opaque-hash" {
		t.Errorf("hook mutation lost: %q", u.PasswordHash)
	}

	hookErr := errors.New("hasher unavailable")
	svc.SetBeforeSave(func(context.Context, *users.User) error { return hookErr })
	other := johnDoe()
	other.Email = "other@example.com"
	other.Username = "other_user"
	before := repo.writes
	if _, err := svc.Register(context.Background(), other); !errors.Is(err, hookErr) {
		t.Fatalf("expected hook error, got %v", err)
	}
	if repo.writes != before {
		t.Fatal("write happened despite hook failure")
	}
}

func TestUpdateProfile_advancesUpdatedAtMonotonically(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.SetClock(func() time.Time { return base })
	u, err := svc.Register(ctx, johnDoe())
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	svc.SetClock(func() time.Time { return base.Add(time.Hour) })
	updated, err := svc.UpdateProfile(ctx, u.ID, users.ProfileUpdate{FirstName: strPtr("Johnny")})
	if err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	if updated.FullName() != "Johnny Doe" {
		t.Errorf("FullName = %q", updated.FullName())
	}
	if !updated.UpdatedAt.Equal(base.Add(time.Hour)) || !updated.CreatedAt.Equal(base) {
		t.Errorf("timestamps: created=%v updated=%v", updated.CreatedAt, updated.UpdatedAt)
	}

	// A clock that jumps backwards must not move updated_at backwards.
	svc.SetClock(func() time.Time { return base.Add(-time.Hour) })
	again, err := svc.UpdateProfile(ctx, u.ID, users.ProfileUpdate{LastName: strPtr("Dough")})
	if err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	if again.UpdatedAt.Before(updated.UpdatedAt) {
		t.Fatalf("updated_at went backwards: %v < %v", again.UpdatedAt, updated.UpdatedAt)
	}
}

func TestUpdateProfile_interleavedUpdatesKeepBothChanges(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	svc.SetClock(func() time.Time { return base })
	u, err := svc.Register(ctx, johnDoe())
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	// B runs to completion between A's read and A's write, with a later clock.
	var afterB *users.User
	repo.beforeUpdate = func() {
		svc.SetClock(func() time.Time { return base.Add(time.Minute) })
		var err error
		afterB, err = svc.UpdateProfile(ctx, u.ID, users.ProfileUpdate{LastName: strPtr("Beta")})
		if err != nil {
			t.Errorf("update B: %v", err)
		}
		svc.SetClock(func() time.Time { return base })
	}

	afterA, err := svc.UpdateProfile(ctx, u.ID, users.ProfileUpdate{FirstName: strPtr("Alpha")})
	if err != nil {
		t.Fatalf("update A: %v", err)
	}
	if afterB == nil {
		t.Fatal("update B did not run")
	}

	stored, err := svc.GetByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.FirstName != "Alpha" || stored.LastName != "Beta" {
		t.Fatalf("lost an update: first=%q last=%q", stored.FirstName, stored.LastName)
	}
	if !stored.UpdatedAt.After(afterB.UpdatedAt) {
		t.Fatalf("updated_at did not advance past B: %v <= %v", stored.UpdatedAt, afterB.UpdatedAt)
	}
	if !afterA.UpdatedAt.Equal(stored.UpdatedAt) {
		t.Fatalf("returned record %v differs from stored %v", afterA.UpdatedAt, stored.UpdatedAt)
	}
}

func TestUpdateProfile_sameMillisecondStillAdvances(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	svc.SetClock(func() time.Time { return base })
	u, err := svc.Register(ctx, johnDoe())
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	first, err := svc.UpdateProfile(ctx, u.ID, users.ProfileUpdate{FirstName: strPtr("One")})
	if err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	second, err := svc.UpdateProfile(ctx, u.ID, users.ProfileUpdate{FirstName: strPtr("Two")})
	if err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	if !first.UpdatedAt.After(u.UpdatedAt) || !second.UpdatedAt.After(first.UpdatedAt) {
		t.Fatalf("updated_at not strictly increasing: %v, %v, %v", u.UpdatedAt, first.UpdatedAt, second.UpdatedAt)
	}
}

func TestUpdateProfile_validationFailureLeavesRecordUntouched(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	u, err := svc.Register(ctx, johnDoe())
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	_, err = svc.UpdateProfile(ctx, u.ID, users.ProfileUpdate{
		FirstName: strPtr("Jane"),
		Username:  strPtr("x"),
	})
	var verr *users.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}

	stored, err := svc.GetByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.FirstName != "John" || stored.Username != "valid_user1" {
		t.Fatalf("record partially updated: %+v", stored)
	}
}

func TestUpdateProfile_clearsOptionalField(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	u, err := svc.Register(ctx, johnDoe())
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	updated, err := svc.UpdateProfile(ctx, u.ID, users.ProfileUpdate{Country: strPtr("")})
	if err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	if updated.Country != nil {
		t.Fatalf("country = %q, want nil", *updated.Country)
	}
}

func TestUpdateProfile_unknownUser(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.UpdateProfile(context.Background(), uuid.New(), users.ProfileUpdate{FirstName: strPtr("X")})
	if !errors.Is(err, users.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFindByUsername_isExactMatch(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	if _, err := svc.Register(ctx, johnDoe()); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, err := svc.FindByUsername(ctx, "valid_user1"); err != nil {
		t.Fatalf("exact lookup: %v", err)
	}
	if _, err := svc.FindByUsername(ctx, "VALID_USER1"); !errors.Is(err, users.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for different case, got %v", err)
	}
}

func TestListRecent_newestFirstAndClamped(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	names := []string{"first_user", "second_user", "third_user"}
	for i, name := range names {
		at := base.Add(time.Duration(i) * time.Minute)
		svc.SetClock(func() time.Time { return at })
		nu := johnDoe()
		nu.Username = name
		nu.Email = name + "@example.com"
		if _, err := svc.Register(ctx, nu); err != nil {
			t.Fatalf("Register %s: %v", name, err)
		}
	}

	list, err := svc.ListRecent(ctx, 2)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(list) != 2 || list[0].Username != "third_user" || list[1].Username != "second_user" {
		t.Fatalf("unexpected order: %v", usernames(list))
	}

	all, err := svc.ListRecent(ctx, 0)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("default limit returned %d users", len(all))
	}
}

func usernames(list []*users.User) []string {
	out := make([]string, 0, len(list))
	for _, u := range list {
		out = append(out, u.Username)
	}
	return out
}

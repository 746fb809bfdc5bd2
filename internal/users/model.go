package users

import (
	"time"

	"github.com/google/uuid"
)

// User is the persisted identity record of an account holder.
//
// PasswordHash is opaque to this package and never serialized. Handlers must
// hand PublicView(u) to clients rather than the User itself.
type User struct {
	ID                uuid.UUID `json:"id"                  db:"id"`
	Email             string    `json:"email"               db:"email"`
	Username          string    `json:"username"            db:"username"`
	PasswordHash      string    `json:"-"                   db:"password_hash"`
	FirstName         string    `json:"first_name"          db:"first_name"`
	LastName          string    `json:"last_name"           db:"last_name"`
	ProfilePictureURL *string   `json:"profile_picture_url" db:"profile_picture_url"`
	Country           *string   `json:"country"             db:"country"`
	CreatedAt         time.Time `json:"created_at"          db:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"          db:"updated_at"`
}

// FullName joins first and last name with a single space. It is derived on
// every call and never stored.
func (u *User) FullName() string {
	return u.FirstName + " " + u.LastName
}

// Public returns the external-safe projection of u.
func (u *User) Public() PublicUser {
	return PublicView(u)
}

// PublicUser is the only shape in which a user record leaves the service.
// It has no password hash field at all, so nothing can leak it by accident.
type PublicUser struct {
	ID                uuid.UUID `json:"id"`
	Email             string    `json:"email"`
	Username          string    `json:"username"`
	FirstName         string    `json:"first_name"`
	LastName          string    `json:"last_name"`
	FullName          string    `json:"full_name"`
	ProfilePictureURL *string   `json:"profile_picture_url"`
	Country           *string   `json:"country"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// PublicView strips the password hash from u and adds the computed full name.
func PublicView(u *User) PublicUser {
	return PublicUser{
		ID:                u.ID,
		Email:             u.Email,
		Username:          u.Username,
		FirstName:         u.FirstName,
		LastName:          u.LastName,
		FullName:          u.FullName(),
		ProfilePictureURL: cloneString(u.ProfilePictureURL),
		Country:           cloneString(u.Country),
		CreatedAt:         u.CreatedAt,
		UpdatedAt:         u.UpdatedAt,
	}
}

// PublicViews maps PublicView over a slice, preserving order.
func PublicViews(list []*User) []PublicUser {
	out := make([]PublicUser, 0, len(list))
	for _, u := range list {
		out = append(out, PublicView(u))
	}
	return out
}

// NewUser carries the fields supplied at registration. PasswordHash must
// already be hashed by the caller; this package treats it as an opaque string.
type NewUser struct {
	Email             string
	Username          string
	PasswordHash      string
	FirstName         string
	LastName          string
	ProfilePictureURL *string
	Country           *string
}

// ProfileUpdate lists the mutable fields of a record. Nil fields are left
// unchanged; a pointer to "" clears an optional field.
type ProfileUpdate struct {
	Email             *string `json:"email"`
	Username          *string `json:"username"`
	FirstName         *string `json:"first_name"`
	LastName          *string `json:"last_name"`
	ProfilePictureURL *string `json:"profile_picture_url"`
	Country           *string `json:"country"`
}

// IsEmpty reports whether the update touches no field.
func (p ProfileUpdate) IsEmpty() bool {
	return p.Email == nil && p.Username == nil && p.FirstName == nil &&
		p.LastName == nil && p.ProfilePictureURL == nil && p.Country == nil
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

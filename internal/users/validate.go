package users

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

const (
	maxEmailLen      = 255
	minUsernameLen   = 3
	maxUsernameLen   = 50
	maxPasswordLen   = 255
	maxNameLen       = 100
	maxPictureURLLen = 255
	maxCountryLen    = 100
)

// Field names as they appear in validation errors and JSON.
const (
	FieldEmail             = "email"
	FieldUsername          = "username"
	FieldPasswordHash      = "password_hash"
	FieldFirstName         = "first_name"
	FieldLastName          = "last_name"
	FieldProfilePictureURL = "profile_picture_url"
	FieldCountry           = "country"
)

var (
	emailPattern      = regexp.MustCompile(`^\w+([\.-]?\w+)*@\w+([\.-]?\w+)*(\.\w{2,3})+$`)
	usernamePattern   = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)
	pictureURLPattern = regexp.MustCompile(`(?i)^https?://.+\.(jpg|jpeg|png|gif|webp)$`)
)

// ValidationError rejects a write and names every field that failed.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := e.FieldNames()
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+": "+e.Fields[name])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// FieldNames returns the failing field names in sorted order.
func (e *ValidationError) FieldNames() []string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NormalizeEmail is the single normalization applied to emails on write and
// on lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// normalize trims and lowercases fields in place. Empty optional fields
// become nil.
func normalize(u *User) {
	u.Email = NormalizeEmail(u.Email)
	u.Username = strings.TrimSpace(u.Username)
	u.FirstName = strings.TrimSpace(u.FirstName)
	u.LastName = strings.TrimSpace(u.LastName)
	u.ProfilePictureURL = optional(u.ProfilePictureURL, false)
	u.Country = optional(u.Country, true)
}

func optional(s *string, trim bool) *string {
	if s == nil {
		return nil
	}
	v := *s
	if trim {
		v = strings.TrimSpace(v)
	}
	if v == "" {
		return nil
	}
	return &v
}

// Validate runs every field validator against u and collects all failures.
// It expects u to be normalized already.
func Validate(u *User) error {
	checks := []struct {
		field string
		msg   string
	}{
		{FieldEmail, ValidateEmail(u.Email)},
		{FieldUsername, ValidateUsername(u.Username)},
		{FieldPasswordHash, ValidatePasswordHash(u.PasswordHash)},
		{FieldFirstName, validateName(FieldFirstName, u.FirstName)},
		{FieldLastName, validateName(FieldLastName, u.LastName)},
		{FieldProfilePictureURL, ValidateProfilePictureURL(deref(u.ProfilePictureURL))},
		{FieldCountry, ValidateCountry(deref(u.Country))},
	}

	fields := make(map[string]string)
	for _, c := range checks {
		if c.msg != "" {
			fields[c.field] = c.msg
		}
	}
	if len(fields) == 0 {
		return nil
	}
	return &ValidationError{Fields: fields}
}

// ValidateEmail returns "" if email is acceptable, otherwise the reason.
func ValidateEmail(email string) string {
	if email == "" {
		return required(FieldEmail)
	}
	if utf8.RuneCountInString(email) > maxEmailLen {
		return tooLong(FieldEmail, maxEmailLen)
	}
	if !emailPattern.MatchString(email) {
		return "Please enter a valid email address"
	}
	return ""
}

// ValidateUsername returns "" if username is acceptable, otherwise the reason.
func ValidateUsername(username string) string {
	n := utf8.RuneCountInString(username)
	switch {
	case username == "":
		return required(FieldUsername)
	case n < minUsernameLen:
		return fmt.Sprintf("%s must be at least %d characters", FieldUsername, minUsernameLen)
	case n > maxUsernameLen:
		return tooLong(FieldUsername, maxUsernameLen)
	case !usernamePattern.MatchString(username):
		return "Username can only contain letters, numbers, and underscores"
	}
	return ""
}

// ValidatePasswordHash checks presence and length only; the hash is opaque.
func ValidatePasswordHash(hash string) string {
	if hash == "" {
		return required(FieldPasswordHash)
	}
	if utf8.RuneCountInString(hash) > maxPasswordLen {
		return tooLong(FieldPasswordHash, maxPasswordLen)
	}
	return ""
}

// ValidateProfilePictureURL accepts "" (no picture) or an http(s) URL ending
// in a known image extension.
func ValidateProfilePictureURL(url string) string {
	if url == "" {
		return ""
	}
	if utf8.RuneCountInString(url) > maxPictureURLLen {
		return tooLong(FieldProfilePictureURL, maxPictureURLLen)
	}
	if !pictureURLPattern.MatchString(url) {
		return "Please enter a valid image URL"
	}
	return ""
}

// ValidateCountry accepts "" or a name of at most 100 characters.
func ValidateCountry(country string) string {
	if utf8.RuneCountInString(country) > maxCountryLen {
		return tooLong(FieldCountry, maxCountryLen)
	}
	return ""
}

func validateName(field, name string) string {
	if name == "" {
		return required(field)
	}
	if utf8.RuneCountInString(name) > maxNameLen {
		return tooLong(field, maxNameLen)
	}
	return ""
}

func required(field string) string {
	return field + " is required"
}

func tooLong(field string, max int) string {
	return fmt.Sprintf("%s must be at most %d characters", field, max)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

package domain

import (
	"context"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	minNamePartLen    = 3
	maxNamePartLen    = 50
	MinPasswordLength = 6
)

var emailPattern = regexp.MustCompile(`^(([^<>()\[\]\\.,;:\s@"]+(\.[^<>()\[\]\\.,;:\s@"]+)*)|(".+"))@((\[[0-9]{1,3}\.[0-9]{1,3}\.[0-9]{1,3}\.[0-9]{1,3}\])|(([a-zA-Z\-0-9]+\.)+[a-zA-Z]{2,}))$`)

// PersonName is a principal's display name split into its parts
type PersonName struct {
	First  string `json:"firstname"`
	Middle string `json:"middlename,omitempty"`
	Last   string `json:"lastname"`
}

// Display returns "first last", the form carried in tokens and forwarded headers
func (n PersonName) Display() string {
	return n.First + " " + n.Last
}

// Principal is a registered user identity
type Principal struct {
	ID           string // 24-hex ObjectID or numeric id, depending on store
	Name         PersonName
	Email        string // lowercased, unique
	PasswordHash string // bcrypt, never serialized
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PrincipalRepository defines data access for principals.
// Create returns an ErrConflict error when the email is already taken.
// Lookups return an ErrNotFound error when nothing matches.
type PrincipalRepository interface {
	Create(ctx context.Context, p *Principal) error
	GetByID(ctx context.Context, id string) (*Principal, error)
	GetByEmail(ctx context.Context, email string) (*Principal, error)
}

// ParseName splits a full name on whitespace. The first part is the first
// name, the last part the last name, and anything between is the middle name.
func ParseName(full string) (PersonName, error) {
	parts := strings.Fields(full)
	if len(parts) < 2 {
		return PersonName{}, Validation("Please provide a full name with at least a first and last name")
	}

	name := PersonName{
		First: parts[0],
		Last:  parts[len(parts)-1],
	}
	if len(parts) > 2 {
		name.Middle = strings.Join(parts[1:len(parts)-1], " ")
	}

	if n := utf8.RuneCountInString(name.First); n < minNamePartLen || n > maxNamePartLen {
		return PersonName{}, Validation("First name must be between 3 and 50 characters")
	}
	if n := utf8.RuneCountInString(name.Last); n < minNamePartLen || n > maxNamePartLen {
		return PersonName{}, Validation("Last name must be between 3 and 50 characters")
	}
	if utf8.RuneCountInString(name.Middle) > maxNamePartLen {
		return PersonName{}, Validation("Middle name cannot be more than 50 characters")
	}
	return name, nil
}

// NormalizeEmail trims and lowercases an email and checks its shape
func NormalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", Validation("Please provide email")
	}
	if !emailPattern.MatchString(email) {
		return "", Validation("Please provide a valid email")
	}
	return email, nil
}

// ValidatePassword enforces the minimum password length
func ValidatePassword(password string) error {
	if password == "" {
		return Validation("Please provide password")
	}
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return Validation("Password must be at least 6 characters")
	}
	return nil
}

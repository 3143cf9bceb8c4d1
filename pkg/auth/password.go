package auth

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

// DefaultCost is the bcrypt work factor for stored passwords.
const DefaultCost = 12

// Hasher hashes and checks passwords at a fixed bcrypt cost.
type Hasher struct {
	cost int

	dummyOnce sync.Once
	dummy     []byte
}

// NewHasher returns a Hasher. Costs outside bcrypt's range fall back to
// DefaultCost.
func NewHasher(cost int) *Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultCost
	}
	return &Hasher{cost: cost}
}

var defaultHasher = NewHasher(DefaultCost)

// Hash returns a bcrypt hash of password.
func (h *Hasher) Hash(password string) (string, error) {
	if password == "" {
		return "", errors.New("password cannot be empty")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashed), nil
}

// Compare returns nil when password matches hashed.
func (h *Hasher) Compare(hashed, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(password))
}

// CompareDummy does the same bcrypt work as Compare against a throwaway
// hash. Call it for unknown accounts so timing does not tell them apart.
func (h *Hasher) CompareDummy(password string) {
	h.dummyOnce.Do(func() {
		h.dummy, _ = bcrypt.GenerateFromPassword([]byte("tokenlink-dummy-password"), h.cost)
	})
	_ = bcrypt.CompareHashAndPassword(h.dummy, []byte(password))
}

// NeedsRehash reports whether hashed was made at a different cost.
func (h *Hasher) NeedsRehash(hashed string) bool {
	cost, err := bcrypt.Cost([]byte(hashed))
	return err != nil || cost != h.cost
}

func HashPassword(password string) (string, error) { return defaultHasher.Hash(password) }

func ComparePassword(hashed, password string) error { return defaultHasher.Compare(hashed, password) }

func CompareDummy(password string) { defaultHasher.CompareDummy(password) }

func NeedsRehash(hashed string) bool { return defaultHasher.NeedsRehash(hashed) }

// PasswordValidationError lists the rules a password broke. Error() stays
// generic so callers can return it to clients as is.
type PasswordValidationError struct {
	Problems []string
}

func (e *PasswordValidationError) Error() string {
	return "invalid password"
}

// PasswordPolicy describes what a stored password must satisfy.
type PasswordPolicy struct {
	MinLength int
	MaxLength int
	// MinClasses is how many of upper, lower, digit and symbol must appear.
	MinClasses int
	Denylist   map[string]struct{}
}

var commonPasswords = []string{
	"password", "password1", "password123", "password123!", "passw0rd",
	"12345678", "123456789", "123123", "qwerty", "qwerty123", "abc123",
	"admin", "letmein", "welcome", "welcome1", "monkey", "dragon", "master",
	"shadow", "sunshine", "princess", "starwars", "football", "trustno1",
	"iloveyou", "changeme",
}

// DefaultPasswordPolicy requires twelve characters drawn from three
// character classes and rejects well-known passwords.
func DefaultPasswordPolicy() PasswordPolicy {
	deny := make(map[string]struct{}, len(commonPasswords))
	for _, p := range commonPasswords {
		deny[p] = struct{}{}
	}
	return PasswordPolicy{
		MinLength:  12,
		MaxLength:  72,
		MinClasses: 3,
		Denylist:   deny,
	}
}

// Validate returns a *PasswordValidationError when password breaks the policy.
func (p PasswordPolicy) Validate(password string) error {
	var problems []string

	// bcrypt ignores everything past 72 bytes, so MaxLength counts bytes.
	if n := len([]rune(password)); n < p.MinLength {
		problems = append(problems, fmt.Sprintf("shorter than %d characters", p.MinLength))
	}
	if p.MaxLength > 0 && len(password) > p.MaxLength {
		problems = append(problems, fmt.Sprintf("longer than %d bytes", p.MaxLength))
	}

	if classes := characterClasses(password); classes < p.MinClasses {
		problems = append(problems, fmt.Sprintf("uses %d of %d required character classes", classes, p.MinClasses))
	}

	if _, denied := p.Denylist[strings.ToLower(password)]; denied {
		problems = append(problems, "too common")
	}

	if len(problems) > 0 {
		return &PasswordValidationError{Problems: problems}
	}
	return nil
}

func characterClasses(password string) int {
	var upper, lower, digit, symbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r) || unicode.IsSpace(r):
			symbol = true
		}
	}
	n := 0
	for _, ok := range []bool{upper, lower, digit, symbol} {
		if ok {
			n++
		}
	}
	return n
}

// ValidatePassword checks password against DefaultPasswordPolicy.
func ValidatePassword(password string) error {
	return DefaultPasswordPolicy().Validate(password)
}

package auth

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestPasswordPolicy_Validate(t *testing.T) {
	policy := DefaultPasswordPolicy()

	tests := []struct {
		name     string
		password string
		problem  string
	}{
		{name: "three classes", password: "correct horse 7"},
		{name: "all four classes", password: "Tr0ub4dor&3xyz"},
		{name: "upper lower digit", password: "SecurePass123"},
		{name: "too short", password: "Ab1!", problem: "shorter than 12 characters"},
		{name: "one class", password: "alllowercaseletters", problem: "uses 1 of 3 required character classes"},
		{name: "two classes", password: "lowercase12345", problem: "uses 2 of 3 required character classes"},
		{name: "over bcrypt limit", password: "Aa1!" + strings.Repeat("x", 70), problem: "longer than 72 bytes"},
		{name: "denylisted", password: "Password123!", problem: "too common"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := policy.Validate(tt.password)
			if tt.problem == "" {
				assert.NoError(t, err)
				return
			}

			var pwErr *PasswordValidationError
			require.True(t, errors.As(err, &pwErr))
			assert.Contains(t, pwErr.Problems, tt.problem)
			assert.Equal(t, "invalid password", err.Error())
		})
	}
}

func TestPasswordPolicy_MultibyteLength(t *testing.T) {
	policy := PasswordPolicy{MinLength: 4, MaxLength: 72, MinClasses: 1}
	assert.NoError(t, policy.Validate("ééé1"))
	assert.Error(t, policy.Validate("éé1"))
}

func TestHasher_RoundTrip(t *testing.T) {
	h := NewHasher(bcrypt.MinCost)

	hashed, err := h.Hash("correct horse 7")
	require.NoError(t, err)
	assert.NotEqual(t, "correct horse 7", hashed)

	assert.NoError(t, h.Compare(hashed, "correct horse 7"))
	assert.Error(t, h.Compare(hashed, "wrong horse 7"))

	_, err = h.Hash("")
	assert.Error(t, err)
}

func TestHasher_NeedsRehash(t *testing.T) {
	low := NewHasher(bcrypt.MinCost)
	higher := NewHasher(bcrypt.MinCost + 1)

	hashed, err := low.Hash("correct horse 7")
	require.NoError(t, err)

	assert.False(t, low.NeedsRehash(hashed))
	assert.True(t, higher.NeedsRehash(hashed))
	assert.True(t, low.NeedsRehash("not-a-bcrypt-hash"))
}

func TestNewHasher_InvalidCostFallsBack(t *testing.T) {
	assert.Equal(t, DefaultCost, NewHasher(0).cost)
	assert.Equal(t, DefaultCost, NewHasher(bcrypt.MaxCost+1).cost)
}

func TestHasher_CompareDummy(t *testing.T) {
	h := NewHasher(bcrypt.MinCost)
	h.CompareDummy("anything")
	h.CompareDummy("again")
	assert.NotEmpty(t, h.dummy)
}

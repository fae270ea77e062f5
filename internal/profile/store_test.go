package profile

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_SetGet(t *testing.T) {
	s := NewStore()

	err := s.Set(User{
		UserID:      "alice",
		DisplayName: "  Alice  ",
		Preferences: Preferences{PreferredCurrency: "gbp"},
	})
	require.NoError(t, err)

	got, err := s.Get("alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.DisplayName)
	assert.Equal(t, "GBP", got.Preferences.PreferredCurrency)
	assert.Equal(t, EscrowAboveThreshold, got.Preferences.EscrowPreference)
	assert.Equal(t, StyleBalanced, got.Preferences.NegotiationStyle)
}

func TestStore_Set_RejectsInvalid(t *testing.T) {
	s := NewStore()
	err := s.Set(User{UserID: "bob", DisplayName: "   "})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidProfile))

	_, err = s.Get("bob")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestStore_GetOrDefault(t *testing.T) {
	s := NewStore()
	u := s.GetOrDefault("carol")
	assert.Equal(t, "carol", u.UserID)
	assert.Equal(t, "carol", u.DisplayName)
	assert.Equal(t, EscrowAboveThreshold, u.Preferences.EscrowPreference)
}

func TestValidate_ContextDocumentLimits(t *testing.T) {
	docs := make([]ContextDocument, MaxContextDocuments+1)
	err := Validate(User{DisplayName: "Dana", ContextDocuments: docs})
	require.Error(t, err)
}

package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckBannedWholeWordsOnly(t *testing.T) {
	m := NewModerator(func() []string { return []string{"blood", "gore"} })

	err := m.CheckBanned("a pool of blood on the floor")
	require.Error(t, err)
	banned, ok := err.(*BannedPromptError)
	require.True(t, ok)
	assert.Equal(t, "blood", banned.Word)

	// Substrings of larger words do not trip the filter.
	assert.NoError(t, m.CheckBanned("a bloodhound puppy"))
	assert.NoError(t, m.CheckBanned(""))
}

func TestCheckBannedCaseInsensitive(t *testing.T) {
	m := NewModerator(func() []string { return []string{"Blood"} })
	assert.Error(t, m.CheckBanned("BLOOD everywhere"))
}

func TestCheckAndCleanBanned(t *testing.T) {
	m := NewModerator(func() []string { return []string{"gore"} })
	assert.Equal(t, "a scene with details", m.CheckAndCleanBanned("a gore scene with gore details"))
}

func TestInvalidateRecompiles(t *testing.T) {
	words := []string{"first"}
	m := NewModerator(func() []string { return words })
	require.Error(t, m.CheckBanned("the first one"))

	words = []string{"second"}
	// Stale until invalidated.
	require.Error(t, m.CheckBanned("the first one"))
	m.Invalidate()
	assert.NoError(t, m.CheckBanned("the first one"))
	assert.Error(t, m.CheckBanned("the second one"))
}

package referral

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRelationship(t *testing.T) {
	t.Run("SuccessfulCreation", func(t *testing.T) {
		referrerID := uuid.New()
		referredID := uuid.New()

		beforeCreation := time.Now().UTC()
		rel := NewRelationship(referrerID, referredID)
		afterCreation := time.Now().UTC()

		require.NotNil(t, rel)
		assert.NotEqual(t, uuid.Nil, rel.ID)
		assert.Equal(t, referrerID, rel.ReferrerID)
		assert.Equal(t, referredID, rel.ReferredID)
		assert.Equal(t, StatusPending, rel.Status, "Relationships start pending until a qualifying event")
		assert.Nil(t, rel.QualifiedAt)
		assert.WithinDuration(t, beforeCreation, rel.CreatedAt, afterCreation.Sub(beforeCreation)+time.Millisecond)
	})
}

func TestGenerateCode(t *testing.T) {
	t.Run("LengthAndAlphabet", func(t *testing.T) {
		code, err := GenerateCode()

		require.NoError(t, err)
		assert.Len(t, code, codeLength)
		for _, r := range code {
			assert.True(t, strings.ContainsRune(codeAlphabet, r), "Code contains character outside the alphabet: %c", r)
		}
	})

	t.Run("NoAmbiguousCharacters", func(t *testing.T) {
		for i := 0; i < 50; i++ {
			code, err := GenerateCode()
			require.NoError(t, err)
			assert.NotContains(t, code, "0")
			assert.NotContains(t, code, "O")
			assert.NotContains(t, code, "1")
			assert.NotContains(t, code, "I")
			assert.NotContains(t, code, "L")
		}
	})

	t.Run("CodesVary", func(t *testing.T) {
		seen := make(map[string]bool)
		for i := 0; i < 20; i++ {
			code, err := GenerateCode()
			require.NoError(t, err)
			assert.False(t, seen[code], "Generated a duplicate code: %s", code)
			seen[code] = true
		}
	})
}

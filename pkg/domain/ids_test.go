package domain

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "keepsake/pkg/domain-errors"
)

// TestParseUUID_Invariants validates the parsing invariant:
// "IDs must be valid, non-empty, non-nil UUIDs"
func TestParseUUID_Invariants(t *testing.T) {
	t.Run("rejects empty string", func(t *testing.T) {
		_, err := ParseSubjectID("")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects invalid format", func(t *testing.T) {
		_, err := ParseObjectID("not-a-uuid")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects nil UUID", func(t *testing.T) {
		_, err := ParseSubjectID(uuid.Nil.String())
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("accepts valid UUID", func(t *testing.T) {
		validUUID := uuid.New()
		id, err := ParseSubjectID(validUUID.String())
		require.NoError(t, err)
		assert.Equal(t, SubjectID(validUUID), id)
	})
}

func TestStreamIDs(t *testing.T) {
	subject := SubjectID(uuid.New())

	t.Run("subject stream is not a device stream", func(t *testing.T) {
		s := SubjectStream(subject)
		assert.Equal(t, "subject:"+subject.String(), s.String())
		assert.False(t, s.IsDevice())
	})

	t.Run("device stream round-trips through parse", func(t *testing.T) {
		s := DeviceStream("tablet-7")
		parsed, err := ParseStreamID(" " + s.String() + " ")
		require.NoError(t, err)
		assert.Equal(t, s, parsed)
		assert.True(t, parsed.IsDevice())
	})

	t.Run("rejects unknown stream prefix", func(t *testing.T) {
		_, err := ParseStreamID("tenant:42")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

// TestTypeDistinction verifies the compiler enforces type safety.
func TestTypeDistinction(t *testing.T) {
	subjectID := SubjectID(uuid.New())
	objectID := ObjectID(uuid.New())

	// var _ SubjectID = objectID // compile error
	assert.NotEqual(t, uuid.UUID(subjectID), uuid.UUID(objectID))
}

func TestActorType(t *testing.T) {
	assert.True(t, ActorCaregiver.IsValid())
	assert.True(t, ActorStaff.IsHuman())
	assert.False(t, ActorSystem.IsHuman())
	assert.False(t, ActorType("robot").IsValid())
	assert.Equal(t, Region("eu"), NormalizeRegion(" EU "))
}

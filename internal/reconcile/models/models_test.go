package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	memorymodels "keepsake/internal/memory/models"
	id "keepsake/pkg/domain"
	dErrors "keepsake/pkg/domain-errors"
)

func TestCursorStateMachine(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	c := NewCursor(id.DeviceStream("tablet-1"), id.SubjectID(uuid.New()), "genesis", now)

	require.NoError(t, c.BeginSync(now, time.Minute))
	assert.Equal(t, StateSyncing, c.State)

	t.Run("a second merge conflicts while the first is live", func(t *testing.T) {
		err := c.BeginSync(now.Add(10*time.Second), time.Minute)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))
	})

	t.Run("a silent merge is taken over", func(t *testing.T) {
		stale := *c
		require.NoError(t, stale.BeginSync(now.Add(2*time.Minute), time.Minute))
	})

	c.Advance(5, "e5", now)
	assert.Equal(t, StateDisconnected, c.State)
	assert.Equal(t, int64(5), c.LastSeq)

	c.Advance(3, "e3", now)
	assert.Equal(t, int64(5), c.LastSeq, "the cursor never moves back")

	c.Quarantine(now)
	err := c.BeginSync(now, time.Minute)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeForkDetected))
}

func TestReviewResolvesOnce(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	r := &ReviewItem{ID: id.NewReviewID(), Status: ReviewOpen}

	require.NoError(t, r.Resolve(ResolutionDiscard, id.ActorStaff, now))
	assert.Equal(t, ReviewResolved, r.Status)

	err := r.Resolve(ResolutionRechain, id.ActorStaff, now)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))
	assert.Equal(t, ResolutionDiscard, r.Resolution)
}

func TestBatchValidate(t *testing.T) {
	subject := id.SubjectID(uuid.New())

	b := &Batch{Stream: id.SubjectStream(subject), SubjectID: subject}
	assert.True(t, dErrors.HasCode(b.Validate(), dErrors.CodeValidation), "central streams are not reconciled")

	b = &Batch{
		Stream:    id.DeviceStream("tablet-1"),
		SubjectID: subject,
		Objects:   []*memorymodels.Object{{ID: id.NewObjectID(), OwnerID: id.SubjectID(uuid.New())}},
	}
	assert.True(t, dErrors.HasCode(b.Validate(), dErrors.CodeValidation))

	b.Objects[0].OwnerID = subject
	assert.NoError(t, b.Validate())
}

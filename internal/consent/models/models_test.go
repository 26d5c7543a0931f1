package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "keepsake/pkg/domain"
	dErrors "keepsake/pkg/domain-errors"
)

var day = 24 * time.Hour

func grant(t *testing.T, now time.Time) *Record {
	t.Helper()
	policy, err := DefaultRegistry().Policy(TypeMemoryRetention)
	require.NoError(t, err)
	rec, err := NewGrant(id.SubjectID(uuid.New()), TypeMemoryRetention, MethodTap, "eu", id.ActorSubject, now, policy, nil)
	require.NoError(t, err)
	return rec
}

func TestNewGrant(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("first version expires after the type default", func(t *testing.T) {
		rec := grant(t, now)
		assert.Equal(t, 1, rec.Version)
		assert.Equal(t, StatusGranted, rec.Status)
		assert.Equal(t, now.Add(90*day), rec.ExpiresAt)
	})

	t.Run("follows prior version", func(t *testing.T) {
		prior := grant(t, now)
		policy, _ := DefaultRegistry().Policy(TypeMemoryRetention)
		next, err := NewGrant(prior.SubjectID, prior.Type, MethodPIN, "eu", id.ActorCaregiver, now, policy, prior)
		require.NoError(t, err)
		assert.Equal(t, 2, next.Version)
	})

	t.Run("rejects invalid input", func(t *testing.T) {
		policy, _ := DefaultRegistry().Policy(TypeExport)
		_, err := NewGrant(id.SubjectID(uuid.Nil), TypeExport, MethodTap, "eu", id.ActorSubject, now, policy, nil)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))

		_, err = NewGrant(id.SubjectID(uuid.New()), TypeExport, Method("smoke"), "eu", id.ActorSubject, now, policy, nil)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))

		_, err = NewGrant(id.SubjectID(uuid.New()), TypeExport, MethodQR, "", id.ActorSubject, now, policy, nil)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})
}

func TestEffectiveStatus(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rec := grant(t, now)

	assert.Equal(t, StatusGranted, rec.EffectiveStatus(now.Add(10*day), DefaultReminderLead))
	assert.Equal(t, StatusExpiring, rec.EffectiveStatus(now.Add(83*day), DefaultReminderLead))
	assert.Equal(t, StatusExpired, rec.EffectiveStatus(now.Add(90*day), DefaultReminderLead))
	assert.True(t, rec.IsActive(now.Add(89*day)))
	assert.False(t, rec.IsActive(now.Add(90*day)))

	revoked := rec.Successor(StatusRevoked, id.ActorSubject, now.Add(day))
	assert.Equal(t, StatusRevoked, revoked.EffectiveStatus(now.Add(2*day), DefaultReminderLead))
	assert.False(t, revoked.IsActive(now.Add(2*day)))
	assert.Equal(t, now.Add(day), revoked.GraceAnchor())
}

func TestSuccessor(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rec := grant(t, now)
	superseded := now
	rec.SupersededAt = &superseded

	next := rec.Successor(StatusExpired, id.ActorSystem, now.Add(91*day))
	assert.Equal(t, rec.Version+1, next.Version)
	assert.NotEqual(t, rec.ID, next.ID)
	assert.Nil(t, next.SupersededAt)
	assert.Nil(t, next.RevokedAt)
	assert.Equal(t, rec.ExpiresAt, next.ExpiresAt)
}

func TestGraceAndReminder(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rec := grant(t, now)

	assert.False(t, rec.ReminderDue(now.Add(82*day), DefaultReminderLead))
	assert.True(t, rec.ReminderDue(now.Add(83*day), DefaultReminderLead))
	assert.False(t, rec.ReminderDue(now.Add(90*day), DefaultReminderLead))

	assert.True(t, rec.WithinGrace(now.Add(93*day), DefaultGrace))
	assert.False(t, rec.WithinGrace(now.Add(100*day), DefaultGrace))
}

func TestRegistry(t *testing.T) {
	t.Run("default registry has six types", func(t *testing.T) {
		r := DefaultRegistry()
		assert.Len(t, r.Types(), 6)
		assert.Equal(t, []Type{TypeExport}, r.ExportGates())
		p, err := r.Policy(TypeCaregiverAccess)
		require.NoError(t, err)
		assert.Equal(t, 180*day, p.DefaultExpiry)
		assert.Equal(t, DefaultGrace, p.Grace)
	})

	t.Run("unknown type is a bad request", func(t *testing.T) {
		_, err := DefaultRegistry().Policy("telepathy")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeBadRequest))
	})

	t.Run("overrides adjust and add types", func(t *testing.T) {
		r := DefaultRegistry()
		err := r.ApplyOverrides(`{"memory_retention":{"grace":"72h"},"bereavement":{"default_expiry":"720h","export_gate":true}}`)
		require.NoError(t, err)

		p, _ := r.Policy(TypeMemoryRetention)
		assert.Equal(t, 72*time.Hour, p.Grace)
		assert.Equal(t, 90*day, p.DefaultExpiry)

		b, err := r.Policy("bereavement")
		require.NoError(t, err)
		assert.Equal(t, 30*day, b.DefaultExpiry)
		assert.Equal(t, DefaultSweepInterval, b.SweepInterval)
		assert.ElementsMatch(t, []Type{TypeExport, "bereavement"}, r.ExportGates())
	})

	t.Run("new type without expiry is rejected", func(t *testing.T) {
		err := DefaultRegistry().ApplyOverrides(`{"bereavement":{"grace":"1h"}}`)
		require.Error(t, err)
	})

	t.Run("malformed duration is rejected", func(t *testing.T) {
		err := DefaultRegistry().ApplyOverrides(`{"export":{"grace":"soon"}}`)
		require.Error(t, err)
	})
}

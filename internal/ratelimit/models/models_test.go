package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	id "keepsake/pkg/domain"
)

type ModelsSuite struct {
	suite.Suite
}

func TestModelsSuite(t *testing.T) {
	suite.Run(t, new(ModelsSuite))
}

func (s *ModelsSuite) TestKey() {
	s.Run("plain subject", func() {
		s.Equal("actor:subject:5b1f:api", Key(id.ActorSubject, "5b1f", ClassAPI))
	})

	s.Run("delimiters in a segment cannot reach a neighbouring bucket", func() {
		a := Key(id.ActorSubject, "a:b", ClassSync)
		b := Key(id.ActorSubject, "a_cb", ClassSync)
		s.NotEqual(a, b)
		s.Equal("actor:subject:a_cb:sync", a)
		s.Equal("actor:subject:a__cb:sync", b)
	})

	s.Run("actor types get separate buckets", func() {
		s.NotEqual(Key(id.ActorSubject, "x", ClassAPI), Key(id.ActorStaff, "x", ClassAPI))
	})
}

func (s *ModelsSuite) TestNewResult() {
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

	s.Run("allowed carries no retry", func() {
		r := NewResult(true, 10, 4, now.Add(time.Minute), now)
		s.Zero(r.RetryAfter)
		s.Equal(4, r.Remaining)
	})

	s.Run("denied rounds the wait to seconds", func() {
		r := NewResult(false, 10, 0, now.Add(12400*time.Millisecond), now)
		s.Equal(12, r.RetryAfter)
	})

	s.Run("denied never asks for a zero wait", func() {
		r := NewResult(false, 10, -1, now, now)
		s.Equal(1, r.RetryAfter)
		s.Zero(r.Remaining)
	})
}

func (s *ModelsSuite) TestLimitEnabled() {
	s.True(Limit{Requests: 1, Window: time.Second}.Enabled())
	s.False(Limit{Requests: 0, Window: time.Second}.Enabled())
	s.False(Limit{Requests: 5}.Enabled())
}

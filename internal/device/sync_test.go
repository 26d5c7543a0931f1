package device

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"

	"github.com/go-chi/chi/v5"

	synchandler "keepsake/internal/reconcile/handler"
	"keepsake/internal/reconcile/models"
	id "keepsake/pkg/domain"
	dErrors "keepsake/pkg/domain-errors"
	"keepsake/pkg/requestcontext"
)

// serve exposes the central engine over HTTP. The caller is the suite's
// subject and the central clock reads day.
func (s *ReplicaSuite) serve(day *int) *Client {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := requestcontext.WithActor(req.Context(), requestcontext.Actor{Subject: s.subject, Type: id.ActorSubject, Region: "uk"})
			ctx = requestcontext.WithTime(ctx, s.day0.AddDate(0, 0, *day))
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	synchandler.New(s.engine, slog.New(slog.NewTextHandler(io.Discard, nil))).Register(r)
	srv := httptest.NewServer(r)
	s.T().Cleanup(srv.Close)
	return NewClientWithHTTPClient(srv.URL, "test-token", srv.Client())
}

func (s *ReplicaSuite) TestSyncOverHTTP() {
	day := 1
	client := s.serve(&day)
	s.capture(s.replica, 0)

	res, err := s.replica.Sync(s.at(1), client)
	s.Require().NoError(err)
	s.Equal(1, res.Batches)
	s.Equal(1, res.EventsMerged)
	s.Equal(1, res.Imported)

	status, err := client.Status(context.Background(), s.replica.Stream())
	s.Require().NoError(err)
	s.Equal(int64(1), status.LastSeq)

	s.Run("nothing pending ships nothing", func() {
		day = 2
		res, err := s.replica.Sync(s.at(2), client)
		s.Require().NoError(err)
		s.Zero(res.Batches)
	})
}

func (s *ReplicaSuite) TestSyncWaitsForReviewThenRechains() {
	day := 1
	client := s.serve(&day)
	s.capture(s.replica, 0)
	_, err := s.replica.Sync(s.at(1), client)
	s.Require().NoError(err)

	restored := s.open()
	s.capture(restored, 2)

	day = 3
	_, err = restored.Sync(s.at(3), client)
	s.Require().ErrorIs(err, ErrAwaitingReview)

	reviews, err := s.engine.ListReviews(s.at(4), models.ReviewFilter{Stream: restored.Stream(), Status: models.ReviewOpen})
	s.Require().NoError(err)
	s.Require().Len(reviews, 1)
	_, err = s.engine.ResolveReview(s.at(4), reviews[0].ID, models.ResolutionRechain, id.ActorStaff)
	s.Require().NoError(err)

	day = 5
	res, err := restored.Sync(s.at(5), client)
	s.Require().NoError(err)
	s.Equal(1, res.Rechained)
	s.Equal(1, res.Batches)
	s.Equal(1, res.EventsMerged)

	cursor, err := restored.Cursor(context.Background())
	s.Require().NoError(err)
	s.Equal(int64(2), cursor.LastSeq)
}

func (s *ReplicaSuite) TestClientDecodesErrors() {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = io.WriteString(w, `{"error":"fork_detected","error_description":"batch does not extend the central chain"}`)
	}))
	defer srv.Close()

	p, err := s.replica.PendingBatch(s.at(0))
	s.Require().NoError(err)
	_, err = NewClientWithHTTPClient(srv.URL, "t", srv.Client()).Push(context.Background(), s.replica.Stream(), p.Batch)

	s.True(dErrors.HasCode(err, dErrors.CodeForkDetected))
	s.Contains(err.Error(), "central chain")
}

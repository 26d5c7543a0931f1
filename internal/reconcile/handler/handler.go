// Package handler exposes device sync and the quarantine review queue over
// HTTP. A device ships batches for its own subject only; reviews are staff
// territory.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"keepsake/internal/reconcile/models"
	id "keepsake/pkg/domain"
	dErrors "keepsake/pkg/domain-errors"
	"keepsake/pkg/platform/httputil"
	"keepsake/pkg/requestcontext"
)

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks

// Service is the reconciliation engine as the HTTP layer sees it.
type Service interface {
	Reconcile(ctx context.Context, b *models.Batch) (*models.Outcome, error)
	Status(ctx context.Context, stream id.StreamID) (*models.Cursor, error)
	ListReviews(ctx context.Context, filter models.ReviewFilter) ([]*models.ReviewItem, error)
	ResolveReview(ctx context.Context, reviewID id.ReviewID, resolution models.Resolution, reviewer id.ActorType) (*models.ReviewItem, error)
}

type Handler struct {
	logger *slog.Logger
	sync   Service
}

func New(sync Service, logger *slog.Logger) *Handler {
	return &Handler{logger: logger, sync: sync}
}

// Register registers the sync routes. Batches can be large, so the caller
// mounts these under its sync body limit.
func (h *Handler) Register(r chi.Router) {
	r.Route("/v1/sync", func(r chi.Router) {
		r.Get("/reviews", h.HandleListReviews)
		r.Post("/reviews/{id}/resolve", h.HandleResolveReview)
		r.Post("/{stream}", h.HandleSync)
		r.Get("/{stream}", h.HandleStatus)
	})
}

// HandleSync merges one batch from the caller's device. A fork answers 409
// with a fork_detected code and leaves the stream quarantined.
func (h *Handler) HandleSync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, err := httputil.RequireActor(ctx, h.logger)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	stream, err := parseDeviceStream(chi.URLParam(r, "stream"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[BatchRequest](ctx, w, r, h.logger)
	if !ok {
		return
	}
	batch, err := req.toBatch(stream, actor.Subject)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	out, err := h.sync.Reconcile(ctx, batch)
	if err != nil {
		h.fail(ctx, w, "reconcile", err, "stream", stream)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toOutcomeResponse(out))
}

// HandleStatus returns the stream cursor. A cursor owned by another subject
// is reported as missing unless the caller is staff.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, err := httputil.RequireActor(ctx, h.logger)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	stream, err := parseDeviceStream(chi.URLParam(r, "stream"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	cursor, err := h.sync.Status(ctx, stream)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if !cursor.SubjectID.IsNil() && cursor.SubjectID != actor.Subject && !isReviewer(actor.Type) {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "sync stream not found"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toCursorResponse(cursor))
}

// HandleListReviews lists quarantined batches: ?stream=&status=&limit=.
func (h *Handler) HandleListReviews(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := h.requireReviewer(ctx, w); !ok {
		return
	}
	filter, err := parseReviewFilter(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	reviews, err := h.sync.ListReviews(ctx, filter)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toReviewListResponse(reviews))
}

func (h *Handler) HandleResolveReview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.requireReviewer(ctx, w)
	if !ok {
		return
	}
	reviewID, err := id.ParseReviewID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[ResolveRequest](ctx, w, r, h.logger)
	if !ok {
		return
	}

	review, err := h.sync.ResolveReview(ctx, reviewID, models.Resolution(req.Resolution), actor.Type)
	if err != nil {
		h.fail(ctx, w, "resolve review", err, "review_id", reviewID)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toReviewResponse(review))
}

func (h *Handler) requireReviewer(ctx context.Context, w http.ResponseWriter) (requestcontext.Actor, bool) {
	actor, err := httputil.RequireActor(ctx, h.logger)
	if err != nil {
		httputil.WriteError(w, err)
		return actor, false
	}
	if !isReviewer(actor.Type) {
		httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "sync reviews are restricted to staff"))
		return actor, false
	}
	return actor, true
}

func isReviewer(t id.ActorType) bool {
	return t == id.ActorStaff || t == id.ActorSystem
}

func parseDeviceStream(raw string) (id.StreamID, error) {
	stream, err := id.ParseStreamID(raw)
	if err != nil {
		return stream, err
	}
	if !stream.IsDevice() {
		return stream, dErrors.New(dErrors.CodeValidation, "only device streams sync")
	}
	return stream, nil
}

func parseReviewFilter(r *http.Request) (models.ReviewFilter, error) {
	q := r.URL.Query()
	var filter models.ReviewFilter
	if s := q.Get("stream"); s != "" {
		stream, err := id.ParseStreamID(s)
		if err != nil {
			return filter, err
		}
		filter.Stream = stream
	}
	switch status := models.ReviewStatus(q.Get("status")); status {
	case "", models.ReviewOpen, models.ReviewResolved:
		filter.Status = status
	default:
		return filter, dErrors.New(dErrors.CodeValidation, "status must be open or resolved")
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			return filter, dErrors.New(dErrors.CodeBadRequest, "limit must be a positive integer")
		}
		filter.Limit = n
	}
	return filter, nil
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, op string, err error, attrs ...any) {
	attrs = append(attrs, "error", err, "request_id", requestcontext.RequestID(ctx))
	h.logger.WarnContext(ctx, "sync "+op+" failed", attrs...)
	httputil.WriteError(w, err)
}

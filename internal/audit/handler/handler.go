// Package handler exposes the audit export and chain verification API.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"keepsake/internal/audit/models"
	"keepsake/internal/audit/service"
	id "keepsake/pkg/domain"
	dErrors "keepsake/pkg/domain-errors"
	"keepsake/pkg/platform/httputil"
	strutil "keepsake/pkg/platform/strings"
	"keepsake/pkg/platform/validation"
	"keepsake/pkg/requestcontext"
)

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks

// Service is the slice of the audit service the HTTP layer needs.
type Service interface {
	Query(ctx context.Context, q models.Query) ([]models.Event, error)
	Verify(ctx context.Context, stream id.StreamID, fromSeq, toSeq int64) (*models.VerifyResult, error)
}

type Handler struct {
	audit  Service
	logger *slog.Logger
}

func New(audit Service, logger *slog.Logger) *Handler {
	return &Handler{audit: audit, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/v1/audit", h.HandleQuery)
	r.Get("/v1/audit/streams/{stream}/verify", h.HandleVerify)
}

type queryResponse struct {
	Events []service.EventResponse `json:"events"`
	Count  int                     `json:"count"`
}

// HandleQuery exports events from one regional partition. Staff may read any
// subject; every other actor is pinned to their own subject.
func (h *Handler) HandleQuery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, err := httputil.RequireActor(ctx, h.logger)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	q, err := parseQuery(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	q.RequesterRegion = actor.Region
	if actor.Type != id.ActorStaff {
		if q.Subject != nil && *q.Subject != actor.Subject {
			httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "actors may only export their own audit trail"))
			return
		}
		subject := actor.Subject
		q.Subject = &subject
	}

	events, err := h.audit.Query(ctx, q)
	if err != nil {
		h.logger.WarnContext(ctx, "audit query failed",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteError(w, err)
		return
	}

	res := queryResponse{Events: make([]service.EventResponse, 0, len(events)), Count: len(events)}
	for i := range events {
		res.Events = append(res.Events, service.ToResponse(&events[i]))
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

// HandleVerify recomputes a stream's chain. Restricted to staff by the router.
func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, err := httputil.RequireActor(ctx, h.logger); err != nil {
		httputil.WriteError(w, err)
		return
	}

	stream, err := id.ParseStreamID(chi.URLParam(r, "stream"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	from, err := parseSeq(r.URL.Query().Get("from"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	to, err := parseSeq(r.URL.Query().Get("to"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	res, err := h.audit.Verify(ctx, stream, from, to)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func parseQuery(r *http.Request) (models.Query, error) {
	v := r.URL.Query()
	q := models.Query{Region: id.NormalizeRegion(v.Get("region"))}

	if s := v.Get("from"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return q, dErrors.New(dErrors.CodeBadRequest, "from must be RFC3339")
		}
		q.From = &t
	}
	if s := v.Get("to"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return q, dErrors.New(dErrors.CodeBadRequest, "to must be RFC3339")
		}
		q.To = &t
	}
	if s := v.Get("subject"); s != "" {
		subject, err := id.ParseSubjectID(s)
		if err != nil {
			return q, err
		}
		q.Subject = &subject
	}
	if s := v.Get("stream"); s != "" {
		stream, err := id.ParseStreamID(s)
		if err != nil {
			return q, err
		}
		q.Stream = stream
	}
	types := strutil.SplitList(v["type"])
	if err := validation.CheckSliceCount("event types", len(types), validation.MaxEventTypes); err != nil {
		return q, err
	}
	for _, t := range types {
		q.Types = append(q.Types, models.EventType(t))
	}
	if s := v.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return q, dErrors.New(dErrors.CodeBadRequest, "limit must be a non-negative integer")
		}
		q.Limit = n
	}
	return q, nil
}

func parseSeq(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, dErrors.New(dErrors.CodeBadRequest, "sequence bounds must be non-negative integers")
	}
	return n, nil
}

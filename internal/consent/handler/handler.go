// Package handler exposes the consent lifecycle over HTTP. The subject is
// always the authenticated caller's token subject.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"keepsake/internal/consent/models"
	id "keepsake/pkg/domain"
	"keepsake/pkg/platform/httputil"
	"keepsake/pkg/requestcontext"
)

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks

// Service defines the consent operations the HTTP layer drives.
type Service interface {
	Grant(ctx context.Context, subject id.SubjectID, t models.Type, method models.Method, region id.Region, actor id.ActorType) (*models.Record, error)
	Revoke(ctx context.Context, subject id.SubjectID, t models.Type, actor id.ActorType) (*models.Record, error)
	Renew(ctx context.Context, subject id.SubjectID, t models.Type, method models.Method, actor id.ActorType) (*models.Record, error)
	CurrentStatus(ctx context.Context, subject id.SubjectID, t models.Type) (*models.View, error)
	History(ctx context.Context, subject id.SubjectID, t models.Type) ([]*models.Record, error)
}

// Handler handles consent endpoints.
type Handler struct {
	logger  *slog.Logger
	consent Service
}

func New(consent Service, logger *slog.Logger) *Handler {
	return &Handler{logger: logger, consent: consent}
}

// Register registers the consent routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/v1/consents/{type}", func(r chi.Router) {
		r.Post("/grant", h.HandleGrant)
		r.Post("/revoke", h.HandleRevoke)
		r.Post("/renew", h.HandleRenew)
		r.Get("/", h.HandleCurrent)
		r.Get("/history", h.HandleHistory)
	})
}

// HandleGrant grants consent of the path type for the caller.
func (h *Handler) HandleGrant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, t, ok := h.prepare(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[GrantRequest](ctx, w, r, h.logger)
	if !ok {
		return
	}
	region := id.NormalizeRegion(req.Region)
	if region.IsZero() {
		region = actor.Region
	}

	record, err := h.consent.Grant(ctx, actor.Subject, t, models.Method(req.Method), region, actor.Type)
	if err != nil {
		h.fail(ctx, w, "grant", t, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toRecordResponse(record, record.Status))
}

// HandleRevoke revokes the caller's current consent of the path type.
func (h *Handler) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, t, ok := h.prepare(w, r)
	if !ok {
		return
	}

	record, err := h.consent.Revoke(ctx, actor.Subject, t, actor.Type)
	if err != nil {
		h.fail(ctx, w, "revoke", t, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toRecordResponse(record, record.Status))
}

// HandleRenew renews the caller's consent; see Service.Renew for the grace rules.
func (h *Handler) HandleRenew(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, t, ok := h.prepare(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[RenewRequest](ctx, w, r, h.logger)
	if !ok {
		return
	}

	record, err := h.consent.Renew(ctx, actor.Subject, t, models.Method(req.Method), actor.Type)
	if err != nil {
		h.fail(ctx, w, "renew", t, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toRecordResponse(record, record.Status))
}

func (h *Handler) HandleCurrent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, t, ok := h.prepare(w, r)
	if !ok {
		return
	}

	view, err := h.consent.CurrentStatus(ctx, actor.Subject, t)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toViewResponse(view))
}

func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, t, ok := h.prepare(w, r)
	if !ok {
		return
	}

	records, err := h.consent.History(ctx, actor.Subject, t)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toHistoryResponse(t, records))
}

func (h *Handler) prepare(w http.ResponseWriter, r *http.Request) (requestcontext.Actor, models.Type, bool) {
	actor, err := httputil.RequireActor(r.Context(), h.logger)
	if err != nil {
		httputil.WriteError(w, err)
		return actor, "", false
	}
	t, err := parseType(chi.URLParam(r, "type"))
	if err != nil {
		httputil.WriteError(w, err)
		return actor, "", false
	}
	return actor, t, true
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, op string, t models.Type, err error) {
	h.logger.WarnContext(ctx, "consent "+op+" failed",
		"consent_type", t,
		"error", err,
		"request_id", requestcontext.RequestID(ctx),
	)
	httputil.WriteError(w, err)
}

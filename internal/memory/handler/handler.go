// Package handler exposes the memory gate and erasure over HTTP. The owner
// is always the authenticated caller's token subject.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"keepsake/internal/memory/models"
	id "keepsake/pkg/domain"
	dErrors "keepsake/pkg/domain-errors"
	"keepsake/pkg/platform/httputil"
	"keepsake/pkg/requestcontext"
)

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks

// Service defines the memory operations the HTTP layer drives.
type Service interface {
	CanWrite(ctx context.Context, owner id.SubjectID, scope models.Scope) (bool, error)
	Write(ctx context.Context, owner id.SubjectID, scope models.Scope, ref models.ConsentRef, contentRef, topic string) (*models.Object, error)
	Lock(ctx context.Context, owner id.SubjectID, objectID id.ObjectID, actor id.ActorType) (*models.Object, error)
	Purge(ctx context.Context, owner id.SubjectID, objectID id.ObjectID, actor id.ActorType) (*models.Object, error)
	Reactivate(ctx context.Context, owner id.SubjectID, objectID id.ObjectID, actor id.ActorType) (*models.Object, error)
	List(ctx context.Context, owner id.SubjectID, filter models.ListFilter) ([]*models.Object, error)
	Export(ctx context.Context, owner id.SubjectID, actor id.ActorType) ([]*models.Object, error)
	Erase(ctx context.Context, owner id.SubjectID, req models.EraseRequest) (*models.EraseResult, error)
}

type transitionFunc func(ctx context.Context, owner id.SubjectID, objectID id.ObjectID, actor id.ActorType) (*models.Object, error)

// Handler handles memory and erasure endpoints.
type Handler struct {
	logger *slog.Logger
	memory Service
}

func New(memory Service, logger *slog.Logger) *Handler {
	return &Handler{logger: logger, memory: memory}
}

// Register registers the memory routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/v1/memory", func(r chi.Router) {
		r.Get("/can-write", h.HandleCanWrite)
		r.Post("/", h.HandleWrite)
		r.Get("/", h.HandleList)
		r.Post("/export", h.HandleExport)
		r.Post("/{id}/lock", h.transition("lock", h.memory.Lock))
		r.Post("/{id}/purge", h.transition("purge", h.memory.Purge))
		r.Post("/{id}/reactivate", h.transition("reactivate", h.memory.Reactivate))
	})
	r.Post("/v1/erasure", h.HandleErase)
}

func (h *Handler) HandleCanWrite(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, err := httputil.RequireActor(ctx, h.logger)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	scope := r.URL.Query().Get("scope")
	if err := validateScope(scope); err != nil {
		httputil.WriteError(w, err)
		return
	}

	allowed, err := h.memory.CanWrite(ctx, actor.Subject, models.Scope(scope))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, CanWriteResponse{Scope: scope, Allowed: allowed})
}

// HandleWrite registers content metadata. A missing or stale consent is 403.
func (h *Handler) HandleWrite(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, err := httputil.RequireActor(ctx, h.logger)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[WriteRequest](ctx, w, r, h.logger)
	if !ok {
		return
	}

	o, err := h.memory.Write(ctx, actor.Subject, models.Scope(req.Scope), req.ref(), req.ContentRef, req.Topic)
	if err != nil {
		h.fail(ctx, w, "write", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toObjectResponse(o))
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, err := httputil.RequireActor(ctx, h.logger)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	filter, err := parseListFilter(r.URL.Query())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	objects, err := h.memory.List(ctx, actor.Subject, filter)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toListResponse(objects))
}

// HandleExport returns metadata of every non-purged object.
func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, err := httputil.RequireActor(ctx, h.logger)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	objects, err := h.memory.Export(ctx, actor.Subject, actor.Type)
	if err != nil {
		h.fail(ctx, w, "export", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toListResponse(objects))
}

func (h *Handler) transition(op string, fn transitionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		actor, err := httputil.RequireActor(ctx, h.logger)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		objectID, err := id.ParseObjectID(chi.URLParam(r, "id"))
		if err != nil {
			httputil.WriteError(w, err)
			return
		}

		o, err := fn(ctx, actor.Subject, objectID, actor.Type)
		if err != nil {
			h.fail(ctx, w, op, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, toObjectResponse(o))
	}
}

// HandleErase applies a right-to-be-forgotten request to the caller's objects.
func (h *Handler) HandleErase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, err := httputil.RequireActor(ctx, h.logger)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[EraseRequest](ctx, w, r, h.logger)
	if !ok {
		return
	}
	initiator := actor.Type
	if req.InitiatorType != "" && id.ActorType(req.InitiatorType) != actor.Type {
		httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "initiator_type does not match the caller"))
		return
	}

	res, err := h.memory.Erase(ctx, actor.Subject, models.EraseRequest{
		InitiatorType: initiator,
		AuthMethod:    req.AuthMethod,
		Mode:          models.EraseMode(req.Mode),
		TargetTopic:   req.TargetTopic,
		Region:        actor.Region,
	})
	if err != nil {
		h.fail(ctx, w, "erase", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toEraseResponse(res))
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, op string, err error) {
	h.logger.WarnContext(ctx, "memory "+op+" failed",
		"error", err,
		"request_id", requestcontext.RequestID(ctx),
	)
	httputil.WriteError(w, err)
}

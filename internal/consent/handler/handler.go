package handler

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Service

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"consentledger/internal/audit"
	"consentledger/internal/consent/access"
	"consentledger/internal/consent/models"
	"consentledger/internal/consent/service"
	"consentledger/internal/ledger/confirm"
	id "consentledger/pkg/domain"
	dErrors "consentledger/pkg/domain-errors"
	"consentledger/pkg/platform/httputil"
	"consentledger/pkg/platform/middleware/requesttime"
	"consentledger/pkg/requestcontext"
)

// IdempotencyHeader may carry the correlation id instead of the body field.
const IdempotencyHeader = "Idempotency-Key"

// Service defines the consent operations the handler exposes.
type Service interface {
	Request(ctx context.Context, cmd service.RequestCommand) (*service.Result, error)
	Grant(ctx context.Context, cmd service.GrantCommand) (*service.Result, error)
	Revoke(ctx context.Context, cmd service.RevokeCommand) (*service.Result, error)
	BulkRevoke(ctx context.Context, actor id.Address, consentIDs []id.ConsentID) ([]service.BulkItem, error)
	View(ctx context.Context, consentID id.ConsentID, identity id.Address) (*service.ViewResult, error)
	Check(ctx context.Context, consentID id.ConsentID, identity id.Address) (access.Decision, error)
	Get(ctx context.Context, consentID id.ConsentID, identity id.Address) (*models.Record, error)
	List(ctx context.Context, filter models.RecordFilter) ([]*models.Record, error)
	Stats(ctx context.Context, participant id.Address) (models.Stats, error)
	History(ctx context.Context, consentID id.ConsentID, identity id.Address) ([]audit.Event, error)
	Resume(ctx context.Context, correlationID id.CorrelationID) (confirm.Outcome, error)
}

// Handler handles consent endpoints.
type Handler struct {
	logger  *slog.Logger
	consent Service
}

func New(consent Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{logger: logger, consent: consent}
}

// Register mounts the consent routes. Callers wrap r with the auth middleware.
func (h *Handler) Register(r chi.Router) {
	r.Route("/consents", func(r chi.Router) {
		r.Post("/", h.handleRequest)
		r.Get("/", h.handleList)
		r.Get("/stats", h.handleStats)
		r.Post("/bulk-revoke", h.handleBulkRevoke)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.handleGet)
			r.Post("/grant", h.handleGrant)
			r.Post("/revoke", h.handleRevoke)
			r.Get("/view", h.handleView)
			r.Get("/access", h.handleAccess)
			r.Get("/history", h.handleHistory)
		})
	})
	r.Get("/submissions/{correlationID}", h.handleSubmission)
}

func (h *Handler) handleRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sender, ok := h.identity(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeBody[CreateConsentRequest](w, r, h.logger)
	if !ok {
		return
	}
	corr, ok := h.correlation(w, r, req.CorrelationID)
	if !ok {
		return
	}

	res, err := h.consent.Request(ctx, req.ToCommand(sender, corr))
	status := http.StatusCreated
	if err == nil && res.Outcome.Replayed {
		status = http.StatusOK
	}
	h.writeTransition(w, r, "request", corr, res, err, status)
}

func (h *Handler) handleGrant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.identity(w, r)
	if !ok {
		return
	}
	consentID, ok := h.consentID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeBody[GrantRequest](w, r, h.logger)
	if !ok {
		return
	}
	corr, ok := h.correlation(w, r, req.CorrelationID)
	if !ok {
		return
	}
	cmd, err := req.ToCommand(consentID, actor, corr, requesttime.Now(ctx))
	if err != nil {
		h.fail(w, r, "invalid grant request", err)
		return
	}

	res, err := h.consent.Grant(ctx, cmd)
	h.writeTransition(w, r, "grant", corr, res, err, http.StatusOK)
}

func (h *Handler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.identity(w, r)
	if !ok {
		return
	}
	consentID, ok := h.consentID(w, r)
	if !ok {
		return
	}
	// the body is optional on revoke
	req := &RevokeRequest{}
	if r.ContentLength != 0 {
		if req, ok = httputil.DecodeBody[RevokeRequest](w, r, h.logger); !ok {
			return
		}
	}
	corr, ok := h.correlation(w, r, req.CorrelationID)
	if !ok {
		return
	}

	res, err := h.consent.Revoke(ctx, service.RevokeCommand{ConsentID: consentID, Actor: actor, CorrelationID: corr})
	h.writeTransition(w, r, "revoke", corr, res, err, http.StatusOK)
}

func (h *Handler) handleBulkRevoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.identity(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeBody[BulkRevokeRequest](w, r, h.logger)
	if !ok {
		return
	}
	ids, err := req.ToConsentIDs()
	if err != nil {
		h.fail(w, r, "invalid bulk revoke request", err)
		return
	}

	items, err := h.consent.BulkRevoke(ctx, actor, ids)
	if err != nil {
		h.fail(w, r, "bulk revoke failed", err)
		return
	}
	resp := toBulkResponse(items)
	status := http.StatusOK
	if resp.Failed > 0 {
		status = http.StatusMultiStatus
	}
	httputil.WriteJSON(w, status, resp)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	participant, ok := h.identity(w, r)
	if !ok {
		return
	}
	filter, err := parseRecordFilter(participant, r.URL.Query())
	if err != nil {
		h.fail(w, r, "invalid consent filter", err)
		return
	}

	records, err := h.consent.List(ctx, filter)
	if err != nil {
		h.fail(w, r, "failed to list consents", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toListResponse(records, requesttime.Now(ctx)))
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	participant, ok := h.identity(w, r)
	if !ok {
		return
	}
	stats, err := h.consent.Stats(r.Context(), participant)
	if err != nil {
		h.fail(w, r, "failed to compute consent stats", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stats)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}
	consentID, ok := h.consentID(w, r)
	if !ok {
		return
	}
	rec, err := h.consent.Get(ctx, consentID, identity)
	if err != nil {
		h.fail(w, r, "failed to get consent", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toConsent(rec, requesttime.Now(ctx)))
}

func (h *Handler) handleView(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}
	consentID, ok := h.consentID(w, r)
	if !ok {
		return
	}

	res, err := h.consent.View(ctx, consentID, identity)
	if err != nil {
		h.fail(w, r, "document view refused", err)
		return
	}
	resp := ViewResponse{
		Access:  toAccessResponse(res.Decision),
		Consent: toConsent(res.Record, requesttime.Now(ctx)),
	}
	if res.Outcome != nil {
		sub := toSubmission("", *res.Outcome)
		resp.Submission = &sub
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// handleAccess answers the view question without logging a view.
func (h *Handler) handleAccess(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}
	consentID, ok := h.consentID(w, r)
	if !ok {
		return
	}
	d, err := h.consent.Check(r.Context(), consentID, identity)
	if err != nil {
		h.fail(w, r, "failed to evaluate access", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toAccessResponse(d))
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}
	consentID, ok := h.consentID(w, r)
	if !ok {
		return
	}
	events, err := h.consent.History(r.Context(), consentID, identity)
	if err != nil {
		h.fail(w, r, "failed to read consent history", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, HistoryResponse{ConsentID: consentID.String(), Events: events})
}

// handleSubmission re-checks a submission without resubmitting anything.
func (h *Handler) handleSubmission(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.identity(w, r); !ok {
		return
	}
	corr, err := id.ParseCorrelationID(chi.URLParam(r, "correlationID"))
	if err != nil {
		h.fail(w, r, "invalid correlation id", err)
		return
	}
	out, err := h.consent.Resume(r.Context(), corr)
	if err != nil {
		h.fail(w, r, "failed to resume submission", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toSubmission(corr.String(), out))
}

// writeTransition answers a state-changing call. A timed-out or abandoned
// confirmation is not a failure of the request: the caller gets 202 with
// the correlation id to retry with.
func (h *Handler) writeTransition(w http.ResponseWriter, r *http.Request, op string, corr id.CorrelationID,
	res *service.Result, err error, okStatus int) {
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeTimedOut) && res != nil && res.Outcome.TxID != "" {
			httputil.WriteJSON(w, http.StatusAccepted, TransitionResponse{Submission: toSubmission(corr.String(), res.Outcome)})
			return
		}
		h.fail(w, r, op+" failed", err)
		return
	}
	httputil.WriteJSON(w, okStatus, TransitionResponse{
		Consent:    toConsent(res.Record, requesttime.Now(r.Context())),
		Submission: toSubmission(corr.String(), res.Outcome),
	})
}

func (h *Handler) identity(w http.ResponseWriter, r *http.Request) (id.Address, bool) {
	identity, err := httputil.RequireIdentity(r.Context(), h.logger)
	if err != nil {
		httputil.WriteError(w, err)
		return "", false
	}
	return identity, true
}

func (h *Handler) consentID(w http.ResponseWriter, r *http.Request) (id.ConsentID, bool) {
	consentID, err := id.ParseConsentID(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "invalid consent id", err)
		return id.ConsentID{}, false
	}
	return consentID, true
}

// correlation resolves the idempotency key: header, then body, then a fresh one.
func (h *Handler) correlation(w http.ResponseWriter, r *http.Request, fromBody string) (id.CorrelationID, bool) {
	raw := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
	if raw == "" {
		raw = fromBody
	}
	if raw == "" {
		return id.NewCorrelationID(), true
	}
	corr, err := id.ParseCorrelationID(raw)
	if err != nil {
		h.fail(w, r, "invalid correlation id", err)
		return id.CorrelationID{}, false
	}
	return corr, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	ctx := r.Context()
	level := slog.LevelWarn
	if httputil.DomainCodeToHTTPStatus(dErrors.CodeOf(err)) >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	h.logger.Log(ctx, level, msg,
		"error", err,
		"code", dErrors.CodeOf(err),
		"request_id", requestcontext.RequestID(ctx),
	)
	httputil.WriteError(w, err)
}

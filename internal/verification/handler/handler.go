// Package handler exposes the verification pipeline over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"vouch/internal/platform/middleware"
	"vouch/internal/verification/models"
	"vouch/internal/verification/service"
	id "vouch/pkg/domain"
	dErrors "vouch/pkg/domain-errors"
	"vouch/pkg/platform/httputil"
	"vouch/pkg/requestcontext"
)

// Service defines the verification operations the handler needs.
type Service interface {
	Start(ctx context.Context, userID id.UserID) (*models.VerificationRecord, error)
	Get(ctx context.Context, recordID id.VerificationID) (*models.VerificationRecord, error)
	GetByUser(ctx context.Context, userID id.UserID) (*models.VerificationRecord, error)
	SubmitIdentity(ctx context.Context, recordID id.VerificationID, req service.SubmitIdentityRequest) (*models.VerificationRecord, error)
	SubmitBackgroundCheck(ctx context.Context, recordID id.VerificationID, req service.SubmitBackgroundCheckRequest) (*models.VerificationRecord, error)
	RunIdentityPhase(ctx context.Context, recordID id.VerificationID) error
	RunBackgroundCheckPhase(ctx context.Context, recordID id.VerificationID) error
	ReopenIdentity(ctx context.Context, recordID id.VerificationID) (*models.VerificationRecord, error)
	ReopenBackgroundCheck(ctx context.Context, recordID id.VerificationID) (*models.VerificationRecord, error)
	AdminApproveIdentity(ctx context.Context, recordID id.VerificationID, actor string) (*models.VerificationRecord, error)
	AdminRejectIdentity(ctx context.Context, recordID id.VerificationID, actor, reason string) (*models.VerificationRecord, error)
	AdminApproveBackgroundCheck(ctx context.Context, recordID id.VerificationID, actor string) (*models.VerificationRecord, error)
	AdminRejectBackgroundCheck(ctx context.Context, recordID id.VerificationID, actor, reason string) (*models.VerificationRecord, error)
}

// Handler wires verification endpoints to the verification service.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// New constructs a verification handler with its dependencies.
func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the carer-facing verification endpoints.
func (h *Handler) Register(r chi.Router) {
	r.Post("/verifications", h.HandleStart)
	r.Get("/verifications/{id}", h.HandleGet)
	r.Get("/users/{userID}/verification", h.HandleGetByUser)
	r.Post("/verifications/{id}/identity", h.HandleSubmitIdentity)
	r.Post("/verifications/{id}/identity/run", h.HandleRunIdentity)
	r.Post("/verifications/{id}/identity/reopen", h.HandleReopenIdentity)
	r.Post("/verifications/{id}/background-check", h.HandleSubmitBackgroundCheck)
	r.Post("/verifications/{id}/background-check/run", h.HandleRunBackgroundCheck)
	r.Post("/verifications/{id}/background-check/reopen", h.HandleReopenBackgroundCheck)
}

// RegisterAdmin mounts the manual review endpoints. The router guards these
// with the admin role.
func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Post("/admin/verifications/{id}/identity/approve", h.HandleAdminApproveIdentity)
	r.Post("/admin/verifications/{id}/identity/reject", h.HandleAdminRejectIdentity)
	r.Post("/admin/verifications/{id}/background-check/approve", h.HandleAdminApproveBackgroundCheck)
	r.Post("/admin/verifications/{id}/background-check/reject", h.HandleAdminRejectBackgroundCheck)
}

// HandleStart handles POST /verifications requests.
func (h *Handler) HandleStart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[StartRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	userID, err := id.ParseUserID(req.UserID)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid user id"))
		return
	}

	rec, err := h.service.Start(ctx, userID)
	if err != nil {
		h.logger.ErrorContext(ctx, "verification start failed",
			"request_id", requestID,
			"user_id", req.UserID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "verification started",
		"request_id", requestID,
		"verification_id", rec.ID,
		"user_id", rec.UserID,
	)
	httputil.WriteJSON(w, http.StatusCreated, toRecordResponse(rec))
}

// HandleGet handles GET /verifications/{id} requests.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	recordID, ok := h.recordID(w, r)
	if !ok {
		return
	}

	rec, err := h.service.Get(ctx, recordID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toRecordResponse(rec))
}

// HandleGetByUser handles GET /users/{userID}/verification requests.
func (h *Handler) HandleGetByUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, err := id.ParseUserID(chi.URLParam(r, "userID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid user id"))
		return
	}

	rec, err := h.service.GetByUser(ctx, userID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toRecordResponse(rec))
}

// HandleSubmitIdentity handles POST /verifications/{id}/identity requests.
func (h *Handler) HandleSubmitIdentity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	recordID, ok := h.recordID(w, r)
	if !ok {
		return
	}

	req, ok := httputil.DecodeAndPrepare[SubmitIdentityRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	rec, err := h.service.SubmitIdentity(ctx, recordID, service.SubmitIdentityRequest{
		Surname:     req.Surname,
		GivenNames:  req.GivenNames,
		DateOfBirth: req.DateOfBirth,
		Country:     req.Country,
		DocPath:     req.DocPath,
		SelfiePath:  req.SelfiePath,
	})
	if err != nil {
		h.logger.WarnContext(ctx, "identity submission rejected",
			"request_id", requestID,
			"verification_id", recordID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusAccepted, toRecordResponse(rec))
}

// HandleRunIdentity handles POST /verifications/{id}/identity/run requests.
// The identity check runs inline; the oracle call is bounded by its own
// timeout, not the request deadline.
func (h *Handler) HandleRunIdentity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	recordID, ok := h.recordID(w, r)
	if !ok {
		return
	}

	if err := h.service.RunIdentityPhase(ctx, recordID); err != nil {
		h.logger.ErrorContext(ctx, "identity phase failed",
			"request_id", requestID,
			"verification_id", recordID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	rec, err := h.service.Get(ctx, recordID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toRecordResponse(rec))
}

// HandleReopenIdentity handles POST /verifications/{id}/identity/reopen requests.
func (h *Handler) HandleReopenIdentity(w http.ResponseWriter, r *http.Request) {
	h.reopen(w, r, h.service.ReopenIdentity)
}

// HandleSubmitBackgroundCheck handles POST /verifications/{id}/background-check requests.
func (h *Handler) HandleSubmitBackgroundCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	recordID, ok := h.recordID(w, r)
	if !ok {
		return
	}

	req, ok := httputil.DecodeAndPrepare[SubmitBackgroundCheckRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	rec, err := h.service.SubmitBackgroundCheck(ctx, recordID, service.SubmitBackgroundCheckRequest{
		Method:      models.WWCCMethod(req.Method),
		DocPath:     req.DocPath,
		CheckNumber: req.CheckNumber,
	})
	if err != nil {
		h.logger.WarnContext(ctx, "background-check submission rejected",
			"request_id", requestID,
			"verification_id", recordID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusAccepted, toRecordResponse(rec))
}

// HandleRunBackgroundCheck handles POST /verifications/{id}/background-check/run requests.
func (h *Handler) HandleRunBackgroundCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	recordID, ok := h.recordID(w, r)
	if !ok {
		return
	}

	if err := h.service.RunBackgroundCheckPhase(ctx, recordID); err != nil {
		h.logger.ErrorContext(ctx, "background-check phase failed",
			"request_id", requestID,
			"verification_id", recordID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	rec, err := h.service.Get(ctx, recordID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toRecordResponse(rec))
}

// HandleReopenBackgroundCheck handles POST /verifications/{id}/background-check/reopen requests.
func (h *Handler) HandleReopenBackgroundCheck(w http.ResponseWriter, r *http.Request) {
	h.reopen(w, r, h.service.ReopenBackgroundCheck)
}

// HandleAdminApproveIdentity handles POST /admin/verifications/{id}/identity/approve.
func (h *Handler) HandleAdminApproveIdentity(w http.ResponseWriter, r *http.Request) {
	h.adminApprove(w, r, h.service.AdminApproveIdentity)
}

// HandleAdminRejectIdentity handles POST /admin/verifications/{id}/identity/reject.
func (h *Handler) HandleAdminRejectIdentity(w http.ResponseWriter, r *http.Request) {
	h.adminReject(w, r, h.service.AdminRejectIdentity)
}

// HandleAdminApproveBackgroundCheck handles POST /admin/verifications/{id}/background-check/approve.
func (h *Handler) HandleAdminApproveBackgroundCheck(w http.ResponseWriter, r *http.Request) {
	h.adminApprove(w, r, h.service.AdminApproveBackgroundCheck)
}

// HandleAdminRejectBackgroundCheck handles POST /admin/verifications/{id}/background-check/reject.
func (h *Handler) HandleAdminRejectBackgroundCheck(w http.ResponseWriter, r *http.Request) {
	h.adminReject(w, r, h.service.AdminRejectBackgroundCheck)
}

func (h *Handler) reopen(
	w http.ResponseWriter,
	r *http.Request,
	op func(ctx context.Context, recordID id.VerificationID) (*models.VerificationRecord, error),
) {
	ctx := r.Context()
	recordID, ok := h.recordID(w, r)
	if !ok {
		return
	}

	rec, err := op(ctx, recordID)
	if err != nil {
		h.logger.WarnContext(ctx, "reopen rejected",
			"request_id", requestcontext.RequestID(ctx),
			"verification_id", recordID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toRecordResponse(rec))
}

func (h *Handler) adminApprove(
	w http.ResponseWriter,
	r *http.Request,
	op func(ctx context.Context, recordID id.VerificationID, actor string) (*models.VerificationRecord, error),
) {
	ctx := r.Context()
	recordID, ok := h.recordID(w, r)
	if !ok {
		return
	}

	rec, err := op(ctx, recordID, middleware.GetUserID(ctx))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toRecordResponse(rec))
}

func (h *Handler) adminReject(
	w http.ResponseWriter,
	r *http.Request,
	op func(ctx context.Context, recordID id.VerificationID, actor, reason string) (*models.VerificationRecord, error),
) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	recordID, ok := h.recordID(w, r)
	if !ok {
		return
	}

	req, ok := httputil.DecodeAndPrepare[AdminRejectRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	if req.Reason == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "a rejection reason is required"))
		return
	}

	rec, err := op(ctx, recordID, middleware.GetUserID(ctx), req.Reason)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toRecordResponse(rec))
}

func (h *Handler) recordID(w http.ResponseWriter, r *http.Request) (id.VerificationID, bool) {
	recordID, err := id.ParseVerificationID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid verification id"))
		return id.VerificationID{}, false
	}
	return recordID, true
}

package reconcile

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"vouch/pkg/platform/httputil"
	"vouch/pkg/requestcontext"
)

// Handler exposes the reconciliation webhook.
type Handler struct {
	service *Service
	secret  string
	logger  *slog.Logger
}

// NewHandler builds the webhook handler. secret is the static bearer
// credential the email-to-webhook bridge presents.
func NewHandler(service *Service, secret string, logger *slog.Logger) *Handler {
	return &Handler{service: service, secret: secret, logger: logger}
}

// Register mounts the webhook route.
func (h *Handler) Register(r chi.Router) {
	r.Post("/webhooks/wwcc-results", h.handleResults)
}

type webhookRequest struct {
	HTML      string `json:"html"`
	MessageID string `json:"message_id"`
}

func (h *Handler) handleResults(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	if h.secret == "" {
		h.logger.ErrorContext(ctx, "webhook shared secret not configured", "request_id", requestID)
		httputil.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": "webhook not configured"})
		return
	}
	if !h.authorized(r) {
		h.logger.WarnContext(ctx, "webhook rejected, bad bearer credential", "request_id", requestID)
		httputil.WriteJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	req, ok := decodeWebhookBody(r)
	if !ok {
		httputil.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "unparseable request body"})
		return
	}
	if strings.TrimSpace(req.HTML) == "" {
		httputil.WriteJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "html field is required"})
		return
	}

	summary, err := h.service.Process(ctx, req.HTML, req.MessageID)
	if err != nil {
		h.logger.WarnContext(ctx, "notice could not be decomposed",
			"request_id", requestID,
			"message_id", req.MessageID,
			"error", err,
		)
		httputil.WriteJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "notice could not be decomposed into result rows"})
		return
	}

	h.logger.InfoContext(ctx, "webhook processed",
		"request_id", requestID,
		"message_id", req.MessageID,
		"rows", len(summary.Results),
		"processed", summary.Processed,
	)
	httputil.WriteJSON(w, http.StatusOK, summary)
}

func (h *Handler) authorized(r *http.Request) bool {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.secret)) == 1
}

// decodeWebhookBody accepts a JSON body or a form-encoded one (urlencoded or
// multipart), both carrying html (required) and message_id (optional).
func decodeWebhookBody(r *http.Request) (webhookRequest, bool) {
	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "application/json") {
		var req webhookRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return webhookRequest{}, false
		}
		return req, true
	}

	if strings.HasPrefix(contentType, "multipart/form-data") {
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			return webhookRequest{}, false
		}
	} else if err := r.ParseForm(); err != nil {
		return webhookRequest{}, false
	}
	return webhookRequest{
		HTML:      r.FormValue("html"),
		MessageID: r.FormValue("message_id"),
	}, true
}

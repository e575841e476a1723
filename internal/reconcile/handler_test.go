package reconcile

import (
	"bytes"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vouch/internal/verification/models"
	"vouch/pkg/testutil"
)

const webhookSecret = "bridge-secret"

func newWebhookRouter(t *testing.T, env *testEnv, secret string) http.Handler {
	t.Helper()
	r := chi.NewRouter()
	NewHandler(env.service, secret, slog.Default()).Register(r)
	return r
}

func TestWebhook_Unconfigured(t *testing.T) {
	env := newTestEnv(t)
	router := newWebhookRouter(t, env, "")

	req := testutil.NewJSONRequest(t, http.MethodPost, "/webhooks/wwcc-results",
		map[string]string{"html": "<p>x</p>"})
	req.Header.Set("Authorization", "Bearer anything")

	rr := testutil.DoRequest(router, req)
	testutil.AssertStatus(t, rr, http.StatusInternalServerError)
}

func TestWebhook_Unauthorized(t *testing.T) {
	env := newTestEnv(t)
	router := newWebhookRouter(t, env, webhookSecret)

	t.Run("missing header", func(t *testing.T) {
		req := testutil.NewJSONRequest(t, http.MethodPost, "/webhooks/wwcc-results",
			map[string]string{"html": "<p>x</p>"})
		rr := testutil.DoRequest(router, req)
		testutil.AssertStatus(t, rr, http.StatusUnauthorized)
	})

	t.Run("wrong secret", func(t *testing.T) {
		req := testutil.NewJSONRequest(t, http.MethodPost, "/webhooks/wwcc-results",
			map[string]string{"html": "<p>x</p>"})
		req.Header.Set("Authorization", "Bearer wrong")
		rr := testutil.DoRequest(router, req)
		testutil.AssertStatus(t, rr, http.StatusUnauthorized)
	})
}

func TestWebhook_BadBody(t *testing.T) {
	env := newTestEnv(t)
	router := newWebhookRouter(t, env, webhookSecret)

	t.Run("malformed json", func(t *testing.T) {
		req := testutil.NewRequestWithBody(t, http.MethodPost, "/webhooks/wwcc-results", "{not json")
		req.Header.Set("Authorization", "Bearer "+webhookSecret)
		rr := testutil.DoRequest(router, req)
		testutil.AssertStatus(t, rr, http.StatusBadRequest)
	})

	t.Run("missing html", func(t *testing.T) {
		req := testutil.NewJSONRequest(t, http.MethodPost, "/webhooks/wwcc-results",
			map[string]string{"message_id": "m-1"})
		req.Header.Set("Authorization", "Bearer "+webhookSecret)
		rr := testutil.DoRequest(router, req)
		testutil.AssertStatus(t, rr, http.StatusUnprocessableEntity)
	})

	t.Run("html with no result rows", func(t *testing.T) {
		req := testutil.NewJSONRequest(t, http.MethodPost, "/webhooks/wwcc-results",
			map[string]string{"html": "<p>nothing here</p>"})
		req.Header.Set("Authorization", "Bearer "+webhookSecret)
		rr := testutil.DoRequest(router, req)
		testutil.AssertStatus(t, rr, http.StatusUnprocessableEntity)
	})
}

func TestWebhook_ProcessesJSONBody(t *testing.T) {
	env := newTestEnv(t)
	rec := env.seedRecord(t, "Nguyen", "WWC1234567A", models.StatusProvisionallyVerified)
	router := newWebhookRouter(t, env, webhookSecret)

	req := testutil.NewJSONRequest(t, http.MethodPost, "/webhooks/wwcc-results", map[string]string{
		"html":       buildNotice(resultRow("Nguyen", "WWC1234567A", "CLEARED", "", "15/06/2031")),
		"message_id": "bridge-msg-1",
	})
	req.Header.Set("Authorization", "Bearer "+webhookSecret)

	rr := testutil.DoRequest(router, req)
	testutil.AssertStatus(t, rr, http.StatusOK)

	summary := testutil.UnmarshalResponse[Summary](t, rr)
	assert.Equal(t, 1, summary.Processed)
	require.Len(t, summary.Results, 1)
	assert.Equal(t, ActionCleared, summary.Results[0].Action)
	assert.Equal(t, rec.ID.String(), summary.Results[0].VerificationID)
}

func TestWebhook_ProcessesFormBody(t *testing.T) {
	env := newTestEnv(t)
	env.seedRecord(t, "Nguyen", "WWC1234567A", models.StatusProvisionallyVerified)
	router := newWebhookRouter(t, env, webhookSecret)

	form := url.Values{}
	form.Set("html", buildNotice(resultRow("Nguyen", "WWC1234567A", "CLEARED", "", "15/06/2031")))
	form.Set("message_id", "bridge-msg-2")

	req := testutil.NewRequestWithBody(t, http.MethodPost, "/webhooks/wwcc-results", form.Encode())
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+webhookSecret)

	rr := testutil.DoRequest(router, req)
	testutil.AssertStatus(t, rr, http.StatusOK)

	summary := testutil.UnmarshalResponse[Summary](t, rr)
	assert.Equal(t, 1, summary.Processed)
}

func TestWebhook_ProcessesMultipartBody(t *testing.T) {
	env := newTestEnv(t)
	env.seedRecord(t, "Nguyen", "WWC1234567A", models.StatusProvisionallyVerified)
	router := newWebhookRouter(t, env, webhookSecret)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	require.NoError(t, writer.WriteField("html",
		buildNotice(resultRow("Nguyen", "WWC1234567A", "CLEARED", "", "15/06/2031"))))
	require.NoError(t, writer.WriteField("message_id", "bridge-msg-3"))
	require.NoError(t, writer.Close())

	req := testutil.NewRequestWithBody(t, http.MethodPost, "/webhooks/wwcc-results", body.String())
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+webhookSecret)

	rr := testutil.DoRequest(router, req)
	testutil.AssertStatus(t, rr, http.StatusOK)

	summary := testutil.UnmarshalResponse[Summary](t, rr)
	assert.Equal(t, 1, summary.Processed)
}

package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vouch/internal/audit"
	"vouch/internal/docstore"
	"vouch/internal/notify"
	"vouch/internal/oracle"
	"vouch/internal/profile"
	"vouch/internal/verification/models"
	"vouch/internal/verification/store/memory"
	id "vouch/pkg/domain"
	"vouch/pkg/requestcontext"
)

var testNow = time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)

const grantText = `From: noreply@kidsguardian.nsw.gov.au
Subject: Working With Children Check application outcome

Office of the Children's Guardian
NSW Government

Your reference: WWC1234567A

Dear applicant,

Your Working With Children Check application has been granted.

FAMILY NAME
Nguyen

FIRST NAME
Linh

OTHER NAMES
Thi

WWC NUMBER
WWC1234567A

CLEARANCE TYPE
Employee

EXPIRY DATE
15/06/2031

Please keep this notification for your records.

Do not reply to this email.
`

type fakeExtractor struct {
	identityCalls atomic.Int32
	wwccCalls     atomic.Int32

	identityFn func(submitted oracle.IdentitySubmission) (*oracle.IdentityExtraction, error)
	wwccFn     func(submitted oracle.WWCCSubmission) (*oracle.WWCCExtraction, error)
}

func (f *fakeExtractor) ExtractIdentity(_ context.Context, _, _ string, submitted oracle.IdentitySubmission) (*oracle.IdentityExtraction, error) {
	f.identityCalls.Add(1)
	return f.identityFn(submitted)
}

func (f *fakeExtractor) ExtractBackgroundCheck(_ context.Context, _ string, submitted oracle.WWCCSubmission) (*oracle.WWCCExtraction, error) {
	f.wwccCalls.Add(1)
	return f.wwccFn(submitted)
}

func passingIdentityExtraction(submitted oracle.IdentitySubmission) (*oracle.IdentityExtraction, error) {
	return &oracle.IdentityExtraction{
		DocumentValid:       true,
		ImageQuality:        "good",
		Surname:             submitted.Surname,
		GivenNames:          submitted.GivenNames,
		DateOfBirth:         submitted.DateOfBirth,
		ExpiryDate:          "2031-01-01",
		SelfieUsable:        true,
		FaceMatchConfidence: 95,
		ConsistencyOK:       true,
		Reasoning:           "all checks passed",
	}, nil
}

type notification struct {
	Recipient string
	Template  notify.Template
	Data      map[string]string
}

type captureNotifier struct {
	mu   sync.Mutex
	sent []notification
}

func (c *captureNotifier) Dispatch(recipient string, template notify.Template, data map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, notification{Recipient: recipient, Template: template, Data: data})
}

func (c *captureNotifier) templates() []notify.Template {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]notify.Template, 0, len(c.sent))
	for _, n := range c.sent {
		out = append(out, n.Template)
	}
	return out
}

func (c *captureNotifier) last() notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sent) == 0 {
		return notification{}
	}
	return c.sent[len(c.sent)-1]
}

type captureAuditor struct {
	mu     sync.Mutex
	events []audit.Event
}

func (c *captureAuditor) Emit(_ context.Context, event audit.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func (c *captureAuditor) actions() []audit.Action {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]audit.Action, 0, len(c.events))
	for _, e := range c.events {
		out = append(out, e.Action)
	}
	return out
}

type testEnv struct {
	service   *Service
	records   *memory.Store
	profiles  *profile.InMemoryStore
	storage   *docstore.InMemoryStorage
	extractor *fakeExtractor
	notifier  *captureNotifier
	auditor   *captureAuditor
	ctx       context.Context
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		records:  memory.New(),
		profiles: profile.NewInMemoryStore(),
		storage:  docstore.NewInMemory(),
		extractor: &fakeExtractor{
			identityFn: passingIdentityExtraction,
			wwccFn: func(oracle.WWCCSubmission) (*oracle.WWCCExtraction, error) {
				return &oracle.WWCCExtraction{
					Surname:     "Nguyen",
					FirstName:   "Linh",
					CheckNumber: "WWC1234567A",
					ExpiryDate:  "2031-06-15",
					Passed:      true,
					Reasoning:   "document genuine",
				}, nil
			},
		},
		notifier: &captureNotifier{},
		auditor:  &captureAuditor{},
	}
	env.service = New(env.records, env.profiles, env.extractor, env.storage,
		WithNotifier(env.notifier),
		WithAuditor(env.auditor),
	)
	env.ctx = requestcontext.WithTime(context.Background(), testNow)
	return env
}

// startVerified walks a record through a passing identity phase so
// background-check tests begin at the right place.
func (env *testEnv) startVerified(t *testing.T) *models.VerificationRecord {
	t.Helper()

	userID, err := id.ParseUserID("3f2d6f64-9a1b-4c5d-8e7f-102938475610")
	require.NoError(t, err)

	rec, err := env.service.Start(env.ctx, userID)
	require.NoError(t, err)
	require.Equal(t, models.StatusIdentityPending, rec.Status())

	env.storage.Put("identity/doc.jpg", []byte("doc"))
	env.storage.Put("identity/selfie.jpg", []byte("selfie"))

	rec, err = env.service.SubmitIdentity(env.ctx, rec.ID, SubmitIdentityRequest{
		Surname:     "Nguyen",
		GivenNames:  "Linh",
		DateOfBirth: "1992-03-04",
		Country:     "AU",
		DocPath:     "identity/doc.jpg",
		SelfiePath:  "identity/selfie.jpg",
	})
	require.NoError(t, err)

	require.NoError(t, env.service.RunIdentityPhase(env.ctx, rec.ID))

	rec, err = env.service.Get(env.ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusWWCCPending, rec.Status())
	return rec
}

func TestStart(t *testing.T) {
	env := newTestEnv(t)
	userID, err := id.ParseUserID("3f2d6f64-9a1b-4c5d-8e7f-102938475610")
	require.NoError(t, err)

	rec, err := env.service.Start(env.ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusIdentityPending, rec.Status())

	t.Run("idempotent per user", func(t *testing.T) {
		again, err := env.service.Start(env.ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, rec.ID, again.ID)
	})

	t.Run("zero user id rejected", func(t *testing.T) {
		_, err := env.service.Start(env.ctx, id.UserID{})
		assert.Error(t, err)
	})

	t.Run("profile projection created", func(t *testing.T) {
		proj, err := env.profiles.Get(env.ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, 1, proj.VerificationLevel)
		assert.False(t, proj.IdentityVerified)
	})
}

func TestIdentityPhase_Pass(t *testing.T) {
	env := newTestEnv(t)
	rec := env.startVerified(t)

	assert.True(t, rec.IdentityVerified)
	assert.Equal(t, "Nguyen", rec.ExtractedSurname)
	assert.Contains(t, env.notifier.templates(), notify.TemplateIdentityApproved)
	assert.Contains(t, env.auditor.actions(), audit.ActionIdentityPassed)

	proj, err := env.profiles.Get(env.ctx, rec.UserID)
	require.NoError(t, err)
	assert.True(t, proj.IdentityVerified)
	assert.Equal(t, 2, proj.VerificationLevel)

	t.Run("second run is a no-op", func(t *testing.T) {
		before := env.extractor.identityCalls.Load()
		require.NoError(t, env.service.RunIdentityPhase(env.ctx, rec.ID))
		assert.Equal(t, before, env.extractor.identityCalls.Load())
	})
}

func TestIdentityPhase_FailureRoutesToReview(t *testing.T) {
	env := newTestEnv(t)
	env.extractor.identityFn = func(submitted oracle.IdentitySubmission) (*oracle.IdentityExtraction, error) {
		extraction, _ := passingIdentityExtraction(submitted)
		extraction.Surname = "Somebody Else"
		return extraction, nil
	}

	userID, err := id.ParseUserID("3f2d6f64-9a1b-4c5d-8e7f-102938475610")
	require.NoError(t, err)
	rec, err := env.service.Start(env.ctx, userID)
	require.NoError(t, err)

	env.storage.Put("identity/doc.jpg", []byte("doc"))
	env.storage.Put("identity/selfie.jpg", []byte("selfie"))
	_, err = env.service.SubmitIdentity(env.ctx, rec.ID, SubmitIdentityRequest{
		Surname:     "Nguyen",
		GivenNames:  "Linh",
		DateOfBirth: "1992-03-04",
		DocPath:     "identity/doc.jpg",
		SelfiePath:  "identity/selfie.jpg",
	})
	require.NoError(t, err)

	require.NoError(t, env.service.RunIdentityPhase(env.ctx, rec.ID))

	rec, err = env.service.Get(env.ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusIdentityManualReview, rec.Status())
	assert.False(t, rec.IdentityVerified)
	assert.NotEmpty(t, rec.IdentityIssues)

	last := env.notifier.last()
	assert.Equal(t, notify.TemplateIdentityReview, last.Template)
	assert.Equal(t, "name_dob_mismatch", last.Data["guidance"])
	assert.NotEmpty(t, last.Data["message"])

	t.Run("admin approval moves it on", func(t *testing.T) {
		approved, err := env.service.AdminApproveIdentity(env.ctx, rec.ID, "reviewer-1")
		require.NoError(t, err)
		assert.Equal(t, models.StatusWWCCPending, approved.Status())
		assert.True(t, approved.IdentityVerified)
		assert.Contains(t, env.auditor.actions(), audit.ActionAdminApproved)
	})
}

func TestIdentityPhase_MissingFiles(t *testing.T) {
	env := newTestEnv(t)
	userID, err := id.ParseUserID("3f2d6f64-9a1b-4c5d-8e7f-102938475610")
	require.NoError(t, err)
	rec, err := env.service.Start(env.ctx, userID)
	require.NoError(t, err)

	require.NoError(t, env.service.RunIdentityPhase(env.ctx, rec.ID))

	rec, err = env.service.Get(env.ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusIdentityManualReview, rec.Status())
	assert.Contains(t, rec.IdentityIssues, "missing file")
	assert.Zero(t, env.extractor.identityCalls.Load(), "oracle must not run without files")
}

func TestBackgroundCheck_ParserPathPass(t *testing.T) {
	env := newTestEnv(t)
	rec := env.startVerified(t)

	env.storage.Put("wwcc/grant.txt", []byte(grantText))
	_, err := env.service.SubmitBackgroundCheck(env.ctx, rec.ID, SubmitBackgroundCheckRequest{
		Method:      models.WWCCMethodGrantDocument,
		DocPath:     "wwcc/grant.txt",
		CheckNumber: "WWC1234567A",
	})
	require.NoError(t, err)

	require.NoError(t, env.service.RunBackgroundCheckPhase(env.ctx, rec.ID))

	rec, err = env.service.Get(env.ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusProvisionallyVerified, rec.Status())
	assert.Equal(t, "match", rec.CrossCheckStatus)
	assert.Equal(t, "WWC1234567A", rec.ExtractedWWCCNumber)
	assert.Equal(t, "Employee", rec.ClearanceType)
	require.NotNil(t, rec.WWCCExpiry)
	assert.Equal(t, "2031-06-15", rec.WWCCExpiry.Format("2006-01-02"))

	assert.Zero(t, env.extractor.wwccCalls.Load(), "deterministic parse must not call the oracle")
	assert.Contains(t, env.notifier.templates(), notify.TemplateWWCCProvisional)
	assert.Contains(t, env.auditor.actions(), audit.ActionWWCCPassed)
}

func TestBackgroundCheck_ParserValidationFailDoesNotFallBack(t *testing.T) {
	env := newTestEnv(t)
	rec := env.startVerified(t)

	// The document reads fine but names a different person. That is a real
	// fail and must never escalate to the oracle.
	mismatch := strings.Replace(grantText, "FAMILY NAME\nNguyen", "FAMILY NAME\nSmith", 1)
	env.storage.Put("wwcc/grant.txt", []byte(mismatch))

	_, err := env.service.SubmitBackgroundCheck(env.ctx, rec.ID, SubmitBackgroundCheckRequest{
		Method:      models.WWCCMethodGrantDocument,
		DocPath:     "wwcc/grant.txt",
		CheckNumber: "WWC1234567A",
	})
	require.NoError(t, err)

	require.NoError(t, env.service.RunBackgroundCheckPhase(env.ctx, rec.ID))

	rec, err = env.service.Get(env.ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusWWCCDocumentFailed, rec.Status())
	assert.NotEmpty(t, rec.WWCCIssues)
	assert.Zero(t, env.extractor.wwccCalls.Load())
	assert.Contains(t, env.auditor.actions(), audit.ActionWWCCFailed)

	t.Run("user can reopen after a document fail", func(t *testing.T) {
		reopened, err := env.service.ReopenBackgroundCheck(env.ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusWWCCPending, reopened.Status())
	})
}

func TestBackgroundCheck_ParserFallbackToOracle(t *testing.T) {
	env := newTestEnv(t)
	rec := env.startVerified(t)

	// Too few template markers to trust a deterministic read.
	env.storage.Put("wwcc/grant.txt", []byte("FAMILY NAME\nNguyen\nWWC NUMBER\nWWC1234567A\n"))
	_, err := env.service.SubmitBackgroundCheck(env.ctx, rec.ID, SubmitBackgroundCheckRequest{
		Method:      models.WWCCMethodGrantDocument,
		DocPath:     "wwcc/grant.txt",
		CheckNumber: "WWC1234567A",
	})
	require.NoError(t, err)

	require.NoError(t, env.service.RunBackgroundCheckPhase(env.ctx, rec.ID))

	rec, err = env.service.Get(env.ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusProvisionallyVerified, rec.Status())
	assert.Equal(t, int32(1), env.extractor.wwccCalls.Load(), "fallback should reach the oracle exactly once")
}

func TestBackgroundCheck_OraclePathScreenshot(t *testing.T) {
	env := newTestEnv(t)
	rec := env.startVerified(t)

	env.storage.Put("wwcc/wallet.png", []byte{0x89, 0x50, 0x4e, 0x47})
	_, err := env.service.SubmitBackgroundCheck(env.ctx, rec.ID, SubmitBackgroundCheckRequest{
		Method:  models.WWCCMethodWalletScreenshot,
		DocPath: "wwcc/wallet.png",
	})
	require.NoError(t, err)

	require.NoError(t, env.service.RunBackgroundCheckPhase(env.ctx, rec.ID))

	rec, err = env.service.Get(env.ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusProvisionallyVerified, rec.Status())
	assert.Equal(t, int32(1), env.extractor.wwccCalls.Load())
}

func TestBackgroundCheck_SurnameMismatchRoutesToReview(t *testing.T) {
	env := newTestEnv(t)
	env.extractor.wwccFn = func(oracle.WWCCSubmission) (*oracle.WWCCExtraction, error) {
		return &oracle.WWCCExtraction{
			Surname:     "Someone",
			FirstName:   "Else",
			CheckNumber: "WWC7654321B",
			ExpiryDate:  "2031-06-15",
			Passed:      true,
			Reasoning:   "document genuine",
		}, nil
	}
	rec := env.startVerified(t)

	env.storage.Put("wwcc/wallet.png", []byte("png"))
	_, err := env.service.SubmitBackgroundCheck(env.ctx, rec.ID, SubmitBackgroundCheckRequest{
		Method:  models.WWCCMethodWalletScreenshot,
		DocPath: "wwcc/wallet.png",
	})
	require.NoError(t, err)

	require.NoError(t, env.service.RunBackgroundCheckPhase(env.ctx, rec.ID))

	rec, err = env.service.Get(env.ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusWWCCManualReview, rec.Status())
	assert.Equal(t, "name_mismatch", rec.CrossCheckStatus)
	assert.Contains(t, env.notifier.templates(), notify.TemplateWWCCReview)
}

func TestBackgroundCheck_ManualEntry(t *testing.T) {
	env := newTestEnv(t)
	rec := env.startVerified(t)

	t.Run("malformed number rejected at submission", func(t *testing.T) {
		_, err := env.service.SubmitBackgroundCheck(env.ctx, rec.ID, SubmitBackgroundCheckRequest{
			Method:      models.WWCCMethodManualEntry,
			CheckNumber: "WWC123",
		})
		require.Error(t, err)
	})

	_, err := env.service.SubmitBackgroundCheck(env.ctx, rec.ID, SubmitBackgroundCheckRequest{
		Method:      models.WWCCMethodManualEntry,
		CheckNumber: "wwc1234567a",
	})
	require.NoError(t, err)

	require.NoError(t, env.service.RunBackgroundCheckPhase(env.ctx, rec.ID))

	rec, err = env.service.Get(env.ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusWWCCManualReview, rec.Status())
	assert.Equal(t, rec.SubmittedWWCCNumber, rec.ExtractedWWCCNumber)
	assert.Zero(t, env.extractor.wwccCalls.Load(), "manual entry never reaches the oracle")
}

func TestBackgroundCheck_ConcurrentInvocationsClaimOnce(t *testing.T) {
	env := newTestEnv(t)

	release := make(chan struct{})
	env.extractor.wwccFn = func(oracle.WWCCSubmission) (*oracle.WWCCExtraction, error) {
		<-release
		return &oracle.WWCCExtraction{
			Surname:     "Nguyen",
			CheckNumber: "WWC1234567A",
			ExpiryDate:  "2031-06-15",
			Passed:      true,
		}, nil
	}

	rec := env.startVerified(t)
	env.storage.Put("wwcc/wallet.png", []byte("png"))
	_, err := env.service.SubmitBackgroundCheck(env.ctx, rec.ID, SubmitBackgroundCheckRequest{
		Method:  models.WWCCMethodWalletScreenshot,
		DocPath: "wwcc/wallet.png",
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, env.service.RunBackgroundCheckPhase(env.ctx, rec.ID))
		}()
	}

	// Give the winner time to take the claim, then let everyone finish.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), env.extractor.wwccCalls.Load(), "exactly one invocation may own the record")

	rec, err = env.service.Get(env.ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusProvisionallyVerified, rec.Status())
}

func TestBackgroundCheck_ConcurrentManualEntryNotifiesOnce(t *testing.T) {
	env := newTestEnv(t)
	rec := env.startVerified(t)

	_, err := env.service.SubmitBackgroundCheck(env.ctx, rec.ID, SubmitBackgroundCheckRequest{
		Method:      models.WWCCMethodManualEntry,
		CheckNumber: "WWC1234567A",
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, env.service.RunBackgroundCheckPhase(env.ctx, rec.ID))
		}()
	}
	wg.Wait()

	var reviews int
	for _, template := range env.notifier.templates() {
		if template == notify.TemplateWWCCReview {
			reviews++
		}
	}
	assert.Equal(t, 1, reviews, "only the claim winner may dispatch the review notification")

	rec, err = env.service.Get(env.ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusWWCCManualReview, rec.Status())
}

func TestBackgroundCheck_CancelledExtractionIsNotATimeout(t *testing.T) {
	env := newTestEnv(t)
	env.extractor.wwccFn = func(oracle.WWCCSubmission) (*oracle.WWCCExtraction, error) {
		return nil, fmt.Errorf("oracle call aborted: %w", context.Canceled)
	}

	rec := env.startVerified(t)
	env.storage.Put("wwcc/wallet.png", []byte("png"))
	_, err := env.service.SubmitBackgroundCheck(env.ctx, rec.ID, SubmitBackgroundCheckRequest{
		Method:  models.WWCCMethodWalletScreenshot,
		DocPath: "wwcc/wallet.png",
	})
	require.NoError(t, err)

	require.NoError(t, env.service.RunBackgroundCheckPhase(env.ctx, rec.ID))

	rec, err = env.service.Get(env.ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusWWCCManualReview, rec.Status())
	require.Len(t, rec.WWCCIssues, 1)
	assert.NotContains(t, rec.WWCCIssues[0], "timed out")
	assert.Contains(t, rec.WWCCIssues[0], "extraction failed")
}

func TestAdminBackgroundCheckReview(t *testing.T) {
	env := newTestEnv(t)
	rec := env.startVerified(t)

	_, err := env.service.SubmitBackgroundCheck(env.ctx, rec.ID, SubmitBackgroundCheckRequest{
		Method:      models.WWCCMethodManualEntry,
		CheckNumber: "WWC1234567A",
	})
	require.NoError(t, err)
	require.NoError(t, env.service.RunBackgroundCheckPhase(env.ctx, rec.ID))

	t.Run("approve from manual review", func(t *testing.T) {
		approved, err := env.service.AdminApproveBackgroundCheck(env.ctx, rec.ID, "reviewer-1")
		require.NoError(t, err)
		assert.Equal(t, models.StatusFullyVerified, approved.Status())
		assert.True(t, approved.WWCCVerified)

		proj, err := env.profiles.Get(env.ctx, rec.UserID)
		require.NoError(t, err)
		assert.Equal(t, 4, proj.VerificationLevel)
		assert.True(t, proj.WWCCVerified)
	})
}

func TestAdminRejectBackgroundCheck(t *testing.T) {
	env := newTestEnv(t)
	rec := env.startVerified(t)

	_, err := env.service.SubmitBackgroundCheck(env.ctx, rec.ID, SubmitBackgroundCheckRequest{
		Method:      models.WWCCMethodManualEntry,
		CheckNumber: "WWC1234567A",
	})
	require.NoError(t, err)
	require.NoError(t, env.service.RunBackgroundCheckPhase(env.ctx, rec.ID))

	rejected, err := env.service.AdminRejectBackgroundCheck(env.ctx, rec.ID, "reviewer-1", "document appears altered")
	require.NoError(t, err)
	assert.Equal(t, models.StatusWWCCRejected, rejected.Status())
	assert.Equal(t, "document appears altered", rejected.RejectionReason)

	t.Run("rejection can be reopened", func(t *testing.T) {
		reopened, err := env.service.ReopenBackgroundCheck(env.ctx, rejected.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusWWCCPending, reopened.Status())
	})
}

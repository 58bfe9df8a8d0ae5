package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contaflow/recon-backend/internal/application/reconciler"
	"github.com/contaflow/recon-backend/internal/domain/model"
	"github.com/contaflow/recon-backend/internal/infrastructure/config"
	"github.com/contaflow/recon-backend/internal/infrastructure/storage"
)

func newTestServer(t *testing.T) (*gin.Engine, *storage.MockRepository, *reconciler.JobService) {
	t.Helper()

	cfg := &config.Config{
		Server: config.ServerConfig{
			AllowedOrigins: []string{"http://localhost:5173"},
		},
		Reconciliation: config.ReconciliationConfig{
			AmountTolerance:      0.01,
			AmountToleranceRel:   0.01,
			DateWindowDays:       5,
			AutoMatchThreshold:   0.90,
			SuggestFloor:         0.50,
			TransferTolerance:    0.01,
			SplitTolerance:       0.01,
			AutoApproveThreshold: 0.90,
		},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := storage.NewMockRepository()
	engine := reconciler.NewReconciler(cfg, repo, logger, nil)
	jobs := reconciler.NewJobService(engine, logger)

	return NewServer(cfg, engine, jobs, logger).Router(), repo, jobs
}

func doRequest(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("X-Tenant-ID", "t1")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func seedMatchedPair(t *testing.T, repo *storage.MockRepository) {
	t.Helper()
	day := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repo.SaveTransaction(&model.Transaction{
		ID: "tx1", AccountID: "acct-1", TenantID: "t1", Date: day,
		Amount: -1500.00, Description: "PAYMENT TO ACME", Currency: "MXN",
		Status: model.TxPending, Fingerprint: "fp-tx1", CreatedAt: day,
	}))
	require.NoError(t, repo.SaveInvoice(&model.Invoice{
		ID: "inv1", TenantID: "t1", IssuerName: "ACME",
		Total: 1500.00, IssuedAt: day, DocumentID: "doc-inv1",
		Status: model.InvoiceValid,
	}))
}

func TestHealthEndpoint(t *testing.T) {
	router, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}

func TestTenantHeaderRequired(t *testing.T) {
	router, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/suggestions", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "tenant id is required")
}

func TestTenantQueryParamAccepted(t *testing.T) {
	router, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/suggestions?tenant=t1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGetSuggestions_EmptyIsJSONArray(t *testing.T) {
	router, _, _ := newTestServer(t)

	w := doRequest(t, router, http.MethodGet, "/api/suggestions", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]", w.Body.String())
}

func TestPostMatch_AppliesAndReportsOutcome(t *testing.T) {
	router, repo, _ := newTestServer(t)
	seedMatchedPair(t, repo)

	w := doRequest(t, router, http.MethodPost, "/api/matches", gin.H{
		"transaction_id": "tx1",
		"invoice_id":     "inv1",
		"actor":          "tester",
	})

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "applied", resp["outcome"])

	tx, err := repo.GetTransaction("t1", "tx1")
	require.NoError(t, err)
	assert.Equal(t, model.TxManuallyMatched, tx.Status)

	// Re-applying the same match is a no-op, not an error.
	w = doRequest(t, router, http.MethodPost, "/api/matches", gin.H{
		"transaction_id": "tx1",
		"invoice_id":     "inv1",
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "no_op", resp["outcome"])
}

func TestPostMatch_MissingInvoiceRejected(t *testing.T) {
	router, _, _ := newTestServer(t)

	w := doRequest(t, router, http.MethodPost, "/api/matches", gin.H{
		"transaction_id": "tx1",
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPostMatch_UnknownInvoiceIs404(t *testing.T) {
	router, repo, _ := newTestServer(t)
	seedMatchedPair(t, repo)

	w := doRequest(t, router, http.MethodPost, "/api/matches", gin.H{
		"transaction_id": "tx1",
		"invoice_id":     "ghost",
	})

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestConfirmSuggestion_PromotesToReviewed(t *testing.T) {
	router, repo, _ := newTestServer(t)
	seedMatchedPair(t, repo)
	_, err := repo.SuggestMatch("t1", "tx1", "inv1", 0.8)
	require.NoError(t, err)

	w := doRequest(t, router, http.MethodPost, "/api/matches/tx1/confirm?actor=tester", nil)

	require.Equal(t, http.StatusOK, w.Code)
	tx, err := repo.GetTransaction("t1", "tx1")
	require.NoError(t, err)
	assert.Equal(t, model.TxReviewed, tx.Status)
}

func TestConfirmSuggestion_WithoutSuggestionIs422(t *testing.T) {
	router, repo, _ := newTestServer(t)
	seedMatchedPair(t, repo)

	w := doRequest(t, router, http.MethodPost, "/api/matches/tx1/confirm", nil)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "no_suggestion")
}

func TestMarkNonReconcilable(t *testing.T) {
	router, repo, _ := newTestServer(t)
	seedMatchedPair(t, repo)

	w := doRequest(t, router, http.MethodPost, "/api/matches/tx1/non-reconcilable", nil)

	require.Equal(t, http.StatusOK, w.Code)
	tx, err := repo.GetTransaction("t1", "tx1")
	require.NoError(t, err)
	assert.Equal(t, model.TxNonReconcilable, tx.Status)

	// The verdict is terminal; a second attempt conflicts.
	w = doRequest(t, router, http.MethodPost, "/api/matches/tx1/non-reconcilable", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestSplitLifecycleOverHTTP(t *testing.T) {
	router, repo, _ := newTestServer(t)
	day := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repo.SaveTransaction(&model.Transaction{
		ID: "tx1", AccountID: "acct-1", TenantID: "t1", Date: day,
		Amount: -1000.00, Description: "BULK PAYMENT", Currency: "MXN",
		Status: model.TxPending, Fingerprint: "fp-tx1", CreatedAt: day,
	}))
	require.NoError(t, repo.SaveInvoice(&model.Invoice{
		ID: "inv1", TenantID: "t1", IssuerName: "A", Total: 600.00,
		IssuedAt: day, DocumentID: "doc-1", Status: model.InvoiceValid,
	}))
	require.NoError(t, repo.SaveInvoice(&model.Invoice{
		ID: "inv2", TenantID: "t1", IssuerName: "B", Total: 400.00,
		IssuedAt: day, DocumentID: "doc-2", Status: model.InvoiceValid,
	}))

	// Create.
	w := doRequest(t, router, http.MethodPost, "/api/splits", gin.H{
		"direction":       "one_to_many",
		"transaction_ids": []string{"tx1"},
		"invoice_ids":     []string{"inv1", "inv2"},
		"allocations": []gin.H{
			{"participant_id": "inv1", "amount": 600.00},
			{"participant_id": "inv2", "amount": 400.00},
		},
		"actor": "tester",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var created struct {
		GroupID     string `json:"group_id"`
		Status      string `json:"status"`
		Allocations []struct {
			ParticipantID string  `json:"participant_id"`
			Amount        float64 `json:"amount"`
		} `json:"allocations"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "complete", created.Status)
	require.Len(t, created.Allocations, 2)

	// Fetch.
	w = doRequest(t, router, http.MethodGet, "/api/splits/"+created.GroupID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// Undo.
	w = doRequest(t, router, http.MethodDelete, "/api/splits/"+created.GroupID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	tx, err := repo.GetTransaction("t1", "tx1")
	require.NoError(t, err)
	assert.Equal(t, model.TxPending, tx.Status)

	// A second undo conflicts.
	w = doRequest(t, router, http.MethodDelete, "/api/splits/"+created.GroupID, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestPostSplit_BadShapeIs422(t *testing.T) {
	router, repo, _ := newTestServer(t)
	seedMatchedPair(t, repo)

	w := doRequest(t, router, http.MethodPost, "/api/splits", gin.H{
		"direction":       "one_to_many",
		"transaction_ids": []string{"tx1"},
		"invoice_ids":     []string{"inv1"},
	})

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "split_shape")
}

func TestPostClassification_MergesUnderGuardrail(t *testing.T) {
	router, repo, _ := newTestServer(t)
	require.NoError(t, repo.UpsertClassification(&model.Classification{
		TenantID: "t1", EntityID: "tx1", AccountCode: "601",
		Confidence: 0.7, Status: model.ClassConfirmed, Source: model.SourceManual,
	}))

	w := doRequest(t, router, http.MethodPost, "/api/classifications", gin.H{
		"entity_id":    "tx1",
		"account_code": "702",
		"confidence":   0.99,
	})

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Applied     bool   `json:"applied"`
		AccountCode string `json:"account_code"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Applied)
	assert.Equal(t, "601", resp.AccountCode)
}

func TestPostClassification_MalformedCodeIs422(t *testing.T) {
	router, _, _ := newTestServer(t)

	w := doRequest(t, router, http.MethodPost, "/api/classifications", gin.H{
		"entity_id":    "tx1",
		"account_code": "60a",
		"confidence":   0.9,
	})

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestExclusionFlowOverHTTP(t *testing.T) {
	router, repo, _ := newTestServer(t)
	seedMatchedPair(t, repo)

	w := doRequest(t, router, http.MethodPost, "/api/exclusions", gin.H{
		"transaction_id": "tx1",
		"actor":          "compliance",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doRequest(t, router, http.MethodGet, "/api/exclusions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var entries []struct {
		TransactionID string `json:"transaction_id"`
		AddedBy       string `json:"added_by"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "tx1", entries[0].TransactionID)
	assert.Equal(t, "compliance", entries[0].AddedBy)

	w = doRequest(t, router, http.MethodDelete, "/api/exclusions/tx1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	excluded, err := repo.IsExcluded("t1", "tx1")
	require.NoError(t, err)
	assert.False(t, excluded)
}

func TestPostExclusion_UnknownTransactionIs404(t *testing.T) {
	router, _, _ := newTestServer(t)

	w := doRequest(t, router, http.MethodPost, "/api/exclusions", gin.H{
		"transaction_id": "ghost",
	})

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPostReconcile_StartsJob(t *testing.T) {
	router, repo, jobs := newTestServer(t)
	seedMatchedPair(t, repo)

	w := doRequest(t, router, http.MethodPost, "/api/reconcile", nil)

	require.Equal(t, http.StatusAccepted, w.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	jobID := resp["job_id"]
	require.NotEmpty(t, jobID)

	require.Eventually(t, func() bool {
		job, err := jobs.Get(jobID)
		return err == nil && job.Status == reconciler.JobCompleted
	}, 2*time.Second, 10*time.Millisecond)

	w = doRequest(t, router, http.MethodGet, "/api/reconcile/"+jobID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "completed")
}

func TestPostReconcile_ConcurrentRunConflicts(t *testing.T) {
	router, _, jobs := newTestServer(t)

	// Simulate a run already holding the tenant lock.
	_, err := jobs.Start(context.Background(), reconciler.JobRequest{TenantID: "t1"})
	require.NoError(t, err)

	// The lock is released when the background job finishes, so retry
	// until either the second start conflicts or the first completed.
	w := doRequest(t, router, http.MethodPost, "/api/reconcile", nil)
	if w.Code == http.StatusAccepted {
		t.Skip("first job finished before the second request")
	}
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestGetReconcileJob_UnknownIs404(t *testing.T) {
	router, _, _ := newTestServer(t)

	w := doRequest(t, router, http.MethodGet, "/api/reconcile/nope", nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

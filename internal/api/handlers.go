package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/contaflow/recon-backend/internal/api/dto"
	"github.com/contaflow/recon-backend/internal/application/reconciler"
	"github.com/contaflow/recon-backend/internal/domain/model"
	"github.com/contaflow/recon-backend/internal/domain/splits"
	"github.com/contaflow/recon-backend/internal/infrastructure/storage"
)

// tenantID resolves the tenant from the X-Tenant-ID header or the tenant
// query parameter. Every data route is tenant scoped.
func tenantID(c *gin.Context) (string, bool) {
	tenant := c.GetHeader("X-Tenant-ID")
	if tenant == "" {
		tenant = c.Query("tenant")
	}
	if tenant == "" {
		c.JSON(http.StatusBadRequest, dto.BadRequestError("tenant id is required"))
		return "", false
	}
	return tenant, true
}

// respondError maps engine errors onto HTTP status codes.
func respondError(c *gin.Context, err error) {
	apiErr := dto.FromError(err)
	switch apiErr.Code {
	case dto.ErrCodeValidation:
		c.JSON(http.StatusUnprocessableEntity, apiErr)
	case dto.ErrCodeConflict:
		c.JSON(http.StatusConflict, apiErr)
	case dto.ErrCodeNotFound:
		c.JSON(http.StatusNotFound, apiErr)
	default:
		c.JSON(http.StatusInternalServerError, apiErr)
	}
}

func (s *Server) getSuggestions(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	suggestions, err := s.engine.Suggestions(tenant, limit)
	if err != nil {
		s.logger.Error("failed to list suggestions", "tenant_id", tenant, "error", err)
		respondError(c, err)
		return
	}
	if suggestions == nil {
		suggestions = []storage.Suggestion{}
	}
	c.JSON(http.StatusOK, suggestions)
}

func (s *Server) getStats(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}

	stats, err := s.engine.Stats(tenant)
	if err != nil {
		s.logger.Error("failed to fetch stats", "tenant_id", tenant, "error", err)
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) getRuns(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	runs, err := s.engine.Runs(tenant, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, runs)
}

func (s *Server) postMatch(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}

	var req dto.MatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.BadRequestError(err.Error()))
		return
	}

	outcome, err := s.engine.ApplyMatch(c.Request.Context(), tenant,
		req.TransactionID, req.InvoiceID, req.Confidence, req.Actor)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.MatchResponse{
		Outcome:       string(outcome),
		TransactionID: req.TransactionID,
		InvoiceID:     req.InvoiceID,
	})
}

func (s *Server) confirmSuggestion(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}

	if err := s.engine.ConfirmSuggestion(tenant, c.Param("txId"), c.Query("actor")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "reviewed"})
}

func (s *Server) markNonReconcilable(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}

	if err := s.engine.MarkNonReconcilable(tenant, c.Param("txId"), c.Query("actor")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "non_reconcilable"})
}

func (s *Server) postSplit(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}

	var req dto.SplitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.BadRequestError(err.Error()))
		return
	}

	splitReq := reconciler.SplitRequest{
		TenantID:       tenant,
		Direction:      model.SplitDirection(req.Direction),
		TransactionIDs: req.TransactionIDs,
		InvoiceIDs:     req.InvoiceIDs,
		Actor:          req.Actor,
	}
	for _, entry := range req.Allocations {
		splitReq.Entries = append(splitReq.Entries, splits.Entry{
			ParticipantID: entry.ParticipantID,
			Amount:        entry.Amount,
		})
	}

	group, allocations, err := s.engine.CreateSplit(c.Request.Context(), splitReq)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, dto.NewSplitResponse(group, allocations))
}

func (s *Server) getSplit(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}

	group, allocations, err := s.engine.GetSplit(tenant, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSplitResponse(group, allocations))
}

func (s *Server) deleteSplit(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}

	if err := s.engine.UndoSplit(tenant, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

func (s *Server) postClassification(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}

	var req dto.ClassificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.BadRequestError(err.Error()))
		return
	}

	proposed := model.Classification{
		EntityID:     req.EntityID,
		AccountCode:  req.AccountCode,
		Confidence:   req.Confidence,
		Status:       model.ClassificationStatus(req.Status),
		Source:       model.ClassificationSource(req.Source),
		Explanation:  req.Explanation,
		Alternatives: req.Alternatives,
	}
	if proposed.Status == "" {
		proposed.Status = model.ClassPending
	}
	if proposed.Source == "" {
		proposed.Source = model.SourceModel
	}

	result, err := s.engine.MergeClassification(tenant, proposed, req.Override)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewClassificationResponse(result))
}

func (s *Server) getExclusions(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}

	entries, err := s.engine.Exclusions(tenant)
	if err != nil {
		respondError(c, err)
		return
	}

	out := make([]dto.ExclusionResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, dto.ExclusionResponse{
			TransactionID: e.TransactionID,
			AddedBy:       e.AddedBy,
			AddedAt:       e.AddedAt,
		})
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) postExclusion(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}

	var req dto.ExclusionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.BadRequestError(err.Error()))
		return
	}

	if err := s.engine.Exclude(tenant, req.TransactionID, req.Actor); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "excluded"})
}

func (s *Server) deleteExclusion(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}

	if err := s.engine.Unexclude(tenant, c.Param("txId")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "removed"})
}

func (s *Server) postReconcile(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}

	var req dto.ReconcileRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		c.JSON(http.StatusBadRequest, dto.BadRequestError(err.Error()))
		return
	}

	jobID, err := s.jobs.Start(c.Request.Context(), reconciler.JobRequest{
		TenantID:        tenant,
		Dedup:           req.Dedup,
		MaxTransactions: req.MaxTransactions,
	})
	if err != nil {
		c.JSON(http.StatusConflict, dto.NewAPIError(dto.ErrCodeConflict, err.Error()))
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"job_id": jobID})
}

func (s *Server) getReconcileJob(c *gin.Context) {
	job, err := s.jobs.Get(c.Param("jobId"))
	if err != nil {
		c.JSON(http.StatusNotFound, dto.NewAPIError(dto.ErrCodeNotFound, err.Error()))
		return
	}
	c.JSON(http.StatusOK, dto.NewJobResponse(job))
}

func (s *Server) cancelReconcileJob(c *gin.Context) {
	if err := s.jobs.Cancel(c.Param("jobId")); err != nil {
		c.JSON(http.StatusConflict, dto.NewAPIError(dto.ErrCodeConflict, err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

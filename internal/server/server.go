package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agenthands/esgrecon/internal/core"
	"github.com/agenthands/esgrecon/internal/core/model"
	"github.com/agenthands/esgrecon/internal/core/reconcile"
	"github.com/agenthands/esgrecon/internal/logging"
	"github.com/agenthands/esgrecon/internal/rules"
)

// RuleStore is the CRUD surface of the deduplication rules.
type RuleStore interface {
	Create(ctx context.Context, r model.Rule) (model.Rule, error)
	Get(ctx context.Context, id string) (model.Rule, error)
	List(ctx context.Context, companyID, entity string) ([]model.Rule, error)
	Update(ctx context.Context, r model.Rule) (model.Rule, error)
	Delete(ctx context.Context, id string) error
}

type Server struct {
	Reconciler *core.Reconciler
	Rules      RuleStore
}

func New(reconciler *core.Reconciler, ruleStore RuleStore) *Server {
	return &Server{
		Reconciler: reconciler,
		Rules:      ruleStore,
	}
}

func (s *Server) SetupRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	rec := r.Group("/reconcile")
	rec.POST("/similar", s.FindSimilar)
	rec.POST("/conflicts", s.DetectConflicts)
	rec.POST("/strategy", s.SuggestStrategy)
	rec.POST("/merge", s.Merge)
	rec.POST("/same-person", s.SamePerson)
	rec.POST("/clusters", s.Clusters)

	r.POST("/records/import", s.Import)
	r.GET("/records/:id", s.GetRecord)
	r.GET("/records/:id/history", s.History)
	r.POST("/documents/extract", s.Extract)

	r.GET("/rules", s.ListRules)
	r.POST("/rules", s.CreateRule)
	r.GET("/rules/:id", s.GetRule)
	r.PUT("/rules/:id", s.UpdateRule)
	r.DELETE("/rules/:id", s.DeleteRule)

	return r
}

// requestLogger tags every request with an id and logs it once finished.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		c.Request = c.Request.WithContext(ctx)
		c.Header("X-Request-ID", requestID)

		c.Next()

		logging.FromContext(ctx).Info().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("Handled request")
	}
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
}

func internalError(c *gin.Context, msg string, err error) {
	logging.FromContext(c.Request.Context()).Error().Err(err).Msg(msg)
	c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
}

func (s *Server) threshold(t *float64) float64 {
	if t == nil {
		return s.Reconciler.Matcher.Policy.MatchThreshold
	}
	return *t
}

type SimilarRequest struct {
	Record    model.Record   `json:"record"`
	Existing  []model.Record `json:"existing"`
	KeyFields []string       `json:"key_fields" binding:"required,min=1"`
	Threshold *float64       `json:"threshold" binding:"omitempty,min=0,max=1"`
}

func (s *Server) FindSimilar(c *gin.Context) {
	var req SimilarRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	matches := s.Reconciler.Matcher.FindSimilar(req.Record, req.Existing, req.KeyFields, s.threshold(req.Threshold))
	if matches == nil {
		matches = []model.Match{}
	}
	c.JSON(http.StatusOK, gin.H{"matches": matches})
}

type ConflictsRequest struct {
	New          model.Record `json:"new"`
	Existing     model.Record `json:"existing"`
	IgnoreFields []string     `json:"ignore_fields"`
}

func (s *Server) DetectConflicts(c *gin.Context) {
	var req ConflictsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	var conflicts []model.Conflict
	if req.IgnoreFields == nil {
		conflicts = s.Reconciler.Matcher.DetectConflicts(req.New, req.Existing)
	} else {
		conflicts = reconcile.DetectConflicts(req.New, req.Existing, req.IgnoreFields)
	}
	if conflicts == nil {
		conflicts = []model.Conflict{}
	}
	c.JSON(http.StatusOK, gin.H{"conflicts": conflicts})
}

type StrategyRequest struct {
	Conflicts    []model.Conflict `json:"conflicts"`
	NewDate      string           `json:"new_date"`
	ExistingDate string           `json:"existing_date"`
}

func (s *Server) SuggestStrategy(c *gin.Context) {
	var req StrategyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	strategy := s.Reconciler.Matcher.SuggestMergeStrategy(req.Conflicts, parseDate(req.NewDate), parseDate(req.ExistingDate))
	c.JSON(http.StatusOK, gin.H{"strategy": strategy})
}

func parseDate(s string) *time.Time {
	if t, ok := model.ParseDate(s); ok {
		return &t
	}
	return nil
}

type MergeRequest struct {
	Existing model.Record        `json:"existing"`
	New      model.Record        `json:"new"`
	Strategy model.MergeStrategy `json:"strategy" binding:"required"`
}

func (s *Server) Merge(c *gin.Context) {
	var req MergeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if !req.Strategy.Valid() {
		badRequest(c, errors.New("unknown strategy "+string(req.Strategy)))
		return
	}

	c.JSON(http.StatusOK, gin.H{"record": reconcile.MergeData(req.Existing, req.New, req.Strategy)})
}

type SamePersonRequest struct {
	A model.Record `json:"a"`
	B model.Record `json:"b"`
}

func (s *Server) SamePerson(c *gin.Context) {
	var req SamePersonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"same": s.Reconciler.Matcher.IsSamePerson(req.A, req.B)})
}

type ClustersRequest struct {
	Records   []model.Record `json:"records"`
	KeyFields []string       `json:"key_fields" binding:"required,min=1"`
	Threshold *float64       `json:"threshold" binding:"omitempty,min=0,max=1"`
}

func (s *Server) Clusters(c *gin.Context) {
	var req ClustersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	clusters := s.Reconciler.Clusters(req.Records, req.KeyFields, s.threshold(req.Threshold))
	if clusters == nil {
		clusters = [][]int{}
	}
	c.JSON(http.StatusOK, gin.H{"clusters": clusters})
}

type ImportRequest struct {
	CompanyID string         `json:"company_id" binding:"required"`
	Entity    string         `json:"entity" binding:"required"`
	Records   []model.Record `json:"records"`
}

func (s *Server) Import(c *gin.Context) {
	var req ImportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	outcomes, err := s.Reconciler.Import(c.Request.Context(), req.CompanyID, req.Entity, req.Records)
	if err != nil {
		importError(c, "Failed to import records", outcomes, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"outcomes": outcomes})
}

// importError reports a failed import together with the outcomes that were
// already persisted before the failure.
func importError(c *gin.Context, msg string, outcomes []model.Outcome, err error) {
	logging.FromContext(c.Request.Context()).Error().Err(err).Int("persisted", len(outcomes)).Msg(msg)
	if outcomes == nil {
		outcomes = []model.Outcome{}
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": msg, "outcomes": outcomes})
}

func companyParam(c *gin.Context) (string, bool) {
	companyID := c.Query("company_id")
	if companyID == "" {
		badRequest(c, errors.New("company_id query parameter is required"))
		return "", false
	}
	return companyID, true
}

func (s *Server) GetRecord(c *gin.Context) {
	companyID, ok := companyParam(c)
	if !ok {
		return
	}
	rec, found, err := s.Reconciler.Record(c.Request.Context(), companyID, c.Param("id"))
	if err != nil {
		internalError(c, "Failed to load record", err)
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "record not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"record": rec})
}

func (s *Server) History(c *gin.Context) {
	companyID, ok := companyParam(c)
	if !ok {
		return
	}
	history, err := s.Reconciler.History(c.Request.Context(), companyID, c.Param("id"))
	if err != nil {
		internalError(c, "Failed to load merge history", err)
		return
	}
	if history == nil {
		history = []model.MergeEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"history": history})
}

type ExtractRequest struct {
	CompanyID string   `json:"company_id"`
	Entity    string   `json:"entity"`
	Fields    []string `json:"fields"`
	Documents []string `json:"documents" binding:"required,min=1"`
	Import    bool     `json:"import"`
}

func (s *Server) Extract(c *gin.Context) {
	var req ExtractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.Import && (req.CompanyID == "" || req.Entity == "") {
		badRequest(c, errors.New("company_id and entity are required to import"))
		return
	}

	ctx := c.Request.Context()
	if req.Import {
		outcomes, err := s.Reconciler.ExtractAndImport(ctx, req.CompanyID, req.Entity, req.Documents, req.Fields)
		if err != nil {
			importError(c, "Failed to extract and import documents", outcomes, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"outcomes": outcomes})
		return
	}

	records, err := s.Reconciler.ExtractRecords(ctx, req.Documents, req.Fields)
	if err != nil {
		internalError(c, "Failed to extract documents", err)
		return
	}
	if records == nil {
		records = []model.Record{}
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

func (s *Server) ListRules(c *gin.Context) {
	companyID, ok := companyParam(c)
	if !ok {
		return
	}
	list, err := s.Rules.List(c.Request.Context(), companyID, c.Query("entity"))
	if err != nil {
		internalError(c, "Failed to list rules", err)
		return
	}
	if list == nil {
		list = []model.Rule{}
	}
	c.JSON(http.StatusOK, gin.H{"rules": list})
}

// RuleRequest is the body of rule create and update calls. Omitted
// threshold and enabled take defaults on create and keep the stored value
// on update; an explicit threshold of 0 is kept as given.
type RuleRequest struct {
	CompanyID    string   `json:"company_id" binding:"required"`
	Entity       string   `json:"entity" binding:"required"`
	KeyFields    []string `json:"key_fields" binding:"required,min=1"`
	Threshold    *float64 `json:"threshold"`
	IgnoreFields []string `json:"ignore_fields"`
	Enabled      *bool    `json:"enabled"`
}

// apply copies the request onto rule, leaving omitted optional fields alone.
func (req RuleRequest) apply(rule model.Rule) model.Rule {
	rule.CompanyID = req.CompanyID
	rule.Entity = req.Entity
	rule.KeyFields = req.KeyFields
	rule.IgnoreFields = req.IgnoreFields
	if req.Threshold != nil {
		rule.Threshold = *req.Threshold
	}
	if req.Enabled != nil {
		rule.Enabled = *req.Enabled
	}
	return rule
}

func (s *Server) CreateRule(c *gin.Context) {
	var req RuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	rule := req.apply(model.Rule{
		Threshold: s.Reconciler.Matcher.Policy.MatchThreshold,
		Enabled:   true,
	})
	created, err := s.Rules.Create(c.Request.Context(), rule)
	if err != nil {
		s.ruleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (s *Server) GetRule(c *gin.Context) {
	rule, err := s.Rules.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.ruleError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

func (s *Server) UpdateRule(c *gin.Context) {
	var req RuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	current, err := s.Rules.Get(ctx, c.Param("id"))
	if err != nil {
		s.ruleError(c, err)
		return
	}
	updated, err := s.Rules.Update(ctx, req.apply(current))
	if err != nil {
		s.ruleError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (s *Server) DeleteRule(c *gin.Context) {
	if err := s.Rules.Delete(c.Request.Context(), c.Param("id")); err != nil {
		s.ruleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) ruleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, rules.ErrRuleNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, rules.ErrInvalidRule):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		internalError(c, "Rule store failure", err)
	}
}

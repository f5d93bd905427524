package http

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/Lokesh-T-2506/AutoGrader/internal/config"
	"github.com/Lokesh-T-2506/AutoGrader/internal/domain"
	"github.com/Lokesh-T-2506/AutoGrader/internal/services"
	"github.com/Lokesh-T-2506/AutoGrader/internal/storage"
)

const (
	serviceName    = "AutoGrader"
	serviceVersion = "1.0.0"
)

var validate = validator.New()

type API struct {
	cfg       config.Config
	files     *storage.FileManager
	store     *storage.Store
	extractor services.TextExtractor
	engine    *services.GradingEngine
	feedback  *services.FeedbackSynthesizer
	orch      *services.Orchestrator
	report    *services.ReportService
	share     *services.ShareService
	log       zerolog.Logger
}

func NewAPI(cfg config.Config, fm *storage.FileManager, store *storage.Store, extractor services.TextExtractor, engine *services.GradingEngine, feedback *services.FeedbackSynthesizer, orch *services.Orchestrator, report *services.ReportService, share *services.ShareService, log zerolog.Logger) *API {
	return &API{
		cfg:       cfg,
		files:     fm,
		store:     store,
		extractor: extractor,
		engine:    engine,
		feedback:  feedback,
		orch:      orch,
		report:    report,
		share:     share,
		log:       log,
	}
}

func registerRoutes(r *gin.Engine, api *API) {
	r.GET("/", api.handleRoot)
	r.GET("/health", api.handleHealth)

	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/health", api.handleHealth)

		apiGroup.POST("/ocr/extract", api.handleOCRExtract)
		apiGroup.POST("/ocr/batch", api.handleOCRBatch)

		apiGroup.POST("/grade/evaluate", api.handleGradeEvaluate)
		apiGroup.POST("/grade/partial-credit", api.handlePartialCredit)

		apiGroup.POST("/feedback/generate", api.handleFeedbackGenerate)
		apiGroup.POST("/feedback/improve", api.handleFeedbackImprove)

		apiGroup.POST("/submissions", api.handleCreateSubmission)
		apiGroup.GET("/submissions/:id", api.handleGetSubmission)
		apiGroup.POST("/submissions/:id/grade", api.handleGradeSubmission)

		apiGroup.GET("/jobs/:id", api.handleGetJob)
		apiGroup.POST("/jobs/:id/cancel", api.handleCancelJob)
		apiGroup.POST("/jobs/:id/report", api.handleGenerateReport)
		apiGroup.POST("/jobs/:id/share", api.handleShareReport)
	}

	r.GET("/report/:id", api.handleServeReport)
}

func (a *API) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": serviceName,
		"status":  "running",
		"version": serviceVersion,
	})
}

func (a *API) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

type ocrResponse struct {
	Text           string  `json:"text"`
	Confidence     float64 `json:"confidence"`
	ModelUsed      string  `json:"model_used"`
	ProcessingTime float64 `json:"processing_time"`
}

func (a *API) handleOCRExtract(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		respondMessage(c, http.StatusBadRequest, "missing image file")
		return
	}

	resp, err := a.extractOne(c, fileHeader)
	if err != nil {
		respondError(c, statusForError(err), err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a *API) handleOCRBatch(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		respondMessage(c, http.StatusBadRequest, "invalid multipart form")
		return
	}

	fileHeaders := form.File["files"]
	if len(fileHeaders) == 0 {
		respondMessage(c, http.StatusBadRequest, "no files provided")
		return
	}

	start := time.Now()
	results := make([]ocrResponse, 0, len(fileHeaders))
	for _, fh := range fileHeaders {
		resp, err := a.extractOne(c, fh)
		if err != nil {
			respondError(c, statusForError(err), err)
			return
		}
		results = append(results, resp)
	}

	c.JSON(http.StatusOK, gin.H{
		"results":               results,
		"total_processing_time": time.Since(start).Seconds(),
	})
}

func (a *API) extractOne(c *gin.Context, fileHeader *multipart.FileHeader) (ocrResponse, error) {
	upload, err := fileHeader.Open()
	if err != nil {
		return ocrResponse{}, err
	}
	defer upload.Close()

	imageBytes, err := io.ReadAll(upload)
	if err != nil {
		return ocrResponse{}, err
	}

	start := time.Now()
	extraction, err := a.extractor.Extract(c.Request.Context(), imageBytes)
	if err != nil {
		return ocrResponse{}, err
	}

	return ocrResponse{
		Text:           extraction.Text,
		Confidence:     extraction.Confidence,
		ModelUsed:      extraction.ModelUsed,
		ProcessingTime: time.Since(start).Seconds(),
	}, nil
}

type rubricCriterionPayload struct {
	ID               string   `json:"id" validate:"required"`
	Description      string   `json:"description"`
	MaxPoints        float64  `json:"max_points" validate:"gt=0"`
	Keywords         []string `json:"keywords"`
	RequiredConcepts []string `json:"required_concepts"`
}

func (p rubricCriterionPayload) toDomain() domain.RubricCriterion {
	return domain.RubricCriterion{
		ID:               p.ID,
		Description:      p.Description,
		MaxPoints:        p.MaxPoints,
		Keywords:         p.Keywords,
		RequiredConcepts: p.RequiredConcepts,
	}
}

func toRubric(payload []rubricCriterionPayload) []domain.RubricCriterion {
	rubric := make([]domain.RubricCriterion, 0, len(payload))
	for _, p := range payload {
		rubric = append(rubric, p.toDomain())
	}
	return rubric
}

type evaluateRequest struct {
	StudentAnswer    string                   `json:"student_answer" binding:"required"`
	Rubric           []rubricCriterionPayload `json:"rubric" binding:"required" validate:"dive"`
	UsePartialCredit *bool                    `json:"use_partial_credit"`
}

func (a *API) handleGradeEvaluate(c *gin.Context) {
	var payload evaluateRequest
	if err := c.ShouldBindJSON(&payload); err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}
	if err := validate.Struct(payload); err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}

	rubric := toRubric(payload.Rubric)
	if err := domain.ValidateRubric(rubric); err != nil {
		respondError(c, statusForError(err), err)
		return
	}

	result, err := a.engine.Grade(c.Request.Context(), payload.StudentAnswer, rubric, nil)
	if err != nil {
		respondError(c, statusForError(err), err)
		return
	}

	if payload.UsePartialCredit != nil && !*payload.UsePartialCredit {
		result = services.AllOrNothing(result)
	}

	c.JSON(http.StatusOK, result)
}

type partialCreditRequest struct {
	StudentAnswer   string                 `json:"student_answer" binding:"required"`
	ExpectedAnswer  string                 `json:"expected_answer"`
	RubricCriterion rubricCriterionPayload `json:"rubric_criterion" binding:"required"`
}

func (a *API) handlePartialCredit(c *gin.Context) {
	var payload partialCreditRequest
	if err := c.ShouldBindJSON(&payload); err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}
	if err := validate.Struct(payload); err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}

	c.JSON(http.StatusOK, a.engine.PartialCredit(payload.StudentAnswer, payload.RubricCriterion.toDomain()))
}

type feedbackGenerateRequest struct {
	StudentAnswer     string   `json:"student_answer" binding:"required"`
	ExpectedAnswer    string   `json:"expected_answer"`
	Score             float64  `json:"score"`
	MaxScore          float64  `json:"max_score"`
	RubricDescription string   `json:"rubric_description"`
	IdentifiedErrors  []string `json:"identified_errors"`
}

func (a *API) handleFeedbackGenerate(c *gin.Context) {
	var payload feedbackGenerateRequest
	if err := c.ShouldBindJSON(&payload); err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}

	percentage := 0.0
	if payload.MaxScore > 0 {
		percentage = payload.Score / payload.MaxScore * 100
	}

	reasoning := payload.RubricDescription
	for _, e := range payload.IdentifiedErrors {
		reasoning += "\nIdentified error: " + e
	}

	result := domain.GradingResult{
		TotalScore: payload.Score,
		MaxScore:   payload.MaxScore,
		Percentage: percentage,
		CriterionScores: []domain.CriterionScore{
			{
				CriterionID:     "overall",
				PointsAwarded:   payload.Score,
				MaxPoints:       payload.MaxScore,
				Confidence:      1,
				Reasoning:       reasoning,
				MatchedConcepts: []string{},
			},
		},
		OverallConfidence: 1,
	}

	feedback := a.feedback.Synthesize(c.Request.Context(), result, payload.StudentAnswer, domain.ToneConstructive)
	c.JSON(http.StatusOK, feedback)
}

type feedbackImproveRequest struct {
	OriginalFeedback string   `json:"original_feedback" binding:"required"`
	TonePreference   string   `json:"tone_preference"`
	FocusAreas       []string `json:"focus_areas"`
}

func (a *API) handleFeedbackImprove(c *gin.Context) {
	var payload feedbackImproveRequest
	if err := c.ShouldBindJSON(&payload); err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}

	feedback := a.feedback.Improve(c.Request.Context(), payload.OriginalFeedback, payload.TonePreference, payload.FocusAreas)
	c.JSON(http.StatusOK, feedback)
}

func respondError(c *gin.Context, status int, err error) {
	respondMessage(c, status, err.Error())
}

func respondMessage(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"error": message})
}

// statusForError maps the error taxonomy to HTTP statuses: validation
// failures are the caller's fault, extraction failures are a bad upload or
// an unavailable recognition backend.
func statusForError(err error) int {
	var vErr *domain.ValidationError
	if errors.As(err, &vErr) {
		return http.StatusBadRequest
	}

	var eErr *domain.ExtractionError
	if errors.As(err, &eErr) {
		if eErr.Transient {
			return http.StatusBadGateway
		}
		return http.StatusBadRequest
	}

	return http.StatusInternalServerError
}

package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/Lokesh-T-2506/AutoGrader/internal/config"
	"github.com/Lokesh-T-2506/AutoGrader/internal/domain"
	"github.com/Lokesh-T-2506/AutoGrader/internal/services"
	"github.com/Lokesh-T-2506/AutoGrader/internal/storage"
)

// fakeExtractor stands in for the Tesseract backend so handler tests do not
// need a native OCR installation.
type fakeExtractor struct {
	text       string
	confidence float64
}

func (f fakeExtractor) Extract(ctx context.Context, imageBytes []byte) (services.Extraction, error) {
	return services.Extraction{Text: f.text, Confidence: f.confidence, ModelUsed: "fake"}, nil
}

func setupTestServer(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Config{
		Port:           "0",
		BaseURL:        "http://localhost:8080",
		ShareSecret:    "test-secret",
		ShareTTL:       time.Hour,
		CallTimeout:    time.Second,
		MaxUploadBytes: 5 * 1024 * 1024,
		DataDir:        t.TempDir(),
	}
	log := zerolog.Nop()

	fm, err := storage.NewFileManager(cfg.DataDir, cfg.MaxUploadBytes)
	if err != nil {
		t.Fatalf("file manager: %v", err)
	}
	store, err := storage.NewStore(cfg.DataDir)
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	// No API key configured, so grading and feedback run their fallbacks.
	reasoner := services.NewGeminiReasoner(cfg, log)
	extractor := fakeExtractor{text: "Used the power rule, got x^3/3 + C", confidence: 0.8}
	engine := services.NewGradingEngine(reasoner, log)
	feedback := services.NewFeedbackSynthesizer(reasoner, log)
	orch := services.NewOrchestrator(store, fm, extractor, engine, feedback, cfg.CallTimeout, log)
	report := services.NewReportService()
	share := services.NewShareService(cfg)

	r := gin.New()
	api := NewAPI(cfg, fm, store, extractor, engine, feedback, orch, report, share, log)
	registerRoutes(r, api)
	return r
}

func performJSON(t *testing.T, r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
}

// pngBytes is a minimal payload that content sniffing accepts as image/png.
func pngBytes() []byte {
	return append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 64)...)
}

func uploadImage(t *testing.T, r *gin.Engine, path string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "answer.png")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write(pngBytes()); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func evaluateBody() map[string]any {
	return map[string]any{
		"student_answer": "I used the power rule and got x^3/3 + C",
		"rubric": []map[string]any{
			{"id": "power_rule", "description": "Applies the power rule", "max_points": 5, "keywords": []string{"power rule"}},
			{"id": "final_answer", "description": "Correct final answer", "max_points": 5, "keywords": []string{"x^3/3"}},
		},
	}
}

func TestRootAndHealth(t *testing.T) {
	r := setupTestServer(t)

	w := performJSON(t, r, http.MethodGet, "/", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 from root, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), serviceName) {
		t.Fatalf("root must identify the service, got %s", w.Body.String())
	}

	for _, path := range []string{"/health", "/api/health"} {
		w = performJSON(t, r, http.MethodGet, path, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200 from %s, got %d", path, w.Code)
		}
	}
}

func TestGradeEvaluateHeuristic(t *testing.T) {
	r := setupTestServer(t)

	w := performJSON(t, r, http.MethodPost, "/api/grade/evaluate", evaluateBody())
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var result domain.GradingResult
	decodeBody(t, w, &result)

	if result.MaxScore != 10 {
		t.Fatalf("expected max score 10, got %f", result.MaxScore)
	}
	if result.TotalScore <= 0 {
		t.Fatalf("expected keyword matches to award points, got %f", result.TotalScore)
	}
	for _, s := range result.CriterionScores {
		if s.Confidence != 0.5 {
			t.Fatalf("expected heuristic confidence 0.5 for %s, got %f", s.CriterionID, s.Confidence)
		}
	}
}

func TestGradeEvaluateAllOrNothing(t *testing.T) {
	r := setupTestServer(t)

	body := evaluateBody()
	body["student_answer"] = "I used the power rule but lost the answer"
	body["use_partial_credit"] = false

	w := performJSON(t, r, http.MethodPost, "/api/grade/evaluate", body)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var result domain.GradingResult
	decodeBody(t, w, &result)

	for _, s := range result.CriterionScores {
		if s.PointsAwarded != 0 && s.PointsAwarded != s.MaxPoints {
			t.Fatalf("all-or-nothing must not award partial points: %+v", s)
		}
	}
}

func TestGradeEvaluateRejectsBadRubric(t *testing.T) {
	r := setupTestServer(t)

	body := evaluateBody()
	body["rubric"] = []map[string]any{{"id": "zero", "max_points": 0}}
	if w := performJSON(t, r, http.MethodPost, "/api/grade/evaluate", body); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-positive max_points, got %d", w.Code)
	}

	body = evaluateBody()
	body["rubric"] = []map[string]any{
		{"id": "dup", "max_points": 5},
		{"id": "dup", "max_points": 5},
	}
	if w := performJSON(t, r, http.MethodPost, "/api/grade/evaluate", body); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for duplicate criterion ids, got %d", w.Code)
	}
}

func TestPartialCreditEndpoint(t *testing.T) {
	r := setupTestServer(t)

	body := map[string]any{
		"student_answer": "the answer is 5 meters",
		"rubric_criterion": map[string]any{
			"id":         "units",
			"max_points": 4,
			"keywords":   []string{"meters", "seconds"},
		},
	}

	w := performJSON(t, r, http.MethodPost, "/api/grade/partial-credit", body)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var pc services.PartialCredit
	decodeBody(t, w, &pc)
	if pc.PointsAwarded != 2 || pc.SimilarityScore != 0.5 {
		t.Fatalf("expected 2 points at similarity 0.5, got %+v", pc)
	}
}

func TestFeedbackGenerateFallback(t *testing.T) {
	r := setupTestServer(t)

	body := map[string]any{
		"student_answer": "x^3/3 + C",
		"score":          7,
		"max_score":      10,
	}

	w := performJSON(t, r, http.MethodPost, "/api/feedback/generate", body)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var fb domain.FeedbackResult
	decodeBody(t, w, &fb)
	if fb.Narrative == "" {
		t.Fatalf("expected fallback narrative, got %s", w.Body.String())
	}
	if fb.Tone != domain.ToneConstructive {
		t.Fatalf("expected constructive default tone, got %q", fb.Tone)
	}
}

func TestFeedbackImproveFallback(t *testing.T) {
	r := setupTestServer(t)

	body := map[string]any{
		"original_feedback": "Good effort, check your algebra.",
		"tone_preference":   "direct",
		"focus_areas":       []string{"algebra"},
	}

	w := performJSON(t, r, http.MethodPost, "/api/feedback/improve", body)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var fb domain.FeedbackResult
	decodeBody(t, w, &fb)
	if fb.Narrative != "Good effort, check your algebra." {
		t.Fatalf("fallback must keep the original feedback, got %q", fb.Narrative)
	}
	if fb.Tone != domain.ToneDirect {
		t.Fatalf("expected direct tone, got %q", fb.Tone)
	}
}

func TestSubmissionGradingPipeline(t *testing.T) {
	r := setupTestServer(t)

	w := uploadImage(t, r, "/api/submissions")
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201 creating submission, got %d: %s", w.Code, w.Body.String())
	}
	var sub domain.Submission
	decodeBody(t, w, &sub)
	if sub.ID == "" {
		t.Fatalf("submission must get an id")
	}

	w = performJSON(t, r, http.MethodGet, "/api/submissions/"+sub.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 fetching submission, got %d", w.Code)
	}

	gradeBody := map[string]any{
		"rubric": evaluateBody()["rubric"],
		"tone":   "encouraging",
	}
	w = performJSON(t, r, http.MethodPost, "/api/submissions/"+sub.ID+"/grade", gradeBody)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201 grading submission, got %d: %s", w.Code, w.Body.String())
	}

	var job domain.GradingJob
	decodeBody(t, w, &job)
	if job.State != domain.JobStateCompleted {
		t.Fatalf("expected COMPLETED job, got %s (error %q)", job.State, job.Error)
	}
	if job.Result == nil || job.Feedback == nil {
		t.Fatalf("completed job must carry result and feedback: %s", w.Body.String())
	}
	if job.Feedback.Tone != domain.ToneEncouraging {
		t.Fatalf("expected encouraging feedback tone, got %q", job.Feedback.Tone)
	}

	w = performJSON(t, r, http.MethodGet, "/api/jobs/"+job.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 fetching job, got %d", w.Code)
	}

	// Cancel after completion must not disturb the stored result.
	w = performJSON(t, r, http.MethodPost, "/api/jobs/"+job.ID+"/cancel", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 cancelling job, got %d", w.Code)
	}
	var cancelled domain.GradingJob
	decodeBody(t, w, &cancelled)
	if cancelled.State != domain.JobStateCompleted {
		t.Fatalf("cancel after completion must stay COMPLETED, got %s", cancelled.State)
	}
}

func TestGradeSubmissionValidation(t *testing.T) {
	r := setupTestServer(t)

	w := uploadImage(t, r, "/api/submissions")
	var sub domain.Submission
	decodeBody(t, w, &sub)

	body := map[string]any{"rubric": evaluateBody()["rubric"], "tone": "sarcastic"}
	if w := performJSON(t, r, http.MethodPost, "/api/submissions/"+sub.ID+"/grade", body); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown tone, got %d", w.Code)
	}

	body = map[string]any{"rubric": evaluateBody()["rubric"]}
	if w := performJSON(t, r, http.MethodPost, "/api/submissions/missing/grade", body); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown submission, got %d", w.Code)
	}
}

func completeJob(t *testing.T, r *gin.Engine) domain.GradingJob {
	t.Helper()

	w := uploadImage(t, r, "/api/submissions")
	var sub domain.Submission
	decodeBody(t, w, &sub)

	w = performJSON(t, r, http.MethodPost, "/api/submissions/"+sub.ID+"/grade", map[string]any{"rubric": evaluateBody()["rubric"]})
	if w.Code != http.StatusCreated {
		t.Fatalf("grade submission: %d %s", w.Code, w.Body.String())
	}

	var job domain.GradingJob
	decodeBody(t, w, &job)
	if job.State != domain.JobStateCompleted {
		t.Fatalf("expected COMPLETED job, got %s", job.State)
	}
	return job
}

func TestReportAndShareLinkValidation(t *testing.T) {
	r := setupTestServer(t)
	job := completeJob(t, r)

	w := performJSON(t, r, http.MethodPost, "/api/jobs/"+job.ID+"/report", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 generating report, got %d: %s", w.Code, w.Body.String())
	}

	w = performJSON(t, r, http.MethodPost, "/api/jobs/"+job.ID+"/share", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 sharing report, got %d: %s", w.Code, w.Body.String())
	}

	var shared struct {
		URL string `json:"url"`
	}
	decodeBody(t, w, &shared)

	parsed, err := url.Parse(shared.URL)
	if err != nil {
		t.Fatalf("parse share url %q: %v", shared.URL, err)
	}
	exp := parsed.Query().Get("exp")
	sig := parsed.Query().Get("sig")
	if exp == "" || sig == "" {
		t.Fatalf("share url must carry exp and sig: %s", shared.URL)
	}

	signedPath := fmt.Sprintf("%s?exp=%s&sig=%s", parsed.Path, exp, url.QueryEscape(sig))
	w = performJSON(t, r, http.MethodGet, signedPath, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 serving signed report, got %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/pdf" {
		t.Fatalf("expected pdf content type, got %q", ct)
	}

	tampered := fmt.Sprintf("%s?exp=%s&sig=%s", parsed.Path, exp, "bogus")
	if w = performJSON(t, r, http.MethodGet, tampered, nil); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for invalid signature, got %d", w.Code)
	}

	if w = performJSON(t, r, http.MethodGet, parsed.Path, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing signature, got %d", w.Code)
	}
}

func TestServeReportExpiredLink(t *testing.T) {
	r := setupTestServer(t)
	job := completeJob(t, r)

	if w := performJSON(t, r, http.MethodPost, "/api/jobs/"+job.ID+"/report", nil); w.Code != http.StatusOK {
		t.Fatalf("generate report: %d", w.Code)
	}

	// A correctly signed link that has already expired.
	expiredAt := time.Now().Add(-time.Hour).Unix()
	path := "/report/" + job.ID
	signed := services.SignURL(path, expiredAt, "test-secret")

	if w := performJSON(t, r, http.MethodGet, signed, nil); w.Code != http.StatusGone {
		t.Fatalf("expected 410 for expired link, got %d", w.Code)
	}

	// Garbage expiration is rejected before signature checks.
	bad := path + "?exp=soon&sig=abc"
	if w := performJSON(t, r, http.MethodGet, bad, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed expiration, got %d", w.Code)
	}
}

func TestShareWithoutReport(t *testing.T) {
	r := setupTestServer(t)
	job := completeJob(t, r)

	if w := performJSON(t, r, http.MethodPost, "/api/jobs/"+job.ID+"/share", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 sharing before report generation, got %d", w.Code)
	}
}

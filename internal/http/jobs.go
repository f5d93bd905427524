package http

import (
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Lokesh-T-2506/AutoGrader/internal/domain"
)

func (a *API) handleCreateSubmission(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		respondMessage(c, http.StatusBadRequest, "missing image file")
		return
	}

	upload, err := fileHeader.Open()
	if err != nil {
		respondMessage(c, http.StatusInternalServerError, "unable to read uploaded file")
		return
	}
	defer upload.Close()

	imagePath, err := a.files.SaveUploadedImage(upload, fileHeader.Filename)
	if err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}

	sub, err := a.store.CreateSubmission(domain.Submission{ImageRef: imagePath})
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}

	c.JSON(http.StatusCreated, sub)
}

func (a *API) handleGetSubmission(c *gin.Context) {
	sub, err := a.store.GetSubmission(c.Param("id"))
	if err != nil {
		respondMessage(c, http.StatusNotFound, "submission not found")
		return
	}
	c.JSON(http.StatusOK, sub)
}

type gradeSubmissionRequest struct {
	Rubric []rubricCriterionPayload `json:"rubric" binding:"required" validate:"dive"`
	Tone   string                   `json:"tone"`
}

func (a *API) handleGradeSubmission(c *gin.Context) {
	submissionID := c.Param("id")
	if _, err := a.store.GetSubmission(submissionID); err != nil {
		respondMessage(c, http.StatusNotFound, "submission not found")
		return
	}

	var payload gradeSubmissionRequest
	if err := c.ShouldBindJSON(&payload); err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}
	if err := validate.Struct(payload); err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}
	if payload.Tone != "" && !domain.ValidTone(payload.Tone) {
		respondMessage(c, http.StatusBadRequest, "unknown tone")
		return
	}

	job, err := a.orch.StartJob(submissionID, toRubric(payload.Rubric), payload.Tone)
	if err != nil {
		respondError(c, statusForError(err), err)
		return
	}

	job, err = a.orch.Process(c.Request.Context(), job.ID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}

	c.JSON(http.StatusCreated, job)
}

func (a *API) handleGetJob(c *gin.Context) {
	job, err := a.store.GetJob(c.Param("id"))
	if err != nil {
		respondMessage(c, http.StatusNotFound, "job not found")
		return
	}
	c.JSON(http.StatusOK, job)
}

func (a *API) handleCancelJob(c *gin.Context) {
	job, err := a.orch.Cancel(c.Param("id"))
	if err != nil {
		respondMessage(c, http.StatusNotFound, "job not found")
		return
	}
	c.JSON(http.StatusOK, job)
}

func (a *API) handleGenerateReport(c *gin.Context) {
	jobID := c.Param("id")
	job, err := a.store.GetJob(jobID)
	if err != nil {
		respondMessage(c, http.StatusNotFound, "job not found")
		return
	}
	if job.State != domain.JobStateCompleted {
		respondMessage(c, http.StatusBadRequest, "job is not completed")
		return
	}

	sub, err := a.store.GetSubmission(job.SubmissionID)
	if err != nil {
		respondMessage(c, http.StatusNotFound, "submission not found")
		return
	}

	reportPath := a.files.ReportPath(job.ID)
	if err := a.report.GenerateReport(job, sub, reportPath); err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}

	job.ReportPath = reportPath
	if _, err := a.store.UpdateJob(job); err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"reportPath": reportPath})
}

func (a *API) handleShareReport(c *gin.Context) {
	jobID := c.Param("id")
	job, err := a.store.GetJob(jobID)
	if err != nil {
		respondMessage(c, http.StatusNotFound, "job not found")
		return
	}

	if job.ReportPath == "" {
		respondMessage(c, http.StatusBadRequest, "no report available for this job")
		return
	}

	url, expiresAt, err := a.share.Generate(jobID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"url": url, "expiresAt": expiresAt.UTC()})
}

func (a *API) handleServeReport(c *gin.Context) {
	jobID := c.Param("id")
	expiresParam := c.Query("exp")
	signature := c.Query("sig")

	if expiresParam == "" || signature == "" {
		respondMessage(c, http.StatusBadRequest, "missing signature")
		return
	}

	expires, err := strconv.ParseInt(expiresParam, 10, 64)
	if err != nil {
		respondMessage(c, http.StatusBadRequest, "invalid expiration")
		return
	}

	if expires < time.Now().Unix() {
		respondMessage(c, http.StatusGone, "link expired")
		return
	}

	path := c.Request.URL.Path
	if !a.share.Validate(path, expires, signature) {
		respondMessage(c, http.StatusForbidden, "invalid signature")
		return
	}

	job, err := a.store.GetJob(jobID)
	if err != nil {
		respondMessage(c, http.StatusNotFound, "job not found")
		return
	}

	reportPath := job.ReportPath
	if reportPath == "" {
		reportPath = a.files.ReportPath(jobID)
	}

	if _, err := os.Stat(reportPath); err != nil {
		respondMessage(c, http.StatusNotFound, "report not found")
		return
	}

	c.Header("Content-Type", "application/pdf")
	c.FileAttachment(reportPath, filepath.Base(reportPath))
}

package services

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf/v2"

	"github.com/Lokesh-T-2506/AutoGrader/internal/domain"
)

// ReportService renders the grading report PDF for a completed job.
type ReportService struct{}

func NewReportService() *ReportService {
	return &ReportService{}
}

func (s *ReportService) GenerateReport(job domain.GradingJob, sub domain.Submission, outPath string) error {
	if job.Result == nil || job.Feedback == nil {
		return fmt.Errorf("job %s has no result to report", job.ID)
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("ensure report directory: %w", err)
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(fmt.Sprintf("Grading Report %s", job.ID), false)
	pdf.SetAuthor("AutoGrader", false)
	pdf.AddPage()

	createdAt := time.Unix(job.CreatedAt, 0).Local()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.Cell(0, 10, "Grading Report")
	pdf.Ln(12)

	pdf.SetFont("Helvetica", "", 12)
	pdf.Cell(0, 6, fmt.Sprintf("Submission: %s", sub.ID))
	pdf.Ln(6)
	pdf.Cell(0, 6, fmt.Sprintf("Graded on: %s", createdAt.Format("02/01/2006 15:04")))
	pdf.Ln(6)
	pdf.Cell(0, 6, fmt.Sprintf("Score: %.1f/%.1f (%.1f%%)  -  confidence %.2f",
		job.Result.TotalScore, job.Result.MaxScore, job.Result.Percentage, job.Result.OverallConfidence))
	pdf.Ln(12)

	s.writeScoreTable(pdf, job.Result.CriterionScores)
	pdf.Ln(8)

	if sub.ExtractedText != nil {
		s.writeSection(pdf, "Recognized Answer", *sub.ExtractedText, false)
		pdf.Ln(8)
	}

	s.writeSection(pdf, "Feedback", job.Feedback.Narrative, false)
	pdf.Ln(4)
	s.writeSection(pdf, "Strengths", strings.Join(job.Feedback.Strengths, "\n"), true)
	pdf.Ln(4)
	s.writeSection(pdf, "Areas for Improvement", strings.Join(job.Feedback.AreasForImprovement, "\n"), true)

	if err := pdf.OutputFileAndClose(outPath); err != nil {
		return fmt.Errorf("write report: %w", err)
	}

	return nil
}

func (s *ReportService) writeScoreTable(pdf *gofpdf.Fpdf, scores []domain.CriterionScore) {
	pdf.SetFont("Helvetica", "B", 14)
	pdf.Cell(0, 8, "Score Breakdown")
	pdf.Ln(10)

	pdf.SetFont("Helvetica", "", 12)
	for _, score := range scores {
		pdf.SetFont("Helvetica", "B", 12)
		pdf.Cell(0, 6, fmt.Sprintf("%s: %.1f/%.1f", score.CriterionID, score.PointsAwarded, score.MaxPoints))
		pdf.Ln(6)

		pdf.SetFont("Helvetica", "", 11)
		reasoning := strings.TrimSpace(score.Reasoning)
		if reasoning == "" {
			reasoning = "(no reasoning recorded)"
		}
		pdf.MultiCell(0, 5, reasoning, "", "L", false)
		pdf.Ln(2)
	}
}

func (s *ReportService) writeSection(pdf *gofpdf.Fpdf, title, content string, bullet bool) {
	pdf.SetFont("Helvetica", "B", 14)
	pdf.Cell(0, 8, title)
	pdf.Ln(10)

	pdf.SetFont("Helvetica", "", 12)

	lines := strings.Split(strings.TrimSpace(content), "\n")
	if len(lines) == 0 || strings.TrimSpace(content) == "" {
		pdf.MultiCell(0, 6, "(none)", "", "L", false)
		return
	}

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		text := line
		if bullet {
			text = fmt.Sprintf("- %s", line)
		}
		pdf.MultiCell(0, 6, text, "", "L", false)
	}
}

package services

import (
	"bytes"
	"context"
	"image"
	"strings"

	_ "image/jpeg"
	_ "image/png"

	"github.com/otiai10/gosseract/v2"

	"github.com/Lokesh-T-2506/AutoGrader/internal/domain"
)

// Extraction is the result of one OCR pass over a submission image.
type Extraction struct {
	Text       string
	Confidence float64
	ModelUsed  string
}

// TextExtractor converts a scanned image into text plus a 0-1 confidence.
// Implementations do not retry; retry policy belongs to the orchestrator.
type TextExtractor interface {
	Extract(ctx context.Context, imageBytes []byte) (Extraction, error)
}

const ocrModelName = "tesseract"

// TesseractExtractor recognizes handwriting with a local Tesseract client.
// A fresh client is created per call so the extractor itself is stateless.
type TesseractExtractor struct {
	clientFactory func() *gosseract.Client
	languages     []string
}

func NewTesseractExtractor(languages []string) *TesseractExtractor {
	return &TesseractExtractor{
		clientFactory: gosseract.NewClient,
		languages:     languages,
	}
}

func (e *TesseractExtractor) Extract(ctx context.Context, imageBytes []byte) (Extraction, error) {
	if _, _, err := image.DecodeConfig(bytes.NewReader(imageBytes)); err != nil {
		return Extraction{}, &domain.ExtractionError{Reason: "image cannot be decoded", Err: err}
	}

	select {
	case <-ctx.Done():
		return Extraction{}, &domain.ExtractionError{Reason: "cancelled", Err: ctx.Err()}
	default:
	}

	c := e.clientFactory()
	defer c.Close()

	if err := c.SetImageFromBytes(imageBytes); err != nil {
		return Extraction{}, &domain.ExtractionError{Reason: "set image", Transient: true, Err: err}
	}
	if len(e.languages) > 0 {
		if err := c.SetLanguage(e.languages...); err != nil {
			return Extraction{}, &domain.ExtractionError{Reason: "set languages", Transient: true, Err: err}
		}
	}

	text, err := c.Text()
	if err != nil {
		return Extraction{}, &domain.ExtractionError{Reason: "recognize text", Transient: true, Err: err}
	}

	return Extraction{
		Text:       strings.TrimSpace(text),
		Confidence: wordConfidence(c),
		ModelUsed:  ocrModelName,
	}, nil
}

// wordConfidence averages Tesseract's per-word confidences, normalized
// from its 0-100 scale to 0-1.
func wordConfidence(c *gosseract.Client) float64 {
	boxes, err := c.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil || len(boxes) == 0 {
		return 0
	}
	var sum float64
	for _, b := range boxes {
		sum += b.Confidence / 100.0
	}
	return clamp01(sum / float64(len(boxes)))
}

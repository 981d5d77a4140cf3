// Package ocr extracts text from receipt images and PDF documents.
package ocr

import (
	"context"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/bookeep/ingest/internal/config"
)

// Recognizer runs character recognition on a single image.
type Recognizer interface {
	Recognize(ctx context.Context, image []byte) (string, error)
}

// Engine combines image preprocessing, OCR, and PDF text extraction.
// Receipts are often crumpled phone photos, so the engine first runs a
// cleanup pipeline and falls back to the raw image when cleanup makes
// recognition worse.
type Engine struct {
	rec            Recognizer
	shortThreshold int
	maxImageWidth  int
}

// NewEngine creates an Engine with a Tesseract recognizer.
func NewEngine(cfg config.OCRConfig) *Engine {
	return NewEngineWithRecognizer(cfg, NewTesseract(cfg.Languages))
}

// NewEngineWithRecognizer allows swapping the OCR backend. Used by tests.
func NewEngineWithRecognizer(cfg config.OCRConfig, rec Recognizer) *Engine {
	threshold := cfg.ShortTextThreshold
	if threshold <= 0 {
		threshold = 40
	}
	maxWidth := cfg.MaxImageWidth
	if maxWidth <= 0 {
		maxWidth = 1600
	}
	return &Engine{rec: rec, shortThreshold: threshold, maxImageWidth: maxWidth}
}

// ExtractFromImage OCRs an image, preferring the preprocessed version but
// retrying on the original when the cleaned result looks degenerate.
func (e *Engine) ExtractFromImage(ctx context.Context, data []byte) (string, error) {
	cleaned, err := preprocess(data, e.maxImageWidth)
	if err != nil {
		zap.L().Debug("ocr: preprocessing failed, using original image", zap.Error(err))
		cleaned = data
	}

	text, err := e.rec.Recognize(ctx, cleaned)
	if err == nil && e.longEnough(text) {
		return strings.TrimSpace(text), nil
	}
	if err != nil {
		zap.L().Debug("ocr: recognition on preprocessed image failed", zap.Error(err))
	}

	// Thresholding destroys low-contrast thermal prints; the raw photo
	// sometimes reads better.
	raw, rawErr := e.rec.Recognize(ctx, data)
	if rawErr != nil {
		if err != nil {
			return "", rawErr
		}
		return strings.TrimSpace(text), nil
	}
	if utf8.RuneCountInString(strings.TrimSpace(raw)) > utf8.RuneCountInString(strings.TrimSpace(text)) {
		return strings.TrimSpace(raw), nil
	}
	return strings.TrimSpace(text), nil
}

// ExtractFromPDF prefers the embedded text layer and falls back to
// rasterizing pages for scanned PDFs.
func (e *Engine) ExtractFromPDF(ctx context.Context, data []byte) (string, error) {
	embedded, err := pdfText(data)
	if err != nil {
		return "", err
	}
	if e.longEnough(embedded) {
		return strings.TrimSpace(embedded), nil
	}

	pages, err := pdfPageImages(data)
	if err != nil {
		zap.L().Debug("ocr: pdf rasterization failed", zap.Error(err))
		return strings.TrimSpace(embedded), nil
	}

	var sb strings.Builder
	for _, page := range pages {
		text, err := e.ExtractFromImage(ctx, page)
		if err != nil {
			zap.L().Debug("ocr: page recognition failed", zap.Error(err))
			continue
		}
		if text != "" {
			if sb.Len() > 0 {
				sb.WriteString("\n\n")
			}
			sb.WriteString(text)
		}
	}
	if sb.Len() == 0 {
		return strings.TrimSpace(embedded), nil
	}
	return sb.String(), nil
}

func (e *Engine) longEnough(text string) bool {
	return utf8.RuneCountInString(strings.TrimSpace(text)) >= e.shortThreshold
}

// Package extraction turns receipt images and PDFs into structured data
// using OCR plus a language model call.
package extraction

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/bookeep/ingest/internal/config"
	"github.com/bookeep/ingest/internal/model"
	"github.com/bookeep/ingest/pkg/anthropic"
)

// ErrExtractionFailed covers model call failures and unrecoverable output.
// Callers treat it as retryable.
var ErrExtractionFailed = eris.New("extraction failed")

// ErrMalformedOutput indicates the model response contained no recoverable
// JSON object. It wraps into ErrExtractionFailed at the Extract boundary.
var ErrMalformedOutput = eris.New("malformed extraction output")

// Result is the structured data pulled from a single document. Field names
// match the JSON contract given to the model.
type Result struct {
	VendorName      *string          `json:"vendorName"`
	VendorAddress   *string          `json:"vendorAddress"`
	DocumentDate    *string          `json:"documentDate"` // YYYY-MM-DD
	DocumentType    string           `json:"documentType"`
	DocumentNumber  *string          `json:"documentNumber"`
	TotalAmount     *float64         `json:"totalAmount"`
	TotalTax        *float64         `json:"totalTax"`
	Currency        string           `json:"currency"`
	LineItems       []model.LineItem `json:"lineItems"`
	RawOCRText      string           `json:"rawOcrText"`
	ConfidenceScore float64          `json:"confidenceScore"`

	// Model records which model produced the result. Not model output.
	Model string `json:"-"`
}

// TextExtractor provides OCR text for images and PDFs.
type TextExtractor interface {
	ExtractFromImage(ctx context.Context, data []byte) (string, error)
	ExtractFromPDF(ctx context.Context, data []byte) (string, error)
}

// visionMediaTypes lists image formats the model API accepts directly.
var visionMediaTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
	"image/gif":  true,
}

// Engine orchestrates OCR and model calls for a single document.
type Engine struct {
	llm       anthropic.Client
	ocr       TextExtractor
	model     string
	maxTokens int64
	timeout   time.Duration
}

func NewEngine(llm anthropic.Client, ocr TextExtractor, cfg config.AnthropicConfig) *Engine {
	timeout := time.Duration(cfg.CallTimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Engine{
		llm:       llm,
		ocr:       ocr,
		model:     cfg.Model,
		maxTokens: maxTokens,
		timeout:   timeout,
	}
}

// Extract runs the full OCR-then-model flow for a document.
//
// Images get a vision call carrying both the raw image and the OCR text,
// falling back to a text-only call when the vision call fails and OCR found
// anything. PDFs go straight to the text-only path, so an OCR failure on a
// PDF is returned for retry. When OCR reads cleanly but finds no text,
// Extract returns an empty result without spending a model call.
func (e *Engine) Extract(ctx context.Context, data []byte, fileType string) (*Result, error) {
	isImage := !model.IsPDFType(fileType)
	canVision := isImage && visionMediaTypes[fileType]

	var (
		ocrText string
		err     error
	)
	if isImage {
		ocrText, err = e.ocr.ExtractFromImage(ctx, data)
	} else {
		ocrText, err = e.ocr.ExtractFromPDF(ctx, data)
	}
	if err != nil {
		// Without a vision fallback the OCR text is the only input.
		if !canVision {
			return nil, eris.Wrap(err, "extraction: ocr failed")
		}
		zap.L().Warn("extraction: ocr failed, relying on vision call", zap.Error(err))
		ocrText = ""
	}
	ocrText = strings.TrimSpace(ocrText)

	if !canVision && ocrText == "" {
		zap.L().Info("extraction: no readable text, skipping model call",
			zap.String("file_type", fileType))
		return emptyResult(e.model), nil
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	if canVision {
		result, visionErr := e.visionCall(ctx, data, fileType, ocrText)
		if visionErr == nil {
			result.RawOCRText = coalesce(result.RawOCRText, ocrText)
			return result, nil
		}
		if ocrText == "" {
			return nil, eris.Wrap(ErrExtractionFailed, eris.ToString(visionErr, false))
		}
		zap.L().Warn("extraction: vision call failed, retrying text-only", zap.Error(visionErr))
	}

	result, err := e.textCall(ctx, ocrText)
	if err != nil {
		return nil, eris.Wrap(ErrExtractionFailed, eris.ToString(err, false))
	}
	result.RawOCRText = coalesce(result.RawOCRText, ocrText)
	return result, nil
}

func (e *Engine) visionCall(ctx context.Context, image []byte, mediaType, ocrText string) (*Result, error) {
	msg := anthropic.Message{
		Role: "user",
		Content: []anthropic.ContentBlock{
			anthropic.ImageBlock(mediaType, image),
			anthropic.TextBlock(visionUserPrompt(ocrText)),
		},
	}
	return e.call(ctx, msg)
}

func (e *Engine) textCall(ctx context.Context, ocrText string) (*Result, error) {
	return e.call(ctx, anthropic.NewTextMessage("user", textUserPrompt(ocrText)))
}

func (e *Engine) call(ctx context.Context, msg anthropic.Message) (*Result, error) {
	temperature := 0.0
	resp, err := e.llm.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       e.model,
		MaxTokens:   e.maxTokens,
		System:      []anthropic.SystemBlock{{Text: systemPrompt}},
		Messages:    []anthropic.Message{msg},
		Temperature: &temperature,
	})
	if err != nil {
		return nil, err
	}
	resp.Usage.LogCost(e.model, "extraction")

	result, err := parseResult(resp.Text())
	if err != nil {
		return nil, err
	}
	result.Model = e.model
	return result, nil
}

// emptyResult is the deterministic output for documents OCR could not read.
func emptyResult(modelTag string) *Result {
	return &Result{
		DocumentType:    string(model.DocTypeOther),
		Currency:        "USD",
		LineItems:       []model.LineItem{},
		ConfidenceScore: 0,
		Model:           modelTag,
	}
}

func coalesce(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

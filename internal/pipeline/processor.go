// Package pipeline runs a stored document through OCR and extraction and
// records the result.
package pipeline

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/bookeep/ingest/internal/extraction"
	"github.com/bookeep/ingest/internal/model"
	"github.com/bookeep/ingest/internal/storage"
	"github.com/bookeep/ingest/internal/store"
)

// Extractor is the extraction engine surface the processor needs.
type Extractor interface {
	Extract(ctx context.Context, data []byte, fileType string) (*extraction.Result, error)
}

// Processor handles document-process tasks.
type Processor struct {
	store     store.Store
	files     *storage.Files
	extractor Extractor
}

func NewProcessor(st store.Store, files *storage.Files, extractor Extractor) *Processor {
	return &Processor{store: st, files: files, extractor: extractor}
}

// Process runs extraction for one document and moves it pending → processing
// → ready. On failure the document is rolled back to pending and the error
// propagates so the queue retries. A document that no longer exists is a
// permanent failure.
func (p *Processor) Process(ctx context.Context, documentID string) error {
	log := zap.L().With(zap.String("document_id", documentID))
	start := time.Now()

	doc, err := p.store.GetDocument(ctx, documentID)
	if err != nil {
		if eris.Is(err, store.ErrNotFound) {
			log.Warn("pipeline: document vanished, dropping task")
			return eris.Wrap(asynq.SkipRetry, "document not found")
		}
		return eris.Wrap(err, "pipeline: load document")
	}

	if err := p.store.UpdateDocumentStatus(ctx, doc.ID, model.DocumentStatusProcessing); err != nil {
		return eris.Wrap(err, "pipeline: mark processing")
	}

	result, err := p.run(ctx, doc)
	if err != nil {
		log.Error("pipeline: processing failed", zap.Error(err))
		if rbErr := p.store.UpdateDocumentStatus(ctx, doc.ID, model.DocumentStatusPending); rbErr != nil {
			log.Error("pipeline: rollback to pending failed", zap.Error(rbErr))
		}
		return err
	}

	log.Info("pipeline: document processed",
		zap.String("document_type", result.DocumentType),
		zap.Float64("confidence", result.ConfidenceScore),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

func (p *Processor) run(ctx context.Context, doc *model.Document) (*extraction.Result, error) {
	data, err := p.files.Read(doc.FilePath)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: read document file")
	}

	result, err := p.extractor.Extract(ctx, data, doc.FileType)
	if err != nil {
		return nil, err
	}

	if err := p.store.UpsertExtractedData(ctx, doc.ID, toUpsert(result)); err != nil {
		return nil, err
	}

	// Ready is written strictly after the data upsert; a crash in between
	// leaves the document processing, which a retry repairs.
	if err := p.store.UpdateDocumentStatus(ctx, doc.ID, model.DocumentStatusReady); err != nil {
		return nil, eris.Wrap(err, "pipeline: mark ready")
	}
	return result, nil
}

// toUpsert converts model output into the store's machine-field update.
// The user-edited flag is intentionally not part of it.
func toUpsert(r *extraction.Result) store.ExtractionUpsert {
	up := store.ExtractionUpsert{
		DocumentType:    model.DocumentType(r.DocumentType),
		TotalAmount:     r.TotalAmount,
		TotalTax:        r.TotalTax,
		Currency:        r.Currency,
		LineItems:       r.LineItems,
		RawOCRText:      r.RawOCRText,
		ConfidenceScore: r.ConfidenceScore,
		ExtractionModel: r.Model,
	}
	if r.VendorName != nil {
		up.VendorName = *r.VendorName
	}
	if r.VendorAddress != nil {
		up.VendorAddress = *r.VendorAddress
	}
	if r.DocumentNumber != nil {
		up.DocumentNumber = *r.DocumentNumber
	}
	if r.DocumentDate != nil {
		if ts, err := time.Parse("2006-01-02", *r.DocumentDate); err == nil {
			up.DocumentDate = &ts
		} else {
			zap.L().Debug("pipeline: unparseable document date",
				zap.String("document_date", *r.DocumentDate))
		}
	}
	return up
}

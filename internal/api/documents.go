package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bookeep/ingest/internal/billing"
	"github.com/bookeep/ingest/internal/model"
	"github.com/bookeep/ingest/internal/storage"
	"github.com/bookeep/ingest/internal/store"
)

type uploadResult struct {
	Documents []*model.Document `json:"documents"`
	Errors    []uploadError     `json:"errors,omitempty"`
}

type uploadError struct {
	Filename string `json:"filename"`
	Error    string `json:"error"`
}

// handleUpload accepts a multipart batch of receipt files. Files are
// processed independently: a rejected file is reported in the response
// without failing the rest of the batch.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	org := orgID(ctx)

	limitKey := org
	if uid := userID(ctx); uid != "" {
		limitKey = org + ":" + uid
	}
	allowed, err := s.uploads.Allow(ctx, limitKey)
	if err != nil {
		zap.L().Error("api: upload rate limit check", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "rate limit check failed")
		return
	}
	if !allowed {
		writeError(w, http.StatusTooManyRequests, "upload rate limit exceeded")
		return
	}

	if err := s.billing.CheckDocumentQuota(ctx, org); err != nil {
		if errors.Is(err, billing.ErrLimitExceeded) {
			writeError(w, http.StatusForbidden, "monthly document limit reached")
			return
		}
		zap.L().Error("api: upload quota check", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "quota check failed")
		return
	}

	reader, err := r.MultipartReader()
	if err != nil {
		writeError(w, http.StatusBadRequest, "expected multipart form data")
		return
	}

	// The multipart stream must be consumed sequentially; buffer each
	// file, then ingest in parallel (thumbnailing dominates the cost).
	files, errs, ok := s.readUploadParts(w, reader)
	if !ok {
		return
	}
	if len(files)+len(errs) == 0 {
		writeError(w, http.StatusBadRequest, "no files in request")
		return
	}

	docs := make([]*model.Document, len(files))
	fileErrs := make([]error, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, file := range files {
		g.Go(func() error {
			docs[i], fileErrs[i] = s.ingestUpload(gctx, org, userID(ctx), file)
			return nil
		})
	}
	_ = g.Wait()

	result := uploadResult{Documents: []*model.Document{}, Errors: errs}
	for i, doc := range docs {
		if fileErrs[i] != nil {
			result.Errors = append(result.Errors, uploadError{
				Filename: files[i].name,
				Error:    fileErrs[i].Error(),
			})
			continue
		}
		result.Documents = append(result.Documents, doc)
	}

	status := http.StatusCreated
	if len(result.Documents) == 0 {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, result)
}

type uploadFile struct {
	name     string
	fileType string
	data     []byte
}

func (s *Server) readUploadParts(w http.ResponseWriter, reader *multipart.Reader) ([]uploadFile, []uploadError, bool) {
	var files []uploadFile
	var errs []uploadError
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			return files, errs, true
		}
		if err != nil {
			writeError(w, http.StatusBadRequest, "malformed multipart body")
			return nil, nil, false
		}
		if part.FormName() != "files" || part.FileName() == "" {
			continue
		}
		if len(files)+len(errs) >= s.maxFiles {
			errs = append(errs, uploadError{
				Filename: part.FileName(),
				Error:    "too many files in one request",
			})
			continue
		}

		data, err := io.ReadAll(io.LimitReader(part, s.maxBytes+1))
		if err != nil {
			errs = append(errs, uploadError{Filename: part.FileName(), Error: "read failed"})
			continue
		}
		if int64(len(data)) > s.maxBytes {
			errs = append(errs, uploadError{Filename: part.FileName(), Error: "file too large"})
			continue
		}
		files = append(files, uploadFile{
			name:     part.FileName(),
			fileType: part.Header.Get("Content-Type"),
			data:     data,
		})
	}
}

func (s *Server) ingestUpload(ctx context.Context, org, uploadedBy string, file uploadFile) (*model.Document, error) {
	if !storage.IsAllowedType(file.fileType) {
		return nil, errors.New("unsupported file type")
	}

	if err := s.billing.CheckDocumentQuota(ctx, org); err != nil {
		if errors.Is(err, billing.ErrLimitExceeded) {
			return nil, errors.New("monthly document limit reached")
		}
		return nil, errors.New("quota check failed")
	}

	filePath, thumbPath, err := s.files.SaveWithThumbnail(org, file.fileType, file.data)
	if err != nil {
		zap.L().Error("api: save upload", zap.Error(err))
		return nil, errors.New("storage failed")
	}

	doc, err := s.store.CreateDocument(ctx, store.NewDocument{
		OrgID:            org,
		UploadedByUserID: uploadedBy,
		Source:           model.DocumentSourceUpload,
		FilePath:         filePath,
		FileType:         file.fileType,
		FileSizeBytes:    int64(len(file.data)),
		ThumbnailPath:    thumbPath,
	})
	if err != nil {
		zap.L().Error("api: create uploaded document", zap.Error(err))
		return nil, errors.New("create document failed")
	}

	if err := s.enqueuer.EnqueueDocumentProcess(ctx, doc.ID); err != nil {
		zap.L().Error("api: enqueue uploaded document",
			zap.String("document_id", doc.ID), zap.Error(err))
	}
	return doc, nil
}

type documentResponse struct {
	Document   *model.Document      `json:"document"`
	Extraction *model.ExtractedData `json:"extraction,omitempty"`
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	doc, ok := s.loadOrgDocument(w, r)
	if !ok {
		return
	}

	resp := documentResponse{Document: doc}
	extraction, err := s.store.GetExtractedData(ctx, doc.ID)
	switch {
	case err == nil:
		resp.Extraction = extraction
	case errors.Is(err, store.ErrNotFound):
		// Not yet processed.
	default:
		zap.L().Error("api: load extraction", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "extraction lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleReextract re-runs extraction for a document, e.g. after a model
// upgrade or a bad first pass. Human edits on the row survive the rerun.
func (s *Server) handleReextract(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.loadOrgDocument(w, r)
	if !ok {
		return
	}
	if err := s.enqueuer.EnqueueDocumentProcess(r.Context(), doc.ID); err != nil {
		zap.L().Error("api: enqueue re-extraction", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "enqueue failed")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"document_id": doc.ID,
		"status":      "queued",
	})
}

// handlePatchExtraction applies human corrections to extracted fields and
// marks the row user-edited so reprocessing cannot clobber them.
func (s *Server) handlePatchExtraction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	doc, ok := s.loadOrgDocument(w, r)
	if !ok {
		return
	}

	var fields map[string]any
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(fields) == 0 {
		writeError(w, http.StatusBadRequest, "no fields to update")
		return
	}

	if err := s.store.MarkExtractionUserEdited(ctx, doc.ID, fields); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no extraction for document")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	extraction, err := s.store.GetExtractedData(ctx, doc.ID)
	if err != nil {
		zap.L().Error("api: reload extraction", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "extraction lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, documentResponse{Document: doc, Extraction: extraction})
}

// loadOrgDocument fetches the {id} document and enforces tenant ownership.
// Cross-tenant IDs read as not found.
func (s *Server) loadOrgDocument(w http.ResponseWriter, r *http.Request) (*model.Document, bool) {
	doc, err := s.store.GetDocument(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "document not found")
			return nil, false
		}
		zap.L().Error("api: load document", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "document lookup failed")
		return nil, false
	}
	if doc.OrgID != orgID(r.Context()) {
		writeError(w, http.StatusNotFound, "document not found")
		return nil, false
	}
	return doc, true
}

// Package storage persists original document files and derived thumbnails
// on the local filesystem, scoped per organization.
package storage

import (
	"bytes"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/go-fitz"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/bookeep/ingest/internal/model"
)

const (
	thumbnailMaxSize = 300
	thumbnailQuality = 80
)

// extByType maps accepted MIME types to on-disk extensions.
var extByType = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/webp":      ".webp",
	"image/heic":      ".heic",
	"image/gif":       ".gif",
	"application/pdf": ".pdf",
}

// Files stores originals and thumbnails under a root directory. Paths
// returned by its methods are relative to the root so the database stays
// portable across hosts.
type Files struct {
	root string
}

func NewFiles(root string) (*Files, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, eris.Wrap(err, "storage: create root dir")
	}
	return &Files{root: root}, nil
}

// IsAllowedType reports whether the MIME type is accepted for ingestion.
func IsAllowedType(fileType string) bool {
	_, ok := extByType[fileType]
	return ok
}

// Save writes data to a new file under the organization's directory and
// returns its relative path.
func (f *Files) Save(orgID string, fileType string, data []byte) (string, error) {
	ext, ok := extByType[fileType]
	if !ok {
		return "", eris.Errorf("storage: unsupported file type %q", fileType)
	}

	dir := filepath.Join(f.root, orgID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", eris.Wrap(err, "storage: create org dir")
	}

	rel := filepath.Join(orgID, uuid.New().String()+ext)
	if err := os.WriteFile(filepath.Join(f.root, rel), data, 0o644); err != nil {
		return "", eris.Wrap(err, "storage: write file")
	}
	return rel, nil
}

// Read returns the contents of a previously saved file.
func (f *Files) Read(relPath string) ([]byte, error) {
	abs, err := f.resolve(relPath)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, eris.Wrap(err, "storage: read file")
	}
	return data, nil
}

// Delete removes a saved file. Missing files are not an error.
func (f *Files) Delete(relPath string) error {
	abs, err := f.resolve(relPath)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
		return eris.Wrap(err, "storage: delete file")
	}
	return nil
}

// AbsPath returns the absolute filesystem path for a stored file.
func (f *Files) AbsPath(relPath string) (string, error) {
	return f.resolve(relPath)
}

// resolve rejects paths that would escape the storage root.
func (f *Files) resolve(relPath string) (string, error) {
	abs := filepath.Join(f.root, relPath)
	if !strings.HasPrefix(abs, filepath.Clean(f.root)+string(filepath.Separator)) {
		return "", eris.Errorf("storage: path %q escapes storage root", relPath)
	}
	return abs, nil
}

// GenerateThumbnail renders a small preview next to the original and returns
// its relative path. Thumbnail failures are survivable; callers log and move
// on with an empty path.
func (f *Files) GenerateThumbnail(orgID string, fileType string, data []byte) (string, error) {
	var (
		img image.Image
		err error
	)
	switch {
	case model.IsPDFType(fileType):
		img, err = firstPDFPage(data)
	case model.IsImageType(fileType):
		img, err = imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	default:
		return "", eris.Errorf("storage: no thumbnail for type %q", fileType)
	}
	if err != nil {
		return "", eris.Wrap(err, "storage: decode for thumbnail")
	}

	thumb := imaging.Fit(img, thumbnailMaxSize, thumbnailMaxSize, imaging.Lanczos)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, thumb, &jpeg.Options{Quality: thumbnailQuality}); err != nil {
		return "", eris.Wrap(err, "storage: encode thumbnail")
	}

	dir := filepath.Join(f.root, orgID, "thumbs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", eris.Wrap(err, "storage: create thumbs dir")
	}
	rel := filepath.Join(orgID, "thumbs", uuid.New().String()+".jpg")
	if err := os.WriteFile(filepath.Join(f.root, rel), buf.Bytes(), 0o644); err != nil {
		return "", eris.Wrap(err, "storage: write thumbnail")
	}
	return rel, nil
}

// SaveWithThumbnail stores the original and best-effort generates a preview.
func (f *Files) SaveWithThumbnail(orgID string, fileType string, data []byte) (filePath, thumbPath string, err error) {
	filePath, err = f.Save(orgID, fileType, data)
	if err != nil {
		return "", "", err
	}
	thumbPath, err = f.GenerateThumbnail(orgID, fileType, data)
	if err != nil {
		zap.L().Warn("storage: thumbnail generation failed",
			zap.String("file_path", filePath),
			zap.String("file_type", fileType),
			zap.Error(err))
		return filePath, "", nil
	}
	return filePath, thumbPath, nil
}

// firstPDFPage rasterizes page one of a PDF.
func firstPDFPage(data []byte) (image.Image, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, eris.Wrap(err, "storage: open pdf")
	}
	defer doc.Close()

	if doc.NumPage() == 0 {
		return nil, eris.New("storage: pdf has no pages")
	}
	img, err := doc.Image(0)
	if err != nil {
		return nil, eris.Wrap(err, "storage: render pdf page")
	}
	return img, nil
}

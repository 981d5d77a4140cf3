package storage

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFiles(t *testing.T) *Files {
	t.Helper()
	f, err := NewFiles(t.TempDir())
	require.NoError(t, err)
	return f
}

func testJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func TestFiles_SaveAndRead(t *testing.T) {
	f := newTestFiles(t)

	data := testJPEG(t, 10, 10)
	rel, err := f.Save("org-1", "image/jpeg", data)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(rel, "org-1"+string(filepath.Separator)))
	assert.True(t, strings.HasSuffix(rel, ".jpg"))

	got, err := f.Read(rel)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestFiles_Save_RejectsUnknownType(t *testing.T) {
	f := newTestFiles(t)

	_, err := f.Save("org-1", "text/html", []byte("<html>"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported file type")
}

func TestFiles_Read_RejectsEscapingPath(t *testing.T) {
	f := newTestFiles(t)

	_, err := f.Read("../../etc/passwd")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "escapes storage root")
}

func TestFiles_Delete_MissingIsNoError(t *testing.T) {
	f := newTestFiles(t)

	require.NoError(t, f.Delete("org-1/never-existed.jpg"))
}

func TestFiles_GenerateThumbnail_FitsWithinBounds(t *testing.T) {
	f := newTestFiles(t)

	rel, err := f.GenerateThumbnail("org-1", "image/jpeg", testJPEG(t, 1200, 600))
	require.NoError(t, err)
	assert.Contains(t, rel, filepath.Join("org-1", "thumbs"))

	data, err := f.Read(rel)
	require.NoError(t, err)
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	assert.LessOrEqual(t, cfg.Width, 300)
	assert.LessOrEqual(t, cfg.Height, 300)
	// Aspect ratio preserved: a 2:1 source yields a 300x150 preview.
	assert.Equal(t, 300, cfg.Width)
	assert.Equal(t, 150, cfg.Height)
}

func TestFiles_GenerateThumbnail_PNGSource(t *testing.T) {
	f := newTestFiles(t)

	img := image.NewRGBA(image.Rect(0, 0, 50, 50))
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	rel, err := f.GenerateThumbnail("org-1", "image/png", buf.Bytes())
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(rel, ".jpg"))
}

func TestFiles_SaveWithThumbnail_SurvivesBadImage(t *testing.T) {
	f := newTestFiles(t)

	// Valid type but undecodable bytes: original is kept, thumbnail skipped.
	filePath, thumbPath, err := f.SaveWithThumbnail("org-1", "image/jpeg", []byte("not an image"))
	require.NoError(t, err)
	assert.NotEmpty(t, filePath)
	assert.Empty(t, thumbPath)

	got, err := f.Read(filePath)
	require.NoError(t, err)
	assert.Equal(t, "not an image", string(got))
}

func TestIsAllowedType(t *testing.T) {
	for _, typ := range []string{"image/jpeg", "image/png", "image/webp", "image/heic", "application/pdf"} {
		assert.True(t, IsAllowedType(typ), typ)
	}
	for _, typ := range []string{"text/plain", "application/zip", "image/svg+xml", ""} {
		assert.False(t, IsAllowedType(typ), typ)
	}
}

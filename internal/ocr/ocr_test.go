package ocr

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bookeep/ingest/internal/config"
)

// scriptedRecognizer returns queued results in call order.
type scriptedRecognizer struct {
	results []string
	errs    []error
	calls   int
	inputs  [][]byte
}

func (s *scriptedRecognizer) Recognize(_ context.Context, img []byte) (string, error) {
	i := s.calls
	s.calls++
	s.inputs = append(s.inputs, img)
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	var text string
	if i < len(s.results) {
		text = s.results[i]
	}
	return text, err
}

func testEngine(rec Recognizer) *Engine {
	return NewEngineWithRecognizer(config.OCRConfig{ShortTextThreshold: 20, MaxImageWidth: 1600}, rec)
}

func testReceiptJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 80, 120))
	for x := 0; x < 80; x++ {
		for y := 0; y < 120; y++ {
			img.Set(x, y, color.RGBA{R: 240, G: 240, B: 240, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func TestEngine_ExtractFromImage_PreprocessedResultUsed(t *testing.T) {
	rec := &scriptedRecognizer{results: []string{"TOTAL 42.50 ILS thank you for shopping"}}
	e := testEngine(rec)

	text, err := e.ExtractFromImage(context.Background(), testReceiptJPEG(t))
	require.NoError(t, err)
	assert.Equal(t, "TOTAL 42.50 ILS thank you for shopping", text)
	assert.Equal(t, 1, rec.calls)
}

func TestEngine_ExtractFromImage_ShortResultRetriesOriginal(t *testing.T) {
	rec := &scriptedRecognizer{results: []string{
		"|||",
		"SuperPharm TOTAL 42.50 payment by card",
	}}
	e := testEngine(rec)

	original := testReceiptJPEG(t)
	text, err := e.ExtractFromImage(context.Background(), original)
	require.NoError(t, err)
	assert.Equal(t, "SuperPharm TOTAL 42.50 payment by card", text)
	require.Equal(t, 2, rec.calls)
	// The retry sees the unmodified upload bytes.
	assert.Equal(t, original, rec.inputs[1])
}

func TestEngine_ExtractFromImage_KeepsLongerOfTwoShortResults(t *testing.T) {
	rec := &scriptedRecognizer{results: []string{"abc def", "ab"}}
	e := testEngine(rec)

	text, err := e.ExtractFromImage(context.Background(), testReceiptJPEG(t))
	require.NoError(t, err)
	assert.Equal(t, "abc def", text)
}

func TestEngine_ExtractFromImage_UndecodableFallsBackToRawBytes(t *testing.T) {
	rec := &scriptedRecognizer{results: []string{"text from the raw bytes path ok"}}
	e := testEngine(rec)

	// Preprocessing cannot decode this; the recognizer still gets the input.
	text, err := e.ExtractFromImage(context.Background(), []byte("not an image"))
	require.NoError(t, err)
	assert.Equal(t, "text from the raw bytes path ok", text)
	assert.Equal(t, []byte("not an image"), rec.inputs[0])
}

func TestEngine_ExtractFromImage_BothAttemptsFail(t *testing.T) {
	boom := errors.New("tesseract exploded")
	rec := &scriptedRecognizer{errs: []error{boom, boom}}
	e := testEngine(rec)

	_, err := e.ExtractFromImage(context.Background(), testReceiptJPEG(t))
	require.Error(t, err)
	assert.Equal(t, 2, rec.calls)
}

func TestEngine_ExtractFromImage_FirstFailsSecondSucceeds(t *testing.T) {
	rec := &scriptedRecognizer{
		results: []string{"", "recovered text from the original image"},
		errs:    []error{errors.New("bad image"), nil},
	}
	e := testEngine(rec)

	text, err := e.ExtractFromImage(context.Background(), testReceiptJPEG(t))
	require.NoError(t, err)
	assert.Equal(t, "recovered text from the original image", text)
}

func TestPreprocess_ShrinksOversizedImages(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 3200, 400))
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))

	out, err := preprocess(buf.Bytes(), 1600)
	require.NoError(t, err)

	cfg, _, err := image.DecodeConfig(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 1600, cfg.Width)
}

func TestBinarize(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 2, 1))
	img.Pix[0] = 200 // above cutoff
	img.Pix[1] = 50  // below cutoff

	out := binarize(img)
	assert.Equal(t, uint8(255), out.Pix[0])
	assert.Equal(t, uint8(0), out.Pix[1])
}

func TestNewTesseract_LanguageParsing(t *testing.T) {
	assert.Equal(t, []string{"eng", "heb"}, NewTesseract("eng+heb").languages)
	assert.Equal(t, []string{"eng"}, NewTesseract("eng").languages)
	assert.Equal(t, []string{"eng", "heb"}, NewTesseract("").languages)
}

func TestEngine_LongEnough(t *testing.T) {
	e := testEngine(nil)
	assert.False(t, e.longEnough(strings.Repeat("x", 19)))
	assert.False(t, e.longEnough("   \n\t  "))
	assert.True(t, e.longEnough(strings.Repeat("x", 20)))
	// Rune count, not byte count: 20 Hebrew letters pass.
	assert.True(t, e.longEnough(strings.Repeat("ש", 20)))
}

package ocr

import (
	"context"
	"strings"

	"github.com/otiai10/gosseract/v2"
	"github.com/rotisserie/eris"
)

// Tesseract recognizes text with a local Tesseract installation.
// A fresh client is created per call; gosseract clients are not safe for
// concurrent use.
type Tesseract struct {
	languages []string
}

// NewTesseract creates a Tesseract recognizer. Languages use Tesseract
// notation, joined with "+" (for example "eng+heb").
func NewTesseract(languages string) *Tesseract {
	langs := strings.Split(languages, "+")
	if languages == "" {
		langs = []string{"eng", "heb"}
	}
	return &Tesseract{languages: langs}
}

func (t *Tesseract) Recognize(ctx context.Context, image []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", eris.Wrap(err, "ocr: context done")
	}

	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(t.languages...); err != nil {
		return "", eris.Wrap(err, "ocr: set language")
	}
	if err := client.SetImageFromBytes(image); err != nil {
		return "", eris.Wrap(err, "ocr: set image")
	}

	text, err := client.Text()
	if err != nil {
		return "", eris.Wrap(err, "ocr: tesseract")
	}
	return text, nil
}

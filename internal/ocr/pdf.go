package ocr

import (
	"bytes"
	"image/png"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/rotisserie/eris"
)

// maxRasterPages bounds how many pages a scanned PDF gets OCRed. Receipts
// and invoices are short; anything longer is almost certainly not one.
const maxRasterPages = 10

// pdfText concatenates the embedded text layer of every page.
func pdfText(data []byte) (string, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return "", eris.Wrap(err, "ocr: open pdf")
	}
	defer doc.Close()

	var sb strings.Builder
	for n := 0; n < doc.NumPage(); n++ {
		text, err := doc.Text(n)
		if err != nil {
			return "", eris.Wrapf(err, "ocr: pdf text page %d", n)
		}
		sb.WriteString(text)
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

// pdfPageImages rasterizes pages for OCR of scanned PDFs.
func pdfPageImages(data []byte) ([][]byte, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, eris.Wrap(err, "ocr: open pdf")
	}
	defer doc.Close()

	pages := doc.NumPage()
	if pages > maxRasterPages {
		pages = maxRasterPages
	}

	out := make([][]byte, 0, pages)
	for n := 0; n < pages; n++ {
		img, err := doc.Image(n)
		if err != nil {
			return nil, eris.Wrapf(err, "ocr: render pdf page %d", n)
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return nil, eris.Wrapf(err, "ocr: encode pdf page %d", n)
		}
		out = append(out, buf.Bytes())
	}
	return out, nil
}

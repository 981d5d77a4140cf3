package ocr

import (
	"bytes"
	"image"
	"image/png"

	"github.com/disintegration/imaging"
	"github.com/rotisserie/eris"
)

const binarizeCutoff = 140

// preprocess cleans up a photographed receipt for recognition: grayscale,
// contrast stretch, sharpen, brighten, binarize, and cap the width so
// Tesseract is not fed multi-megapixel originals.
func preprocess(data []byte, maxWidth int) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, eris.Wrap(err, "ocr: decode image")
	}

	img = imaging.Grayscale(img)
	img = imaging.AdjustContrast(img, 20)
	img = imaging.Sharpen(img, 1.0)
	img = imaging.AdjustBrightness(img, 5)
	img = binarize(img)

	if img.Bounds().Dx() > maxWidth {
		img = imaging.Resize(img, maxWidth, 0, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, eris.Wrap(err, "ocr: encode preprocessed image")
	}
	return buf.Bytes(), nil
}

// binarize applies a fixed luminance threshold. The input is already
// grayscale so any channel carries the luminance.
func binarize(src image.Image) *image.Gray {
	bounds := src.Bounds()
	out := image.NewGray(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, _, _, _ := src.At(x, y).RGBA()
			v := uint8(r >> 8)
			if v > binarizeCutoff {
				v = 255
			} else {
				v = 0
			}
			out.Pix[out.PixOffset(x, y)] = v
		}
	}
	return out
}

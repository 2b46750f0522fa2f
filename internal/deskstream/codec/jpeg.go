package codec

import (
	"bytes"
	"image"
	"image/jpeg"

	"github.com/pkg/errors"
	"golang.org/x/image/draw"

	"github.com/babelcloud/deskstream/internal/deskstream/core"
)

// DefaultQuality is the JPEG quality used for video frames.
const DefaultQuality = 50

// JPEG implements core.Codec with baseline JPEG.
type JPEG struct {
	// Scaler resamples frames in Resize. Nil means draw.ApproxBiLinear.
	Scaler draw.Scaler
}

// NewJPEG returns a JPEG codec with the default scaler.
func NewJPEG() *JPEG {
	return &JPEG{}
}

// Encode compresses img. Quality is clamped to 1..100.
func (j *JPEG) Encode(img image.Image, quality int) ([]byte, error) {
	if img == nil {
		return nil, errors.New("encode: nil image")
	}
	if quality < 1 {
		quality = 1
	} else if quality > 100 {
		quality = 100
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, errors.Wrap(err, "encode jpeg")
	}
	return buf.Bytes(), nil
}

// Decode decompresses a frame payload. Failures satisfy errors.Is(err, core.ErrDecode).
func (j *JPEG) Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, core.Classify(core.ErrDecode, nil, "decode jpeg: empty payload")
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, core.Classify(core.ErrDecode, err, "decode jpeg")
	}
	return img, nil
}

// Resize scales img to exactly size. An image already at size is returned unchanged.
func (j *JPEG) Resize(img image.Image, size core.Geometry) image.Image {
	return Resize(img, size, j.Scaler)
}

// Resize scales img to size using scaler (draw.ApproxBiLinear when nil).
func Resize(img image.Image, size core.Geometry, scaler draw.Scaler) image.Image {
	b := img.Bounds()
	if b.Dx() == size.Width && b.Dy() == size.Height {
		return img
	}
	if scaler == nil {
		scaler = draw.ApproxBiLinear
	}
	dst := image.NewRGBA(image.Rect(0, 0, size.Width, size.Height))
	scaler.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// Package imageprocessor turns uploaded chest X-ray images into model input tensors.
package imageprocessor

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"

	"github.com/nfnt/resize"
)

// Input geometry expected by the classifier.
const (
	TargetSize = 224
	Channels   = 3
)

// ErrUnsupportedFormat is returned for uploads that are not decodable JPEG or PNG images.
var ErrUnsupportedFormat = errors.New("unsupported image format")

// Tensor is a single NHWC float image with values in [0,1].
type Tensor struct {
	Height   int
	Width    int
	Channels int
	Data     []float32
}

// Shape returns the tensor shape with a leading batch dimension of one.
func (t Tensor) Shape() []int64 {
	return []int64{1, int64(t.Height), int64(t.Width), int64(t.Channels)}
}

// Valid reports whether the tensor matches the classifier input geometry.
func (t Tensor) Valid() bool {
	return t.Height == TargetSize && t.Width == TargetSize && t.Channels == Channels &&
		len(t.Data) == TargetSize*TargetSize*Channels
}

// Preprocess decodes JPEG/PNG bytes, resizes them to 224x224 with bilinear
// interpolation (aspect ratio is not preserved) and rescales RGB channels to [0,1].
func Preprocess(data []byte) (Tensor, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Tensor{}, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	return FromImage(img), nil
}

// FromImage converts an already decoded image.
func FromImage(img image.Image) Tensor {
	resized := resize.Resize(TargetSize, TargetSize, img, resize.Bilinear)
	bounds := resized.Bounds()

	t := Tensor{
		Height:   TargetSize,
		Width:    TargetSize,
		Channels: Channels,
		Data:     make([]float32, TargetSize*TargetSize*Channels),
	}
	i := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			// Alpha is dropped, not composited.
			c := color.NRGBAModel.Convert(resized.At(x, y)).(color.NRGBA)
			t.Data[i] = float32(c.R) / 255.0
			t.Data[i+1] = float32(c.G) / 255.0
			t.Data[i+2] = float32(c.B) / 255.0
			i += Channels
		}
	}
	return t
}

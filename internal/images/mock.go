package images

import (
	"bytes"
	"context"
	"hash/fnv"
	"image"
	"image/color"
	"image/png"

	"github.com/jo-hoe/pinwriter/internal/common"
)

// Mock renders a small solid PNG whose color derives from the prompt.
type Mock struct{}

var _ Generator = Mock{}

func (Mock) Generate(ctx context.Context, prompt string) (Image, error) {
	if err := ctx.Err(); err != nil {
		return Image{}, err
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(prompt))
	sum := h.Sum32()
	fill := color.RGBA{R: uint8(sum), G: uint8(sum >> 8), B: uint8(sum >> 16), A: 0xff}

	img := image.NewRGBA(image.Rect(0, 0, 20, 30))
	for y := 0; y < 30; y++ {
		for x := 0; x < 20; x++ {
			img.Set(x, y, fill)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return Image{}, err
	}
	return Image{Data: buf.Bytes(), MimeType: common.MimeImagePNG}, nil
}

package pipeline

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"

	"golang.org/x/image/draw"
)

// upscaleFactor is fixed; the step takes no parameters.
const upscaleFactor = 2

// cropImage decodes the parent bytes, extracts the rectangle and re-encodes
// as PNG. The rectangle was clamped to the parent bounds during
// normalization.
func cropImage(data []byte, rect CropRect) ([]byte, int, int, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("pipeline: decode image: %w", err)
	}
	bounds := src.Bounds()
	target := image.Rect(0, 0, rect.Width, rect.Height)
	out := image.NewNRGBA(target)
	origin := image.Pt(bounds.Min.X+rect.X, bounds.Min.Y+rect.Y)
	draw.Draw(out, target, src, origin, draw.Src)
	encoded, err := encodePNG(out)
	if err != nil {
		return nil, 0, 0, err
	}
	return encoded, rect.Width, rect.Height, nil
}

// upscaleImage resamples the parent at twice its resolution with Catmull-Rom
// interpolation.
func upscaleImage(data []byte) ([]byte, int, int, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("pipeline: decode image: %w", err)
	}
	bounds := src.Bounds()
	w := bounds.Dx() * upscaleFactor
	h := bounds.Dy() * upscaleFactor
	out := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(out, out.Bounds(), src, bounds, draw.Src, nil)
	encoded, err := encodePNG(out)
	if err != nil {
		return nil, 0, 0, err
	}
	return encoded, w, h, nil
}

func encodePNG(img image.Image) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := png.Encode(buf, img); err != nil {
		return nil, fmt.Errorf("pipeline: encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func dimensions(data []byte) (int, int) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0
	}
	return cfg.Width, cfg.Height
}

package encoder

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const jpegQuality = 90

// MaxPixels bounds width*height of any image the encoder will decode.
const MaxPixels = 50_000_000

// ErrTooManyPixels means the image header declares more than MaxPixels.
var ErrTooManyPixels = errors.New("image dimensions exceed pixel limit")

// CheckPixels reads only the image header and returns ErrTooManyPixels when
// decoding it would exceed MaxPixels. Data that is not a decodable image
// passes.
func CheckPixels(data []byte) error {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil
	}
	return checkPixels(cfg)
}

func checkPixels(cfg image.Config) error {
	if int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		return fmt.Errorf("%w: %dx%d", ErrTooManyPixels, cfg.Width, cfg.Height)
	}
	return nil
}

// downscale shrinks data so its longest side is at most maxDim, preserving
// the aspect ratio. ok is false when the image already fits. PNG sources stay
// PNG so rendered text remains sharp; everything else is re-encoded as JPEG.
func downscale(data []byte, mimeType string, maxDim int) (out []byte, outMIME string, ok bool, err error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", false, fmt.Errorf("decode image config: %w", err)
	}
	if cfg.Width <= maxDim && cfg.Height <= maxDim {
		return data, mimeType, false, nil
	}
	if err := checkPixels(cfg); err != nil {
		return nil, "", false, err
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", false, fmt.Errorf("decode image: %w", err)
	}

	w, h := scaledSize(cfg.Width, cfg.Height, maxDim)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)

	var buf bytes.Buffer
	if mimeType == "image/png" {
		if err := png.Encode(&buf, dst); err != nil {
			return nil, "", false, fmt.Errorf("encode png: %w", err)
		}
		return buf.Bytes(), "image/png", true, nil
	}
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, "", false, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), "image/jpeg", true, nil
}

func scaledSize(width, height, maxDim int) (int, int) {
	if width >= height {
		h := height * maxDim / width
		if h < 1 {
			h = 1
		}
		return maxDim, h
	}
	w := width * maxDim / height
	if w < 1 {
		w = 1
	}
	return w, maxDim
}

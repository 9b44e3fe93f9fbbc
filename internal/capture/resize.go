package capture

import (
	"bytes"
	"image/jpeg"

	"github.com/nfnt/resize"
)

// Downscale re-encodes a JPEG so that it is at most maxWidth pixels wide,
// keeping the aspect ratio. Frames already narrow enough are returned as is.
func Downscale(data []byte, maxWidth uint) ([]byte, error) {
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if uint(cfg.Width) <= maxWidth {
		return data, nil
	}

	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	small := resize.Resize(maxWidth, 0, img, resize.Bilinear)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, small, &jpeg.Options{Quality: 90}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

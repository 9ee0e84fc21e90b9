package raster

import (
	"bytes"
	"context"
	"image"
	_ "image/jpeg"
	"image/png"

	"github.com/rotisserie/eris"

	domain "github.com/bryanwahyu/automaton-plancheck/internal/domain/compliance"
)

// imageDoc is a single-page upload. Its page is already PNG-encoded at Open.
type imageDoc struct {
	png []byte
}

// OpenImage accepts a PNG or JPEG upload. PNG bytes pass through unchanged;
// anything else is decoded and re-encoded as PNG.
func OpenImage(data []byte) (domain.RasterDocument, error) {
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, eris.Wrap(err, "read image header")
	}
	if format == "png" {
		return &imageDoc{png: data}, nil
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, eris.Wrapf(err, "decode %s image", format)
	}
	out, err := encodePNG(img)
	if err != nil {
		return nil, err
	}
	return &imageDoc{png: out}, nil
}

func (d *imageDoc) PageCount() int { return 1 }

func (d *imageDoc) RenderPage(_ context.Context, page int) ([]byte, error) {
	if page != 1 {
		return nil, eris.Errorf("page %d out of range 1..1", page)
	}
	return d.png, nil
}

func (d *imageDoc) Close() error { return nil }

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, eris.Wrap(err, "encode png")
	}
	return buf.Bytes(), nil
}

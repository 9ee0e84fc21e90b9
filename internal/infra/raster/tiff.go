package raster

import (
	"bytes"
	"context"
	"encoding/binary"

	"github.com/rotisserie/eris"
	"golang.org/x/image/tiff"

	domain "github.com/bryanwahyu/automaton-plancheck/internal/domain/compliance"
)

// maxFrames bounds the IFD walk of a malformed file.
const maxFrames = 4096

// tiffDoc exposes each image file directory (frame) of a TIFF as a page.
type tiffDoc struct {
	data    []byte
	order   binary.ByteOrder
	offsets []uint32
}

// OpenTIFF indexes the frames of a classic (non-BigTIFF) TIFF without decoding them.
func OpenTIFF(data []byte) (domain.RasterDocument, error) {
	if len(data) < 8 {
		return nil, eris.New("tiff: file too short")
	}
	var order binary.ByteOrder
	switch string(data[:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return nil, eris.New("tiff: bad byte order marker")
	}
	if order.Uint16(data[2:4]) != 42 {
		return nil, eris.New("tiff: unsupported variant (BigTIFF or corrupt header)")
	}

	d := &tiffDoc{data: data, order: order}
	seen := make(map[uint32]bool)
	for off := order.Uint32(data[4:8]); off != 0; {
		if seen[off] {
			return nil, eris.Errorf("tiff: IFD loop at offset %d", off)
		}
		if len(d.offsets) == maxFrames {
			return nil, eris.Errorf("tiff: more than %d frames", maxFrames)
		}
		if int64(off)+2 > int64(len(data)) {
			return nil, eris.Errorf("tiff: IFD offset %d beyond end of file", off)
		}
		seen[off] = true
		d.offsets = append(d.offsets, off)

		entries := int64(order.Uint16(data[off : off+2]))
		next := int64(off) + 2 + entries*12
		if next+4 > int64(len(data)) {
			return nil, eris.Errorf("tiff: truncated IFD at offset %d", off)
		}
		off = order.Uint32(data[next : next+4])
	}
	if len(d.offsets) == 0 {
		return nil, eris.New("tiff: no frames")
	}
	return d, nil
}

func (d *tiffDoc) PageCount() int { return len(d.offsets) }

// RenderPage decodes one frame by pointing a copy of the header at its IFD.
func (d *tiffDoc) RenderPage(_ context.Context, page int) ([]byte, error) {
	if page < 1 || page > len(d.offsets) {
		return nil, eris.Errorf("frame %d out of range 1..%d", page, len(d.offsets))
	}
	buf := make([]byte, len(d.data))
	copy(buf, d.data)
	d.order.PutUint32(buf[4:8], d.offsets[page-1])

	img, err := tiff.Decode(bytes.NewReader(buf))
	if err != nil {
		return nil, eris.Wrapf(err, "decode tiff frame %d", page)
	}
	return encodePNG(img)
}

func (d *tiffDoc) Close() error { return nil }

package geopackage

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
)

// Flag bits of the GeoPackage binary header.
const (
	flagByteOrder = 0x01
	flagEnvelope  = 0x0e
	flagEmpty     = 0x10
)

var errBadHeader = errors.New("invalid GeoPackage geometry header")

// envelopeSize maps the envelope indicator to its length in bytes.
var envelopeSize = [...]int{0, 32, 48, 48, 64}

// decodeGeometry decodes a GeoPackage geometry blob: the "GP" header, an
// optional envelope and a WKB body. Empty geometries decode to nil.
func decodeGeometry(b []byte) (orb.Geometry, int32, error) {
	if len(b) == 0 {
		return nil, 0, nil
	}
	if len(b) < 8 || b[0] != 'G' || b[1] != 'P' {
		return nil, 0, errBadHeader
	}

	flags := b[3]
	var order binary.ByteOrder = binary.BigEndian
	if flags&flagByteOrder != 0 {
		order = binary.LittleEndian
	}
	srid := int32(order.Uint32(b[4:8]))

	indicator := int(flags&flagEnvelope) >> 1
	if indicator >= len(envelopeSize) {
		return nil, srid, fmt.Errorf("%w: envelope indicator %d", errBadHeader, indicator)
	}
	offset := 8 + envelopeSize[indicator]
	if len(b) < offset {
		return nil, srid, fmt.Errorf("%w: truncated envelope", errBadHeader)
	}
	if flags&flagEmpty != 0 {
		return nil, srid, nil
	}

	g, err := wkb.Unmarshal(b[offset:])
	if err != nil {
		return nil, srid, fmt.Errorf("decoding WKB: %w", err)
	}
	return g, srid, nil
}

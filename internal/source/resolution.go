package source

import (
	"encoding/binary"
	"errors"
	"io"
)

const (
	tagXResolution    = 282
	tagYResolution    = 283
	tagResolutionUnit = 296

	unitInch       = 2
	unitCentimeter = 3
)

var errNotTIFF = errors.New("not a TIFF header")

// readResolution returns the horizontal and vertical resolution in dots per
// inch from the first IFD. A missing axis takes the other axis' value; both
// are 0 when the file carries no usable resolution.
func readResolution(r io.ReadSeeker) (x, y float64, err error) {
	var header [8]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, 0, err
	}

	var order binary.ByteOrder
	switch string(header[:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return 0, 0, errNotTIFF
	}
	if order.Uint16(header[2:4]) != 42 {
		return 0, 0, errNotTIFF
	}

	if _, err := r.Seek(int64(order.Uint32(header[4:8])), io.SeekStart); err != nil {
		return 0, 0, err
	}
	var countBuf [2]byte
	if _, err := io.ReadFull(r, countBuf[:]); err != nil {
		return 0, 0, err
	}
	count := int(order.Uint16(countBuf[:]))

	entries := make([]byte, 12*count)
	if _, err := io.ReadFull(r, entries); err != nil {
		return 0, 0, err
	}

	var xOffset, yOffset uint32
	unit := uint16(unitInch)
	for i := 0; i < count; i++ {
		e := entries[i*12 : (i+1)*12]
		switch order.Uint16(e[0:2]) {
		case tagXResolution:
			xOffset = order.Uint32(e[8:12])
		case tagYResolution:
			yOffset = order.Uint32(e[8:12])
		case tagResolutionUnit:
			unit = order.Uint16(e[8:10])
		}
	}

	var scale float64
	switch unit {
	case unitInch:
		scale = 1
	case unitCentimeter:
		scale = 2.54
	default:
		return 0, 0, nil
	}

	if x, err = readRational(r, order, xOffset); err != nil {
		return 0, 0, err
	}
	if y, err = readRational(r, order, yOffset); err != nil {
		return 0, 0, err
	}
	if x <= 0 {
		x = y
	}
	if y <= 0 {
		y = x
	}
	return x * scale, y * scale, nil
}

// readRational reads the RATIONAL stored at offset. A zero offset or
// denominator yields 0.
func readRational(r io.ReadSeeker, order binary.ByteOrder, offset uint32) (float64, error) {
	if offset == 0 {
		return 0, nil
	}
	if _, err := r.Seek(int64(offset), io.SeekStart); err != nil {
		return 0, err
	}
	var rational [8]byte
	if _, err := io.ReadFull(r, rational[:]); err != nil {
		return 0, err
	}
	num := order.Uint32(rational[0:4])
	den := order.Uint32(rational[4:8])
	if den == 0 {
		return 0, nil
	}
	return float64(num) / float64(den), nil
}

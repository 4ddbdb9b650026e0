package source

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
)

type ifdEntry struct {
	tag   uint16
	typ   uint16
	value uint32
	// rational is written after the IFD and value points at it.
	rational [2]uint32
}

// buildTIFF returns a TIFF header plus one IFD holding entries.
func buildTIFF(order binary.ByteOrder, entries []ifdEntry) []byte {
	var buf bytes.Buffer
	if order == binary.LittleEndian {
		buf.WriteString("II")
	} else {
		buf.WriteString("MM")
	}
	binary.Write(&buf, order, uint16(42))
	binary.Write(&buf, order, uint32(8))

	dataOffset := uint32(8 + 2 + 12*len(entries) + 4)
	var data bytes.Buffer
	binary.Write(&buf, order, uint16(len(entries)))
	for _, e := range entries {
		binary.Write(&buf, order, e.tag)
		binary.Write(&buf, order, e.typ)
		binary.Write(&buf, order, uint32(1))
		switch e.typ {
		case 5:
			binary.Write(&buf, order, dataOffset+uint32(data.Len()))
			binary.Write(&data, order, e.rational[0])
			binary.Write(&data, order, e.rational[1])
		case 3:
			binary.Write(&buf, order, uint16(e.value))
			binary.Write(&buf, order, uint16(0))
		default:
			binary.Write(&buf, order, e.value)
		}
	}
	binary.Write(&buf, order, uint32(0))
	buf.Write(data.Bytes())
	return buf.Bytes()
}

func xres(num, den uint32) ifdEntry {
	return ifdEntry{tag: tagXResolution, typ: 5, rational: [2]uint32{num, den}}
}

func yres(num, den uint32) ifdEntry {
	return ifdEntry{tag: tagYResolution, typ: 5, rational: [2]uint32{num, den}}
}

func unit(u uint32) ifdEntry {
	return ifdEntry{tag: tagResolutionUnit, typ: 3, value: u}
}

func TestReadResolution(t *testing.T) {
	le, be := binary.LittleEndian, binary.BigEndian
	tests := []struct {
		name  string
		data  []byte
		x, y  float64
		isErr error
	}{
		{"little endian inch", buildTIFF(le, []ifdEntry{xres(300, 1), yres(300, 1), unit(unitInch)}), 300, 300, nil},
		{"big endian inch", buildTIFF(be, []ifdEntry{xres(1200, 2), yres(600, 1), unit(unitInch)}), 600, 600, nil},
		{"default unit is inch", buildTIFF(le, []ifdEntry{xres(200, 1), yres(200, 1)}), 200, 200, nil},
		{"centimeter", buildTIFF(le, []ifdEntry{xres(72, 1), yres(72, 1), unit(unitCentimeter)}), 182.88, 182.88, nil},
		{"no absolute unit", buildTIFF(le, []ifdEntry{xres(300, 1), yres(300, 1), unit(1)}), 0, 0, nil},
		{"no resolution", buildTIFF(le, []ifdEntry{unit(unitInch)}), 0, 0, nil},
		{"zero denominator", buildTIFF(le, []ifdEntry{xres(300, 0), unit(unitInch)}), 0, 0, nil},
		{"anisotropic", buildTIFF(be, []ifdEntry{xres(200, 1), yres(100, 1), unit(unitInch)}), 200, 100, nil},
		{"only vertical", buildTIFF(le, []ifdEntry{yres(150, 1)}), 150, 150, nil},
		{"only horizontal", buildTIFF(be, []ifdEntry{xres(400, 1)}), 400, 400, nil},
		{"bad magic", []byte("XX*\x00\x08\x00\x00\x00"), 0, 0, errNotTIFF},
		{"bad version", []byte("II\x2b\x00\x08\x00\x00\x00"), 0, 0, errNotTIFF},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x, y, err := readResolution(bytes.NewReader(tt.data))
			if tt.isErr != nil {
				if !errors.Is(err, tt.isErr) {
					t.Fatalf("expected %v, got %v", tt.isErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("read resolution: %v", err)
			}
			if math.Abs(x-tt.x) > 1e-9 || math.Abs(y-tt.y) > 1e-9 {
				t.Fatalf("expected %vx%v dpi, got %vx%v", tt.x, tt.y, x, y)
			}
		})
	}
}

func TestReadResolutionTruncated(t *testing.T) {
	data := buildTIFF(binary.LittleEndian, []ifdEntry{xres(300, 1), unit(unitInch)})
	if _, _, err := readResolution(bytes.NewReader(data[:12])); err == nil {
		t.Fatal("expected error for truncated IFD")
	}
}

// setResolution rewrites the resolution tags of a little endian TIFF
// written by writeTIFF.
func setResolution(t *testing.T, path string, x, y [2]uint32, u uint16) {
	t.Helper()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	order := binary.LittleEndian
	ifd := order.Uint32(data[4:8])
	count := int(order.Uint16(data[ifd:]))
	for i := 0; i < count; i++ {
		e := data[int(ifd)+2+i*12:]
		switch order.Uint16(e[0:2]) {
		case tagXResolution:
			off := order.Uint32(e[8:12])
			order.PutUint32(data[off:], x[0])
			order.PutUint32(data[off+4:], x[1])
		case tagYResolution:
			off := order.Uint32(e[8:12])
			order.PutUint32(data[off:], y[0])
			order.PutUint32(data[off+4:], y[1])
		case tagResolutionUnit:
			order.PutUint16(e[8:10], u)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestLoadAnisotropicResolution(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p.tiff")
	writeTIFF(t, path, 400, 200)
	setResolution(t, path, [2]uint32{200, 1}, [2]uint32{100, 1}, unitInch)

	page, err := NewLoader(300).Load(0, path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if page.DPI != 200 || page.VerticalDPI() != 100 {
		t.Fatalf("expected 200x100 dpi, got %vx%v", page.DPI, page.VerticalDPI())
	}
	if page.WidthPoints() != 144 || page.HeightPoints() != 144 {
		t.Fatalf("expected 144x144pt, got %vx%v", page.WidthPoints(), page.HeightPoints())
	}
}

func TestLoadFallsBackToDefaultDPI(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p.tiff")
	writeTIFF(t, path, 40, 20)
	setResolution(t, path, [2]uint32{72, 1}, [2]uint32{72, 1}, 1)

	page, err := NewLoader(300).Load(0, path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if page.DPI != 300 || page.VerticalDPI() != 300 {
		t.Fatalf("expected default 300 dpi, got %vx%v", page.DPI, page.VerticalDPI())
	}
}

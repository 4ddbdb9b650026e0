package pdf

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"image"
	"image/jpeg"
	"math"

	xdraw "golang.org/x/image/draw"
)

// imageXObject is an encoded image ready to be written as a stream.
type imageXObject struct {
	dict string
	data []byte
}

// encodeImage converts img into an image XObject with the requested
// compression. Grayscale sources stay DeviceGray; bilevel sources are
// packed to one bit per pixel when compressing losslessly.
func encodeImage(img image.Image, compression string, quality int) (*imageXObject, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	gray := toGray(img)

	switch compression {
	case CompressionJPEG:
		var buf bytes.Buffer
		var src image.Image = img
		colorSpace := "/DeviceRGB"
		if gray != nil {
			src = gray
			colorSpace = "/DeviceGray"
		}
		if err := jpeg.Encode(&buf, src, &jpeg.Options{Quality: quality}); err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
		return &imageXObject{
			dict: imageDict(w, h, colorSpace, 8, "/DCTDecode"),
			data: buf.Bytes(),
		}, nil

	case CompressionFlate:
		if gray != nil && isBilevel(gray) {
			data, err := deflate(packBits(gray))
			if err != nil {
				return nil, err
			}
			return &imageXObject{dict: imageDict(w, h, "/DeviceGray", 1, "/FlateDecode"), data: data}, nil
		}
		samples, colorSpace := rawSamples(img, gray)
		data, err := deflate(samples)
		if err != nil {
			return nil, err
		}
		return &imageXObject{dict: imageDict(w, h, colorSpace, 8, "/FlateDecode"), data: data}, nil

	case CompressionNone:
		samples, colorSpace := rawSamples(img, gray)
		return &imageXObject{dict: imageDict(w, h, colorSpace, 8, ""), data: samples}, nil
	}

	return nil, fmt.Errorf("unknown compression %q", compression)
}

func imageDict(w, h int, colorSpace string, bpc int, filter string) string {
	d := fmt.Sprintf("/Type /XObject /Subtype /Image /Width %d /Height %d /ColorSpace %s /BitsPerComponent %d",
		w, h, colorSpace, bpc)
	if filter != "" {
		d += " /Filter " + filter
	}
	return d
}

// toGray returns an 8-bit gray view of grayscale images and nil for color.
func toGray(img image.Image) *image.Gray {
	switch src := img.(type) {
	case *image.Gray:
		return src
	case *image.Gray16:
		b := src.Bounds()
		dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
		xdraw.Draw(dst, dst.Bounds(), src, b.Min, xdraw.Src)
		return dst
	}
	return nil
}

func isBilevel(img *image.Gray) bool {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.Pix[img.PixOffset(b.Min.X, y):img.PixOffset(b.Max.X, y)]
		for _, v := range row {
			if v != 0 && v != 0xff {
				return false
			}
		}
	}
	return true
}

// packBits packs a bilevel image into rows of 1-bit samples, 1 = white.
func packBits(img *image.Gray) []byte {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	stride := (w + 7) / 8
	out := make([]byte, stride*h)
	for y := 0; y < h; y++ {
		row := img.Pix[img.PixOffset(b.Min.X, b.Min.Y+y):]
		for x := 0; x < w; x++ {
			if row[x] != 0 {
				out[y*stride+x/8] |= 0x80 >> uint(x%8)
			}
		}
	}
	return out
}

// rawSamples returns 8-bit samples in DeviceGray or DeviceRGB.
func rawSamples(img image.Image, gray *image.Gray) ([]byte, string) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	if gray != nil {
		gb := gray.Bounds()
		out := make([]byte, 0, w*h)
		for y := gb.Min.Y; y < gb.Max.Y; y++ {
			out = append(out, gray.Pix[gray.PixOffset(gb.Min.X, y):gray.PixOffset(gb.Max.X, y)]...)
		}
		return out, "/DeviceGray"
	}

	rgba := image.NewNRGBA(image.Rect(0, 0, w, h))
	xdraw.Draw(rgba, rgba.Bounds(), img, b.Min, xdraw.Src)
	out := make([]byte, 0, w*h*3)
	for i := 0; i < len(rgba.Pix); i += 4 {
		out = append(out, rgba.Pix[i], rgba.Pix[i+1], rgba.Pix[i+2])
	}
	return out, "/DeviceRGB"
}

func deflate(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(data); err != nil {
		return nil, fmt.Errorf("deflate: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("deflate: %w", err)
	}
	return buf.Bytes(), nil
}

// downsample scales each axis of img so that neither exceeds maxDPI. It
// returns img unchanged when no scaling is needed.
func downsample(img image.Image, xdpi, ydpi float64, maxDPI int) image.Image {
	if maxDPI <= 0 || (xdpi <= float64(maxDPI) && ydpi <= float64(maxDPI)) {
		return img
	}
	sx := math.Min(1, float64(maxDPI)/xdpi)
	sy := math.Min(1, float64(maxDPI)/ydpi)
	b := img.Bounds()
	w := int(math.Max(1, math.Round(float64(b.Dx())*sx)))
	h := int(math.Max(1, math.Round(float64(b.Dy())*sy)))

	var dst xdraw.Image
	if toGray(img) != nil {
		dst = image.NewGray(image.Rect(0, 0, w, h))
	} else {
		dst = image.NewRGBA(image.Rect(0, 0, w, h))
	}
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, b, xdraw.Src, nil)
	return dst
}

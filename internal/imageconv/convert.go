package imageconv

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"math"
	"strings"

	"github.com/kolesa-team/go-webp/decoder"
	"github.com/kolesa-team/go-webp/encoder"
	"github.com/kolesa-team/go-webp/webp"
	"github.com/nfnt/resize"
)

const (
	DefaultMaxDim  = 1024
	DefaultQuality = 85
)

// DefaultMaxPixels caps the decoded size of an input, about 40 MP.
const DefaultMaxPixels = 40_000_000

// ErrDecode wraps every failure to turn input bytes into an image.
var ErrDecode = errors.New("imageconv: cannot decode image")

// ErrTooManyPixels is returned, wrapped with ErrDecode, when the header
// declares more pixels than allowed. Nothing is decoded in that case.
var ErrTooManyPixels = errors.New("image dimensions exceed the pixel limit")

type Format string

const (
	FormatJPEG Format = "jpeg"
	FormatWEBP Format = "webp"
	FormatPNG  Format = "png"
)

// ParseFormat maps a config value to a lossy output format. Unknown values
// fall back to JPEG.
func ParseFormat(v string) Format {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "webp":
		return FormatWEBP
	default:
		return FormatJPEG
	}
}

func (f Format) ContentType() string {
	switch f {
	case FormatWEBP:
		return "image/webp"
	case FormatPNG:
		return "image/png"
	default:
		return "image/jpeg"
	}
}

func (f Format) Ext() string {
	switch f {
	case FormatWEBP:
		return ".webp"
	case FormatPNG:
		return ".png"
	default:
		return ".jpg"
	}
}

type Options struct {
	MaxDim    int
	Quality   int
	Format    Format
	MaxPixels int
}

func (o Options) withDefaults() Options {
	if o.MaxDim <= 0 {
		o.MaxDim = DefaultMaxDim
	}
	if o.Quality <= 0 || o.Quality > 100 {
		o.Quality = DefaultQuality
	}
	if o.Format == "" {
		o.Format = FormatJPEG
	}
	if o.MaxPixels <= 0 {
		o.MaxPixels = DefaultMaxPixels
	}
	return o
}

type Result struct {
	Data        []byte
	ContentType string
	Ext         string
	Width       int
	Height      int
	// SourceFormat is the decoder name of the input, e.g. "png" or "webp".
	SourceFormat string
}

// Preprocess decodes data, bounds it to opts.MaxDim on its longer side and
// re-encodes it lossily. data is not modified.
func Preprocess(data []byte, opts Options) (Result, error) {
	opts = opts.withDefaults()
	img, srcFormat, err := Decode(data, opts.MaxPixels)
	if err != nil {
		return Result{}, err
	}
	bounded := Bound(img, opts.MaxDim)
	out, err := Encode(bounded, opts.Format, opts.Quality)
	if err != nil {
		return Result{}, err
	}
	b := bounded.Bounds()
	return Result{
		Data:         out,
		ContentType:  opts.Format.ContentType(),
		Ext:          opts.Format.Ext(),
		Width:        b.Dx(),
		Height:       b.Dy(),
		SourceFormat: srcFormat,
	}, nil
}

// BoundedSize returns the dimensions Bound would produce for a w x h image.
func BoundedSize(w, h, maxDim int) (int, int) {
	if w <= maxDim && h <= maxDim {
		return w, h
	}
	if w > h {
		return maxDim, max(1, int(math.Round(float64(h)*float64(maxDim)/float64(w))))
	}
	return max(1, int(math.Round(float64(w)*float64(maxDim)/float64(h)))), maxDim
}

// Bound scales img down so neither side exceeds maxDim, keeping the aspect
// ratio. Images already within bounds are returned as is.
func Bound(img image.Image, maxDim int) image.Image {
	b := img.Bounds()
	w, h := BoundedSize(b.Dx(), b.Dy(), maxDim)
	if w == b.Dx() && h == b.Dy() {
		return img
	}
	return resize.Resize(uint(w), uint(h), img, resize.Lanczos3)
}

func Encode(img image.Image, format Format, quality int) ([]byte, error) {
	var out bytes.Buffer
	switch format {
	case FormatWEBP:
		opts, err := encoder.NewLossyEncoderOptions(encoder.PresetDefault, float32(quality))
		if err != nil {
			return nil, err
		}
		if err := webp.Encode(&out, img, opts); err != nil {
			return nil, fmt.Errorf("encode webp: %w", err)
		}
	case FormatPNG:
		if err := png.Encode(&out, img); err != nil {
			return nil, fmt.Errorf("encode png: %w", err)
		}
	default:
		if err := jpeg.Encode(&out, flatten(img), &jpeg.Options{Quality: quality}); err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
	}
	return out.Bytes(), nil
}

// DecodeConfig reports the dimensions and format of data from its header,
// without decoding the pixels.
func DecodeConfig(data []byte) (image.Config, string, error) {
	if len(data) == 0 {
		return image.Config{}, "", fmt.Errorf("%w: empty payload", ErrDecode)
	}
	switch {
	case isWEBP(data):
		dec, err := decoder.NewDecoder(bytes.NewReader(data), &decoder.Options{})
		if err != nil {
			return image.Config{}, "", fmt.Errorf("%w: %v", ErrDecode, err)
		}
		f := dec.GetFeatures()
		return image.Config{ColorModel: color.RGBAModel, Width: f.Width, Height: f.Height}, "webp", nil
	case isICO(data):
		payload, err := largestICOEntry(data)
		if err != nil {
			return image.Config{}, "", fmt.Errorf("%w: %v", ErrDecode, err)
		}
		cfg, err := png.DecodeConfig(bytes.NewReader(payload))
		if err != nil {
			return image.Config{}, "", fmt.Errorf("%w: %v", ErrDecode, err)
		}
		return cfg, "ico", nil
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return image.Config{}, "", fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return cfg, format, nil
}

// Decode decodes data after checking from the header that it holds at most
// maxPixels pixels (DefaultMaxPixels when maxPixels <= 0).
func Decode(data []byte, maxPixels int) (image.Image, string, error) {
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%w: empty payload", ErrDecode)
	}

	if isWEBP(data) {
		dec, err := decoder.NewDecoder(bytes.NewReader(data), &decoder.Options{})
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrDecode, err)
		}
		f := dec.GetFeatures()
		if err := checkPixels(f.Width, f.Height, maxPixels); err != nil {
			return nil, "", err
		}
		img, err := dec.Decode()
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrDecode, err)
		}
		return img, "webp", nil
	}

	payload, format := data, ""
	if isICO(data) {
		entry, err := largestICOEntry(data)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrDecode, err)
		}
		payload, format = entry, "ico"
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(payload))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if err := checkPixels(cfg.Width, cfg.Height, maxPixels); err != nil {
		return nil, "", err
	}
	img, decoded, err := image.Decode(bytes.NewReader(payload))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if format == "" {
		format = decoded
	}
	return img, format, nil
}

func checkPixels(w, h, maxPixels int) error {
	if w <= 0 || h <= 0 {
		return fmt.Errorf("%w: invalid dimensions %dx%d", ErrDecode, w, h)
	}
	if int64(w)*int64(h) > int64(maxPixels) {
		return fmt.Errorf("%w: %w: %dx%d exceeds %d pixels", ErrDecode, ErrTooManyPixels, w, h, maxPixels)
	}
	return nil
}

// flatten draws img over white; JPEG has no alpha channel and transparent
// pixels would otherwise come out black.
func flatten(img image.Image) image.Image {
	if _, ok := img.(*image.YCbCr); ok {
		return img
	}
	b := img.Bounds()
	dst := image.NewRGBA(b)
	draw.Draw(dst, b, image.White, image.Point{}, draw.Src)
	draw.Draw(dst, b, img, b.Min, draw.Over)
	return dst
}

var pngSignature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

func isWEBP(data []byte) bool {
	return len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP"))
}

// isICO matches the ICONDIR header: reserved 0, type 1.
func isICO(data []byte) bool {
	return len(data) >= icoHeaderSize && binary.LittleEndian.Uint16(data[0:2]) == 0 && binary.LittleEndian.Uint16(data[2:4]) == 1
}

const (
	icoHeaderSize = 6
	icoEntrySize  = 16
)

// largestICOEntry returns the PNG payload of the icon entry with the largest
// declared area. BMP entries are skipped.
func largestICOEntry(data []byte) ([]byte, error) {
	count := int(binary.LittleEndian.Uint16(data[4:6]))
	if count < 1 {
		return nil, errors.New("ico has no entries")
	}
	if len(data) < icoHeaderSize+count*icoEntrySize {
		return nil, errors.New("ico entry table is truncated")
	}

	bestArea := -1
	var best []byte
	for i := range count {
		entry := data[icoHeaderSize+i*icoEntrySize:][:icoEntrySize]
		// a stored 0 means 256
		w, h := int(entry[0]), int(entry[1])
		if w == 0 {
			w = 256
		}
		if h == 0 {
			h = 256
		}
		size := int64(binary.LittleEndian.Uint32(entry[8:12]))
		offset := int64(binary.LittleEndian.Uint32(entry[12:16]))
		if size <= 0 || offset+size > int64(len(data)) {
			continue
		}
		payload := data[offset : offset+size]
		if !bytes.HasPrefix(payload, pngSignature) {
			continue
		}
		if w*h > bestArea {
			bestArea, best = w*h, payload
		}
	}
	if best == nil {
		return nil, errors.New("ico holds no png entry")
	}
	return best, nil
}

package pipeline

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"os"

	"github.com/nfnt/resize"

	"github.com/khaledhikmat/asd-go/model"
)

const (
	ImageSize = 224
	Channels  = 3
)

// TensorShape is the input shape every classifier expects
var TensorShape = []int64{1, ImageSize, ImageSize, Channels}

// Preprocess turns any supported image into a [1,224,224,3] tensor. Non-RGB
// images are flattened to RGB by dropping alpha, then resized bilinearly
// without cropping. Resizing runs on 16-bit channels so the [0,1] values are
// not stepped at 1/255.
func Preprocess(in Input) (Tensor, error) {
	img, err := decode(in)
	if err != nil {
		return Tensor{}, err
	}

	resized := resize.Resize(ImageSize, ImageSize, flattenRGB(img), resize.Bilinear)

	return Tensor{
		Shape: append([]int64(nil), TensorShape...),
		Data:  scale(resized),
	}, nil
}

// scale reads the RGB channels of img as floats in [0,1]
func scale(img image.Image) []float32 {
	data := make([]float32, 0, ImageSize*ImageSize*Channels)
	b := img.Bounds()

	if rgba, ok := img.(*image.RGBA64); ok {
		for y := b.Min.Y; y < b.Max.Y; y++ {
			i := rgba.PixOffset(b.Min.X, y)
			row := rgba.Pix[i : i+8*b.Dx()]
			for j := 0; j < len(row); j += 8 {
				data = append(data,
					float32(binary.BigEndian.Uint16(row[j:]))/0xffff,
					float32(binary.BigEndian.Uint16(row[j+2:]))/0xffff,
					float32(binary.BigEndian.Uint16(row[j+4:]))/0xffff,
				)
			}
		}
		return data
	}

	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			data = append(data, float32(r)/0xffff, float32(g)/0xffff, float32(bl)/0xffff)
		}
	}
	return data
}

func decode(in Input) (image.Image, error) {
	const op = "preprocess"

	switch v := in.(type) {
	case PathInput:
		data, err := os.ReadFile(v.Path)
		if err != nil {
			return nil, model.WrapError(model.ErrDecode, op, err)
		}
		return decodeBytes(data)
	case *PathInput:
		if v == nil {
			break
		}
		return decode(*v)
	case BytesInput:
		return decodeBytes(v.Data)
	case *BytesInput:
		if v == nil {
			break
		}
		return decodeBytes(v.Data)
	case DecodedInput:
		if v.Image == nil {
			return nil, model.WrapError(model.ErrUnsupportedInput, op, fmt.Errorf("decoded input has no image"))
		}
		return v.Image, nil
	case *DecodedInput:
		if v == nil {
			break
		}
		return decode(*v)
	}

	return nil, model.WrapError(model.ErrUnsupportedInput, op, fmt.Errorf("unsupported input %T", in))
}

func decodeBytes(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, model.WrapError(model.ErrDecode, "preprocess", fmt.Errorf("empty image"))
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, model.WrapError(model.ErrDecode, "preprocess", err)
	}
	return img, nil
}

// flattenRGB converts to non-premultiplied 16-bit RGBA and forces every pixel
// opaque, which keeps the color channels and discards alpha
func flattenRGB(img image.Image) *image.NRGBA64 {
	b := img.Bounds()
	out := image.NewNRGBA64(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)

	for i := 6; i < len(out.Pix); i += 8 {
		out.Pix[i] = 0xff
		out.Pix[i+1] = 0xff
	}
	return out
}

// Hash identifies the tensor content
func (t Tensor) Hash() string {
	h := sha256.New()
	buf := make([]byte, 4)
	for _, v := range t.Data {
		binary.LittleEndian.PutUint32(buf, math.Float32bits(v))
		h.Write(buf)
	}
	return hex.EncodeToString(h.Sum(nil))
}

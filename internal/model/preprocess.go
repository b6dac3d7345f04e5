package model

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/nfnt/resize"
	"github.com/rs/zerolog/log"
	"github.com/rwcarlsen/goexif/exif"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

const DefaultImageSize = 224

// DecodeImage decodes an uploaded image and rotates it upright according to
// its EXIF orientation tag, if any.
func DecodeImage(data []byte) (image.Image, string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode image: %w", err)
	}

	if orientation := imageOrientation(data); orientation != 1 {
		log.Debug().Int("orientation", orientation).Msg("applying EXIF orientation")
		img = orient(img, orientation)
	}
	return img, format, nil
}

func imageOrientation(data []byte) int {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return 1
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 1
	}
	v, err := tag.Int(0)
	if err != nil || v < 1 || v > 8 {
		return 1
	}
	return v
}

// orient maps each source pixel to its upright position for EXIF orientations 2..8.
func orient(img image.Image, orientation int) image.Image {
	if orientation < 2 || orientation > 8 {
		return img
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	var dst *image.NRGBA
	if orientation >= 5 {
		dst = image.NewNRGBA(image.Rect(0, 0, h, w))
	} else {
		dst = image.NewNRGBA(image.Rect(0, 0, w, h))
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := img.At(b.Min.X+x, b.Min.Y+y)
			switch orientation {
			case 2:
				dst.Set(w-1-x, y, c)
			case 3:
				dst.Set(w-1-x, h-1-y, c)
			case 4:
				dst.Set(x, h-1-y, c)
			case 5:
				dst.Set(y, x, c)
			case 6:
				dst.Set(h-1-y, x, c)
			case 7:
				dst.Set(h-1-y, w-1-x, c)
			case 8:
				dst.Set(y, w-1-x, c)
			}
		}
	}
	return dst
}

// Preprocess resizes img to size x size with bicubic resampling and scales
// every RGB channel to [0,1]. Alpha is discarded. The result has a batch
// dimension of one in the given layout.
func Preprocess(img image.Image, size int, layout Layout) Tensor {
	resized := resize.Resize(uint(size), uint(size), img, resize.Bicubic)

	bounds := resized.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	plane := width * height
	data := make([]float32, 3*plane)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			c := color.NRGBAModel.Convert(resized.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.NRGBA)
			r := float32(c.R) / 255.0
			g := float32(c.G) / 255.0
			bl := float32(c.B) / 255.0

			pixel := y*width + x
			if layout == LayoutNCHW {
				data[pixel] = r
				data[plane+pixel] = g
				data[2*plane+pixel] = bl
			} else {
				data[3*pixel] = r
				data[3*pixel+1] = g
				data[3*pixel+2] = bl
			}
		}
	}

	return Tensor{Shape: layout.InputShape(size), Data: data}
}

package transforms

import (
	"image"
	"image/color"
	"math"

	"github.com/YuminosukeSato/fastinference/core/tensor"
	"golang.org/x/image/draw"
)

// Padding modes for CropPad and Resize(method=pad).
const (
	PadZeros      = "zeros"
	PadBorder     = "border"
	PadReflection = "reflection"
)

func validPadMode(m string) bool {
	return m == PadZeros || m == PadBorder || m == PadReflection
}

// scaleImage resamples src to w x h with bilinear interpolation.
func scaleImage(src image.Image, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, max(w, 1), max(h, 1)))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}

// cropPad center-crops src to h x w, padding with mode where src is smaller.
func cropPad(src image.Image, h, w int, mode string) *image.RGBA {
	b := src.Bounds()
	sw, sh := b.Dx(), b.Dy()
	top, left := floorDiv(sh-h, 2), floorDiv(sw-w, 2)

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	if mode == PadZeros {
		draw.Draw(dst, dst.Bounds(), image.NewUniform(color.RGBA{A: 0xff}), image.Point{}, draw.Src)
		draw.Draw(dst, dst.Bounds(), src, image.Pt(b.Min.X+left, b.Min.Y+top), draw.Src)
		return dst
	}
	for y := 0; y < h; y++ {
		sy := padIndex(y+top, sh, mode)
		for x := 0; x < w; x++ {
			sx := padIndex(x+left, sw, mode)
			dst.Set(x, y, src.At(b.Min.X+sx, b.Min.Y+sy))
		}
	}
	return dst
}

func floorDiv(a, b int) int {
	return int(math.Floor(float64(a) / float64(b)))
}

// padIndex maps an out-of-range coordinate back into [0, n).
func padIndex(i, n int, mode string) int {
	if i >= 0 && i < n {
		return i
	}
	if mode == PadBorder || n == 1 {
		return min(max(i, 0), n-1)
	}
	period := 2 * (n - 1)
	i %= period
	if i < 0 {
		i += period
	}
	if i >= n {
		i = period - i
	}
	return i
}

// imageTensor converts img to a (C, H, W) uint8 tensor. Grayscale images
// have one channel, everything else three.
func imageTensor(img image.Image) (*tensor.Tensor, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	var channels int
	switch img.ColorModel() {
	case color.GrayModel, color.Gray16Model:
		channels = 1
	default:
		channels = 3
	}

	plane := w * h
	data := make([]float64, channels*plane)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			off := y*w + x
			c := img.At(b.Min.X+x, b.Min.Y+y)
			if channels == 1 {
				g := color.GrayModel.Convert(c).(color.Gray)
				data[off] = float64(g.Y)
				continue
			}
			r, g, bl, _ := c.RGBA()
			data[off] = float64(r >> 8)
			data[plane+off] = float64(g >> 8)
			data[2*plane+off] = float64(bl >> 8)
		}
	}
	return tensor.New(data, []int{channels, h, w}, tensor.Uint8)
}

package transforms

import (
	"image"
	"math"

	"github.com/YuminosukeSato/fastinference/core/tensor"
	"github.com/YuminosukeSato/fastinference/pkg/errors"
)

// Resize methods.
const (
	MethodCrop   = "crop"
	MethodPad    = "pad"
	MethodSquish = "squish"
)

func checkSize(op string, s Size) error {
	if s.H() <= 0 || s.W() <= 0 {
		return errors.NewValidationError("size", op+" requires a positive size", s)
	}
	return nil
}

// Resize は画像を Size にリサイズします。
//
// Method:
//   - crop: 短辺を合わせて拡大縮小し、中央を切り出す
//   - pad: 長辺を合わせて拡大縮小し、PadMode で余白を埋める
//   - squish: アスペクト比を無視して引き伸ばす
type Resize struct {
	base
	Size    Size
	Method  string
	PadMode string
}

func newResize(args Args) (Transform, error) {
	order, err := args.order(1)
	if err != nil {
		return nil, err
	}
	opts := struct {
		Size      Size   `arg:"size"`
		Method    string `arg:"method"`
		PadMode   string `arg:"pad_mode"`
		Resamples any    `arg:"resamples"`
	}{Method: MethodCrop, PadMode: PadReflection}
	if err := args.Decode(&opts); err != nil {
		return nil, err
	}
	if err := checkSize("Resize", opts.Size); err != nil {
		return nil, err
	}
	switch opts.Method {
	case MethodCrop, MethodPad, MethodSquish:
	default:
		return nil, errors.NewValidationError("method", "must be crop, pad or squish", opts.Method)
	}
	if !validPadMode(opts.PadMode) {
		return nil, errors.NewValidationError("pad_mode", "must be zeros, border or reflection", opts.PadMode)
	}
	return &Resize{base: base{order}, Size: opts.Size, Method: opts.Method, PadMode: opts.PadMode}, nil
}

func (r *Resize) Call(x any) (any, error) {
	img, ok := x.(image.Image)
	if !ok {
		return x, nil
	}
	h, w := r.Size.H(), r.Size.W()
	b := img.Bounds()
	sw, sh := float64(b.Dx()), float64(b.Dy())

	switch r.Method {
	case MethodSquish:
		return scaleImage(img, w, h), nil
	case MethodPad:
		ratio := math.Min(float64(w)/sw, float64(h)/sh)
		scaled := scaleImage(img, int(math.Round(sw*ratio)), int(math.Round(sh*ratio)))
		return cropPad(scaled, h, w, r.PadMode), nil
	default:
		ratio := math.Max(float64(w)/sw, float64(h)/sh)
		scaled := scaleImage(img, int(math.Round(sw*ratio)), int(math.Round(sh*ratio)))
		return cropPad(scaled, h, w, PadZeros), nil
	}
}

// CropPad は画像の中央を Size で切り出し、足りない部分を PadMode で埋めます。
type CropPad struct {
	base
	Size    Size
	PadMode string
}

func newCropPad(args Args) (Transform, error) {
	order, err := args.order(0)
	if err != nil {
		return nil, err
	}
	opts := struct {
		Size    Size   `arg:"size"`
		PadMode string `arg:"pad_mode"`
	}{PadMode: PadZeros}
	if err := args.Decode(&opts); err != nil {
		return nil, err
	}
	if err := checkSize("CropPad", opts.Size); err != nil {
		return nil, err
	}
	if !validPadMode(opts.PadMode) {
		return nil, errors.NewValidationError("pad_mode", "must be zeros, border or reflection", opts.PadMode)
	}
	return &CropPad{base: base{order}, Size: opts.Size, PadMode: opts.PadMode}, nil
}

func (c *CropPad) Call(x any) (any, error) {
	img, ok := x.(image.Image)
	if !ok {
		return x, nil
	}
	return cropPad(img, c.Size.H(), c.Size.W(), c.PadMode), nil
}

// RandomCrop は推論時には中央切り出しになります。
type RandomCrop struct {
	base
	Size Size
}

func newRandomCrop(args Args) (Transform, error) {
	order, err := args.order(1)
	if err != nil {
		return nil, err
	}
	var opts struct {
		Size Size `arg:"size"`
	}
	if err := args.Decode(&opts); err != nil {
		return nil, err
	}
	if err := checkSize("RandomCrop", opts.Size); err != nil {
		return nil, err
	}
	return &RandomCrop{base: base{order}, Size: opts.Size}, nil
}

func (c *RandomCrop) Call(x any) (any, error) {
	img, ok := x.(image.Image)
	if !ok {
		return x, nil
	}
	return cropPad(img, c.Size.H(), c.Size.W(), PadZeros), nil
}

// RandomResizedCrop は推論時、Size より少し大きくリサイズしてから中央を切り出します。
// 拡大幅は max(Size) * ValXtra を8の倍数に切り上げた値です。
type RandomResizedCrop struct {
	base
	Size    Size
	ValXtra float64
}

func newRandomResizedCrop(args Args) (Transform, error) {
	order, err := args.order(1)
	if err != nil {
		return nil, err
	}
	opts := struct {
		Size     Size      `arg:"size"`
		MinScale float64   `arg:"min_scale"`
		Ratio    []float64 `arg:"ratio"`
		ValXtra  float64   `arg:"val_xtra"`
	}{ValXtra: 0.14}
	if err := args.Decode(&opts); err != nil {
		return nil, err
	}
	if err := checkSize("RandomResizedCrop", opts.Size); err != nil {
		return nil, err
	}
	return &RandomResizedCrop{base: base{order}, Size: opts.Size, ValXtra: opts.ValXtra}, nil
}

func (c *RandomResizedCrop) Call(x any) (any, error) {
	img, ok := x.(image.Image)
	if !ok {
		return x, nil
	}
	h, w := c.Size.H(), c.Size.W()
	xtra := int(math.Ceil(float64(max(h, w))*c.ValXtra/8) * 8)
	scaled := scaleImage(img, w+xtra, h+xtra)
	return cropPad(scaled, h, w, PadZeros), nil
}

// RatioResize は長辺が MaxSize になるよう、アスペクト比を保ってリサイズします。
type RatioResize struct {
	base
	MaxSize int
}

func newRatioResize(args Args) (Transform, error) {
	order, err := args.order(1)
	if err != nil {
		return nil, err
	}
	var opts struct {
		MaxSize   int `arg:"max_sz"`
		Resamples any `arg:"resamples"`
	}
	if err := args.Decode(&opts); err != nil {
		return nil, err
	}
	if opts.MaxSize <= 0 {
		return nil, errors.NewValidationError("max_sz", "must be positive", opts.MaxSize)
	}
	return &RatioResize{base: base{order}, MaxSize: opts.MaxSize}, nil
}

func (r *RatioResize) Call(x any) (any, error) {
	img, ok := x.(image.Image)
	if !ok {
		return x, nil
	}
	b := img.Bounds()
	w, h := float64(b.Dx()), float64(b.Dy())
	m := float64(r.MaxSize)
	if w >= h {
		return scaleImage(img, r.MaxSize, int(h*m/w)), nil
	}
	return scaleImage(img, int(w*m/h), r.MaxSize), nil
}

// ToTensor は画像を (C, H, W) の uint8 TensorImage に、
// その他の数値データを tensor.From で Tensor に変換します。
// 変換できない値（文字列ラベルや表形式のレコードなど）はそのまま返します。
type ToTensor struct {
	base
	KeepMeta bool
}

// NewToTensor は ToTensor を既定の順序で作成します。
func NewToTensor(keepMeta bool) *ToTensor {
	return &ToTensor{base: base{5}, KeepMeta: keepMeta}
}

func newToTensor(args Args) (Transform, error) {
	order, err := args.order(5)
	if err != nil {
		return nil, err
	}
	var opts struct {
		KeepMeta bool `arg:"keep_meta"`
	}
	if err := args.Decode(&opts); err != nil {
		return nil, err
	}
	return &ToTensor{base: base{order}, KeepMeta: opts.KeepMeta}, nil
}

func (t *ToTensor) Call(x any) (any, error) {
	switch v := x.(type) {
	case image.Image:
		data, err := imageTensor(v)
		if err != nil {
			return nil, err
		}
		var meta map[string]any
		if t.KeepMeta {
			b := v.Bounds()
			meta = map[string]any{"size": []int{b.Dy(), b.Dx()}}
		}
		return tensor.NewTensorImage(data, meta), nil
	case string, Record:
		return x, nil
	}
	if _, ok := tensor.Base(x); ok {
		return x, nil
	}

	res, err := tensor.From(x)
	if err != nil {
		var unsupported *errors.UnsupportedInputError
		if errors.As(err, &unsupported) {
			return x, nil
		}
		return nil, err
	}
	return res, nil
}

// IntToFloatTensor は画像テンソルを float32 にして Div で割ります。
// マスクは DivMask で割った整数コードになります。
type IntToFloatTensor struct {
	base
	Div     float64
	DivMask float64
}

func newIntToFloatTensor(args Args) (Transform, error) {
	order, err := args.order(10)
	if err != nil {
		return nil, err
	}
	opts := struct {
		Div     float64 `arg:"div"`
		DivMask float64 `arg:"div_mask"`
	}{Div: 255, DivMask: 1}
	if err := args.Decode(&opts); err != nil {
		return nil, err
	}
	if opts.DivMask == 0 {
		return nil, errors.NewValidationError("div_mask", "must not be zero", opts.DivMask)
	}
	return &IntToFloatTensor{base: base{order}, Div: opts.Div, DivMask: opts.DivMask}, nil
}

func (f *IntToFloatTensor) Call(x any) (any, error) {
	switch v := x.(type) {
	case *tensor.TensorImage:
		t := v.Float()
		if f.Div != 0 {
			t = t.Scale(1 / f.Div)
		}
		return t, nil
	case *tensor.TensorMask:
		return v.Cast(tensor.Int64).Map(func(c float64) float64 {
			return math.Floor(c / f.DivMask)
		}), nil
	}
	return x, nil
}

// Decode は [0, 1] に切り詰めてから Div を掛け戻します。
func (f *IntToFloatTensor) Decode(x any) (any, error) {
	v, ok := x.(*tensor.TensorImage)
	if !ok || f.Div == 0 {
		return x, nil
	}
	return v.Map(func(p float64) float64 {
		return math.Min(math.Max(p, 0), 1) * f.Div
	}), nil
}

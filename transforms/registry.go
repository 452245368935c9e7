package transforms

import (
	"slices"
	"sync"

	"github.com/YuminosukeSato/fastinference/pkg/errors"
)

// Constructor は保存された引数から Transform を生成します。
type Constructor func(args Args) (Transform, error)

// Registry は変換名からコンストラクタへの明示的な対応表です。
type Registry struct {
	mu    sync.RWMutex
	ctors map[string]Constructor
}

// NewRegistry は空の Registry を作成します。
func NewRegistry() *Registry {
	return &Registry{ctors: make(map[string]Constructor)}
}

// Default は組み込みの変換が登録された Registry です。
var Default = NewRegistry()

func init() {
	registerBuiltins(Default)
}

func registerBuiltins(r *Registry) {
	r.MustRegister("Noop", newNoop)

	// vision
	r.MustRegister("Resize", newResize)
	r.MustRegister("CropPad", newCropPad)
	r.MustRegister("RandomCrop", newRandomCrop)
	r.MustRegister("RandomResizedCrop", newRandomResizedCrop)
	r.MustRegister("RatioResize", newRatioResize)
	r.MustRegister("ToTensor", newToTensor)
	r.MustRegister("IntToFloatTensor", newIntToFloatTensor)
	r.MustRegister("Normalize", newNormalize)
	r.MustRegister("Categorize", newCategorize)

	// tabular
	r.MustRegister("FillMissing", newFillMissing)
	r.MustRegister("Categorify", newCategorify)
	r.MustRegister("Tensorize", newTensorize)
}

// Register は name にコンストラクタを登録します。同じ名前の二重登録はエラーです。
func (r *Registry) Register(name string, c Constructor) error {
	if name == "" || c == nil {
		return errors.NewValueError("Registry.Register", "name and constructor are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.ctors[name]; ok {
		return errors.NewValueError("Registry.Register", "transform "+name+" is already registered")
	}
	r.ctors[name] = c
	return nil
}

// MustRegister は Register と同じですが、失敗時にパニックします。init から呼ぶ想定です。
func (r *Registry) MustRegister(name string, c Constructor) {
	if err := r.Register(name, c); err != nil {
		panic(err)
	}
}

// Lookup は name のコンストラクタを返します。未登録なら NotFoundError です。
func (r *Registry) Lookup(name string) (Constructor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.ctors[name]
	if !ok {
		return nil, errors.NewNotFoundError("transform", name, nil)
	}
	return c, nil
}

// New は name の変換を args で生成します。
// 引数が不正な場合は ValueError を返します。
func (r *Registry) New(name string, args Args) (Transform, error) {
	c, err := r.Lookup(name)
	if err != nil {
		return nil, err
	}
	if args == nil {
		args = Args{}
	}
	t, err := c(args)
	if err != nil {
		var valErr *errors.ValueError
		if errors.As(err, &valErr) {
			return nil, errors.Wrapf(err, "construct %s", name)
		}
		return nil, errors.WrapValueError(name, "cannot construct transform", err)
	}
	return t, nil
}

// Names は登録済みの名前をソートして返します。
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.ctors))
	for n := range r.ctors {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

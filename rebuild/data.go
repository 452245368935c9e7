// Package rebuild はエクスポートされた成果物から推論パイプラインとモデルを再構築します。
//
// 変換の記述（data.pkl など）は次の形のマップです:
//
//	{"after_item":  {"Resize": {"size": 224}, "ToTensor": {}},
//	 "after_batch": {"IntToFloatTensor": {}, "Normalize": {"mean": [...], "std": [...]}}}
//
// 使用例:
//
//	tfms, err := rebuild.LoadData("export", "data")
//	pipes, err := rebuild.MakePipelines(tfms)
//	model, err := rebuild.LoadModel(ctx, "export", "model", rebuild.ModelOptions{CPU: true})
package rebuild

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/YuminosukeSato/fastinference/core/nested"
	"github.com/YuminosukeSato/fastinference/pkg/errors"
	"github.com/YuminosukeSato/fastinference/pkg/log"
	"github.com/nlpodyssey/gopickle/pickle"
	"github.com/nlpodyssey/gopickle/types"
	"gopkg.in/yaml.v3"
)

// Artifact formats.
const (
	FormatPickle = "pkl"
	FormatGob    = "gob"
	FormatJSON   = "json"
	FormatYAML   = "yaml"
)

func init() {
	gob.Register(map[string]any{})
	gob.Register([]any{})
	gob.Register(nested.Tuple{})
	gob.Register(Section{})
}

// formatOf はファイル名の拡張子から形式を判定します。未知の拡張子なら空文字です。
func formatOf(fn string) string {
	switch strings.ToLower(filepath.Ext(fn)) {
	case ".pkl":
		return FormatPickle
	case ".gob":
		return FormatGob
	case ".json":
		return FormatJSON
	case ".yaml", ".yml":
		return FormatYAML
	}
	return ""
}

// resolve は fn に既知の拡張子がなければ ext を付けて path と結合します。
func resolve(path, fn, ext string) string {
	if formatOf(fn) == "" {
		fn += "." + ext
	}
	if path == "" {
		path = "."
	}
	return filepath.Join(path, fn)
}

// DataFileName は LoadData(path, fn) が実際に読むファイル名を返します。
func DataFileName(fn string) string {
	return filepath.Base(resolve("", fn, FormatPickle))
}

// LoadData は変換の記述を読み込みます。
//
// パラメータ:
//   - path: 成果物のディレクトリ
//   - fn: ファイル名。既知の拡張子（.pkl .gob .json .yaml .yml）がなければ .pkl を付けます
//
// 戻り値:
//   - map[string]any: 記述。ステージの辞書は記述順を保持した Section、それより深い辞書は
//     map[string]any、リストは []any、タプルは nested.Tuple になります
//   - error: ファイルがなければ NotFoundError
func LoadData(path, fn string) (map[string]any, error) {
	full := resolve(path, fn, FormatPickle)
	format := formatOf(full)

	raw, err := os.ReadFile(full)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, errors.NewNotFoundError("artifact", full, err)
		}
		return nil, errors.Wrapf(err, "read %s", full)
	}

	var m map[string]any
	switch format {
	case FormatPickle:
		obj, err := pickle.Loads(string(raw))
		if err != nil {
			return nil, errors.WrapValueError("LoadData", "cannot unpickle "+full, err)
		}
		d, ok := obj.(*types.Dict)
		if !ok {
			return nil, errors.NewValueError("LoadData", fmt.Sprintf("%s holds %T, want a mapping", full, obj))
		}
		if m, err = descriptionFromPickle(d); err != nil {
			return nil, err
		}
	case FormatGob:
		if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&m); err != nil {
			return nil, errors.WrapValueError("LoadData", "cannot decode "+full, err)
		}
		if m == nil {
			m = map[string]any{}
		}
	case FormatJSON:
		if m, err = descriptionFromJSON(raw); err != nil {
			return nil, errors.WrapValueError("LoadData", "cannot decode "+full, err)
		}
	case FormatYAML:
		if m, err = descriptionFromYAML(raw); err != nil {
			return nil, errors.WrapValueError("LoadData", "cannot decode "+full, err)
		}
	}
	if m == nil {
		return nil, errors.NewValueError("LoadData", full+" holds no mapping")
	}

	log.GetLogger().Debug("transform description loaded",
		log.OperationKey, log.OperationLoadData,
		log.ArtifactPathKey, full,
		log.ArtifactFormatKey, format,
	)
	return m, nil
}

// SaveData は LoadData で読み戻せる形式で記述を書き出します。
// pickle 形式への書き出しには対応していません。
func SaveData(path, fn string, tfms map[string]any) error {
	full := resolve(path, fn, FormatGob)

	var buf bytes.Buffer
	switch format := formatOf(full); format {
	case FormatGob:
		if err := gob.NewEncoder(&buf).Encode(tfms); err != nil {
			return errors.WrapValueError("SaveData", "cannot encode description", err)
		}
	case FormatJSON:
		enc := json.NewEncoder(&buf)
		enc.SetIndent("", "  ")
		if err := enc.Encode(tfms); err != nil {
			return errors.WrapValueError("SaveData", "cannot encode description", err)
		}
	case FormatYAML:
		if err := yaml.NewEncoder(&buf).Encode(tfms); err != nil {
			return errors.WrapValueError("SaveData", "cannot encode description", err)
		}
	default:
		return errors.NewValueError("SaveData", "unsupported format "+format)
	}

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(os.WriteFile(full, buf.Bytes(), 0o644))
}

// fromPickle は gopickle の値を Go の組み込み型に変換します。
func fromPickle(obj any) (any, error) {
	switch v := obj.(type) {
	case *types.Dict:
		m := make(map[string]any, len(*v))
		for _, e := range *v {
			key, err := pickleKey(e.Key)
			if err != nil {
				return nil, err
			}
			val, err := fromPickle(e.Value)
			if err != nil {
				return nil, err
			}
			m[key] = val
		}
		return m, nil
	case *types.List:
		return fromPickleSlice(*v)
	case *types.Tuple:
		out, err := fromPickleSlice(*v)
		if err != nil {
			return nil, err
		}
		return nested.Tuple(out), nil
	}
	return obj, nil
}

func fromPickleSlice(items []any) ([]any, error) {
	out := make([]any, len(items))
	for i, item := range items {
		v, err := fromPickle(item)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func pickleKey(k any) (string, error) {
	key, ok := k.(string)
	if !ok {
		return "", errors.NewValueError("LoadData", fmt.Sprintf("dict key %v is %T, want string", k, k))
	}
	return key, nil
}

// descriptionFromPickle は最上位の辞書を変換し、値が辞書のものは
// エントリの並び順どおりの Section にします。
func descriptionFromPickle(d *types.Dict) (map[string]any, error) {
	m := make(map[string]any, len(*d))
	for _, e := range *d {
		key, err := pickleKey(e.Key)
		if err != nil {
			return nil, err
		}
		sd, ok := e.Value.(*types.Dict)
		if !ok {
			if m[key], err = fromPickle(e.Value); err != nil {
				return nil, err
			}
			continue
		}
		var sec Section
		for _, se := range *sd {
			name, err := pickleKey(se.Key)
			if err != nil {
				return nil, err
			}
			v, err := fromPickle(se.Value)
			if err != nil {
				return nil, err
			}
			sec.Set(name, v)
		}
		if sec.Args == nil {
			sec = Section{Names: []string{}, Args: map[string]any{}}
		}
		m[key] = sec
	}
	return m, nil
}

func descriptionFromJSON(raw []byte) (map[string]any, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return nil, err
	}
	if top == nil {
		return nil, nil
	}
	m := make(map[string]any, len(top))
	for k, r := range top {
		if b := bytes.TrimSpace(r); len(b) > 0 && b[0] == '{' {
			var sec Section
			if err := json.Unmarshal(b, &sec); err != nil {
				return nil, err
			}
			m[k] = sec
			continue
		}
		var v any
		if err := json.Unmarshal(r, &v); err != nil {
			return nil, err
		}
		m[k] = v
	}
	return m, nil
}

func descriptionFromYAML(raw []byte) (map[string]any, error) {
	var top map[string]yaml.Node
	if err := yaml.Unmarshal(raw, &top); err != nil {
		return nil, err
	}
	if top == nil {
		return nil, nil
	}
	m := make(map[string]any, len(top))
	for k, n := range top {
		if n.Kind == yaml.MappingNode {
			var sec Section
			if err := n.Decode(&sec); err != nil {
				return nil, err
			}
			m[k] = sec
			continue
		}
		var v any
		if err := n.Decode(&v); err != nil {
			return nil, err
		}
		m[k] = v
	}
	return m, nil
}

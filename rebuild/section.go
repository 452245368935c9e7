package rebuild

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/YuminosukeSato/fastinference/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Section は1つのステージ（after_item / after_batch）の記述です。
// 変換名から引数への対応に加えて、記述に現れた順序を保持します。
// Order が等しい変換はこの順序で実行されます。
//
// LoadData はファイル上の順序で Section を作ります。Go のマップから作る場合は
// 順序の情報がないため NewSection が名前順に並べます。
type Section struct {
	Names []string
	Args  map[string]any
}

// NewSection はマップから名前順の Section を作ります。
func NewSection(m map[string]any) Section {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)

	args := make(map[string]any, len(m))
	for k, v := range m {
		args[k] = v
	}
	return Section{Names: names, Args: args}
}

// Set は name の引数を設定します。既存の名前は位置を変えずに値だけ置き換えます。
func (s *Section) Set(name string, args any) {
	if s.Args == nil {
		s.Args = map[string]any{}
	}
	if _, ok := s.Args[name]; !ok {
		s.Names = append(s.Names, name)
	}
	s.Args[name] = args
}

// Len returns the number of transforms in the section.
func (s Section) Len() int { return len(s.Names) }

// MarshalJSON writes the section as an object in section order.
func (s Section) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range s.Names {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(s.Args[name])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads an object, keeping its key order.
func (s *Section) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return errors.NewValueError("Section", fmt.Sprintf("got %v, want an object", tok))
	}

	*s = Section{Names: []string{}, Args: map[string]any{}}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := tok.(string)
		if !ok {
			return errors.NewValueError("Section", fmt.Sprintf("key %v is %T, want string", tok, tok))
		}
		var v any
		if err := dec.Decode(&v); err != nil {
			return err
		}
		s.Set(name, v)
	}
	_, err = dec.Token()
	return err
}

// MarshalYAML writes the section as a mapping in section order.
func (s Section) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, name := range s.Names {
		var val yaml.Node
		if err := val.Encode(s.Args[name]); err != nil {
			return nil, err
		}
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: name},
			&val,
		)
	}
	return node, nil
}

// UnmarshalYAML reads a mapping node, keeping its key order.
func (s *Section) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return errors.NewValueError("Section", fmt.Sprintf("yaml node at line %d is not a mapping", value.Line))
	}

	*s = Section{Names: []string{}, Args: map[string]any{}}
	for i := 0; i+1 < len(value.Content); i += 2 {
		var name string
		if err := value.Content[i].Decode(&name); err != nil {
			return err
		}
		var v any
		if err := value.Content[i+1].Decode(&v); err != nil {
			return err
		}
		s.Set(name, v)
	}
	return nil
}

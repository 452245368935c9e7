// Package errors はプロジェクト全体のエラーハンドリングと警告システムを提供します。
// パイプライン再構築・テンソル変換・モデル読み込みの各段階で発生する失敗を
// 構造化されたエラー型として表現します。
package errors

import (
	"fmt"
	"log"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
)

// ===========================================================================
//
//	グローバル警告ハンドリング
//
// ===========================================================================
var (
	warningMutex   sync.Mutex
	warningHandler = func(w error) {
		// デフォルトのハンドラは標準エラー出力にログを出す
		log.Printf("fastinfer-warning: %v\n", w)
	}
	// zerologロガー（循環importを避けるため遅延初期化）
	zerologWarnFunc func(warning error)
)

// SetWarningHandler はライブラリ全体の警告ハンドラを設定します。
// DataConversionWarningなどのカスタム警告の処理方法を制御できます。
//
// 例:
//
//	errors.SetWarningHandler(func(w error) {
//	    // 警告を無視する
//	})
func SetWarningHandler(handler func(w error)) {
	warningMutex.Lock()
	defer warningMutex.Unlock()
	warningHandler = handler
}

// SetZerologWarnFunc はzerolog警告関数を設定します（循環importを避けるため）。
func SetZerologWarnFunc(warnFunc func(warning error)) {
	warningMutex.Lock()
	defer warningMutex.Unlock()
	zerologWarnFunc = warnFunc
}

// Warn は警告を発生させます。
// zerologが設定されている場合は構造化ログとして出力し、そうでなければ従来のハンドラを使用します。
func Warn(w error) {
	warningMutex.Lock()
	defer warningMutex.Unlock()

	if zerologWarnFunc != nil {
		zerologWarnFunc(w)
		return
	}

	if warningHandler != nil {
		warningHandler(w)
	}
}

// ===========================================================================
//
//	警告型
//
// ===========================================================================

// DataConversionWarning はテンソル変換でデータの型が暗黙的に変換された場合の警告です。
type DataConversionWarning struct {
	FromType string
	ToType   string
	Reason   string
}

func (w *DataConversionWarning) Error() string {
	return fmt.Sprintf("data converted from %s to %s. Reason: %s", w.FromType, w.ToType, w.Reason)
}

// MarshalZerologObject はzerologのイベントに構造化された警告情報を追加します。
func (w *DataConversionWarning) MarshalZerologObject(e *zerolog.Event) {
	e.Str("from_type", w.FromType).
		Str("to_type", w.ToType).
		Str("reason", w.Reason).
		Str("type", "DataConversionWarning")
}

// NewDataConversionWarning は新しいDataConversionWarningを作成します。
func NewDataConversionWarning(from, to, reason string) *DataConversionWarning {
	return &DataConversionWarning{FromType: from, ToType: to, Reason: reason}
}

// ===========================================================================
//
//	構造化されたエラー型
//
// ===========================================================================

// ErrNotFound は NotFoundError 全般に一致するセンチネルです。
//
//	if errors.Is(err, errors.ErrNotFound) { ... }
var ErrNotFound = errors.New("not found")

// NotFoundError は成果物ファイルや変換名が存在しない場合のエラーです。
type NotFoundError struct {
	Kind string // "artifact", "transform", "object"
	Name string
	Err  error
}

func (e *NotFoundError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fastinfer: %s %q not found: %v", e.Kind, e.Name, e.Err)
	}
	return fmt.Sprintf("fastinfer: %s %q not found", e.Kind, e.Name)
}

func (e *NotFoundError) Unwrap() error {
	return e.Err
}

// Is は ErrNotFound との比較を可能にします。
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *NotFoundError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("kind", e.Kind).
		Str("name", e.Name).
		Str("type", "NotFoundError")
}

// NewNotFoundError は新しいNotFoundErrorを作成し、スタックトレースを付与します。
func NewNotFoundError(kind, name string, cause error) error {
	return errors.WithStack(&NotFoundError{Kind: kind, Name: name, Err: cause})
}

// DimensionError は入力データの次元が期待値と異なる場合のエラーです。
type DimensionError struct {
	Op       string
	Expected int
	Got      int
	Axis     int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("fastinfer: %s: dimension mismatch on axis %d. Expected %d, got %d", e.Op, e.Axis, e.Expected, e.Got)
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *DimensionError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("operation", e.Op).
		Int("expected", e.Expected).
		Int("got", e.Got).
		Int("axis", e.Axis).
		Str("type", "DimensionError")
}

// NewDimensionError は新しいDimensionErrorを作成し、スタックトレースを付与します。
func NewDimensionError(op string, expected, got, axis int) error {
	return errors.WithStack(&DimensionError{Op: op, Expected: expected, Got: got, Axis: axis})
}

// ValidationError は変換のコンストラクタ引数の検証に失敗した場合のエラーです。
type ValidationError struct {
	ParamName string
	Reason    string
	Value     interface{}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("fastinfer: validation failed for parameter '%s': %s (got: %v)", e.ParamName, e.Reason, e.Value)
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *ValidationError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("param_name", e.ParamName).
		Str("reason", e.Reason).
		Interface("value", e.Value).
		Str("type", "ValidationError")
}

// NewValidationError は新しいValidationErrorを作成し、スタックトレースを付与します。
func NewValidationError(param, reason string, value interface{}) error {
	return errors.WithStack(&ValidationError{ParamName: param, Reason: reason, Value: value})
}

// ValueError は引数が不適切な場合、あるいは呼び出し側が契約に違反した場合のエラーです。
// 例えば、RetainTypeに参照値も型も渡さなかった場合など。
type ValueError struct {
	Op      string
	Message string
	Err     error
}

func (e *ValueError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fastinfer: %s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("fastinfer: %s: %s", e.Op, e.Message)
}

func (e *ValueError) Unwrap() error {
	return e.Err
}

// NewValueError は新しいValueErrorを作成し、スタックトレースを付与します。
func NewValueError(op, message string) error {
	return errors.WithStack(&ValueError{Op: op, Message: message})
}

// WrapValueError は原因となるエラーを保持したValueErrorを作成します。
func WrapValueError(op, message string, cause error) error {
	return errors.WithStack(&ValueError{Op: op, Message: message, Err: cause})
}

// UnsupportedInputError はテンソル変換がどの規則にも当てはまらない入力を受け取った場合のエラーです。
type UnsupportedInputError struct {
	Op   string
	Type string
}

func (e *UnsupportedInputError) Error() string {
	return fmt.Sprintf("fastinfer: %s: cannot convert value of type %s", e.Op, e.Type)
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *UnsupportedInputError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("operation", e.Op).
		Str("input_type", e.Type).
		Str("type", "UnsupportedInputError")
}

// NewUnsupportedInputError は入力値の型名を記録したUnsupportedInputErrorを作成します。
func NewUnsupportedInputError(op string, value interface{}) error {
	return errors.WithStack(&UnsupportedInputError{Op: op, Type: fmt.Sprintf("%T", value)})
}

// MissingDependencyError は任意依存のランタイム（ONNX Runtimeなど）が利用できない場合のエラーです。
type MissingDependencyError struct {
	Dependency string
	Hint       string
	Err        error
}

func (e *MissingDependencyError) Error() string {
	msg := fmt.Sprintf("fastinfer: to use %s it must be installed", e.Dependency)
	if e.Hint != "" {
		msg += " (" + e.Hint + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *MissingDependencyError) Unwrap() error {
	return e.Err
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *MissingDependencyError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("dependency", e.Dependency).
		Str("hint", e.Hint).
		Str("type", "MissingDependencyError")
}

// NewMissingDependencyError は新しいMissingDependencyErrorを作成します。
func NewMissingDependencyError(dependency, hint string, cause error) error {
	return errors.WithStack(&MissingDependencyError{Dependency: dependency, Hint: hint, Err: cause})
}

// ModelError はモデルの読み込みや推論に関する一般的なエラーです。
type ModelError struct {
	Op   string
	Kind string
	Err  error
}

func (e *ModelError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fastinfer: %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("fastinfer: %s: %s", e.Op, e.Kind)
}

func (e *ModelError) Unwrap() error {
	return e.Err
}

// NewModelError は新しいModelErrorを作成し、スタックトレースを付与します。
func NewModelError(op, kind string, err error) error {
	return errors.WithStack(&ModelError{Op: op, Kind: kind, Err: err})
}

// InputShapeError は入力データの形状が期待と異なる場合のエラーです。
// 不揃いなネストしたリストや、バッチ化できないテンソルを検出します。
type InputShapeError struct {
	Phase    string // "coerce", "collate", "forward"
	Expected []int
	Got      []int
}

func (e *InputShapeError) Error() string {
	return fmt.Sprintf("fastinfer: input shape mismatch in %s phase. Expected shape %v, got %v",
		e.Phase, e.Expected, e.Got)
}

// NewInputShapeError は新しいInputShapeErrorを作成します。
func NewInputShapeError(phase string, expected, got []int) error {
	return errors.WithStack(&InputShapeError{Phase: phase, Expected: expected, Got: got})
}

// ===========================================================================
//
//	cockroachdb/errors ラッパー関数
//
// ===========================================================================

// Is はエラーが特定のターゲットエラーかどうかを判定します。
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As はエラーが特定の型にキャスト可能かどうかを判定します。
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Wrap は既存のエラーをメッセージ付きでラップします。
func Wrap(err error, message string) error {
	return errors.Wrap(err, message)
}

// Wrapf は既存のエラーをフォーマット文字列でラップします。
func Wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}

// New は新しいエラーを作成します。
func New(message string) error {
	return errors.New(message)
}

// Newf は新しいフォーマット済みエラーを作成します。
func Newf(format string, args ...interface{}) error {
	return errors.Newf(format, args...)
}

// WithStack はエラーにスタックトレースを付与します。
func WithStack(err error) error {
	return errors.WithStack(err)
}

// SafeDetails はエラーに記録されたスタックトレースなどの安全な詳細情報を返します。
func SafeDetails(err error) []string {
	return errors.GetSafeDetails(err).SafeDetails
}

// ===========================================================================
//
//	共通エラー変数
//
// ===========================================================================

var (
	// ErrEmptyData は空のデータが渡された場合のエラーです。
	ErrEmptyData = New("empty data")
)

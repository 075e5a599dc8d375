// Package errors はscigbm全体のエラーハンドリングと警告システムを提供します。
//
// エラーは3つの種類に分類されます。
//   - PreconditionError: 呼び出し側の使い方の誤り（未構築のDatasetへのアクセスなど）
//   - EngineError: エンジン内部で検出されたドメインエラー（行数の不一致、壊れたモデルテキストなど）
//   - ConfigError: 設定値の検証失敗（カテゴリ数がmax_binを超えるなど）
//
// すべてのコンストラクタはcockroachdb/errorsでスタックトレースを付与します。
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
		log.Printf("scigbm-Warning: %v\n", w)
	}
	// zerologロガー（循環importを避けるため遅延初期化）
	zerologWarnFunc func(warning error)
)

// SetWarningHandler はライブラリ全体の警告ハンドラを設定します。
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

// UndefinedMetricWarning は評価指標が計算できない場合に発生する警告です。
// 例えば、AUCを計算する際にラベルが単一クラスしか含まない場合など。
type UndefinedMetricWarning struct {
	Metric    string
	Condition string
	Result    float64 // この条件で返される値
}

func (w *UndefinedMetricWarning) Error() string {
	return fmt.Sprintf("'%s' is ill-defined and being set to %g due to %s.", w.Metric, w.Result, w.Condition)
}

// MarshalZerologObject はzerologのイベントに構造化された警告情報を追加します。
func (w *UndefinedMetricWarning) MarshalZerologObject(e *zerolog.Event) {
	e.Str("metric", w.Metric).
		Str("condition", w.Condition).
		Float64("result", w.Result).
		Str("type", "UndefinedMetricWarning")
}

// NewUndefinedMetricWarning は新しいUndefinedMetricWarningを作成します。
func NewUndefinedMetricWarning(metric, condition string, result float64) *UndefinedMetricWarning {
	return &UndefinedMetricWarning{Metric: metric, Condition: condition, Result: result}
}

// DataConversionWarning は入力値が暗黙的に変換された場合に発生する警告です。
// 負のカテゴリ値を"other"ビンへ落とす場合などに使われます。
type DataConversionWarning struct {
	Feature string
	From    string
	To      string
}

func (w *DataConversionWarning) Error() string {
	return fmt.Sprintf("feature %s: value converted from %s to %s", w.Feature, w.From, w.To)
}

// NewDataConversionWarning は新しいDataConversionWarningを作成します。
func NewDataConversionWarning(feature, from, to string) *DataConversionWarning {
	return &DataConversionWarning{Feature: feature, From: from, To: to}
}

// ===========================================================================
//
//	構造化されたエラー型
//
// ===========================================================================

// PreconditionError は呼び出し側がAPIの前提条件を満たしていない場合のエラーです。
// 例: 未構築のDatasetに対する行依存のアクセサ呼び出し、範囲外のサブセットインデックス。
type PreconditionError struct {
	Op     string
	Reason string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("scigbm: %s: %s", e.Op, e.Reason)
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *PreconditionError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("operation", e.Op).
		Str("reason", e.Reason).
		Str("type", "PreconditionError")
}

// NewPreconditionError は新しいPreconditionErrorを作成し、スタックトレースを付与します。
func NewPreconditionError(op, reason string) error {
	return errors.WithStack(&PreconditionError{Op: op, Reason: reason})
}

// NewPreconditionErrorf はフォーマット済みの理由でPreconditionErrorを作成します。
func NewPreconditionErrorf(op, format string, args ...any) error {
	return errors.WithStack(&PreconditionError{Op: op, Reason: fmt.Sprintf(format, args...)})
}

// EngineError はエンジン内部で検出されたドメインエラーです。
type EngineError struct {
	Op   string
	Kind string
	Err  error
}

func (e *EngineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("scigbm: %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("scigbm: %s: %s", e.Op, e.Kind)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *EngineError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("operation", e.Op).
		Str("kind", e.Kind).
		Str("type", "EngineError")
	if e.Err != nil {
		event.Str("cause", e.Err.Error())
	}
}

// NewEngineError は新しいEngineErrorを作成し、スタックトレースを付与します。
func NewEngineError(op, kind string, err error) error {
	return errors.WithStack(&EngineError{Op: op, Kind: kind, Err: err})
}

// NewEngineErrorf は原因をフォーマット文字列で指定してEngineErrorを作成します。
func NewEngineErrorf(op, kind, format string, args ...any) error {
	return errors.WithStack(&EngineError{Op: op, Kind: kind, Err: errors.Newf(format, args...)})
}

// ConfigError は設定パラメータの検証に失敗した場合のエラーです。
type ConfigError struct {
	ParamName string
	Reason    string
	Value     interface{}
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("scigbm: invalid parameter '%s': %s (got: %v)", e.ParamName, e.Reason, e.Value)
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *ConfigError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("param_name", e.ParamName).
		Str("reason", e.Reason).
		Interface("value", e.Value).
		Str("type", "ConfigError")
}

// NewConfigError は新しいConfigErrorを作成し、スタックトレースを付与します。
func NewConfigError(param, reason string, value interface{}) error {
	return errors.WithStack(&ConfigError{ParamName: param, Reason: reason, Value: value})
}

// DimensionError は入力データの次元が期待値と異なる場合のエラーです。
// 呼び出し側の誤りなので前提条件エラーとして扱われます。
type DimensionError struct {
	Op       string
	Expected int
	Got      int
	Axis     int // 0 for rows, 1 for columns/features
}

func (e *DimensionError) Error() string {
	axisName := "features"
	if e.Axis == 0 {
		axisName = "rows"
	}
	return fmt.Sprintf("scigbm: %s: dimension mismatch on axis %d (%s). Expected %d, got %d", e.Op, e.Axis, axisName, e.Expected, e.Got)
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

// NumericalInstabilityError は勾配やスコアにNaN/Infが現れた場合のエラーです。
type NumericalInstabilityError struct {
	Operation string    // 発生した操作（例: "gradients", "init_score"）
	Values    []float64 // 問題のある値
	Iteration int       // 発生したイテレーション番号
}

func (e *NumericalInstabilityError) Error() string {
	valStr := ""
	for i, v := range e.Values {
		if i > 0 {
			valStr += ", "
		}
		if i >= 5 {
			valStr += "..."
			break
		}
		valStr += fmt.Sprintf("%.6g", v)
	}
	return fmt.Sprintf("scigbm: numerical instability detected in %s at iteration %d. Values: [%s]",
		e.Operation, e.Iteration, valStr)
}

// NewNumericalInstabilityError は新しいNumericalInstabilityErrorを作成します。
func NewNumericalInstabilityError(operation string, values []float64, iteration int) error {
	return errors.WithStack(&NumericalInstabilityError{
		Operation: operation,
		Values:    values,
		Iteration: iteration,
	})
}

// ===========================================================================
//
//	エラー種別の判定
//
// ===========================================================================

// IsPrecondition はerrが呼び出し側の前提条件違反かどうかを判定します。
func IsPrecondition(err error) bool {
	var pe *PreconditionError
	if errors.As(err, &pe) {
		return true
	}
	var de *DimensionError
	return errors.As(err, &de)
}

// IsEngine はerrがエンジンのドメインエラーかどうかを判定します。
// 回復したパニックと数値不安定性もこの種別に含まれます。
func IsEngine(err error) bool {
	var ee *EngineError
	if errors.As(err, &ee) {
		return true
	}
	var pe *PanicError
	if errors.As(err, &pe) {
		return true
	}
	var ne *NumericalInstabilityError
	return errors.As(err, &ne)
}

// IsConfig はerrが設定エラーかどうかを判定します。
func IsConfig(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
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

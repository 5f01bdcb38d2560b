package extlang

import (
	"fmt"
	"strconv"
)

// Kind 是宿主宏语言值的类别标签。
type Kind uint8

const (
	KindVoid Kind = iota
	KindInt
	KindFloat
	KindString
	// KindHandle 表示宏语言无法解释的不透明句柄，
	// 仅作为桥接产物在宿主与嵌入式运行时之间原样传递。
	KindHandle
)

func (k Kind) String() string {
	switch k {
	case KindVoid:
		return "void"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindHandle:
		return "handle"
	default:
		return "unknown"
	}
}

// Handle 标识对象表中的一个嵌入式对象。
type Handle int64

// Value 是宿主宏语言的运行时值。
// 生命周期归宏语言解释器所有；句柄背后的嵌入式对象引用由值桥负责维护。
type Value struct {
	kind Kind
	i    int64
	f    float64
	s    string
	h    Handle
}

func Void() Value              { return Value{kind: KindVoid} }
func Int(i int64) Value        { return Value{kind: KindInt, i: i} }
func Float(f float64) Value    { return Value{kind: KindFloat, f: f} }
func Str(s string) Value       { return Value{kind: KindString, s: s} }
func Opaque(h Handle) Value    { return Value{kind: KindHandle, h: h} }

func (v Value) Kind() Kind     { return v.kind }
func (v Value) IsVoid() bool   { return v.kind == KindVoid }
func (v Value) Int() int64     { return v.i }
func (v Value) Float() float64 { return v.f }
func (v Value) Str() string    { return v.s }
func (v Value) Handle() Handle { return v.h }

// String 仅用于日志与错误消息。
func (v Value) String() string {
	switch v.kind {
	case KindVoid:
		return "<void>"
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindString:
		return strconv.Quote(v.s)
	case KindHandle:
		return fmt.Sprintf("<handle %d>", v.h)
	default:
		return "<invalid>"
	}
}

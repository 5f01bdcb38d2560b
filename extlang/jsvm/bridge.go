package jsvm

import (
	"github.com/dop251/goja"

	"github.com/zackorndorff/idapython/extlang"
)

// Outcome 是一次桥接转换的三态所有权结论。
// 它是整个桥的承重不变量：标错一次不是泄漏就是双重释放。
type Outcome int

const (
	// OutcomeFailed 转换失败，没有产生任何部分结果。
	OutcomeFailed Outcome = -1
	// OutcomeNewRef 转换成功，结果携带一份新所有权，调用方负责释放。
	OutcomeNewRef Outcome = 0
	// OutcomeNoRelease 转换成功，所有权已随结果转移，调用方不得再释放。
	OutcomeNoRelease Outcome = 1
)

// Obj 是嵌入式运行时对象在桥内的包装。
// h 非零表示该对象已登记进对象表、背后有一份可观测的所有权计数。
type Obj struct {
	v goja.Value
	h extlang.Handle
}

// Value 返回被包装的 JS 值。
func (o *Obj) Value() goja.Value { return o.v }

// Handle 返回对象表句柄，未登记时为 0。
func (o *Obj) Handle() extlang.Handle { return o.h }

// Bridge 在宿主值与 goja 值之间双向搬运，并维护所有权契约。
type Bridge struct {
	vm  *goja.Runtime
	tab *ObjTab
}

func NewBridge(vm *goja.Runtime) *Bridge {
	return &Bridge{vm: vm, tab: NewObjTab()}
}

// Tab 返回桥持有的对象表。
func (b *Bridge) Tab() *ObjTab { return b.tab }

// Wrap 包装一个新产生的 JS 值（尚未登记进对象表）。
func (b *Bridge) Wrap(v goja.Value) *Obj { return &Obj{v: v} }

// ToEmbedded 把宿主值转换为嵌入式对象。
// 标量与字符串按值拷贝（OutcomeNewRef）；不透明句柄解析为对象表里
// 已有的登记项，不产生第二份所有权（OutcomeNoRelease）——
// 两侧只能有一侧持有真正的引用。
func (b *Bridge) ToEmbedded(hv extlang.Value) (*Obj, Outcome) {
	switch hv.Kind() {
	case extlang.KindVoid:
		return &Obj{v: goja.Undefined()}, OutcomeNewRef
	case extlang.KindInt:
		return &Obj{v: b.vm.ToValue(hv.Int())}, OutcomeNewRef
	case extlang.KindFloat:
		return &Obj{v: b.vm.ToValue(hv.Float())}, OutcomeNewRef
	case extlang.KindString:
		return &Obj{v: b.vm.ToValue(hv.Str())}, OutcomeNewRef
	case extlang.KindHandle:
		v, ok := b.tab.Lookup(hv.Handle())
		if !ok {
			return nil, OutcomeFailed
		}
		return &Obj{v: v, h: hv.Handle()}, OutcomeNoRelease
	default:
		return nil, OutcomeFailed
	}
}

// ToHost 把嵌入式对象转换为宿主值。
// 标量/字符串拷出内容，consume=true 时顺带释放来源；对象类结果
// 以不透明句柄返回，此时来源的所有权转移进句柄而不是被释放。
func (b *Bridge) ToHost(o *Obj, consume bool) (extlang.Value, Outcome) {
	if o == nil || o.v == nil {
		return extlang.Void(), OutcomeFailed
	}
	if _, isSym := o.v.(*goja.Symbol); isSym {
		// Symbol 没有宿主侧对应类别
		return extlang.Void(), OutcomeFailed
	}
	if _, isObj := o.v.(*goja.Object); isObj {
		switch {
		case o.h == 0:
			return extlang.Opaque(b.tab.Register(o.v)), OutcomeNewRef
		case consume:
			// 已有的所有权原样转移进句柄，既不释放也不增持
			return extlang.Opaque(o.h), OutcomeNoRelease
		default:
			b.tab.Retain(o.h)
			return extlang.Opaque(o.h), OutcomeNewRef
		}
	}

	var hv extlang.Value
	if goja.IsUndefined(o.v) || goja.IsNull(o.v) {
		hv = extlang.Void()
	} else {
		switch e := o.v.Export().(type) {
		case int64:
			hv = extlang.Int(e)
		case float64:
			hv = extlang.Float(e)
		case string:
			hv = extlang.Str(e)
		case bool:
			if e {
				hv = extlang.Int(1)
			} else {
				hv = extlang.Int(0)
			}
		default:
			return extlang.Void(), OutcomeFailed
		}
	}
	if consume && o.h != 0 {
		b.tab.Release(o.h)
	}
	return hv, OutcomeNewRef
}

// Release 归还 obj 携带的所有权；对未登记对象是无害的空操作。
func (b *Bridge) Release(o *Obj) {
	if o != nil && o.h != 0 {
		b.tab.Release(o.h)
	}
}

// ConvertArgs 批量转换参数表，返回对象与并行的 must-release 位向量。
// 句柄参数会被增持一份，使其在调用期间独立存活。整批要么全部成功，
// 要么在第一个失败元素处回退所有已完成的转换后报错。
func (b *Bridge) ConvertArgs(args []extlang.Value) ([]*Obj, []bool, error) {
	objs := make([]*Obj, 0, len(args))
	rel := make([]bool, 0, len(args))
	for i, a := range args {
		o, out := b.ToEmbedded(a)
		if out == OutcomeFailed {
			b.FreeArgs(objs, rel)
			return nil, nil, extlang.NewError(extlang.ErrConversion,
				"参数 %d 转换失败: 无效的对象句柄", i)
		}
		if out == OutcomeNoRelease {
			// 借入的句柄在参数表存续期内增持为己有
			b.tab.Retain(o.h)
		}
		objs = append(objs, o)
		rel = append(rel, true)
	}
	return objs, rel, nil
}

// FreeArgs 释放 ConvertArgs 产出的参数表。
func (b *Bridge) FreeArgs(objs []*Obj, rel []bool) {
	for i, o := range objs {
		if i < len(rel) && rel[i] {
			b.Release(o)
		}
	}
}

// GojaArgs 展开参数表为 goja 调用参数。
func GojaArgs(objs []*Obj) []goja.Value {
	vals := make([]goja.Value, len(objs))
	for i, o := range objs {
		vals[i] = o.v
	}
	return vals
}

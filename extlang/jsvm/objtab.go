package jsvm

import (
	"sync"

	"github.com/dop251/goja"

	"github.com/zackorndorff/idapython/extlang"
)

type objEntry struct {
	val  goja.Value
	refs int
}

// ObjTab 是嵌入式对象表：宿主侧不透明句柄到 JS 对象的引用计数登记处。
// Goja 对象本身由 GC 管理，这里的计数表达的是"宿主还握着几份所有权"，
// 归零即从表中摘除，句柄随之失效。
type ObjTab struct {
	mu   sync.Mutex
	seq  int64
	objs map[extlang.Handle]*objEntry
}

func NewObjTab() *ObjTab {
	return &ObjTab{objs: map[extlang.Handle]*objEntry{}}
}

// Register 登记一个对象并返回新句柄，初始计数为 1。
func (t *ObjTab) Register(v goja.Value) extlang.Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seq++
	h := extlang.Handle(t.seq)
	t.objs[h] = &objEntry{val: v, refs: 1}
	return h
}

// Lookup 取出句柄对应的对象，不改变计数。
func (t *ObjTab) Lookup(h extlang.Handle) (goja.Value, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.objs[h]
	if !ok {
		return nil, false
	}
	return e.val, true
}

// Retain 为句柄增加一份所有权；句柄失效时返回 false。
func (t *ObjTab) Retain(h extlang.Handle) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.objs[h]
	if !ok {
		return false
	}
	e.refs++
	return true
}

// Release 归还一份所有权，计数归零时摘除登记项。
func (t *ObjTab) Release(h extlang.Handle) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.objs[h]
	if !ok {
		return false
	}
	e.refs--
	if e.refs <= 0 {
		delete(t.objs, h)
	}
	return true
}

// Refs 返回句柄当前的所有权计数，失效句柄为 0。
func (t *ObjTab) Refs(h extlang.Handle) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.objs[h]
	if !ok {
		return 0
	}
	return e.refs
}

// Len 返回存活登记项数量。
func (t *ObjTab) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.objs)
}

// Clear 清空对象表，所有句柄随之失效。
func (t *ObjTab) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.objs = map[extlang.Handle]*objEntry{}
}

//go:build quickjs

package quickjs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"

	bq "github.com/buke/quickjs-go"

	"github.com/zackorndorff/idapython/extlang"
)

var qjsIdentRe = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

// 引擎侧对象登记表的前奏脚本。对象值留在 JS 堆里，
// 宿主只持有句柄；__xl_pack 把任意求值结果打包成带类别标签的 JSON。
const bridgePrelude = `(function(){
if (globalThis.__xl_objs) return;
globalThis.__xl_objs = {};
globalThis.__xl_next = 1;
globalThis.__xl_pack = function(r) {
  if (r === undefined || r === null) return JSON.stringify({t:"void"});
  var ty = typeof r;
  if (ty === "number") {
    if (Number.isInteger(r)) return JSON.stringify({t:"int", v:String(r)});
    return JSON.stringify({t:"float", v:r});
  }
  if (ty === "boolean") return JSON.stringify({t:"int", v:r ? "1" : "0"});
  if (ty === "string") return JSON.stringify({t:"str", v:r});
  var h = globalThis.__xl_next++;
  globalThis.__xl_objs[h] = r;
  return JSON.stringify({t:"obj", h:h});
};
})();`

type nativeBackend struct {
	runtime *bq.Runtime
	ctx     *bq.Context
	win     *extlang.Window
	// QuickJS Context 非线程安全，所有 Eval 必须串行。
	vmMu sync.Mutex

	// 句柄的引用计数在宿主侧维护，对象本体留在 JS 登记表里；
	// 计数归零时从登记表删除条目，交还给引擎 GC。
	tabMu sync.Mutex
	refs  map[extlang.Handle]int
}

func newNativeBackend(cfg extlang.Config, opt Options, win *extlang.Window) (*nativeBackend, error) {
	rt := bq.NewRuntime()
	if rt == nil {
		return nil, fmt.Errorf("创建 QuickJS Runtime 失败")
	}
	if opt.MemoryLimitBytes > 0 {
		rt.SetMemoryLimit(uint64(opt.MemoryLimitBytes))
	}
	// 取消轮询挂在引擎原生中断回调上：返回 1 即在当前安全点抛出中断。
	rt.SetInterruptHandler(func() int {
		if win.Pulse() == extlang.ActionInterrupt {
			return 1
		}
		return 0
	})
	ctx := rt.NewContext()
	if ctx == nil {
		rt.Close()
		return nil, fmt.Errorf("创建 QuickJS Context 失败")
	}

	n := &nativeBackend{
		runtime: rt,
		ctx:     ctx,
		win:     win,
		refs:    map[extlang.Handle]int{},
	}
	if err := n.evalVoid(bridgePrelude); err != nil {
		ctx.Close()
		rt.Close()
		return nil, err
	}
	argv, _ := json.Marshal(cfg.Argv)
	if err := n.evalVoid("globalThis.ARGV = " + string(argv) + ";"); err != nil {
		ctx.Close()
		rt.Close()
		return nil, err
	}
	return n, nil
}

func (n *nativeBackend) Dispose() error {
	n.vmMu.Lock()
	defer n.vmMu.Unlock()
	n.tabMu.Lock()
	n.refs = map[extlang.Handle]int{}
	n.tabMu.Unlock()
	if n.ctx != nil {
		n.ctx.Close()
		n.ctx = nil
	}
	if n.runtime != nil {
		n.runtime.Close()
		n.runtime = nil
	}
	return nil
}

// evalLocked 在全局作用域求值并返回结果值，调用方负责 Free。
func (n *nativeBackend) evalLocked(code string) (*bq.Value, error) {
	if n.ctx == nil {
		return nil, fmt.Errorf("QuickJS VM 未初始化")
	}
	v := n.ctx.Eval(code, bq.EvalFlagGlobal(true))
	if v.IsException() {
		v.Free()
		if err := n.ctx.Exception(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("quickjs eval exception")
	}
	if v.IsPromise() {
		ret := n.ctx.Await(v)
		v.Free()
		if ret.IsException() {
			ret.Free()
			if err := n.ctx.Exception(); err != nil {
				return nil, err
			}
			return nil, fmt.Errorf("quickjs await exception")
		}
		v = ret
	}
	return v, nil
}

func (n *nativeBackend) evalVoid(code string) error {
	n.vmMu.Lock()
	defer n.vmMu.Unlock()
	v, err := n.evalLocked(code)
	if err != nil {
		return err
	}
	v.Free()
	return nil
}

type packedResult struct {
	T string          `json:"t"`
	V json.RawMessage `json:"v"`
	H int64           `json:"h"`
}

// evalPacked 求值表达式并经 __xl_pack 解包为宿主值。
// 对象结果在 JS 登记表里落户，这里同步登记引用计数。
func (n *nativeBackend) evalPacked(expr string) (extlang.Value, error) {
	n.vmMu.Lock()
	defer n.vmMu.Unlock()
	v, err := n.evalLocked("globalThis.__xl_pack((" + expr + "\n));")
	if err != nil {
		return extlang.Void(), err
	}
	raw := v.ToString()
	v.Free()

	var p packedResult
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return extlang.Void(), fmt.Errorf("解析求值结果失败: %w", err)
	}
	switch p.T {
	case "void":
		return extlang.Void(), nil
	case "int":
		var s string
		if err := json.Unmarshal(p.V, &s); err != nil {
			return extlang.Void(), fmt.Errorf("解析整数结果失败: %w", err)
		}
		i, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			// 超出 int64 的整数按浮点返回
			f, ferr := strconv.ParseFloat(s, 64)
			if ferr != nil {
				return extlang.Void(), fmt.Errorf("解析整数结果失败: %w", err)
			}
			return extlang.Float(f), nil
		}
		return extlang.Int(i), nil
	case "float":
		var f float64
		if err := json.Unmarshal(p.V, &f); err != nil {
			return extlang.Void(), fmt.Errorf("解析浮点结果失败: %w", err)
		}
		return extlang.Float(f), nil
	case "str":
		var s string
		if err := json.Unmarshal(p.V, &s); err != nil {
			return extlang.Void(), fmt.Errorf("解析字符串结果失败: %w", err)
		}
		return extlang.Str(s), nil
	case "obj":
		h := extlang.Handle(p.H)
		n.tabMu.Lock()
		n.refs[h]++
		n.tabMu.Unlock()
		return extlang.Opaque(h), nil
	default:
		return extlang.Void(), fmt.Errorf("未知的求值结果类别: %s", p.T)
	}
}

func (n *nativeBackend) liveHandle(h extlang.Handle) bool {
	n.tabMu.Lock()
	defer n.tabMu.Unlock()
	return n.refs[h] > 0
}

// exprOf 把宿主值翻译成 JS 表达式文本。
func (n *nativeBackend) exprOf(v extlang.Value) (string, error) {
	switch v.Kind() {
	case extlang.KindVoid:
		return "undefined", nil
	case extlang.KindInt:
		return strconv.FormatInt(v.Int(), 10), nil
	case extlang.KindFloat:
		return strconv.FormatFloat(v.Float(), 'g', -1, 64), nil
	case extlang.KindString:
		b, err := json.Marshal(v.Str())
		if err != nil {
			return "", err
		}
		return string(b), nil
	case extlang.KindHandle:
		if !n.liveHandle(v.Handle()) {
			return "", extlang.NewError(extlang.ErrConversion, "无效的对象句柄: %d", v.Handle())
		}
		return "globalThis.__xl_objs[" + strconv.FormatInt(int64(v.Handle()), 10) + "]", nil
	default:
		return "", extlang.NewError(extlang.ErrConversion, "无法转换的值类别: %s", v.Kind())
	}
}

// argList 逐个翻译参数，任一失败整批放弃。
func (n *nativeBackend) argList(args []extlang.Value) (string, error) {
	parts := make([]string, 0, len(args))
	for i, a := range args {
		e, err := n.exprOf(a)
		if err != nil {
			return "", extlang.WrapError(extlang.ErrConversion, err, "参数 %d 转换失败", i)
		}
		parts = append(parts, e)
	}
	return strings.Join(parts, ", "), nil
}

// throwResolution 生成一段名字解析失败的抛错语句。
// 错误名固定为 ResolutionError，异常文本会带上它，适配层据此归类。
func throwResolution(msgExpr string) string {
	return `{ var e = new Error(` + msgExpr + `); e.name = "ResolutionError"; throw e; }`
}

// pathExpr 把点号限定名翻译成全局属性链访问表达式。
// QuickJS 后端不带模块加载器，限定名视为全局对象的属性路径。
func pathExpr(qualified string) (string, error) {
	if strings.TrimSpace(qualified) == "" {
		return "", extlang.NewError(extlang.ErrResolution, "限定名为空")
	}
	expr := "globalThis"
	for _, seg := range strings.Split(qualified, ".") {
		b, err := json.Marshal(seg)
		if err != nil {
			return "", err
		}
		expr += "[" + string(b) + "]"
	}
	return expr, nil
}

func (n *nativeBackend) Compile(name string, expr string) error {
	if !qjsIdentRe.MatchString(name) {
		return extlang.NewError(extlang.ErrUsage, "绑定名不合法: %s", name)
	}
	nameJSON, _ := json.Marshal(name)
	// 表达式内联在赋值右侧，语法错误在解析期抛出，全局不被触碰
	script := "globalThis[" + string(nameJSON) + "] = (" + expr + "\n);"
	return n.evalVoid(script)
}

func (n *nativeBackend) Run(qualified string, args []extlang.Value) (extlang.Value, error) {
	target, err := pathExpr(qualified)
	if err != nil {
		return extlang.Void(), err
	}
	argExpr, err := n.argList(args)
	if err != nil {
		return extlang.Void(), err
	}
	nameJSON, _ := json.Marshal(qualified)
	script := `(function(){
var f = ` + target + `;
if (f === undefined) ` + throwResolution(`"未定义的函数: " + `+string(nameJSON)) + `
if (typeof f !== "function") ` + throwResolution(`"目标不可调用: " + `+string(nameJSON)) + `
return f(` + argExpr + `);
})()`
	return n.evalPacked(script)
}

func (n *nativeBackend) CalcExpr(expr string) (extlang.Value, error) {
	return n.evalPacked("(" + expr + "\n)")
}

func (n *nativeBackend) CompileFile(path string) error {
	code, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("读取脚本失败: %w", err)
	}
	if err := n.evalVoid(string(code)); err != nil {
		return fmt.Errorf("执行脚本失败(%s): %w", filepath.ToSlash(path), err)
	}
	return nil
}

func (n *nativeBackend) RunStatements(block string) error {
	return n.evalVoid(block)
}

func (n *nativeBackend) CreateObject(qualified string, args []extlang.Value) (extlang.Value, error) {
	target, err := pathExpr(qualified)
	if err != nil {
		return extlang.Void(), err
	}
	argExpr, err := n.argList(args)
	if err != nil {
		return extlang.Void(), err
	}
	nameJSON, _ := json.Marshal(qualified)
	script := `(function(){
var c = ` + target + `;
if (c === undefined) ` + throwResolution(`"找不到类型: " + `+string(nameJSON)) + `
if (typeof c !== "function") ` + throwResolution(`"目标不是可构造类型: " + `+string(nameJSON)) + `
return new c(` + argExpr + `);
})()`
	return n.evalPacked(script)
}

// targetExpr 解析属性操作的目标：nil 是全局命名空间，
// 字符串按全局名查找，句柄直接取登记表。
func (n *nativeBackend) targetExpr(obj *extlang.Value) (string, error) {
	if obj == nil || obj.IsVoid() {
		return "globalThis", nil
	}
	switch obj.Kind() {
	case extlang.KindString:
		b, err := json.Marshal(obj.Str())
		if err != nil {
			return "", err
		}
		return `(function(){
var o = globalThis[` + string(b) + `];
if (o === undefined) ` + throwResolution(`"未定义的全局对象: " + `+string(b)) + `
return o;
})()`, nil
	case extlang.KindHandle:
		return n.exprOf(*obj)
	default:
		return "", extlang.NewError(extlang.ErrConversion, "不支持的属性目标类别: %s", obj.Kind())
	}
}

func (n *nativeBackend) GetAttr(obj *extlang.Value, attr string) (extlang.Value, error) {
	if attr == "" {
		if obj == nil {
			return extlang.Str("Object"), nil
		}
		name, err := n.TypeNameOf(*obj)
		if err != nil {
			return extlang.Void(), err
		}
		return extlang.Str(name), nil
	}
	target, err := n.targetExpr(obj)
	if err != nil {
		return extlang.Void(), err
	}
	attrJSON, _ := json.Marshal(attr)
	script := `(function(){
var o = ` + target + `;
if (o === undefined || o === null) ` + throwResolution(`"属性不存在: " + `+string(attrJSON)) + `
if (!(` + string(attrJSON) + ` in Object(o))) ` + throwResolution(`"属性不存在: " + `+string(attrJSON)) + `
return o[` + string(attrJSON) + `];
})()`
	return n.evalPacked(script)
}

func (n *nativeBackend) SetAttr(obj *extlang.Value, attr string, val extlang.Value) error {
	target, err := n.targetExpr(obj)
	if err != nil {
		return err
	}
	valExpr, err := n.exprOf(val)
	if err != nil {
		return err
	}
	attrJSON, _ := json.Marshal(attr)
	script := `(function(){
var o = ` + target + `;
o[` + string(attrJSON) + `] = (` + valExpr + `);
})();`
	return n.evalVoid(script)
}

func (n *nativeBackend) CallMethod(obj *extlang.Value, method string, args []extlang.Value) (extlang.Value, error) {
	if obj == nil || obj.IsVoid() {
		return n.Run(method, args)
	}
	// 接收者走值翻译，字符串等标量也能调用原型方法
	recv, err := n.exprOf(*obj)
	if err != nil {
		return extlang.Void(), err
	}
	argExpr, err := n.argList(args)
	if err != nil {
		return extlang.Void(), err
	}
	methodJSON, _ := json.Marshal(method)
	script := `(function(){
var o = (` + recv + `);
var m = o[` + string(methodJSON) + `];
if (typeof m !== "function") ` + throwResolution(`"目标不可调用: " + `+string(methodJSON)) + `
return m.apply(o, [` + argExpr + `]);
})()`
	return n.evalPacked(script)
}

func (n *nativeBackend) TypeNameOf(obj extlang.Value) (string, error) {
	expr, err := n.exprOf(obj)
	if err != nil {
		return "", err
	}
	script := `(function(){
var v = (` + expr + `);
if (v === undefined) return "undefined";
if (v === null) return "null";
if (typeof v === "number") return "Number";
if (typeof v === "string") return "String";
if (typeof v === "boolean") return "Boolean";
var c = v.constructor;
if (c && typeof c.name === "string" && c.name !== "") return c.name;
return Object.prototype.toString.call(v).slice(8, -1);
})()`
	n.vmMu.Lock()
	defer n.vmMu.Unlock()
	v, err := n.evalLocked(script)
	if err != nil {
		return "", err
	}
	name := v.ToString()
	v.Free()
	return name, nil
}

// ReleaseObject 递减句柄的引用计数，归零时删除 JS 登记表条目，
// 对象随引擎 GC 回收。非句柄值与已失效句柄是无害的空操作。
func (n *nativeBackend) ReleaseObject(obj extlang.Value) error {
	if obj.Kind() != extlang.KindHandle {
		return nil
	}
	h := obj.Handle()
	n.tabMu.Lock()
	if n.refs[h] == 0 {
		n.tabMu.Unlock()
		return nil
	}
	n.refs[h]--
	gone := n.refs[h] == 0
	if gone {
		delete(n.refs, h)
	}
	n.tabMu.Unlock()
	if !gone {
		return nil
	}
	return n.evalVoid("delete globalThis.__xl_objs[" + strconv.FormatInt(int64(h), 10) + "];")
}

func init() {
	newRuntimeBackend = func(cfg extlang.Config, opt Options, win *extlang.Window) (runtimeBackend, error) {
		return newNativeBackend(cfg, opt, win)
	}
}

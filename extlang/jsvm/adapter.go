package jsvm

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/require"
	"go.uber.org/zap"

	"github.com/zackorndorff/idapython/extlang"
)

// 未限定名落到的默认模块，对应全局命名空间。
const mainModule = "main"

var identRe = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

// Adapter 是 goja 上的外部语言实现。
// 整个适配器按单线程约定工作：所有入口串行持有 mu，
// 执行窗口与看门狗只在持锁区间内活动。
type Adapter struct {
	mu  sync.Mutex
	cfg extlang.Config
	lc  *extlang.Lifecycle
	log *zap.SugaredLogger

	vm     *goja.Runtime
	req    *require.RequireModule
	bridge *Bridge
	window *extlang.Window
	dog    *watchdog
	loader *loader

	// 交互控制台累积的未完成输入
	pending string
}

func init() {
	extlang.Register(extlang.EngineGoja, func() extlang.ExtLang {
		return NewAdapter()
	})
}

// NewAdapter 创建 goja 适配器实例。
func NewAdapter() *Adapter {
	return &Adapter{lc: extlang.NewLifecycle()}
}

func (a *Adapter) Name() extlang.EngineName {
	return extlang.EngineGoja
}

func (a *Adapter) FileExt() string { return "js" }

func (a *Adapter) Init(_ context.Context, cfg extlang.Config) error {
	if !a.lc.CompareAndSwap(extlang.StateNew, extlang.StateIniting) {
		return &extlang.LangError{
			Kind:    extlang.ErrInit,
			Message: "引擎初始化状态非法",
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.cfg = cfg
	a.log = cfg.Logger
	if a.log == nil {
		a.log = zap.NewNop().Sugar()
	}

	a.vm, a.req = a.setupRuntime(cfg)
	a.bridge = NewBridge(a.vm)
	a.window = extlang.NewWindow(cfg.Timeout, cfg.WaitBox, cfg.Cancel)
	a.dog = newWatchdog(a.vm, a.window)
	a.loader = newLoader(cfg.SanitizePaths)

	if cfg.AlertAutoScripts {
		alertAutoScripts(a.log)
	}
	a.banner()

	a.lc.Store(extlang.StateReady)
	return nil
}

func (a *Adapter) Dispose() error {
	st := a.lc.State()
	if st == extlang.StateClosed {
		return nil
	}
	if st != extlang.StateReady && st != extlang.StateIniting {
		return &extlang.LangError{
			Kind:    extlang.ErrRuntime,
			Message: "引擎未处于可释放状态",
		}
	}
	if !a.lc.CompareAndSwap(st, extlang.StateDisposing) {
		return &extlang.LangError{
			Kind:    extlang.ErrRuntime,
			Message: "引擎释放状态切换失败",
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.bridge != nil {
		a.bridge.Tab().Clear()
	}
	a.vm = nil
	a.req = nil
	a.pending = ""

	a.lc.Store(extlang.StateClosed)
	extlang.Deselect(a)
	return nil
}

// enter 建立一次进入运行时的执行窗口，返回成对的退出函数。
func (a *Adapter) enter() (func(), error) {
	if !a.lc.Ready() {
		return nil, extlang.NewError(extlang.ErrRuntime, "引擎未初始化完成")
	}
	a.mu.Lock()
	started := false
	if a.window.Enter() {
		a.dog.Start()
		started = true
	}
	return func() {
		if started {
			a.dog.Stop()
		}
		a.window.Exit()
		a.mu.Unlock()
	}, nil
}

// scriptError 把运行时错误收敛成适配层错误：
// 异步中断归为取消，JS 异常带完整栈文本，其余原样包装。
func (a *Adapter) scriptError(kind extlang.ErrorKind, what string, err error) error {
	var intr *goja.InterruptedError
	if errors.As(err, &intr) {
		return extlang.WrapError(extlang.ErrCancelled, err, "interrupted")
	}
	var exc *goja.Exception
	if errors.As(err, &exc) {
		return extlang.WrapError(kind, err, "%s: %s", what, exc.String())
	}
	return extlang.WrapError(kind, err, "%s: %v", what, err)
}

func (a *Adapter) Compile(name string, expr string) error {
	if !identRe.MatchString(name) {
		return extlang.NewError(extlang.ErrUsage, "绑定名不合法: %q", name)
	}
	// 先整体编译再执行，语法错误不会触碰全局作用域
	src := "var " + name + " = (" + expr + "\n);"
	prg, err := goja.Compile(name, src, false)
	if err != nil {
		return extlang.WrapError(extlang.ErrRuntime, err, "表达式编译失败: %v", err)
	}

	exit, err := a.enter()
	if err != nil {
		return err
	}
	defer exit()
	if _, err := a.vm.RunProgram(prg); err != nil {
		return a.scriptError(extlang.ErrRuntime, "表达式求值失败", err)
	}
	return nil
}

// resolveTarget 按点号限定名取出目标值：限定名先导入（或复用）模块
// 再查其导出，未限定名直接查全局命名空间。
func (a *Adapter) resolveTarget(qualified string) (goja.Value, error) {
	module, leaf, isQual := extlang.Resolve(qualified, mainModule)
	if !isQual || module == mainModule {
		return a.vm.GlobalObject().Get(leaf), nil
	}
	exports, err := a.req.Require(module)
	if err != nil {
		return nil, extlang.WrapError(extlang.ErrResolution, err, "无法导入模块 %s", module)
	}
	obj, ok := exports.(*goja.Object)
	if !ok {
		return nil, extlang.NewError(extlang.ErrResolution, "模块 %s 没有导出对象", module)
	}
	return obj.Get(leaf), nil
}

func (a *Adapter) Run(qualified string, args []extlang.Value) (extlang.Value, error) {
	exit, err := a.enter()
	if err != nil {
		return extlang.Void(), err
	}
	defer exit()
	return a.runLocked(qualified, args)
}

func (a *Adapter) runLocked(qualified string, args []extlang.Value) (extlang.Value, error) {
	target, err := a.resolveTarget(qualified)
	if err != nil {
		return extlang.Void(), err
	}
	if target == nil || goja.IsUndefined(target) || goja.IsNull(target) {
		return extlang.Void(), extlang.NewError(extlang.ErrResolution, "未定义的函数: %s", qualified)
	}
	fn, ok := goja.AssertFunction(target)
	if !ok {
		return extlang.Void(), extlang.NewError(extlang.ErrResolution, "目标不可调用: %s", qualified)
	}

	objs, rel, err := a.bridge.ConvertArgs(args)
	if err != nil {
		return extlang.Void(), err
	}
	defer a.bridge.FreeArgs(objs, rel)

	res, err := fn(goja.Undefined(), GojaArgs(objs)...)
	if err != nil {
		return extlang.Void(), a.scriptError(extlang.ErrRuntime, "调用 "+qualified+" 失败", err)
	}
	return a.hostResult(res)
}

// hostResult 把调用结果搬回宿主值，对象类结果以句柄形式移交所有权。
func (a *Adapter) hostResult(v goja.Value) (extlang.Value, error) {
	hv, out := a.bridge.ToHost(a.bridge.Wrap(v), true)
	if out == OutcomeFailed {
		return extlang.Void(), extlang.NewError(extlang.ErrConversion, "返回值无法转换为宿主值")
	}
	return hv, nil
}

func (a *Adapter) CalcExpr(expr string) (extlang.Value, error) {
	exit, err := a.enter()
	if err != nil {
		return extlang.Void(), err
	}
	defer exit()
	res, err := a.vm.RunString("(" + expr + "\n)")
	if err != nil {
		return extlang.Void(), a.scriptError(extlang.ErrRuntime, "表达式求值失败", err)
	}
	return a.hostResult(res)
}

func (a *Adapter) CompileFile(path string) error {
	if !a.lc.Ready() {
		return extlang.NewError(extlang.ErrRuntime, "引擎未初始化完成")
	}
	name, code, reloaded, err := a.loader.Load(path)
	if err != nil {
		return err
	}
	prg, err := goja.Compile(name, code, false)
	if err != nil {
		return extlang.WrapError(extlang.ErrRuntime, err, "脚本编译失败(%s): %v", name, err)
	}

	exit, err := a.enter()
	if err != nil {
		return err
	}
	defer exit()
	if reloaded {
		a.log.Infof("重新加载脚本: %s", name)
	}
	if _, err := a.vm.RunProgram(prg); err != nil {
		return a.scriptError(extlang.ErrRuntime, "脚本执行失败("+name+")", err)
	}
	return nil
}

func (a *Adapter) RunStatements(block string) error {
	exit, err := a.enter()
	if err != nil {
		return err
	}
	defer exit()
	if _, err := a.vm.RunScript("<stdin>", block); err != nil {
		return a.scriptError(extlang.ErrRuntime, "语句执行失败", err)
	}
	return nil
}

func (a *Adapter) CreateObject(qualified string, args []extlang.Value) (extlang.Value, error) {
	exit, err := a.enter()
	if err != nil {
		return extlang.Void(), err
	}
	defer exit()

	target, err := a.resolveTarget(qualified)
	if err != nil {
		return extlang.Void(), err
	}
	if target == nil || goja.IsUndefined(target) || goja.IsNull(target) {
		return extlang.Void(), extlang.NewError(extlang.ErrResolution, "找不到类型: %s", qualified)
	}
	ctor, ok := goja.AssertConstructor(target)
	if !ok {
		return extlang.Void(), extlang.NewError(extlang.ErrResolution, "目标不是可构造类型: %s", qualified)
	}

	objs, rel, err := a.bridge.ConvertArgs(args)
	if err != nil {
		return extlang.Void(), err
	}
	defer a.bridge.FreeArgs(objs, rel)

	inst, err := ctor(nil, GojaArgs(objs)...)
	if err != nil {
		return extlang.Void(), a.scriptError(extlang.ErrRuntime, "构造 "+qualified+" 失败", err)
	}
	return a.hostResult(inst)
}

// attrTarget 解析属性操作的宿主对象参数：
// nil 落到全局命名空间，字符串先按全局名查找，句柄直接使用。
func (a *Adapter) attrTarget(obj *extlang.Value) (goja.Value, error) {
	if obj == nil || obj.IsVoid() {
		return a.vm.GlobalObject(), nil
	}
	switch obj.Kind() {
	case extlang.KindString:
		v := a.vm.GlobalObject().Get(obj.Str())
		if v == nil || goja.IsUndefined(v) {
			return nil, extlang.NewError(extlang.ErrResolution, "未定义的全局对象: %s", obj.Str())
		}
		return v, nil
	case extlang.KindHandle:
		v, ok := a.bridge.Tab().Lookup(obj.Handle())
		if !ok {
			return nil, extlang.NewError(extlang.ErrConversion, "无效的对象句柄: %d", obj.Handle())
		}
		return v, nil
	default:
		return nil, extlang.NewError(extlang.ErrConversion, "对象参数类别不受支持")
	}
}

// boxObject 把目标值收敛为可做属性访问的对象，标量走原型包装。
func (a *Adapter) boxObject(v goja.Value) (*goja.Object, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, extlang.NewError(extlang.ErrConversion, "目标不是对象")
	}
	if o, ok := v.(*goja.Object); ok {
		return o, nil
	}
	return v.ToObject(a.vm), nil
}

func (a *Adapter) GetAttr(obj *extlang.Value, attr string) (extlang.Value, error) {
	exit, err := a.enter()
	if err != nil {
		return extlang.Void(), err
	}
	defer exit()

	target, err := a.attrTarget(obj)
	if err != nil {
		return extlang.Void(), err
	}
	// 历史行为：空属性名意为"返回对象的运行时类型名"
	if attr == "" {
		return extlang.Str(typeNameOfValue(target)), nil
	}
	o, err := a.boxObject(target)
	if err != nil {
		return extlang.Void(), err
	}
	v := o.Get(attr)
	if v == nil || goja.IsUndefined(v) {
		return extlang.Void(), extlang.NewError(extlang.ErrResolution, "属性不存在: %s", attr)
	}
	return a.hostResult(v)
}

func (a *Adapter) SetAttr(obj *extlang.Value, attr string, val extlang.Value) error {
	if attr == "" {
		return extlang.NewError(extlang.ErrUsage, "属性名不能为空")
	}
	exit, err := a.enter()
	if err != nil {
		return err
	}
	defer exit()

	target, err := a.attrTarget(obj)
	if err != nil {
		return err
	}
	o, err := a.boxObject(target)
	if err != nil {
		return err
	}
	emb, out := a.bridge.ToEmbedded(val)
	if out == OutcomeFailed {
		return extlang.NewError(extlang.ErrConversion, "属性值转换失败: %s", attr)
	}
	if err := o.Set(attr, emb.Value()); err != nil {
		if out == OutcomeNewRef {
			a.bridge.Release(emb)
		}
		return a.scriptError(extlang.ErrRuntime, "设置属性 "+attr+" 失败", err)
	}
	// 对象自身持有了存入的值，新引用随之归还
	if out == OutcomeNewRef {
		a.bridge.Release(emb)
	}
	return nil
}

func (a *Adapter) CallMethod(obj *extlang.Value, method string, args []extlang.Value) (extlang.Value, error) {
	if obj == nil || obj.IsVoid() {
		if method == "" {
			return extlang.Void(), extlang.NewError(extlang.ErrUsage, "既无对象也无方法名的调用不受支持")
		}
		// 无目标对象时退化为普通函数调用
		return a.Run(method, args)
	}
	if method == "" {
		return extlang.Void(), extlang.NewError(extlang.ErrUsage, "方法名不能为空")
	}

	exit, err := a.enter()
	if err != nil {
		return extlang.Void(), err
	}
	defer exit()

	// 方法调用的接收者走值桥转换，字符串等标量也能调用原型方法
	emb, out := a.bridge.ToEmbedded(*obj)
	if out == OutcomeFailed {
		return extlang.Void(), extlang.NewError(extlang.ErrConversion, "无效的对象句柄: %d", obj.Handle())
	}
	target := emb.Value()
	o, err := a.boxObject(target)
	if err != nil {
		return extlang.Void(), err
	}
	mv := o.Get(method)
	if mv == nil || goja.IsUndefined(mv) {
		return extlang.Void(), extlang.NewError(extlang.ErrResolution, "方法不存在: %s", method)
	}
	fn, ok := goja.AssertFunction(mv)
	if !ok {
		return extlang.Void(), extlang.NewError(extlang.ErrResolution, "目标不可调用: %s", method)
	}

	objs, rel, err := a.bridge.ConvertArgs(args)
	if err != nil {
		return extlang.Void(), err
	}
	defer a.bridge.FreeArgs(objs, rel)

	res, err := fn(target, GojaArgs(objs)...)
	if err != nil {
		return extlang.Void(), a.scriptError(extlang.ErrRuntime, "调用方法 "+method+" 失败", err)
	}
	return a.hostResult(res)
}

func (a *Adapter) TypeNameOf(obj extlang.Value) (string, error) {
	if !a.lc.Ready() {
		return "", extlang.NewError(extlang.ErrRuntime, "引擎未初始化完成")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	emb, out := a.bridge.ToEmbedded(obj)
	if out == OutcomeFailed {
		return "", extlang.NewError(extlang.ErrConversion, "无效的对象句柄: %d", obj.Handle())
	}
	return typeNameOfValue(emb.Value()), nil
}

// ReleaseObject 归还宿主侧销毁的句柄，递减登记表引用计数。
// 非句柄值与已失效句柄直接忽略。
func (a *Adapter) ReleaseObject(obj extlang.Value) error {
	if !a.lc.Ready() {
		return extlang.NewError(extlang.ErrRuntime, "引擎未初始化完成")
	}
	if obj.Kind() != extlang.KindHandle {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.bridge.Tab().Release(obj.Handle())
	return nil
}

func (a *Adapter) SetTimeout(d time.Duration) time.Duration {
	if a.window == nil {
		return 0
	}
	return a.window.SetTimeout(d)
}

func (a *Adapter) DisableTimeout() {
	if a.window != nil {
		a.window.DisableTimeout()
	}
}

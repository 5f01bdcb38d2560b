package quickjs

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/zackorndorff/idapython/extlang"
)

// Adapter 是 QuickJS 上的外部语言实现。
// 取消轮询走引擎原生的中断回调：后端在创建时把执行窗口注册进
// QuickJS 的 interrupt handler，窗口脉冲直接跑在引擎自己的求值路径上。
type Adapter struct {
	mu sync.RWMutex

	cfg extlang.Config
	lc  *extlang.Lifecycle

	opt     Options
	window  *extlang.Window
	backend runtimeBackend
}

func init() {
	extlang.Register(extlang.EngineQuickJS, func() extlang.ExtLang {
		return NewAdapter()
	})
}

// NewAdapter 创建 QuickJS 适配器实例。
func NewAdapter() *Adapter {
	return &Adapter{lc: extlang.NewLifecycle()}
}

func (a *Adapter) Name() extlang.EngineName {
	return extlang.EngineQuickJS
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
	a.cfg = cfg
	a.window = extlang.NewWindow(cfg.Timeout, cfg.WaitBox, cfg.Cancel)
	a.mu.Unlock()

	backend, err := newRuntimeBackend(cfg, a.opt, a.window)
	if err != nil {
		a.lc.Store(extlang.StateClosed)
		return &extlang.LangError{
			Kind:    extlang.ErrInit,
			Message: "QuickJS 后端初始化失败",
			Cause:   err,
		}
	}

	a.mu.Lock()
	a.backend = backend
	a.mu.Unlock()

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
	if a.backend != nil {
		if err := a.backend.Dispose(); err != nil {
			a.lc.Store(extlang.StateReady)
			return &extlang.LangError{
				Kind:    extlang.ErrRuntime,
				Message: "QuickJS 后端释放失败",
				Cause:   err,
			}
		}
		a.backend = nil
	}

	a.lc.Store(extlang.StateClosed)
	extlang.Deselect(a)
	return nil
}

// withWindow 在执行窗口内委派给后端执行一次操作。
func (a *Adapter) withWindow(fn func(b runtimeBackend) error) error {
	if !a.lc.Ready() {
		return extlang.NewError(extlang.ErrRuntime, "引擎未初始化完成")
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.backend == nil {
		return extlang.NewError(extlang.ErrInternal, "QuickJS 后端不可用")
	}
	a.window.Enter()
	defer a.window.Exit()
	return fn(a.backend)
}

// wrapErr 把后端错误收敛成适配层错误；中断一律归为取消类别，
// 带 ResolutionError 标记的异常归为名字解析类别。
func wrapErr(kind extlang.ErrorKind, what string, err error) error {
	var le *extlang.LangError
	if errors.As(err, &le) {
		return le
	}
	msg := err.Error()
	if strings.Contains(strings.ToLower(msg), "interrupt") {
		return extlang.WrapError(extlang.ErrCancelled, err, "interrupted")
	}
	if strings.Contains(msg, "ResolutionError") {
		return extlang.WrapError(extlang.ErrResolution, err, "%s: %v", what, err)
	}
	return extlang.WrapError(kind, err, "%s: %v", what, err)
}

func (a *Adapter) Compile(name string, expr string) error {
	return a.withWindow(func(b runtimeBackend) error {
		if err := b.Compile(name, expr); err != nil {
			return wrapErr(extlang.ErrRuntime, "QuickJS 表达式编译失败", err)
		}
		return nil
	})
}

func (a *Adapter) Run(qualified string, args []extlang.Value) (extlang.Value, error) {
	ret := extlang.Void()
	err := a.withWindow(func(b runtimeBackend) error {
		v, err := b.Run(qualified, args)
		if err != nil {
			return wrapErr(extlang.ErrRuntime, "QuickJS 调用 "+qualified+" 失败", err)
		}
		ret = v
		return nil
	})
	return ret, err
}

func (a *Adapter) CalcExpr(expr string) (extlang.Value, error) {
	ret := extlang.Void()
	err := a.withWindow(func(b runtimeBackend) error {
		v, err := b.CalcExpr(expr)
		if err != nil {
			return wrapErr(extlang.ErrRuntime, "QuickJS 表达式求值失败", err)
		}
		ret = v
		return nil
	})
	return ret, err
}

func (a *Adapter) CompileFile(path string) error {
	return a.withWindow(func(b runtimeBackend) error {
		if err := b.CompileFile(path); err != nil {
			return wrapErr(extlang.ErrRuntime, "QuickJS 脚本执行失败("+path+")", err)
		}
		return nil
	})
}

func (a *Adapter) RunStatements(block string) error {
	return a.withWindow(func(b runtimeBackend) error {
		if err := b.RunStatements(block); err != nil {
			return wrapErr(extlang.ErrRuntime, "QuickJS 语句执行失败", err)
		}
		return nil
	})
}

func (a *Adapter) CreateObject(qualified string, args []extlang.Value) (extlang.Value, error) {
	ret := extlang.Void()
	err := a.withWindow(func(b runtimeBackend) error {
		v, err := b.CreateObject(qualified, args)
		if err != nil {
			return wrapErr(extlang.ErrRuntime, "QuickJS 构造 "+qualified+" 失败", err)
		}
		ret = v
		return nil
	})
	return ret, err
}

func (a *Adapter) GetAttr(obj *extlang.Value, attr string) (extlang.Value, error) {
	ret := extlang.Void()
	err := a.withWindow(func(b runtimeBackend) error {
		v, err := b.GetAttr(obj, attr)
		if err != nil {
			return wrapErr(extlang.ErrRuntime, "QuickJS 读取属性 "+attr+" 失败", err)
		}
		ret = v
		return nil
	})
	return ret, err
}

func (a *Adapter) SetAttr(obj *extlang.Value, attr string, val extlang.Value) error {
	if attr == "" {
		return extlang.NewError(extlang.ErrUsage, "属性名不能为空")
	}
	return a.withWindow(func(b runtimeBackend) error {
		if err := b.SetAttr(obj, attr, val); err != nil {
			return wrapErr(extlang.ErrRuntime, "QuickJS 设置属性 "+attr+" 失败", err)
		}
		return nil
	})
}

func (a *Adapter) CallMethod(obj *extlang.Value, method string, args []extlang.Value) (extlang.Value, error) {
	if (obj == nil || obj.IsVoid()) && method == "" {
		return extlang.Void(), extlang.NewError(extlang.ErrUsage, "既无对象也无方法名的调用不受支持")
	}
	if obj == nil || obj.IsVoid() {
		return a.Run(method, args)
	}
	ret := extlang.Void()
	err := a.withWindow(func(b runtimeBackend) error {
		v, err := b.CallMethod(obj, method, args)
		if err != nil {
			return wrapErr(extlang.ErrRuntime, "QuickJS 调用方法 "+method+" 失败", err)
		}
		ret = v
		return nil
	})
	return ret, err
}

func (a *Adapter) ReleaseObject(obj extlang.Value) error {
	if !a.lc.Ready() {
		return extlang.NewError(extlang.ErrRuntime, "引擎未初始化完成")
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.backend == nil {
		return extlang.NewError(extlang.ErrInternal, "QuickJS 后端不可用")
	}
	return a.backend.ReleaseObject(obj)
}

func (a *Adapter) TypeNameOf(obj extlang.Value) (string, error) {
	name := ""
	err := a.withWindow(func(b runtimeBackend) error {
		n, err := b.TypeNameOf(obj)
		if err != nil {
			return wrapErr(extlang.ErrConversion, "QuickJS 类型名查询失败", err)
		}
		name = n
		return nil
	})
	return name, err
}

func (a *Adapter) SetTimeout(d time.Duration) time.Duration {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.window == nil {
		return 0
	}
	return a.window.SetTimeout(d)
}

func (a *Adapter) DisableTimeout() {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.window != nil {
		a.window.DisableTimeout()
	}
}

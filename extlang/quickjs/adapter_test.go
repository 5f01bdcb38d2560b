package quickjs

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/zackorndorff/idapython/extlang"
)

type fakeBackend struct {
	calls []string

	compileErr error
	runErr     error
	runRet     extlang.Value
	calcRet    extlang.Value
	attrRet    extlang.Value
	typeName   string
	disposed   bool
}

func (f *fakeBackend) record(op string) { f.calls = append(f.calls, op) }

func (f *fakeBackend) Dispose() error {
	f.record("dispose")
	f.disposed = true
	return nil
}

func (f *fakeBackend) Compile(_ string, _ string) error {
	f.record("compile")
	return f.compileErr
}

func (f *fakeBackend) Run(_ string, _ []extlang.Value) (extlang.Value, error) {
	f.record("run")
	return f.runRet, f.runErr
}

func (f *fakeBackend) CalcExpr(_ string) (extlang.Value, error) {
	f.record("calc")
	return f.calcRet, nil
}

func (f *fakeBackend) CompileFile(_ string) error {
	f.record("compileFile")
	return nil
}

func (f *fakeBackend) RunStatements(_ string) error {
	f.record("statements")
	return nil
}

func (f *fakeBackend) CreateObject(_ string, _ []extlang.Value) (extlang.Value, error) {
	f.record("create")
	return extlang.Opaque(1), nil
}

func (f *fakeBackend) GetAttr(_ *extlang.Value, _ string) (extlang.Value, error) {
	f.record("getAttr")
	return f.attrRet, nil
}

func (f *fakeBackend) SetAttr(_ *extlang.Value, _ string, _ extlang.Value) error {
	f.record("setAttr")
	return nil
}

func (f *fakeBackend) CallMethod(_ *extlang.Value, _ string, _ []extlang.Value) (extlang.Value, error) {
	f.record("callMethod")
	return f.runRet, nil
}

func (f *fakeBackend) TypeNameOf(_ extlang.Value) (string, error) {
	f.record("typeName")
	return f.typeName, nil
}

func (f *fakeBackend) ReleaseObject(_ extlang.Value) error {
	f.record("release")
	return nil
}

func withFakeBackend(t *testing.T, fake *fakeBackend) {
	t.Helper()
	old := newRuntimeBackend
	newRuntimeBackend = func(_ extlang.Config, _ Options, _ *extlang.Window) (runtimeBackend, error) {
		return fake, nil
	}
	t.Cleanup(func() { newRuntimeBackend = old })
}

func newReadyAdapter(t *testing.T, fake *fakeBackend) *Adapter {
	t.Helper()
	withFakeBackend(t, fake)
	a := NewAdapter()
	if err := a.Init(context.Background(), extlang.Config{Timeout: time.Second}); err != nil {
		t.Fatalf("初始化失败: %v", err)
	}
	return a
}

func TestQuickJSLifecycle(t *testing.T) {
	fake := &fakeBackend{}
	a := newReadyAdapter(t, fake)

	if err := a.Compile("f", "1+1"); err != nil {
		t.Fatalf("就绪后编译失败: %v", err)
	}
	if err := a.Dispose(); err != nil {
		t.Fatalf("释放失败: %v", err)
	}
	if !fake.disposed {
		t.Fatalf("后端未被释放")
	}
	// 已关闭后的重复释放是无害的
	if err := a.Dispose(); err != nil {
		t.Fatalf("重复释放应无害: %v", err)
	}
	if err := a.Compile("f", "1+1"); extlang.KindOf(err) != extlang.ErrRuntime {
		t.Fatalf("关闭后编译应报运行时错误: %v", err)
	}
}

func TestQuickJSInitTwiceRejected(t *testing.T) {
	fake := &fakeBackend{}
	a := newReadyAdapter(t, fake)
	defer func() { _ = a.Dispose() }()

	err := a.Init(context.Background(), extlang.Config{Timeout: time.Second})
	if extlang.KindOf(err) != extlang.ErrInit {
		t.Fatalf("重复初始化应报初始化错误: %v", err)
	}
}

func TestQuickJSInitBackendFailure(t *testing.T) {
	old := newRuntimeBackend
	newRuntimeBackend = func(_ extlang.Config, _ Options, _ *extlang.Window) (runtimeBackend, error) {
		return nil, fmt.Errorf("模拟的后端故障")
	}
	t.Cleanup(func() { newRuntimeBackend = old })

	a := NewAdapter()
	err := a.Init(context.Background(), extlang.Config{Timeout: time.Second})
	if extlang.KindOf(err) != extlang.ErrInit {
		t.Fatalf("后端创建失败应报初始化错误: %v", err)
	}
	// 失败后引擎进入关闭态，操作不可用
	if err := a.RunStatements("1;"); extlang.KindOf(err) != extlang.ErrRuntime {
		t.Fatalf("初始化失败后语句执行应报运行时错误: %v", err)
	}
}

func TestQuickJSUninitializedOps(t *testing.T) {
	fake := &fakeBackend{}
	withFakeBackend(t, fake)
	a := NewAdapter()

	if _, err := a.CalcExpr("1+1"); extlang.KindOf(err) != extlang.ErrRuntime {
		t.Fatalf("未初始化求值应报运行时错误: %v", err)
	}
	if len(fake.calls) != 0 {
		t.Fatalf("未初始化时不应触达后端: %v", fake.calls)
	}
}

func TestQuickJSDelegation(t *testing.T) {
	fake := &fakeBackend{
		runRet:   extlang.Int(42),
		calcRet:  extlang.Float(2.5),
		attrRet:  extlang.Str("val"),
		typeName: "Point",
	}
	a := newReadyAdapter(t, fake)
	defer func() { _ = a.Dispose() }()

	if v, err := a.Run("main.f", nil); err != nil || v.Int() != 42 {
		t.Fatalf("调用结果不正确: %v %v", v, err)
	}
	if v, err := a.CalcExpr("2.5"); err != nil || v.Float() != 2.5 {
		t.Fatalf("求值结果不正确: %v %v", v, err)
	}
	if err := a.CompileFile("x.js"); err != nil {
		t.Fatalf("脚本执行失败: %v", err)
	}
	if err := a.RunStatements("var a = 1;"); err != nil {
		t.Fatalf("语句执行失败: %v", err)
	}
	if v, err := a.CreateObject("Point", nil); err != nil || v.Kind() != extlang.KindHandle {
		t.Fatalf("构造结果不正确: %v %v", v, err)
	}
	obj := extlang.Opaque(1)
	if v, err := a.GetAttr(&obj, "x"); err != nil || v.Str() != "val" {
		t.Fatalf("属性读取不正确: %v %v", v, err)
	}
	if err := a.SetAttr(&obj, "x", extlang.Int(1)); err != nil {
		t.Fatalf("属性设置失败: %v", err)
	}
	if v, err := a.CallMethod(&obj, "move", nil); err != nil || v.Int() != 42 {
		t.Fatalf("方法调用不正确: %v %v", v, err)
	}
	if name, err := a.TypeNameOf(obj); err != nil || name != "Point" {
		t.Fatalf("类型名不正确: %q %v", name, err)
	}
	if err := a.ReleaseObject(obj); err != nil {
		t.Fatalf("句柄归还失败: %v", err)
	}
	if fake.calls[len(fake.calls)-1] != "release" {
		t.Fatalf("句柄归还应委派给后端: %v", fake.calls)
	}
}

func TestQuickJSErrorWrapping(t *testing.T) {
	fake := &fakeBackend{
		runErr: fmt.Errorf("execution interrupted by host"),
	}
	a := newReadyAdapter(t, fake)
	defer func() { _ = a.Dispose() }()

	_, err := a.Run("f", nil)
	if !extlang.IsCancelled(err) {
		t.Fatalf("中断错误应归为取消类别: %v", err)
	}

	fake.compileErr = extlang.NewError(extlang.ErrUsage, "绑定名不合法")
	err = a.Compile("bad name", "1")
	if extlang.KindOf(err) != extlang.ErrUsage {
		t.Fatalf("后端的分类错误应原样透传: %v", err)
	}

	fake.compileErr = errors.New("SyntaxError: unexpected token")
	err = a.Compile("f", "1 +")
	if extlang.KindOf(err) != extlang.ErrRuntime {
		t.Fatalf("普通后端错误应归为运行时类别: %v", err)
	}

	// 后端脚本里抛出的名字解析异常带 ResolutionError 标记
	fake.runErr = errors.New("ResolutionError: 未定义的函数: ghost")
	_, err = a.Run("ghost", nil)
	if extlang.KindOf(err) != extlang.ErrResolution {
		t.Fatalf("名字解析异常应归为解析类别: %v", err)
	}

	fake.runErr = extlang.NewError(extlang.ErrConversion, "无效的对象句柄: 9")
	_, err = a.Run("f", nil)
	if extlang.KindOf(err) != extlang.ErrConversion {
		t.Fatalf("后端的转换错误应原样透传: %v", err)
	}
}

func TestQuickJSCallMethodNilObject(t *testing.T) {
	fake := &fakeBackend{runRet: extlang.Int(7)}
	a := newReadyAdapter(t, fake)
	defer func() { _ = a.Dispose() }()

	if _, err := a.CallMethod(nil, "", nil); extlang.KindOf(err) != extlang.ErrUsage {
		t.Fatalf("无对象无方法名应报用法错误: %v", err)
	}
	// 无对象但有方法名时退化为普通调用
	v, err := a.CallMethod(nil, "f", nil)
	if err != nil || v.Int() != 7 {
		t.Fatalf("退化调用不正确: %v %v", v, err)
	}
	if fake.calls[len(fake.calls)-1] != "run" {
		t.Fatalf("退化调用应走 Run: %v", fake.calls)
	}
}

func TestQuickJSSetAttrEmptyName(t *testing.T) {
	fake := &fakeBackend{}
	a := newReadyAdapter(t, fake)
	defer func() { _ = a.Dispose() }()

	obj := extlang.Opaque(1)
	if err := a.SetAttr(&obj, "", extlang.Int(1)); extlang.KindOf(err) != extlang.ErrUsage {
		t.Fatalf("空属性名应报用法错误: %v", err)
	}
}

func TestQuickJSSetTimeoutRoundTrip(t *testing.T) {
	fake := &fakeBackend{}
	a := newReadyAdapter(t, fake)
	defer func() { _ = a.Dispose() }()

	old := a.SetTimeout(3 * time.Second)
	if old != time.Second {
		t.Fatalf("旧超时不正确: %v", old)
	}
	if got := a.SetTimeout(time.Second); got != 3*time.Second {
		t.Fatalf("更新后的超时不正确: %v", got)
	}
	a.DisableTimeout()
	if got := a.SetTimeout(time.Second); got != 0 {
		t.Fatalf("禁用后超时应为 0: %v", got)
	}
}

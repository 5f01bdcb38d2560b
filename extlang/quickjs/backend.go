package quickjs

import "github.com/zackorndorff/idapython/extlang"

// runtimeBackend 定义 QuickJS 运行时后端的能力集，
// 与适配器的对外操作一一对应。
type runtimeBackend interface {
	Dispose() error
	Compile(name string, expr string) error
	Run(qualified string, args []extlang.Value) (extlang.Value, error)
	CalcExpr(expr string) (extlang.Value, error)
	CompileFile(path string) error
	RunStatements(block string) error
	CreateObject(qualified string, args []extlang.Value) (extlang.Value, error)
	GetAttr(obj *extlang.Value, attr string) (extlang.Value, error)
	SetAttr(obj *extlang.Value, attr string, val extlang.Value) error
	CallMethod(obj *extlang.Value, method string, args []extlang.Value) (extlang.Value, error)
	TypeNameOf(obj extlang.Value) (string, error)
	ReleaseObject(obj extlang.Value) error
}

// newRuntimeBackend 用于创建具体后端实现。
// 具体实现由带构建标签的文件提供：
// - backend_noquickjs.go: 默认降级实现
// - backend_quickjs.go: quickjs (github.com/buke/quickjs-go) CGO 实现
var newRuntimeBackend func(cfg extlang.Config, opt Options, win *extlang.Window) (runtimeBackend, error)

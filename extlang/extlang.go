package extlang

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// EngineName 标识外部脚本语言的引擎实现类型。
type EngineName string

const (
	EngineGoja    EngineName = "goja"
	EngineQuickJS EngineName = "quickjs"
)

// Config 是引擎实现使用的最小运行配置。
// 各字段由启动流程读取配置后以普通值传入，核心不负责解析配置文件。
type Config struct {
	Name      EngineName
	ModuleDir string

	// Timeout 脚本执行超时；为 0 时完全关闭取消轮询。
	Timeout time.Duration
	// AlertAutoScripts 启动时对当前目录中会被自动执行的脚本弹出警告。
	AlertAutoScripts bool
	// SanitizePaths 清理模块搜索路径中的空目录项。
	SanitizePaths bool

	// Argv 宿主传给脚本侧的启动参数，发布为全局 ARGV。
	Argv []string

	// WaitBox 与 Cancel 由宿主 UI 提供，用于长耗时提示与用户取消轮询。
	WaitBox WaitBox
	Cancel  CancelSource

	Logger *zap.SugaredLogger
}

// ExtLang 是宿主视角下"外部语言"的统一能力集。
// 每个嵌入式运行时提供一个实现，通过 Select 选为当前活动语言。
// 所有入口接收/返回宿主宏语言的 Value，失败以 *LangError 报告。
type ExtLang interface {
	Name() EngineName
	// FileExt 返回该语言脚本文件的扩展名（不带点）。
	FileExt() string
	Init(ctx context.Context, cfg Config) error
	Dispose() error

	// Compile 把单个表达式编译为可调用对象并以 name 绑定到全局作用域。
	// 语法错误时全局作用域保持不变。
	Compile(name string, expr string) error
	// Run 解析点号限定名并调用目标函数，参数与返回值经由值桥转换。
	Run(qualified string, args []Value) (Value, error)
	// CalcExpr 在全局作用域对单个表达式求值。
	CalcExpr(expr string) (Value, error)
	// CompileFile 在全局作用域执行整个脚本文件，重复加载视为重载。
	CompileFile(path string) error
	// RunStatements 在全局作用域执行语句块，不产生返回值。
	RunStatements(block string) error
	// CreateObject 导入模块并调用其中的类构造器，返回不透明句柄。
	CreateObject(qualified string, args []Value) (Value, error)
	// GetAttr 读取属性。obj 为 nil 时操作全局命名空间；字符串按全局名查找；
	// 句柄直接使用。attr 为空串时返回 obj 的运行时类型名（见 TypeNameOf）。
	GetAttr(obj *Value, attr string) (Value, error)
	SetAttr(obj *Value, attr string, val Value) error
	// CallMethod 调用 obj 的方法；obj 为 nil 且有方法名时退化为 Run。
	CallMethod(obj *Value, method string, args []Value) (Value, error)
	// TypeNameOf 返回对象的运行时类型名。
	TypeNameOf(obj Value) (string, error)
	// ReleaseObject 归还宿主持有的不透明句柄，对应宿主侧值销毁。
	// 对非句柄值与已失效句柄是无害的空操作。
	ReleaseObject(obj Value) error

	// SetTimeout 更新脚本超时并返回旧值，同时重置计时与提示框。
	SetTimeout(d time.Duration) time.Duration
	// DisableTimeout 清除超时并立即卸载取消轮询。
	DisableTimeout()
}

// LineConsole 是交互式控制台入口的可选能力。
type LineConsole interface {
	// ExecuteLine 执行一行交互输入；返回 false 表示该行尚不完整，需要续行。
	ExecuteLine(line string) bool
	// CompleteLine 返回补全候选：prefix 为待补全前缀，n 为候选序号，
	// line 与 x 为完整行及光标位置。
	CompleteLine(prefix string, n int, line string, x int) (string, bool)
}

// WaitBox 是宿主 UI 的长耗时提示框。Show 可被幂等调用。
type WaitBox interface {
	Show(label string)
	Hide()
}

// CancelSource 由宿主 UI 提供，轮询用户是否请求了取消。
type CancelSource interface {
	Cancelled() bool
}

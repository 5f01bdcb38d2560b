package jsvm

import (
	"os/exec"
	"strings"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/console"
	"github.com/dop251/goja_nodejs/require"
	"github.com/golang-module/carbon"
	"go.uber.org/zap"

	"github.com/zackorndorff/idapython/extlang"
)

// printer 把脚本侧 console 输出接到宿主日志。
type printer struct {
	log *zap.SugaredLogger
}

func (p *printer) Log(s string)  { p.log.Info(s) }
func (p *printer) Warn(s string) { p.log.Warn(s) }

// Error 表示脚本业务侧的错误输出（console.error），不打印 Go 运行栈。
func (p *printer) Error(s string) { p.log.Warn("[JS] " + s) }

// setupRuntime 重建 goja 虚拟机：模块注册表、console、内建全局与 ARGV。
func (a *Adapter) setupRuntime(cfg extlang.Config) (*goja.Runtime, *require.RequireModule) {
	vm := goja.New()

	reg := require.NewRegistry(require.WithGlobalFolders(sanitizeFolders(cfg.ModuleDir)...))
	reg.RegisterNativeModule("console", console.RequireWithPrinter(&printer{log: a.log}))
	req := reg.Enable(vm)
	console.Enable(vm)

	argv := cfg.Argv
	if argv == nil {
		argv = []string{}
	}
	_ = vm.Set("ARGV", argv)
	_ = vm.Set("help", a.helpBuiltin)
	_ = vm.Set("execSystem", a.execSystemBuiltin)
	return vm, req
}

// helpBuiltin 是交互控制台 "?name" 伪命令的落点：
// 查找全局名并给出其运行时类型的一行说明。
func (a *Adapter) helpBuiltin(topic string) string {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		a.log.Info("用法: ?名称 查看对象说明，!命令 执行外部命令")
		return ""
	}
	v := a.vm.GlobalObject().Get(topic)
	if v == nil || goja.IsUndefined(v) {
		a.log.Infof("帮助: 未找到全局对象 %s", topic)
		return ""
	}
	desc := topic + ": " + typeNameOfValue(v)
	a.log.Infof("帮助: %s", desc)
	return desc
}

// execSystemBuiltin 是 "!cmd" 伪命令的落点：执行外部命令并回显输出。
func (a *Adapter) execSystemBuiltin(cmdline string) string {
	cmdline = strings.TrimSpace(cmdline)
	if cmdline == "" {
		return ""
	}
	out, err := exec.Command("sh", "-c", cmdline).CombinedOutput()
	text := strings.TrimRight(string(out), "\n")
	if text != "" {
		a.log.Info(text)
	}
	if err != nil {
		a.log.Warnf("外部命令执行失败: %v", err)
	}
	return text
}

func (a *Adapter) banner() {
	a.log.Infof("goja 脚本桥 v%s 已就绪 %s", BridgeVersion, carbon.Now().ToDateTimeString())
}

// typeNameOfValue 返回值的运行时类型名：对象优先取构造器名，
// 退化到内部类名；标量直接映射。
func typeNameOfValue(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) {
		return "undefined"
	}
	if goja.IsNull(v) {
		return "null"
	}
	if obj, ok := v.(*goja.Object); ok {
		if ctor, ok := obj.Get("constructor").(*goja.Object); ok {
			if name := ctor.Get("name"); name != nil && !goja.IsUndefined(name) {
				if s := name.String(); s != "" {
					return s
				}
			}
		}
		return obj.ClassName()
	}
	switch v.Export().(type) {
	case int64, float64:
		return "Number"
	case string:
		return "String"
	case bool:
		return "Boolean"
	default:
		return "Object"
	}
}

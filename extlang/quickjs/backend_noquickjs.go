//go:build !quickjs

package quickjs

import (
	"fmt"

	"github.com/zackorndorff/idapython/extlang"
)

type unavailableBackend struct{}

func (b *unavailableBackend) Dispose() error { return nil }

func (b *unavailableBackend) Compile(_ string, _ string) error {
	return fmt.Errorf("QuickJS backend 不可用")
}

func (b *unavailableBackend) Run(_ string, _ []extlang.Value) (extlang.Value, error) {
	return extlang.Void(), fmt.Errorf("QuickJS backend 不可用")
}

func (b *unavailableBackend) CalcExpr(_ string) (extlang.Value, error) {
	return extlang.Void(), fmt.Errorf("QuickJS backend 不可用")
}

func (b *unavailableBackend) CompileFile(_ string) error { return fmt.Errorf("QuickJS backend 不可用") }

func (b *unavailableBackend) RunStatements(_ string) error {
	return fmt.Errorf("QuickJS backend 不可用")
}

func (b *unavailableBackend) CreateObject(_ string, _ []extlang.Value) (extlang.Value, error) {
	return extlang.Void(), fmt.Errorf("QuickJS backend 不可用")
}

func (b *unavailableBackend) GetAttr(_ *extlang.Value, _ string) (extlang.Value, error) {
	return extlang.Void(), fmt.Errorf("QuickJS backend 不可用")
}

func (b *unavailableBackend) SetAttr(_ *extlang.Value, _ string, _ extlang.Value) error {
	return fmt.Errorf("QuickJS backend 不可用")
}

func (b *unavailableBackend) CallMethod(_ *extlang.Value, _ string, _ []extlang.Value) (extlang.Value, error) {
	return extlang.Void(), fmt.Errorf("QuickJS backend 不可用")
}

func (b *unavailableBackend) TypeNameOf(_ extlang.Value) (string, error) {
	return "", fmt.Errorf("QuickJS backend 不可用")
}

func (b *unavailableBackend) ReleaseObject(_ extlang.Value) error { return nil }

func init() {
	// 未启用 quickjs 标签时，使用降级后端，明确返回错误。
	newRuntimeBackend = func(_ extlang.Config, _ Options, _ *extlang.Window) (runtimeBackend, error) {
		return &unavailableBackend{}, fmt.Errorf("QuickJS backend 不可用：需要 -tags quickjs")
	}
}

package extlang_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/zackorndorff/idapython/extlang"
)

type fakeWaitBox struct {
	shows int32
	hides int32
}

func (b *fakeWaitBox) Show(_ string) { atomic.AddInt32(&b.shows, 1) }
func (b *fakeWaitBox) Hide()         { atomic.AddInt32(&b.hides, 1) }

type fakeCancel struct {
	flag atomic.Bool
}

func (c *fakeCancel) Cancelled() bool { return c.flag.Load() }

func TestWindowDisabledWhenTimeoutZero(t *testing.T) {
	w := extlang.NewWindow(0, &fakeWaitBox{}, &fakeCancel{})
	if w.Enter() {
		t.Fatal("超时为 0 时不应建立执行窗口")
	}
	if w.Pulse() != extlang.ActionNone {
		t.Fatal("禁用状态下脉冲应放行")
	}
}

func TestWindowCancelRequestsInterrupt(t *testing.T) {
	cancel := &fakeCancel{}
	w := extlang.NewWindow(time.Second, &fakeWaitBox{}, cancel)
	if !w.Enter() {
		t.Fatal("Enter 应建立窗口")
	}
	defer w.Exit()

	if w.Pulse() != extlang.ActionNone {
		t.Fatal("未请求取消时不应要求中断")
	}
	cancel.flag.Store(true)
	if w.Pulse() != extlang.ActionInterrupt {
		t.Fatal("取消请求应在下一次脉冲转为中断")
	}
}

func TestWindowWaitBoxShownExactlyOnce(t *testing.T) {
	box := &fakeWaitBox{}
	// 1ns 超时：窗口一建立就视为超时
	w := extlang.NewWindow(time.Nanosecond, box, &fakeCancel{})
	w.Enter()

	// 提示框在计数跨过阈值后显示，且整个窗口内只显示一次
	for i := 0; i < 50; i++ {
		if w.Pulse() != extlang.ActionNone {
			t.Fatal("无取消请求时不应中断")
		}
	}
	if n := atomic.LoadInt32(&box.shows); n != 1 {
		t.Fatalf("提示框显示次数错误: got=%d want=1", n)
	}
	w.Exit()
	if n := atomic.LoadInt32(&box.hides); n != 1 {
		t.Fatalf("退出窗口应隐藏提示框: hides=%d", n)
	}
}

func TestWindowNestedEnterRestoresOuter(t *testing.T) {
	box := &fakeWaitBox{}
	w := extlang.NewWindow(time.Nanosecond, box, &fakeCancel{})
	w.Enter()
	for i := 0; i <= 11; i++ {
		w.Pulse()
	}
	if atomic.LoadInt32(&box.shows) != 1 {
		t.Fatal("外层窗口的提示框应已显示")
	}

	// 嵌套进入：内层窗口独立计时，外层状态被保存
	w.Enter()
	if !w.InsideCall() {
		t.Fatal("嵌套进入后应仍处于 Inside-Call")
	}
	w.Exit()
	if !w.InsideCall() {
		t.Fatal("内层退出后外层窗口应被恢复")
	}
	w.Exit()
	if w.InsideCall() {
		t.Fatal("全部退出后应回到 Idle")
	}
}

func TestWindowSetTimeoutResetsIndicator(t *testing.T) {
	box := &fakeWaitBox{}
	w := extlang.NewWindow(time.Nanosecond, box, &fakeCancel{})
	w.Enter()
	for i := 0; i <= 11; i++ {
		w.Pulse()
	}
	if atomic.LoadInt32(&box.shows) != 1 {
		t.Fatal("提示框应已显示")
	}

	old := w.SetTimeout(time.Nanosecond)
	if old != time.Nanosecond {
		t.Fatalf("SetTimeout 应返回旧值: %v", old)
	}
	if atomic.LoadInt32(&box.hides) != 1 {
		t.Fatal("SetTimeout 应隐藏提示框以便重新显示")
	}
	// 重置后超时再次流逝，提示框可以再显示一次
	for i := 0; i <= 11; i++ {
		w.Pulse()
	}
	if atomic.LoadInt32(&box.shows) != 2 {
		t.Fatalf("重置后提示框应能再次显示: shows=%d", atomic.LoadInt32(&box.shows))
	}
	w.Exit()
}

func TestWindowDisableTimeoutStopsPolling(t *testing.T) {
	cancel := &fakeCancel{}
	w := extlang.NewWindow(time.Second, &fakeWaitBox{}, cancel)
	w.Enter()
	cancel.flag.Store(true)
	w.DisableTimeout()
	if w.Pulse() != extlang.ActionNone {
		t.Fatal("关闭超时后脉冲应一律放行")
	}
	w.Exit()
}

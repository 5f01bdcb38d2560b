package jsvm

import (
	"sync"
	"time"

	"github.com/dop251/goja"

	"github.com/zackorndorff/idapython/extlang"
)

// goja 没有逐指令钩子，取消检测退化为旁路采样：
// 看门狗协程按固定节拍对执行窗口打脉冲，命中取消请求时
// 通过 vm.Interrupt 在下一个安全点注入异步中断。
// Interrupt 是 goja 少数允许跨协程调用的方法。
const pulseInterval = 20 * time.Millisecond

type watchdog struct {
	vm     *goja.Runtime
	window *extlang.Window

	mu    sync.Mutex
	depth int
	stopc chan struct{}
}

func newWatchdog(vm *goja.Runtime, w *extlang.Window) *watchdog {
	return &watchdog{vm: vm, window: w}
}

// Start 启动采样，嵌套调用只加深计数。
func (d *watchdog) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.depth++
	if d.depth == 1 {
		d.stopc = make(chan struct{})
		go d.loop(d.stopc)
	}
}

// Stop 结束最外层调用时停掉采样协程并清除残留的中断标记。
func (d *watchdog) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.depth == 0 {
		return
	}
	d.depth--
	if d.depth == 0 {
		close(d.stopc)
		d.stopc = nil
		d.vm.ClearInterrupt()
	}
}

func (d *watchdog) loop(stop chan struct{}) {
	t := time.NewTicker(pulseInterval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			if d.window.Pulse() == extlang.ActionInterrupt {
				d.vm.Interrupt("interrupted")
			}
		}
	}
}

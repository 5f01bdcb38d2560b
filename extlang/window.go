package extlang

import (
	"sync"
	"time"
)

// Action 是步进钩子一次脉冲的处理结论。
type Action int

const (
	ActionNone Action = iota
	// ActionInterrupt 要求引擎在下一个安全点注入异步中断。
	ActionInterrupt
)

// 每累计多少次脉冲采样检查一次墙钟超时。
const sampleThreshold = 10

// WaitBoxLabel 是长耗时提示框的统一文案。
const WaitBoxLabel = "Running script"

type windowState struct {
	start    time.Time
	ninsns   int
	boxShown bool
}

// Window 是执行窗口：包住每次进入嵌入式运行时的区间，
// 在步进钩子脉冲里完成用户取消检测与超时提示。
// 状态只有 Idle 与 Inside-Call 两种；嵌套进入时保存/恢复外层窗口。
// 取消完全是协作式的：引擎必须走到下一次脉冲才能观察到中断。
type Window struct {
	mu      sync.Mutex
	timeout time.Duration
	waitbox WaitBox
	cancel  CancelSource

	depth int
	cur   windowState
	saved []windowState
}

func NewWindow(timeout time.Duration, wb WaitBox, cs CancelSource) *Window {
	return &Window{timeout: timeout, waitbox: wb, cancel: cs}
}

// Enter 进入 Inside-Call 状态：记录起始时刻并清零采样计数。
// 配置超时为 0 时取消轮询整体关闭，返回 false 且不建立窗口。
// 已在 Inside-Call 时的再次进入是合法的（运行时回调宿主、宿主再进运行时），
// 外层窗口会被压栈保存。
func (w *Window) Enter() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timeout == 0 {
		return false
	}
	if w.depth > 0 {
		w.saved = append(w.saved, w.cur)
	}
	w.cur = windowState{start: time.Now()}
	w.depth++
	return true
}

// Exit 退出当前窗口，隐藏提示框（若已显示）并恢复外层窗口。
// 对未进入的窗口调用是无害的。
func (w *Window) Exit() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.depth == 0 {
		return
	}
	if w.cur.boxShown && w.waitbox != nil {
		w.waitbox.Hide()
	}
	w.depth--
	if w.depth > 0 {
		last := len(w.saved) - 1
		w.cur = w.saved[last]
		w.saved = w.saved[:last]
	} else {
		w.cur = windowState{}
	}
}

// Pulse 是步进钩子主体，由引擎在其求值路径上按采样粒度调用。
// 用户已请求取消时立即要求注入中断；否则每 sampleThreshold 次脉冲
// 对照墙钟检查一次超时，超过后显示一次（且仅一次）可取消的提示框。
// 除计数更新与提示框外不做任何事，因为它跑在引擎自己的求值路径上。
func (w *Window) Pulse() Action {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.depth == 0 || w.timeout == 0 {
		return ActionNone
	}
	if w.cancel != nil && w.cancel.Cancelled() {
		return ActionInterrupt
	}
	if !w.cur.boxShown {
		w.cur.ninsns++
		if w.cur.ninsns > sampleThreshold {
			w.cur.ninsns = 0
			if time.Since(w.cur.start) > w.timeout {
				w.cur.boxShown = true
				if w.waitbox != nil {
					w.waitbox.Show(WaitBoxLabel)
				}
			}
		}
	}
	return ActionNone
}

// InsideCall 返回窗口当前是否处于 Inside-Call 状态。
func (w *Window) InsideCall() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.depth > 0
}

// SetTimeout 更新超时并返回旧值。计时与提示框一并重置，
// 使新超时从当前时刻重新生效。
func (w *Window) SetTimeout(d time.Duration) time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	old := w.timeout
	w.timeout = d
	w.cur.start = time.Now()
	w.cur.ninsns = 0
	if w.cur.boxShown {
		if w.waitbox != nil {
			w.waitbox.Hide()
		}
		w.cur.boxShown = false
	}
	return old
}

// DisableTimeout 清除超时并隐藏提示框，后续脉冲一律放行。
func (w *Window) DisableTimeout() {
	_ = w.SetTimeout(0)
}

// Timeout 返回当前配置的超时。
func (w *Window) Timeout() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.timeout
}

package extlang

import "sync"

// 当前活动外部语言指针。同一时刻最多只有一个实现被选中，
// 宿主宏语言的转发入口都通过它路由。
var (
	activeMu sync.Mutex
	active   ExtLang
)

// Select 把 l 选为当前活动外部语言；传入 nil 表示取消选择。
func Select(l ExtLang) {
	activeMu.Lock()
	defer activeMu.Unlock()
	active = l
}

// Deselect 仅当 l 是当前活动语言时取消选择，
// 防止卸载一个早已被替换的实现时误伤现任。
func Deselect(l ExtLang) {
	activeMu.Lock()
	defer activeMu.Unlock()
	if active == l {
		active = nil
	}
}

// Current 返回当前活动外部语言，未选择时为 nil。
func Current() ExtLang {
	activeMu.Lock()
	defer activeMu.Unlock()
	return active
}

// RunStatementValue 是注册给宿主宏语言的语句执行内建函数：
// 成功返回整数 0，失败返回错误消息字符串。
func RunStatementValue(l ExtLang, block string) Value {
	if l == nil {
		return Str("no active external language")
	}
	if err := l.RunStatements(block); err != nil {
		msg := err.Error()
		if msg == "" {
			msg = "internal error"
		}
		return Str(TruncateMessage(msg))
	}
	return Int(0)
}

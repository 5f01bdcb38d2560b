package jsvm

import (
	"sort"
	"strconv"
	"strings"

	"github.com/dop251/goja"
	"github.com/samber/lo"
)

// 行尾出现这些字符时判定语句未结束，控制台应继续收集输入。
const lineOpeners = "{([:"

// needMoreInput 是交互输入的完整性启发式：
// 行尾是块开启字符、或行首有缩进，都视为语句未结束；
// 空行则无条件结束当前块。
func needMoreInput(line string) bool {
	trimmed := strings.TrimRight(line, " \t")
	if trimmed == "" {
		return false
	}
	if strings.ContainsRune(lineOpeners, rune(trimmed[len(trimmed)-1])) {
		return true
	}
	if line[0] == ' ' || line[0] == '\t' {
		return true
	}
	return false
}

// pseudoRewrite 识别行首伪命令并改写为内建调用：
// "?rest" 查帮助，"!rest" 执行外部命令。只在新语句的首行生效。
func pseudoRewrite(line string) (string, bool) {
	if line == "" {
		return line, false
	}
	rest := strings.TrimSpace(line[1:])
	switch line[0] {
	case '?':
		return "help(" + strconv.Quote(rest) + ")", true
	case '!':
		return "execSystem(" + strconv.Quote(rest) + ")", true
	}
	return line, false
}

// ExecuteLine 处理一行交互输入。返回 false 表示该行尚不完整，
// 控制台应以续行提示符收集更多输入。
func (a *Adapter) ExecuteLine(line string) bool {
	if a.pending == "" {
		if rewritten, ok := pseudoRewrite(line); ok {
			line = rewritten
		}
	}
	if needMoreInput(line) {
		a.pending += line + "\n"
		return false
	}
	block := a.pending + line
	a.pending = ""
	if strings.TrimSpace(block) == "" {
		return true
	}
	a.runConsoleBlock(block)
	return true
}

// runConsoleBlock 执行收集完成的输入块。
// 单行先按表达式求值以便回显结果，失败再按语句块执行。
func (a *Adapter) runConsoleBlock(block string) {
	if !strings.Contains(block, "\n") {
		if v, err := a.CalcExpr(block); err == nil {
			if !v.IsVoid() {
				a.log.Info(v.String())
			}
			return
		}
	}
	if err := a.RunStatements(block); err != nil {
		a.log.Error(err.Error())
	}
}

// CompleteLine 返回前缀补全的第 n 个候选。
// 前缀可以是点号路径，最后一段在其父对象的键上做前缀匹配。
func (a *Adapter) CompleteLine(prefix string, n int, _ string, _ int) (string, bool) {
	if !a.lc.Ready() {
		return "", false
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	base := a.vm.GlobalObject()
	head := ""
	last := prefix
	if i := strings.LastIndexByte(prefix, '.'); i >= 0 {
		head = prefix[:i+1]
		last = prefix[i+1:]
		var cur goja.Value = base
		for _, seg := range strings.Split(prefix[:i], ".") {
			o, ok := cur.(*goja.Object)
			if !ok {
				return "", false
			}
			cur = o.Get(seg)
			if cur == nil || goja.IsUndefined(cur) || goja.IsNull(cur) {
				return "", false
			}
		}
		o, ok := cur.(*goja.Object)
		if !ok {
			return "", false
		}
		base = o
	}

	keys := lo.Filter(base.Keys(), func(k string, _ int) bool {
		return strings.HasPrefix(k, last)
	})
	sort.Strings(keys)
	if n < 0 || n >= len(keys) {
		return "", false
	}
	return head + keys[n], true
}

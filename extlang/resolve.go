package extlang

import "strings"

// Resolve 把点号限定名拆分为模块名与叶子名。
// 只在第一个分隔符处拆分："mod.sub.leaf" → ("mod", "sub.leaf")。
// 不含分隔符时模块名取 defaultModule，叶子名为整个输入。
// 返回值 qualified 表示输入中是否出现了分隔符。
func Resolve(name string, defaultModule string) (module string, leaf string, qualified bool) {
	idx := strings.IndexByte(name, '.')
	if idx < 0 {
		return defaultModule, name, false
	}
	return name[:idx], name[idx+1:], true
}

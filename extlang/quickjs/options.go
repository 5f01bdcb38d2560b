package quickjs

// Options 定义 QuickJS 运行时专用参数。
type Options struct {
	// MemoryLimitBytes 运行时内存上限（字节），0 表示不限制。
	MemoryLimitBytes int64
}

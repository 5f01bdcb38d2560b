package extlang

import (
	"fmt"
	"sync"
)

// Constructor 是语言实现的构造器函数签名。
type Constructor func() ExtLang

var (
	registryMu sync.RWMutex
	registry   = map[EngineName]Constructor{}
)

// Register 注册语言实现构造器，通常在实现包的 init 中调用。
func Register(name EngineName, ctor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = ctor
}

// New 根据配置创建语言实现实例。
func New(cfg Config) (ExtLang, error) {
	registryMu.RLock()
	ctor, ok := registry[cfg.Name]
	registryMu.RUnlock()
	if !ok || ctor == nil {
		return nil, &LangError{
			Kind:    ErrInit,
			Message: fmt.Sprintf("不支持的引擎类型: %s", cfg.Name),
		}
	}
	return ctor(), nil
}

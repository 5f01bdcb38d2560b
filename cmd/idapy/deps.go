package main

// 引擎实现通过各自包的 init 注册进工厂。
import (
	_ "github.com/zackorndorff/idapython/extlang/jsvm"
	_ "github.com/zackorndorff/idapython/extlang/quickjs"
)

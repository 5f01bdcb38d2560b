package jsvm

import (
	"testing"

	"github.com/zackorndorff/idapython/extlang"
)

func TestNeedMoreInputHeuristic(t *testing.T) {
	cases := []struct {
		line string
		more bool
	}{
		{"if x:", true},
		{"x = 1", false},
		{"    y = 2", true},
		{"\ty = 2", true},
		{"function f() {", true},
		{"f(", true},
		{"var a = [", true},
		{"}", false},
		{"", false},
		{"   ", false},
	}
	for _, c := range cases {
		if got := needMoreInput(c.line); got != c.more {
			t.Fatalf("needMoreInput(%q) = %v, want %v", c.line, got, c.more)
		}
	}
}

func TestPseudoRewrite(t *testing.T) {
	if got, ok := pseudoRewrite("?ARGV"); !ok || got != `help("ARGV")` {
		t.Fatalf("帮助伪命令改写错误: %q %v", got, ok)
	}
	if got, ok := pseudoRewrite("!ls -l"); !ok || got != `execSystem("ls -l")` {
		t.Fatalf("外部命令伪命令改写错误: %q %v", got, ok)
	}
	if _, ok := pseudoRewrite("x = 1"); ok {
		t.Fatal("普通行不应被改写")
	}
	if _, ok := pseudoRewrite(""); ok {
		t.Fatal("空行不应被改写")
	}
}

func TestExecuteLineAccumulatesBlocks(t *testing.T) {
	a := newReadyAdapter(t, extlang.Config{})

	if a.ExecuteLine("function acc(n) {") {
		t.Fatal("块开启行应请求续行")
	}
	if a.ExecuteLine("  return n + 1") {
		t.Fatal("缩进行应请求续行")
	}
	if !a.ExecuteLine("}") {
		t.Fatal("块关闭行应完成执行")
	}
	if v, err := a.CalcExpr("acc(1)"); err != nil || v.Int() != 2 {
		t.Fatalf("多行块未生效: %s %v", v, err)
	}

	// 单行输入直接执行
	if !a.ExecuteLine("var oneLiner = 7") {
		t.Fatal("完整单行应立即执行")
	}
	if v, _ := a.CalcExpr("oneLiner"); v.Int() != 7 {
		t.Fatalf("单行执行未生效: %s", v)
	}
	// 空行无副作用
	if !a.ExecuteLine("") {
		t.Fatal("空行应视为完成")
	}
}

func TestExecuteLinePseudoCommands(t *testing.T) {
	a := newReadyAdapter(t, extlang.Config{})
	if !a.ExecuteLine("?ARGV") {
		t.Fatal("伪命令应立即执行")
	}
	// 伪命令只在新语句的首行生效：块内以 '?' 开头的行原样拼接
	if a.ExecuteLine("var q = [") {
		t.Fatal("应请求续行")
	}
	if !a.ExecuteLine("]") {
		t.Fatal("块应结束")
	}
}

func TestCompleteLinePrefixMatch(t *testing.T) {
	a := newReadyAdapter(t, extlang.Config{})
	if err := a.RunStatements("var alphaOne = 1; var alphaTwo = 2"); err != nil {
		t.Fatalf("准备失败: %v", err)
	}

	got, ok := a.CompleteLine("alpha", 0, "alpha", 5)
	if !ok || got != "alphaOne" {
		t.Fatalf("第 0 个候选错误: %q %v", got, ok)
	}
	got, ok = a.CompleteLine("alpha", 1, "alpha", 5)
	if !ok || got != "alphaTwo" {
		t.Fatalf("第 1 个候选错误: %q %v", got, ok)
	}
	if _, ok := a.CompleteLine("alpha", 2, "alpha", 5); ok {
		t.Fatal("候选耗尽后应返回 false")
	}
	if _, ok := a.CompleteLine("zzzNothing", 0, "", 0); ok {
		t.Fatal("无匹配时应返回 false")
	}
}

func TestCompleteLineDottedPath(t *testing.T) {
	a := newReadyAdapter(t, extlang.Config{})
	if err := a.RunStatements("var cc = {abc: 1, abd: 2, xyz: 3}"); err != nil {
		t.Fatalf("准备失败: %v", err)
	}

	got, ok := a.CompleteLine("cc.ab", 0, "cc.ab", 5)
	if !ok || got != "cc.abc" {
		t.Fatalf("点号路径候选错误: %q %v", got, ok)
	}
	got, ok = a.CompleteLine("cc.ab", 1, "cc.ab", 5)
	if !ok || got != "cc.abd" {
		t.Fatalf("点号路径候选错误: %q %v", got, ok)
	}
	if _, ok := a.CompleteLine("missing.ab", 0, "", 0); ok {
		t.Fatal("不可解析路径应返回 false")
	}
}

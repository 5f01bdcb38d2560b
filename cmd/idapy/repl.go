package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/zackorndorff/idapython/extlang"
)

var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "交互式控制台",
	Long: `进入交互式控制台。

单行表达式直接求值并打印结果。行尾是未闭合的括号或冒号、
或行首有缩进时进入续行模式，空行结束并整块执行。
以 ? 开头查看帮助，以 ! 开头执行系统命令。`,
	RunE: runRepl,
}

func init() {
	rootCmd.AddCommand(replCmd)
}

// langCompleter 把 readline 的补全回调桥到语言实现的 CompleteLine。
type langCompleter struct {
	console extlang.LineConsole
}

func isCompletionRune(r byte) bool {
	return r == '.' || r == '_' || r == '$' ||
		('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') || ('0' <= r && r <= '9')
}

func (c *langCompleter) Do(line []rune, pos int) ([][]rune, int) {
	head := string(line[:pos])
	start := len(head)
	for start > 0 && isCompletionRune(head[start-1]) {
		start--
	}
	prefix := head[start:]
	if prefix == "" {
		return nil, 0
	}
	var out [][]rune
	for n := 0; n < 64; n++ {
		cand, ok := c.console.CompleteLine(prefix, n, head, pos)
		if !ok {
			break
		}
		if len(cand) >= len(prefix) {
			out = append(out, []rune(cand[len(prefix):]))
		}
	}
	return out, len([]rune(prefix))
}

func runRepl(cmd *cobra.Command, args []string) error {
	lang, cleanup, err := buildLang(nil)
	if err != nil {
		return err
	}
	defer cleanup()

	console, _ := lang.(extlang.LineConsole)

	home, _ := os.UserHomeDir()
	rlCfg := &readline.Config{
		Prompt:            "JS> ",
		HistoryFile:       filepath.Join(home, ".idapy_history"),
		HistoryLimit:      1000,
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	}
	if console != nil {
		rlCfg.AutoComplete = &langCompleter{console: console}
	}
	rl, err := readline.NewEx(rlCfg)
	if err != nil {
		return err
	}
	defer rl.Close()

	fmt.Fprintf(os.Stderr, "idapy %s 控制台（exit 或 Ctrl+D 退出）\n", lang.Name())

	pending := false
	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				pending = false
				rl.SetPrompt("JS> ")
				continue
			}
			if err == io.EOF {
				fmt.Println()
				break
			}
			return err
		}

		if !pending {
			trimmed := strings.TrimSpace(line)
			if trimmed == "exit" || trimmed == "quit" {
				break
			}
		}

		done := true
		if console != nil {
			done = console.ExecuteLine(line)
		} else if strings.TrimSpace(line) != "" {
			if err := lang.RunStatements(line); err != nil {
				fmt.Fprintf(os.Stderr, "错误: %v\n", err)
			}
		}
		pending = !done
		if pending {
			rl.SetPrompt("... ")
		} else {
			rl.SetPrompt("JS> ")
		}
	}
	return nil
}

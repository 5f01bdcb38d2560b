package main

import (
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run <file> [args...]",
	Short: "执行脚本文件",
	Long: `在全局作用域执行脚本文件。

文件路径之后的参数原样发布给脚本侧的全局 ARGV，
ARGV[0] 是脚本路径自身。同一文件再次执行视为重载。`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	lang, cleanup, err := buildLang(args)
	if err != nil {
		return err
	}
	defer cleanup()
	return lang.CompileFile(args[0])
}

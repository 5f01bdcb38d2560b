package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/zackorndorff/idapython/extlang"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "idapy",
	Short: "JavaScript scripting host",
	Long: `idapy - 嵌入式 JavaScript 脚本宿主。

执行脚本文件或进入交互式控制台。脚本执行带协作式取消：
超过配置的超时后给出提示，Ctrl+C 在下一个安全点中断执行。`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "配置文件路径（默认 ~/.idapy.yaml）")
	rootCmd.PersistentFlags().String("engine", string(extlang.EngineGoja), "脚本引擎: goja, quickjs")
	rootCmd.PersistentFlags().Duration("script-timeout", 2*time.Second, "脚本执行超时，0 表示关闭取消轮询")
	rootCmd.PersistentFlags().String("module-dir", "", "模块搜索路径，多个目录以系统路径分隔符分隔")
	rootCmd.PersistentFlags().Bool("alert-auto-scripts", true, "启动时警告当前目录中会被自动执行的脚本")
	rootCmd.PersistentFlags().Bool("sanitize-paths", true, "清理模块搜索路径中的空目录项")

	_ = viper.BindPFlag("engine", rootCmd.PersistentFlags().Lookup("engine"))
	_ = viper.BindPFlag("script_timeout", rootCmd.PersistentFlags().Lookup("script-timeout"))
	_ = viper.BindPFlag("module_dir", rootCmd.PersistentFlags().Lookup("module-dir"))
	_ = viper.BindPFlag("alert_auto_scripts", rootCmd.PersistentFlags().Lookup("alert-auto-scripts"))
	_ = viper.BindPFlag("sanitize_paths", rootCmd.PersistentFlags().Lookup("sanitize-paths"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".idapy")
	}
	viper.SetEnvPrefix("IDAPY")
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()
}

// consoleWaitBox 把长耗时提示打到标准错误。
type consoleWaitBox struct{}

func (consoleWaitBox) Show(label string) {
	fmt.Fprintf(os.Stderr, "[%s... Ctrl+C 取消]\n", label)
}

func (consoleWaitBox) Hide() {}

// sigCancel 把 SIGINT 记为一次取消请求，供执行窗口轮询。
// 读取即消费，下一次执行不会被上一次的 Ctrl+C 误伤。
type sigCancel struct {
	flag atomic.Bool
}

func (c *sigCancel) Cancelled() bool {
	return c.flag.Swap(false)
}

func (c *sigCancel) Arm() func() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ch:
				c.flag.Store(true)
			case <-done:
				return
			}
		}
	}()
	return func() {
		signal.Stop(ch)
		close(done)
	}
}

// buildLang 按配置创建、初始化并选中外部语言，返回收尾函数。
func buildLang(argv []string) (extlang.ExtLang, func(), error) {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return nil, nil, err
	}

	cancel := &sigCancel{}
	cfg := extlang.Config{
		Name:             extlang.EngineName(viper.GetString("engine")),
		ModuleDir:        viper.GetString("module_dir"),
		Timeout:          viper.GetDuration("script_timeout"),
		AlertAutoScripts: viper.GetBool("alert_auto_scripts"),
		SanitizePaths:    viper.GetBool("sanitize_paths"),
		Argv:             argv,
		WaitBox:          consoleWaitBox{},
		Cancel:           cancel,
		Logger:           logger.Sugar(),
	}

	lang, err := extlang.New(cfg)
	if err != nil {
		return nil, nil, err
	}
	if err := lang.Init(context.Background(), cfg); err != nil {
		return nil, nil, err
	}
	extlang.Select(lang)

	disarm := cancel.Arm()
	cleanup := func() {
		disarm()
		_ = lang.Dispose()
		_ = logger.Sync()
	}
	return lang, cleanup, nil
}

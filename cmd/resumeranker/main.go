package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"resume-ranker/internal/config"
	"resume-ranker/internal/logger"
	"resume-ranker/internal/metrics"
	"resume-ranker/internal/tracing"

	"github.com/spf13/pflag"
)

var version = "1.0.0" //nolint:gochecknoglobals

// 命令行参数
type options struct {
	configPath  string
	jdPath      string
	input       string
	minioPrefix string
	publish     bool
	outPath     string
	command     string
	initConfig  string
}

func parseFlags() options {
	var o options
	pflag.StringVarP(&o.configPath, "config", "c", "", "配置文件路径，为空时依次查找默认位置")
	pflag.StringVar(&o.jdPath, "jd", "", "岗位描述文本文件 (必填)")
	pflag.StringVar(&o.input, "input", "", "简历文件或目录 (.pdf/.txt/.md)")
	pflag.StringVar(&o.minioPrefix, "minio-prefix", "", "从 MinIO 存储桶读取该前缀下的简历，与 --input 二选一")
	pflag.BoolVar(&o.publish, "publish", false, "把排序结果发布到 RabbitMQ")
	pflag.StringVar(&o.outPath, "out", "", "结果 JSON 输出文件，为空时写到标准输出")
	pflag.StringVar(&o.command, "cmd", "rank", "执行的命令: rank=抽取并排序, extract=仅抽取")
	pflag.StringVar(&o.initConfig, "init-config", "", "把默认配置写到该路径后退出")
	showVersion := pflag.BoolP("version", "v", false, "显示版本")
	pflag.Parse()

	if *showVersion {
		fmt.Println("resume-ranker", version)
		os.Exit(0)
	}
	return o
}

func main() {
	os.Exit(execute(parseFlags()))
}

// execute 返回进程退出码，保证 defer 中的清理在退出前执行
func execute(opts options) int {
	if opts.initConfig != "" {
		if err := config.WriteSampleConfig(opts.initConfig); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		fmt.Printf("示例配置已写入 %s\n", opts.initConfig)
		return 0
	}

	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		return 1
	}

	closer, err := logger.Init(cfg.Logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		return 1
	}
	if closer != nil {
		defer closer.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := tracing.InitProvider(ctx, cfg.Tracing)
	if err != nil {
		logger.Error().Err(err).Msg("初始化链路追踪失败")
		return 1
	}
	defer func() {
		if err := shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.Warn().Err(err).Msg("关闭链路追踪失败")
		}
	}()

	m := metrics.New(nil)
	if cfg.Metrics.ListenAddress != "" {
		go func() {
			if err := m.Serve(ctx, cfg.Metrics.ListenAddress); err != nil {
				logger.Error().Err(err).Str("addr", cfg.Metrics.ListenAddress).Msg("指标服务异常退出")
			}
		}()
	}

	if err := run(ctx, cfg, opts, m); err != nil {
		logger.Error().Err(err).Str("cmd", opts.command).Msg("执行失败")
		return 1
	}
	return 0
}

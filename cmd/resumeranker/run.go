package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"resume-ranker/internal/config"
	"resume-ranker/internal/logger"
	"resume-ranker/internal/metrics"
	"resume-ranker/internal/parser"
	"resume-ranker/internal/processor"
	"resume-ranker/internal/source"
	"resume-ranker/internal/storage"
	"resume-ranker/internal/types"
)

// extractResult --cmd extract 的输出
type extractResult struct {
	Candidates []*types.CandidateRecord `json:"candidates"`
	Failures   []*types.ErrorRecord     `json:"failures"`
}

func run(ctx context.Context, cfg *config.Config, opts options, m *metrics.Metrics) error {
	if opts.command != "rank" && opts.command != "extract" {
		return fmt.Errorf("未知命令 %q，支持 rank, extract", opts.command)
	}
	if (opts.input == "") == (opts.minioPrefix == "") {
		return errors.New("必须且只能指定 --input 或 --minio-prefix 之一")
	}
	if opts.publish && opts.command != "rank" {
		return errors.New("--publish 只能与 --cmd rank 一起使用")
	}

	jd, err := readJobDescription(opts.jdPath)
	if err != nil {
		return err
	}

	// 只连接本次运行需要的外部服务
	if opts.minioPrefix == "" {
		cfg.MinIO.Endpoint = ""
	}
	if !opts.publish {
		cfg.RabbitMQ.URL = ""
	}
	store, err := storage.NewStorage(ctx, cfg)
	if err != nil {
		if (opts.minioPrefix != "" && store.MinIO == nil) || (opts.publish && store.RabbitMQ == nil) {
			return fmt.Errorf("初始化存储失败: %w", err)
		}
		logger.Warn().Err(err).Msg("部分存储组件不可用，继续执行")
	}
	defer store.Close()

	pdf, err := parser.NewEinoPDFTextExtractor(ctx)
	if err != nil {
		return fmt.Errorf("创建PDF提取器失败: %w", err)
	}

	var src source.Source
	if opts.minioPrefix != "" {
		src = source.NewObjectSource(store.MinIO, opts.minioPrefix, pdf)
	} else {
		src = source.NewLocalSource(opts.input, pdf)
	}

	loadStart := time.Now()
	docs, loadFailures, err := src.Load(ctx)
	if err != nil {
		return fmt.Errorf("读取简历失败: %w", err)
	}
	for range loadFailures {
		m.ObserveDocument(false)
	}
	m.ObserveStage("load", loadStart)
	logger.Info().Int("documents", len(docs)).Int("unreadable", len(loadFailures)).Msg("简历读取完成")

	pipeline, err := processor.BuildPipeline(ctx, cfg, store, m)
	if err != nil {
		return err
	}

	if opts.command == "extract" {
		candidates, failures, err := pipeline.ExtractAll(ctx, docs, jd)
		if err != nil {
			return err
		}
		return writeJSON(opts.outPath, extractResult{
			Candidates: candidates,
			Failures:   append(loadFailures, failures...),
		})
	}

	result, err := pipeline.Run(ctx, docs, jd)
	if err != nil {
		return err
	}
	result.Failures = append(loadFailures, result.Failures...)
	if result.Failures == nil {
		result.Failures = []*types.ErrorRecord{}
	}

	if err := writeJSON(opts.outPath, result); err != nil {
		return err
	}
	if opts.publish {
		return pipeline.Publish(ctx, result)
	}
	return nil
}

func readJobDescription(path string) (string, error) {
	if path == "" {
		return "", errors.New("必须通过 --jd 指定岗位描述文件")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("读取岗位描述失败: %w", err)
	}
	jd := strings.TrimSpace(string(data))
	if jd == "" {
		return "", fmt.Errorf("岗位描述文件 %s 为空", path)
	}
	return jd, nil
}

func writeJSON(path string, v any) error {
	var out io.Writer = os.Stdout
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("创建输出文件失败: %w", err)
		}
		defer f.Close()
		out = f
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("写入结果失败: %w", err)
	}
	if path != "" {
		logger.Info().Str("file", path).Msg("结果已写入")
	}
	return nil
}

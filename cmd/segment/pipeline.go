package main

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/up-zero/gotool/imageutil"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/getcharzp/go-pointseg/mask"
	"github.com/getcharzp/go-pointseg/predictor"
	"github.com/getcharzp/go-pointseg/sam2"
	"github.com/getcharzp/go-pointseg/segment"
	"github.com/getcharzp/go-pointseg/store"
)

// pipeline 模型、预测器与分割服务的组合
type pipeline struct {
	engine    *sam2.Engine
	predictor *predictor.Predictor
	service   *segment.Service
	logger    *zap.Logger
}

func (a *app) newPipeline() (*pipeline, error) {
	engine, err := sam2.NewEngine(a.cfg.SAM2())
	if err != nil {
		return nil, err
	}
	p := predictor.New(engine, a.cfg.PredictorConfig(), a.logger)
	return &pipeline{
		engine:    engine,
		predictor: p,
		service:   segment.NewService(p, a.cfg.SegmentConfig(), a.logger),
		logger:    a.logger,
	}, nil
}

func (p *pipeline) Close() error {
	return p.engine.Destroy()
}

// openStore 连接 Redis，不可用时返回 nil
func (a *app) openStore(ctx context.Context) *store.MaskStore {
	s := store.New(a.cfg.Redis, a.logger)
	if err := s.Ping(ctx); err != nil {
		a.logger.Warn("redis unavailable, cache disabled", zap.String("addr", a.cfg.Redis.Addr), zap.Error(err))
		_ = s.Close()
		return nil
	}
	return s
}

// readImage 读取图片与原始字节
func readImage(path string) (image.Image, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("读取图片失败: %w", err)
	}
	img, err := imageutil.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("解码图片失败: %w", err)
	}
	return img, data, nil
}

// parsePoint 解析 "x,y" 或 "x,y,neg"
func parsePoint(s string) (predictor.Point, error) {
	parts := strings.Split(s, ",")
	if len(parts) < 2 || len(parts) > 3 {
		return predictor.Point{}, fmt.Errorf("提示点格式错误 %q，应为 x,y[,neg]", s)
	}
	x, errX := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	y, errY := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err := multierr.Combine(errX, errY); err != nil {
		return predictor.Point{}, fmt.Errorf("提示点坐标错误 %q: %w", s, err)
	}

	pt := predictor.Point{X: x, Y: y, Label: predictor.LabelPositive}
	if len(parts) == 3 {
		switch strings.TrimSpace(parts[2]) {
		case "neg", "-":
			pt.Label = predictor.LabelNegative
		case "pos", "+":
		default:
			return predictor.Point{}, fmt.Errorf("提示点类型错误 %q", parts[2])
		}
	}
	return pt, nil
}

func parsePoints(values []string) ([]predictor.Point, error) {
	points := make([]predictor.Point, 0, len(values))
	for _, v := range values {
		pt, err := parsePoint(v)
		if err != nil {
			return nil, err
		}
		points = append(points, pt)
	}
	return points, nil
}

// writeMask 以传输格式 PNG 写出 Mask
func writeMask(path string, m *mask.Mask) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("创建输出文件失败: %w", err)
	}
	return multierr.Append(mask.EncodePNG(f, m), f.Close())
}

// overlayPath mask.png -> mask_overlay.png
func overlayPath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "_overlay.png"
}

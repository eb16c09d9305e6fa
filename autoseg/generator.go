package autoseg

import (
	"context"
	"errors"
	"iter"
	"sort"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/getcharzp/go-pointseg/mask"
	"github.com/getcharzp/go-pointseg/predictor"
	"github.com/getcharzp/go-pointseg/segment"
)

// ErrStreamConsumed 流只能被遍历一次
var ErrStreamConsumed = errors.New("自动分割结果流已被消费")

// Segmenter 点提示分割能力，由 segment.Service 实现
type Segmenter interface {
	SegmentAtPoints(ctx context.Context, emb predictor.Embeddings, points []predictor.Point) (*segment.Result, error)
}

// Segment 自动分割得到的单个 Mask 及其提示点
type Segment struct {
	*segment.Result
	Point predictor.Point
}

// Batch 一批网格点的分割结果
type Batch struct {
	Masks        []*Segment
	Progress     float64 // 已处理点数 / 总点数
	BatchIndex   int
	TotalBatches int
}

// Generator 网格采样自动分割
type Generator struct {
	segmenter  Segmenter
	config     Config
	logger     *zap.Logger
	onProgress func(done, total int)
}

// NewGenerator 创建自动分割器
func NewGenerator(s Segmenter, cfg Config, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PointsPerSide <= 0 {
		cfg.PointsPerSide = DefaultConfig().PointsPerSide
	}
	if cfg.PointsPerBatch <= 0 {
		cfg.PointsPerBatch = DefaultConfig().PointsPerBatch
	}
	return &Generator{
		segmenter: s,
		config:    cfg,
		logger:    logger.Named("autoseg"),
	}
}

// OnProgress 每处理完一个点回调一次，需在 Generate 之前设置
func (g *Generator) OnProgress(fn func(done, total int)) {
	g.onProgress = fn
}

// Grid 以单元格中心为采样点的 n x n 网格
func Grid(n, w, h int) []predictor.Point {
	points := make([]predictor.Point, 0, n*n)
	for j := 0; j < n; j++ {
		for i := 0; i < n; i++ {
			points = append(points, predictor.Point{
				X:     (float64(i) + 0.5) * float64(w) / float64(n),
				Y:     (float64(j) + 0.5) * float64(h) / float64(n),
				Label: predictor.LabelPositive,
			})
		}
	}
	return points
}

// Stream 惰性、有限、只能消费一次的批次序列
type Stream struct {
	gen      *Generator
	ctx      context.Context
	emb      predictor.Embeddings
	w, h     int
	progress func(done, total int)
	consumed atomic.Bool
}

// Generate 生成自动分割流，遍历时才开始计算
func (g *Generator) Generate(ctx context.Context, emb predictor.Embeddings, w, h int) *Stream {
	return &Stream{
		gen:      g,
		ctx:      ctx,
		emb:      emb,
		w:        w,
		h:        h,
		progress: g.onProgress,
	}
}

// GenerateAll 计算全部批次并返回所有输出过的 Mask
func (g *Generator) GenerateAll(ctx context.Context, emb predictor.Embeddings, w, h int) ([]*Segment, error) {
	var out []*Segment
	for batch, err := range g.Generate(ctx, emb, w, h).All() {
		if err != nil {
			return out, err
		}
		out = append(out, batch.Masks...)
	}
	return out, nil
}

// All 逐批返回结果，出错时返回错误并结束
func (s *Stream) All() iter.Seq2[*Batch, error] {
	return func(yield func(*Batch, error) bool) {
		if !s.consumed.CompareAndSwap(false, true) {
			yield(nil, ErrStreamConsumed)
			return
		}
		s.run(yield)
	}
}

func (s *Stream) run(yield func(*Batch, error) bool) {
	g := s.gen
	cfg := g.config
	points := Grid(cfg.PointsPerSide, s.w, s.h)
	total := len(points)
	totalBatches := (total + cfg.PointsPerBatch - 1) / cfg.PointsPerBatch
	imageArea := float64(s.w * s.h)

	var running []*Segment
	done := 0
	for b := 0; b < totalBatches; b++ {
		start := b * cfg.PointsPerBatch
		end := min(start+cfg.PointsPerBatch, total)

		var accepted []*Segment
		for _, pt := range points[start:end] {
			if err := s.ctx.Err(); err != nil {
				yield(nil, err)
				return
			}

			res, err := g.segmenter.SegmentAtPoints(s.ctx, s.emb, []predictor.Point{pt})
			done++
			if s.progress != nil {
				s.progress(done, total)
			}
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					yield(nil, err)
					return
				}
				g.logger.Warn("point skipped", zap.Float64("x", pt.X), zap.Float64("y", pt.Y), zap.Error(err))
				continue
			}
			if !g.accept(res, imageArea) {
				continue
			}
			accepted = append(accepted, &Segment{Result: res, Point: pt})
		}

		all := make([]*Segment, 0, len(running)+len(accepted))
		all = append(append(all, running...), accepted...)
		boxes := make([]mask.Rect, len(all))
		scores := make([]float64, len(all))
		for i, seg := range all {
			boxes[i] = seg.BBox
			scores[i] = seg.Score
		}
		keep := NonMaxSuppression(boxes, scores, cfg.BoxNMSThresh)

		running = make([]*Segment, 0, len(keep))
		var survivors []*Segment
		for _, i := range sortedInts(keep) {
			running = append(running, all[i])
			if i >= len(all)-len(accepted) {
				survivors = append(survivors, all[i])
			}
		}

		batch := &Batch{
			Masks:        survivors,
			Progress:     float64(done) / float64(total),
			BatchIndex:   b,
			TotalBatches: totalBatches,
		}
		g.logger.Debug("batch done",
			zap.Int("batch", b),
			zap.Int("accepted", len(accepted)),
			zap.Int("yielded", len(survivors)),
			zap.Int("running", len(running)))
		if !yield(batch, nil) {
			return
		}
	}
}

// accept 自动模式的过滤条件
func (g *Generator) accept(res *segment.Result, imageArea float64) bool {
	cfg := g.config
	if res.Score < cfg.PredIoUThresh || res.Stability < cfg.StabilityScoreThresh {
		return false
	}
	ratio := float64(res.Area) / imageArea
	return ratio >= cfg.MinMaskAreaRatio && ratio <= cfg.MaxMaskAreaRatio
}

// sortedInts 按原始顺序排列下标
func sortedInts(idx []int) []int {
	out := append([]int(nil), idx...)
	sort.Ints(out)
	return out
}

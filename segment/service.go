package segment

import (
	"context"
	"image"
	"math"

	"go.uber.org/zap"

	"github.com/getcharzp/go-pointseg/guided"
	"github.com/getcharzp/go-pointseg/mask"
	"github.com/getcharzp/go-pointseg/predictor"
)

// Result 点提示分割结果
type Result struct {
	Mask      *mask.Mask
	BBox      mask.Rect
	Score     float64 // 模型自评 IoU
	Stability float64
	Quality   float64
	Area      int
}

// Service 点提示分割服务
type Service struct {
	predictor *predictor.Predictor
	config    Config
	logger    *zap.Logger
}

// NewService 创建分割服务
func NewService(p *predictor.Predictor, cfg Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		predictor: p,
		config:    cfg,
		logger:    logger.Named("segment"),
	}
}

// Config 当前配置
func (s *Service) Config() Config {
	return s.config
}

// Predictor 底层模型会话
func (s *Service) Predictor() *predictor.Predictor {
	return s.predictor
}

// SegmentAtPoints 根据提示点分割，返回全分辨率 Mask
func (s *Service) SegmentAtPoints(ctx context.Context, emb predictor.Embeddings, points []predictor.Point) (*Result, error) {
	return s.Segment(ctx, emb, points, nil)
}

// Segment 与 SegmentAtPoints 相同，guide 不为空且开启 GuidedRefine 时额外做引导滤波
//
// # Params:
//
//	emb: 图片特征
//	points: 源图坐标的提示点，至少一个
//	guide: 源图亮度 (guided.Luminance)，可为 nil
func (s *Service) Segment(ctx context.Context, emb predictor.Embeddings, points []predictor.Point, guide []float64) (*Result, error) {
	if len(points) == 0 {
		return nil, predictor.ErrEmptyPoints
	}
	if emb == nil || emb.Released() {
		return nil, predictor.ErrNoEmbeddings
	}
	cfg := s.config
	imgW, imgH := emb.Size()

	// 1. 解码并选出候选
	best, err := s.predictor.Best(ctx, emb, points)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("decoded", zap.Int("candidate", best.Index), zap.Float64("quality", best.Quality))

	// 2. logits 平滑
	logits := best.Logits
	if cfg.Sigma > 0 {
		logits = guided.GaussianBlur(logits, best.Width, best.Height, cfg.Sigma)
	}

	// 3. 上采样并二值化
	m := upsample(logits, best.Width, best.Height, imgW, imgH, cfg.LogitThreshold)
	s.logger.Debug("binarized", zap.Int("area", m.Area()))

	// 4. 只保留正向点所在的连通域
	m = mask.KeepComponentsContainingPoints(m, positives(points, imgW, imgH))
	s.logger.Debug("components kept", zap.Int("area", m.Area()))

	// 5. 闭运算
	if cfg.CloseRadius > 0 {
		m = mask.Close(m, cfg.CloseRadius)
		s.logger.Debug("closed", zap.Int("area", m.Area()))
	}

	// 5b. 引导滤波
	if cfg.GuidedRefine && len(guide) == imgW*imgH {
		m = guided.Refine(m, guide, cfg.GuidedRadius, cfg.GuidedEps)
		s.logger.Debug("refined", zap.Int("area", m.Area()))
	}

	// 6. 边缘吸附
	m = mask.SnapToImageEdges(m, cfg.Snap)

	// 7. 从最终结果重新计算
	res := &Result{
		Mask:      m,
		BBox:      m.BBox(),
		Score:     best.IoU,
		Stability: best.Stability,
		Quality:   best.Quality,
		Area:      m.Area(),
	}
	s.logger.Debug("segmented",
		zap.Int("points", len(points)),
		zap.Int("area", res.Area),
		zap.Any("bbox", res.BBox))
	return res, nil
}

// positives 正向点转换为像素坐标，越界的点被截断到图内
func positives(points []predictor.Point, w, h int) []image.Point {
	out := make([]image.Point, 0, len(points))
	for _, p := range points {
		if !p.Positive() {
			continue
		}
		pt := p.ImagePoint()
		pt.X = min(max(pt.X, 0), w-1)
		pt.Y = min(max(pt.Y, 0), h-1)
		out = append(out, pt)
	}
	return out
}

// upsample 双线性插值到 dstW x dstH 并按阈值二值化
func upsample(logits []float32, srcW, srcH, dstW, dstH int, threshold float32) *mask.Mask {
	m := mask.New(dstW, dstH)
	if srcW == 0 || srcH == 0 {
		return m
	}
	sx := float64(srcW) / float64(dstW)
	sy := float64(srcH) / float64(dstH)

	for y := 0; y < dstH; y++ {
		fy := math.Max((float64(y)+0.5)*sy-0.5, 0)
		y0 := min(int(fy), srcH-1)
		y1 := min(y0+1, srcH-1)
		wy := float32(fy - float64(y0))

		for x := 0; x < dstW; x++ {
			fx := math.Max((float64(x)+0.5)*sx-0.5, 0)
			x0 := min(int(fx), srcW-1)
			x1 := min(x0+1, srcW-1)
			wx := float32(fx - float64(x0))

			top := logits[y0*srcW+x0]*(1-wx) + logits[y0*srcW+x1]*wx
			bottom := logits[y1*srcW+x0]*(1-wx) + logits[y1*srcW+x1]*wx
			if top*(1-wy)+bottom*wy > threshold {
				m.Pix[y*dstW+x] = mask.On
			}
		}
	}
	return m
}

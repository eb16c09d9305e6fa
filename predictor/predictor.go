package predictor

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"

	"go.uber.org/zap"
)

// Predictor 模型会话: 编码、解码并为候选 Mask 打分
type Predictor struct {
	backend Backend
	config  Config
	logger  *zap.Logger
}

// New 创建模型会话
func New(backend Backend, cfg Config, logger *zap.Logger) *Predictor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Predictor{
		backend: backend,
		config:  cfg,
		logger:  logger.Named("predictor"),
	}
}

// Config 当前配置
func (p *Predictor) Config() Config {
	return p.config
}

// Encode 图像特征提取
func (p *Predictor) Encode(ctx context.Context, img image.Image) (Embeddings, error) {
	emb, err := p.backend.Encode(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingCompute, err)
	}
	if emb == nil {
		return nil, fmt.Errorf("%w: 后端未返回特征", ErrEmbeddingCompute)
	}
	w, h := emb.Size()
	p.logger.Debug("image encoded", zap.Int("width", w), zap.Int("height", h))
	return emb, nil
}

// Decode 解码并为每个候选计算质量指标
func (p *Predictor) Decode(ctx context.Context, emb Embeddings, points []Point) ([]Candidate, error) {
	if emb == nil || emb.Released() {
		return nil, ErrNoEmbeddings
	}
	if len(points) == 0 {
		return nil, ErrEmptyPoints
	}

	out, err := p.backend.Decode(ctx, emb, points)
	if err != nil {
		if errors.Is(err, ErrInvalidModelOutput) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if err := validate(out); err != nil {
		return nil, err
	}

	cfg := p.config
	pixels := out.MaskW * out.MaskH
	cands := make([]Candidate, len(out.IoU))
	for i := range out.IoU {
		logits := crop(out.Logits[i*pixels:(i+1)*pixels], out.MaskW, out.ValidW, out.ValidH)

		c := Candidate{
			Index:       i,
			Logits:      logits,
			Width:       out.ValidW,
			Height:      out.ValidH,
			IoU:         float64(out.IoU[i]),
			Stability:   StabilityScore(logits, cfg.MaskThreshold, cfg.StabilityOffset),
			Compactness: Compactness(logits, out.ValidW, out.ValidH, cfg.MaskThreshold),
			Coverage:    Coverage(logits, cfg.MaskThreshold),
		}
		c.Quality = QualityScore(c.IoU, c.Stability, c.Compactness, c.Coverage, cfg.CoverageEpsilon)
		cands[i] = c
	}
	return cands, nil
}

// Best 解码并按选择策略返回最终候选
func (p *Predictor) Best(ctx context.Context, emb Embeddings, points []Point) (Candidate, error) {
	cands, err := p.Decode(ctx, emb, points)
	if err != nil {
		return Candidate{}, err
	}
	idx, qualified := Select(cands, p.config.Thresholds)
	best := cands[idx]
	p.logger.Debug("candidate selected",
		zap.Int("index", best.Index),
		zap.Bool("qualified", qualified),
		zap.Float64("iou", best.IoU),
		zap.Float64("stability", best.Stability),
		zap.Float64("compactness", best.Compactness),
		zap.Float64("quality", best.Quality))
	return best, nil
}

// validate 检查解码输出的形状
func validate(out *Output) error {
	if out == nil {
		return fmt.Errorf("%w: 输出为空", ErrInvalidModelOutput)
	}
	n := len(out.IoU)
	if n == 0 {
		return fmt.Errorf("%w: 缺少 iou_scores", ErrInvalidModelOutput)
	}
	if out.MaskW <= 0 || out.MaskH <= 0 {
		return fmt.Errorf("%w: mask 尺寸 %dx%d", ErrInvalidModelOutput, out.MaskW, out.MaskH)
	}
	if len(out.Logits) != n*out.MaskW*out.MaskH {
		return fmt.Errorf("%w: logits 长度 %d, 期望 %d", ErrInvalidModelOutput, len(out.Logits), n*out.MaskW*out.MaskH)
	}
	if out.ValidW <= 0 || out.ValidH <= 0 || out.ValidW > out.MaskW || out.ValidH > out.MaskH {
		return fmt.Errorf("%w: 有效区域 %dx%d", ErrInvalidModelOutput, out.ValidW, out.ValidH)
	}
	for _, v := range out.IoU {
		if math.IsNaN(float64(v)) {
			return fmt.Errorf("%w: iou 为 NaN", ErrInvalidModelOutput)
		}
	}
	return nil
}

// crop 从 stride 宽的 logits 中取出左上角 w*h 的有效区域
func crop(logits []float32, stride, w, h int) []float32 {
	out := make([]float32, w*h)
	for y := 0; y < h; y++ {
		copy(out[y*w:(y+1)*w], logits[y*stride:y*stride+w])
	}
	return out
}

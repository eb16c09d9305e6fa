package predictor

import (
	"context"
	"errors"
	"image"
)

// Label 提示点类型
type Label int

const (
	LabelNegative    Label = 0 // 背景/排除
	LabelPositive    Label = 1 // 前景/点击
	LabelBoxTopLeft  Label = 2 // 框选左上
	LabelBoxBotRight Label = 3 // 框选右下
)

// Point 源图像素坐标下的提示点
type Point struct {
	X, Y  float64
	Label Label
}

// Positive 是否为前景点
func (p Point) Positive() bool {
	return p.Label == LabelPositive
}

// ImagePoint 向下取整后的像素坐标
func (p Point) ImagePoint() image.Point {
	return image.Pt(int(p.X), int(p.Y))
}

var (
	// ErrEmbeddingCompute 图片特征计算失败 (模型加载、内存不足、后端不可用)
	ErrEmbeddingCompute = errors.New("图片特征计算失败")
	// ErrDecode Mask 解码运行失败
	ErrDecode = errors.New("mask 解码失败")
	// ErrInvalidModelOutput 模型输出缺失或形状错误
	ErrInvalidModelOutput = errors.New("模型输出无效")
	// ErrEmptyPoints 没有提示点
	ErrEmptyPoints = errors.New("至少需要一个提示点")
	// ErrNoEmbeddings 解码前必须先计算图片特征
	ErrNoEmbeddings = errors.New("图片特征不存在或已销毁")
)

// Embeddings 单张图片的特征缓存，对调用方不透明
type Embeddings interface {
	// Size 源图尺寸
	Size() (w, h int)
	// Release 释放特征，可重复调用
	Release() error
	// Released 是否已释放
	Released() bool
}

// Output 解码器原始输出
type Output struct {
	// IoU 每个候选 Mask 的模型自评 IoU
	IoU []float32
	// Logits 按候选顺序排列的 MaskW*MaskH logits
	Logits []float32
	// MaskW, MaskH 低分辨率 Mask 尺寸
	MaskW, MaskH int
	// ValidW, ValidH 对应源图内容的有效区域 (其余为填充)
	ValidW, ValidH int
}

// Backend 模型运行时，负责编码与解码
type Backend interface {
	// Encode 图像特征提取，开销大，结果由调用方缓存
	Encode(ctx context.Context, img image.Image) (Embeddings, error)
	// Decode 根据提示点解码出多个候选 Mask
	Decode(ctx context.Context, emb Embeddings, points []Point) (*Output, error)
}

// Candidate 单个候选 Mask 及其质量指标
type Candidate struct {
	Index int
	// Logits 裁剪到有效区域后的 logits，尺寸 Width*Height
	Logits        []float32
	Width, Height int

	IoU         float64 // 模型自评
	Stability   float64 // 阈值扰动下的稳定性
	Compactness float64 // 边界碎片程度的反向度量
	Coverage    float64 // 前景占比
	Quality     float64 // 综合得分
}

// Thresholds 候选 Mask 的合格阈值
type Thresholds struct {
	IoU         float64
	Stability   float64
	Compactness float64
}

// Accepts 候选是否满足全部阈值
func (t Thresholds) Accepts(c Candidate) bool {
	return c.IoU >= t.IoU && c.Stability >= t.Stability && c.Compactness >= t.Compactness
}

// Config 模型会话配置
type Config struct {
	MaskThreshold   float32    // 计算指标时使用的 logit 阈值 (默认 0)
	StabilityOffset float32    // 稳定性的阈值偏移 (默认 1.0)
	CoverageEpsilon float64    // 覆盖率低于该值时质量减半 (默认 0.001)
	Thresholds      Thresholds // 合格阈值
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		MaskThreshold:   0,
		StabilityOffset: 1.0,
		CoverageEpsilon: 1e-3,
		Thresholds: Thresholds{
			IoU:         0.65,
			Stability:   0.88,
			Compactness: 0.85,
		},
	}
}

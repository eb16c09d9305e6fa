// Package predictortest 提供用于测试的模型后端
package predictortest

import (
	"context"
	"image"
	"sync"
	"sync/atomic"

	"github.com/getcharzp/go-pointseg/predictor"
)

// Embeddings 假特征
type Embeddings struct {
	W, H     int
	released atomic.Bool
}

// NewEmbeddings 创建指定源图尺寸的假特征
func NewEmbeddings(w, h int) *Embeddings {
	return &Embeddings{W: w, H: h}
}

func (e *Embeddings) Size() (int, int) { return e.W, e.H }

func (e *Embeddings) Release() error {
	e.released.Store(true)
	return nil
}

func (e *Embeddings) Released() bool { return e.released.Load() }

// Backend 可注入行为的模型后端
type Backend struct {
	EncodeFunc func(ctx context.Context, img image.Image) (predictor.Embeddings, error)
	DecodeFunc func(ctx context.Context, emb predictor.Embeddings, points []predictor.Point) (*predictor.Output, error)

	mu      sync.Mutex
	encodes int
	decodes int
	calls   [][]predictor.Point
}

// Encode 默认返回与图片同尺寸的假特征
func (b *Backend) Encode(ctx context.Context, img image.Image) (predictor.Embeddings, error) {
	b.mu.Lock()
	b.encodes++
	b.mu.Unlock()
	if b.EncodeFunc != nil {
		return b.EncodeFunc(ctx, img)
	}
	return NewEmbeddings(img.Bounds().Dx(), img.Bounds().Dy()), nil
}

// Decode 默认返回全前景的单个候选
func (b *Backend) Decode(ctx context.Context, emb predictor.Embeddings, points []predictor.Point) (*predictor.Output, error) {
	b.mu.Lock()
	b.decodes++
	b.calls = append(b.calls, append([]predictor.Point(nil), points...))
	b.mu.Unlock()
	if b.DecodeFunc != nil {
		return b.DecodeFunc(ctx, emb, points)
	}
	return Uniform(16, 16, 0.95, 10), nil
}

// EncodeCount Encode 调用次数
func (b *Backend) EncodeCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.encodes
}

// DecodeCount Decode 调用次数
func (b *Backend) DecodeCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.decodes
}

// Calls 每次 Decode 收到的提示点
func (b *Backend) Calls() [][]predictor.Point {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]predictor.Point(nil), b.calls...)
}

// Uniform 单个候选，所有 logits 取同一值
func Uniform(w, h int, iou float32, logit float32) *predictor.Output {
	logits := make([]float32, w*h)
	for i := range logits {
		logits[i] = logit
	}
	return &predictor.Output{
		IoU:    []float32{iou},
		Logits: logits,
		MaskW:  w, MaskH: h,
		ValidW: w, ValidH: h,
	}
}

// Rect 单个候选，[x0,x1)x[y0,y1) 内 logits 为 inside，其余为 outside
func Rect(w, h int, iou float32, x0, y0, x1, y1 int, inside, outside float32) *predictor.Output {
	out := Uniform(w, h, iou, outside)
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			out.Logits[y*w+x] = inside
		}
	}
	return out
}

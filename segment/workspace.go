package segment

import (
	"context"
	"fmt"
	"image"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/getcharzp/go-pointseg/guided"
	"github.com/getcharzp/go-pointseg/predictor"
)

// Listener 图片特征就绪/失败通知
type Listener interface {
	EmbeddingsReady(docID string)
	EmbeddingsFailed(docID string, err error)
}

// document 已打开文档的特征缓存
type document struct {
	img   image.Image
	gen   uint64
	emb   predictor.Embeddings
	guide []float64
}

// Workspace 每个文档一份图片特征，显式创建与销毁
type Workspace struct {
	predictor *predictor.Predictor
	logger    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	group  singleflight.Group

	mu        sync.Mutex
	docs      map[string]*document
	gen       uint64
	listeners []Listener
}

// NewWorkspace 创建工作区
func NewWorkspace(p *predictor.Predictor, logger *zap.Logger) *Workspace {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Workspace{
		predictor: p,
		logger:    logger.Named("workspace"),
		ctx:       ctx,
		cancel:    cancel,
		docs:      make(map[string]*document),
	}
}

// AddListener 注册特征就绪通知
func (w *Workspace) AddListener(l Listener) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.listeners = append(w.listeners, l)
}

// Open 打开文档，已存在时替换并释放旧特征
func (w *Workspace) Open(docID string, img image.Image) error {
	w.mu.Lock()
	old := w.docs[docID]
	w.gen++
	w.docs[docID] = &document{img: img, gen: w.gen}
	w.mu.Unlock()

	w.logger.Debug("document opened", zap.String("doc", docID), zap.Bool("replaced", old != nil))
	if old != nil && old.emb != nil {
		return old.emb.Release()
	}
	return nil
}

// Close 关闭文档并释放特征
func (w *Workspace) Close(docID string) error {
	w.mu.Lock()
	d, ok := w.docs[docID]
	delete(w.docs, docID)
	w.mu.Unlock()

	if !ok {
		return ErrDocumentNotOpen
	}
	w.logger.Debug("document closed", zap.String("doc", docID))
	if d.emb != nil {
		return d.emb.Release()
	}
	return nil
}

// Ready 文档特征是否已就绪
func (w *Workspace) Ready(docID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	d, ok := w.docs[docID]
	return ok && d.emb != nil && !d.emb.Released()
}

// Embeddings 获取已就绪的特征
func (w *Workspace) Embeddings(docID string) (predictor.Embeddings, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	d, ok := w.docs[docID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotOpen, docID)
	}
	if d.emb == nil {
		return nil, predictor.ErrNoEmbeddings
	}
	return d.emb, nil
}

// Image 文档原图
func (w *Workspace) Image(docID string) (image.Image, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	d, ok := w.docs[docID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotOpen, docID)
	}
	return d.img, nil
}

// Embed 同步计算特征，同一文档的并发调用只计算一次
func (w *Workspace) Embed(ctx context.Context, docID string) (predictor.Embeddings, error) {
	w.mu.Lock()
	d, ok := w.docs[docID]
	if !ok {
		w.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotOpen, docID)
	}
	if d.emb != nil {
		emb := d.emb
		w.mu.Unlock()
		return emb, nil
	}
	key := fmt.Sprintf("%s#%d", docID, d.gen)
	w.mu.Unlock()

	v, err, _ := w.group.Do(key, func() (any, error) {
		return w.compute(ctx, docID, d)
	})
	if err != nil {
		return nil, err
	}
	return v.(predictor.Embeddings), nil
}

// Prepare 异步计算特征，结果通过 Listener 通知
func (w *Workspace) Prepare(docID string) {
	go func() {
		_, _ = w.Embed(w.ctx, docID)
	}()
}

func (w *Workspace) compute(ctx context.Context, docID string, d *document) (predictor.Embeddings, error) {
	emb, err := w.predictor.Encode(ctx, d.img)

	w.mu.Lock()
	current := w.docs[docID] == d
	if err == nil && current {
		d.emb = emb
	}
	listeners := append([]Listener(nil), w.listeners...)
	w.mu.Unlock()

	if err != nil {
		w.logger.Warn("embedding failed", zap.String("doc", docID), zap.Error(err))
		for _, l := range listeners {
			l.EmbeddingsFailed(docID, err)
		}
		return nil, err
	}
	if !current {
		// 计算期间文档已被关闭或替换
		_ = emb.Release()
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotOpen, docID)
	}

	w.logger.Info("embedding ready", zap.String("doc", docID))
	for _, l := range listeners {
		l.EmbeddingsReady(docID)
	}
	return emb, nil
}

// Guide 文档亮度图，首次调用时计算
func (w *Workspace) Guide(docID string) ([]float64, error) {
	w.mu.Lock()
	d, ok := w.docs[docID]
	if !ok {
		w.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotOpen, docID)
	}
	if d.guide != nil {
		g := d.guide
		w.mu.Unlock()
		return g, nil
	}
	w.mu.Unlock()

	g, _, _ := guided.Luminance(d.img)

	w.mu.Lock()
	d.guide = g
	w.mu.Unlock()
	return g, nil
}

// Destroy 释放全部文档的特征
func (w *Workspace) Destroy() error {
	w.cancel()

	w.mu.Lock()
	docs := w.docs
	w.docs = make(map[string]*document)
	w.mu.Unlock()

	var err error
	for id, d := range docs {
		if d.emb == nil {
			continue
		}
		if rErr := d.emb.Release(); rErr != nil {
			err = multierr.Append(err, fmt.Errorf("释放 %s 的特征失败: %w", id, rErr))
		}
	}
	return err
}

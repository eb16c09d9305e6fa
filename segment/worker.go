package segment

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/getcharzp/go-pointseg/predictor"
)

// Response 解码结果，ID 与 Submit 返回的关联 ID 一致
type Response struct {
	ID     uuid.UUID
	DocID  string
	Result *Result
	Err    error
}

type request struct {
	id     uuid.UUID
	docID  string
	points []predictor.Point
	reply  chan Response
}

// Worker 独占解码槽的后台 goroutine，请求与结果通过消息传递
type Worker struct {
	service   *Service
	workspace *Workspace
	logger    *zap.Logger

	requests chan request

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	stopped chan struct{}
}

// NewWorker 创建解码 worker，需要调用 Start 后才会处理请求
func NewWorker(service *Service, workspace *Workspace, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		service:   service,
		workspace: workspace,
		logger:    logger.Named("worker"),
		requests:  make(chan request, 16),
		stopped:   make(chan struct{}),
	}
}

// Start 启动处理循环，重复调用无效
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done != nil {
		return
	}
	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	go w.loop(ctx, w.done)
}

// Stop 停止处理循环并等待退出，未处理的请求收到 ErrWorkerStopped
func (w *Worker) Stop() {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	select {
	case <-w.stopped:
	default:
		close(w.stopped)
	}
	w.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// Submit 提交解码请求，结果写入容量为 1 的 channel，调用方放弃等待不会阻塞 worker
func (w *Worker) Submit(docID string, points []predictor.Point) (uuid.UUID, <-chan Response) {
	req := request{
		id:     uuid.New(),
		docID:  docID,
		points: append([]predictor.Point(nil), points...),
		reply:  make(chan Response, 1),
	}
	if len(points) == 0 {
		req.reply <- Response{ID: req.id, DocID: docID, Err: predictor.ErrEmptyPoints}
		return req.id, req.reply
	}

	// 与 Stop 互斥，保证停止前入队的请求都会被 drain 回复
	w.mu.Lock()
	defer w.mu.Unlock()
	select {
	case <-w.stopped:
		req.reply <- Response{ID: req.id, DocID: docID, Err: ErrWorkerStopped}
	default:
		w.requests <- req
	}
	return req.id, req.reply
}

// Ready 文档特征是否已就绪
func (w *Worker) Ready(docID string) bool {
	return w.workspace.Ready(docID)
}

// Prepare 触发文档特征计算
func (w *Worker) Prepare(docID string) {
	w.workspace.Prepare(docID)
}

func (w *Worker) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			w.drain()
			return
		case req := <-w.requests:
			req.reply <- w.handle(ctx, req)
		}
	}
}

func (w *Worker) handle(ctx context.Context, req request) Response {
	resp := Response{ID: req.id, DocID: req.docID}

	emb, err := w.workspace.Embeddings(req.docID)
	if err != nil {
		resp.Err = err
		return resp
	}
	var guide []float64
	if w.service.Config().GuidedRefine {
		if guide, err = w.workspace.Guide(req.docID); err != nil {
			resp.Err = err
			return resp
		}
	}

	resp.Result, resp.Err = w.service.Segment(ctx, emb, req.points, guide)
	if resp.Err != nil {
		w.logger.Warn("segment failed",
			zap.String("id", req.id.String()),
			zap.String("doc", req.docID),
			zap.Error(resp.Err))
	}
	return resp
}

// drain 停止后回复所有排队中的请求
func (w *Worker) drain() {
	for {
		select {
		case req := <-w.requests:
			req.reply <- Response{ID: req.id, DocID: req.docID, Err: ErrWorkerStopped}
		default:
			return
		}
	}
}

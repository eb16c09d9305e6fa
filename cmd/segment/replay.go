package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/getcharzp/go-pointseg/hittest"
	"github.com/getcharzp/go-pointseg/mask"
	"github.com/getcharzp/go-pointseg/predictor"
	"github.com/getcharzp/go-pointseg/segment"
	"github.com/getcharzp/go-pointseg/selection"
	"github.com/getcharzp/go-pointseg/store"
)

var errReplayTimeout = errors.New("等待会话事件超时")

// replayHost 无界面宿主，已有 Mask 来自 Redis，确认结果写回 Redis 与文件
type replayHost struct {
	logger *zap.Logger
	store  *store.MaskStore
	outDir string

	mu       sync.Mutex
	existing []existingMask

	events chan hostEvent
}

type existingMask struct {
	rendered selection.RenderedMask
	bbox     mask.Rect
}

type hostEvent struct {
	preview   *segment.Result
	spotlight string
	selected  string
	confirmed bool
	err       error
}

func newReplayHost(ms *store.MaskStore, outDir string, logger *zap.Logger) *replayHost {
	return &replayHost{
		logger: logger,
		store:  ms,
		outDir: outDir,
		events: make(chan hostEvent, 32),
	}
}

// loadExisting 从 Redis 读取文档已有 Mask，并写入命中测试栅格缓存
func (h *replayHost) loadExisting(ctx context.Context, docID string, w, hgt int, rasters *hittest.Cache) error {
	if h.store == nil {
		return nil
	}
	ids, err := h.store.ListMasks(ctx, docID)
	if err != nil {
		return err
	}
	for _, id := range ids {
		enc, err := h.store.LoadMask(ctx, docID, id)
		if err != nil {
			return err
		}
		m, err := enc.Decode()
		if err != nil {
			return err
		}
		rasters.PutMask(id, m)

		h.mu.Lock()
		h.existing = append(h.existing, existingMask{
			rendered: selection.RenderedMask{
				ID:   id,
				Kind: selection.KindObject,
				Rect: hittest.Rect{W: float64(w), H: float64(hgt)},
			},
			bbox: enc.BBox,
		})
		h.mu.Unlock()
	}
	h.logger.Info("existing masks loaded", zap.String("doc", docID), zap.Int("count", len(ids)))
	return nil
}

// ScreenToImage 回放时屏幕坐标即源图坐标
func (h *replayHost) ScreenToImage(x, y float64) (float64, float64) {
	return x, y
}

func (h *replayHost) MasksAt(x, y float64) []selection.RenderedMask {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []selection.RenderedMask
	for _, m := range slices.Backward(h.existing) {
		b := m.bbox
		if x >= float64(b.X) && x < float64(b.X+b.W) && y >= float64(b.Y) && y < float64(b.Y+b.H) {
			out = append(out, m.rendered)
		}
	}
	return out
}

func (h *replayHost) Entered(docID string) {
	h.logger.Debug("session entered", zap.String("doc", docID))
}

func (h *replayHost) Exited() {
	h.logger.Debug("session exited")
}

func (h *replayHost) Confirm(docID string, res *segment.Result) {
	id := uuid.NewString()
	err := writeMask(filepath.Join(h.outDir, id+".png"), res.Mask)
	if err == nil && h.store != nil {
		err = h.store.SaveMask(context.Background(), docID, id, res.Mask)
	}
	if err != nil {
		h.logger.Error("failed to persist mask", zap.String("doc", docID), zap.Error(err))
	} else {
		h.logger.Info("mask confirmed", zap.String("doc", docID), zap.String("id", id), zap.Int("area", res.Area))
	}
	h.send(hostEvent{confirmed: true, err: err})
}

func (h *replayHost) SelectExisting(id string) {
	h.logger.Info("existing mask selected", zap.String("id", id))
	h.send(hostEvent{selected: id})
}

func (h *replayHost) Preview(res *segment.Result) {
	if res == nil {
		return
	}
	h.logger.Debug("preview", zap.Int("area", res.Area), zap.Float64("quality", res.Quality))
	h.send(hostEvent{preview: res})
}

func (h *replayHost) Spotlight(id string, precision hittest.Precision) {
	if id == "" {
		return
	}
	h.logger.Debug("spotlight", zap.String("id", id), zap.Stringer("precision", precision))
	h.send(hostEvent{spotlight: id})
}

func (h *replayHost) Error(err error) {
	h.send(hostEvent{err: err})
}

// send 投递事件，回调在会话 goroutine 中执行，队列满时丢弃
func (h *replayHost) send(ev hostEvent) {
	select {
	case h.events <- ev:
	default:
		h.logger.Warn("host event dropped", zap.Bool("confirmed", ev.confirmed), zap.String("selected", ev.selected))
	}
}

// wait 等待满足条件的事件，错误事件直接返回
func (h *replayHost) wait(ctx context.Context, timeout time.Duration, match func(hostEvent) bool) (hostEvent, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case ev := <-h.events:
			if ev.err != nil {
				return ev, ev.err
			}
			if match(ev) {
				return ev, nil
			}
		case <-timer.C:
			return hostEvent{}, errReplayTimeout
		case <-ctx.Done():
			return hostEvent{}, ctx.Err()
		}
	}
}

func (a *app) selectCmd(c *cli.Context) error {
	ctx := c.Context
	clicks := c.StringSlice(flagClick)
	hover := c.String(flagHover)
	if len(clicks) == 0 && hover == "" {
		return fmt.Errorf("至少需要 --%s 或 --%s", flagClick, flagHover)
	}

	img, data, err := readImage(c.String(flagImage))
	if err != nil {
		return err
	}
	docID := c.String(flagDocID)
	if docID == "" {
		docID = store.BytesMD5(data)
	}

	p, err := a.newPipeline()
	if err != nil {
		return err
	}
	defer p.Close()

	ws := segment.NewWorkspace(p.predictor, a.logger)
	defer ws.Destroy()
	if err := ws.Open(docID, img); err != nil {
		return err
	}

	worker := segment.NewWorker(p.service, ws, a.logger)
	worker.Start(ctx)
	defer worker.Stop()

	ms := a.openStore(ctx)
	if ms != nil {
		defer ms.Close()
	}
	host := newReplayHost(ms, c.String(flagOutDir), a.logger.Named("host"))
	rasters := hittest.NewCache(50*time.Millisecond, func() {
		a.logger.Debug("hit-test rasters ready")
	})
	b := img.Bounds()
	if err := host.loadExisting(ctx, docID, b.Dx(), b.Dy(), rasters); err != nil {
		return err
	}

	selCfg := a.cfg.SelectionConfig()
	sess := selection.New(host, worker, rasters, selCfg, a.logger)
	ws.AddListener(sess)

	// 首次请求需要等待特征计算
	timeout := selCfg.RequestTimeout + time.Minute

	sess.Enter(docID)
	defer sess.Exit()

	if hover != "" {
		pt, err := parsePoint(hover)
		if err != nil {
			return err
		}
		sess.MoveCursor(pt.X, pt.Y, selection.Modifiers{})
		ev, err := host.wait(ctx, timeout, func(ev hostEvent) bool {
			return ev.preview != nil || ev.spotlight != ""
		})
		if err != nil {
			return err
		}
		if ev.spotlight != "" {
			a.logger.Info("hover on existing mask", zap.String("id", ev.spotlight))
		}
	}

	for _, click := range clicks {
		pt, err := parsePoint(click)
		if err != nil {
			return err
		}
		sess.HandleClick(pt.X, pt.Y, selection.Modifiers{Negative: pt.Label == predictor.LabelNegative})
		if _, err := host.wait(ctx, timeout, func(ev hostEvent) bool { return ev.preview != nil }); err != nil {
			return fmt.Errorf("点击 %s: %w", click, err)
		}
	}

	a.logger.Info("replay done",
		zap.Stringer("state", sess.State()),
		zap.String("points", formatPoints(sess.LockedPoints())),
	)

	if !c.Bool(flagConfirm) {
		return nil
	}
	hasPreview := sess.Preview() != nil
	spotID, _ := sess.Spotlight()
	sess.ConfirmPending()
	if !hasPreview && spotID == "" {
		return errors.New("没有可确认的 Mask")
	}
	ev, err := host.wait(ctx, time.Second, func(ev hostEvent) bool {
		return ev.confirmed || ev.selected != ""
	})
	if err != nil {
		return err
	}
	if ev.selected != "" {
		fmt.Println(ev.selected)
	}
	return nil
}

func formatPoints(points []predictor.Point) string {
	parts := make([]string, 0, len(points))
	for _, pt := range points {
		s := fmt.Sprintf("%.0f,%.0f", pt.X, pt.Y)
		if !pt.Positive() {
			s += ",neg"
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, " ")
}

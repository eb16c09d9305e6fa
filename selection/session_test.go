package selection_test

import (
	"image"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/getcharzp/go-pointseg/hittest"
	"github.com/getcharzp/go-pointseg/mask"
	"github.com/getcharzp/go-pointseg/predictor"
	"github.com/getcharzp/go-pointseg/segment"
	"github.com/getcharzp/go-pointseg/selection"
)

const waitFor = time.Second

type submission struct {
	id     uuid.UUID
	points []predictor.Point
	reply  chan segment.Response
}

// fakeSegmenter 手动回复的分割端口
type fakeSegmenter struct {
	mu       sync.Mutex
	ready    bool
	prepares int
	subs     []submission
}

func (f *fakeSegmenter) Ready(string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

func (f *fakeSegmenter) setReady(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ready = v
}

func (f *fakeSegmenter) Prepare(string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prepares++
}

func (f *fakeSegmenter) Submit(_ string, points []predictor.Point) (uuid.UUID, <-chan segment.Response) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub := submission{id: uuid.New(), points: points, reply: make(chan segment.Response, 1)}
	f.subs = append(f.subs, sub)
	return sub.id, sub.reply
}

func (f *fakeSegmenter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *fakeSegmenter) sub(i int) submission {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subs[i]
}

func (f *fakeSegmenter) respond(i int, res *segment.Result, err error) {
	s := f.sub(i)
	s.reply <- segment.Response{ID: s.id, Result: res, Err: err}
}

// fakeHost 屏幕坐标即源图坐标
type fakeHost struct {
	mu        sync.Mutex
	masks     []selection.RenderedMask
	entered   int
	exited    int
	confirmed []*segment.Result
	selected  []string
	previews  []*segment.Result
	spots     []string
	errs      []error
}

func (h *fakeHost) ScreenToImage(x, y float64) (float64, float64) { return x, y }

func (h *fakeHost) MasksAt(x, y float64) []selection.RenderedMask {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []selection.RenderedMask
	for _, m := range h.masks {
		if m.Rect.Contains(x, y) {
			out = append(out, m)
		}
	}
	return out
}

func (h *fakeHost) Entered(string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entered++
}

func (h *fakeHost) Exited() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.exited++
}

func (h *fakeHost) Confirm(_ string, res *segment.Result) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.confirmed = append(h.confirmed, res)
}

func (h *fakeHost) SelectExisting(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.selected = append(h.selected, id)
}

func (h *fakeHost) Preview(res *segment.Result) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.previews = append(h.previews, res)
}

func (h *fakeHost) Spotlight(id string, _ hittest.Precision) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.spots = append(h.spots, id)
}

func (h *fakeHost) Error(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errs = append(h.errs, err)
}

func (h *fakeHost) snapshot() fakeHost {
	h.mu.Lock()
	defer h.mu.Unlock()
	return fakeHost{
		entered:   h.entered,
		exited:    h.exited,
		confirmed: append([]*segment.Result(nil), h.confirmed...),
		selected:  append([]string(nil), h.selected...),
		previews:  append([]*segment.Result(nil), h.previews...),
		spots:     append([]string(nil), h.spots...),
		errs:      append([]error(nil), h.errs...),
	}
}

func newSession(t *testing.T, rasters *hittest.Cache) (*selection.Session, *fakeHost, *fakeSegmenter, *clock.Mock) {
	t.Helper()
	clk := clock.NewMock()
	cfg := selection.DefaultConfig()
	cfg.Clock = clk
	host := &fakeHost{}
	seg := &fakeSegmenter{ready: true}
	s := selection.New(host, seg, rasters, cfg, nil)
	t.Cleanup(s.Exit)
	return s, host, seg, clk
}

func result(area int) *segment.Result {
	m := mask.New(10, 10)
	return &segment.Result{Mask: m, Area: area}
}

func TestSession_SingleFlightCoalescing(t *testing.T) {
	s, _, seg, _ := newSession(t, nil)
	s.Enter("doc")

	s.MoveCursor(10, 10, selection.Modifiers{})
	s.Tick()
	require.Equal(t, 1, seg.count())

	// 在途期间的三个意图
	s.MoveCursor(20, 20, selection.Modifiers{})
	s.Tick()
	s.MoveCursor(30, 30, selection.Modifiers{})
	s.Tick()
	s.HandleClick(40, 40, selection.Modifiers{})
	require.Equal(t, 1, seg.count())

	seg.respond(0, result(1), nil)
	require.Eventually(t, func() bool { return seg.count() == 2 }, waitFor, time.Millisecond)

	// 最新意图获胜
	require.Equal(t, []predictor.Point{{X: 40, Y: 40, Label: predictor.LabelPositive}}, seg.sub(1).points)

	seg.respond(1, result(2), nil)
	require.Eventually(t, func() bool { return s.Preview() != nil && s.Preview().Area == 2 }, waitFor, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 2, seg.count())
	require.Equal(t, selection.StatePendingConfirmation, s.State())
}

func TestSession_StaleResponseDiscarded(t *testing.T) {
	s, host, seg, _ := newSession(t, nil)
	s.Enter("doc")
	s.MoveCursor(5, 5, selection.Modifiers{})
	s.Tick()
	require.Equal(t, 1, seg.count())

	s.Exit()
	require.Equal(t, selection.StateInactive, s.State())

	// 重新进入后旧请求的结果也不能生效
	s.Enter("doc")
	seg.respond(0, result(7), nil)
	time.Sleep(20 * time.Millisecond)

	require.Nil(t, s.Preview())
	require.Equal(t, selection.StateSpotlighting, s.State())
	snap := host.snapshot()
	require.Empty(t, snap.previews)
	require.Equal(t, 2, snap.entered)
	require.Equal(t, 1, snap.exited)
}

func TestSession_IdenticalCursorPromptNotResubmitted(t *testing.T) {
	s, _, seg, _ := newSession(t, nil)
	s.Enter("doc")
	s.MoveCursor(5, 5, selection.Modifiers{})
	s.Tick()
	seg.respond(0, result(1), nil)
	require.Eventually(t, func() bool { return s.Preview() != nil }, waitFor, time.Millisecond)

	s.Tick()
	s.Tick()
	require.Equal(t, 1, seg.count())

	// 按住负向修饰键时提示点为负向
	s.MoveCursor(5, 5, selection.Modifiers{Negative: true})
	s.Tick()
	require.Equal(t, 2, seg.count())
	require.Equal(t, predictor.LabelNegative, seg.sub(1).points[0].Label)
}

func TestSession_TickerDrivesSegmentation(t *testing.T) {
	s, _, seg, clk := newSession(t, nil)
	s.Enter("doc")
	s.MoveCursor(3, 3, selection.Modifiers{})

	require.Eventually(t, func() bool {
		clk.Add(100 * time.Millisecond)
		return seg.count() == 1
	}, waitFor, time.Millisecond)
}

func TestSession_RequestTimeout(t *testing.T) {
	s, host, seg, clk := newSession(t, nil)
	s.Enter("doc")
	s.MoveCursor(3, 3, selection.Modifiers{})
	s.Tick()
	require.Equal(t, 1, seg.count())

	clk.Add(selection.DefaultConfig().RequestTimeout)
	require.Eventually(t, func() bool { return len(host.snapshot().errs) == 1 }, waitFor, time.Millisecond)
	require.ErrorIs(t, host.snapshot().errs[0], segment.ErrRequestTimeout)
	require.True(t, s.Active())

	// 超时后的迟到结果被丢弃，下一次 tick 重新发起
	seg.respond(0, result(1), nil)
	s.Tick()
	require.Equal(t, 2, seg.count())
	time.Sleep(20 * time.Millisecond)
	require.Nil(t, s.Preview())
}

func TestSession_DecodeFailureKeepsState(t *testing.T) {
	s, host, seg, _ := newSession(t, nil)
	s.Enter("doc")
	s.HandleClick(4, 4, selection.Modifiers{})
	seg.respond(0, result(3), nil)
	require.Eventually(t, func() bool { return s.Preview() != nil }, waitFor, time.Millisecond)
	prev := s.Preview()

	s.HandleClick(6, 6, selection.Modifiers{})
	require.Equal(t, 2, seg.count())
	seg.respond(1, nil, predictor.ErrDecode)
	require.Eventually(t, func() bool { return len(host.snapshot().errs) == 1 }, waitFor, time.Millisecond)

	require.Same(t, prev, s.Preview())
	require.Equal(t, selection.StateMultiPoint, s.State())
	require.Len(t, s.LockedPoints(), 2)
}

func TestSession_WaitsForEmbeddings(t *testing.T) {
	s, _, seg, _ := newSession(t, nil)
	seg.setReady(false)
	s.Enter("doc")
	s.MoveCursor(3, 3, selection.Modifiers{})
	s.Tick()
	s.Tick()
	require.Zero(t, seg.count())
	seg.mu.Lock()
	require.Equal(t, 3, seg.prepares)
	seg.mu.Unlock()

	s.EmbeddingsReady("other")
	require.Zero(t, seg.count())

	seg.setReady(true)
	s.EmbeddingsReady("doc")
	require.Equal(t, 1, seg.count())
}

func TestSession_SpotlightExistingMask(t *testing.T) {
	raster := image.NewAlpha(image.Rect(0, 0, 20, 20))
	for y := 0; y < 10; y++ {
		for x := 0; x < 10; x++ {
			raster.Pix[y*raster.Stride+x] = 255
		}
	}
	rasters := hittest.NewCache(time.Millisecond, nil)
	rasters.Put("obj", raster)

	s, host, seg, _ := newSession(t, rasters)
	host.masks = []selection.RenderedMask{
		{ID: "label", Kind: selection.KindText, Rect: hittest.Rect{X: 30, Y: 0, W: 10, H: 10}},
		{ID: "obj", Kind: selection.KindObject, Rect: hittest.Rect{X: 0, Y: 0, W: 20, H: 20}},
	}
	s.Enter("doc")

	// 像素命中: 高亮且不发起分割
	s.MoveCursor(5, 5, selection.Modifiers{})
	s.Tick()
	id, prec := s.Spotlight()
	require.Equal(t, "obj", id)
	require.Equal(t, hittest.PrecisionPixel, prec)
	require.Zero(t, seg.count())

	// 透明区域: 未命中，发起分割
	s.MoveCursor(15, 15, selection.Modifiers{})
	s.Tick()
	id, _ = s.Spotlight()
	require.Empty(t, id)
	require.Equal(t, 1, seg.count())

	// 文本 Mask 按外接矩形命中，同时发起分割
	seg.respond(0, result(1), nil)
	require.Eventually(t, func() bool { return s.Preview() != nil }, waitFor, time.Millisecond)
	s.MoveCursor(35, 5, selection.Modifiers{})
	s.Tick()
	id, prec = s.Spotlight()
	require.Equal(t, "label", id)
	require.Equal(t, hittest.PrecisionBBox, prec)
	require.Equal(t, 2, seg.count())

	// 回到像素命中后确认，选中已有 Mask
	seg.respond(1, result(9), nil)
	require.Eventually(t, func() bool { return s.Preview().Area == 9 }, waitFor, time.Millisecond)
	s.MoveCursor(2, 2, selection.Modifiers{})
	s.Tick()
	require.Nil(t, s.Preview())
	s.ConfirmPending()

	snap := host.snapshot()
	require.Equal(t, []string{"obj"}, snap.selected)
	require.Empty(t, snap.confirmed)
	require.Equal(t, 1, snap.exited)
	require.False(t, s.Active())
}

func TestSession_ClickUndoConfirm(t *testing.T) {
	s, host, seg, _ := newSession(t, nil)
	s.Enter("doc")
	require.Equal(t, selection.StateSpotlighting, s.State())

	s.HandleClick(10, 10, selection.Modifiers{})
	require.Equal(t, selection.StateMultiPoint, s.State())
	require.Equal(t, 1, seg.count())
	seg.respond(0, result(1), nil)
	require.Eventually(t, func() bool { return s.State() == selection.StatePendingConfirmation }, waitFor, time.Millisecond)

	s.HandleClick(20, 20, selection.Modifiers{Negative: true})
	require.Equal(t, selection.StateMultiPoint, s.State())
	require.Equal(t, 2, seg.count())
	require.Equal(t, []predictor.Point{
		{X: 10, Y: 10, Label: predictor.LabelPositive},
		{X: 20, Y: 20, Label: predictor.LabelNegative},
	}, seg.sub(1).points)
	seg.respond(1, result(2), nil)
	require.Eventually(t, func() bool { return s.Preview().Area == 2 }, waitFor, time.Millisecond)

	// 撤销后以更短的点集重新发起
	s.UndoLastPoint()
	require.Equal(t, 3, seg.count())
	require.Len(t, seg.sub(2).points, 1)

	// 撤销到没有锁定点: 清除预览，在途结果被丢弃
	s.UndoLastPoint()
	require.Equal(t, selection.StateSpotlighting, s.State())
	require.Nil(t, s.Preview())
	seg.respond(2, result(3), nil)
	time.Sleep(20 * time.Millisecond)
	require.Nil(t, s.Preview())

	s.HandleClick(30, 30, selection.Modifiers{})
	require.Eventually(t, func() bool { return seg.count() == 4 }, waitFor, time.Millisecond)
	final := result(4)
	seg.respond(3, final, nil)
	require.Eventually(t, func() bool { return s.Preview() == final }, waitFor, time.Millisecond)

	s.ConfirmPending()
	snap := host.snapshot()
	require.Len(t, snap.confirmed, 1)
	require.Same(t, final, snap.confirmed[0])
	require.Equal(t, selection.StateInactive, s.State())
	require.Empty(t, s.LockedPoints())

	// 未激活时的输入被忽略
	s.HandleClick(1, 1, selection.Modifiers{})
	require.Equal(t, 4, seg.count())
}

func TestSession_ConfirmWithoutPendingExits(t *testing.T) {
	s, host, _, _ := newSession(t, nil)
	s.Enter("doc")
	s.ConfirmPending()
	snap := host.snapshot()
	require.Empty(t, snap.confirmed)
	require.Empty(t, snap.selected)
	require.Equal(t, 1, snap.exited)
}

func existingMaskSession(t *testing.T) (*selection.Session, *fakeHost, *fakeSegmenter) {
	t.Helper()
	raster := image.NewAlpha(image.Rect(0, 0, 40, 40))
	for i := range raster.Pix {
		raster.Pix[i] = 255
	}
	rasters := hittest.NewCache(time.Millisecond, nil)
	rasters.Put("existing", raster)

	s, host, seg, _ := newSession(t, rasters)
	host.masks = []selection.RenderedMask{
		{ID: "existing", Kind: selection.KindObject, Rect: hittest.Rect{X: 100, Y: 100, W: 40, H: 40}},
	}
	s.Enter("doc")
	return s, host, seg
}

func TestSession_PixelHitDiscardsInFlightHover(t *testing.T) {
	s, host, seg := existingMaskSession(t)

	s.MoveCursor(10, 10, selection.Modifiers{})
	s.Tick()
	require.Equal(t, 1, seg.count())

	// 请求在途时光标移到已有 Mask 上
	s.MoveCursor(120, 120, selection.Modifiers{})
	s.Tick()
	id, prec := s.Spotlight()
	require.Equal(t, "existing", id)
	require.Equal(t, hittest.PrecisionPixel, prec)

	seg.respond(0, result(5), nil)
	require.Never(t, func() bool { return s.Preview() != nil }, 50*time.Millisecond, time.Millisecond)

	s.ConfirmPending()
	snap := host.snapshot()
	require.Equal(t, []string{"existing"}, snap.selected)
	require.Empty(t, snap.confirmed)
}

func TestSession_HoverBackAfterPixelHitResegments(t *testing.T) {
	s, _, seg := existingMaskSession(t)

	s.MoveCursor(10, 10, selection.Modifiers{})
	s.Tick()
	seg.respond(0, result(5), nil)
	require.Eventually(t, func() bool { return s.Preview() != nil }, waitFor, time.Millisecond)

	s.MoveCursor(120, 120, selection.Modifiers{})
	s.Tick()
	require.Nil(t, s.Preview())

	// 回到相同坐标，需要重新分割
	s.MoveCursor(10, 10, selection.Modifiers{})
	s.Tick()
	require.Equal(t, 2, seg.count())
	id, _ := s.Spotlight()
	require.Empty(t, id)

	seg.respond(1, result(6), nil)
	require.Eventually(t, func() bool {
		p := s.Preview()
		return p != nil && p.Area == 6
	}, waitFor, time.Millisecond)
}

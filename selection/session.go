// Package selection 交互式选区状态机
//
// 宿主只转发光标、点击与按键，会话自行驱动定时 tick、命中测试与异步分割。
// 任意时刻最多只有一个解码请求在途，期间产生的新意图合并为一次后续请求。
package selection

import (
	"image"
	"slices"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/getcharzp/go-pointseg/hittest"
	"github.com/getcharzp/go-pointseg/predictor"
	"github.com/getcharzp/go-pointseg/segment"
)

// Session 交互式选区会话，同一时刻只有一个处于激活状态
type Session struct {
	host      Host
	segmenter Segmenter
	rasters   *hittest.Cache
	clock     clock.Clock
	config    Config
	logger    *zap.Logger

	mu      sync.Mutex
	effects []func()

	state  State
	active bool
	docID  string
	gen    uint64
	stop   chan struct{}

	cursorX, cursorY float64
	cursorSet        bool
	mods             Modifiers
	locked           []predictor.Point

	inFlight     bool
	requestID    uuid.UUID
	discard      bool
	needsSegment bool
	lastPrompt   []predictor.Point

	preview       *segment.Result
	spotlightID   string
	spotlightPrec hittest.Precision
}

// New 创建会话
//
// # Params:
//
//	host: 宿主 UI
//	seg: 异步分割端口
//	rasters: 已有 Mask 的栅格缓存，可为 nil (此时按外接矩形命中)
func New(host Host, seg Segmenter, rasters *hittest.Cache, cfg Config, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = def.TickInterval
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Session{
		host:      host,
		segmenter: seg,
		rasters:   rasters,
		clock:     clk,
		config:    cfg,
		logger:    logger.Named("selection"),
	}
}

// do 在会话锁内执行 fn，解锁后再依次执行产生的宿主回调
func (s *Session) do(fn func()) {
	s.mu.Lock()
	fn()
	effects := s.effects
	s.effects = nil
	s.mu.Unlock()

	for _, e := range effects {
		e()
	}
}

func (s *Session) emit(e func()) {
	s.effects = append(s.effects, e)
}

// Enter 激活会话，已激活时先退出
func (s *Session) Enter(docID string) {
	s.do(func() {
		if s.active {
			s.exitLocked()
		}
		s.active = true
		s.state = StateSpotlighting
		s.docID = docID
		s.gen++
		s.stop = make(chan struct{})

		ticker := s.clock.Ticker(s.config.TickInterval)
		go s.tickLoop(ticker, s.stop, s.gen)

		s.logger.Debug("entered", zap.String("doc", docID))
		s.emit(func() { s.host.Entered(docID) })
		if !s.segmenter.Ready(docID) {
			s.segmenter.Prepare(docID)
		}
	})
}

// Exit 退出会话
func (s *Session) Exit() {
	s.do(s.exitLocked)
}

func (s *Session) exitLocked() {
	if !s.active {
		return
	}
	close(s.stop)
	s.stop = nil
	s.active = false
	s.state = StateInactive
	s.gen++
	s.cursorSet = false
	s.mods = Modifiers{}
	s.locked = nil
	s.inFlight = false
	s.requestID = uuid.Nil
	s.discard = false
	s.needsSegment = false
	s.lastPrompt = nil
	s.preview = nil
	s.spotlightID = ""
	s.spotlightPrec = hittest.PrecisionNone

	s.logger.Debug("exited", zap.String("doc", s.docID))
	s.emit(s.host.Exited)
}

func (s *Session) tickLoop(ticker *clock.Ticker, stop chan struct{}, gen uint64) {
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.tick(gen)
		}
	}
}

// Tick 执行一次 tick，通常由内部定时器驱动
func (s *Session) Tick() {
	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()
	s.tick(gen)
}

func (s *Session) tick(gen uint64) {
	s.do(func() {
		if !s.active || s.gen != gen {
			return
		}
		if len(s.locked) == 0 {
			if !s.cursorSet {
				return
			}
			id, prec := s.hitTest(s.cursorX, s.cursorY)
			s.setSpotlight(id, prec)
			if prec == hittest.PrecisionPixel {
				// 在途的悬停请求对应旧的光标位置，到达后丢弃
				s.discard = s.inFlight
				s.lastPrompt = nil
				s.setPreview(nil)
				return
			}
		} else {
			s.setSpotlight("", hittest.PrecisionNone)
		}
		s.fire()
	})
}

// MoveCursor 更新光标位置 (屏幕坐标) 与修饰键，由下一次 tick 处理
func (s *Session) MoveCursor(x, y float64, mods Modifiers) {
	s.do(func() {
		if !s.active {
			return
		}
		s.cursorX, s.cursorY = x, y
		s.cursorSet = true
		s.mods = mods
	})
}

// HandleClick 在屏幕坐标处锁定一个点
func (s *Session) HandleClick(x, y float64, mods Modifiers) {
	s.do(func() {
		if !s.active {
			return
		}
		ix, iy := s.host.ScreenToImage(x, y)
		s.locked = append(s.locked, predictor.Point{X: ix, Y: iy, Label: mods.label()})
		s.mods = mods
		s.state = StateMultiPoint
		s.setSpotlight("", hittest.PrecisionNone)
		s.needsSegment = true
		s.fire()
	})
}

// UndoLastPoint 撤销最近一个锁定点
func (s *Session) UndoLastPoint() {
	s.do(func() {
		if !s.active || len(s.locked) == 0 {
			return
		}
		s.locked = s.locked[:len(s.locked)-1]
		if len(s.locked) == 0 {
			s.state = StateSpotlighting
			s.setPreview(nil)
			s.needsSegment = false
			s.lastPrompt = nil
			// 在途结果对应旧的点集，到达后丢弃
			s.discard = s.inFlight
			return
		}
		s.state = StateMultiPoint
		s.needsSegment = true
		s.fire()
	})
}

// ConfirmPending 提交待确认的 Mask，或选中像素级高亮的已有 Mask，然后退出
func (s *Session) ConfirmPending() {
	s.do(func() {
		if !s.active {
			return
		}
		switch {
		case s.preview != nil:
			s.state = StatePendingConfirmation
			docID, res := s.docID, s.preview
			s.logger.Info("confirmed", zap.String("doc", docID), zap.Int("area", res.Area))
			s.emit(func() { s.host.Confirm(docID, res) })
		case s.spotlightID != "" && s.spotlightPrec == hittest.PrecisionPixel:
			id := s.spotlightID
			s.emit(func() { s.host.SelectExisting(id) })
		}
		s.exitLocked()
	})
}

// EmbeddingsReady 文档特征就绪，有待处理的意图时立即发起
func (s *Session) EmbeddingsReady(docID string) {
	s.do(func() {
		if !s.active || docID != s.docID || !s.needsSegment {
			return
		}
		s.fire()
	})
}

// EmbeddingsFailed 文档特征计算失败，下一次 tick 会重试
func (s *Session) EmbeddingsFailed(docID string, err error) {
	s.do(func() {
		if !s.active || docID != s.docID {
			return
		}
		s.logger.Warn("embedding failed", zap.String("doc", docID), zap.Error(err))
		s.emit(func() { s.host.Error(err) })
	})
}

// fire 发起分割或合并到下一次请求
func (s *Session) fire() {
	if !s.segmenter.Ready(s.docID) {
		s.needsSegment = true
		s.segmenter.Prepare(s.docID)
		return
	}
	if s.inFlight {
		s.needsSegment = true
		return
	}

	points := s.prompt()
	if len(points) == 0 {
		return
	}
	if !s.needsSegment && slices.Equal(points, s.lastPrompt) {
		return
	}

	s.needsSegment = false
	s.inFlight = true
	s.discard = false
	s.lastPrompt = points

	id, ch := s.segmenter.Submit(s.docID, points)
	s.requestID = id
	timer := s.clock.Timer(s.config.RequestTimeout)
	s.logger.Debug("segment submitted", zap.String("id", id.String()), zap.Int("points", len(points)))
	go s.await(s.gen, id, ch, timer)
}

func (s *Session) prompt() []predictor.Point {
	if len(s.locked) > 0 {
		return slices.Clone(s.locked)
	}
	if !s.cursorSet {
		return nil
	}
	ix, iy := s.host.ScreenToImage(s.cursorX, s.cursorY)
	return []predictor.Point{{X: ix, Y: iy, Label: s.mods.label()}}
}

func (s *Session) await(gen uint64, id uuid.UUID, ch <-chan segment.Response, timer *clock.Timer) {
	defer timer.Stop()

	var resp segment.Response
	select {
	case resp = <-ch:
	case <-timer.C:
		resp = segment.Response{ID: id, Err: segment.ErrRequestTimeout}
	}
	s.complete(gen, resp)
}

// complete 处理解码结果，会话已退出或请求已过期时直接丢弃
func (s *Session) complete(gen uint64, resp segment.Response) {
	s.do(func() {
		if !s.active || s.gen != gen || !s.inFlight || s.requestID != resp.ID {
			s.logger.Debug("stale response dropped", zap.String("id", resp.ID.String()))
			return
		}
		s.inFlight = false
		s.requestID = uuid.Nil
		discard := s.discard
		s.discard = false

		switch {
		case resp.Err != nil:
			s.lastPrompt = nil
			s.logger.Warn("segment failed", zap.String("id", resp.ID.String()), zap.Error(resp.Err))
			err := resp.Err
			s.emit(func() { s.host.Error(err) })
		case discard:
		default:
			s.setPreview(resp.Result)
			if s.state == StateMultiPoint && !s.needsSegment {
				s.state = StatePendingConfirmation
			}
		}

		if s.needsSegment {
			s.fire()
		}
	})
}

func (s *Session) hitTest(x, y float64) (string, hittest.Precision) {
	for _, m := range s.host.MasksAt(x, y) {
		var hit bool
		var prec hittest.Precision
		if m.Kind == KindText {
			hit, prec = hittest.InRect(x, y, m.Rect)
		} else {
			var raster *image.Alpha
			if s.rasters != nil {
				raster, _ = s.rasters.Get(m.ID)
			}
			hit, prec = hittest.Test(x, y, m.Rect, raster)
		}
		if hit {
			return m.ID, prec
		}
	}
	return "", hittest.PrecisionNone
}

func (s *Session) setSpotlight(id string, prec hittest.Precision) {
	if id == s.spotlightID && prec == s.spotlightPrec {
		return
	}
	s.spotlightID, s.spotlightPrec = id, prec
	s.emit(func() { s.host.Spotlight(id, prec) })
}

func (s *Session) setPreview(res *segment.Result) {
	if res == s.preview {
		return
	}
	s.preview = res
	s.emit(func() { s.host.Preview(res) })
}

// State 当前状态
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Active 是否激活
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// LockedPoints 已锁定的点 (源图坐标)
func (s *Session) LockedPoints() []predictor.Point {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.locked)
}

// Preview 当前预览结果
func (s *Session) Preview() *segment.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.preview
}

// Spotlight 当前高亮的已有 Mask
func (s *Session) Spotlight() (string, hittest.Precision) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spotlightID, s.spotlightPrec
}

package selection

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/getcharzp/go-pointseg/hittest"
	"github.com/getcharzp/go-pointseg/predictor"
	"github.com/getcharzp/go-pointseg/segment"
)

// State 会话状态
type State int

const (
	StateInactive            State = iota // 未激活
	StateSpotlighting                     // 激活，没有锁定点
	StateMultiPoint                       // 激活，至少一个锁定点
	StatePendingConfirmation              // 有待确认的 Mask
)

func (s State) String() string {
	switch s {
	case StateSpotlighting:
		return "spotlighting"
	case StateMultiPoint:
		return "multi-point"
	case StatePendingConfirmation:
		return "pending-confirmation"
	default:
		return "inactive"
	}
}

// MaskKind 已渲染 Mask 的类型
type MaskKind int

const (
	KindObject MaskKind = iota
	KindText
	KindManual
)

// RenderedMask 画面上已有的 Mask
type RenderedMask struct {
	ID   string
	Kind MaskKind
	Rect hittest.Rect // 屏幕矩形
}

// Modifiers 按键修饰状态
type Modifiers struct {
	Negative bool // 按住时点为负向点
}

func (m Modifiers) label() predictor.Label {
	if m.Negative {
		return predictor.LabelNegative
	}
	return predictor.LabelPositive
}

// Host 宿主 UI
//
// ScreenToImage 与 MasksAt 在会话锁内调用，不能回调 Session；其余通知在锁外执行。
type Host interface {
	// ScreenToImage 屏幕坐标转源图坐标
	ScreenToImage(x, y float64) (float64, float64)
	// MasksAt 返回屏幕坐标处的已有 Mask，最上层在前
	MasksAt(x, y float64) []RenderedMask

	Entered(docID string)
	Exited()
	// Confirm 提交待确认的 Mask
	Confirm(docID string, res *segment.Result)
	// SelectExisting 选中已有 Mask
	SelectExisting(id string)
	// Preview 实时预览，nil 表示清除
	Preview(res *segment.Result)
	// Spotlight 高亮已有 Mask，id 为空表示清除
	Spotlight(id string, precision hittest.Precision)
	Error(err error)
}

// Segmenter 异步分割端口，由 segment.Worker 实现
type Segmenter interface {
	Ready(docID string) bool
	Prepare(docID string)
	Submit(docID string, points []predictor.Point) (uuid.UUID, <-chan segment.Response)
}

// Config 会话参数
type Config struct {
	TickInterval   time.Duration `mapstructure:"tick_interval"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`

	// Clock 为空时使用系统时钟
	Clock clock.Clock `mapstructure:"-"`
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		TickInterval:   100 * time.Millisecond,
		RequestTimeout: 10 * time.Second,
	}
}

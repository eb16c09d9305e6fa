package segment

import (
	"errors"

	"github.com/getcharzp/go-pointseg/guided"
	"github.com/getcharzp/go-pointseg/mask"
)

var (
	// ErrRequestTimeout 在限定时间内没有收到解码结果
	ErrRequestTimeout = errors.New("分割请求超时")
	// ErrDocumentNotOpen 文档未打开或已关闭
	ErrDocumentNotOpen = errors.New("文档未打开")
	// ErrWorkerStopped 解码 worker 已停止
	ErrWorkerStopped = errors.New("解码 worker 已停止")
)

// Config 点提示分割流水线参数
type Config struct {
	// LogitThreshold 上采样后的二值化阈值，越大 Mask 越收紧
	LogitThreshold float32
	// Sigma logits 高斯平滑的标准差，<=0 表示不平滑
	Sigma float64
	// CloseRadius 闭运算半径，<=0 表示跳过
	CloseRadius int

	// GuidedRefine 是否使用原图亮度做引导滤波
	GuidedRefine bool
	GuidedRadius int
	GuidedEps    float64

	// Snap 边缘吸附参数
	Snap mask.SnapOptions
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		LogitThreshold: 0,
		Sigma:          guided.DefaultSigma,
		CloseRadius:    2,
		GuidedRefine:   false,
		GuidedRadius:   guided.DefaultRadius,
		GuidedEps:      guided.DefaultEps,
		Snap:           mask.DefaultSnapOptions(),
	}
}

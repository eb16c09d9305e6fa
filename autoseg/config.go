package autoseg

// Config 自动分割参数
type Config struct {
	PointsPerSide  int // 每边网格点数
	PointsPerBatch int // 每批处理的点数

	PredIoUThresh        float64 // 模型自评 IoU 下限
	StabilityScoreThresh float64 // 稳定性下限
	MinMaskAreaRatio     float64 // Mask 面积占比下限
	MaxMaskAreaRatio     float64 // Mask 面积占比上限
	BoxNMSThresh         float64 // 框 NMS 的 IoU 阈值
}

// DefaultConfig 默认配置，阈值比交互模式更严格
func DefaultConfig() Config {
	return Config{
		PointsPerSide:        16,
		PointsPerBatch:       64,
		PredIoUThresh:        0.85,
		StabilityScoreThresh: 0.92,
		MinMaskAreaRatio:     0.005,
		MaxMaskAreaRatio:     0.60,
		BoxNMSThresh:         0.7,
	}
}

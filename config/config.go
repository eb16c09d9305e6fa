// Package config 从 YAML 加载各组件配置
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/getcharzp/go-pointseg/autoseg"
	"github.com/getcharzp/go-pointseg/mask"
	"github.com/getcharzp/go-pointseg/predictor"
	"github.com/getcharzp/go-pointseg/sam2"
	"github.com/getcharzp/go-pointseg/segment"
	"github.com/getcharzp/go-pointseg/selection"
	"github.com/getcharzp/go-pointseg/store"
)

type Config struct {
	Mode      string          `mapstructure:"mode"`
	Model     ModelConfig     `mapstructure:"model"`
	Predictor PredictorConfig `mapstructure:"predictor"`
	Segment   SegmentConfig   `mapstructure:"segment"`
	Auto      AutoConfig      `mapstructure:"auto"`
	Selection SelectionConfig `mapstructure:"selection"`
	Redis     store.Options   `mapstructure:"redis"`
}

type ModelConfig struct {
	OnnxRuntimeLibPath string `mapstructure:"onnxruntime_lib_path"`
	EncodeModelPath    string `mapstructure:"encode_model_path"`
	DecodeModelPath    string `mapstructure:"decode_model_path"`
	UseCuda            bool   `mapstructure:"use_cuda"`
	NumThreads         int    `mapstructure:"num_threads"`
}

type PredictorConfig struct {
	StabilityOffset float32 `mapstructure:"stability_offset"`
	CoverageEpsilon float64 `mapstructure:"coverage_epsilon"`
	MinIoU          float64 `mapstructure:"min_iou"`
	MinStability    float64 `mapstructure:"min_stability"`
	MinCompactness  float64 `mapstructure:"min_compactness"`
}

type SegmentConfig struct {
	LogitThreshold float32 `mapstructure:"logit_threshold"`
	Sigma          float64 `mapstructure:"sigma"`
	CloseRadius    int     `mapstructure:"close_radius"`
	GuidedRefine   bool    `mapstructure:"guided_refine"`
	GuidedRadius   int     `mapstructure:"guided_radius"`
	GuidedEps      float64 `mapstructure:"guided_eps"`
	SnapMargin     float64 `mapstructure:"snap_margin"`
	SnapCoverage   float64 `mapstructure:"snap_coverage"`
	SnapLargeArea  float64 `mapstructure:"snap_large_area"`
}

type AutoConfig struct {
	PointsPerSide        int     `mapstructure:"points_per_side"`
	PointsPerBatch       int     `mapstructure:"points_per_batch"`
	PredIoUThresh        float64 `mapstructure:"pred_iou_thresh"`
	StabilityScoreThresh float64 `mapstructure:"stability_score_thresh"`
	MinMaskAreaRatio     float64 `mapstructure:"min_mask_area_ratio"`
	MaxMaskAreaRatio     float64 `mapstructure:"max_mask_area_ratio"`
	BoxNMSThresh         float64 `mapstructure:"box_nms_thresh"`
}

type SelectionConfig struct {
	TickInterval   time.Duration `mapstructure:"tick_interval"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// Load 从 YAML 文件加载配置，path 为空时只使用默认值
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "debug")

	model := sam2.DefaultConfig()
	v.SetDefault("model.onnxruntime_lib_path", model.OnnxRuntimeLibPath)
	v.SetDefault("model.encode_model_path", model.EncodeModelPath)
	v.SetDefault("model.decode_model_path", model.DecodeModelPath)
	v.SetDefault("model.use_cuda", false)
	v.SetDefault("model.num_threads", 0)

	pred := predictor.DefaultConfig()
	v.SetDefault("predictor.stability_offset", pred.StabilityOffset)
	v.SetDefault("predictor.coverage_epsilon", pred.CoverageEpsilon)
	v.SetDefault("predictor.min_iou", pred.Thresholds.IoU)
	v.SetDefault("predictor.min_stability", pred.Thresholds.Stability)
	v.SetDefault("predictor.min_compactness", pred.Thresholds.Compactness)

	seg := segment.DefaultConfig()
	v.SetDefault("segment.logit_threshold", seg.LogitThreshold)
	v.SetDefault("segment.sigma", seg.Sigma)
	v.SetDefault("segment.close_radius", seg.CloseRadius)
	v.SetDefault("segment.guided_refine", seg.GuidedRefine)
	v.SetDefault("segment.guided_radius", seg.GuidedRadius)
	v.SetDefault("segment.guided_eps", seg.GuidedEps)
	v.SetDefault("segment.snap_margin", seg.Snap.MarginRatio)
	v.SetDefault("segment.snap_coverage", seg.Snap.BandCoverage)
	v.SetDefault("segment.snap_large_area", seg.Snap.LargeAreaRatio)

	auto := autoseg.DefaultConfig()
	v.SetDefault("auto.points_per_side", auto.PointsPerSide)
	v.SetDefault("auto.points_per_batch", auto.PointsPerBatch)
	v.SetDefault("auto.pred_iou_thresh", auto.PredIoUThresh)
	v.SetDefault("auto.stability_score_thresh", auto.StabilityScoreThresh)
	v.SetDefault("auto.min_mask_area_ratio", auto.MinMaskAreaRatio)
	v.SetDefault("auto.max_mask_area_ratio", auto.MaxMaskAreaRatio)
	v.SetDefault("auto.box_nms_thresh", auto.BoxNMSThresh)

	sel := selection.DefaultConfig()
	v.SetDefault("selection.tick_interval", sel.TickInterval)
	v.SetDefault("selection.request_timeout", sel.RequestTimeout)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", 24*time.Hour)
}

// SAM2 模型配置
func (c *Config) SAM2() sam2.Config {
	return sam2.Config{
		OnnxRuntimeLibPath: c.Model.OnnxRuntimeLibPath,
		EncodeModelPath:    c.Model.EncodeModelPath,
		DecodeModelPath:    c.Model.DecodeModelPath,
		UseCuda:            c.Model.UseCuda,
		NumThreads:         c.Model.NumThreads,
	}
}

// PredictorConfig 模型会话配置，质量评分与二值化共用 segment.logit_threshold
func (c *Config) PredictorConfig() predictor.Config {
	return predictor.Config{
		MaskThreshold:   c.Segment.LogitThreshold,
		StabilityOffset: c.Predictor.StabilityOffset,
		CoverageEpsilon: c.Predictor.CoverageEpsilon,
		Thresholds: predictor.Thresholds{
			IoU:         c.Predictor.MinIoU,
			Stability:   c.Predictor.MinStability,
			Compactness: c.Predictor.MinCompactness,
		},
	}
}

// SegmentConfig 点提示分割配置
func (c *Config) SegmentConfig() segment.Config {
	snap := mask.DefaultSnapOptions()
	snap.MarginRatio = c.Segment.SnapMargin
	snap.BandCoverage = c.Segment.SnapCoverage
	snap.LargeAreaRatio = c.Segment.SnapLargeArea
	return segment.Config{
		LogitThreshold: c.Segment.LogitThreshold,
		Sigma:          c.Segment.Sigma,
		CloseRadius:    c.Segment.CloseRadius,
		GuidedRefine:   c.Segment.GuidedRefine,
		GuidedRadius:   c.Segment.GuidedRadius,
		GuidedEps:      c.Segment.GuidedEps,
		Snap:           snap,
	}
}

// AutoConfig 自动分割配置
func (c *Config) AutoConfig() autoseg.Config {
	return autoseg.Config(c.Auto)
}

// SelectionConfig 交互会话配置
func (c *Config) SelectionConfig() selection.Config {
	return selection.Config{
		TickInterval:   c.Selection.TickInterval,
		RequestTimeout: c.Selection.RequestTimeout,
	}
}

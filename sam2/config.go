package sam2

import vision "github.com/getcharzp/go-pointseg"

// 均值和方差常量
const (
	MeanR = 0.485
	MeanG = 0.456
	MeanB = 0.406

	StdR = 0.229
	StdG = 0.224
	StdB = 0.225
)

const (
	// InputSize 输入图片的长边尺寸
	InputSize = 1024
	// MaskSize 解码器输出的低分辨率 Mask 边长
	MaskSize = 256
	// NumCandidates 解码器输出的候选 Mask 数量
	NumCandidates = 3
	// maskStride 输入尺寸与 Mask 尺寸之比
	maskStride = InputSize / MaskSize
)

// Config 配置项
type Config struct {
	// 必填参数
	OnnxRuntimeLibPath string // onnxruntime.dll (或 .so, .dylib) 的路径
	EncodeModelPath    string // 图片特征提取模型
	DecodeModelPath    string // Mask解码模型

	// 可选参数
	UseCuda    bool // (可选) 是否启用 CUDA
	NumThreads int  // (可选) ONNX 线程数, 默认由CPU核心数决定
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		OnnxRuntimeLibPath: vision.DefaultLibraryPath(),
		EncodeModelPath:    "./sam2_weights/vision_encoder.onnx",
		DecodeModelPath:    "./sam2_weights/prompt_encoder_mask_decoder.onnx",
	}
}

package vision

import (
	"fmt"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// OnnxConfig ONNX Runtime 会话参数
type OnnxConfig struct {
	// 必填参数
	OnnxRuntimeLibPath string // onnxruntime.dll (或 .so, .dylib) 的路径
	// 可选参数
	UseCuda    bool // (可选) 是否启用 CUDA
	NumThreads int  // (可选) ONNX 线程数, 默认由CPU核心数决定
}

var (
	envErr  error
	envOnce sync.Once
)

// InitEnvironment 初始化 ONNX Runtime 环境，进程内只执行一次
func InitEnvironment(libPath string) error {
	if libPath == "" {
		return fmt.Errorf("OnnxRuntimeLibPath 不能为空")
	}
	envOnce.Do(func() {
		ort.SetSharedLibraryPath(libPath)
		envErr = ort.InitializeEnvironment()
	})
	if envErr != nil {
		return fmt.Errorf("初始化 ONNX Runtime 环境失败: %w", envErr)
	}
	return nil
}

// SessionOptions 初始化环境并按配置创建会话选项，调用方负责 Destroy
func (cfg OnnxConfig) SessionOptions() (*ort.SessionOptions, error) {
	if err := InitEnvironment(cfg.OnnxRuntimeLibPath); err != nil {
		return nil, err
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("创建 SessionOptions 失败: %w", err)
	}
	if cfg.NumThreads > 0 {
		if err := options.SetIntraOpNumThreads(cfg.NumThreads); err != nil {
			options.Destroy()
			return nil, fmt.Errorf("设置线程数失败: %w", err)
		}
	}

	// 启用CUDA
	if cfg.UseCuda {
		cudaOptions, err := ort.NewCUDAProviderOptions()
		if err != nil {
			options.Destroy()
			return nil, fmt.Errorf("创建 CUDAProviderOptions 失败: %w", err)
		}
		defer cudaOptions.Destroy()
		if err := options.AppendExecutionProviderCUDA(cudaOptions); err != nil {
			options.Destroy()
			return nil, fmt.Errorf("添加 CUDA 执行提供者失败: %w", err)
		}
	}
	return options, nil
}

// DefaultLibraryPath 根据运行时环境判断加载哪个库文件
func DefaultLibraryPath() string {
	baseDir := "./lib/"
	libName := "onnxruntime"

	// windows onnxruntime.dll
	if runtime.GOOS == "windows" {
		return baseDir + libName + ".dll"
	}

	var ext string
	switch runtime.GOOS {
	case "darwin":
		ext = "dylib"
	case "linux":
		ext = "so"
	default:
		return baseDir + libName + "_amd64.so" // 默认返回 linux amd64
	}

	// ./lib/onnxruntime + _ + amd64/arm64 + . + so/dylib
	return fmt.Sprintf("%s%s_%s.%s", baseDir, libName, runtime.GOARCH, ext)
}

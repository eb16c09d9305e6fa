package sam2

import (
	"context"
	"fmt"
	"image"
	"runtime"
	"sync"

	"github.com/up-zero/gotool/convertutil"
	"github.com/up-zero/gotool/imageutil"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/multierr"

	vision "github.com/getcharzp/go-pointseg"
	"github.com/getcharzp/go-pointseg/predictor"
)

// Engine 持有编码、解码两个 ONNX Session，实现 predictor.Backend
type Engine struct {
	encoderSession *ort.DynamicAdvancedSession
	decoderSession *ort.DynamicAdvancedSession
	config         Config

	// 运行时一次只执行一个推理
	mu sync.Mutex
}

var _ predictor.Backend = (*Engine)(nil)

// NewEngine 初始化 sam2 引擎
func NewEngine(cfg Config) (*Engine, error) {
	onnxConfig := new(vision.OnnxConfig)
	if err := convertutil.CopyProperties(cfg, onnxConfig); err != nil {
		return nil, fmt.Errorf("复制参数失败: %w", err)
	}
	options, err := onnxConfig.SessionOptions()
	if err != nil {
		return nil, err
	}
	defer options.Destroy()

	// encoder session
	encInputs := []string{"pixel_values"}
	encOutputs := []string{"image_embeddings.0", "image_embeddings.1", "image_embeddings.2"}
	encSession, err := ort.NewDynamicAdvancedSession(cfg.EncodeModelPath, encInputs, encOutputs, options)
	if err != nil {
		return nil, fmt.Errorf("创建 Encoder ONNX 会话失败: %w", err)
	}

	// decoder session
	decInputs := []string{
		"input_points", "input_labels", "input_boxes",
		"image_embeddings.0", "image_embeddings.1", "image_embeddings.2",
	}
	decOutputs := []string{"iou_scores", "pred_masks", "object_score_logits"}
	decSession, err := ort.NewDynamicAdvancedSession(cfg.DecodeModelPath, decInputs, decOutputs, options)
	if err != nil {
		encSession.Destroy()
		return nil, fmt.Errorf("创建 Decoder ONNX 会话失败: %w", err)
	}

	return &Engine{
		encoderSession: encSession,
		decoderSession: decSession,
		config:         cfg,
	}, nil
}

// Destroy 释放相关资源
func (e *Engine) Destroy() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var err error
	if e.encoderSession != nil {
		if dErr := e.encoderSession.Destroy(); dErr != nil {
			err = multierr.Append(err, fmt.Errorf("销毁 Encoder ONNX 会话失败: %w", dErr))
		}
		e.encoderSession = nil
	}
	if e.decoderSession != nil {
		if dErr := e.decoderSession.Destroy(); dErr != nil {
			err = multierr.Append(err, fmt.Errorf("销毁 Decoder ONNX 会话失败: %w", dErr))
		}
		e.decoderSession = nil
	}
	return err
}

// Embeddings 单张图片的特征缓存
type Embeddings struct {
	values []ort.Value

	origW, origH int
	scale        float32
	newW, newH   int

	mu       sync.Mutex
	released bool
}

// Size 源图尺寸
func (emb *Embeddings) Size() (int, int) {
	return emb.origW, emb.origH
}

// Released 是否已释放
func (emb *Embeddings) Released() bool {
	emb.mu.Lock()
	defer emb.mu.Unlock()
	return emb.released
}

// Release 释放图像特征，可重复调用
func (emb *Embeddings) Release() error {
	emb.mu.Lock()
	defer emb.mu.Unlock()
	if emb.released {
		return nil
	}
	var err error
	for _, v := range emb.values {
		if v != nil {
			err = multierr.Append(err, v.Destroy())
		}
	}
	emb.values = nil
	emb.released = true
	return err
}

// Encode 图像特征提取
func (e *Engine) Encode(ctx context.Context, img image.Image) (predictor.Embeddings, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 预处理
	bounds := img.Bounds()
	origW, origH := bounds.Dx(), bounds.Dy()
	if origW == 0 || origH == 0 {
		return nil, fmt.Errorf("图片尺寸无效: %dx%d", origW, origH)
	}

	scale := float32(InputSize) / float32(max(origW, origH))
	newW := max(1, int(float32(origW)*scale))
	newH := max(1, int(float32(origH)*scale))

	resizedImg := imageutil.Resize(img, newW, newH)
	tensorData := normalizeAndPad(resizedImg, InputSize, InputSize)

	inputTensor, err := ort.NewTensor(ort.NewShape(1, 3, InputSize, InputSize), tensorData)
	if err != nil {
		return nil, fmt.Errorf("创建图片 Input Tensor 失败: %w", err)
	}
	defer inputTensor.Destroy()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.encoderSession == nil {
		return nil, fmt.Errorf("引擎已销毁")
	}

	// Encoder 推理
	outputs := make([]ort.Value, 3)
	if err := e.encoderSession.Run([]ort.Value{inputTensor}, outputs); err != nil {
		return nil, fmt.Errorf("encoder 推理失败: %w", err)
	}

	emb := &Embeddings{
		values: outputs,
		origW:  origW,
		origH:  origH,
		scale:  scale,
		newW:   newW,
		newH:   newH,
	}

	// 设置 Finalizer 以防用户忘记 Release
	runtime.SetFinalizer(emb, func(c *Embeddings) { _ = c.Release() })

	return emb, nil
}

// Decode Mask 解码，返回全部候选的 logits
func (e *Engine) Decode(ctx context.Context, pe predictor.Embeddings, points []predictor.Point) (*predictor.Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	emb, ok := pe.(*Embeddings)
	if !ok || emb == nil {
		return nil, fmt.Errorf("%w: 特征类型 %T 不属于 sam2", predictor.ErrNoEmbeddings, pe)
	}
	if len(points) == 0 {
		return nil, predictor.ErrEmptyPoints
	}

	coords, labels := promptTensors(points, emb.scale)
	numPoints := int64(len(points))

	// 准备 Decoder Tensors
	tPoints, err := ort.NewTensor(ort.NewShape(1, 1, numPoints, 2), coords)
	if err != nil {
		return nil, fmt.Errorf("创建 Decoder Points Tensor 失败: %w", err)
	}
	defer tPoints.Destroy()

	tLabels, err := ort.NewTensor(ort.NewShape(1, 1, numPoints), labels)
	if err != nil {
		return nil, fmt.Errorf("创建 Decoder Labels Tensor 失败: %w", err)
	}
	defer tLabels.Destroy()

	// box 通过 point 控制
	var emptyFloat []float32
	tBoxes, err := ort.NewTensor(ort.NewShape(1, 0, 4), emptyFloat)
	if err != nil {
		return nil, fmt.Errorf("创建 Decoder Boxes Tensor 失败: %w", err)
	}
	defer tBoxes.Destroy()

	// 推理期间特征不能被释放
	emb.mu.Lock()
	defer emb.mu.Unlock()
	if emb.released {
		return nil, predictor.ErrNoEmbeddings
	}

	inputs := []ort.Value{
		tPoints,
		tLabels,
		tBoxes,
		emb.values[0],
		emb.values[1],
		emb.values[2],
	}
	outputs := make([]ort.Value, 3)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.decoderSession == nil {
		return nil, fmt.Errorf("引擎已销毁")
	}

	// Decoder 推理
	if err := e.decoderSession.Run(inputs, outputs); err != nil {
		return nil, fmt.Errorf("decoder 推理失败: %w", err)
	}
	defer func() {
		for _, o := range outputs {
			if o != nil {
				o.Destroy()
			}
		}
	}()

	return readOutput(outputs, emb)
}

// readOutput 校验并复制解码器输出
//
//	iou_scores: [1, 1, N]
//	pred_masks: [1, 1, N, 256, 256]
func readOutput(outputs []ort.Value, emb *Embeddings) (*predictor.Output, error) {
	scores, ok := outputs[0].(*ort.Tensor[float32])
	if !ok || scores == nil {
		return nil, fmt.Errorf("%w: iou_scores 类型错误", predictor.ErrInvalidModelOutput)
	}
	masks, ok := outputs[1].(*ort.Tensor[float32])
	if !ok || masks == nil {
		return nil, fmt.Errorf("%w: pred_masks 类型错误", predictor.ErrInvalidModelOutput)
	}

	shape := masks.GetShape()
	if len(shape) < 2 {
		return nil, fmt.Errorf("%w: pred_masks 形状 %v", predictor.ErrInvalidModelOutput, shape)
	}
	maskH, maskW := int(shape[len(shape)-2]), int(shape[len(shape)-1])

	rawScores := scores.GetData()
	rawMasks := masks.GetData()
	if len(rawScores) == 0 || len(rawMasks) != len(rawScores)*maskW*maskH {
		return nil, fmt.Errorf("%w: %d 个得分, %d 个 logits", predictor.ErrInvalidModelOutput, len(rawScores), len(rawMasks))
	}

	validW, validH := validMaskSize(emb.newW, emb.newH)
	out := &predictor.Output{
		IoU:    append([]float32(nil), rawScores...),
		Logits: append([]float32(nil), rawMasks...),
		MaskW:  maskW,
		MaskH:  maskH,
		ValidW: min(validW, maskW),
		ValidH: min(validH, maskH),
	}
	return out, nil
}

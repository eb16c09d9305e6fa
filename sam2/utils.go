package sam2

import (
	"image"

	"github.com/getcharzp/go-pointseg/predictor"
)

// normalizeAndPad 归一化并填充到 targetW x targetH (CHW)
func normalizeAndPad(src image.Image, targetW, targetH int) []float32 {
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	plane := targetW * targetH
	data := make([]float32, 3*plane)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := src.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			idx := y*targetW + x
			data[idx] = (float32(r)/65535.0 - MeanR) / StdR
			data[plane+idx] = (float32(g)/65535.0 - MeanG) / StdG
			data[2*plane+idx] = (float32(b)/65535.0 - MeanB) / StdB
		}
	}
	return data
}

// promptTensors 把源图坐标的提示点转换为模型输入坐标
func promptTensors(points []predictor.Point, scale float32) ([]float32, []int64) {
	coords := make([]float32, 0, len(points)*2)
	labels := make([]int64, 0, len(points))
	for _, pt := range points {
		coords = append(coords, float32(pt.X)*scale, float32(pt.Y)*scale)
		labels = append(labels, int64(pt.Label))
	}
	return coords, labels
}

// validMaskSize 低分辨率 Mask 中对应源图内容的区域
func validMaskSize(newW, newH int) (int, int) {
	w := max(1, min(MaskSize, newW/maskStride))
	h := max(1, min(MaskSize, newH/maskStride))
	return w, h
}

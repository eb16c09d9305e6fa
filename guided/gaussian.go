package guided

import "math"

// DefaultSigma logits 高斯平滑的默认标准差
const DefaultSigma = 1.0

// GaussianKernel 归一化的一维高斯核，半径 ceil(3*sigma)
func GaussianKernel(sigma float64) []float64 {
	if sigma <= 0 {
		return []float64{1}
	}
	r := int(math.Ceil(3 * sigma))
	kernel := make([]float64, 2*r+1)
	sum := 0.0
	for i := -r; i <= r; i++ {
		v := math.Exp(-float64(i*i) / (2 * sigma * sigma))
		kernel[i+r] = v
		sum += v
	}
	for i := range kernel {
		kernel[i] /= sum
	}
	return kernel
}

// GaussianBlur 对模型输出的 logits 做可分离高斯平滑
//
// 在二值化之前平滑 logits，比平滑二值结果更能抑制锯齿。越界像素取边界值。
func GaussianBlur(logits []float32, w, h int, sigma float64) []float32 {
	kernel := GaussianKernel(sigma)
	if len(kernel) == 1 {
		out := make([]float32, len(logits))
		copy(out, logits)
		return out
	}
	r := len(kernel) / 2

	tmp := make([]float32, len(logits))
	for y := 0; y < h; y++ {
		row := logits[y*w : (y+1)*w]
		for x := 0; x < w; x++ {
			sum := 0.0
			for k := -r; k <= r; k++ {
				sx := min(max(x+k, 0), w-1)
				sum += kernel[k+r] * float64(row[sx])
			}
			tmp[y*w+x] = float32(sum)
		}
	}

	out := make([]float32, len(logits))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sum := 0.0
			for k := -r; k <= r; k++ {
				sy := min(max(y+k, 0), h-1)
				sum += kernel[k+r] * float64(tmp[sy*w+x])
			}
			out[y*w+x] = float32(sum)
		}
	}
	return out
}

package guided

import (
	"image"
	"image/color"

	"github.com/getcharzp/go-pointseg/mask"
)

const (
	// DefaultRadius 导向滤波默认半径
	DefaultRadius = 8
	// DefaultEps 导向滤波默认正则项，越大越平滑、越不依赖导向图
	DefaultEps = 0.01
)

// BoxFilter 方框均值滤波
//
// 水平、垂直两次一维前缀和，窗口在边界处裁剪并按实际像素数归一化，复杂度 O(n)。
func BoxFilter(src []float64, w, h, r int) []float64 {
	tmp := boxPass(src, w, h, r, true)
	return boxPass(tmp, w, h, r, false)
}

func boxPass(src []float64, w, h, r int, horizontal bool) []float64 {
	dst := make([]float64, len(src))
	lines, length := h, w
	if !horizontal {
		lines, length = w, h
	}
	prefix := make([]float64, length+1)

	for line := 0; line < lines; line++ {
		index := func(i int) int {
			if horizontal {
				return line*w + i
			}
			return i*w + line
		}
		for i := 0; i < length; i++ {
			prefix[i+1] = prefix[i] + src[index(i)]
		}
		for i := 0; i < length; i++ {
			lo := max(0, i-r)
			hi := min(length-1, i+r)
			dst[index(i)] = (prefix[hi+1] - prefix[lo]) / float64(hi-lo+1)
		}
	}
	return dst
}

// Filter 导向滤波
//
// 在每个窗口内假设输出是导向图的线性函数 q = a*I + b:
//   - 第一次方框滤波求 I、p 的均值
//   - 第二次求 I*I、I*p 的均值 (相关)
//   - 第三次求系数 a、b 的均值
//
// # Params:
//
//	guide: 灰度导向图，取值 [0,1]
//	p: 待滤波输入
//	w, h: 尺寸
//	r: 窗口半径
//	eps: 正则项
func Filter(guide, p []float64, w, h, r int, eps float64) []float64 {
	n := w * h
	meanI := BoxFilter(guide, w, h, r)
	meanP := BoxFilter(p, w, h, r)

	ii := make([]float64, n)
	ip := make([]float64, n)
	for i := 0; i < n; i++ {
		ii[i] = guide[i] * guide[i]
		ip[i] = guide[i] * p[i]
	}
	corrI := BoxFilter(ii, w, h, r)
	corrIP := BoxFilter(ip, w, h, r)

	a := make([]float64, n)
	b := make([]float64, n)
	for i := 0; i < n; i++ {
		varI := corrI[i] - meanI[i]*meanI[i]
		covIP := corrIP[i] - meanI[i]*meanP[i]
		a[i] = covIP / (varI + eps)
		b[i] = meanP[i] - a[i]*meanI[i]
	}
	meanA := BoxFilter(a, w, h, r)
	meanB := BoxFilter(b, w, h, r)

	q := make([]float64, n)
	for i := 0; i < n; i++ {
		q[i] = meanA[i]*guide[i] + meanB[i]
	}
	return q
}

// Refine 以灰度图为导向对掩码做边缘感知平滑，再以 0.5 二值化
func Refine(m *mask.Mask, guide []float64, r int, eps float64) *mask.Mask {
	if len(guide) != m.Width*m.Height {
		return m.Clone()
	}
	p := make([]float64, len(m.Pix))
	for i, v := range m.Pix {
		if v != mask.Off {
			p[i] = 1
		}
	}
	q := Filter(guide, p, m.Width, m.Height, r, eps)

	out := mask.New(m.Width, m.Height)
	for i, v := range q {
		if v >= 0.5 {
			out.Pix[i] = mask.On
		}
	}
	return out
}

// Luminance 将图像转为 [0,1] 的灰度导向图
func Luminance(img image.Image) ([]float64, int, int) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := make([]float64, w*h)

	if g, ok := img.(*image.Gray); ok {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				out[y*w+x] = float64(g.Pix[y*g.Stride+x]) / 255.0
			}
		}
		return out, w, h
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.Gray16Model.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray16)
			out[y*w+x] = float64(c.Y) / 65535.0
		}
	}
	return out, w, h
}

// Package hittest 屏幕坐标到 Mask 栅格的像素级命中测试
package hittest

import (
	"image"
	"math"
)

// AlphaThreshold alpha 大于该值视为命中
const AlphaThreshold = 10

// Precision 命中精度
type Precision int

const (
	PrecisionNone  Precision = iota // 未命中
	PrecisionBBox                   // 仅外接矩形
	PrecisionPixel                  // 像素级
)

func (p Precision) String() string {
	switch p {
	case PrecisionBBox:
		return "bbox"
	case PrecisionPixel:
		return "pixel"
	default:
		return "none"
	}
}

// Rect Mask 在屏幕上的矩形
type Rect struct {
	X, Y, W, H float64
}

// Contains 点是否在矩形内 (左闭右开)
func (r Rect) Contains(px, py float64) bool {
	return px >= r.X && px < r.X+r.W && py >= r.Y && py < r.Y+r.H
}

// InRect 外接矩形命中测试，用于文本 Mask
func InRect(px, py float64, r Rect) (bool, Precision) {
	if r.Contains(px, py) {
		return true, PrecisionBBox
	}
	return false, PrecisionNone
}

// Test 像素级命中测试
//
// 栅格尚未缓存时乐观地按外接矩形返回命中，避免加载期间闪烁。
//
// # Params:
//
//	px, py: 屏幕坐标
//	r: Mask 的屏幕矩形
//	raster: Mask 的 alpha 栅格，可为 nil
func Test(px, py float64, r Rect, raster *image.Alpha) (bool, Precision) {
	if raster == nil {
		return InRect(px, py, r)
	}
	if r.W <= 0 || r.H <= 0 {
		return false, PrecisionNone
	}

	b := raster.Bounds()
	sx := float64(b.Dx()) / r.W
	sy := float64(b.Dy()) / r.H
	x := int(math.Floor((px - r.X) * sx))
	y := int(math.Floor((py - r.Y) * sy))
	if x < 0 || y < 0 || x >= b.Dx() || y >= b.Dy() {
		return false, PrecisionNone
	}

	if raster.AlphaAt(b.Min.X+x, b.Min.Y+y).A > AlphaThreshold {
		return true, PrecisionPixel
	}
	return false, PrecisionNone
}

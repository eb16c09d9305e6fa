package mask

import "math"

// Edge 图像边框
type Edge uint8

const (
	EdgeTop Edge = 1 << iota
	EdgeBottom
	EdgeLeft
	EdgeRight
)

// SnapOptions 边缘吸附参数
type SnapOptions struct {
	MarginRatio    float64 // 边带宽度占短边的比例 (默认 0.02)
	BandCoverage   float64 // 边带覆盖率阈值 (默认 0.85)
	LargeAreaRatio float64 // 仅两条边带达标时，要求掩码面积占比 (默认 0.5)
	CloseRadius    int     // 吸附后的闭运算半径 (默认 1)
}

// DefaultSnapOptions 默认边缘吸附参数
func DefaultSnapOptions() SnapOptions {
	return SnapOptions{
		MarginRatio:    0.02,
		BandCoverage:   0.85,
		LargeAreaRatio: 0.5,
		CloseRadius:    1,
	}
}

// Margin 边带宽度
func (o SnapOptions) Margin(w, h int) int {
	return max(1, int(math.Round(o.MarginRatio*float64(min(w, h)))))
}

// SnapToImageEdges 将几乎铺满画面的掩码吸附到图像边缘
//
// 统计四条边带 (不含角落) 的覆盖率，至少三条达标，或两条达标且掩码面积足够大时，
// 把达标边带整体置为前景并做一次轻微闭运算。重复执行直到达标边带集合不再变化，
// 因此对结果再调用一次不会产生任何变化。
func SnapToImageEdges(m *Mask, opts SnapOptions) *Mask {
	margin := opts.Margin(m.Width, m.Height)
	if 2*margin >= min(m.Width, m.Height) {
		return m.Clone()
	}

	out := m
	var applied Edge
	for i := 0; i < 4; i++ {
		selected, ok := selectEdges(out, margin, opts)
		if !ok || selected&^applied == 0 {
			break
		}
		applied |= selected
		out = Close(fillEdges(out, margin, applied), opts.CloseRadius)
	}
	if out == m {
		return m.Clone()
	}
	return out
}

// selectEdges 返回覆盖率达标的边带集合，以及是否满足吸附条件
func selectEdges(m *Mask, margin int, opts SnapOptions) (Edge, bool) {
	w, h := m.Width, m.Height
	bands := []struct {
		edge           Edge
		x0, y0, x1, y1 int
	}{
		{EdgeTop, margin, 0, w - margin, margin},
		{EdgeBottom, margin, h - margin, w - margin, h},
		{EdgeLeft, 0, margin, margin, h - margin},
		{EdgeRight, w - margin, margin, w, h - margin},
	}

	var selected Edge
	count := 0
	for _, b := range bands {
		if bandCoverage(m, b.x0, b.y0, b.x1, b.y1) >= opts.BandCoverage {
			selected |= b.edge
			count++
		}
	}

	switch {
	case count >= 3:
		return selected, true
	case count == 2:
		ratio := float64(m.Area()) / float64(w*h)
		return selected, ratio >= opts.LargeAreaRatio
	default:
		return 0, false
	}
}

// bandCoverage 区域 [x0,x1)x[y0,y1) 的前景占比
func bandCoverage(m *Mask, x0, y0, x1, y1 int) float64 {
	total, on := 0, 0
	for y := y0; y < y1; y++ {
		row := m.Pix[y*m.Width : (y+1)*m.Width]
		for x := x0; x < x1; x++ {
			total++
			if row[x] != Off {
				on++
			}
		}
	}
	if total == 0 {
		return 0
	}
	return float64(on) / float64(total)
}

// fillEdges 将选中的边带 (含角落) 置为前景
func fillEdges(m *Mask, margin int, edges Edge) *Mask {
	out := m.Clone()
	w, h := m.Width, m.Height
	fill := func(x0, y0, x1, y1 int) {
		for y := y0; y < y1; y++ {
			for x := x0; x < x1; x++ {
				out.Pix[y*w+x] = On
			}
		}
	}
	if edges&EdgeTop != 0 {
		fill(0, 0, w, margin)
	}
	if edges&EdgeBottom != 0 {
		fill(0, h-margin, w, h)
	}
	if edges&EdgeLeft != 0 {
		fill(0, 0, margin, h)
	}
	if edges&EdgeRight != 0 {
		fill(w-margin, 0, w, h)
	}
	return out
}

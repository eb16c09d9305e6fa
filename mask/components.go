package mask

import "image"

// Component 四连通区域统计
type Component struct {
	Label int         // 标签，从 1 开始
	Area  int         // 像素数量
	BBox  Rect        // 外接矩形
	Seed  image.Point // 扫描顺序中的第一个像素
}

// Labels 连通区域标注结果
type Labels struct {
	Width, Height int
	// Pix 每个像素的标签，0 为背景
	Pix        []int32
	Components []Component
}

// At 像素所属的标签，越界或背景返回 0
func (l *Labels) At(x, y int) int {
	if x < 0 || y < 0 || x >= l.Width || y >= l.Height {
		return 0
	}
	return int(l.Pix[y*l.Width+x])
}

// Largest 面积最大的连通区域，无区域时 ok 为 false
func (l *Labels) Largest() (Component, bool) {
	if len(l.Components) == 0 {
		return Component{}, false
	}
	best := l.Components[0]
	for _, c := range l.Components[1:] {
		if c.Area > best.Area {
			best = c
		}
	}
	return best, true
}

// Keep 仅保留 keep 返回 true 的区域
func (l *Labels) Keep(keep func(c Component) bool) *Mask {
	retain := make([]bool, len(l.Components)+1)
	for _, c := range l.Components {
		retain[c.Label] = keep(c)
	}
	out := New(l.Width, l.Height)
	for i, lab := range l.Pix {
		if lab > 0 && retain[lab] {
			out.Pix[i] = On
		}
	}
	return out
}

// ConnectedComponents 四连通区域标注 (栈式洪水填充)
func ConnectedComponents(m *Mask) *Labels {
	w, h := m.Width, m.Height
	labels := &Labels{
		Width:  w,
		Height: h,
		Pix:    make([]int32, w*h),
	}

	stack := make([]int, 0, 64)
	next := int32(0)

	for start, v := range m.Pix {
		if v == Off || labels.Pix[start] != 0 {
			continue
		}
		next++
		sx, sy := start%w, start/w
		comp := Component{Label: int(next), Seed: image.Pt(sx, sy)}
		minX, minY, maxX, maxY := sx, sy, sx, sy

		labels.Pix[start] = next
		stack = append(stack[:0], start)
		for len(stack) > 0 {
			i := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			x, y := i%w, i/w

			comp.Area++
			minX, maxX = min(minX, x), max(maxX, x)
			minY, maxY = min(minY, y), max(maxY, y)

			// 上下左右
			if x > 0 && m.Pix[i-1] != Off && labels.Pix[i-1] == 0 {
				labels.Pix[i-1] = next
				stack = append(stack, i-1)
			}
			if x < w-1 && m.Pix[i+1] != Off && labels.Pix[i+1] == 0 {
				labels.Pix[i+1] = next
				stack = append(stack, i+1)
			}
			if y > 0 && m.Pix[i-w] != Off && labels.Pix[i-w] == 0 {
				labels.Pix[i-w] = next
				stack = append(stack, i-w)
			}
			if y < h-1 && m.Pix[i+w] != Off && labels.Pix[i+w] == 0 {
				labels.Pix[i+w] = next
				stack = append(stack, i+w)
			}
		}

		comp.BBox = Rect{X: minX, Y: minY, W: maxX - minX + 1, H: maxY - minY + 1}
		labels.Components = append(labels.Components, comp)
	}
	return labels
}

// RemoveSmallComponents 删除面积小于 minArea 的连通区域
func RemoveSmallComponents(m *Mask, minArea int) *Mask {
	if minArea <= 1 {
		return m.Clone()
	}
	return ConnectedComponents(m).Keep(func(c Component) bool {
		return c.Area >= minArea
	})
}

// FillHoles 填充面积小于 maxHoleArea 的孔洞
//
// 反转掩码后删除小区域，再反转回来。
func FillHoles(m *Mask, maxHoleArea int) *Mask {
	return RemoveSmallComponents(m.Invert(), maxHoleArea).Invert()
}

// KeepComponentsContainingPoints 仅保留包含任一点的连通区域
//
// 没有点落在任何区域内时 (包括 points 为空)，退化为保留面积最大的区域，避免输出为空。
func KeepComponentsContainingPoints(m *Mask, points []image.Point) *Mask {
	labels := ConnectedComponents(m)
	if len(labels.Components) == 0 {
		return New(m.Width, m.Height)
	}

	hit := make(map[int]bool, len(points))
	for _, p := range points {
		if lab := labels.At(p.X, p.Y); lab > 0 {
			hit[lab] = true
		}
	}

	if len(hit) == 0 {
		largest, _ := labels.Largest()
		return labels.Keep(func(c Component) bool {
			return c.Label == largest.Label
		})
	}
	return labels.Keep(func(c Component) bool {
		return hit[c.Label]
	})
}

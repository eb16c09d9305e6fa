package mask

// 形态学运算使用 (2r+1)x(2r+1) 的方形结构元，拆分为水平、垂直两次一维滑窗，
// 每次滑窗用前缀和计数，复杂度与半径无关。
// 窗口在图像边界处裁剪：越界像素不参与计算，因此全白掩码在任意运算下保持不变。

// Dilate 膨胀
func Dilate(m *Mask, radius int) *Mask {
	if radius <= 0 {
		return m.Clone()
	}
	tmp := slide(m.Pix, m.Width, m.Height, radius, true, false)
	out := slide(tmp, m.Width, m.Height, radius, false, false)
	return &Mask{Width: m.Width, Height: m.Height, Pix: out}
}

// Erode 腐蚀
func Erode(m *Mask, radius int) *Mask {
	if radius <= 0 {
		return m.Clone()
	}
	tmp := slide(m.Pix, m.Width, m.Height, radius, true, true)
	out := slide(tmp, m.Width, m.Height, radius, false, true)
	return &Mask{Width: m.Width, Height: m.Height, Pix: out}
}

// Close 闭运算 (先膨胀后腐蚀)，填补小缝隙
func Close(m *Mask, radius int) *Mask {
	return Erode(Dilate(m, radius), radius)
}

// Open 开运算 (先腐蚀后膨胀)，去除小噪点
func Open(m *Mask, radius int) *Mask {
	return Dilate(Erode(m, radius), radius)
}

// slide 一维滑窗
//
// # Params:
//
//	src: 输入像素
//	w, h: 尺寸
//	r: 半径
//	horizontal: true 按行滑动，false 按列滑动
//	erode: true 时窗口内全为前景才输出前景，否则窗口内存在前景即输出前景
func slide(src []uint8, w, h, r int, horizontal, erode bool) []uint8 {
	dst := make([]uint8, len(src))

	lines, length := h, w
	if !horizontal {
		lines, length = w, h
	}
	// prefix[i] 为线上前 i 个像素中的前景数量
	prefix := make([]int, length+1)

	for line := 0; line < lines; line++ {
		index := func(i int) int {
			if horizontal {
				return line*w + i
			}
			return i*w + line
		}

		for i := 0; i < length; i++ {
			prefix[i+1] = prefix[i]
			if src[index(i)] != Off {
				prefix[i+1]++
			}
		}

		for i := 0; i < length; i++ {
			lo := max(0, i-r)
			hi := min(length-1, i+r)
			count := prefix[hi+1] - prefix[lo]

			var on bool
			if erode {
				on = count == hi-lo+1
			} else {
				on = count > 0
			}
			if on {
				dst[index(i)] = On
			}
		}
	}
	return dst
}

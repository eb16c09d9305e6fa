package mask

import (
	"fmt"
	"image"
)

const (
	// On 前景像素值
	On uint8 = 255
	// Off 背景像素值
	Off uint8 = 0
)

// Rect 源图像素坐标下的矩形区域
type Rect struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Empty 是否为空矩形
func (r Rect) Empty() bool {
	return r.W <= 0 || r.H <= 0
}

// Area 矩形面积
func (r Rect) Area() int {
	if r.Empty() {
		return 0
	}
	return r.W * r.H
}

// Rectangle 转换为 image.Rectangle
func (r Rect) Rectangle() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.W, r.Y+r.H)
}

// Mask 二值掩码，每个像素一个字节 (0 或 255)
type Mask struct {
	Width  int
	Height int
	Pix    []uint8
}

// New 创建全黑掩码
func New(w, h int) *Mask {
	return &Mask{
		Width:  w,
		Height: h,
		Pix:    make([]uint8, w*h),
	}
}

// Full 创建全白掩码
func Full(w, h int) *Mask {
	m := New(w, h)
	for i := range m.Pix {
		m.Pix[i] = On
	}
	return m
}

// FromPix 由像素数组创建掩码，非零像素视为前景
func FromPix(w, h int, pix []uint8) (*Mask, error) {
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("掩码尺寸无效: %dx%d", w, h)
	}
	if len(pix) != w*h {
		return nil, fmt.Errorf("像素数量 %d 与尺寸 %dx%d 不匹配", len(pix), w, h)
	}
	m := New(w, h)
	for i, v := range pix {
		if v > 0 {
			m.Pix[i] = On
		}
	}
	return m, nil
}

// FromGray 由灰度图创建掩码，非零像素视为前景
func FromGray(g *image.Gray) *Mask {
	b := g.Bounds()
	m := New(b.Dx(), b.Dy())
	for y := 0; y < m.Height; y++ {
		row := g.Pix[y*g.Stride : y*g.Stride+m.Width]
		for x, v := range row {
			if v > 0 {
				m.Pix[y*m.Width+x] = On
			}
		}
	}
	return m
}

// Clone 深拷贝
func (m *Mask) Clone() *Mask {
	c := New(m.Width, m.Height)
	copy(c.Pix, m.Pix)
	return c
}

// At 像素是否为前景，越界返回 false
func (m *Mask) At(x, y int) bool {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return false
	}
	return m.Pix[y*m.Width+x] != Off
}

// Set 设置像素
func (m *Mask) Set(x, y int, on bool) {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return
	}
	if on {
		m.Pix[y*m.Width+x] = On
	} else {
		m.Pix[y*m.Width+x] = Off
	}
}

// Area 前景像素个数
func (m *Mask) Area() int {
	n := 0
	for _, v := range m.Pix {
		if v != Off {
			n++
		}
	}
	return n
}

// BBox 前景的外接矩形，空掩码返回零值
func (m *Mask) BBox() Rect {
	minX, minY := m.Width, m.Height
	maxX, maxY := -1, -1
	for y := 0; y < m.Height; y++ {
		row := m.Pix[y*m.Width : (y+1)*m.Width]
		for x, v := range row {
			if v == Off {
				continue
			}
			minX = min(minX, x)
			maxX = max(maxX, x)
			minY = min(minY, y)
			maxY = max(maxY, y)
		}
	}
	if maxX < 0 {
		return Rect{}
	}
	return Rect{X: minX, Y: minY, W: maxX - minX + 1, H: maxY - minY + 1}
}

// Invert 反转前景与背景
func (m *Mask) Invert() *Mask {
	out := New(m.Width, m.Height)
	for i, v := range m.Pix {
		if v == Off {
			out.Pix[i] = On
		}
	}
	return out
}

// Equal 两个掩码尺寸和像素是否完全一致
func (m *Mask) Equal(o *Mask) bool {
	if o == nil || m.Width != o.Width || m.Height != o.Height {
		return false
	}
	for i, v := range m.Pix {
		if (v != Off) != (o.Pix[i] != Off) {
			return false
		}
	}
	return true
}

// Gray 转换为灰度图
func (m *Mask) Gray() *image.Gray {
	g := image.NewGray(image.Rect(0, 0, m.Width, m.Height))
	copy(g.Pix, m.Pix)
	return g
}

// Alpha 转换为 Alpha 图，用于像素级命中测试
func (m *Mask) Alpha() *image.Alpha {
	a := image.NewAlpha(image.Rect(0, 0, m.Width, m.Height))
	copy(a.Pix, m.Pix)
	return a
}

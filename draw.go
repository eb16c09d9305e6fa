package vision

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"os"

	"github.com/up-zero/gotool/imageutil"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"

	"github.com/getcharzp/go-pointseg/mask"
)

// Annotation 单个需要绘制的分割结果
type Annotation struct {
	Mask  *mask.Mask
	Color color.RGBA
	Label string // 为空时不绘制文字
}

// Annotator 在原图上绘制 Mask 叠加层、外接框与得分文字
type Annotator struct {
	font     *opentype.Font
	face     font.Face
	fontSize float64
	// Opacity Mask 叠加层不透明度 [0,1]
	Opacity float64
	// LineWidth 外接框线宽，0 不绘制
	LineWidth int
}

// NewAnnotator 创建绘制工具
//
// # Params:
//
//	fontPath: 字体路径，为空时使用内置点阵字体
func NewAnnotator(fontPath string) (*Annotator, error) {
	a := &Annotator{Opacity: 0.5, LineWidth: 2}
	if fontPath == "" {
		a.face = basicfont.Face7x13
		return a, nil
	}

	fontBytes, err := os.ReadFile(fontPath)
	if err != nil {
		return nil, fmt.Errorf("打开字体文件失败：%w", err)
	}
	ttFont, err := opentype.Parse(fontBytes)
	if err != nil {
		return nil, fmt.Errorf("解析字体文件失败：%w", err)
	}

	a.font = ttFont
	if err := a.SetSize(14); err != nil {
		return nil, err
	}
	return a, nil
}

// SetSize 调整字体大小，内置字体不支持调整
func (a *Annotator) SetSize(fontSize float64) error {
	if a.font == nil || (a.face != nil && a.fontSize == fontSize) {
		return nil
	}
	nf, err := opentype.NewFace(a.font, &opentype.FaceOptions{
		Size:    fontSize,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return err
	}
	if a.face != nil {
		a.face.Close()
	}
	a.face = nf
	a.fontSize = fontSize
	return nil
}

// Annotate 复制原图并绘制全部结果
func (a *Annotator) Annotate(src image.Image, anns []Annotation) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)

	for _, ann := range anns {
		a.DrawMask(dst, ann.Mask, ann.Color)
		box := ann.Mask.BBox()
		if box.Empty() {
			continue
		}
		if a.LineWidth > 0 {
			imageutil.DrawThickRectOutline(dst, box.Rectangle(), ann.Color, a.LineWidth)
		}
		if ann.Label != "" {
			a.DrawText(dst, ann.Label, box.X+2, max(box.Y-3, a.ascent()), ann.Color)
		}
	}
	return dst
}

// DrawMask 按不透明度把 Mask 前景混合到 dst
func (a *Annotator) DrawMask(dst *image.RGBA, m *mask.Mask, c color.RGBA) {
	b := dst.Bounds()
	w, h := min(m.Width, b.Dx()), min(m.Height, b.Dy())
	alpha := min(max(a.Opacity, 0), 1)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if !m.At(x, y) {
				continue
			}
			o := dst.PixOffset(b.Min.X+x, b.Min.Y+y)
			dst.Pix[o+0] = blend(dst.Pix[o+0], c.R, alpha)
			dst.Pix[o+1] = blend(dst.Pix[o+1], c.G, alpha)
			dst.Pix[o+2] = blend(dst.Pix[o+2], c.B, alpha)
			dst.Pix[o+3] = 255
		}
	}
}

func blend(base, over uint8, alpha float64) uint8 {
	return uint8(float64(base)*(1-alpha) + float64(over)*alpha + 0.5)
}

// DrawText 绘制文本
//
// # Params:
//
//	img: 被绘制的图像
//	text: 绘制的文本
//	x, y: 基线起点
//	c: 绘制的颜色
func (a *Annotator) DrawText(img draw.Image, text string, x, y int, c color.Color) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: a.face,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}

func (a *Annotator) ascent() int {
	return a.face.Metrics().Ascent.Ceil()
}

// Close 释放资源
func (a *Annotator) Close() {
	if a.font != nil && a.face != nil {
		a.face.Close()
	}
}

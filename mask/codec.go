package mask

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
)

// Encoded 掩码的传输/存储格式: PNG 图像 + 源图坐标下的外接矩形
type Encoded struct {
	PNG  []byte `json:"png"`
	BBox Rect   `json:"bbox"`
}

// Image 转换为传输用的 NRGBA 图像
//
// R=G=B=掩码强度，强度大于 0 时 A=255，否则 A=0。
func (m *Mask) Image() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, m.Width, m.Height))
	for i, v := range m.Pix {
		o := i * 4
		img.Pix[o+0] = v
		img.Pix[o+1] = v
		img.Pix[o+2] = v
		if v > 0 {
			img.Pix[o+3] = 255
		}
	}
	return img
}

// EncodePNG 编码为 PNG
func EncodePNG(w io.Writer, m *Mask) error {
	if err := png.Encode(w, m.Image()); err != nil {
		return fmt.Errorf("编码掩码 PNG 失败: %w", err)
	}
	return nil
}

// DecodePNG 解码 PNG，alpha 大于 0 的像素视为前景
func DecodePNG(r io.Reader) (*Mask, error) {
	img, err := png.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("解码掩码 PNG 失败: %w", err)
	}
	return FromImage(img), nil
}

// FromImage 由任意图像创建掩码，alpha 大于 0 且亮度大于 0 的像素视为前景
func FromImage(img image.Image) *Mask {
	b := img.Bounds()
	m := New(b.Dx(), b.Dy())
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			if c.A > 0 && (c.R > 0 || c.G > 0 || c.B > 0) {
				m.Pix[y*m.Width+x] = On
			}
		}
	}
	return m
}

// Encode 编码为传输格式
func Encode(m *Mask) (*Encoded, error) {
	var buf bytes.Buffer
	if err := EncodePNG(&buf, m); err != nil {
		return nil, err
	}
	return &Encoded{PNG: buf.Bytes(), BBox: m.BBox()}, nil
}

// Decode 由传输格式还原掩码
func (e *Encoded) Decode() (*Mask, error) {
	return DecodePNG(bytes.NewReader(e.PNG))
}

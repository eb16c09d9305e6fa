package sam2

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/getcharzp/go-pointseg/predictor"
)

func TestNormalizeAndPad(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 2, 1))
	src.Set(0, 0, color.RGBA{R: 255, G: 255, B: 255, A: 255})

	data := normalizeAndPad(src, 4, 2)
	require.Len(t, data, 3*8)

	plane := 8
	require.InDelta(t, (1-MeanR)/StdR, data[0], 1e-5)
	require.InDelta(t, (1-MeanG)/StdG, data[plane], 1e-5)
	require.InDelta(t, (1-MeanB)/StdB, data[2*plane], 1e-5)
	// 黑色像素
	require.InDelta(t, -MeanR/StdR, data[1], 1e-5)
	// 填充区域为 0
	require.Zero(t, data[2])
	require.Zero(t, data[plane+7])
}

func TestPromptTensors(t *testing.T) {
	coords, labels := promptTensors([]predictor.Point{
		{X: 10, Y: 20, Label: predictor.LabelPositive},
		{X: 4, Y: 2, Label: predictor.LabelNegative},
	}, 0.5)
	require.Equal(t, []float32{5, 10, 2, 1}, coords)
	require.Equal(t, []int64{1, 0}, labels)
}

func TestValidMaskSize(t *testing.T) {
	w, h := validMaskSize(1024, 768)
	require.Equal(t, 256, w)
	require.Equal(t, 192, h)

	w, h = validMaskSize(1024, 2)
	require.Equal(t, 256, w)
	require.Equal(t, 1, h)
}

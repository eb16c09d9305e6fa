package main

import (
	"fmt"
	"image/color"

	"github.com/up-zero/gotool/imageutil"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	vision "github.com/getcharzp/go-pointseg"
)

func (a *app) point(c *cli.Context) error {
	points, err := parsePoints(c.StringSlice(flagPoint))
	if err != nil {
		return err
	}
	img, _, err := readImage(c.String(flagImage))
	if err != nil {
		return err
	}

	p, err := a.newPipeline()
	if err != nil {
		return err
	}
	defer p.Close()

	emb, err := p.predictor.Encode(c.Context, img)
	if err != nil {
		return err
	}
	defer emb.Release()

	res, err := p.service.SegmentAtPoints(c.Context, emb, points)
	if err != nil {
		return err
	}

	out := c.String(flagOut)
	if err := writeMask(out, res.Mask); err != nil {
		return err
	}

	annotator, err := vision.NewAnnotator(c.String(flagFont))
	if err != nil {
		return err
	}
	defer annotator.Close()
	overlay := annotator.Annotate(img, []vision.Annotation{{
		Mask:  res.Mask,
		Color: color.RGBA{R: 30, G: 144, B: 255, A: 255},
		Label: fmt.Sprintf("%.2f", res.Quality),
	}})
	if err := imageutil.Save(overlayPath(out), overlay, 100); err != nil {
		return err
	}

	a.logger.Info("segmented",
		zap.String("out", out),
		zap.Int("area", res.Area),
		zap.Float64("score", res.Score),
		zap.Float64("quality", res.Quality),
	)
	return nil
}

package main

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"path/filepath"

	"github.com/up-zero/gotool/imageutil"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	vision "github.com/getcharzp/go-pointseg"
	"github.com/getcharzp/go-pointseg/autoseg"
	"github.com/getcharzp/go-pointseg/store"
)

// palette 叠加图颜色，按序循环
var palette = []color.RGBA{
	{R: 230, G: 25, B: 75, A: 255},
	{R: 60, G: 180, B: 75, A: 255},
	{R: 255, G: 225, B: 25, A: 255},
	{R: 0, G: 130, B: 200, A: 255},
	{R: 245, G: 130, B: 48, A: 255},
	{R: 145, G: 30, B: 180, A: 255},
	{R: 70, G: 240, B: 240, A: 255},
	{R: 240, G: 50, B: 230, A: 255},
}

func (a *app) auto(c *cli.Context) error {
	ctx := c.Context
	img, data, err := readImage(c.String(flagImage))
	if err != nil {
		return err
	}
	outDir := c.String(flagOutDir)
	digest := store.BytesMD5(data)

	var ms *store.MaskStore
	if !c.Bool(flagNoCache) {
		if ms = a.openStore(ctx); ms != nil {
			defer ms.Close()
		}
	}

	if ms != nil {
		entries, err := ms.GetAutoResult(ctx, digest)
		switch {
		case err == nil:
			a.logger.Info("auto result cache hit", zap.String("md5", digest), zap.Int("masks", len(entries)))
			return a.writeCached(c, img, entries, outDir)
		case !errors.Is(err, store.ErrNotFound):
			a.logger.Warn("auto result cache read failed", zap.Error(err))
		}
	}

	p, err := a.newPipeline()
	if err != nil {
		return err
	}
	defer p.Close()

	emb, err := p.predictor.Encode(ctx, img)
	if err != nil {
		return err
	}
	defer emb.Release()

	b := img.Bounds()
	gen := autoseg.NewGenerator(p.service, a.cfg.AutoConfig(), a.logger)

	var segs []*autoseg.Segment
	for batch, err := range gen.Generate(ctx, emb, b.Dx(), b.Dy()).All() {
		if err != nil {
			return err
		}
		a.logger.Info("batch done",
			zap.Int("batch", batch.BatchIndex+1),
			zap.Int("total", batch.TotalBatches),
			zap.Float64("progress", batch.Progress),
			zap.Int("masks", len(batch.Masks)),
		)
		segs = append(segs, batch.Masks...)
	}

	anns := make([]vision.Annotation, 0, len(segs))
	for i, seg := range segs {
		if err := writeMask(filepath.Join(outDir, fmt.Sprintf("mask_%03d.png", i)), seg.Mask); err != nil {
			return err
		}
		anns = append(anns, vision.Annotation{
			Mask:  seg.Mask,
			Color: palette[i%len(palette)],
			Label: fmt.Sprintf("%.2f", seg.Score),
		})
	}
	if err := a.writeOverlay(c, img, anns, outDir); err != nil {
		return err
	}

	if ms != nil {
		if err := ms.SetAutoResult(ctx, digest, segs); err != nil {
			a.logger.Warn("auto result cache write failed", zap.Error(err))
		}
	}
	a.logger.Info("auto segmentation done", zap.Int("masks", len(segs)), zap.String("out", outDir))
	return nil
}

func (a *app) writeCached(c *cli.Context, img image.Image, entries []store.AutoEntry, outDir string) error {
	anns := make([]vision.Annotation, 0, len(entries))
	for i := range entries {
		m, err := entries[i].Mask.Decode()
		if err != nil {
			return err
		}
		if err := writeMask(filepath.Join(outDir, fmt.Sprintf("mask_%03d.png", i)), m); err != nil {
			return err
		}
		anns = append(anns, vision.Annotation{
			Mask:  m,
			Color: palette[i%len(palette)],
			Label: fmt.Sprintf("%.2f", entries[i].Score),
		})
	}
	return a.writeOverlay(c, img, anns, outDir)
}

func (a *app) writeOverlay(c *cli.Context, img image.Image, anns []vision.Annotation, outDir string) error {
	annotator, err := vision.NewAnnotator(c.String(flagFont))
	if err != nil {
		return err
	}
	defer annotator.Close()
	annotator.Opacity = 0.45
	return imageutil.Save(filepath.Join(outDir, "overlay.png"), annotator.Annotate(img, anns), 100)
}

package segment_test

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/getcharzp/go-pointseg/mask"
	"github.com/getcharzp/go-pointseg/predictor"
	"github.com/getcharzp/go-pointseg/predictor/predictortest"
	"github.com/getcharzp/go-pointseg/segment"
)

func newService(backend *predictortest.Backend, cfg segment.Config) *segment.Service {
	return segment.NewService(predictor.New(backend, predictor.DefaultConfig(), nil), cfg, nil)
}

func whiteImage(w, h int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	return img
}

func TestSegmentAtPoints_FullFrame(t *testing.T) {
	svc := newService(&predictortest.Backend{}, segment.DefaultConfig())
	emb := predictortest.NewEmbeddings(100, 100)

	res, err := svc.SegmentAtPoints(context.Background(), emb,
		[]predictor.Point{{X: 50, Y: 50, Label: predictor.LabelPositive}})
	require.NoError(t, err)
	require.Equal(t, mask.Rect{X: 0, Y: 0, W: 100, H: 100}, res.BBox)
	require.Equal(t, 10000, res.Area)
	require.Equal(t, res.Area, res.Mask.Area())
	require.InDelta(t, 0.95, res.Score, 1e-6)
}

func TestSegmentAtPoints_EmptyPoints(t *testing.T) {
	backend := &predictortest.Backend{}
	svc := newService(backend, segment.DefaultConfig())

	_, err := svc.SegmentAtPoints(context.Background(), predictortest.NewEmbeddings(10, 10), nil)
	require.ErrorIs(t, err, predictor.ErrEmptyPoints)
	require.Zero(t, backend.DecodeCount())

	_, err = svc.SegmentAtPoints(context.Background(), nil,
		[]predictor.Point{{X: 1, Y: 1, Label: predictor.LabelPositive}})
	require.ErrorIs(t, err, predictor.ErrNoEmbeddings)
}

func TestSegmentAtPoints_OnlyPositivePointsGateComponents(t *testing.T) {
	backend := &predictortest.Backend{
		DecodeFunc: func(ctx context.Context, emb predictor.Embeddings, points []predictor.Point) (*predictor.Output, error) {
			out := predictortest.Rect(20, 20, 0.9, 2, 5, 7, 15, 8, -8)
			for y := 5; y < 15; y++ {
				for x := 12; x < 18; x++ {
					out.Logits[y*20+x] = 8
				}
			}
			return out, nil
		},
	}
	svc := newService(backend, segment.DefaultConfig())

	res, err := svc.SegmentAtPoints(context.Background(), predictortest.NewEmbeddings(100, 100), []predictor.Point{
		{X: 22, Y: 50, Label: predictor.LabelPositive},
		{X: 75, Y: 50, Label: predictor.LabelNegative},
	})
	require.NoError(t, err)
	require.True(t, res.Mask.At(22, 50))
	require.False(t, res.Mask.At(75, 50))
	require.LessOrEqual(t, res.BBox.X+res.BBox.W, 50)
	require.Len(t, mask.ConnectedComponents(res.Mask).Components, 1)

	// 提示点全部被截断到图内
	res, err = svc.SegmentAtPoints(context.Background(), predictortest.NewEmbeddings(100, 100), []predictor.Point{
		{X: 500, Y: 50, Label: predictor.LabelPositive},
	})
	require.NoError(t, err)
	require.Positive(t, res.Area)
}

func TestSegmentAtPoints_LogitThreshold(t *testing.T) {
	backend := &predictortest.Backend{
		DecodeFunc: func(ctx context.Context, emb predictor.Embeddings, points []predictor.Point) (*predictor.Output, error) {
			return predictortest.Uniform(16, 16, 0.9, 1), nil
		},
	}
	pts := []predictor.Point{{X: 5, Y: 5, Label: predictor.LabelPositive}}
	emb := predictortest.NewEmbeddings(40, 40)

	loose, err := newService(backend, segment.DefaultConfig()).SegmentAtPoints(context.Background(), emb, pts)
	require.NoError(t, err)
	require.Equal(t, 1600, loose.Area)

	cfg := segment.DefaultConfig()
	cfg.LogitThreshold = 2
	tight, err := newService(backend, cfg).SegmentAtPoints(context.Background(), emb, pts)
	require.NoError(t, err)
	require.Zero(t, tight.Area)
	require.True(t, tight.BBox.Empty())
}

func TestSegment_GuidedRefine(t *testing.T) {
	// 引导图左右两半亮度不同，Mask 边界落在亮度边界附近
	img := image.NewGray(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			if x < 32 {
				img.SetGray(x, y, color.Gray{Y: 230})
			} else {
				img.SetGray(x, y, color.Gray{Y: 20})
			}
		}
	}
	backend := &predictortest.Backend{
		DecodeFunc: func(ctx context.Context, emb predictor.Embeddings, points []predictor.Point) (*predictor.Output, error) {
			return predictortest.Rect(16, 16, 0.9, 0, 0, 9, 16, 6, -6), nil
		},
	}
	cfg := segment.DefaultConfig()
	cfg.GuidedRefine = true
	cfg.GuidedRadius = 16
	cfg.GuidedEps = 1e-4
	cfg.Snap.BandCoverage = 2 // 关闭吸附
	svc := newService(backend, cfg)

	ws := segment.NewWorkspace(svc.Predictor(), nil)
	defer ws.Destroy()
	require.NoError(t, ws.Open("doc", img))
	emb, err := ws.Embed(context.Background(), "doc")
	require.NoError(t, err)
	guide, err := ws.Guide("doc")
	require.NoError(t, err)

	pts := []predictor.Point{{X: 10, Y: 30, Label: predictor.LabelPositive}}
	plain, err := svc.SegmentAtPoints(context.Background(), emb, pts)
	require.NoError(t, err)
	refined, err := svc.Segment(context.Background(), emb, pts, guide)
	require.NoError(t, err)

	require.Greater(t, plain.BBox.W, 32)
	require.Equal(t, 32, refined.BBox.W)
}

type listener struct {
	mu     sync.Mutex
	ready  []string
	failed []error
}

func (l *listener) EmbeddingsReady(docID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ready = append(l.ready, docID)
}

func (l *listener) EmbeddingsFailed(docID string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failed = append(l.failed, err)
}

func (l *listener) counts() (int, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.ready), len(l.failed)
}

func TestWorkspace_EmbedOnce(t *testing.T) {
	gate := make(chan struct{})
	backend := &predictortest.Backend{
		EncodeFunc: func(ctx context.Context, img image.Image) (predictor.Embeddings, error) {
			<-gate
			return predictortest.NewEmbeddings(img.Bounds().Dx(), img.Bounds().Dy()), nil
		},
	}
	ws := segment.NewWorkspace(predictor.New(backend, predictor.DefaultConfig(), nil), nil)
	l := &listener{}
	ws.AddListener(l)
	require.NoError(t, ws.Open("doc", whiteImage(8, 8)))
	require.False(t, ws.Ready("doc"))

	var wg sync.WaitGroup
	results := make([]predictor.Embeddings, 5)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			emb, err := ws.Embed(context.Background(), "doc")
			require.NoError(t, err)
			results[i] = emb
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()

	require.Equal(t, 1, backend.EncodeCount())
	for _, emb := range results {
		require.Same(t, results[0], emb)
	}
	require.True(t, ws.Ready("doc"))
	ready, _ := l.counts()
	require.Equal(t, 1, ready)

	// 已就绪时直接返回缓存
	_, err := ws.Embed(context.Background(), "doc")
	require.NoError(t, err)
	require.Equal(t, 1, backend.EncodeCount())

	emb, err := ws.Embeddings("doc")
	require.NoError(t, err)
	require.NoError(t, ws.Close("doc"))
	require.True(t, emb.Released())
	require.False(t, ws.Ready("doc"))
	require.ErrorIs(t, ws.Close("doc"), segment.ErrDocumentNotOpen)
	_, err = ws.Embeddings("doc")
	require.ErrorIs(t, err, segment.ErrDocumentNotOpen)
}

func TestWorkspace_ReplaceAndDestroy(t *testing.T) {
	backend := &predictortest.Backend{}
	ws := segment.NewWorkspace(predictor.New(backend, predictor.DefaultConfig(), nil), nil)

	require.NoError(t, ws.Open("a", whiteImage(8, 8)))
	first, err := ws.Embed(context.Background(), "a")
	require.NoError(t, err)

	require.NoError(t, ws.Open("a", whiteImage(16, 16)))
	require.True(t, first.Released())
	require.False(t, ws.Ready("a"))
	_, err = ws.Embeddings("a")
	require.ErrorIs(t, err, predictor.ErrNoEmbeddings)

	second, err := ws.Embed(context.Background(), "a")
	require.NoError(t, err)
	w, h := second.Size()
	require.Equal(t, 16, w)
	require.Equal(t, 16, h)

	require.NoError(t, ws.Open("b", whiteImage(4, 4)))
	third, err := ws.Embed(context.Background(), "b")
	require.NoError(t, err)

	require.NoError(t, ws.Destroy())
	require.True(t, second.Released())
	require.True(t, third.Released())
}

func TestWorkspace_PrepareRetriesAfterFailure(t *testing.T) {
	var mu sync.Mutex
	fail := true
	backend := &predictortest.Backend{
		EncodeFunc: func(ctx context.Context, img image.Image) (predictor.Embeddings, error) {
			mu.Lock()
			defer mu.Unlock()
			if fail {
				return nil, errors.New("backend unavailable")
			}
			return predictortest.NewEmbeddings(4, 4), nil
		},
	}
	ws := segment.NewWorkspace(predictor.New(backend, predictor.DefaultConfig(), nil), nil)
	defer ws.Destroy()
	l := &listener{}
	ws.AddListener(l)
	require.NoError(t, ws.Open("doc", whiteImage(4, 4)))

	ws.Prepare("doc")
	require.Eventually(t, func() bool {
		_, failed := l.counts()
		return failed == 1
	}, time.Second, 5*time.Millisecond)
	require.False(t, ws.Ready("doc"))
	l.mu.Lock()
	require.ErrorIs(t, l.failed[0], predictor.ErrEmbeddingCompute)
	l.mu.Unlock()

	mu.Lock()
	fail = false
	mu.Unlock()

	ws.Prepare("doc")
	require.Eventually(t, func() bool { return ws.Ready("doc") }, time.Second, 5*time.Millisecond)
	require.Equal(t, 2, backend.EncodeCount())
}

func TestWorker_SubmitAndStop(t *testing.T) {
	backend := &predictortest.Backend{}
	p := predictor.New(backend, predictor.DefaultConfig(), nil)
	svc := segment.NewService(p, segment.DefaultConfig(), nil)
	ws := segment.NewWorkspace(p, nil)
	defer ws.Destroy()

	worker := segment.NewWorker(svc, ws, nil)
	worker.Start(context.Background())

	require.NoError(t, ws.Open("doc", whiteImage(32, 32)))
	pts := []predictor.Point{{X: 16, Y: 16, Label: predictor.LabelPositive}}

	// 特征未就绪
	id, ch := worker.Submit("doc", pts)
	resp := <-ch
	require.Equal(t, id, resp.ID)
	require.ErrorIs(t, resp.Err, predictor.ErrNoEmbeddings)

	_, ch = worker.Submit("missing", pts)
	require.ErrorIs(t, (<-ch).Err, segment.ErrDocumentNotOpen)

	worker.Prepare("doc")
	require.Eventually(t, func() bool { return worker.Ready("doc") }, time.Second, 5*time.Millisecond)

	id, ch = worker.Submit("doc", pts)
	resp = <-ch
	require.NoError(t, resp.Err)
	require.Equal(t, id, resp.ID)
	require.Equal(t, "doc", resp.DocID)
	require.Equal(t, 32*32, resp.Result.Area)

	_, ch = worker.Submit("doc", nil)
	require.ErrorIs(t, (<-ch).Err, predictor.ErrEmptyPoints)

	worker.Stop()
	worker.Stop()
	_, ch = worker.Submit("doc", pts)
	require.ErrorIs(t, (<-ch).Err, segment.ErrWorkerStopped)
}

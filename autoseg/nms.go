package autoseg

import (
	"sort"

	"github.com/getcharzp/go-pointseg/mask"
)

// NonMaxSuppression 贪心框 NMS，返回保留下来的下标 (按得分降序)
//
// 候选只有在与所有已保留框的 IoU 都小于 thresh 时才会被保留，得分相同时先出现的优先。
//
// # Params:
//
//	boxes: 候选框
//	scores: 与 boxes 一一对应的得分
//	thresh: IoU 阈值
func NonMaxSuppression(boxes []mask.Rect, scores []float64, thresh float64) []int {
	order := make([]int, len(boxes))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return scores[order[i]] > scores[order[j]]
	})

	keep := make([]int, 0, len(order))
	for _, i := range order {
		suppressed := false
		for _, k := range keep {
			if BoxIoU(boxes[i], boxes[k]) >= thresh {
				suppressed = true
				break
			}
		}
		if !suppressed {
			keep = append(keep, i)
		}
	}
	return keep
}

// BoxIoU 两个框的交并比
func BoxIoU(a, b mask.Rect) float64 {
	inter := a.Rectangle().Intersect(b.Rectangle())
	if inter.Empty() {
		return 0
	}
	interArea := inter.Dx() * inter.Dy()
	union := a.Area() + b.Area() - interArea
	if union <= 0 {
		return 0
	}
	return float64(interArea) / float64(union)
}

package predictor

// StabilityScore 阈值分别上移、下移 offset 后两个前景集合的 Jaccard 重叠
//
// 上移阈值得到的集合必然包含于下移阈值得到的集合，所以交集/并集即两者计数之比。
// 边界在阈值微调下移动越多，得分越低。两者都为空时返回 0。
func StabilityScore(logits []float32, threshold, offset float32) float64 {
	high, low := 0, 0
	for _, v := range logits {
		if v > threshold+offset {
			high++
		}
		if v > threshold-offset {
			low++
		}
	}
	if low == 0 {
		return 0
	}
	return float64(high) / float64(low)
}

// Compactness 紧凑度 = 1 - min(1, 跳变次数/(前景像素*4))
//
// 跳变次数为按行、按列扫描时相邻像素前景/背景切换的次数，斑点越多得分越低。
// 空 Mask 返回 0。
func Compactness(logits []float32, w, h int, threshold float32) float64 {
	positive := 0
	transitions := 0
	for y := 0; y < h; y++ {
		row := logits[y*w : (y+1)*w]
		for x, v := range row {
			on := v > threshold
			if on {
				positive++
			}
			if x > 0 && on != (row[x-1] > threshold) {
				transitions++
			}
			if y > 0 && on != (logits[(y-1)*w+x] > threshold) {
				transitions++
			}
		}
	}
	if positive == 0 {
		return 0
	}
	return 1 - min(1, float64(transitions)/float64(positive*4))
}

// Coverage 前景像素占比
func Coverage(logits []float32, threshold float32) float64 {
	if len(logits) == 0 {
		return 0
	}
	positive := 0
	for _, v := range logits {
		if v > threshold {
			positive++
		}
	}
	return float64(positive) / float64(len(logits))
}

// QualityScore 综合得分 = iou * (1 + 0.4*stability + 0.4*compactness) * 覆盖率惩罚
func QualityScore(iou, stability, compactness, coverage, coverageEps float64) float64 {
	score := iou * (1 + 0.4*stability + 0.4*compactness)
	if coverage <= coverageEps {
		score *= 0.5
	}
	return score
}

// Select 选出最终候选
//
// 在满足全部阈值的候选中取综合得分最高者；没有合格候选时退化为综合得分最高者，
// 单次调用不会因为质量不达标而失败。qualified 表示结果是否满足阈值，候选为空时 index 为 -1。
func Select(cands []Candidate, th Thresholds) (index int, qualified bool) {
	index = -1
	for i, c := range cands {
		if !th.Accepts(c) {
			continue
		}
		if index < 0 || c.Quality > cands[index].Quality {
			index = i
		}
	}
	if index >= 0 {
		return index, true
	}

	for i, c := range cands {
		if index < 0 || c.Quality > cands[index].Quality {
			index = i
		}
	}
	return index, false
}

package segment

import (
	"fmt"
	"sort"
)

const segmentSeconds = 60.0

// segmentPlan は1分インデックス分の抽出計画です。同じ分が両フォーマットで
// 選択されている場合は2つのセグメントリクエストになります。
type segmentPlan struct {
	Minute   int
	Start    float64
	Duration float64
	Default  bool
	Vertical bool
}

// planSegments は選択された分インデックスの和集合から抽出計画を組み立てます。
// 進捗率を再現可能にするため、計画は分インデックスの昇順で返します。
// 開始時刻がソース長以上の分は計画前に拒否します（下流に長さ0の
// ウィンドウを渡さないため）。
func planSegments(defaults, verticals []int, durationSecs float64) ([]segmentPlan, error) {
	if durationSecs <= 0 {
		return nil, newError("PROBE_FAILED", "動画の長さが不正です。", nil)
	}

	byMinute := make(map[int]*segmentPlan)
	mark := func(minutes []int, vertical bool) {
		for _, m := range minutes {
			plan, ok := byMinute[m]
			if !ok {
				plan = &segmentPlan{Minute: m}
				byMinute[m] = plan
			}
			if vertical {
				plan.Vertical = true
			} else {
				plan.Default = true
			}
		}
	}
	mark(defaults, false)
	mark(verticals, true)

	if len(byMinute) == 0 {
		return nil, newError("INVALID_INPUT", "抽出するセグメントが選択されていません。", nil)
	}

	minutes := make([]int, 0, len(byMinute))
	for m := range byMinute {
		minutes = append(minutes, m)
	}
	sort.Ints(minutes)

	plans := make([]segmentPlan, 0, len(minutes))
	for _, m := range minutes {
		if m < 0 {
			return nil, newError("INVALID_INPUT", fmt.Sprintf("分インデックスに負の値は指定できません (received: %d)", m), nil)
		}
		start := float64(m) * segmentSeconds
		if start >= durationSecs {
			return nil, newError("SELECTION_OUT_OF_RANGE",
				fmt.Sprintf("分 %d は動画の長さ（%.1f秒）を超えています。", m+1, durationSecs), nil)
		}
		end := start + segmentSeconds
		if end > durationSecs {
			end = durationSecs
		}
		plan := *byMinute[m]
		plan.Start = start
		plan.Duration = end - start
		plans = append(plans, plan)
	}

	return plans, nil
}

// outputCount は計画が生成する出力ファイル数を返します。
func outputCount(plans []segmentPlan) int {
	count := 0
	for _, p := range plans {
		if p.Default {
			count++
		}
		if p.Vertical {
			count++
		}
	}
	return count
}

package segment

import (
	"context"
	"encoding/json"
	"strconv"
)

type ffprobeOutput struct {
	Format ffprobeFormat `json:"format"`
}

type ffprobeFormat struct {
	Duration string `json:"duration"`
}

// probeDuration はffprobeでソース動画の長さ（秒）を取得します。
func (s *Service) probeDuration(ctx context.Context, sourcePath string) (float64, error) {
	result, err := s.runner.Run(ctx, s.cfg.FFprobePath,
		"-v", "error",
		"-show_format",
		"-of", "json",
		sourcePath,
	)
	if err != nil {
		return 0, newError("PROBE_FAILED", "動画の長さの取得に失敗しました。", err)
	}

	var ff ffprobeOutput
	if err := json.Unmarshal([]byte(result.Stdout), &ff); err != nil {
		return 0, newError("PROBE_FAILED", "ffprobeの出力を解析できませんでした。", err)
	}

	duration, err := strconv.ParseFloat(ff.Format.Duration, 64)
	if err != nil || duration <= 0 {
		return 0, newError("PROBE_FAILED", "動画の長さが取得できませんでした。", err)
	}
	return duration, nil
}

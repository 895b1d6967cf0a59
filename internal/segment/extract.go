package segment

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/yourusername/clip-forge/internal/platform"
)

// verticalCropScale は縦型リフレームのフィルタ式です。
// 中央の9:16領域を切り出してから1080x1920へ拡大縮小します。
// 先にscaleすると中央被写体の前提が崩れるため、crop→scaleの順序は固定です。
const verticalCropScale = "crop=ih*(9/16):ih:(iw-ih*(9/16))/2:0,scale=1080:1920"

// CropGeometry は幅W・高さHのソースに対する9:16クロップ領域を返します。
func CropGeometry(width, height int) (cropWidth, xOffset int) {
	cropWidth = height * 9 / 16
	xOffset = (width - cropWidth) / 2
	return cropWidth, xOffset
}

func verticalFilter(scaleFlags string) string {
	return verticalCropScale + scaleFlags
}

// buildExtractArgs は1回のffmpeg呼び出しの引数列を組み立てます。
func buildExtractArgs(profile platform.Profile, sourcePath, outputPath string, startSecs, durationSecs float64, variant Variant) []string {
	args := []string{"-hide_banner", "-loglevel", "error"}

	if profile.HWAccel != "" {
		args = append(args, "-hwaccel", profile.HWAccel)
	}
	args = append(args, profile.InputArgs...)

	args = append(args,
		"-ss", formatSeconds(startSecs),
		"-i", sourcePath,
		"-t", formatSeconds(durationSecs),
	)

	args = append(args, "-c:v", profile.Encoder)
	args = append(args, profile.EncodeArgs...)

	if variant == VariantVertical {
		args = append(args, "-vf", verticalFilter(profile.ScaleFlags))
	}

	args = append(args, profile.AudioArgs...)
	args = append(args, "-movflags", "+faststart")

	// 一時ファイルの拡張子からはコンテナを推定できないため明示する
	args = append(args, "-f", "mp4", "-y", outputPath)

	return args
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// extractSegment は1つの(分, フォーマット)ペアを外部ffmpegで切り出します。
// 出力は一時パスに書き込み、成功時のみ最終パスへリネームします。
// 失敗時に書きかけのファイルが有効な出力として残ることはありません。
func (s *Service) extractSegment(ctx context.Context, sourcePath, outputPath string, startSecs, durationSecs float64, variant Variant) error {
	if durationSecs <= 0 {
		return newError("INVALID_INPUT", "セグメントの長さが不正です。", nil)
	}

	profile := platform.Resolve(s.caps, variant == VariantVertical)
	timeout := profile.SegmentTimeout
	if s.cfg.SegmentTimeoutSecs > 0 {
		timeout = time.Duration(s.cfg.SegmentTimeoutSecs) * time.Second
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tempPath := outputPath + ".part"
	args := buildExtractArgs(profile, sourcePath, tempPath, startSecs, durationSecs, variant)

	result, err := s.runner.Run(runCtx, s.cfg.FFmpegPath, args...)
	if err != nil {
		_ = os.Remove(tempPath)
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return newError("EXTRACTION_TIMEOUT",
				fmt.Sprintf("セグメント抽出がタイムアウトしました（%s）。", timeout), runCtx.Err())
		}
		return newError("EXTRACTION_FAILED",
			fmt.Sprintf("ffmpegによるセグメント抽出に失敗しました (exit=%d): %s", result.ExitCode, stderrTail(result.Stderr)), err)
	}

	if err := os.Rename(tempPath, outputPath); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("出力ファイルの確定に失敗しました: %w", err)
	}
	return nil
}

// stderrTail はffmpegの診断出力の末尾を返します。
func stderrTail(stderr string) string {
	stderr = strings.TrimSpace(stderr)
	const maxLen = 512
	if len(stderr) > maxLen {
		stderr = "..." + stderr[len(stderr)-maxLen:]
	}
	if stderr == "" {
		return "(no diagnostic output)"
	}
	return stderr
}

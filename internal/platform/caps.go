// Package platform はプラットフォーム能力の検出とエンコーダプロファイルの解決を提供します。
package platform

import (
	"bufio"
	"context"
	"os/exec"
	"runtime"
	"strings"
	"sync"
)

// probedEncoders は ffmpeg -encoders の出力から確認するエンコーダの一覧です。
var probedEncoders = []string{
	"h264_videotoolbox",
	"h264_nvenc",
	"h264_qsv",
	"h264_vaapi",
	"libx264",
}

// Caps は実行環境の能力を表す値オブジェクトです。
// 検出結果はプロセス実行中に変化しないため、一度検出したらキャッシュして構いません。
type Caps struct {
	OSName       string          // darwin, windows, linux など
	Arch         string          // amd64, arm64 など
	AppleSilicon bool            // Apple Silicon (M系) かどうか
	CPUCount     int             // 論理CPUコア数
	Encoders     map[string]bool // ffmpegが報告したエンコーダの可用性
}

// HasEncoder は指定エンコーダが利用可能かを返します。
func (c Caps) HasEncoder(name string) bool {
	return c.Encoders[name]
}

// Detect は現在のプラットフォーム能力を検出します。
// ffmpegのプローブに失敗した場合はハードウェアエンコーダなしとして扱い、
// エラーは返しません（ソフトウェアフォールバックが常に存在するため）。
func Detect(ctx context.Context, ffmpegPath string) Caps {
	caps := Caps{
		OSName:   runtime.GOOS,
		Arch:     runtime.GOARCH,
		CPUCount: runtime.NumCPU(),
		Encoders: map[string]bool{},
	}
	caps.AppleSilicon = caps.OSName == "darwin" && caps.Arch == "arm64"

	encoders, err := probeEncoders(ctx, ffmpegPath)
	if err != nil {
		// ffmpeg自体が見つからない場合もプロファイル解決は成立させる
		return caps
	}
	caps.Encoders = encoders
	return caps
}

var (
	currentOnce sync.Once
	currentCaps Caps
)

// Current はプロセス生存期間中キャッシュされた Caps を返します。
func Current(ctx context.Context, ffmpegPath string) Caps {
	currentOnce.Do(func() {
		currentCaps = Detect(ctx, ffmpegPath)
	})
	return currentCaps
}

func probeEncoders(ctx context.Context, ffmpegPath string) (map[string]bool, error) {
	cmd := exec.CommandContext(ctx, ffmpegPath, "-hide_banner", "-encoders")
	output, err := cmd.Output()
	if err != nil {
		return nil, err
	}
	return parseEncoderList(string(output)), nil
}

func parseEncoderList(output string) map[string]bool {
	result := make(map[string]bool)
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		for _, name := range probedEncoders {
			if strings.Contains(line, name) {
				result[name] = true
			}
		}
	}
	return result
}

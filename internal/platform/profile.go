package platform

import (
	"strconv"
	"time"
)

// Profile は1回のエンコード実行に使用するパラメータ一式です。
type Profile struct {
	Encoder           string        // ffmpegの -c:v に渡すエンコーダ名
	HWAccel           string        // -hwaccel に渡す値（空文字は指定なし）
	InputArgs         []string      // 入力の前に置くデコード側の引数
	EncodeArgs        []string      // エンコーダ固有の引数
	AudioArgs         []string      // 音声エンコードの引数
	ScaleFlags        string        // scaleフィルタに付加するフラグ（":flags=lanczos" など）
	ThreadCount       int           // ffmpegに渡すスレッド数
	Hardware          bool          // ハードウェアエンコードかどうか
	SegmentTimeout    time.Duration // 1セグメントあたりの実行タイムアウト
	EncodeConcurrency int           // 同時に実行してよいエンコード数
}

// ハードウェアエンコーダは同時セッション数に上限があるため控えめに絞る。
const hardwareEncodeConcurrency = 2

const (
	hardwareSegmentTimeout = 2 * time.Minute
	softwareSegmentTimeout = 5 * time.Minute
)

// Resolve は検出済みの能力から使用するエンコーダプロファイルを決定します。
// 優先順: OSネイティブのハードウェアエンコーダ → 汎用ソフトウェアエンコーダ。
// 不在のハードウェアパスを選ぶとffmpegが実行時に異常終了するため、
// 可用性は必ず事前プローブの結果（Caps.Encoders）で判定します。
// フォールバックが常に存在するのでエラーは返しません。
func Resolve(caps Caps, vertical bool) Profile {
	profile := Profile{
		AudioArgs:         []string{"-c:a", "aac", "-b:a", "128k"},
		ThreadCount:       optimalThreadCount(caps),
		SegmentTimeout:    softwareSegmentTimeout,
		EncodeConcurrency: softwareConcurrency(caps),
	}

	switch {
	case caps.OSName == "darwin" && caps.HasEncoder("h264_videotoolbox"):
		profile.Encoder = "h264_videotoolbox"
		profile.HWAccel = "videotoolbox"
		profile.Hardware = true
		profile.EncodeArgs = videotoolboxArgs(vertical)
		if caps.AppleSilicon {
			profile.InputArgs = []string{
				"-hwaccel_output_format", "videotoolbox_vld",
				"-threads", strconv.Itoa(profile.ThreadCount),
			}
			profile.ScaleFlags = ":flags=lanczos"
		}
	case caps.OSName == "windows" && caps.HasEncoder("h264_nvenc"):
		profile.Encoder = "h264_nvenc"
		profile.HWAccel = "cuda"
		profile.Hardware = true
		profile.EncodeArgs = []string{
			"-preset", "p7",
			"-cq", "20",
			"-profile:v", "high",
			"-rc", "vbr_hq",
			"-bf", "4",
		}
	case caps.OSName == "windows" && caps.HasEncoder("h264_qsv"):
		profile.Encoder = "h264_qsv"
		profile.HWAccel = "dxva2"
		profile.Hardware = true
		profile.EncodeArgs = []string{
			"-preset", "veryfast",
			"-profile:v", "high",
		}
	case caps.OSName == "linux" && caps.HasEncoder("h264_vaapi"):
		profile.Encoder = "h264_vaapi"
		profile.HWAccel = "vaapi"
		profile.Hardware = true
		profile.EncodeArgs = []string{"-profile:v", "high"}
	default:
		// 汎用ソフトウェアエンコーダへの最終フォールバック
		profile.Encoder = "libx264"
		profile.EncodeArgs = []string{
			"-preset", "medium",
			"-crf", "20",
			"-profile:v", "high",
			"-level", "4.1",
		}
	}

	if profile.Hardware {
		profile.SegmentTimeout = hardwareSegmentTimeout
		profile.EncodeConcurrency = hardwareEncodeConcurrency
	}

	return profile
}

// videotoolboxArgs はVideoToolbox用のビットレート引数を返します。
// 縦型（9:16）は既定フォーマットよりビットレート上限を下げます。
func videotoolboxArgs(vertical bool) []string {
	bitrate, maxrate, bufsize := "8M", "12M", "16M"
	if vertical {
		bitrate, maxrate, bufsize = "6M", "9M", "12M"
	}
	return []string{
		"-b:v", bitrate,
		"-maxrate", maxrate,
		"-bufsize", bufsize,
		"-profile:v", "high",
		"-level", "4.1",
		"-allow_sw", "1",
	}
}

// optimalThreadCount はプラットフォームに応じたffmpegスレッド数を返します。
func optimalThreadCount(caps Caps) int {
	cpu := caps.CPUCount
	if cpu <= 0 {
		cpu = 4
	}

	switch {
	case caps.AppleSilicon:
		// パフォーマンスコア中心に75%程度を使う
		return maxInt(4, cpu*3/4)
	case caps.OSName == "darwin":
		return maxInt(2, cpu*4/5)
	default:
		return maxInt(2, cpu*9/10)
	}
}

func softwareConcurrency(caps Caps) int {
	if caps.CPUCount < 1 {
		return 1
	}
	return caps.CPUCount
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

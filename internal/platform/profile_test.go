package platform

import (
	"slices"
	"testing"
	"time"
)

func capsWith(osName, arch string, cpu int, encoders ...string) Caps {
	m := make(map[string]bool, len(encoders))
	for _, e := range encoders {
		m[e] = true
	}
	return Caps{
		OSName:       osName,
		Arch:         arch,
		AppleSilicon: osName == "darwin" && arch == "arm64",
		CPUCount:     cpu,
		Encoders:     m,
	}
}

func TestResolveSoftwareFallback(t *testing.T) {
	caps := capsWith("linux", "amd64", 8)

	profile := Resolve(caps, false)

	if profile.Encoder != "libx264" {
		t.Fatalf("unexpected encoder: %s", profile.Encoder)
	}
	if profile.Hardware {
		t.Fatal("software fallback must not be marked as hardware")
	}
	if profile.HWAccel != "" {
		t.Fatalf("unexpected hwaccel: %s", profile.HWAccel)
	}
	if profile.SegmentTimeout != 5*time.Minute {
		t.Fatalf("unexpected timeout: %s", profile.SegmentTimeout)
	}
	if profile.EncodeConcurrency != 8 {
		t.Fatalf("unexpected concurrency: %d", profile.EncodeConcurrency)
	}
	if !slices.Contains(profile.EncodeArgs, "-crf") {
		t.Fatalf("libx264 args missing -crf: %#v", profile.EncodeArgs)
	}
}

func TestResolveVideotoolboxAppleSilicon(t *testing.T) {
	caps := capsWith("darwin", "arm64", 10, "h264_videotoolbox", "libx264")

	profile := Resolve(caps, false)

	if profile.Encoder != "h264_videotoolbox" {
		t.Fatalf("unexpected encoder: %s", profile.Encoder)
	}
	if profile.HWAccel != "videotoolbox" {
		t.Fatalf("unexpected hwaccel: %s", profile.HWAccel)
	}
	if !profile.Hardware {
		t.Fatal("videotoolbox must be marked as hardware")
	}
	if !slices.Contains(profile.InputArgs, "videotoolbox_vld") {
		t.Fatalf("missing hwaccel output format: %#v", profile.InputArgs)
	}
	if profile.ScaleFlags != ":flags=lanczos" {
		t.Fatalf("unexpected scale flags: %q", profile.ScaleFlags)
	}
	if profile.SegmentTimeout != 2*time.Minute {
		t.Fatalf("unexpected timeout: %s", profile.SegmentTimeout)
	}
	if profile.EncodeConcurrency != hardwareEncodeConcurrency {
		t.Fatalf("unexpected concurrency: %d", profile.EncodeConcurrency)
	}
}

func TestResolveVideotoolboxIntelMac(t *testing.T) {
	caps := capsWith("darwin", "amd64", 8, "h264_videotoolbox")

	profile := Resolve(caps, false)

	if profile.Encoder != "h264_videotoolbox" {
		t.Fatalf("unexpected encoder: %s", profile.Encoder)
	}
	if len(profile.InputArgs) != 0 {
		t.Fatalf("intel mac should not set input args: %#v", profile.InputArgs)
	}
	if profile.ScaleFlags != "" {
		t.Fatalf("unexpected scale flags: %q", profile.ScaleFlags)
	}
}

func TestResolveVerticalBitrates(t *testing.T) {
	caps := capsWith("darwin", "arm64", 10, "h264_videotoolbox")

	regular := Resolve(caps, false)
	vertical := Resolve(caps, true)

	if !slices.Contains(regular.EncodeArgs, "8M") {
		t.Fatalf("default variant should use 8M bitrate: %#v", regular.EncodeArgs)
	}
	if !slices.Contains(vertical.EncodeArgs, "6M") {
		t.Fatalf("vertical variant should use 6M bitrate: %#v", vertical.EncodeArgs)
	}
}

func TestResolveWindowsPrefersNvencOverQsv(t *testing.T) {
	caps := capsWith("windows", "amd64", 16, "h264_nvenc", "h264_qsv", "libx264")

	profile := Resolve(caps, false)

	if profile.Encoder != "h264_nvenc" {
		t.Fatalf("unexpected encoder: %s", profile.Encoder)
	}
	if profile.HWAccel != "cuda" {
		t.Fatalf("unexpected hwaccel: %s", profile.HWAccel)
	}
}

func TestResolveWindowsQsv(t *testing.T) {
	caps := capsWith("windows", "amd64", 8, "h264_qsv", "libx264")

	profile := Resolve(caps, false)

	if profile.Encoder != "h264_qsv" {
		t.Fatalf("unexpected encoder: %s", profile.Encoder)
	}
	if profile.HWAccel != "dxva2" {
		t.Fatalf("unexpected hwaccel: %s", profile.HWAccel)
	}
}

func TestResolveLinuxVaapi(t *testing.T) {
	caps := capsWith("linux", "amd64", 8, "h264_vaapi", "libx264")

	profile := Resolve(caps, false)

	if profile.Encoder != "h264_vaapi" {
		t.Fatalf("unexpected encoder: %s", profile.Encoder)
	}
	if profile.HWAccel != "vaapi" {
		t.Fatalf("unexpected hwaccel: %s", profile.HWAccel)
	}
}

func TestResolveIgnoresEncoderOnWrongOS(t *testing.T) {
	// Linux上でnvencが報告されてもWindows専用パスは選ばない
	caps := capsWith("linux", "amd64", 8, "h264_nvenc")

	profile := Resolve(caps, false)

	if profile.Encoder != "libx264" {
		t.Fatalf("unexpected encoder: %s", profile.Encoder)
	}
}

func TestOptimalThreadCount(t *testing.T) {
	tests := []struct {
		name string
		caps Caps
		want int
	}{
		{"apple silicon", capsWith("darwin", "arm64", 10), 7},
		{"apple silicon minimum", capsWith("darwin", "arm64", 2), 4},
		{"intel mac", capsWith("darwin", "amd64", 10), 8},
		{"linux", capsWith("linux", "amd64", 10), 9},
		{"single core", capsWith("linux", "amd64", 1), 2},
		{"unknown cpu count", capsWith("linux", "amd64", 0), 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := optimalThreadCount(tt.caps); got != tt.want {
				t.Fatalf("optimalThreadCount = %d, want %d", got, tt.want)
			}
		})
	}
}

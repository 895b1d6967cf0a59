package segment

import (
	"slices"
	"strings"
	"testing"

	"github.com/yourusername/clip-forge/internal/platform"
)

func softwareProfile() platform.Profile {
	return platform.Profile{
		Encoder:    "libx264",
		EncodeArgs: []string{"-preset", "medium", "-crf", "20"},
		AudioArgs:  []string{"-c:a", "aac", "-b:a", "128k"},
	}
}

func TestBuildExtractArgsDefault(t *testing.T) {
	args := buildExtractArgs(softwareProfile(), "/in/src.mp4", "/out/seg.mp4.part", 120, 60, VariantDefault)

	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "-ss 120 -i /in/src.mp4 -t 60") {
		t.Fatalf("seek window missing or misordered: %s", joined)
	}
	if !strings.Contains(joined, "-c:v libx264") {
		t.Fatalf("encoder missing: %s", joined)
	}
	if slices.Contains(args, "-vf") {
		t.Fatalf("default variant must not apply a filter: %s", joined)
	}
	if slices.Contains(args, "-hwaccel") {
		t.Fatalf("software profile must not set hwaccel: %s", joined)
	}
	// 一時ファイルにはコンテナを明示する
	if !strings.Contains(joined, "-f mp4 -y /out/seg.mp4.part") {
		t.Fatalf("output container missing: %s", joined)
	}
	if !strings.Contains(joined, "-movflags +faststart") {
		t.Fatalf("faststart missing: %s", joined)
	}
}

func TestBuildExtractArgsVertical(t *testing.T) {
	profile := softwareProfile()
	args := buildExtractArgs(profile, "/in/src.mp4", "/out/seg.mp4.part", 0, 60, VariantVertical)

	idx := slices.Index(args, "-vf")
	if idx < 0 || idx+1 >= len(args) {
		t.Fatalf("vertical variant must apply a filter: %#v", args)
	}
	filter := args[idx+1]
	if !strings.HasPrefix(filter, "crop=") {
		t.Fatalf("crop must precede scale: %s", filter)
	}
	if !strings.Contains(filter, "scale=1080:1920") {
		t.Fatalf("scale target missing: %s", filter)
	}
}

func TestBuildExtractArgsHardware(t *testing.T) {
	profile := platform.Profile{
		Encoder:    "h264_videotoolbox",
		HWAccel:    "videotoolbox",
		InputArgs:  []string{"-hwaccel_output_format", "videotoolbox_vld"},
		EncodeArgs: []string{"-b:v", "8M"},
		AudioArgs:  []string{"-c:a", "aac", "-b:a", "128k"},
		ScaleFlags: ":flags=lanczos",
	}
	args := buildExtractArgs(profile, "/in/src.mp4", "/out/seg.mp4.part", 0, 60, VariantVertical)

	joined := strings.Join(args, " ")
	hwIdx := slices.Index(args, "-hwaccel")
	inIdx := slices.Index(args, "-i")
	if hwIdx < 0 || inIdx < 0 || hwIdx > inIdx {
		t.Fatalf("hwaccel must precede input: %s", joined)
	}
	if !strings.Contains(joined, "scale=1080:1920:flags=lanczos") {
		t.Fatalf("scale flags missing: %s", joined)
	}
}

func TestFormatSeconds(t *testing.T) {
	if got := formatSeconds(120); got != "120" {
		t.Fatalf("formatSeconds(120) = %s", got)
	}
	if got := formatSeconds(62.5); got != "62.5" {
		t.Fatalf("formatSeconds(62.5) = %s", got)
	}
}

func TestCropGeometry(t *testing.T) {
	cropWidth, xOffset := CropGeometry(1920, 1080)
	if cropWidth != 607 {
		t.Fatalf("cropWidth = %d, want 607", cropWidth)
	}
	if xOffset != 656 {
		t.Fatalf("xOffset = %d, want 656", xOffset)
	}

	// 4K ソースでも中央合わせを維持する
	cropWidth, xOffset = CropGeometry(3840, 2160)
	if cropWidth != 1215 || xOffset != 1312 {
		t.Fatalf("unexpected 4K geometry: width=%d offset=%d", cropWidth, xOffset)
	}
}

func TestStderrTail(t *testing.T) {
	if got := stderrTail(""); got != "(no diagnostic output)" {
		t.Fatalf("unexpected empty tail: %s", got)
	}
	long := strings.Repeat("x", 600) + "END"
	got := stderrTail(long)
	if !strings.HasPrefix(got, "...") || !strings.HasSuffix(got, "END") {
		t.Fatalf("tail not truncated from the front: %s", got)
	}
}

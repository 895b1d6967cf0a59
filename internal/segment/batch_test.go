package segment

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/yourusername/clip-forge/internal/config"
	"github.com/yourusername/clip-forge/internal/platform"
)

// stubRunner はffprobe/ffmpegの実行を差し替えるテスト用ランナーです。
type stubRunner struct {
	duration    float64
	ffmpegCalls int
	failAtCall  int // 1始まり。0なら失敗しない
	commands    [][]string
}

func (r *stubRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	r.commands = append(r.commands, append([]string{name}, args...))

	if name == "ffprobe" {
		stdout := fmt.Sprintf(`{"format":{"duration":"%v"}}`, r.duration)
		return commandResult{Stdout: stdout}, nil
	}

	r.ffmpegCalls++
	if r.failAtCall > 0 && r.ffmpegCalls >= r.failAtCall {
		return commandResult{Stderr: "Conversion failed!", ExitCode: 1}, errors.New("exit status 1")
	}

	// ffmpegの出力先は末尾の引数
	outputPath := args[len(args)-1]
	if err := os.WriteFile(outputPath, []byte("encoded"), 0o640); err != nil {
		return commandResult{}, err
	}
	return commandResult{}, nil
}

func newTestService(t *testing.T, runner commandRunner) *Service {
	t.Helper()
	cfg := &config.Config{
		UploadDir:   t.TempDir(),
		FFmpegPath:  "ffmpeg",
		FFprobePath: "ffprobe",
	}
	return &Service{
		cfg:    cfg,
		caps:   platform.Caps{OSName: "linux", Arch: "amd64", CPUCount: 4, Encoders: map[string]bool{}},
		runner: runner,
		now:    func() time.Time { return time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC) },
	}
}

func seedJob(t *testing.T, svc *Service, manifest *JobManifest) workspace {
	t.Helper()
	ws, err := svc.createWorkspace(manifest.JobID)
	if err != nil {
		t.Fatalf("failed to create workspace: %v", err)
	}
	sourcePath := filepath.Join(ws.inDir, manifest.StoredName)
	if err := os.WriteFile(sourcePath, []byte("source-video"), 0o640); err != nil {
		t.Fatalf("failed to write source: %v", err)
	}
	if err := writeManifest(ws.dir, manifest); err != nil {
		t.Fatalf("failed to write manifest: %v", err)
	}
	return ws
}

func TestRunJobSuccess(t *testing.T) {
	runner := &stubRunner{duration: 185}
	svc := newTestService(t, runner)

	manifest := &JobManifest{
		JobID:      "job-1",
		FileName:   "meeting.mp4",
		StoredName: "meeting.mp4",
		SelectedMinutes: map[string][]int{
			string(VariantDefault):  {0, 2},
			string(VariantVertical): {2},
		},
	}
	ws := seedJob(t, svc, manifest)

	type report struct {
		stage   string
		percent float64
	}
	var reports []report
	reporter := func(stage string, percent float64) {
		reports = append(reports, report{stage, percent})
	}

	result, err := svc.RunJob(context.Background(), "job-1", reporter)
	if err != nil {
		t.Fatalf("RunJob returned error: %v", err)
	}

	if result.OutputFilename != "meeting_segments.zip" {
		t.Fatalf("unexpected archive name: %s", result.OutputFilename)
	}
	if len(result.Files) != 3 {
		t.Fatalf("unexpected file count: %d", len(result.Files))
	}
	if runner.ffmpegCalls != 3 {
		t.Fatalf("unexpected ffmpeg call count: %d", runner.ffmpegCalls)
	}

	if _, err := os.Stat(result.OutputPath); err != nil {
		t.Fatalf("archive not created: %v", err)
	}
	if _, err := os.Stat(filepath.Join(ws.dir, "meta.json")); err != nil {
		t.Fatalf("meta.json not created: %v", err)
	}

	// 進捗は単調非減少で、アーカイブ段階の98%で終わる
	last := -1.0
	for _, r := range reports {
		if r.percent < last {
			t.Fatalf("progress went backwards: %#v", reports)
		}
		last = r.percent
	}
	final := reports[len(reports)-1]
	if final.stage != "archive" || final.percent != archiveProgressMark {
		t.Fatalf("unexpected final report: %#v", final)
	}
}

func TestRunJobFailFast(t *testing.T) {
	runner := &stubRunner{duration: 185, failAtCall: 2}
	svc := newTestService(t, runner)

	manifest := &JobManifest{
		JobID:      "job-2",
		FileName:   "meeting.mp4",
		StoredName: "meeting.mp4",
		SelectedMinutes: map[string][]int{
			string(VariantDefault):  {0, 1, 2},
			string(VariantVertical): {},
		},
	}
	ws := seedJob(t, svc, manifest)

	_, err := svc.RunJob(context.Background(), "job-2", nil)
	if err == nil {
		t.Fatal("expected error when extraction fails")
	}
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Code != "EXTRACTION_FAILED" {
		t.Fatalf("unexpected error: %v", err)
	}

	// 2回目で失敗するため残りのセグメントは実行されない
	if runner.ffmpegCalls != 2 {
		t.Fatalf("unexpected ffmpeg call count: %d", runner.ffmpegCalls)
	}
	if _, err := os.Stat(filepath.Join(ws.dir, "meeting_segments.zip")); !os.IsNotExist(err) {
		t.Fatalf("archive must not exist after failure, stat err=%v", err)
	}
}

func TestRunJobSelectionOutOfRange(t *testing.T) {
	runner := &stubRunner{duration: 120}
	svc := newTestService(t, runner)

	manifest := &JobManifest{
		JobID:      "job-3",
		FileName:   "short.mp4",
		StoredName: "short.mp4",
		SelectedMinutes: map[string][]int{
			string(VariantDefault): {5},
		},
	}
	seedJob(t, svc, manifest)

	_, err := svc.RunJob(context.Background(), "job-3", nil)
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Code != "SELECTION_OUT_OF_RANGE" {
		t.Fatalf("unexpected error: %v", err)
	}
	if runner.ffmpegCalls != 0 {
		t.Fatalf("no extraction should run: %d", runner.ffmpegCalls)
	}
}

func TestRunJobMissingManifest(t *testing.T) {
	svc := newTestService(t, &stubRunner{duration: 60})

	if _, err := svc.RunJob(context.Background(), "no-such-job", nil); err == nil {
		t.Fatal("expected error for missing manifest")
	}
}

func TestOpenResultFile(t *testing.T) {
	runner := &stubRunner{duration: 65}
	svc := newTestService(t, runner)

	manifest := &JobManifest{
		JobID:      "job-4",
		FileName:   "clip.mp4",
		StoredName: "clip.mp4",
		SelectedMinutes: map[string][]int{
			string(VariantDefault): {0},
		},
	}
	seedJob(t, svc, manifest)

	if _, err := svc.RunJob(context.Background(), "job-4", nil); err != nil {
		t.Fatalf("RunJob returned error: %v", err)
	}

	result, file, err := svc.OpenResultFile("job-4")
	if err != nil {
		t.Fatalf("OpenResultFile returned error: %v", err)
	}
	defer file.Close()

	if result.OutputFilename != "clip_segments.zip" {
		t.Fatalf("unexpected filename: %s", result.OutputFilename)
	}
	if result.OutputSize <= 0 {
		t.Fatalf("unexpected size: %d", result.OutputSize)
	}
}

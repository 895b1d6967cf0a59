// Package segment は動画セグメント抽出機能を提供します。
package segment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/yourusername/clip-forge/internal/config"
	"github.com/yourusername/clip-forge/internal/platform"
)

// Service はセグメント抽出ジョブの準備と実行を担います。
type Service struct {
	cfg    *config.Config
	caps   platform.Caps
	runner commandRunner
	now    func() time.Time
}

// NewService は Service を初期化します。
func NewService(cfg *config.Config, caps platform.Caps) *Service {
	return &Service{
		cfg:    cfg,
		caps:   caps,
		runner: &execRunner{},
		now:    time.Now,
	}
}

// PrepareJob はアップロードされた動画と選択された分インデックスを検証し、
// ジョブ用ワークスペースに保存します。
func (s *Service) PrepareJob(ctx context.Context, file *multipart.FileHeader, defaults, verticals []int) (*JobManifest, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if file == nil {
		return nil, newError("INVALID_INPUT", "動画ファイルを選択してください。", nil)
	}
	if len(defaults)+len(verticals) == 0 {
		return nil, newError("INVALID_INPUT", "抽出するセグメントを1つ以上選択してください。", nil)
	}
	if err := validateMinutes(defaults); err != nil {
		return nil, err
	}
	if err := validateMinutes(verticals); err != nil {
		return nil, err
	}
	if s.cfg.MaxFileSize > 0 && file.Size > s.cfg.MaxFileSize {
		return nil, newError("LIMIT_EXCEEDED", "動画ファイルのサイズが上限を超えています。", nil)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ws, err := s.createWorkspace(uuid.NewString())
	if err != nil {
		return nil, err
	}

	stored, err := s.storeUpload(ctx, file, ws.inDir)
	if err != nil {
		_ = removeDir(ws.dir)
		return nil, err
	}

	manifest := &JobManifest{
		JobID:      ws.jobID,
		FileName:   stored.originalName,
		StoredName: filepath.Base(stored.path),
		Size:       stored.size,
		SelectedMinutes: map[string][]int{
			string(VariantDefault):  append([]int(nil), defaults...),
			string(VariantVertical): append([]int(nil), verticals...),
		},
		CreatedAt: s.now().UTC(),
	}
	if err := writeManifest(ws.dir, manifest); err != nil {
		_ = removeDir(ws.dir)
		return nil, fmt.Errorf("ジョブマニフェストの保存に失敗しました: %w", err)
	}

	return manifest, nil
}

// DiscardJob はジョブのワークスペースと生成物を削除します。
func (s *Service) DiscardJob(jobID string) error {
	if strings.TrimSpace(jobID) == "" {
		return fmt.Errorf("jobID is required")
	}
	return removeDir(s.workspaceFor(jobID).dir)
}

func validateMinutes(minutes []int) error {
	for _, m := range minutes {
		if m < 0 {
			return newError("INVALID_INPUT", fmt.Sprintf("分インデックスに負の値は指定できません (received: %d)", m), nil)
		}
	}
	return nil
}

func (s *Service) workspaceFor(jobID string) workspace {
	dir := filepath.Join(s.cfg.UploadDir, jobID)
	return workspace{
		jobID:  jobID,
		dir:    dir,
		inDir:  filepath.Join(dir, "in"),
		outDir: filepath.Join(dir, "out"),
	}
}

func (s *Service) createWorkspace(jobID string) (workspace, error) {
	ws := s.workspaceFor(jobID)
	for _, dir := range []string{ws.inDir, ws.outDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return workspace{}, fmt.Errorf("ワークスペースの作成に失敗しました: %w", err)
		}
	}
	return ws, nil
}

type storedFile struct {
	path         string
	originalName string
	size         int64
}

func (s *Service) storeUpload(ctx context.Context, file *multipart.FileHeader, destDir string) (storedFile, error) {
	name := filepath.Base(file.Filename)
	if name == "" || name == "." || name == string(filepath.Separator) {
		return storedFile{}, newError("INVALID_INPUT", "ファイル名が不正です。", nil)
	}

	src, err := file.Open()
	if err != nil {
		return storedFile{}, fmt.Errorf("アップロードファイルのオープンに失敗しました: %w", err)
	}
	defer src.Close()

	destPath := filepath.Join(destDir, name)
	dst, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return storedFile{}, fmt.Errorf("アップロードファイルの保存に失敗しました: %w", err)
	}

	written, err := io.Copy(dst, src)
	if closeErr := dst.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return storedFile{}, fmt.Errorf("アップロードファイルの書き込みに失敗しました: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return storedFile{}, err
	}

	mtype, err := mimetype.DetectFile(destPath)
	if err != nil {
		return storedFile{}, fmt.Errorf("ファイル種別の判定に失敗しました: %w", err)
	}
	if !strings.HasPrefix(mtype.String(), "video/") {
		return storedFile{}, newError("INVALID_INPUT", fmt.Sprintf("動画ファイルをアップロードしてください (detected: %s)", mtype.String()), nil)
	}

	return storedFile{
		path:         destPath,
		originalName: name,
		size:         written,
	}, nil
}

func removeDir(dir string) error {
	if dir == "" {
		return nil
	}
	return os.RemoveAll(dir)
}

func writeJSON(path string, v any) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return err
	}
	defer file.Close()
	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

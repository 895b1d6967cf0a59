package segment

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// 抽出は進捗0〜95%に割り当て、アーカイブ作成を98%とする。
// 100%はジョブキューが完了確定時にのみ記録する。
const (
	extractProgressCeil = 95.0
	archiveProgressMark = 98.0
)

// RunJob はジョブIDに対応するセグメント抽出バッチを実行します。
// いずれかのセグメント抽出が失敗した時点でバッチ全体を中断します
// （部分的成功という完了状態は持ちません）。
func (s *Service) RunJob(ctx context.Context, jobID string, reporter ProgressReporter) (*Result, error) {
	if jobID == "" {
		return nil, fmt.Errorf("jobID is required")
	}
	ws := s.workspaceFor(jobID)
	manifest, err := loadManifest(ws.dir)
	if err != nil {
		return nil, err
	}

	sourcePath := filepath.Join(ws.inDir, manifest.StoredName)
	if _, err := os.Stat(sourcePath); err != nil {
		return nil, fmt.Errorf("ソース動画が見つかりません: %w", err)
	}

	reportProgress(reporter, "probe", 0)
	duration, err := s.probeDuration(ctx, sourcePath)
	if err != nil {
		return nil, err
	}

	plans, err := planSegments(
		manifest.SelectedMinutes[string(VariantDefault)],
		manifest.SelectedMinutes[string(VariantVertical)],
		duration,
	)
	if err != nil {
		return nil, err
	}

	base := strings.TrimSuffix(manifest.FileName, filepath.Ext(manifest.FileName))
	files := make([]SegmentFileMeta, 0, outputCount(plans))
	paths := make([]string, 0, outputCount(plans))

	for i, plan := range plans {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		for _, variant := range []Variant{VariantDefault, VariantVertical} {
			if variant == VariantDefault && !plan.Default {
				continue
			}
			if variant == VariantVertical && !plan.Vertical {
				continue
			}

			outputPath := filepath.Join(ws.outDir, segmentFileName(base, plan.Minute, variant))
			if err := s.extractSegment(ctx, sourcePath, outputPath, plan.Start, plan.Duration, variant); err != nil {
				return nil, err
			}

			info, statErr := os.Stat(outputPath)
			if statErr != nil {
				return nil, fmt.Errorf("セグメントファイルの確認に失敗しました: %w", statErr)
			}
			files = append(files, SegmentFileMeta{
				Filename: filepath.Base(outputPath),
				Minute:   plan.Minute,
				Variant:  variant,
				Size:     info.Size(),
			})
			paths = append(paths, outputPath)
		}

		reportProgress(reporter, "extract", float64(i+1)/float64(len(plans))*extractProgressCeil)
	}

	archivePath := filepath.Join(ws.dir, archiveName(base))
	if err := createZip(archivePath, paths); err != nil {
		return nil, err
	}
	reportProgress(reporter, "archive", archiveProgressMark)

	outInfo, err := os.Stat(archivePath)
	if err != nil {
		return nil, fmt.Errorf("zipファイルの確認に失敗しました: %w", err)
	}

	meta := &BatchMeta{
		Source:       manifest.FileName,
		DurationSecs: duration,
		Files:        files,
		CreatedAt:    s.now().UTC(),
	}
	metaPath := filepath.Join(ws.dir, "meta.json")
	if err := writeJSON(metaPath, meta); err != nil {
		return nil, fmt.Errorf("メタデータの保存に失敗しました: %w", err)
	}

	return &Result{
		JobID:          jobID,
		OutputPath:     archivePath,
		OutputFilename: archiveName(base),
		OutputSize:     outInfo.Size(),
		Files:          files,
		Meta:           meta,
	}, nil
}

// OpenResultFile はジョブIDに対応する成果物ZIPを開き、Result 情報とファイルハンドルを返します。
func (s *Service) OpenResultFile(jobID string) (*Result, *os.File, error) {
	if strings.TrimSpace(jobID) == "" {
		return nil, nil, fmt.Errorf("jobID is required")
	}

	ws := s.workspaceFor(jobID)
	manifest, err := loadManifest(ws.dir)
	if err != nil {
		return nil, nil, err
	}

	base := strings.TrimSuffix(manifest.FileName, filepath.Ext(manifest.FileName))
	outputPath := filepath.Join(ws.dir, archiveName(base))
	file, err := os.Open(outputPath)
	if err != nil {
		return nil, nil, err
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, nil, err
	}

	result := &Result{
		JobID:          jobID,
		OutputPath:     outputPath,
		OutputFilename: archiveName(base),
		OutputSize:     info.Size(),
	}
	return result, file, nil
}

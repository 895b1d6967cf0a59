package segment

import "fmt"

// Variant は出力フォーマットの種別を表します。
type Variant string

const (
	// VariantDefault は元のアスペクト比のままの出力です。
	VariantDefault Variant = "default"
	// VariantVertical は9:16にリフレームした縦型出力です。
	VariantVertical Variant = "vertical"
)

// segmentFileName はセグメント出力ファイル名を返します。
// 分インデックスは0始まりで保持し、表示上は1始まりに変換します。
func segmentFileName(base string, minute int, variant Variant) string {
	return fmt.Sprintf("%s_seg_%d_%s.mp4", base, minute+1, variant)
}

// archiveName は成果物ZIPのファイル名を返します。
func archiveName(base string) string {
	return base + "_segments.zip"
}

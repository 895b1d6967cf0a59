package segment

import "time"

// SegmentFileMeta は生成された1セグメントの情報です。
type SegmentFileMeta struct {
	Filename string  `json:"filename"`
	Minute   int     `json:"minute"`
	Variant  Variant `json:"variant"`
	Size     int64   `json:"size"`
}

// BatchMeta はバッチ処理のメタデータです。
type BatchMeta struct {
	Source       string            `json:"source"`
	DurationSecs float64           `json:"durationSecs"`
	Files        []SegmentFileMeta `json:"files"`
	CreatedAt    time.Time         `json:"createdAt"`
}

// Result はセグメント抽出ジョブの成果を表します。
type Result struct {
	JobID          string            `json:"jobId"`
	OutputPath     string            `json:"outputPath"`
	OutputFilename string            `json:"outputFilename"`
	OutputSize     int64             `json:"outputSize"`
	Files          []SegmentFileMeta `json:"files"`
	Meta           *BatchMeta        `json:"meta,omitempty"`
}

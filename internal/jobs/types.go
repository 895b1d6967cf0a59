package jobs

import "time"

// Status はジョブの実行状態を表します。
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal は終端状態（completed / failed）かどうかを返します。
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ResultInfo はジョブ完了時の成果物情報です。
type ResultInfo struct {
	DownloadURL string `json:"downloadUrl"`
	FileName    string `json:"fileName"`
}

// Record はジョブの現在状態を表します。
// error は failed のときのみ、result は completed のときのみ設定されます。
type Record struct {
	ID              string           `json:"id"`
	FileName        string           `json:"fileName"`
	Status          Status           `json:"status"`
	Progress        float64          `json:"progress"`
	SelectedMinutes map[string][]int `json:"selectedMinutes"`
	Error           *string          `json:"error"`
	Result          *ResultInfo      `json:"result"`
	CreatedAt       time.Time        `json:"createdAt"`
	UpdatedAt       time.Time        `json:"updatedAt"`
}

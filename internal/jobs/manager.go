// Package jobs は非同期ジョブ管理機能を提供します。
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/hibiken/asynq"

	"github.com/yourusername/clip-forge/internal/config"
	"github.com/yourusername/clip-forge/internal/segment"
)

const (
	taskTypeSegment = "segment:process"
	queueName       = "segments"
)

// 処理中に永続化する進捗の上限。100%は完了確定時にのみ記録する。
const maxProcessingProgress = 99.0

// ErrNotPending は pending 以外のジョブへの process 要求を表します。
// 既に処理中のジョブへの二重の process はキューイングされず拒否されます。
var ErrNotPending = errors.New("job is not pending")

// ErrProcessing は処理中のジョブへの delete 要求を表します。
var ErrProcessing = errors.New("job is processing")

// SegmentRunner はセグメント抽出バッチを実行できるサービスが実装します。
type SegmentRunner interface {
	RunJob(ctx context.Context, jobID string, reporter segment.ProgressReporter) (*segment.Result, error)
	DiscardJob(jobID string) error
}

// Broadcaster はキュー更新を購読者へ配信するためのインターフェースです。
type Broadcaster interface {
	Publish(payload any)
}

// QueueUpdate はキュー全体のスナップショットを運ぶ配信ペイロードです。
type QueueUpdate struct {
	Type  string    `json:"type"`
	Items []*Record `json:"items"`
}

func queueUpdatePayload(records []*Record) QueueUpdate {
	if records == nil {
		records = []*Record{}
	}
	return QueueUpdate{Type: "queue_update", Items: records}
}

// TaskPayload はセグメント抽出ジョブのペイロードです。
type TaskPayload struct {
	JobID string `json:"jobId"`
}

// Manager はジョブの投入と状態管理を担います。
type Manager struct {
	cfg         *config.Config
	client      *asynq.Client
	server      *asynq.Server
	mux         *asynq.ServeMux
	store       Store
	segments    SegmentRunner
	broadcaster Broadcaster
	logger      *log.Logger
}

// NewManager は Manager を初期化します。
// concurrency はプラットフォームのエンコード同時実行上限を渡します。
func NewManager(cfg *config.Config, segments SegmentRunner, store Store, broadcaster Broadcaster, concurrency int, logger *log.Logger) (*Manager, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if segments == nil {
		return nil, errors.New("segments is nil")
	}
	if store == nil {
		return nil, errors.New("store is nil")
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	opt, err := asynq.ParseRedisURI(cfg.QueueRedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := asynq.NewClient(opt)
	server := asynq.NewServer(
		opt,
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				queueName: 1,
			},
		},
	)

	mux := asynq.NewServeMux()
	manager := &Manager{
		cfg:         cfg,
		client:      client,
		server:      server,
		mux:         mux,
		store:       store,
		segments:    segments,
		broadcaster: broadcaster,
		logger:      logger,
	}
	mux.HandleFunc(taskTypeSegment, manager.handleSegmentTask)
	return manager, nil
}

// StartWorkers は Asynq サーバーをバックグラウンドで起動します。
func (m *Manager) StartWorkers() {
	go func() {
		if err := m.server.Run(m.mux); err != nil && err != asynq.ErrServerClosed {
			if m.logger != nil {
				m.logger.Printf("asynq server stopped with error: %v", err)
			} else {
				log.Printf("asynq server stopped with error: %v", err)
			}
		}
	}()
}

// Shutdown はサーバーとクライアントを閉じます。
func (m *Manager) Shutdown(ctx context.Context) error {
	m.server.Shutdown()
	m.client.Close()
	return nil
}

// Enqueue はアップロード済みのジョブを pending 状態でキューに登録します。
// 実際の処理開始は Process の呼び出しまで行いません。
func (m *Manager) Enqueue(ctx context.Context, manifest *segment.JobManifest) error {
	if manifest == nil {
		return fmt.Errorf("manifest is nil")
	}
	if manifest.JobID == "" {
		return fmt.Errorf("manifest.JobID is required")
	}

	record := &Record{
		ID:              manifest.JobID,
		FileName:        manifest.FileName,
		Status:          StatusPending,
		Progress:        0,
		SelectedMinutes: manifest.SelectedMinutes,
	}
	if err := m.store.Create(ctx, record); err != nil {
		return err
	}
	m.broadcastQueue(ctx)
	return nil
}

// Process は pending のジョブを processing に遷移させ、ワーカーへ投入します。
// pending 以外の状態では ErrNotPending を返します（冪等性ガード）。
func (m *Manager) Process(ctx context.Context, jobID string) error {
	_, err := m.store.Update(ctx, jobID, func(record *Record) error {
		if record.Status != StatusPending {
			return ErrNotPending
		}
		record.Status = StatusProcessing
		record.Progress = 0
		return nil
	})
	if err != nil {
		return err
	}

	body, err := json.Marshal(&TaskPayload{JobID: jobID})
	if err != nil {
		return err
	}
	task := asynq.NewTask(taskTypeSegment, body, asynq.Queue(queueName))
	// 失敗ジョブは新規ジョブとして再投入する方針のため自動リトライはしない
	if _, err := m.client.EnqueueContext(ctx, task, asynq.MaxRetry(0)); err != nil {
		m.markFailed(ctx, jobID, fmt.Sprintf("ジョブのキュー投入に失敗しました: %v", err))
		return err
	}

	m.broadcastQueue(ctx)
	return nil
}

// Get はジョブ情報を取得します。
func (m *Manager) Get(ctx context.Context, jobID string) (*Record, error) {
	return m.store.Get(ctx, jobID)
}

// List は全ジョブを取得します。
func (m *Manager) List(ctx context.Context) ([]*Record, error) {
	return m.store.List(ctx)
}

// Delete はジョブの記録とワークスペースを削除します。
// 処理中のジョブは削除できません。
func (m *Manager) Delete(ctx context.Context, jobID string) error {
	record, err := m.store.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if record.Status == StatusProcessing {
		return ErrProcessing
	}

	if err := m.store.Delete(ctx, jobID); err != nil {
		return err
	}
	if err := m.segments.DiscardJob(jobID); err != nil && m.logger != nil {
		m.logger.Printf("failed to remove workspace job=%s: %v", jobID, err)
	}

	m.broadcastQueue(ctx)
	return nil
}

// Snapshot は購読開始時に送る現在のキュー全体のスナップショットを返します。
func (m *Manager) Snapshot(ctx context.Context) (any, error) {
	records, err := m.store.List(ctx)
	if err != nil {
		return nil, err
	}
	return queueUpdatePayload(records), nil
}

func (m *Manager) handleSegmentTask(ctx context.Context, task *asynq.Task) error {
	var payload TaskPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return err
	}
	if payload.JobID == "" {
		return fmt.Errorf("missing jobId in payload")
	}

	reporter := func(stage string, percent float64) {
		m.updateProgress(ctx, payload.JobID, percent)
	}

	result, err := m.segments.RunJob(ctx, payload.JobID, reporter)
	if err != nil {
		m.markFailed(ctx, payload.JobID, err.Error())
		return nil
	}

	m.markCompleted(ctx, payload.JobID, result)
	return nil
}

// updateProgress は進捗を永続化して配信します。
// 進捗は単調非減少を保ち、処理中は100%に達しません。
func (m *Manager) updateProgress(ctx context.Context, jobID string, percent float64) {
	if percent > maxProcessingProgress {
		percent = maxProcessingProgress
	}
	_, err := m.store.Update(ctx, jobID, func(record *Record) error {
		if percent > record.Progress {
			record.Progress = percent
		}
		return nil
	})
	if err != nil {
		if m.logger != nil {
			m.logger.Printf("failed to update progress job=%s: %v", jobID, err)
		}
		return
	}
	m.broadcastQueue(ctx)
}

func (m *Manager) markCompleted(ctx context.Context, jobID string, result *segment.Result) {
	_, err := m.store.Update(ctx, jobID, func(record *Record) error {
		record.Status = StatusCompleted
		record.Progress = 100
		record.Error = nil
		record.Result = &ResultInfo{
			DownloadURL: "/download/" + jobID,
			FileName:    result.OutputFilename,
		}
		return nil
	})
	if err != nil && m.logger != nil {
		m.logger.Printf("failed to mark job completed job=%s: %v", jobID, err)
	}
	m.broadcastQueue(ctx)
}

func (m *Manager) markFailed(ctx context.Context, jobID string, message string) {
	_, err := m.store.Update(ctx, jobID, func(record *Record) error {
		record.Status = StatusFailed
		record.Error = &message
		record.Result = nil
		return nil
	})
	if err != nil && m.logger != nil {
		m.logger.Printf("failed to mark job failed job=%s: %v", jobID, err)
	}
	m.broadcastQueue(ctx)
}

func (m *Manager) broadcastQueue(ctx context.Context) {
	if m.broadcaster == nil {
		return
	}
	records, err := m.store.List(ctx)
	if err != nil {
		if m.logger != nil {
			m.logger.Printf("failed to load queue for broadcast: %v", err)
		}
		return
	}
	m.broadcaster.Publish(queueUpdatePayload(records))
}

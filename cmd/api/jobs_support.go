package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	redis "github.com/redis/go-redis/v9"

	"github.com/yourusername/clip-forge/internal/config"
	"github.com/yourusername/clip-forge/internal/jobs"
	"github.com/yourusername/clip-forge/internal/platform"
	"github.com/yourusername/clip-forge/internal/segment"
	"github.com/yourusername/clip-forge/internal/ws"
)

// jobDeps はエンドポイント配線に必要な依存の束です。
type jobDeps struct {
	manager       *jobs.Manager
	segments      *segment.Service
	hub           *ws.Hub
	uploadHandler gin.HandlerFunc
}

type segmentJobScheduler struct {
	manager *jobs.Manager
}

func (s *segmentJobScheduler) Schedule(ctx context.Context, manifest *segment.JobManifest) error {
	return s.manager.Enqueue(ctx, manifest)
}

func setupJobs(ctx context.Context, cfg *config.Config) (*jobDeps, error) {
	opt, err := redis.ParseURL(cfg.QueueRedisURL)
	if err != nil {
		return nil, err
	}

	redisClient := redis.NewClient(opt)
	store := jobs.NewRedisStore(redisClient)

	// エンコーダーの検出はプロセス起動時に一度だけ行う
	caps := platform.Current(ctx, cfg.FFmpegPath)
	profile := platform.Resolve(caps, false)
	log.Printf("Using video encoder %s (hardware=%t, concurrency=%d)",
		profile.Encoder, profile.Hardware, profile.EncodeConcurrency)

	concurrency := profile.EncodeConcurrency
	if cfg.MaxConcurrentJobs > 0 {
		concurrency = cfg.MaxConcurrentJobs
	}

	segments := segment.NewService(cfg, caps)

	hub := ws.NewHub(log.Default())
	go hub.Run(ctx)

	manager, err := jobs.NewManager(cfg, segments, store, hub, concurrency, log.Default())
	if err != nil {
		return nil, err
	}

	scheduler := &segmentJobScheduler{manager: manager}
	return &jobDeps{
		manager:       manager,
		segments:      segments,
		hub:           hub,
		uploadHandler: segment.UploadHandler(segments, scheduler),
	}, nil
}

func queueListHandler(manager *jobs.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		records, err := manager.List(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "キュー情報の取得に失敗しました。",
			})
			return
		}
		if records == nil {
			records = []*jobs.Record{}
		}
		c.JSON(http.StatusOK, records)
	}
}

func queueItemHandler(manager *jobs.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID := c.Param("id")
		if strings.TrimSpace(jobID) == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "jobId を指定してください。",
			})
			return
		}

		record, err := manager.Get(c.Request.Context(), jobID)
		if err != nil {
			if errors.Is(err, jobs.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{
					"code":    "JOB_NOT_FOUND",
					"message": "指定されたジョブは存在しません。",
				})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "ジョブ情報の取得に失敗しました。",
			})
			return
		}

		c.JSON(http.StatusOK, record)
	}
}

func queueProcessHandler(manager *jobs.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID := c.Param("id")
		if strings.TrimSpace(jobID) == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "jobId を指定してください。",
			})
			return
		}

		err := manager.Process(c.Request.Context(), jobID)
		switch {
		case err == nil:
			c.JSON(http.StatusOK, gin.H{
				"id":     jobID,
				"status": jobs.StatusProcessing,
			})
		case errors.Is(err, jobs.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"code":    "JOB_NOT_FOUND",
				"message": "指定されたジョブは存在しません。",
			})
		case errors.Is(err, jobs.ErrNotPending):
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "JOB_NOT_PENDING",
				"message": "このジョブは処理を開始できる状態ではありません。",
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "ジョブの処理開始に失敗しました。",
			})
		}
	}
}

func queueDeleteHandler(manager *jobs.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID := c.Param("id")
		if strings.TrimSpace(jobID) == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "jobId を指定してください。",
			})
			return
		}

		err := manager.Delete(c.Request.Context(), jobID)
		switch {
		case err == nil:
			c.JSON(http.StatusOK, gin.H{"id": jobID, "deleted": true})
		case errors.Is(err, jobs.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"code":    "JOB_NOT_FOUND",
				"message": "指定されたジョブは存在しません。",
			})
		case errors.Is(err, jobs.ErrProcessing):
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "JOB_PROCESSING",
				"message": "処理中のジョブは削除できません。",
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "ジョブの削除に失敗しました。",
			})
		}
	}
}

func jobDownloadHandler(manager *jobs.Manager, segments *segment.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID := c.Param("id")
		if strings.TrimSpace(jobID) == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "jobId を指定してください。",
			})
			return
		}

		record, err := manager.Get(c.Request.Context(), jobID)
		if err != nil {
			if errors.Is(err, jobs.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{
					"code":    "JOB_NOT_FOUND",
					"message": "指定されたジョブは存在しません。",
				})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "ジョブ情報の取得に失敗しました。",
			})
			return
		}
		if record.Status != jobs.StatusCompleted || record.Result == nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "JOB_NOT_COMPLETED",
				"message": "このジョブはまだ完了していません。",
			})
			return
		}

		result, file, err := segments.OpenResultFile(jobID)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				c.JSON(http.StatusNotFound, gin.H{
					"code":    "JOB_RESULT_NOT_FOUND",
					"message": "ジョブの成果物が見つかりませんでした。",
				})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "ジョブの成果物取得に失敗しました。",
			})
			return
		}
		defer file.Close()

		contentType := "application/zip"
		encodedName := url.PathEscape(result.OutputFilename)
		c.Header("Content-Type", contentType)
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"; filename*=UTF-8''%s", result.OutputFilename, encodedName))
		c.Header("Cache-Control", "no-store")
		c.Header("X-Job-Id", result.JobID)
		c.DataFromReader(http.StatusOK, result.OutputSize, contentType, file, nil)
	}
}

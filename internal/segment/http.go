package segment

import (
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

// UploadService はアップロードジョブの準備と破棄を提供します。
type UploadService interface {
	PrepareJob(ctx context.Context, file *multipart.FileHeader, defaults, verticals []int) (*JobManifest, error)
	DiscardJob(jobID string) error
}

// JobScheduler は準備済みジョブをキューに登録するためのインターフェースです。
type JobScheduler interface {
	Schedule(ctx context.Context, manifest *JobManifest) error
}

// UploadHandler は POST /upload のハンドラーを返します。
// 動画ファイルと2つのフォーマットの分インデックス（カンマ区切り）を受け取り、
// pending状態のジョブを作成します。
func UploadHandler(svc UploadService, scheduler JobScheduler) gin.HandlerFunc {
	return func(c *gin.Context) {
		file, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "multipart/form-data で動画ファイルを送信してください。",
			})
			return
		}

		defaults, err := parseMinuteList(c.PostForm("defaults"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": err.Error(),
			})
			return
		}
		verticals, err := parseMinuteList(c.PostForm("verticals"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": err.Error(),
			})
			return
		}

		manifest, err := svc.PrepareJob(c.Request.Context(), file, defaults, verticals)
		if err != nil {
			respondWithError(c, err)
			return
		}

		if err := scheduler.Schedule(c.Request.Context(), manifest); err != nil {
			if cleanupErr := svc.DiscardJob(manifest.JobID); cleanupErr != nil {
				err = errors.Join(err, cleanupErr)
			}
			respondWithError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"id":     manifest.JobID,
			"status": "pending",
		})
	}
}

// parseMinuteList はカンマ区切りの分インデックス列を解析します。
func parseMinuteList(raw string) ([]int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	parts := strings.Split(raw, ",")
	minutes := make([]int, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		minute, err := strconv.Atoi(part)
		if err != nil {
			return nil, errors.New("分インデックスはカンマ区切りの整数で指定してください。例: 0,2,5")
		}
		if minute < 0 {
			return nil, errors.New("分インデックスに負の値は指定できません。")
		}
		minutes = append(minutes, minute)
	}
	return minutes, nil
}

func respondWithError(c *gin.Context, err error) {
	var apiErr *Error
	switch {
	case errors.As(err, &apiErr):
		status := http.StatusBadRequest
		if apiErr.Code == "LIMIT_EXCEEDED" {
			status = http.StatusRequestEntityTooLarge
		}
		c.JSON(status, gin.H{
			"code":    apiErr.Code,
			"message": apiErr.Message,
		})
	case errors.Is(err, context.Canceled):
		c.JSON(http.StatusRequestTimeout, gin.H{
			"code":    "REQUEST_CANCELED",
			"message": "リクエストがキャンセルされました。",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "サーバー内部でエラーが発生しました。",
		})
	}
}

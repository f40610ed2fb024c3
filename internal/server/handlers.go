package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"rokuga/internal/recording"
)

// HealthResponse はヘルスチェックのレスポンス
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorResponse はエラーレスポンスの共通形式
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// handleHealth はヘルスチェックエンドポイントの実装
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
	})
}

// handleStatus はテレメトリー取得エンドポイントの実装
func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.controller.Telemetry())
}

// handleStart は録画開始エンドポイントの実装
func (s *Server) handleStart(c *gin.Context) {
	if err := s.controller.Start(); err != nil {
		respondControllerError(c, err)
		return
	}
	s.hub.notify()
	c.JSON(http.StatusOK, s.controller.Telemetry())
}

// handleStop は録画停止エンドポイントの実装
func (s *Server) handleStop(c *gin.Context) {
	if err := s.controller.Stop(); err != nil {
		respondControllerError(c, err)
		return
	}
	s.hub.notify()
	c.JSON(http.StatusOK, s.controller.Telemetry())
}

// handleCompile は動画コンパイルエンドポイントの実装
// コンパイルは非同期に走り、完了はテレメトリーのstate遷移で通知される
func (s *Server) handleCompile(c *gin.Context) {
	if err := s.controller.Compile(); err != nil {
		respondControllerError(c, err)
		return
	}
	s.hub.notify()
	c.JSON(http.StatusAccepted, s.controller.Telemetry())
}

// handleReset はセッション破棄エンドポイントの実装
func (s *Server) handleReset(c *gin.Context) {
	s.controller.Reset()
	s.hub.notify()
	c.JSON(http.StatusOK, s.controller.Telemetry())
}

// handleDownload は成果物ダウンロードエンドポイントの実装
// 成果物が公開されるのはReadyのときだけ
func (s *Server) handleDownload(c *gin.Context) {
	artifact, ok := s.controller.Artifact()
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:     "artifact_not_ready",
			Message:   "ダウンロード可能な成果物がありません",
			Timestamp: time.Now(),
		})
		return
	}

	c.FileAttachment(artifact.Path, artifact.Filename())
}

// respondControllerError はコントローラーのエラーをHTTPレスポンスに変換する
func respondControllerError(c *gin.Context, err error) {
	var transitionErr *recording.InvalidTransitionError

	switch {
	case errors.Is(err, recording.ErrStoreEmpty):
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			Error:     "store_empty",
			Message:   err.Error(),
			Timestamp: time.Now(),
		})
	case errors.As(err, &transitionErr):
		c.JSON(http.StatusConflict, ErrorResponse{
			Error:     "invalid_transition",
			Message:   err.Error(),
			Timestamp: time.Now(),
		})
	default:
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:     "internal_error",
			Message:   err.Error(),
			Timestamp: time.Now(),
		})
	}
}

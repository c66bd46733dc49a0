package speech

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	model "github.com/zhouzirui/smartguard/internal/model/language"
	speechsvc "github.com/zhouzirui/smartguard/internal/service/speech"
	"github.com/zhouzirui/smartguard/pkg/utils"
)

// Handler 语音服务的HTTP处理器
type Handler struct {
	output *speechsvc.OutputAdapter
	input  *speechsvc.InputAdapter
	logger *zap.Logger
}

// New 创建语音处理器
func New(input *speechsvc.InputAdapter, output *speechsvc.OutputAdapter, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{input: input, output: output, logger: logger.Named("speech_api")}
}

// RegisterRoutes 注册语音相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/speech", func(speechRouter chi.Router) {
		speechRouter.Post("/synthesize", h.handleSynthesize)
		speechRouter.Get("/health", h.handleHealth)
	})
}

type synthesizeRequest struct {
	SessionID string `json:"sessionId"`
	Text      string `json:"text"`
	Language  string `json:"language"`
}

// handleSynthesize 朗读任意文本，使用与组件相同的过滤与选音规则，直接返回音频
func (h *Handler) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	var req synthesizeRequest
	if err := utils.DecodeJSON(r, &req, false); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if speechsvc.SanitizeForSpeech(req.Text) == "" {
		utils.RespondError(w, http.StatusBadRequest, "text is required")
		return
	}

	lang := model.Default
	if strings.TrimSpace(req.Language) != "" {
		code, ok := model.Parse(req.Language)
		if !ok {
			utils.RespondError(w, http.StatusBadRequest, "unsupported language")
			return
		}
		lang = code
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	resp, err := h.output.Synthesize(r.Context(), req.SessionID, req.Text, lang)
	if err != nil {
		if errors.Is(err, speechsvc.ErrSynthesizerUnavailable) {
			utils.RespondError(w, http.StatusServiceUnavailable, "speech synthesis unavailable")
			return
		}
		h.logger.Warn("synthesis failed", zap.String("session_id", req.SessionID), zap.Error(err))
		utils.RespondError(w, http.StatusBadGateway, "speech synthesis failed")
		return
	}

	format := resp.Format
	if format == "" || format == "mp3" {
		format = "mpeg"
	}
	w.Header().Set("Content-Type", "audio/"+format)
	w.Header().Set("Content-Length", strconv.Itoa(len(resp.AudioData)))
	w.Header().Set("X-Speech-Voice", resp.Voice)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(resp.AudioData); err != nil {
		h.logger.Debug("failed to write audio response", zap.Error(err))
	}
}

// handleHealth 健康检查端点
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"status":      "healthy",
		"service":     "speech",
		"recognition": h.input.Available(),
		"synthesis":   h.output.Available(),
	})
}

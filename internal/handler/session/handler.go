package session

import (
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/smartguard/internal/model/chat"
	model "github.com/zhouzirui/smartguard/internal/model/language"
	langsvc "github.com/zhouzirui/smartguard/internal/service/language"
	"github.com/zhouzirui/smartguard/internal/service/speech"
	"github.com/zhouzirui/smartguard/internal/service/turn"
	"github.com/zhouzirui/smartguard/internal/service/widget"
	"github.com/zhouzirui/smartguard/pkg/utils"
)

// Handler 会话接口的HTTP处理器
type Handler struct {
	registry *widget.Registry
	logger   *zap.Logger
}

// New 创建会话处理器
func New(registry *widget.Registry, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{registry: registry, logger: logger.Named("session_api")}
}

// RegisterRoutes 注册会话相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", h.handleCreateSession)
		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", h.handleGetSession)
			r.Delete("/", h.handleDeleteSession)
			r.Get("/transcript", h.handleTranscript)
			r.Post("/turns", h.handleRunTurn)
			r.Post("/voice", h.handleVoiceTurn)
			r.Put("/language", h.handleChangeLanguage)
		})
	})
}

// handleCreateSession 创建会话，语言可省略
func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Language string `json:"language"`
	}
	if err := utils.DecodeJSON(r, &payload, true); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var lang model.Code
	if strings.TrimSpace(payload.Language) != "" {
		code, ok := model.Parse(payload.Language)
		if !ok {
			utils.RespondError(w, http.StatusBadRequest, "unsupported language")
			return
		}
		lang = code
	}

	s := h.registry.Create(lang, nil)
	utils.RespondJSON(w, http.StatusCreated, s.Snapshot())
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	utils.RespondJSON(w, http.StatusOK, s.Snapshot())
}

func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.Remove(chi.URLParam(r, "sessionID")); err != nil {
		utils.RespondError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleTranscript 返回会话的全部消息
func (h *Handler) handleTranscript(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"sessionId": s.ID(),
		"language":  s.Language(),
		"messages":  s.Messages(),
	})
}

type turnResponse struct {
	Turn       chat.Turn      `json:"turn"`
	Transcript []chat.Message `json:"transcript"`
}

// handleRunTurn 同步执行一轮对话，回复失败时返回兜底文案而不是错误
func (h *Handler) handleRunTurn(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var payload struct {
		Message string `json:"message"`
	}
	if err := utils.DecodeJSON(r, &payload, false); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := s.RunTurn(r.Context(), payload.Message)
	switch {
	case errors.Is(err, turn.ErrEmptyInput):
		utils.RespondError(w, http.StatusBadRequest, "message is required")
		return
	case errors.Is(err, widget.ErrSessionClosed):
		utils.RespondError(w, http.StatusNotFound, widget.ErrSessionNotFound.Error())
		return
	case errors.Is(err, turn.ErrAborted):
		// 客户端已断开，不再写响应
		h.logger.Info("turn aborted by client", zap.String("session_id", s.ID()))
		return
	case err != nil:
		h.logger.Error("turn failed", zap.String("session_id", s.ID()), zap.Error(err))
		utils.RespondError(w, http.StatusInternalServerError, "turn failed")
		return
	}

	utils.RespondJSON(w, http.StatusOK, turnResponse{Turn: result, Transcript: s.Messages()})
}

// maxVoiceUpload 单次语音上传上限
const maxVoiceUpload = 10 << 20

type voiceResponse struct {
	Text string `json:"text"`
	turnResponse
}

// handleVoiceTurn 接收一段完整录音（multipart 字段 audio），识别后按文字提交。
// 识别失败返回 422 与错误码，与组件麦克风的提示一致。
func (h *Handler) handleVoiceTurn(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxVoiceUpload+1<<20)
	if err := r.ParseMultipartForm(maxVoiceUpload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "audio file is required")
		return
	}
	defer file.Close()

	audio, err := io.ReadAll(io.LimitReader(file, maxVoiceUpload))
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "failed to read audio")
		return
	}

	format := r.FormValue("format")
	if format == "" {
		format = inferAudioFormat(header.Filename)
	}

	text, result, err := s.VoiceTurn(r.Context(), audio, format)
	if err != nil {
		if code := speech.ErrorCode(err); code != "" {
			utils.RespondJSON(w, http.StatusUnprocessableEntity, map[string]string{
				"error": "Voice input failed: " + code,
				"code":  code,
			})
			return
		}
		if errors.Is(err, widget.ErrSessionClosed) {
			utils.RespondError(w, http.StatusNotFound, widget.ErrSessionNotFound.Error())
			return
		}
		if errors.Is(err, turn.ErrAborted) {
			h.logger.Info("voice turn aborted by client", zap.String("session_id", s.ID()))
			return
		}
		h.logger.Error("voice turn failed", zap.String("session_id", s.ID()), zap.Error(err))
		utils.RespondError(w, http.StatusInternalServerError, "voice turn failed")
		return
	}

	utils.RespondJSON(w, http.StatusOK, voiceResponse{
		Text:         text,
		turnResponse: turnResponse{Turn: result, Transcript: s.Messages()},
	})
}

// inferAudioFormat 从文件名推断音频格式
func inferAudioFormat(filename string) string {
	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".mp3", ".wav", ".webm", ".ogg", ".pcm", ".m4a", ".aac":
		return strings.TrimPrefix(ext, ".")
	default:
		return "wav"
	}
}

// handleChangeLanguage 切换会话语言，切换成功会追加并朗读新问候语
func (h *Handler) handleChangeLanguage(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var payload struct {
		Language string `json:"language"`
	}
	if err := utils.DecodeJSON(r, &payload, false); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if _, err := s.ChangeLanguage(payload.Language); err != nil {
		if errors.Is(err, langsvc.ErrUnsupported) {
			utils.RespondError(w, http.StatusBadRequest, "unsupported language")
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, s.Snapshot())
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (*widget.Session, bool) {
	s, err := h.registry.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, err.Error())
		return nil, false
	}
	return s, true
}

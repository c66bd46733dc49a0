package widget

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	model "github.com/zhouzirui/smartguard/internal/model/language"
	"github.com/zhouzirui/smartguard/internal/service/speech"
	"github.com/zhouzirui/smartguard/internal/service/turn"
	widgetService "github.com/zhouzirui/smartguard/internal/service/widget"
)

const (
	pingPeriod   = 54 * time.Second
	readDeadline = 60 * time.Second
	writeTimeout = 10 * time.Second
	maxFrameSize = 16 << 20
)

// Handler WebSocket 组件处理器，一个连接驱动一个会话
type Handler struct {
	registry *widgetService.Registry
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// New 创建WebSocket处理器
func New(registry *widgetService.Registry, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		registry: registry,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: logger.Named("websocket"),
	}
}

// RegisterRoutes 注册WebSocket路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.handleWebSocket)
}

type inboundMessage struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

// TextMessage 输入框内容或提交内容
type TextMessage struct {
	Text *string `json:"text"`
}

// LanguageMessage 语言切换
type LanguageMessage struct {
	Language string `json:"language"`
}

// MicMessage 开始单次语音输入
type MicMessage struct {
	Format string `json:"format"`
}

// AudioMessage 音频消息，audioData 为 base64
type AudioMessage struct {
	AudioData []byte `json:"audioData"`
	Format    string `json:"format"`
	IsFinal   bool   `json:"isFinal"`
}

// handleWebSocket 处理WebSocket连接。带 sessionId 时接管已有会话，否则新建。
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	var (
		session *widgetService.Session
		owned   bool
	)
	if id := r.URL.Query().Get("sessionId"); id != "" {
		s, err := h.registry.Get(id)
		if err != nil {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		session = s
	} else {
		var lang model.Code
		if raw := r.URL.Query().Get("language"); raw != "" {
			code, ok := model.Parse(raw)
			if !ok {
				http.Error(w, "unsupported language", http.StatusBadRequest)
				return
			}
			lang = code
		}
		session = h.registry.Create(lang, nil)
		owned = true
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", zap.Error(err))
		if owned {
			h.registry.Remove(session.ID())
		}
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxFrameSize)

	logger := h.logger.With(zap.String("session_id", session.ID()))
	logger.Info("connection opened", zap.Bool("owned", owned))

	view := newConnView(conn, session.ID(), logger)
	defer func() {
		if owned {
			h.registry.Remove(session.ID())
		} else {
			session.Attach(nil)
		}
		logger.Info("connection closed")
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetReadDeadline(time.Now().Add(readDeadline))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	go view.pingLoop(ctx)

	snap := session.Snapshot()
	view.send("connected", map[string]any{
		"language":  snap.Language,
		"mic":       snap.Mic,
		"languages": model.Supported,
	})
	// 接管视图并回放当前转录、麦克风与输入框
	session.Attach(view)

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("read error", zap.Error(err))
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(readDeadline))

		if msg.SessionID != "" && msg.SessionID != session.ID() {
			view.sendError("session mismatch")
			continue
		}
		h.handleMessage(session, view, &msg)
	}
}

func (h *Handler) handleMessage(session *widgetService.Session, view *connView, msg *inboundMessage) {
	switch msg.Type {
	case "input":
		var in TextMessage
		if err := json.Unmarshal(msg.Data, &in); err != nil || in.Text == nil {
			view.sendError("invalid input payload")
			return
		}
		session.SetInputText(*in.Text)

	case "submit":
		var in TextMessage
		if len(msg.Data) > 0 {
			if err := json.Unmarshal(msg.Data, &in); err != nil {
				view.sendError("invalid submit payload")
				return
			}
		}
		var err error
		if in.Text != nil {
			err = session.SubmitText(*in.Text)
		} else {
			err = session.Submit()
		}
		if err != nil && !errors.Is(err, turn.ErrEmptyInput) {
			view.sendError(err.Error())
		}

	case "language":
		var in LanguageMessage
		if err := json.Unmarshal(msg.Data, &in); err != nil {
			view.sendError("invalid language payload")
			return
		}
		if _, err := session.ChangeLanguage(in.Language); err != nil {
			view.sendError(err.Error())
		}

	case "mic":
		var in MicMessage
		if len(msg.Data) > 0 {
			if err := json.Unmarshal(msg.Data, &in); err != nil {
				view.sendError("invalid mic payload")
				return
			}
		}
		// 失败时会话已经弹出提示
		if err := session.StartListening(in.Format); err != nil && speech.ErrorCode(err) == "" {
			view.sendError(err.Error())
		}

	case "audio":
		var in AudioMessage
		if err := json.Unmarshal(msg.Data, &in); err != nil {
			view.sendError("invalid audio payload")
			return
		}
		if err := session.FeedAudio(in.AudioData, in.IsFinal); err != nil && speech.ErrorCode(err) == "" {
			view.sendError(err.Error())
		}

	default:
		view.sendError("unsupported message type: " + msg.Type)
	}
}

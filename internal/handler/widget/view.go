package widget

import (
	"context"
	"encoding/base64"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zhouzirui/smartguard/internal/model/chat"
	speechmodel "github.com/zhouzirui/smartguard/internal/model/speech"
	widgetService "github.com/zhouzirui/smartguard/internal/service/widget"
)

type outgoingMessage struct {
	Type      string      `json:"type"`
	SessionID string      `json:"sessionId,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// connView renders a session onto one websocket. gorilla/websocket allows a
// single concurrent writer, so every write goes through mu.
type connView struct {
	conn      *websocket.Conn
	sessionID string
	logger    *zap.Logger

	mu sync.Mutex
}

var _ widgetService.View = (*connView)(nil)

func newConnView(conn *websocket.Conn, sessionID string, logger *zap.Logger) *connView {
	return &connView{conn: conn, sessionID: sessionID, logger: logger}
}

func (v *connView) Appended(msg chat.Message) { v.send("message", msg) }

func (v *connView) Replaced(id string, msg chat.Message) {
	v.send("replace", map[string]any{"id": id, "message": msg})
}

func (v *connView) Removed(id string) { v.send("remove", map[string]string{"id": id}) }

func (v *connView) ScrolledToLatest() { v.send("scroll", nil) }

func (v *connView) SetInput(text string) { v.send("input", map[string]string{"text": text}) }

func (v *connView) SetMic(state widgetService.MicState) { v.send("mic", state) }

func (v *connView) Alert(message string) { v.send("alert", map[string]string{"message": message}) }

func (v *connView) PlayAudio(resp *speechmodel.TTSResponse) {
	if resp == nil || len(resp.AudioData) == 0 {
		return
	}
	v.send("audio", map[string]any{
		"audioData": base64.StdEncoding.EncodeToString(resp.AudioData),
		"format":    resp.Format,
		"language":  resp.Language,
		"voice":     resp.Voice,
		"duration":  resp.Duration,
	})
}

func (v *connView) sendError(message string) {
	v.send("error", map[string]string{"message": message})
}

func (v *connView) send(kind string, data interface{}) {
	msg := outgoingMessage{
		Type:      kind,
		SessionID: v.sessionID,
		Data:      data,
		Timestamp: time.Now().Unix(),
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := v.conn.WriteJSON(msg); err != nil {
		v.logger.Debug("write failed", zap.String("type", kind), zap.Error(err))
	}
}

// pingLoop 定期发送ping消息
func (v *connView) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			v.mu.Lock()
			err := v.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
			v.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

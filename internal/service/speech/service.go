package speech

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	speechmodel "github.com/zhouzirui/smartguard/internal/model/speech"
)

// ErrMissingCredentials is returned when the Volcengine app id or token is absent.
var ErrMissingCredentials = errors.New("volcengine speech credentials are not configured")

// Recognizer 将一段完整语音识别为文本。
type Recognizer interface {
	Recognize(ctx context.Context, req *speechmodel.ASRRequest) (*speechmodel.ASRResponse, error)
}

// Synthesizer 将文本合成为音频。
type Synthesizer interface {
	Synthesize(ctx context.Context, req *speechmodel.TTSRequest) (*speechmodel.TTSResponse, error)
}

// Service 基于火山引擎 WebSocket 协议的识别与合成后端。
type Service struct {
	config *speechmodel.SpeechConfig
	asr    *volcengineASR
	tts    *volcengineTTS
	logger *zap.Logger
}

// NewService 创建语音服务实例
func NewService(config *speechmodel.SpeechConfig, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("speech")

	timeout := time.Duration(config.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	dialer := &websocket.Dialer{HandshakeTimeout: timeout}

	return &Service{
		config: config,
		asr:    &volcengineASR{config: config, dialer: dialer, logger: logger, chunkInterval: 200 * time.Millisecond},
		tts:    &volcengineTTS{config: config, dialer: dialer, logger: logger},
		logger: logger,
	}
}

// Recognize 识别一段缓冲好的语音。
func (s *Service) Recognize(ctx context.Context, req *speechmodel.ASRRequest) (*speechmodel.ASRResponse, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.asr.recognize(ctx, req)
}

// Synthesize 合成一段文本。
func (s *Service) Synthesize(ctx context.Context, req *speechmodel.TTSRequest) (*speechmodel.TTSResponse, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.tts.synthesize(ctx, req)
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.config.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, time.Duration(s.config.Timeout)*time.Second)
}

// resolveCredentials 返回规范化后的 AppID 与 AccessToken。
func resolveCredentials(cfg *speechmodel.SpeechConfig) (string, string, error) {
	if cfg == nil {
		return "", "", ErrMissingCredentials
	}
	appID := strings.TrimSpace(cfg.AppID)
	token := strings.TrimSpace(cfg.AccessToken)
	if token == "" {
		token = strings.TrimSpace(cfg.APIKey)
	}
	if appID == "" || token == "" {
		return "", "", ErrMissingCredentials
	}
	return appID, token, nil
}

// endpoint 拼接 BaseURL 与接口路径。
func endpoint(cfg *speechmodel.SpeechConfig, path string) string {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = "wss://openspeech.bytedance.com"
	}
	return base + path
}

// closeOnDone 在 ctx 结束时关闭连接，使阻塞中的读写立即返回。
func closeOnDone(ctx context.Context, conn *websocket.Conn) func() bool {
	return context.AfterFunc(ctx, func() { conn.Close() })
}

func writeFrame(conn *websocket.Conn, f *frame) error {
	if err := conn.WriteMessage(websocket.BinaryMessage, f.encode()); err != nil {
		return fmt.Errorf("write speech frame: %w", err)
	}
	return nil
}

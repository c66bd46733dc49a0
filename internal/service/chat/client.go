package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/smartguard/internal/config"
	"github.com/zhouzirui/smartguard/internal/model/chat"
)

var (
	// ErrEmptyReply is returned when the endpoint answers without a usable reply.
	ErrEmptyReply = errors.New("chat endpoint returned an empty reply")
	// ErrEmptyMessage is returned before any network call for blank input.
	ErrEmptyMessage = errors.New("message is required")
)

// maxResponseBytes caps how much of a reply body is read.
const maxResponseBytes = 1 << 20

// StatusError reports a non-2xx answer from the chat endpoint.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("chat endpoint status %d", e.StatusCode)
	}
	return fmt.Sprintf("chat endpoint status %d: %s", e.StatusCode, e.Body)
}

// Client posts one message per turn to the remote chat endpoint.
type Client struct {
	endpoint string
	http     *http.Client
	logger   *zap.Logger
}

// NewClient 基于配置创建聊天接口客户端。
func NewClient(cfg config.ChatConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		endpoint: cfg.Endpoint,
		http:     &http.Client{Timeout: timeout},
		logger:   logger.Named("chat"),
	}
}

// Endpoint returns the URL replies are requested from.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Reply sends message in language and returns the endpoint's reply. Any
// transport failure, non-2xx status, malformed body or empty reply is an
// error; the caller decides what to show instead.
func (c *Client) Reply(ctx context.Context, message, language string) (string, error) {
	if strings.TrimSpace(message) == "" {
		return "", ErrEmptyMessage
	}

	payload, err := json.Marshal(chat.Request{Message: message, Language: language})
	if err != nil {
		return "", fmt.Errorf("encode chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("call chat endpoint: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("read chat response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var out chat.Response
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	if strings.TrimSpace(out.Reply) == "" {
		return "", ErrEmptyReply
	}

	c.logger.Debug("chat reply received",
		zap.String("language", language),
		zap.Int("reply_length", len(out.Reply)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return out.Reply, nil
}

package speech

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	speechmodel "github.com/zhouzirui/smartguard/internal/model/speech"
)

const (
	asrPath               = "/api/v3/sauc/bigmodel_nostream"
	asrResourceDuration   = "volc.bigasr.sauc.duration"
	asrResourceConcurrent = "volc.bigasr.sauc.concurrent"
	asrChunkBytes         = 6400 // 16kHz 16bit mono, 200ms
	asrSuccessCode        = 20000000
)

// errEmptyAudio is returned when there is nothing to send.
var errEmptyAudio = errors.New("no audio data to send")

type volcengineASR struct {
	config        *speechmodel.SpeechConfig
	dialer        *websocket.Dialer
	logger        *zap.Logger
	chunkInterval time.Duration
}

// asrRequest 火山引擎 ASR 请求参数
type asrRequest struct {
	User struct {
		UID string `json:"uid,omitempty"`
	} `json:"user"`
	Audio struct {
		Language string `json:"language,omitempty"`
		Format   string `json:"format"`
		Codec    string `json:"codec,omitempty"`
		Rate     int    `json:"rate,omitempty"`
		Bits     int    `json:"bits,omitempty"`
		Channel  int    `json:"channel,omitempty"`
	} `json:"audio"`
	Request struct {
		ModelName      string `json:"model_name"`
		EnableITN      bool   `json:"enable_itn,omitempty"`
		EnablePunc     bool   `json:"enable_punc,omitempty"`
		ShowUtterances bool   `json:"show_utterances,omitempty"`
		ResultType     string `json:"result_type,omitempty"`
		EndWindowSize  int    `json:"end_window_size,omitempty"`
	} `json:"request"`
}

type asrUtterance struct {
	Text     string `json:"text"`
	Definite bool   `json:"definite"`
}

type asrServerMessage struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Sequence int    `json:"sequence"`
	Result   struct {
		Text       string         `json:"text"`
		Utterances []asrUtterance `json:"utterances,omitempty"`
	} `json:"result"`
	AudioInfo struct {
		Duration int64 `json:"duration"`
	} `json:"audio_info"`
}

func (c *volcengineASR) recognize(ctx context.Context, req *speechmodel.ASRRequest) (*speechmodel.ASRResponse, error) {
	if len(req.AudioData) == 0 {
		return nil, errEmptyAudio
	}
	appID, token, err := resolveCredentials(c.config)
	if err != nil {
		return nil, err
	}

	connectID := req.SessionID
	if connectID == "" {
		connectID = uuid.NewString()
	}
	resourceID := asrResourceDuration
	if c.config.ConcurrentMode {
		resourceID = asrResourceConcurrent
	}

	header := http.Header{}
	header.Set("X-Api-App-Key", appID)
	header.Set("X-Api-Access-Key", token)
	header.Set("X-Api-Resource-Id", resourceID)
	header.Set("X-Api-Connect-Id", connectID)

	conn, resp, err := c.dialer.DialContext(ctx, endpoint(c.config, asrPath), header)
	if err != nil {
		return nil, fmt.Errorf("connect to ASR websocket: %w", err)
	}
	defer conn.Close()
	stop := closeOnDone(ctx, conn)
	defer stop()

	if resp != nil {
		if logid := resp.Header.Get("X-Tt-Logid"); logid != "" {
			c.logger.Debug("asr connected", zap.String("logid", logid), zap.String("connect_id", connectID))
		}
	}

	payload, err := json.Marshal(c.buildRequest(req, connectID))
	if err != nil {
		return nil, fmt.Errorf("marshal ASR request: %w", err)
	}
	start, err := newJSONRequest(payload, compressGzip)
	if err != nil {
		return nil, err
	}
	if err := writeFrame(conn, start); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// 发送与接收并行，服务端提前报错时可以及时停止发送。
	sendErr := make(chan error, 1)
	go func() { sendErr <- c.sendAudio(ctx, conn, req.AudioData) }()

	type result struct {
		resp *speechmodel.ASRResponse
		err  error
	}
	recv := make(chan result, 1)
	go func() {
		r, err := c.readResult(conn, connectID)
		recv <- result{resp: r, err: err}
	}()

	for {
		select {
		case err := <-sendErr:
			if err != nil {
				cancel()
				return nil, fmt.Errorf("send audio: %w", err)
			}
			sendErr = nil
		case r := <-recv:
			if r.err != nil && ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return r.resp, r.err
		}
	}
}

func (c *volcengineASR) buildRequest(req *speechmodel.ASRRequest, uid string) *asrRequest {
	r := &asrRequest{}
	r.User.UID = uid

	r.Audio.Format = req.Format
	if r.Audio.Format == "" {
		r.Audio.Format = "wav"
	}
	r.Audio.Language = req.Language
	if r.Audio.Language == "" {
		r.Audio.Language = c.config.ASRLanguage
	}
	r.Audio.Codec = "raw"
	r.Audio.Rate = 16000
	r.Audio.Bits = 16
	r.Audio.Channel = 1

	r.Request.ModelName = c.config.ASRModel
	if r.Request.ModelName == "" {
		r.Request.ModelName = "bigmodel"
	}
	r.Request.EnableITN = true
	r.Request.EnablePunc = true
	r.Request.ShowUtterances = true
	r.Request.ResultType = "full"
	r.Request.EndWindowSize = 800
	return r
}

// sendAudio 按 200ms 一包发送音频，序号从 2 开始（1 为请求参数帧）。
func (c *volcengineASR) sendAudio(ctx context.Context, conn *websocket.Conn, audio []byte) error {
	sequence := int32(2)
	for offset := 0; offset < len(audio); offset += asrChunkBytes {
		end := min(offset+asrChunkBytes, len(audio))
		last := end == len(audio)

		chunk, err := newAudioChunk(audio[offset:end], sequence, last, compressGzip)
		if err != nil {
			return err
		}
		if err := writeFrame(conn, chunk); err != nil {
			return err
		}
		if last {
			return nil
		}
		sequence++

		if c.chunkInterval > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.chunkInterval):
			}
		}
	}
	return nil
}

// readResult 读取识别结果直到最后一包。
func (c *volcengineASR) readResult(conn *websocket.Conn, sessionID string) (*speechmodel.ASRResponse, error) {
	var (
		text     string
		duration int64
	)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("read ASR response: %w", err)
		}
		f, err := decodeFrame(data)
		if err != nil {
			return nil, fmt.Errorf("decode ASR frame: %w", err)
		}

		switch f.kind {
		case msgError:
			body, _ := f.body()
			return nil, fmt.Errorf("ASR error %d: %s", f.errorCode, strings.TrimSpace(string(body)))

		case msgFullServerResponse:
			body, err := f.body()
			if err != nil {
				return nil, fmt.Errorf("decompress ASR payload: %w", err)
			}
			var msg asrServerMessage
			if err := json.Unmarshal(body, &msg); err != nil {
				c.logger.Warn("asr payload ignored", zap.Error(err))
				continue
			}
			if msg.Code != 0 && msg.Code != asrSuccessCode {
				return nil, fmt.Errorf("ASR API error %d: %s", msg.Code, msg.Message)
			}

			if candidate := msg.Result.Text; candidate != "" {
				text = candidate
			} else if joined := joinUtterances(msg.Result.Utterances); joined != "" {
				text = joined
			}
			if msg.AudioInfo.Duration > 0 {
				duration = msg.AudioInfo.Duration
			}

			if f.isLast() || msg.Sequence < 0 {
				out := &speechmodel.ASRResponse{
					SessionID: sessionID,
					Text:      text,
					Duration:  duration,
					RequestID: sessionID,
					CreatedAt: time.Now().UTC(),
				}
				if strings.TrimSpace(text) != "" {
					out.Alternatives = []string{text}
					out.Confidence = 0.95
				}
				return out, nil
			}
		}
	}
}

func joinUtterances(utterances []asrUtterance) string {
	parts := make([]string, 0, len(utterances))
	for _, u := range utterances {
		if t := strings.TrimSpace(u.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

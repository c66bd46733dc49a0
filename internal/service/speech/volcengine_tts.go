package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	speechmodel "github.com/zhouzirui/smartguard/internal/model/speech"
)

const (
	ttsPath = "/api/v3/tts/unidirectional/stream"

	ttsResourceDefault = "volc.service_type.10029"
	ttsResourceMega    = "volc.megatts.default"
	ttsResourceSeed    = "seed-tts-2.0"
)

var (
	errEmptyText     = errors.New("TTS text is empty")
	errEmptyTTSAudio = errors.New("TTS audio is empty")
)

// seedVoiceHints 音色名中出现这些片段时优先使用 seed 资源。
var seedVoiceHints = []string{
	"bigtts", "seed", "megatts", "uranus", "venus", "jupiter",
	"saturn", "neptune", "mercury", "pluto", "mars",
}

type volcengineTTS struct {
	config *speechmodel.SpeechConfig
	dialer *websocket.Dialer
	logger *zap.Logger
}

type ttsRequest struct {
	User struct {
		UID string `json:"uid"`
	} `json:"user"`
	ReqParams struct {
		Speaker     string         `json:"speaker"`
		Text        string         `json:"text"`
		AudioParams ttsAudioParams `json:"audio_params"`
		Language    string         `json:"language,omitempty"`
	} `json:"req_params"`
}

type ttsAudioParams struct {
	Format      string  `json:"format"`
	SampleRate  int     `json:"sample_rate"`
	SpeedRatio  float32 `json:"speed_ratio,omitempty"`
	VolumeRatio float32 `json:"volume_ratio,omitempty"`
}

type ttsServerMessage struct {
	ReqID    string `json:"reqid"`
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Sequence int    `json:"sequence"`
	Data     string `json:"data"`
	Addition struct {
		Duration string `json:"duration,omitempty"`
	} `json:"addition"`
}

// synthesize 依次尝试候选音色与资源，资源不匹配时换下一个候选。
func (c *volcengineTTS) synthesize(ctx context.Context, req *speechmodel.TTSRequest) (*speechmodel.TTSResponse, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, errEmptyText
	}
	appID, token, err := resolveCredentials(c.config)
	if err != nil {
		return nil, err
	}

	format := strings.TrimSpace(req.Format)
	if format == "" || format == "wav" {
		format = "mp3"
	}

	var lastErr error
	for _, speaker := range speakerCandidates(req.Voice, c.config.TTSVoice) {
		for _, resourceID := range resourceCandidates(speaker) {
			resp, err := c.attempt(ctx, req, appID, token, speaker, format, resourceID)
			if err == nil {
				return resp, nil
			}
			if !isResourceMismatch(err) {
				return nil, err
			}
			c.logger.Debug("tts resource mismatch",
				zap.String("voice", speaker),
				zap.String("resource", resourceID),
				zap.Error(err),
			)
			lastErr = err
		}
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, fmt.Errorf("no TTS voice configured for %q", req.Language)
}

func (c *volcengineTTS) attempt(ctx context.Context, req *speechmodel.TTSRequest, appID, token, speaker, format, resourceID string) (*speechmodel.TTSResponse, error) {
	connectID := uuid.NewString()

	header := http.Header{}
	header.Set("X-Api-App-Key", appID)
	header.Set("X-Api-Access-Key", token)
	header.Set("X-Api-Resource-Id", resourceID)
	header.Set("X-Api-Connect-Id", connectID)

	conn, _, err := c.dialer.DialContext(ctx, endpoint(c.config, ttsPath), header)
	if err != nil {
		return nil, fmt.Errorf("connect to TTS websocket: %w", err)
	}
	defer conn.Close()
	stop := closeOnDone(ctx, conn)
	defer stop()

	payload, err := json.Marshal(c.buildRequest(req, speaker, format))
	if err != nil {
		return nil, fmt.Errorf("marshal TTS request: %w", err)
	}
	start, err := newJSONRequest(payload, compressNone)
	if err != nil {
		return nil, err
	}
	if err := writeFrame(conn, start); err != nil {
		return nil, err
	}

	var (
		audio    bytes.Buffer
		reqID    string
		duration int64
	)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("read TTS response: %w", err)
		}
		f, err := decodeFrame(data)
		if err != nil {
			return nil, fmt.Errorf("decode TTS frame: %w", err)
		}

		switch f.kind {
		case msgError:
			body, _ := f.body()
			return nil, fmt.Errorf("TTS error %d: %s", f.errorCode, strings.TrimSpace(string(body)))

		case msgAudioOnlyResponse:
			chunk, err := f.body()
			if err != nil {
				return nil, fmt.Errorf("decompress TTS audio: %w", err)
			}
			audio.Write(chunk)

		case msgFullServerResponse:
			body, err := f.body()
			if err != nil {
				return nil, fmt.Errorf("decompress TTS payload: %w", err)
			}

			var msg ttsServerMessage
			if len(body) > 0 {
				if err := json.Unmarshal(body, &msg); err != nil {
					c.logger.Warn("tts payload ignored", zap.Error(err))
				} else {
					if msg.Code != 0 && msg.Code != 3000 {
						return nil, fmt.Errorf("TTS API error %d: %s", msg.Code, msg.Message)
					}
					if msg.ReqID != "" {
						reqID = msg.ReqID
					}
					if msg.Addition.Duration != "" {
						if ms, err := strconv.ParseInt(msg.Addition.Duration, 10, 64); err == nil {
							duration = ms
						}
					}
					if msg.Data != "" {
						chunk, err := base64.StdEncoding.DecodeString(msg.Data)
						if err != nil {
							return nil, fmt.Errorf("decode TTS audio chunk: %w", err)
						}
						audio.Write(chunk)
					}
				}
			}

			finished := (f.hasEvent() && f.event == eventSessionFinished) || f.isLast() || msg.Sequence < 0
			if !finished {
				continue
			}
			if audio.Len() == 0 {
				return nil, errEmptyTTSAudio
			}
			if reqID == "" {
				reqID = connectID
			}
			return &speechmodel.TTSResponse{
				SessionID: req.SessionID,
				AudioData: audio.Bytes(),
				Duration:  duration,
				Format:    format,
				Voice:     speaker,
				Language:  req.Language,
				RequestID: reqID,
				CreatedAt: time.Now().UTC(),
			}, nil
		}
	}
}

func (c *volcengineTTS) buildRequest(req *speechmodel.TTSRequest, speaker, format string) *ttsRequest {
	r := &ttsRequest{}
	r.User.UID = req.SessionID
	if r.User.UID == "" {
		r.User.UID = uuid.NewString()
	}
	r.ReqParams.Speaker = speaker
	r.ReqParams.Text = req.Text
	r.ReqParams.AudioParams.Format = format
	r.ReqParams.AudioParams.SampleRate = 24000

	speed := req.Speed
	if speed <= 0 {
		speed = c.config.TTSSpeed
	}
	if speed > 0 && speed != 1.0 {
		r.ReqParams.AudioParams.SpeedRatio = speed
	}
	volume := req.Volume
	if volume <= 0 {
		volume = c.config.TTSVolume
	}
	if volume > 0 && volume != 1.0 {
		r.ReqParams.AudioParams.VolumeRatio = volume
	}

	r.ReqParams.Language = strings.TrimSpace(req.Language)
	if r.ReqParams.Language == "" {
		r.ReqParams.Language = strings.TrimSpace(c.config.TTSLanguage)
	}
	return r
}

// resourceCandidates 按音色推断可用的资源 ID，按优先级排列。
func resourceCandidates(voice string) []string {
	voice = strings.TrimSpace(voice)
	if strings.HasPrefix(voice, "S_") {
		return []string{ttsResourceMega}
	}
	lower := strings.ToLower(voice)
	for _, hint := range seedVoiceHints {
		if strings.Contains(lower, hint) {
			return []string{ttsResourceSeed, ttsResourceDefault}
		}
	}
	return []string{ttsResourceDefault, ttsResourceSeed}
}

// speakerCandidates 返回去重后的候选音色：先请求的，再配置的默认音色。
func speakerCandidates(requested, fallback string) []string {
	var out []string
	for _, v := range []string{requested, fallback} {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		dup := false
		for _, existing := range out {
			if strings.EqualFold(existing, v) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, v)
		}
	}
	return out
}

func isResourceMismatch(err error) bool {
	return err != nil && strings.Contains(err.Error(), "resource ID is mismatched with speaker related resource")
}

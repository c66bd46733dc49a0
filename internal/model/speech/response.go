package speech

import "time"

// ASRResponse 语音识别响应
type ASRResponse struct {
	SessionID    string    `json:"sessionId"`
	Text         string    `json:"text"`
	Alternatives []string  `json:"alternatives,omitempty"` // 按置信度排序的候选
	Confidence   float64   `json:"confidence"`
	Duration     int64     `json:"duration"` // milliseconds
	RequestID    string    `json:"requestId,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// FirstAlternative 返回首个候选结果，没有候选时退回 Text。
func (r *ASRResponse) FirstAlternative() string {
	if r == nil {
		return ""
	}
	if len(r.Alternatives) > 0 {
		return r.Alternatives[0]
	}
	return r.Text
}

// TTSResponse 语音合成响应
type TTSResponse struct {
	SessionID string    `json:"sessionId"`
	AudioData []byte    `json:"-"`
	Duration  int64     `json:"duration"` // milliseconds
	Format    string    `json:"format"`
	Voice     string    `json:"voice,omitempty"`
	Language  string    `json:"language,omitempty"`
	RequestID string    `json:"requestId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

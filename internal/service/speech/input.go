package speech

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	model "github.com/zhouzirui/smartguard/internal/model/language"
	speechmodel "github.com/zhouzirui/smartguard/internal/model/speech"
)

// UnavailableTooltip is shown on the mic control when recognition is absent.
const UnavailableTooltip = "Speech recognition is not available for this widget."

// Recognition error codes reported to the view.
const (
	CodeAudioCapture = "audio-capture"
	CodeNoSpeech     = "no-speech"
	CodeNetwork      = "network"
	CodeAborted      = "aborted"
	CodeNotAllowed   = "not-allowed"
)

// ErrRecognizerUnavailable is wrapped by not-allowed recognition errors.
var ErrRecognizerUnavailable = errors.New("speech recognition is not available")

// RecognitionError is a failed recognition with the code shown to the user.
type RecognitionError struct {
	Code string
	Err  error
}

func (e *RecognitionError) Error() string {
	if e.Err == nil {
		return "recognition failed: " + e.Code
	}
	return fmt.Sprintf("recognition failed: %s: %v", e.Code, e.Err)
}

func (e *RecognitionError) Unwrap() error { return e.Err }

// ErrorCode extracts the recognition code from err, or "" when err is not a
// RecognitionError.
func ErrorCode(err error) string {
	var re *RecognitionError
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}

// InputAdapter turns one buffered utterance into text, single shot.
type InputAdapter struct {
	recognizer Recognizer
	logger     *zap.Logger
}

// NewInputAdapter wraps r. A nil r yields an adapter that reports itself
// unavailable.
func NewInputAdapter(r Recognizer, logger *zap.Logger) *InputAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InputAdapter{recognizer: r, logger: logger.Named("speech_input")}
}

// Available reports whether recognition can be offered at all.
func (a *InputAdapter) Available() bool {
	return a != nil && a.recognizer != nil
}

// Tooltip is the mic tooltip, empty when recognition is available.
func (a *InputAdapter) Tooltip() string {
	if a.Available() {
		return ""
	}
	return UnavailableTooltip
}

// Recognize returns the first alternative of the first result for audio
// spoken in lang. Failures are *RecognitionError values.
func (a *InputAdapter) Recognize(ctx context.Context, sessionID string, lang model.Code, audio []byte, format string) (string, error) {
	if !a.Available() {
		return "", &RecognitionError{Code: CodeNotAllowed, Err: ErrRecognizerUnavailable}
	}
	if len(audio) == 0 {
		return "", &RecognitionError{Code: CodeAudioCapture, Err: errEmptyAudio}
	}

	resp, err := a.recognizer.Recognize(ctx, &speechmodel.ASRRequest{
		SessionID: sessionID,
		AudioData: audio,
		Format:    format,
		Language:  lang.Locale(),
	})
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return "", &RecognitionError{Code: CodeAborted, Err: err}
		}
		if errors.Is(err, ErrMissingCredentials) {
			return "", &RecognitionError{Code: CodeNotAllowed, Err: err}
		}
		a.logger.Warn("recognition failed", zap.String("session_id", sessionID), zap.Error(err))
		return "", &RecognitionError{Code: CodeNetwork, Err: err}
	}

	text := strings.TrimSpace(resp.FirstAlternative())
	if text == "" {
		return "", &RecognitionError{Code: CodeNoSpeech}
	}
	return text, nil
}

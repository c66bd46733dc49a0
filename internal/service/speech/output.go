package speech

import (
	"context"
	"errors"
	"strings"
	"sync"
	"unicode"

	"go.uber.org/zap"

	model "github.com/zhouzirui/smartguard/internal/model/language"
	speechmodel "github.com/zhouzirui/smartguard/internal/model/speech"
)

// ErrSynthesizerUnavailable is returned when no synthesis backend is configured.
var ErrSynthesizerUnavailable = errors.New("speech synthesis is not available")

// Player receives synthesized audio for playback.
type Player interface {
	PlayAudio(resp *speechmodel.TTSResponse)
}

// OutputAdapter vocalizes text without blocking the caller.
type OutputAdapter struct {
	synthesizer Synthesizer
	voices      *VoiceBook
	format      string
	logger      *zap.Logger
	wg          sync.WaitGroup
}

// NewOutputAdapter wraps s. A nil s makes Speak a no-op.
func NewOutputAdapter(s Synthesizer, voices *VoiceBook, logger *zap.Logger) *OutputAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OutputAdapter{
		synthesizer: s,
		voices:      voices,
		format:      "mp3",
		logger:      logger.Named("speech_output"),
	}
}

// Available reports whether synthesis is configured.
func (a *OutputAdapter) Available() bool {
	return a != nil && a.synthesizer != nil
}

// Speak synthesizes text in lang on its own goroutine and hands the audio to
// player. Calls are not serialized; failures are only logged. It reports
// whether synthesis was started.
func (a *OutputAdapter) Speak(ctx context.Context, sessionID, text string, lang model.Code, player Player) bool {
	if !a.Available() {
		return false
	}
	req, ok := a.request(sessionID, text, lang)
	if !ok {
		return false
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		resp, err := a.synthesizer.Synthesize(ctx, req)
		if err != nil {
			if ctx.Err() == nil {
				a.logger.Warn("synthesis failed",
					zap.String("session_id", sessionID),
					zap.String("language", string(lang)),
					zap.Error(err),
				)
			}
			return
		}
		if player != nil {
			player.PlayAudio(resp)
		}
	}()
	return true
}

// Synthesize is the blocking form of Speak and returns the audio.
func (a *OutputAdapter) Synthesize(ctx context.Context, sessionID, text string, lang model.Code) (*speechmodel.TTSResponse, error) {
	if !a.Available() {
		return nil, ErrSynthesizerUnavailable
	}
	req, ok := a.request(sessionID, text, lang)
	if !ok {
		return nil, errEmptyText
	}
	return a.synthesizer.Synthesize(ctx, req)
}

func (a *OutputAdapter) request(sessionID, text string, lang model.Code) (*speechmodel.TTSRequest, bool) {
	clean := SanitizeForSpeech(text)
	if clean == "" {
		return nil, false
	}
	return &speechmodel.TTSRequest{
		SessionID: sessionID,
		Text:      clean,
		Voice:     a.voices.VoiceFor(lang),
		Format:    a.format,
		Language:  lang.Locale(),
	}, true
}

// Wait blocks until every started synthesis has finished.
func (a *OutputAdapter) Wait() {
	a.wg.Wait()
}

// SanitizeForSpeech drops every rune that is not a letter, number,
// punctuation or space, then collapses whitespace, so emoji and other
// decorative symbols are not read aloud.
func SanitizeForSpeech(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		case unicode.IsLetter(r), unicode.IsNumber(r), unicode.IsPunct(r), unicode.Is(unicode.Zs, r):
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

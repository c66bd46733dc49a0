package widget

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/smartguard/internal/model/chat"
	model "github.com/zhouzirui/smartguard/internal/model/language"
	langsvc "github.com/zhouzirui/smartguard/internal/service/language"
	"github.com/zhouzirui/smartguard/internal/service/speech"
	"github.com/zhouzirui/smartguard/internal/service/transcript"
	"github.com/zhouzirui/smartguard/internal/service/turn"
)

// maxUtteranceBytes caps the audio buffered for a single recognition.
const maxUtteranceBytes = 10 << 20

var (
	// ErrNotListening is returned for audio that arrives outside a listening window.
	ErrNotListening = errors.New("voice input is not listening")
	// ErrSessionClosed is returned by operations on a closed session.
	ErrSessionClosed = errors.New("session closed")
)

// Deps are the collaborators shared by every session.
type Deps struct {
	Replier       turn.Replier
	Input         *speech.InputAdapter
	Output        *speech.OutputAdapter
	SpeakFallback bool
	Logger        *zap.Logger
}

// Snapshot is a point-in-time copy of a session for API responses.
type Snapshot struct {
	ID         string         `json:"id"`
	Language   model.Code     `json:"language"`
	State      chat.TurnState `json:"state"`
	Mic        MicState       `json:"mic"`
	Transcript []chat.Message `json:"transcript"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// Session is the state of one widget: its language, transcript, input
// field and voice input. Every user event enters through one method.
type Session struct {
	id        string
	createdAt time.Time

	ctx    context.Context
	cancel context.CancelFunc

	view        *relay
	language    *langsvc.Context
	transcript  *transcript.Transcript
	coordinator *turn.Coordinator
	input       *speech.InputAdapter
	output      *speech.OutputAdapter
	logger      *zap.Logger

	mu          sync.Mutex
	inputText   string
	mic         MicState
	audio       bytes.Buffer
	audioFormat string
	recognizing bool
	closed      bool

	wg sync.WaitGroup
}

// NewSession builds a session. view may be nil and attached later.
func NewSession(parent context.Context, id string, lang model.Code, view View, deps Deps) *Session {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(parent)

	s := &Session{
		id:        id,
		createdAt: time.Now().UTC(),
		ctx:       ctx,
		cancel:    cancel,
		view:      &relay{view: view},
		language:  langsvc.NewContext(lang),
		input:     deps.Input,
		output:    deps.Output,
		logger:    logger.With(zap.String("session_id", id)),
	}
	s.transcript = transcript.New(s.view)
	s.coordinator = turn.New(s.transcript, deps.Replier, s, s, turn.Options{
		SpeakFallback: deps.SpeakFallback,
		Logger:        s.logger,
	})
	s.mic = MicState{
		Enabled: s.input.Available(),
		Label:   MicIdleLabel,
		Tooltip: s.input.Tooltip(),
	}
	s.language.Subscribe(func(_, next model.Code) {
		s.ShowGreeting(next, true)
	})
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Language returns the active language.
func (s *Session) Language() model.Code { return s.language.Current() }

// Messages returns the transcript in display order.
func (s *Session) Messages() []chat.Message { return s.transcript.Messages() }

// Attach makes v the view receiving updates and replays the session into
// it: transcript, mic state, then the input field. Changes made while
// attaching reach v exactly once. nil detaches.
func (s *Session) Attach(v View) {
	if v == nil {
		s.view.set(nil)
		return
	}

	s.transcript.Replay(func(msgs []chat.Message) {
		s.view.set(v)
		for _, msg := range msgs {
			v.Appended(msg)
		}
		v.ScrolledToLatest()
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	v.SetMic(s.mic)
	v.SetInput(s.inputText)
}

// Load runs once when the widget appears: the mic affordance is rendered
// from the recognition capability and the greeting is shown silently.
func (s *Session) Load() {
	s.mu.Lock()
	mic := s.mic
	s.mu.Unlock()

	s.view.SetMic(mic)
	s.ShowGreeting(s.language.Current(), false)
}

// ShowGreeting appends the greeting for code and optionally speaks it.
func (s *Session) ShowGreeting(code model.Code, speak bool) {
	greeting := model.Greeting(code)
	s.transcript.Append(chat.SenderBot, greeting)
	if speak {
		s.Speak(greeting, code)
	}
}

// ChangeLanguage selects raw as the session language. A change shows and
// speaks the new greeting; reselecting the current language does nothing.
func (s *Session) ChangeLanguage(raw string) (model.Code, error) {
	code, ok := model.Parse(raw)
	if !ok {
		return "", fmt.Errorf("%w: %q", langsvc.ErrUnsupported, raw)
	}
	if _, err := s.language.Set(code); err != nil {
		return "", err
	}
	return code, nil
}

// SetInputText records what the user typed.
func (s *Session) SetInputText(text string) {
	s.mu.Lock()
	s.inputText = text
	s.mu.Unlock()
}

// InputText returns the current input field value.
func (s *Session) InputText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inputText
}

// ClearInput empties the input field.
func (s *Session) ClearInput() {
	s.mu.Lock()
	s.inputText = ""
	s.mu.Unlock()
	s.view.SetInput("")
}

// Submit sends whatever is in the input field.
func (s *Session) Submit() error {
	return s.SubmitText(s.InputText())
}

// SubmitText starts a turn for text in the current language and returns
// without waiting for the reply. Blank text is ignored with turn.ErrEmptyInput.
func (s *Session) SubmitText(text string) error {
	if strings.TrimSpace(text) == "" {
		return turn.ErrEmptyInput
	}
	lang := s.language.Current()
	return s.goSafe(func() {
		if _, err := s.coordinator.Run(s.ctx, text, lang); err != nil {
			s.logger.Debug("turn skipped", zap.Error(err))
		}
	})
}

// RunTurn runs a turn for text and waits for it to render.
func (s *Session) RunTurn(ctx context.Context, text string) (chat.Turn, error) {
	if s.ctx.Err() != nil {
		return chat.Turn{}, ErrSessionClosed
	}
	ctx, stop := mergeCancel(ctx, s.ctx)
	defer stop()
	t, err := s.coordinator.Run(ctx, text, s.language.Current())
	return t, s.closedErr(err)
}

// InFlight returns the turns still waiting for a reply.
func (s *Session) InFlight() []chat.Turn {
	return s.coordinator.InFlight()
}

// Speak vocalizes text in lang if synthesis is available.
func (s *Session) Speak(text string, lang model.Code) {
	if s.output == nil {
		return
	}
	s.output.Speak(s.ctx, s.id, text, lang, s.view)
}

// StartListening opens a single-shot voice input in the current language.
// Activating it again while listening is ignored.
func (s *Session) StartListening(format string) error {
	if !s.input.Available() {
		err := &speech.RecognitionError{Code: speech.CodeNotAllowed, Err: speech.ErrRecognizerUnavailable}
		s.view.Alert(alertText(err.Code))
		return err
	}

	s.mu.Lock()
	if s.mic.Listening || s.recognizing {
		s.mu.Unlock()
		return nil
	}
	s.audio.Reset()
	s.audioFormat = format
	s.mic.Listening = true
	s.mic.Label = MicListeningLabel
	mic := s.mic
	s.mu.Unlock()

	s.view.SetMic(mic)
	return nil
}

// FeedAudio buffers captured audio. The final chunk ends capture and
// recognizes the utterance once; the transcript is put in the input field
// and submitted like typed text. Chunks arriving after the final one are
// rejected with ErrNotListening until the mic resets.
func (s *Session) FeedAudio(chunk []byte, final bool) error {
	s.mu.Lock()
	if !s.mic.Listening || s.recognizing {
		s.mu.Unlock()
		return ErrNotListening
	}
	if s.audio.Len()+len(chunk) > maxUtteranceBytes {
		s.stopListeningLocked()
		mic := s.mic
		s.mu.Unlock()
		s.view.SetMic(mic)
		s.view.Alert(alertText(speech.CodeAudioCapture))
		return &speech.RecognitionError{Code: speech.CodeAudioCapture, Err: errors.New("utterance too long")}
	}
	s.audio.Write(chunk)
	if !final {
		s.mu.Unlock()
		return nil
	}

	audio := append([]byte(nil), s.audio.Bytes()...)
	format := s.audioFormat
	s.recognizing = true
	s.mu.Unlock()

	lang := s.language.Current()
	if err := s.goSafe(func() { s.recognize(audio, format, lang) }); err != nil {
		s.mu.Lock()
		s.stopListeningLocked()
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *Session) recognize(audio []byte, format string, lang model.Code) {
	text, err := s.input.Recognize(s.ctx, s.id, lang, audio, format)

	s.mu.Lock()
	s.stopListeningLocked()
	mic := s.mic
	s.mu.Unlock()
	s.view.SetMic(mic)

	if err != nil {
		code := speech.ErrorCode(err)
		s.logger.Info("voice input failed", zap.String("code", code), zap.Error(err))
		s.view.Alert(alertText(code))
		return
	}

	s.putInput(text)
	if _, runErr := s.coordinator.Run(s.ctx, text, lang); runErr != nil {
		s.logger.Debug("turn skipped", zap.Error(runErr))
	}
}

// VoiceTurn recognizes a complete utterance and submits the transcript like
// the mic does, waiting for the reply. Recognition failures are returned as
// *speech.RecognitionError and start no turn.
func (s *Session) VoiceTurn(ctx context.Context, audio []byte, format string) (string, chat.Turn, error) {
	if s.ctx.Err() != nil {
		return "", chat.Turn{}, ErrSessionClosed
	}
	ctx, stop := mergeCancel(ctx, s.ctx)
	defer stop()

	lang := s.language.Current()
	text, err := s.input.Recognize(ctx, s.id, lang, audio, format)
	if err != nil {
		return "", chat.Turn{}, err
	}
	s.putInput(text)
	t, err := s.coordinator.Run(ctx, text, lang)
	return text, t, s.closedErr(err)
}

// closedErr reports a turn aborted by Close as ErrSessionClosed.
func (s *Session) closedErr(err error) error {
	if errors.Is(err, turn.ErrAborted) && s.ctx.Err() != nil {
		return ErrSessionClosed
	}
	return err
}

// putInput writes recognized text into the input field.
func (s *Session) putInput(text string) {
	s.mu.Lock()
	s.inputText = text
	s.mu.Unlock()
	s.view.SetInput(text)
}

// stopListeningLocked must be called with mu held.
func (s *Session) stopListeningLocked() {
	s.audio.Reset()
	s.recognizing = false
	s.mic.Listening = false
	s.mic.Label = MicIdleLabel
}

// State reports where the widget is in the turn lifecycle: listening while
// voice input is captured or recognized, otherwise the state of the newest
// turn awaiting its reply, otherwise idle.
func (s *Session) State() chat.TurnState {
	s.mu.Lock()
	listening := s.mic.Listening || s.recognizing
	s.mu.Unlock()
	if listening {
		return chat.TurnListening
	}
	if inflight := s.coordinator.InFlight(); len(inflight) > 0 {
		return inflight[len(inflight)-1].State
	}
	return chat.TurnIdle
}

// Snapshot copies the session for API responses.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	mic := s.mic
	s.mu.Unlock()
	return Snapshot{
		ID:         s.id,
		Language:   s.language.Current(),
		State:      s.State(),
		Mic:        mic,
		Transcript: s.transcript.Messages(),
		CreatedAt:  s.createdAt,
	}
}

// Close cancels in-flight work and waits for it to stop.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.view.set(nil)
	s.wg.Wait()
}

// Wait blocks until background turns and recognitions have finished.
func (s *Session) Wait() {
	s.wg.Wait()
}

func (s *Session) goSafe(fn func()) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		fn()
	}()
	return nil
}

func alertText(code string) string {
	return "Voice input failed: " + code
}

// mergeCancel returns a context derived from ctx that is also cancelled
// when other is done.
func mergeCancel(ctx, other context.Context) (context.Context, context.CancelFunc) {
	merged, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(other, cancel)
	return merged, func() {
		stop()
		cancel()
	}
}

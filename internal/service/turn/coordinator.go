package turn

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/zhouzirui/smartguard/internal/model/chat"
	"github.com/zhouzirui/smartguard/internal/model/language"
	"github.com/zhouzirui/smartguard/internal/service/transcript"
)

var (
	// ErrEmptyInput is returned for input that is blank after trimming.
	ErrEmptyInput = errors.New("input is empty")
	// ErrAborted is returned when the caller's context ends before the reply
	// arrives. The turn's placeholder is removed and nothing is spoken.
	ErrAborted = errors.New("turn aborted")
)

const instrumentationName = "github.com/zhouzirui/smartguard/internal/service/turn"

// Replier answers one message. It is called exactly once per turn.
type Replier interface {
	Reply(ctx context.Context, message, language string) (string, error)
}

// Speaker vocalizes a reply without blocking the caller.
type Speaker interface {
	Speak(text string, lang language.Code)
}

// InputClearer empties the widget's input field.
type InputClearer interface {
	ClearInput()
}

// Options tunes a Coordinator. Zero values are usable.
type Options struct {
	SpeakFallback bool
	Logger        *zap.Logger
	Tracer        trace.Tracer
	Meter         metric.Meter
}

// Coordinator runs chat turns against one transcript.
type Coordinator struct {
	transcript    *transcript.Transcript
	replier       Replier
	speaker       Speaker
	input         InputClearer
	speakFallback bool

	logger   *zap.Logger
	tracer   trace.Tracer
	turns    metric.Int64Counter
	duration metric.Float64Histogram

	mu       sync.Mutex
	inflight map[string]*chat.Turn

	newID func() string
	now   func() time.Time
}

// New wires a coordinator. speaker and input may be nil.
func New(tr *transcript.Transcript, replier Replier, speaker Speaker, input InputClearer, opts Options) *Coordinator {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer(instrumentationName)
	}
	meter := opts.Meter
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}

	c := &Coordinator{
		transcript:    tr,
		replier:       replier,
		speaker:       speaker,
		input:         input,
		speakFallback: opts.SpeakFallback,
		logger:        logger.Named("turn"),
		tracer:        tracer,
		inflight:      make(map[string]*chat.Turn),
		newID:         uuid.NewString,
		now:           func() time.Time { return time.Now().UTC() },
	}

	var err error
	c.turns, err = meter.Int64Counter(
		"smartguard.turns",
		metric.WithDescription("Completed chat turns by outcome"),
	)
	if err != nil {
		c.logger.Warn("failed to create turn counter", zap.Error(err))
	}
	c.duration, err = meter.Float64Histogram(
		"smartguard.turn.duration",
		metric.WithDescription("Chat turn duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		c.logger.Warn("failed to create turn histogram", zap.Error(err))
	}
	return c
}

// Run drives one turn: the trimmed text is shown as the user's message, the
// input is cleared, a placeholder holds the turn's slot while the endpoint
// is called once, then the placeholder becomes the reply (or the fallback)
// and the result is spoken. Endpoint failures are recovered here and never
// returned. Blank input is rejected with ErrEmptyInput, and a ctx that ends
// before the reply removes the placeholder and returns ErrAborted.
func (c *Coordinator) Run(ctx context.Context, raw string, lang language.Code) (chat.Turn, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return chat.Turn{}, ErrEmptyInput
	}

	turn := &chat.Turn{
		ID:        c.newID(),
		Text:      text,
		Language:  string(lang),
		State:     chat.TurnSending,
		StartedAt: c.now(),
	}

	ctx, span := c.tracer.Start(ctx, "chat_turn", trace.WithAttributes(
		attribute.String("turn.id", turn.ID),
		attribute.String("turn.language", turn.Language),
	))
	defer span.End()

	c.track(turn)
	defer c.untrack(turn.ID)

	c.transcript.AppendTurn(turn.ID, chat.SenderUser, text)
	if c.input != nil {
		c.input.ClearInput()
	}
	c.transcript.AppendPlaceholder(turn.ID)

	c.setState(turn, chat.TurnAwaitingReply)
	reply, err := c.replier.Reply(ctx, text, turn.Language)
	if err != nil && ctx.Err() != nil {
		c.transcript.RemovePlaceholder(turn.ID)
		out := c.abort(turn)
		span.SetStatus(codes.Error, "turn aborted")
		c.record(ctx, out)
		c.logger.Info("chat turn aborted",
			zap.String("turn_id", out.ID),
			zap.String("language", out.Language),
			zap.Error(ctx.Err()),
		)
		return out, fmt.Errorf("%w: %w", ErrAborted, ctx.Err())
	}
	if err != nil {
		c.logger.Warn("chat turn failed, showing fallback",
			zap.String("turn_id", turn.ID),
			zap.String("language", turn.Language),
			zap.Error(err),
		)
		span.RecordError(err)
		span.SetStatus(codes.Error, "chat endpoint failed")
		reply = chat.FallbackReply
	}

	c.transcript.ResolvePlaceholder(turn.ID, reply)
	out := c.finish(turn, reply, err != nil)

	if c.speaker != nil && (!out.Fallback || c.speakFallback) {
		c.speaker.Speak(reply, lang)
	}

	c.record(ctx, out)
	c.logger.Info("chat turn rendered",
		zap.String("turn_id", out.ID),
		zap.String("language", out.Language),
		zap.Bool("fallback", out.Fallback),
		zap.Duration("elapsed", out.FinishedAt.Sub(out.StartedAt)),
	)
	return out, nil
}

// InFlight returns the turns still waiting on the endpoint, oldest first.
func (c *Coordinator) InFlight() []chat.Turn {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]chat.Turn, 0, len(c.inflight))
	for _, t := range c.inflight {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

func (c *Coordinator) track(t *chat.Turn) {
	c.mu.Lock()
	c.inflight[t.ID] = t
	c.mu.Unlock()
}

func (c *Coordinator) untrack(id string) {
	c.mu.Lock()
	delete(c.inflight, id)
	c.mu.Unlock()
}

func (c *Coordinator) setState(t *chat.Turn, state chat.TurnState) {
	c.mu.Lock()
	t.State = state
	c.mu.Unlock()
}

func (c *Coordinator) finish(t *chat.Turn, reply string, fallback bool) chat.Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	t.Reply = reply
	t.Fallback = fallback
	t.FinishedAt = c.now()
	t.State = chat.TurnRendered
	return *t
}

// abort ends a turn that never rendered; the widget is back to idle.
func (c *Coordinator) abort(t *chat.Turn) chat.Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	t.FinishedAt = c.now()
	t.State = chat.TurnIdle
	return *t
}

func (c *Coordinator) record(ctx context.Context, t chat.Turn) {
	outcome := "reply"
	switch {
	case t.State == chat.TurnIdle:
		outcome = "aborted"
	case t.Fallback:
		outcome = "fallback"
	}
	attrs := metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("language", t.Language),
	)
	if c.turns != nil {
		c.turns.Add(ctx, 1, attrs)
	}
	if c.duration != nil {
		c.duration.Record(ctx, float64(t.FinishedAt.Sub(t.StartedAt).Milliseconds()), attrs)
	}
}

package language

import (
	"errors"
	"sync"

	model "github.com/zhouzirui/smartguard/internal/model/language"
)

// ErrUnsupported is returned when a language outside model.Supported is selected.
var ErrUnsupported = errors.New("unsupported language")

// Listener is notified after the active language changes.
type Listener func(prev, next model.Code)

// Context holds the active language of one widget session. Recognition,
// synthesis and greetings all read it; only explicit selection writes it.
type Context struct {
	mu        sync.RWMutex
	current   model.Code
	listeners []Listener
}

// NewContext returns a Context starting at initial, or model.Default when
// initial is not supported.
func NewContext(initial model.Code) *Context {
	if !model.IsSupported(initial) {
		initial = model.Default
	}
	return &Context{current: initial}
}

// Current returns the active language.
func (c *Context) Current() model.Code {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Set selects code. Listeners run only when the language actually changes,
// outside the lock, in subscription order.
func (c *Context) Set(code model.Code) (bool, error) {
	if !model.IsSupported(code) {
		return false, ErrUnsupported
	}

	c.mu.Lock()
	prev := c.current
	if prev == code {
		c.mu.Unlock()
		return false, nil
	}
	c.current = code
	listeners := append([]Listener(nil), c.listeners...)
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(prev, code)
	}
	return true, nil
}

// Subscribe registers fn for future changes.
func (c *Context) Subscribe(fn Listener) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

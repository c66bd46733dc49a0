package widget

import (
	"sync"

	"github.com/zhouzirui/smartguard/internal/model/chat"
	speechmodel "github.com/zhouzirui/smartguard/internal/model/speech"
	"github.com/zhouzirui/smartguard/internal/service/transcript"
)

// Mic labels shown on the voice input control.
const (
	MicIdleLabel      = "🎤"
	MicListeningLabel = "🎙️ Listening..."
)

// MicState is the voice input affordance as the view renders it.
type MicState struct {
	Enabled   bool   `json:"enabled"`
	Listening bool   `json:"listening"`
	Label     string `json:"label"`
	Tooltip   string `json:"tooltip,omitempty"`
}

// View receives every visible change of a session. Implementations must not
// call back into the session from these methods.
type View interface {
	transcript.Observer
	SetInput(text string)
	SetMic(state MicState)
	Alert(message string)
	PlayAudio(resp *speechmodel.TTSResponse)
}

// relay forwards to a view that can be attached or detached at any time.
type relay struct {
	mu   sync.RWMutex
	view View
}

func (r *relay) set(v View) {
	r.mu.Lock()
	r.view = v
	r.mu.Unlock()
}

func (r *relay) with(fn func(View)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.view != nil {
		fn(r.view)
	}
}

func (r *relay) Appended(msg chat.Message) { r.with(func(v View) { v.Appended(msg) }) }

func (r *relay) Replaced(id string, msg chat.Message) {
	r.with(func(v View) { v.Replaced(id, msg) })
}

func (r *relay) Removed(id string) { r.with(func(v View) { v.Removed(id) }) }
func (r *relay) ScrolledToLatest() { r.with(func(v View) { v.ScrolledToLatest() }) }
func (r *relay) SetInput(text string) { r.with(func(v View) { v.SetInput(text) }) }
func (r *relay) SetMic(state MicState) { r.with(func(v View) { v.SetMic(state) }) }
func (r *relay) Alert(message string) { r.with(func(v View) { v.Alert(message) }) }

func (r *relay) PlayAudio(resp *speechmodel.TTSResponse) {
	r.with(func(v View) { v.PlayAudio(resp) })
}

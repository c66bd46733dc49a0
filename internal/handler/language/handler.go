package language

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	model "github.com/zhouzirui/smartguard/internal/model/language"
	"github.com/zhouzirui/smartguard/internal/service/speech"
	"github.com/zhouzirui/smartguard/pkg/utils"
)

// Handler 语言列表与语音能力的HTTP处理器
type Handler struct {
	input  *speech.InputAdapter
	output *speech.OutputAdapter
}

// New 创建语言处理器
func New(input *speech.InputAdapter, output *speech.OutputAdapter) *Handler {
	return &Handler{input: input, output: output}
}

// RegisterRoutes 注册语言相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/languages", h.handleListLanguages)
	r.Get("/capabilities", h.handleCapabilities)
}

type languageView struct {
	Code     model.Code `json:"code"`
	Name     string     `json:"name"`
	Locale   string     `json:"locale"`
	Greeting string     `json:"greeting"`
	Default  bool       `json:"default,omitempty"`
}

// handleListLanguages 按下拉框顺序列出可选语言
func (h *Handler) handleListLanguages(w http.ResponseWriter, r *http.Request) {
	out := make([]languageView, 0, len(model.Supported))
	for _, code := range model.Supported {
		out = append(out, languageView{
			Code:     code,
			Name:     code.Name(),
			Locale:   code.Locale(),
			Greeting: model.Greeting(code),
			Default:  code == model.Default,
		})
	}
	utils.RespondJSON(w, http.StatusOK, out)
}

type capabilities struct {
	Recognition bool   `json:"recognition"`
	Synthesis   bool   `json:"synthesis"`
	Tooltip     string `json:"tooltip,omitempty"`
}

func (h *Handler) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, capabilities{
		Recognition: h.input.Available(),
		Synthesis:   h.output.Available(),
		Tooltip:     h.input.Tooltip(),
	})
}

package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/zhouzirui/smartguard/internal/handler/language"
	"github.com/zhouzirui/smartguard/internal/handler/session"
	speechHandler "github.com/zhouzirui/smartguard/internal/handler/speech"
	"github.com/zhouzirui/smartguard/internal/handler/widget"
	middlewarePkg "github.com/zhouzirui/smartguard/internal/middleware"
	"github.com/zhouzirui/smartguard/internal/service/speech"
	widgetService "github.com/zhouzirui/smartguard/internal/service/widget"
	"github.com/zhouzirui/smartguard/pkg/utils"
)

// Deps 路由依赖
type Deps struct {
	Registry *widgetService.Registry
	Input    *speech.InputAdapter
	Output   *speech.OutputAdapter
	// Assets 处理其余所有 GET 请求，为 nil 时返回 404
	Assets http.Handler
	Logger *zap.Logger
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"status":   "ok",
			"sessions": deps.Registry.Len(),
		})
	})

	widget.New(deps.Registry, logger).RegisterRoutes(r)

	r.Route("/api", func(api chi.Router) {
		session.New(deps.Registry, logger).RegisterRoutes(api)
		language.New(deps.Input, deps.Output).RegisterRoutes(api)
		speechHandler.New(deps.Input, deps.Output, logger).RegisterRoutes(api)
	})

	if deps.Assets != nil {
		r.Handle("/*", deps.Assets)
	}

	return r
}

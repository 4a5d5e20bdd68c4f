package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/xela07ax/quorumgate/internal/console/handler"
	"github.com/xela07ax/quorumgate/internal/infra"
	"github.com/xela07ax/quorumgate/internal/infra/auth"
)

type ConsoleServer struct {
	router *chi.Mux
	logger *zap.Logger
	cfg    *infra.Config

	// Интерфейс для проверки токенов (RS256)
	authValidator auth.TokenValidator

	// Обработчики бизнес-доменов
	authHandler    *handler.AuthHandler      // /auth/token
	requestHandler *handler.RequestHandler   // /v1/requests (жизненный цикл заявок)
	dashHandler    *handler.DashboardHandler // /api/v1/dashboard
	auditHandler   *handler.AuditHandler     // /v1/audit (Logs)
}

// NewConsoleServer инициализирует сервер консоли со всеми зависимостями
func NewConsoleServer(
	cfg *infra.Config,
	logger *zap.Logger,
	validator auth.TokenValidator,
	authH *handler.AuthHandler,
	requestH *handler.RequestHandler,
	dashH *handler.DashboardHandler,
	auditH *handler.AuditHandler,
) *ConsoleServer {
	s := &ConsoleServer{
		router:         chi.NewRouter(),
		logger:         logger.Named("console-api"),
		cfg:            cfg,
		authValidator:  validator,
		authHandler:    authH,
		requestHandler: requestH,
		dashHandler:    dashH,
		auditHandler:   auditH,
	}

	s.routes()
	return s
}

func (s *ConsoleServer) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware (для всех) ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// --- 2. ПУБЛИЧНЫЕ РОУТЫ (Открыты для всех) ---
	r.Group(func(r chi.Router) {
		// Логин должен быть доступен без токена
		r.Post("/auth/token", s.authHandler.Login)

		// Healthcheck для мониторинга
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	})

	// --- 3. ЗАЩИЩЕННЫЙ ПЕРИМЕТР (Требуют RS256 токен) ---
	r.Group(func(r chi.Router) {
		// Подключаем универсальный Middleware только для этой группы
		r.Use(auth.NewMiddleware(s.authValidator, s.logger))

		// Dashboard & Stats
		r.Get("/api/v1/dashboard/stats", s.dashHandler.GetStats)

		// Жизненный цикл заявок (создание, подписи, исполнение, вето)
		r.Route("/v1/requests", func(r chi.Router) {
			r.Get("/", s.requestHandler.ListActive) // Активные заявки (лимит слотов)
			r.Post("/", s.requestHandler.Create)    // Новая заявка
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.requestHandler.Get) // Полное состояние заявки
				r.Get("/signatures", s.requestHandler.GetSignatures)
				r.Post("/signatures", s.requestHandler.Submit) // Подпись со-подписанта
				r.Post("/execute", s.requestHandler.Execute)   // Исполнение после кворума и задержки
				r.Post("/reject", s.requestHandler.Reject)     // Вето оператора
			})
		})

		// Аудит и Логи (Observability)
		r.Get("/v1/audit", s.auditHandler.GetLogs)
	})
}

// ServeHTTP позволяет использовать ConsoleServer как стандартный http.Handler
func (s *ConsoleServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

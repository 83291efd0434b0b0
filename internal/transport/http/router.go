package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-otp-auth/internal/application/auth"
	"github.com/go-otp-auth/internal/application/token"
	"github.com/go-otp-auth/internal/config"
	"github.com/go-otp-auth/internal/pkg/otp"
	"github.com/go-otp-auth/internal/transport/http/handler"
	appmiddleware "github.com/go-otp-auth/internal/transport/http/middleware"
)

// NewRouter builds and returns the application router.
func NewRouter(cfg *config.Config, deps *Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(appmiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	tokens := token.NewManager(deps.Tokens, otp.New(), token.Config{
		TTL:      cfg.OTP.TTL,
		Throttle: cfg.OTP.Throttle,
	})
	authSvc := auth.NewService(auth.ServiceDeps{
		UserRepo:      deps.Users,
		Tokens:        tokens,
		Hasher:        deps.Hasher,
		Sessions:      deps.Sessions,
		Notifier:      deps.Notifier,
		DefaultAvatar: cfg.DefaultAvatar,
	})

	healthH := handler.NewHealthHandler()
	authH := handler.NewAuthHandler(authSvc)

	r.Route("/v1", func(r chi.Router) {
		// ── Public routes (no auth) ──────────────────────────────────────────
		r.Get("/health-check/{action}", healthH.Ping)
		r.Post("/health-check/{action}", healthH.Ping)

		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", authH.Register)
			r.Post("/verify", authH.Verify)
			r.Post("/otp", authH.RegenerateOTP)
			r.Post("/forgot-password", authH.ForgotPassword)
			r.Post("/reset-password", authH.ResetPassword)
			r.Post("/login", authH.Login)

			// ── Authenticated routes ─────────────────────────────────────────
			r.Group(func(r chi.Router) {
				r.Use(appmiddleware.Auth(deps.Sessions))

				r.Get("/profile", authH.Profile)
				r.Post("/change-password", authH.ChangePassword)
			})
		})
	})

	return r
}

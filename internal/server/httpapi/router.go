package httpapi

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/legator/legator/internal/logging"
)

// SetupRouter wires the handlers into a chi router. Routes under /api/vaults,
// /api/recoveries (except attest) and /api/content require a Bearer token;
// invitation and attestation routes are public, since their callers may have
// no account or lost access to it.
func SetupRouter(h *Handler, jwtSecret []byte, logger logging.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", h.Register)
			r.Post("/login", h.Login)
			r.Post("/refresh", h.Refresh)
		})

		// Public: key holders act before or without authentication.
		r.Post("/recoveries/{id}/attest", h.AttestRecovery)
		r.Get("/invitations/{token}", h.ViewInvitation)
		r.Post("/invitations/{token}/accept", h.AcceptInvitation)

		r.Group(func(r chi.Router) {
			r.Use(Authenticator(jwtSecret))

			r.Route("/vaults", func(r chi.Router) {
				r.Post("/", h.CreateVault)
				r.Get("/{id}", h.GetVault)
				r.Post("/{id}/checkin", h.CheckIn)
				r.Post("/{id}/attest", h.AttestDeath)
				r.Post("/{id}/claim", h.Claim)
				r.Put("/{id}/content", h.UpdateContent)
				r.Post("/{id}/cancel", h.CancelVault)
				r.Post("/{id}/refresh", h.RefreshVault)
				r.Get("/{id}/countdown", h.Countdown)
			})

			r.Route("/recoveries", func(r chi.Router) {
				r.Post("/", h.InitiateRecovery)
				r.Get("/{id}", h.GetRecovery)
				r.Post("/{id}/complete", h.CompleteRecovery)
				r.Post("/{id}/cancel", h.CancelRecovery)
			})

			r.Route("/content", func(r chi.Router) {
				r.Post("/upload-url", h.UploadURL)
				r.Get("/download-url", h.DownloadURL)
			})
		})
	})

	return r
}

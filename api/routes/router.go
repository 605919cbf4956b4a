package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/patungan-backend/api/controllers"
	sessioncontrollers "github.com/angelmondragon/patungan-backend/api/controllers/sessions"
	"github.com/angelmondragon/patungan-backend/api/middleware"
	internalsessions "github.com/angelmondragon/patungan-backend/internal/sessions"
	"github.com/angelmondragon/patungan-backend/pkg/config"
	"github.com/angelmondragon/patungan-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/patungan-backend/pkg/redis"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbPinger controllers.Pinger,
	redisClient *pkgredis.Client,
	sessionsService internalsessions.Service,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, map[string]controllers.Pinger{
			"database": dbPinger,
			"redis":    redisPinger(redisClient),
		}))
	})

	r.Route("/api/v1/sessions", func(r chi.Router) {
		r.Use(middleware.Idempotency(redisClient, logg))

		r.Get("/", sessioncontrollers.List(sessionsService, logg))
		r.Post("/", sessioncontrollers.Create(sessionsService, logg))
		r.Post("/process-expired", sessioncontrollers.ProcessExpired(sessionsService, logg))

		r.Route("/{sessionId}", func(r chi.Router) {
			r.Get("/stats", sessioncontrollers.Stats(sessionsService, logg))
			r.Get("/availability", sessioncontrollers.Availability(sessionsService, logg))
			r.Post("/join", sessioncontrollers.Join(sessionsService, logg))
			r.Delete("/leave", sessioncontrollers.Leave(sessionsService, logg))
			r.Post("/cancel", sessioncontrollers.Cancel(sessionsService, logg))
			r.Route("/production", func(r chi.Router) {
				r.Post("/start", sessioncontrollers.StartProduction(sessionsService, logg))
				r.Post("/complete", sessioncontrollers.CompleteProduction(sessionsService, logg))
			})
		})
	})

	return r
}

// redisPinger keeps a nil *Client from turning into a non-nil Pinger interface.
func redisPinger(client *pkgredis.Client) controllers.Pinger {
	if client == nil {
		return nil
	}
	return client
}

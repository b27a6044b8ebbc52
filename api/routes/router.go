package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/paysync/api/controllers"
	webhookcontrollers "github.com/angelmondragon/paysync/api/controllers/webhooks"
	"github.com/angelmondragon/paysync/api/middleware"
	"github.com/angelmondragon/paysync/pkg/config"
	"github.com/angelmondragon/paysync/pkg/logger"
)

// RouterParams carries everything the HTTP surface depends on. Scheduler may be nil
// when polling runs in a separate worker; the admin polling routes then answer 503.
type RouterParams struct {
	Config       *config.Config
	Logger       *logger.Logger
	DB           controllers.Pinger
	Redis        controllers.Pinger
	Transactions controllers.TransactionService
	Scheduler    controllers.PollingScheduler
	Webhooks     webhookcontrollers.StripeProcessor
	Gatherer     prometheus.Gatherer
}

func NewRouter(params RouterParams) http.Handler {
	cfg := params.Config
	logg := params.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, map[string]controllers.Pinger{
			"db":    params.DB,
			"redis": params.Redis,
		}))
	})

	if params.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(params.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.StripeWebhook(params.Webhooks, logg))
	})

	r.Route("/api/v1/transactions", func(r chi.Router) {
		r.Post("/", controllers.CreateTransaction(params.Transactions, logg))
		r.Get("/{transactionId}", controllers.GetTransaction(params.Transactions, logg))
		r.Post("/{transactionId}/confirm", controllers.ConfirmTransaction(params.Transactions, logg))
	})

	r.Route("/api/admin/v1/polling", func(r chi.Router) {
		r.Get("/status", controllers.PollingStatus(params.Scheduler, logg))
		r.Post("/{transactionId}/poll", controllers.ForcePoll(params.Scheduler, logg))
	})

	return r
}

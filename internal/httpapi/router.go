// Package httpapi is the operations HTTP surface: health, metrics and
// read-only views of the plan catalog and the ledger.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/anatolio-deb/joinbot/internal/ledger"
	"github.com/anatolio-deb/joinbot/internal/plan"
)

// Lister enumerates the ledger.
type Lister interface {
	List(ctx context.Context) ([]ledger.Subscription, error)
}

type Options struct {
	Catalog  *plan.Catalog
	Ledger   Lister
	Gatherer prometheus.Gatherer
	// APIKey guards /v1/subscriptions. Empty leaves it open.
	APIKey string
	// Health reports backend reachability. Nil means always healthy.
	Health func(ctx context.Context) error
	Log    logrus.FieldLogger
	Now    func() time.Time
}

type handler struct {
	opts Options
}

func NewRouter(opts Options) *chi.Mux {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	h := &handler{opts: opts}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: opts.Log, NoColor: true}))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", h.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Get("/plans", h.handlePlans)
		r.Group(func(r chi.Router) {
			r.Use(APIKeyMiddleware(opts.APIKey))
			r.Get("/subscriptions", h.handleSubscriptions)
		})
	})
	return r
}

// APIKeyMiddleware requires the X-API-Key header to equal key. An empty key
// disables the check.
func APIKeyMiddleware(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			provided := r.Header.Get("X-API-Key")
			if subtle.ConstantTimeCompare([]byte(provided), []byte(key)) != 1 {
				respondWithError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.opts.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := h.opts.Health(ctx); err != nil {
			h.opts.Log.WithError(err).Warn("health check failed")
			respondWithError(w, http.StatusServiceUnavailable, "store unavailable")
			return
		}
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type planResponse struct {
	ID           string          `json:"id"`
	Title        string          `json:"title"`
	DurationDays int             `json:"duration_days"`
	Price        decimal.Decimal `json:"price"`
}

func (h *handler) handlePlans(w http.ResponseWriter, _ *http.Request) {
	plans := h.opts.Catalog.All()
	out := make([]planResponse, 0, len(plans))
	for _, p := range plans {
		out = append(out, planResponse{
			ID:           p.ID,
			Title:        p.Label(),
			DurationDays: p.DurationDays,
			Price:        p.Price,
		})
	}
	respondWithJSON(w, http.StatusOK, out)
}

type subscriptionResponse struct {
	PrincipalID int64     `json:"principal_id"`
	ChatID      int64     `json:"chat_id"`
	PlanID      string    `json:"plan_id,omitempty"`
	ExpiresAt   time.Time `json:"expires_at"`
	Reminded    bool      `json:"reminded"`
	Expired     bool      `json:"expired"`
}

func (h *handler) handleSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs, err := h.opts.Ledger.List(r.Context())
	if err != nil {
		h.opts.Log.WithError(err).Error("list subscriptions")
		respondWithError(w, http.StatusInternalServerError, "could not list subscriptions")
		return
	}
	now := h.opts.Now()
	out := make([]subscriptionResponse, 0, len(subs))
	for _, s := range subs {
		out = append(out, subscriptionResponse{
			PrincipalID: s.PrincipalID,
			ChatID:      s.ChatID,
			PlanID:      s.PlanID,
			ExpiresAt:   s.ExpiresAt,
			Reminded:    s.Reminded(),
			Expired:     s.Expired(now),
		})
	}
	respondWithJSON(w, http.StatusOK, out)
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

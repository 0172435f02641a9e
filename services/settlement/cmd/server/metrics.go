package main

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wagerlane_http_requests_total",
		Help: "HTTP requests by method, route pattern, and status.",
	}, []string{"method", "route", "status"})

	challengesRegisteredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wagerlane_challenges_registered_total",
		Help: "Challenges accepted for settlement tracking.",
	})

	proofsSubmittedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wagerlane_proofs_submitted_total",
		Help: "Proof submissions recorded.",
	})

	votesCastTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wagerlane_votes_cast_total",
		Help: "Votes accepted.",
	})

	disputesOpenedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wagerlane_disputes_opened_total",
		Help: "Disputes opened by reason.",
	}, []string{"reason"})

	resolutionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wagerlane_resolutions_total",
		Help: "Arbiter resolutions recorded.",
	})

	sweepExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wagerlane_sweep_expired_total",
		Help: "Challenges expired by the deadline sweeper.",
	})
)

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(ww.Status())).Inc()
	})
}

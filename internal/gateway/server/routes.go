package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pcbmill/internal/gateway/handler"
	"pcbmill/internal/gateway/middleware"
)

func NewMux(h *handler.Handler) http.Handler {
	mux := http.NewServeMux()

	h.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	// Middleware
	return middleware.CORS(mux)
}

// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package httpapi serves /metrics (Prometheus) and a read-only
// /status JSON endpoint describing the current INS fleet, using
// gorilla/mux the way internal/api does for its own routes.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/insplane/insfleetd/internal/ins"
)

// Server-level timeouts, a defense against slowloris-style clients
// even though this endpoint is intended for loopback/operator use only.
const (
	readHeaderTimeout = 5 * time.Second
	readTimeout       = 10 * time.Second
	writeTimeout      = 10 * time.Second
	idleTimeout       = 60 * time.Second
)

// Handler builds the mux.Router serving /metrics and /status.
func Handler(registry *ins.Registry, reg *prometheus.Registry) http.Handler {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/status", statusHandler(registry)).Methods(http.MethodGet)
	return r
}

// NewServer wraps Handler in an *http.Server with hardened timeouts.
func NewServer(addr string, registry *ins.Registry, reg *prometheus.Registry) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           Handler(registry, reg),
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}
}

// instanceStatus is one INS's read-only status view.
type instanceStatus struct {
	DomainID         int     `json:"domain_id"`
	Address          string  `json:"address,omitempty"`
	Active           bool    `json:"active"`
	Overloaded       bool    `json:"overloaded"`
	Load             float64 `json:"load"`
	MissedHeartbeats int     `json:"missed_heartbeats"`
	Forwarders       int     `json:"forwarders"`
}

type statusResponse struct {
	Instances []instanceStatus `json:"instances"`
}

func statusHandler(registry *ins.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		all := registry.Snapshot()
		resp := statusResponse{Instances: make([]instanceStatus, 0, len(all))}
		for _, i := range all {
			addr := ""
			if a := i.Address(); a != nil {
				addr = a.String()
			}
			resp.Instances = append(resp.Instances, instanceStatus{
				DomainID:         i.DomainID,
				Address:          addr,
				Active:           i.Active(),
				Overloaded:       i.Overloaded(),
				Load:             i.Stats().Load(),
				MissedHeartbeats: i.MissedHeartbeats(),
				Forwarders:       len(i.Forwarders()),
			})
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

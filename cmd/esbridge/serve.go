package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	esbridge "github.com/ErDmKo/esbridge"
	"github.com/ErDmKo/esbridge/codec"
	"github.com/ErDmKo/esbridge/internal/telemetry"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start an HTTP server for transform and build requests",
	Long: `Start an HTTP server exposing the active backend.

Endpoints:
  POST /transform   {"code": "...", "options": {...}} -> {"code": "..."}
  POST /build       {"entryPoints": [...], "outfile": "..."} -> {"errors": [], "warnings": []}
  GET  /health      Health and active backend
  GET  /metrics     Prometheus metrics`,
	Run: runServe,
}

func init() {
	serveCmd.Flags().StringP("listen", "l", "", "Listen address (default from config, :8080)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		fatal(err)
	}
	if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
		cfg.Listen = listen
	}

	client, err := newClient(cmd)
	if err != nil {
		fatal(err)
	}
	defer client.Close()

	mux := newMux(client, telemetry.New())

	fmt.Fprintf(os.Stderr, "esbridge serving on %s (backend: %s)\n", cfg.Listen, client.ActiveBackend())
	server := &http.Server{
		Addr:              cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		fatal(err)
	}
}

type transformPayload struct {
	Code    string         `json:"code"`
	Options map[string]any `json:"options"`
}

type buildPayload struct {
	EntryPoints []string `json:"entryPoints"`
	Outfile     string   `json:"outfile"`
}

type errorPayload struct {
	Error string `json:"error"`
}

// newMux wires the HTTP surface. Split from runServe so tests can drive
// handlers without binding a socket.
func newMux(client *esbridge.Client, metrics *telemetry.Metrics) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "ok",
			"backend": client.ActiveBackend().String(),
		})
	})

	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("POST /transform", func(w http.ResponseWriter, r *http.Request) {
		var req transformPayload
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorPayload{Error: "invalid request body"})
			return
		}

		start := time.Now()
		code, err := client.Transform(r.Context(), req.Code, req.Options)
		metrics.Observe("transform", client.ActiveBackend().String(), start, err)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"code": code})
	})

	mux.HandleFunc("POST /build", func(w http.ResponseWriter, r *http.Request) {
		var req buildPayload
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorPayload{Error: "invalid request body"})
			return
		}

		start := time.Now()
		result, err := client.Build(r.Context(), codec.BuildRequest{
			EntryPoints: req.EntryPoints,
			Outfile:     req.Outfile,
		})
		metrics.Observe("build", client.ActiveBackend().String(), start, err)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	})

	return mux
}

// writeError maps backend failures onto HTTP statuses: no backend is
// 503, compiler diagnostics are 422, everything else is 500.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var terr *codec.TransformError
	switch {
	case errors.Is(err, esbridge.ErrBackendUnavailable):
		status = http.StatusServiceUnavailable
	case errors.As(err, &terr):
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, errorPayload{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

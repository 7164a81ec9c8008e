package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/invoice-cli/internal/model"
	"github.com/sells-group/invoice-cli/internal/pipeline"
	"github.com/sells-group/invoice-cli/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the batch status and triage API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           buildRouter(ctx, env, cfg.Server.AllowedOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// buildRouter wires the API routes. Retries started over HTTP run on ctx,
// so they are interrupted when the server shuts down.
func buildRouter(ctx context.Context, env *pipelineEnv, origins []string) http.Handler {
	h := &apiHandler{ctx: ctx, env: env}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", h.health)
	r.Route("/batches", func(r chi.Router) {
		r.Get("/", h.listBatches)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.getBatch)
			r.Get("/documents", h.listDocuments)
			r.Get("/alerts", h.listBatchAlerts)
			r.Get("/validation", h.listValidation)
			r.Post("/retry", h.retryBatch)
			r.Post("/cancel", h.cancelBatch)
		})
	})
	r.Post("/alerts/{id}/read", h.markAlertRead)
	r.Post("/alerts/{id}/dismiss", h.dismissAlert)

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

type apiHandler struct {
	ctx context.Context
	env *pipelineEnv
}

func writeJSON200(w http.ResponseWriter, v any) {
	writeStatusJSON(w, http.StatusOK, v)
}

func writeStatusJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case store.IsNotFound(err):
		status = http.StatusNotFound
	case eris.Is(err, pipeline.ErrBatchNotActive), eris.Is(err, pipeline.ErrBatchRunning), eris.Is(err, store.ErrConflict):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		zap.L().Error("http handler failed", zap.Error(err))
	}
	writeStatusJSON(w, status, map[string]string{"error": err.Error()})
}

func (h *apiHandler) health(w http.ResponseWriter, r *http.Request) {
	if err := h.env.Store.Ping(r.Context()); err != nil {
		writeStatusJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON200(w, map[string]string{"status": "ok"})
}

func (h *apiHandler) listBatches(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.BatchFilter{
		Status:   model.BatchStatus(q.Get("status")),
		VendorID: q.Get("vendor"),
	}
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	filter.Offset, _ = strconv.Atoi(q.Get("offset"))

	batches, err := h.env.Store.ListBatches(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	if batches == nil {
		batches = []model.Batch{}
	}
	writeJSON200(w, batches)
}

func (h *apiHandler) getBatch(w http.ResponseWriter, r *http.Request) {
	report, err := h.env.Orch.Report(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON200(w, report)
}

func (h *apiHandler) listDocuments(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.env.Store.GetBatch(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	var statuses []model.DocumentStatus
	if s := r.URL.Query().Get("status"); s != "" {
		statuses = append(statuses, model.DocumentStatus(s))
	}
	docs, err := h.env.Store.ListDocuments(r.Context(), id, statuses...)
	if err != nil {
		writeError(w, err)
		return
	}
	if docs == nil {
		docs = []model.Document{}
	}
	writeJSON200(w, docs)
}

func (h *apiHandler) listBatchAlerts(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.env.Store.GetBatch(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	q := r.URL.Query()
	filter := store.AlertFilter{
		BatchID:          id,
		UnreadOnly:       q.Get("unread") == "true",
		IncludeDismissed: q.Get("all") == "true",
	}
	if s := q.Get("min_severity"); s != "" {
		sev := model.Severity(s)
		if !sev.Valid() {
			writeStatusJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown severity " + strconv.Quote(s)})
			return
		}
		filter.Severities = model.SeveritiesAtLeast(sev)
	}
	alerts, err := h.env.Store.ListAlerts(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	if alerts == nil {
		alerts = []model.Alert{}
	}
	writeJSON200(w, alerts)
}

func (h *apiHandler) listValidation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	report, err := h.env.Orch.Report(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	results, err := h.env.Store.ListValidationResults(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if results == nil {
		results = []model.ValidationResult{}
	}
	writeJSON200(w, map[string]any{
		"summary": report.Validation,
		"results": results,
	})
}

func (h *apiHandler) retryBatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		DocumentIDs []string `json:"document_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeStatusJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if _, err := h.env.Store.GetBatch(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	if h.env.Orch.Running(id) {
		writeStatusJSON(w, http.StatusConflict, map[string]string{"error": "batch is already processing"})
		return
	}

	go func() {
		report, err := h.env.Orch.Retry(h.ctx, id, req.DocumentIDs...)
		if err != nil {
			zap.L().Error("http retry failed", zap.String("batch_id", id), zap.Error(err))
			return
		}
		zap.L().Info("http retry complete",
			zap.String("batch_id", id),
			zap.String("status", string(report.Batch.Status)),
			zap.Int("failed", report.Batch.FailedFiles),
		)
	}()

	writeStatusJSON(w, http.StatusAccepted, map[string]string{
		"status":   "accepted",
		"batch_id": id,
	})
}

func (h *apiHandler) cancelBatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.env.Orch.Cancel(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeStatusJSON(w, http.StatusAccepted, map[string]string{
		"status":   "cancelling",
		"batch_id": id,
	})
}

func (h *apiHandler) markAlertRead(w http.ResponseWriter, r *http.Request) {
	if err := h.env.Store.MarkAlertRead(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *apiHandler) dismissAlert(w http.ResponseWriter, r *http.Request) {
	if err := h.env.Store.DismissAlert(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

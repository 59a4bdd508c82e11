package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/compliacert/extract-cli/internal/audit"
	"github.com/compliacert/extract-cli/internal/model"
	"github.com/compliacert/extract-cli/internal/settings"
)

const maxUploadBytes = 50 << 20

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the extraction HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initExtraction(ctx, nil)
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newRouter(env),
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// newRouter builds the HTTP API over an initialized extraction environment.
func newRouter(env *extractEnv) http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/extract", func(w http.ResponseWriter, req *http.Request) {
		doc, err := documentFromRequest(req)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		result, err := env.Orchestrator.Run(req.Context(), doc)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	})

	r.Get("/circuits", func(w http.ResponseWriter, _ *http.Request) {
		states := env.Breakers.States()
		out := make(map[string]string, len(states))
		for name, state := range states {
			out[name] = state.String()
		}
		writeJSON(w, http.StatusOK, out)
	})

	r.Post("/circuits/{name}/reset", func(w http.ResponseWriter, req *http.Request) {
		name := chi.URLParam(req, "name")
		if !env.Breakers.Reset(name) {
			writeError(w, http.StatusNotFound, eris.Errorf("no circuit named %q", name))
			return
		}
		zap.L().Info("circuit reset", zap.String("circuit", name))
		writeJSON(w, http.StatusOK, map[string]string{"circuit": name, "state": "closed"})
	})

	r.Get("/stats", func(w http.ResponseWriter, req *http.Request) {
		hours := 24
		if h := req.URL.Query().Get("hours"); h != "" {
			parsed, err := strconv.Atoi(h)
			if err != nil || parsed <= 0 {
				writeError(w, http.StatusBadRequest, eris.Errorf("invalid hours %q", h))
				return
			}
			hours = parsed
		}

		snap, err := audit.NewCollector(env.Store).Collect(req.Context(), hours)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	})

	r.Get("/settings", func(w http.ResponseWriter, req *http.Request) {
		values, err := env.Store.GetSettings(req.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, values)
	})

	r.Put("/settings/{key}", func(w http.ResponseWriter, req *http.Request) {
		key := chi.URLParam(req, "key")
		if !settings.KnownKey(key) {
			writeError(w, http.StatusBadRequest, eris.Errorf("unknown setting %q", key))
			return
		}

		var body struct {
			Value string `json:"value"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, eris.Wrap(err, "decode body"))
			return
		}

		if err := env.Store.SetSetting(req.Context(), key, body.Value); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		env.Settings.Invalidate()
		zap.L().Info("setting updated", zap.String("key", key))
		writeJSON(w, http.StatusOK, map[string]string{"key": key, "value": body.Value})
	})

	return r
}

// documentFromRequest reads a multipart upload ("file" part, optional "type"
// form value) into a Document.
func documentFromRequest(req *http.Request) (model.Document, error) {
	if err := req.ParseMultipartForm(maxUploadBytes); err != nil {
		return model.Document{}, eris.Wrap(err, "parse multipart form")
	}

	file, header, err := req.FormFile("file")
	if err != nil {
		return model.Document{}, eris.Wrap(err, `missing "file" part`)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
	if err != nil {
		return model.Document{}, eris.Wrap(err, "read upload")
	}
	if len(data) == 0 {
		return model.Document{}, eris.New("uploaded file is empty")
	}
	if len(data) > maxUploadBytes {
		return model.Document{}, eris.Errorf("upload exceeds %d bytes", maxUploadBytes)
	}

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = mimeForFile(header.Filename)
	}

	doc := model.Document{
		ID:         uuid.NewString(),
		Filename:   header.Filename,
		MimeType:   mimeType,
		Data:       data,
		UploadedAt: time.Now().UTC(),
	}
	if declared := req.FormValue("type"); declared != "" {
		doc.DeclaredType = model.ParseCertificateType(declared)
	}
	return doc, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

package main

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"facturasort/internal/batch"
	"facturasort/internal/config"
	"facturasort/internal/contractmap"
	"facturasort/internal/match"
	"facturasort/internal/storage"
)

var (
	cfg config.Config

	logger *slog.Logger

	mapStore  *contractmap.Store
	excelDir  *storage.Dir
	pdfDir    *storage.Dir
	processor *batch.Processor

	requestSem *semaphore.Weighted

	// Per-IP rate limiters
	limiters = &sync.Map{}

	metrics = &serverMetrics{}
)

type serverMetrics struct {
	mu            sync.RWMutex
	totalRequests int64
	activeReqs    int64
}

func (m *serverMetrics) incActive() {
	m.mu.Lock()
	m.activeReqs++
	m.totalRequests++
	m.mu.Unlock()
}
func (m *serverMetrics) decActive() {
	m.mu.Lock()
	m.activeReqs--
	m.mu.Unlock()
}
func (m *serverMetrics) get() (total, active int64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.totalRequests, m.activeReqs
}

func main() {
	cfg = config.Load()
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	var err error
	if excelDir, err = storage.NewDir(cfg.ExcelDir); err != nil {
		logger.Error("excel dir", "error", err)
		os.Exit(1)
	}
	if pdfDir, err = storage.NewDir(cfg.PDFDir); err != nil {
		logger.Error("pdf dir", "error", err)
		os.Exit(1)
	}

	mapStore = contractmap.NewStore()
	requestSem = semaphore.NewWeighted(cfg.MaxConcurrentRequests)

	var sched *batch.Scheduler
	if cfg.BackgroundProcessing {
		sched = batch.NewScheduler()
	}
	processor = batch.New(pdfDir, mapStore, logger, sched)

	mux := http.NewServeMux()

	mux.HandleFunc("/health", handleHealth)

	mux.HandleFunc("/api/upload_excel",
		withRateLimit(withMethod("POST", withConcurrencyLimit(handleUploadExcel))))
	mux.HandleFunc("/api/download_excel",
		withMethod("GET", handleDownloadExcel))
	mux.HandleFunc("/api/process_pdfs",
		withRateLimit(withMethod("POST", withConcurrencyLimit(handleProcessPDFs))))
	mux.HandleFunc("/api/status",
		withMethod("GET", handleStatus))
	mux.HandleFunc("/api/results",
		withMethod("GET", handleResults))
	mux.HandleFunc("/api/files",
		withMethod("GET", handleListFiles))
	mux.HandleFunc("/api/download_all",
		withMethod("GET", handleDownloadAll))
	mux.HandleFunc("/api/download/",
		withMethod("GET", handleDownloadFile))
	mux.HandleFunc("/api/rename",
		withMethod("POST", handleRename))
	mux.HandleFunc("/api/delete_all",
		withMethod("DELETE", handleDeleteAll))
	mux.HandleFunc("/api/delete/",
		withMethod("DELETE", handleDeleteFile))

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           withLogging(withRecovery(withCORS(mux))),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}

	go retentionSweep()

	logger.Info("facturasort listening",
		"addr", srv.Addr,
		"background", cfg.BackgroundProcessing,
		"pdf_dir", cfg.PDFDir,
	)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

// retentionSweep deletes stored files older than the retention age on a
// fixed interval.
func retentionSweep() {
	ticker := time.NewTicker(cfg.CleanupInterval)
	defer ticker.Stop()

	for range ticker.C {
		for _, d := range []*storage.Dir{pdfDir, excelDir} {
			removed, err := d.SweepOlderThan(cfg.RetentionAge)
			if err != nil {
				logger.Warn("retention sweep failed", "dir", d.Root(), "error", err)
				continue
			}
			if removed > 0 {
				logger.Info("retention sweep", "dir", d.Root(), "removed", removed)
			}
		}
		resetRateLimiters()
	}
}

// resetRateLimiters drops accumulated per-IP limiters in place. The global is
// never reassigned, so concurrent lookups always see a consistent map.
func resetRateLimiters() {
	limiters.Range(func(key, _ any) bool {
		limiters.Delete(key)
		return true
	})
}

// ---------- Handlers ----------

func handleHealth(w http.ResponseWriter, r *http.Request) {
	running, _, _ := processor.Status()
	_, active := metrics.get()

	status := "healthy"
	code := http.StatusOK

	ratio := cfg.HealthDegradeRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 0.9
	}
	if active >= int64(float64(cfg.MaxConcurrentRequests)*ratio) {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]any{
		"status":       status,
		"active":       active,
		"processing":   running,
		"contract_map": mapStore.Snapshot().Len(),
	})
}

func handleUploadExcel(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(cfg.MaxSpreadsheetBytes); err != nil {
		writeErr(w, http.StatusBadRequest, "bad_request", "could not parse upload")
		return
	}
	file, header, err := r.FormFile("excel")
	if err != nil {
		writeErr(w, http.StatusBadRequest, "validation_failed", "no spreadsheet file in request")
		return
	}
	defer file.Close()

	// A fresh spreadsheet starts a fresh session: both folders are cleared
	// and the previous map is gone either way.
	if err := pdfDir.DeleteAll(); err != nil {
		logger.Warn("could not clear pdf dir", "error", err)
	}
	if err := excelDir.DeleteAll(); err != nil {
		logger.Warn("could not clear excel dir", "error", err)
	}
	mapStore.Reset()

	name := match.SanitizeName(filepath.Base(header.Filename))
	if name == "" {
		name = "mapping.xlsx"
	}
	if _, err := excelDir.Write(name, io.LimitReader(file, cfg.MaxSpreadsheetBytes)); err != nil {
		writeErr(w, http.StatusInternalServerError, "storage_failed", sanitizeError(err))
		return
	}

	stored, err := excelDir.Open(name)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "storage_failed", sanitizeError(err))
		return
	}
	defer stored.Close()

	m, count, err := contractmap.Build(stored)
	if err != nil {
		var schemaErr *contractmap.SchemaError
		if errors.As(err, &schemaErr) {
			writeErr(w, http.StatusBadRequest, "schema_error", schemaErr.Error())
			return
		}
		writeErr(w, http.StatusBadRequest, "parse_error", sanitizeError(err))
		return
	}
	mapStore.Swap(m)

	logger.Info("contract map rebuilt", "file", name, "mappings", count)
	writeJSON(w, http.StatusOK, map[string]any{
		"message":  "spreadsheet processed",
		"filename": name,
		"mappings": count,
	})
}

func handleDownloadExcel(w http.ResponseWriter, r *http.Request) {
	names, err := excelDir.List()
	if err != nil || len(names) == 0 {
		writeErr(w, http.StatusNotFound, "not_found", "no spreadsheet loaded")
		return
	}
	serveStored(w, r, excelDir, names[0], true)
}

func handleProcessPDFs(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(cfg.MaxMultipartBytes); err != nil {
		writeErr(w, http.StatusBadRequest, "bad_request", "could not parse upload")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	headers := r.MultipartForm.File["pdfs"]
	uploads := make([]batch.Upload, 0, len(headers))
	var opened []io.Closer
	defer func() {
		for _, c := range opened {
			_ = c.Close()
		}
	}()
	for _, h := range headers {
		if strings.TrimSpace(h.Filename) == "" {
			continue
		}
		f, err := h.Open()
		if err != nil {
			writeErr(w, http.StatusBadRequest, "bad_request", sanitizeError(err))
			return
		}
		opened = append(opened, f)
		uploads = append(uploads, batch.Upload{
			Name:   h.Filename,
			Reader: io.LimitReader(f, cfg.MaxUploadBytes),
		})
	}

	job, err := processor.Submit(uploads)
	if err != nil {
		switch {
		case errors.Is(err, batch.ErrNoContractMap):
			writeErr(w, http.StatusBadRequest, "no_contract_map", err.Error())
		case errors.Is(err, batch.ErrNoFiles):
			writeErr(w, http.StatusBadRequest, "no_files", err.Error())
		default:
			writeErr(w, http.StatusInternalServerError, "storage_failed", sanitizeError(err))
		}
		return
	}

	status, summary := job.Snapshot()
	if status == batch.StatusRunning {
		writeJSON(w, http.StatusAccepted, map[string]any{
			"job_id": job.ID.String(),
			"status": status,
		})
		return
	}

	// Inline path: the pass already ran, return records directly.
	writeJSON(w, http.StatusOK, map[string]any{
		"job_id":  job.ID.String(),
		"status":  status,
		"summary": summary,
		"results": processor.Results(),
	})
}

func handleStatus(w http.ResponseWriter, r *http.Request) {
	running, status, summary := processor.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"running": running,
		"status":  status,
		"summary": summary,
	})
}

func handleResults(w http.ResponseWriter, r *http.Request) {
	running, _, _ := processor.Status()
	if running {
		writeJSON(w, http.StatusAccepted, map[string]any{"running": true})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": processor.Results()})
}

func handleListFiles(w http.ResponseWriter, r *http.Request) {
	names, err := pdfDir.List()
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "storage_failed", sanitizeError(err))
		return
	}
	files := make([]map[string]string, 0, len(names))
	for _, n := range names {
		if strings.EqualFold(filepath.Ext(n), ".pdf") {
			files = append(files, map[string]string{"name": n})
		}
	}
	writeJSON(w, http.StatusOK, files)
}

func handleDownloadFile(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/api/download/")
	if name == "" || name == r.URL.Path {
		writeErr(w, http.StatusNotFound, "not_found", "file not found")
		return
	}
	asAttachment := !strings.EqualFold(r.URL.Query().Get("preview"), "true")
	serveStored(w, r, pdfDir, name, asAttachment)
}

func handleDownloadAll(w http.ResponseWriter, r *http.Request) {
	const bundleName = "facturas_renombradas.zip"
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="`+bundleName+`"`)
	if err := pdfDir.ZipTo(w); err != nil {
		logger.Warn("bundle download failed", "error", err)
	}
}

func handleRename(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OldName string `json:"old_name"`
		NewName string `json:"new_name"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	req.OldName = filepath.Base(strings.TrimSpace(req.OldName))
	req.NewName = match.SanitizeName(filepath.Base(strings.TrimSpace(req.NewName)))
	if req.OldName == "" || req.NewName == "" || req.NewName == "." {
		writeErr(w, http.StatusBadRequest, "validation_failed", "old_name and new_name required")
		return
	}
	if !strings.EqualFold(filepath.Ext(req.NewName), ".pdf") {
		req.NewName += ".pdf"
	}
	if !pdfDir.Contains(req.OldName) {
		writeErr(w, http.StatusNotFound, "not_found", "file not found")
		return
	}

	taken, err := pdfDir.Names()
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "storage_failed", sanitizeError(err))
		return
	}
	delete(taken, req.OldName)
	final := storage.AllocateName(req.NewName, taken, time.Now())
	if err := pdfDir.Rename(req.OldName, final); err != nil {
		writeErr(w, http.StatusInternalServerError, "storage_failed", sanitizeError(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "renamed", "new_name": final})
}

func handleDeleteAll(w http.ResponseWriter, r *http.Request) {
	if err := pdfDir.DeleteAll(); err != nil {
		writeErr(w, http.StatusInternalServerError, "storage_failed", sanitizeError(err))
		return
	}
	if err := excelDir.DeleteAll(); err != nil {
		writeErr(w, http.StatusInternalServerError, "storage_failed", sanitizeError(err))
		return
	}
	mapStore.Reset()
	writeJSON(w, http.StatusOK, map[string]any{"message": "all files deleted"})
}

func handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/api/delete/")
	if name == "" || name == r.URL.Path || !pdfDir.Contains(name) {
		writeErr(w, http.StatusNotFound, "not_found", "file not found")
		return
	}
	if err := pdfDir.Delete(name); err != nil {
		writeErr(w, http.StatusInternalServerError, "storage_failed", sanitizeError(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "file deleted"})
}

func serveStored(w http.ResponseWriter, r *http.Request, d *storage.Dir, name string, asAttachment bool) {
	name = filepath.Base(name)
	if !d.Contains(name) {
		writeErr(w, http.StatusNotFound, "not_found", "file not found")
		return
	}
	if asAttachment {
		w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	} else {
		w.Header().Set("Content-Disposition", `inline; filename="`+name+`"`)
	}
	http.ServeFile(w, r, d.Path(name))
}

// ---------- Middleware ----------

func withMethod(method string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			w.Header().Set("Allow", method)
			writeErr(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method must be "+method)
			return
		}
		next(w, r)
	}
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", cfg.AllowedOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func withConcurrencyLimit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := requestSem.Acquire(r.Context(), 1); err != nil {
			writeErr(w, http.StatusServiceUnavailable, "capacity", "Service at capacity")
			return
		}
		defer requestSem.Release(1)

		metrics.incActive()
		defer metrics.decActive()

		next(w, r)
	}
}

func withRateLimit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limiter := getRateLimiter(getClientIP(r))
		if !limiter.Allow() {
			w.Header().Set("Retry-After", "60")
			writeErr(w, http.StatusTooManyRequests, "rate_limit", "Rate limit exceeded")
			return
		}
		next(w, r)
	}
}

func withRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error("panic in handler", "panic", err, "path", r.URL.Path)
				writeErr(w, http.StatusInternalServerError, "internal_error", "Internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &wrapWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(ww, r)
		logger.Info("request",
			"method", r.Method,
			"path", sanitizeLogString(r.URL.Path),
			"status", ww.status,
			"duration", time.Since(start),
		)
	})
}

type wrapWriter struct {
	http.ResponseWriter
	status int
}

func (w *wrapWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// ---------- Helpers ----------

func getRateLimiter(ip string) *rate.Limiter {
	if v, ok := limiters.Load(ip); ok {
		return v.(*rate.Limiter)
	}
	limiter := rate.NewLimiter(rate.Every(cfg.RateLimitEvery), cfg.RateLimitBurst)
	limiters.Store(ip, limiter)
	return limiter
}

func getClientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		if idx := strings.Index(ip, ","); idx > 0 {
			return strings.TrimSpace(ip[:idx])
		}
		return strings.TrimSpace(ip)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return strings.TrimSpace(ip)
	}
	host, _, _ := net.SplitHostPort(r.RemoteAddr)
	return host
}

func sanitizeError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	msg = strings.ReplaceAll(msg, os.TempDir(), "[tmp]")
	if len(msg) > 300 {
		msg = msg[:300] + "..."
	}
	return msg
}

func sanitizeLogString(s string) string {
	s = strings.ReplaceAll(s, "\n", "")
	s = strings.ReplaceAll(s, "\r", "")
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"success": false,
		"error":   message,
		"code":    code,
	})
}

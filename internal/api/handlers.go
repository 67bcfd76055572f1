package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitepdf/internal/artifact"
	"github.com/JakeFAU/sitepdf/internal/pipeline"
)

const missingURLMessage = "a valid url is required"

type convertRequest struct {
	URL      string         `json:"url"`
	Title    string         `json:"title"`
	Content  string         `json:"content"`
	Options  convertOptions `json:"options"`
	Mode     string         `json:"mode"`
	ClientID string         `json:"clientId"`
}

type convertOptions struct {
	IncludeImages *bool `json:"includeImages"`
	IncludeStyles *bool `json:"includeStyles"`
}

type debugRequest struct {
	URL     string          `json:"url"`
	Title   string          `json:"title"`
	Options json.RawMessage `json:"options"`
	Mode    string          `json:"mode"`
}

type crawlRequest struct {
	URL           string `json:"url"`
	MaxDepth      *int   `json:"maxDepth"`
	MaxPages      *int   `json:"maxPages"`
	Delay         *int   `json:"delay"`
	IncludeImages *bool  `json:"includeImages"`
	IncludeStyles *bool  `json:"includeStyles"`
	ClientID      string `json:"clientId"`
}

type crawlResponse struct {
	Success    bool   `json:"success"`
	PDFPath    string `json:"pdfPath"`
	TotalPages int    `json:"totalPages"`
	FileSize   int64  `json:"fileSize"`
}

type memoryStats struct {
	Alloc      uint64 `json:"alloc"`
	TotalAlloc uint64 `json:"totalAlloc"`
	Sys        uint64 `json:"sys"`
	HeapAlloc  uint64 `json:"heapAlloc"`
	HeapInuse  uint64 `json:"heapInuse"`
	NumGC      uint32 `json:"numGC"`
}

type statusResponse struct {
	Status            string      `json:"status"`
	Uptime            float64     `json:"uptime"`
	Memory            memoryStats `json:"memory"`
	ActiveConnections int         `json:"activeConnections"`
}

// convertPageMode maps the request mode onto a pipeline mode. Only an absent
// or single-page mode crawls; everything else uses the supplied content.
func convertPageMode(raw string) pipeline.Mode {
	if raw == "" || raw == pipeline.SinglePage.String() {
		return pipeline.SinglePage
	}
	return pipeline.Fallback
}

// convertPage handles POST /api/convert-page. It responds with the PDF bytes
// as an attachment, 400 when the URL is missing, or 500 with {"error"}.
func (s *Server) convertPage(w http.ResponseWriter, r *http.Request) {
	var req convertRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		writeError(w, http.StatusBadRequest, missingURLMessage)
		return
	}
	job := pipeline.Job{
		URL:     req.URL,
		Mode:    convertPageMode(req.Mode),
		Title:   req.Title,
		Content: req.Content,
		Options: pipeline.Options{
			IncludeImages: boolOrDefault(req.Options.IncludeImages, true),
			IncludeStyles: boolOrDefault(req.Options.IncludeStyles, true),
		},
		ClientID: req.ClientID,
	}
	res, err := s.runner.Run(context.WithoutCancel(r.Context()), job, s.sinkFor(req.ClientID))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	art := pipeline.Artifact{Path: res.Path, Name: res.Filename, Size: res.FileSize, Pages: res.DocumentPages}
	attachment := encodeURIComponent(valueOr(req.Title, "page")) + ".pdf"
	wrote := false
	err = s.store.ServeInline(art, func(data []byte) error {
		wrote = true
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", `attachment; filename="`+attachment+`"`)
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.WriteHeader(http.StatusOK)
		_, werr := w.Write(data)
		return werr
	})
	if err != nil {
		s.logger.Warn("inline serve failed", zap.String("filename", res.Filename), zap.Error(err))
		if !wrote {
			writeError(w, http.StatusInternalServerError, err.Error())
		}
	}
}

// debugConvert handles POST /api/debug-convert by echoing what it received.
func (s *Server) debugConvert(w http.ResponseWriter, r *http.Request) {
	var req debugRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	mode := valueOr(req.Mode, pipeline.SinglePage.String())
	var options any = map[string]any{}
	if len(req.Options) > 0 && string(req.Options) != "null" {
		if err := json.Unmarshal(req.Options, &options); err != nil {
			writeError(w, http.StatusBadRequest, "invalid options")
			return
		}
	}
	info := map[string]any{
		"receivedMode":    mode,
		"receivedOptions": options,
		"urlProvided":     req.URL != "",
		"titleProvided":   req.Title != "",
	}
	s.logger.Info("debug convert",
		zap.String("mode", mode),
		zap.ByteString("options", req.Options),
		zap.Bool("url_provided", req.URL != ""),
		zap.Bool("title_provided", req.Title != ""),
	)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"debugInfo": info,
		"message":   "debug information logged",
	})
}

// crawl handles POST /api/crawl. Progress streams to clientId's connection
// while the request blocks until the multi-page artifact exists.
func (s *Server) crawl(w http.ResponseWriter, r *http.Request) {
	var req crawlRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		writeError(w, http.StatusBadRequest, missingURLMessage)
		return
	}
	delay := s.cfg.Defaults.Delay
	if req.Delay != nil {
		delay = time.Duration(*req.Delay) * time.Millisecond
	}
	job := pipeline.Job{
		URL:     req.URL,
		Mode:    pipeline.MultiPage,
		Options: pipeline.Options{
			IncludeImages: boolOrDefault(req.IncludeImages, true),
			IncludeStyles: boolOrDefault(req.IncludeStyles, true),
			MaxDepth:      valueOrDefault(req.MaxDepth, s.cfg.Defaults.MaxDepth),
			MaxPages:      valueOrDefault(req.MaxPages, s.cfg.Defaults.MaxPages),
			Delay:         delay,
		},
		ClientID: req.ClientID,
	}
	res, err := s.runner.Run(context.WithoutCancel(r.Context()), job, s.sinkFor(req.ClientID))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, crawlResponse{
		Success:    true,
		PDFPath:    res.Filename,
		TotalPages: res.TotalPages,
		FileSize:   res.FileSize,
	})
}

// download handles GET /api/download/{filename}.
func (s *Server) download(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "filename")
	f, info, err := s.store.Open(name)
	if errors.Is(err, artifact.ErrNotFound) {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}
	if err != nil {
		s.logger.Error("open artifact failed", zap.String("filename", name), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "download failed")
		return
	}
	defer func() { _ = f.Close() }()
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="`+encodeURIComponent(info.Name())+`"`)
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

// status handles GET /api/status.
func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	writeJSON(w, http.StatusOK, statusResponse{
		Status: "running",
		Uptime: s.now().Sub(s.started).Seconds(),
		Memory: memoryStats{
			Alloc:      ms.Alloc,
			TotalAlloc: ms.TotalAlloc,
			Sys:        ms.Sys,
			HeapAlloc:  ms.HeapAlloc,
			HeapInuse:  ms.HeapInuse,
			NumGC:      ms.NumGC,
		},
		ActiveConnections: s.conns.Count(),
	})
}

// cleanup handles DELETE /api/cleanup.
func (s *Server) cleanup(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.store.CleanupAll(r.Context())
	if s.metrics != nil && deleted > 0 {
		s.metrics.ObserveCleanup(deleted)
	}
	if err != nil {
		s.logger.Error("cleanup failed", zap.Int("deleted", deleted), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":      "cleanup complete",
		"deletedFiles": deleted,
	})
}

// encodeURIComponent escapes s for use inside a quoted header parameter.
func encodeURIComponent(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

func valueOr(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func valueOrDefault[T any](ptr *T, def T) T {
	if ptr == nil {
		return def
	}
	return *ptr
}

func boolOrDefault(ptr *bool, def bool) bool {
	if ptr == nil {
		return def
	}
	return *ptr
}

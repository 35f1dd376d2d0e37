package server

import (
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"strings"
	"time"

	"github.com/conneroisu/domplate/internal/build"
)

const liveReloadScript = `<script>(function(){` +
	`var p=location.protocol==="https:"?"wss://":"ws://";` +
	`var ws=new WebSocket(p+location.host+"/ws");` +
	`ws.onmessage=function(e){try{var m=JSON.parse(e.data);if(m.type==="reload"){location.reload();}}catch(_){}};` +
	`ws.onclose=function(){setTimeout(function(){location.reload();},1000);};` +
	`})();</script>`

// handleIndex renders the first page, or lists the pages when there are
// several.
func (s *PreviewServer) handleIndex(w http.ResponseWriter, r *http.Request) {
	if len(s.names) == 1 {
		s.renderPage(w, r, s.pages[s.names[0]])
		return
	}

	var b strings.Builder
	b.WriteString("<!DOCTYPE html><html><head><title>domplate preview</title></head><body><ul>")
	for _, name := range s.names {
		escaped := html.EscapeString(name)
		fmt.Fprintf(&b, `<li><a href="/pages/%s">%s</a></li>`, escaped, escaped)
	}
	b.WriteString("</ul>")
	b.WriteString(liveReloadScript)
	b.WriteString("</body></html>")

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(b.String()))
}

func (s *PreviewServer) handlePage(w http.ResponseWriter, r *http.Request) {
	job, ok := s.pages[r.PathValue("name")]
	if !ok {
		http.NotFound(w, r)
		return
	}
	s.renderPage(w, r, job)
}

func (s *PreviewServer) renderPage(w http.ResponseWriter, r *http.Request, job build.Job) {
	result := s.builder.Build(r.Context(), job)
	if result.Error != nil {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		page := fmt.Sprintf("<!DOCTYPE html><html><body><h1>Render failed</h1><pre>%s</pre></body></html>",
			html.EscapeString(result.Error.Error()))
		_, _ = w.Write([]byte(injectBeforeBodyEnd(page, liveReloadScript)))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("X-Domplate-Failures", fmt.Sprint(len(result.Failures)))
	_, _ = w.Write([]byte(injectBeforeBodyEnd(result.Output, result.Overlay+liveReloadScript)))
}

// injectBeforeBodyEnd inserts snippet before the last </body>, or appends it
// when the document has none.
func injectBeforeBodyEnd(doc, snippet string) string {
	i := strings.LastIndex(strings.ToLower(doc), "</body>")
	if i < 0 {
		return doc + snippet
	}
	return doc[:i] + snippet + doc[i:]
}

// handleHealth returns the server health status for health checks
func (s *PreviewServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"pages":     s.names,
		"clients":   s.ClientCount(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(health); err != nil {
		s.logger.Warn(r.Context(), err, "failed to encode health response")
	}
}

// handleMetrics returns the build metrics
func (s *PreviewServer) handleMetrics(w http.ResponseWriter, r *http.Request) {
	m := s.builder.Metrics()
	response := map[string]interface{}{
		"total_builds":      m.TotalBuilds,
		"successful_builds": m.SuccessfulBuilds,
		"failed_builds":     m.FailedBuilds,
		"degraded_builds":   m.DegradedBuilds,
		"cache_hits":        m.CacheHits,
		"average_duration":  m.AverageDuration.String(),
		"failures_by_code":  m.FailuresByCode,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.logger.Warn(r.Context(), err, "failed to encode metrics response")
	}
}

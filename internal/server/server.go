// Package server serves rendered pages with live reload. Every request
// renders the page again, and a change to any template or data file makes
// connected browsers reload.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/conneroisu/domplate/internal/build"
	"github.com/conneroisu/domplate/internal/config"
	"github.com/conneroisu/domplate/internal/logging"
	"github.com/conneroisu/domplate/internal/watcher"
)

// PreviewServer serves pages with live reload capability
type PreviewServer struct {
	config      *config.Config
	builder     *build.Builder
	watcher     *watcher.FileWatcher
	logger      logging.Logger
	pages       map[string]build.Job
	names       []string
	httpServer  *http.Server
	serverMutex sync.RWMutex

	clients      map[*Client]bool
	clientsMutex sync.RWMutex
	broadcast    chan []byte
	register     chan *Client
	unregister   chan *Client
	done         chan struct{}
	shutdownOnce sync.Once
}

// UpdateMessage represents a message sent to the browser
type UpdateMessage struct {
	Type      string    `json:"type"`
	Files     []string  `json:"files,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// New creates a preview server for jobs. Each job is served under the base
// name of its template; the first one is also served at /.
func New(cfg *config.Config, builder *build.Builder, jobs []build.Job, logger logging.Logger) (*PreviewServer, error) {
	if len(jobs) == 0 {
		return nil, fmt.Errorf("no pages to serve")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	fileWatcher, err := watcher.NewFileWatcher(cfg.Watch.Debounce, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	s := &PreviewServer{
		config:     cfg,
		builder:    builder,
		watcher:    fileWatcher,
		logger:     logger.WithComponent("server"),
		pages:      make(map[string]build.Job, len(jobs)),
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 16),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}

	for _, job := range jobs {
		name := filepath.Base(job.Template)
		if _, dup := s.pages[name]; dup {
			fileWatcher.Stop()
			return nil, fmt.Errorf("two pages named %s", name)
		}
		// the live reload client needs a whole document
		job.Fragment = false
		s.pages[name] = job
		s.names = append(s.names, name)
	}

	return s, nil
}

// Handler returns the HTTP handler with every route and middleware applied.
func (s *PreviewServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /pages/{name}", s.handlePage)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/metrics", s.handleMetrics)
	return s.addMiddleware(mux)
}

// Start watches the page files and serves until ctx is cancelled or the
// server fails.
func (s *PreviewServer) Start(ctx context.Context) error {
	if err := s.setupFileWatcher(ctx); err != nil {
		return err
	}

	go s.runWebSocketHub(ctx)

	addr := s.config.Addr()
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	s.serverMutex.Lock()
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	server := s.httpServer
	s.serverMutex.Unlock()

	url := fmt.Sprintf("http://%s", listener.Addr())
	s.logger.Info(ctx, "preview server listening", "url", url, "pages", len(s.pages))
	if s.config.Server.Open {
		go s.openBrowser(ctx, url)
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(shutdownCtx)
	}()

	if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

func (s *PreviewServer) setupFileWatcher(ctx context.Context) error {
	s.watcher.AddFilter(watcher.NoTempFilter)
	s.watcher.AddFilter(watcher.IgnoreFilter(s.config.Watch.Ignore...))
	s.watcher.AddHandler(s.handleFileChange)

	for _, path := range s.watchedFiles() {
		if err := s.watcher.AddFile(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
	}
	for _, path := range s.config.Watch.Paths {
		if err := s.watcher.AddRecursive(path); err != nil {
			s.logger.Warn(ctx, err, "failed to watch path", "path", path)
		}
	}

	return s.watcher.Start(ctx)
}

// watchedFiles lists every file a page is rendered from.
func (s *PreviewServer) watchedFiles() []string {
	seen := make(map[string]bool)
	var files []string
	add := func(path string) {
		if path == "" || path == build.StdinPath || seen[path] {
			return
		}
		seen[path] = true
		files = append(files, path)
	}
	for _, name := range s.names {
		job := s.pages[name]
		add(job.Template)
		add(job.Data)
		add(job.Root)
	}
	sort.Strings(files)
	return files
}

func (s *PreviewServer) handleFileChange(ctx context.Context, events []watcher.ChangeEvent) error {
	files := make([]string, 0, len(events))
	for _, event := range events {
		s.logger.Info(ctx, "file changed", "path", event.Path, "type", event.Type.String())
		s.builder.Invalidate(event.Path)
		if abs, err := filepath.Abs(event.Path); err == nil {
			s.invalidateAbs(abs)
		}
		files = append(files, event.Path)
	}

	s.broadcastMessage(UpdateMessage{
		Type:      "reload",
		Files:     files,
		Timestamp: time.Now(),
	})
	return nil
}

// invalidateAbs drops cache entries whose job path resolves to abs; the
// watcher reports absolute paths while jobs may hold relative ones.
func (s *PreviewServer) invalidateAbs(abs string) {
	for _, path := range s.watchedFiles() {
		if p, err := filepath.Abs(path); err == nil && p == abs {
			s.builder.Invalidate(path)
		}
	}
}

func (s *PreviewServer) broadcastMessage(msg UpdateMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error(context.Background(), err, "failed to marshal message")
		data = []byte(`{"type":"reload"}`)
	}

	select {
	case s.broadcast <- data:
	case <-s.done:
	}
}

func (s *PreviewServer) openBrowser(ctx context.Context, url string) {
	time.Sleep(100 * time.Millisecond)

	var err error
	switch runtime.GOOS {
	case "linux":
		err = exec.Command("xdg-open", url).Start()
	case "windows":
		err = exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start()
	case "darwin":
		err = exec.Command("open", url).Start()
	default:
		err = fmt.Errorf("unsupported platform %s", runtime.GOOS)
	}

	if err != nil {
		s.logger.Warn(ctx, err, "failed to open browser", "url", url)
	}
}

func (s *PreviewServer) addMiddleware(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if s.isAllowedOrigin(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
		}
		w.Header().Set("X-Content-Type-Options", "nosniff")

		start := time.Now()
		handler.ServeHTTP(w, r)
		s.logger.Debug(r.Context(), "request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

// isAllowedOrigin checks if the origin is in the allowed origins list
func (s *PreviewServer) isAllowedOrigin(origin string) bool {
	if origin == "" {
		return false
	}
	for _, allowed := range s.config.Server.AllowedOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

// ClientCount returns the number of connected browsers.
func (s *PreviewServer) ClientCount() int {
	s.clientsMutex.RLock()
	defer s.clientsMutex.RUnlock()
	return len(s.clients)
}

// Shutdown gracefully shuts down the server and cleans up resources
func (s *PreviewServer) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.logger.Info(ctx, "shutting down server")
		close(s.done)

		if err := s.watcher.Stop(); err != nil {
			s.logger.Warn(ctx, err, "failed to stop file watcher")
		}

		s.clientsMutex.Lock()
		for client := range s.clients {
			client.conn.Close(websocket.StatusGoingAway, "server shutting down")
		}
		s.clients = make(map[*Client]bool)
		s.clientsMutex.Unlock()

		s.serverMutex.RLock()
		server := s.httpServer
		s.serverMutex.RUnlock()

		if server != nil {
			shutdownErr = server.Shutdown(ctx)
		}
	})

	return shutdownErr
}

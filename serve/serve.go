// Package serve publishes local media files over HTTP so an AirPlay
// receiver can fetch them. Only the files named at construction are
// reachable, and optionally only from a single remote host.
package serve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Server serves a fixed set of local files by basename. Receivers are
// handed URLs from URLs and fetch them with Range requests while playing.
type Server struct {
	files map[string]string // basename -> absolute path
	names []string          // one basename per input path, input order

	router  chi.Router
	httpSrv *http.Server
	ln      net.Listener

	listenAddr  string
	allowedHost string
	log         *slog.Logger
}

type Option func(*Server)

// WithAllowedHost restricts fetches to one remote IP. Receivers are
// discovered on untrusted networks, so callers usually pin this to the
// address of the device being driven.
func WithAllowedHost(host string) Option {
	return func(s *Server) { s.allowedHost = host }
}

// WithListenAddr sets the bind address. The default ":0" picks a free port.
func WithListenAddr(addr string) Option {
	return func(s *Server) { s.listenAddr = addr }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// New builds a server for the given files. Directories cannot be served,
// and two files from different directories cannot share a basename: the
// URL namespace is flat so the second would be unreachable.
func New(paths []string, opts ...Option) (*Server, error) {
	if len(paths) == 0 {
		return nil, errors.New("serve: no files to serve")
	}

	s := &Server{
		files:      make(map[string]string, len(paths)),
		router:     chi.NewRouter(),
		listenAddr: ":0",
	}
	for _, o := range opts {
		o(s)
	}
	if s.log == nil {
		s.log = slog.Default()
	}

	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("serve: %s: %w", p, err)
		}
		st, err := os.Stat(abs)
		if err != nil {
			return nil, fmt.Errorf("serve: %w", err)
		}
		if st.IsDir() {
			return nil, fmt.Errorf("serve: directories cannot be served: %s", abs)
		}
		name := filepath.Base(abs)
		if prev, ok := s.files[name]; ok && prev != abs {
			return nil, fmt.Errorf("serve: two files share the name %q", name)
		}
		s.files[name] = abs
		s.names = append(s.names, name)
	}

	s.router.Use(middleware.Recoverer)
	s.router.Get("/{name}", s.handleFile)
	s.router.Head("/{name}", s.handleFile)
	return s, nil
}

// Start binds the listener and begins serving in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return fmt.Errorf("serve: listen on %s: %w", s.listenAddr, err)
	}
	s.ln = ln
	s.httpSrv = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := s.httpSrv.Serve(ln); err != http.ErrServerClosed {
			s.log.Warn("file server stopped", "error", err)
		}
	}()
	s.log.Debug("file server listening", "addr", ln.Addr().String())
	return nil
}

// Stop shuts the server down, waiting for in-flight requests until ctx
// expires. Safe to call even if Start never ran.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// Port reports the bound port, or 0 before Start.
func (s *Server) Port() int {
	if s.ln == nil {
		return 0
	}
	return s.ln.Addr().(*net.TCPAddr).Port
}

// URLs returns one URL per input path, in input order, suitable for
// passing to Play. deviceAddr is the receiver's host:port (Device.Addr);
// the URL host is the local interface address that routes toward it, so
// the receiver can reach us even on multi-homed machines.
func (s *Server) URLs(deviceAddr string) ([]string, error) {
	if s.ln == nil {
		return nil, errors.New("serve: server not started")
	}
	host, err := localAddrToward(deviceAddr)
	if err != nil {
		return nil, err
	}
	addr := net.JoinHostPort(host, strconv.Itoa(s.Port()))
	urls := make([]string, 0, len(s.names))
	for _, name := range s.names {
		urls = append(urls, "http://"+addr+"/"+url.PathEscape(name))
	}
	return urls, nil
}

// Handler returns the route table so tests can drive the server through
// httptest without binding a port.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	if s.allowedHost != "" {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		if host != s.allowedHost {
			s.log.Warn("refusing request from unexpected host", "remote", host)
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
	}

	name := chi.URLParam(r, "name")
	path, ok := s.files[name]
	if !ok {
		http.NotFound(w, r)
		return
	}

	f, err := os.Open(path)
	if err != nil {
		s.log.Warn("cannot open served file", "path", path, "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	if ct := contentType(name); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	s.log.Debug("serving file", "name", name, "range", r.Header.Get("Range"))
	http.ServeContent(w, r, name, st.ModTime(), f)
}

// contentType covers the HLS extensions Go's mime table tends to miss.
// Everything else is left for ServeContent to sniff.
func contentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".m3u8":
		return "application/vnd.apple.mpegurl"
	case ".ts":
		return "video/mp2t"
	}
	return ""
}

// localAddrToward reports the local interface address the OS would use
// to reach addr. The UDP dial sends no packets.
func localAddrToward(addr string) (string, error) {
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return "", fmt.Errorf("serve: routing toward %s: %w", addr, err)
	}
	defer conn.Close()
	host, _, err := net.SplitHostPort(conn.LocalAddr().String())
	if err != nil {
		return "", fmt.Errorf("serve: routing toward %s: %w", addr, err)
	}
	return host, nil
}

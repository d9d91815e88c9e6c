// Package web serves the station's status page and HTTP API.
package web

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sweeney/charge-controller/internal/journal"
	"github.com/sweeney/charge-controller/internal/logger"
	"github.com/sweeney/charge-controller/internal/status"
)

// EventLister reads journaled transitions.
type EventLister interface {
	List(ctx context.Context, f journal.Filter) ([]journal.Entry, error)
}

// CommandRunner executes one text command.
type CommandRunner interface {
	Execute(line string) (string, error)
}

// Options configures a Server. Events and Commands may be nil, in which
// case their endpoints answer 503.
type Options struct {
	Addr        string
	Tracker     *status.Tracker
	Events      EventLister
	Commands    CommandRunner
	TokenSecret string
	Log         *logger.Logger
}

// Server serves the status page and API over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	events     EventLister
	commands   CommandRunner
	secret     []byte
	log        *logger.Logger
}

// New creates a Server that reads state from the given tracker.
func New(opts Options) *Server {
	log := opts.Log
	if log == nil {
		log = logger.Nop()
	}
	s := &Server{
		tracker:  opts.Tracker,
		events:   opts.Events,
		commands: opts.Commands,
		log:      log,
	}
	if opts.TokenSecret != "" {
		s.secret = []byte(opts.TokenSecret)
	}

	s.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) routes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/", s.handleIndex)
	router.GET("/index.html", s.handleIndex)
	router.GET("/index.json", s.handleJSON)
	router.GET("/ws", s.wsConnect)

	api := router.Group("/api")
	{
		api.GET("/events", s.handleEvents)
		api.POST("/command", s.authMiddleware, s.handleCommand)
	}
	return router
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(c *gin.Context) {
	snap := s.tracker.Snapshot()
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(http.StatusOK)
	if err := renderHTML(c.Writer, snap); err != nil {
		s.log.Warnw("render status page", "error", err)
	}
}

func (s *Server) handleJSON(c *gin.Context) {
	c.Data(http.StatusOK, "application/json", status.FormatJSON(s.tracker.Snapshot()))
}

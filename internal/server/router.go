package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/camrelay/camrelay/internal/metrics"
	"github.com/camrelay/camrelay/internal/session"
)

// Controller is the slice of the session manager the API needs.
type Controller interface {
	Statuses() []session.Status
	Status(camera string) (session.Status, bool)
	Control(camera string, cmd session.Command) error
}

// Router provides embeddable HTTP handlers for the session API.
// Endpoints:
//
//	GET  {basePath}/api/sessions                   list all sessions
//	GET  {basePath}/api/sessions/:camera           one session
//	POST {basePath}/api/sessions/:camera/start     attempt live now
//	POST {basePath}/api/sessions/:camera/restart   teardown and re-resolve
//	POST {basePath}/api/sessions/:camera/stop      stop permanently
//	GET  {basePath}/healthz
//	GET  {basePath}/metrics
type Router struct {
	ctrl     Controller
	basePath string
}

func NewRouter(ctrl Controller, basePath string) *Router {
	return &Router{ctrl: ctrl, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler powered by gin that can be mounted in
// any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/api/sessions", r.handleList)
	group.GET("/api/sessions/:camera", r.handleGet)
	group.POST("/api/sessions/:camera/start", r.handleCommand(session.CommandStart))
	group.POST("/api/sessions/:camera/restart", r.handleCommand(session.CommandRestart))
	group.POST("/api/sessions/:camera/stop", r.handleCommand(session.CommandStop))
	group.GET("/healthz", r.handleHealthz)
	group.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
func NewServer(addr, basePath string, ctrl Controller) *http.Server {
	r := NewRouter(ctrl, basePath)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server
}

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

func (r *Router) handleList(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.ctrl.Statuses())
}

func (r *Router) handleGet(c *gin.Context) {
	camera := c.Param("camera")
	st, ok := r.ctrl.Status(camera)
	if !ok {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "unknown camera " + camera})
		return
	}
	writeJSON(c, http.StatusOK, st)
}

func (r *Router) handleCommand(cmd session.Command) gin.HandlerFunc {
	return func(c *gin.Context) {
		camera := c.Param("camera")
		if _, ok := r.ctrl.Status(camera); !ok {
			writeJSON(c, http.StatusNotFound, errorResp{Error: "unknown camera " + camera})
			return
		}
		if err := r.ctrl.Control(camera, cmd); err != nil {
			writeJSON(c, http.StatusConflict, errorResp{Error: err.Error()})
			return
		}
		writeJSON(c, http.StatusOK, okResp{OK: true})
	}
}

func (r *Router) handleHealthz(c *gin.Context) {
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

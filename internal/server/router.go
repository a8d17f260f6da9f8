// Package server exposes the wrapper over HTTP: health, supervisor
// status, console command dispatch, and Prometheus metrics.
package server

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gameward/gameward/internal/metrics"
	"github.com/gameward/gameward/internal/supervisor"
)

// StatusFunc returns the supervisor snapshot served by GET /status.
type StatusFunc func() supervisor.Status

// CommandFunc dispatches one console line, exactly as operator input.
type CommandFunc func(ctx context.Context, line string) (string, error)

// Router provides the embeddable HTTP handlers.
// Endpoints under basePath:
//
//	GET  /healthz    liveness of the wrapper itself
//	GET  /status     supervisor snapshot
//	POST /command    body: {"line": "..."} dispatched through the bridge
//	GET  /metrics    Prometheus exposition
type Router struct {
	status   StatusFunc
	command  CommandFunc
	basePath string
	token    string
}

// NewRouter constructs a Router. token, when non-empty, requires
// "Authorization: Bearer <token>" on every endpoint except /healthz.
func NewRouter(status StatusFunc, command CommandFunc, basePath, token string) *Router {
	return &Router{status: status, command: command, basePath: sanitizeBase(basePath), token: token}
}

func sanitizeBase(bp string) string {
	bp = strings.TrimRight(bp, "/")
	if bp != "" && !strings.HasPrefix(bp, "/") {
		bp = "/" + bp
	}
	return bp
}

// Handler returns an http.Handler powered by gin that can be mounted in
// any server/mux.
func (r *Router) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/healthz", r.handleHealthz)

	authed := group.Group("", r.authMiddleware())
	authed.GET("/status", r.handleStatus)
	authed.POST("/command", r.handleCommand)
	authed.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
func NewServer(addr string, r *Router, tlsConfig ...func(*http.Server)) *http.Server {
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	for _, apply := range tlsConfig {
		apply(server)
	}
	return server
}

func (r *Router) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if r.token == "" {
			c.Next()
			return
		}
		got := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(got), []byte(r.token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResp{Error: "invalid or missing bearer token"})
			return
		}
		c.Next()
	}
}

type errorResp struct {
	Error string `json:"error"`
}

type commandReq struct {
	Line string `json:"line"`
}

type commandResp struct {
	Reply string `json:"reply"`
}

func (r *Router) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (r *Router) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, r.status())
}

func (r *Router) handleCommand(c *gin.Context) {
	var req commandReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if strings.TrimSpace(req.Line) == "" {
		c.JSON(http.StatusBadRequest, errorResp{Error: "line required"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()
	reply, err := r.command(ctx, req.Line)
	if err != nil {
		c.JSON(http.StatusBadGateway, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, commandResp{Reply: reply})
}

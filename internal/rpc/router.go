package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"deftheim/internal/domain"
)

// RouterDeps holds everything the router needs.
type RouterDeps struct {
	Log         *logrus.Logger
	Dispatcher  *Dispatcher
	CORSOrigins []string
	Version     string
}

// Config files are the largest request bodies.
const maxBodySize = 10 << 20

// NewRouter creates the gin engine serving the command API.
func NewRouter(deps *RouterDeps) http.Handler {
	r := gin.New()
	r.SetTrustedProxies(nil) //nolint:errcheck // nil always succeeds.
	r.Use(RequestID(deps.Log))
	r.Use(ginLogger(deps.Log))
	r.Use(gin.Recovery())
	r.Use(MaxBodySize(maxBodySize))
	if len(deps.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins: deps.CORSOrigins,
			AllowMethods: []string{"GET", "POST", "OPTIONS"},
			AllowHeaders: []string{"Content-Type", RequestIDHeader},
			MaxAge:       time.Hour,
		}))
	}
	r.Use(PrometheusMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h := &apiHandler{dispatcher: deps.Dispatcher, version: deps.Version, started: time.Now()}
	api := r.Group("/api/v1")
	api.GET("/health", h.health)
	api.GET("/commands", h.commands)
	api.POST("/invoke/:command", h.invoke)

	return r
}

type apiHandler struct {
	dispatcher *Dispatcher
	version    string
	started    time.Time
}

func (h *apiHandler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"version":        h.version,
		"uptime_seconds": time.Since(h.started).Seconds(),
	})
}

func (h *apiHandler) commands(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"commands": h.dispatcher.Commands()})
}

func (h *apiHandler) invoke(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(c, fmt.Errorf("%w: request body too large", domain.ErrInvalidArgument))
			return
		}
		respondError(c, fmt.Errorf("%w: reading body: %v", domain.ErrInvalidArgument, err))
		return
	}

	result, err := h.dispatcher.Invoke(c.Request.Context(), c.Param("command"), json.RawMessage(body))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": result})
}

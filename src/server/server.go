package server

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"telemetry-observer/src/logger"
	"telemetry-observer/src/models"
	"telemetry-observer/src/rpc"
	"telemetry-observer/src/subscription"

	"github.com/gin-gonic/gin"
)

// -----------------------------------------------------------------------------
// Server exposes the running subscriptions over REST and a websocket stream.
// -----------------------------------------------------------------------------

type Server struct {
	Config *models.MConfig
	Logger *logger.Logger
	engine *gin.Engine

	// WebSocket clients
	clients    map[*Client]struct{}
	broadcast  chan *wsEnvelope // Strongly typed and Buffered Queue
	register   chan *Client
	unregister chan *Client

	// Subscriptions, in registration order
	mu    sync.RWMutex
	subs  map[string]subscription.Subscription
	order []string
}

// wsEnvelope is one websocket frame: a batch of subscription snapshots.
type wsEnvelope struct {
	Type          string                  `json:"type"` // "INITIAL" or "UPDATE"
	Subscriptions []subscription.Snapshot `json:"subscriptions"`
	Timestamp     int64                   `json:"timestamp"`
}

// Capability views over the subscription kinds.
type rpcCapable interface {
	SendOneWayCommand(req *models.MRpcRequest) *rpc.Command
	SendTwoWayCommand(req *models.MRpcRequest) *rpc.Command
	ClearRpcError()
}

type zoomable interface {
	UpdateTimewindow(startTimeMs, endTimeMs int64)
	ResetTimewindow()
}

// -----------------------------------------------------------------------------
// Constructor
// -----------------------------------------------------------------------------

func NewServer(cfg *models.MConfig, log *logger.Logger) *Server {
	// Set Gin mode
	if !strings.EqualFold(cfg.LogLevel, "DEBUG") {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		Config:  cfg,
		Logger:  log,
		engine:  gin.Default(),
		clients: make(map[*Client]struct{}),
		// Buffered channel to prevent lock/blocking
		// Queue size of 256 ensures we can handle bursts of updates
		broadcast:  make(chan *wsEnvelope, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		subs:       make(map[string]subscription.Subscription),
	}

	// Add CORS Middleware
	s.engine.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if strings.HasPrefix(origin, "http://127.0.0.1:") {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	s.setupRoutes()
	return s
}

// -----------------------------------------------------------------------------
// Route Setup
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// REST API endpoints
	s.engine.GET("/api/health", s.getHealth)
	s.engine.GET("/api/time", s.getTime)
	s.engine.GET("/api/subscriptions", s.listSubscriptions)
	s.engine.GET("/api/subscriptions/:id", s.getSubscription)
	s.engine.POST("/api/subscriptions/:id/timewindow", s.postTimewindow)
	s.engine.DELETE("/api/subscriptions/:id/timewindow", s.deleteTimewindow)
	s.engine.POST("/api/subscriptions/:id/rpc", s.postRpc)
	s.engine.DELETE("/api/subscriptions/:id/rpc/error", s.deleteRpcError)

	// WebSocket endpoint
	s.engine.GET("/ws", s.handleWebSocket)
}

// -----------------------------------------------------------------------------
// Subscription registry
// -----------------------------------------------------------------------------

// Register adds a subscription to the exported set under the given name.
func (s *Server) Register(name string, sub subscription.Subscription) {
	s.mu.Lock()
	if _, exists := s.subs[name]; !exists {
		s.order = append(s.order, name)
	}
	s.subs[name] = sub
	s.mu.Unlock()
}

func (s *Server) lookup(name string) subscription.Subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.subs[name]
}

func (s *Server) snapshots() []subscription.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]subscription.Snapshot, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.subs[name].Snapshot())
	}
	return out
}

// Publish queues the current state for broadcast to websocket clients. Hosts
// call this from subscription callbacks.
func (s *Server) Publish() {
	envelope := &wsEnvelope{
		Type:          "UPDATE",
		Subscriptions: s.snapshots(),
		Timestamp:     time.Now().UnixMilli(),
	}
	select {
	case s.broadcast <- envelope:
	default:
		// Queue full: the next publish carries fresher state anyway.
	}
}

// -----------------------------------------------------------------------------
// Server Lifecycle
// -----------------------------------------------------------------------------

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.Config.Host, s.Config.Port)
	s.Logger.Info("Starting server on %s", addr)

	go s.handleWebsockets()

	return s.engine.Run(addr)
}

// -----------------------------------------------------------------------------

func (s *Server) Stop() error {
	// Clean shutdown
	close(s.broadcast)
	close(s.register)
	close(s.unregister)
	return nil
}

// -----------------------------------------------------------------------------
// Route Handlers
// -----------------------------------------------------------------------------

func (s *Server) getHealth(c *gin.Context) {
	s.mu.RLock()
	count := len(s.subs)
	s.mu.RUnlock()

	c.JSON(http.StatusOK, gin.H{
		"status":        "ok",
		"connections":   len(s.clients),
		"subscriptions": count,
	})
}

// -----------------------------------------------------------------------------

// getTime serves the clock-skew endpoint remote engines probe.
func (s *Server) getTime(c *gin.Context) {
	c.JSON(http.StatusOK, time.Now().UnixMilli())
}

// -----------------------------------------------------------------------------

func (s *Server) listSubscriptions(c *gin.Context) {
	c.JSON(http.StatusOK, s.snapshots())
}

// -----------------------------------------------------------------------------

func (s *Server) getSubscription(c *gin.Context) {
	sub := s.lookup(c.Param("id"))
	if sub == nil {
		c.JSON(http.StatusNotFound, gin.H{"message": "unknown subscription"})
		return
	}
	c.JSON(http.StatusOK, sub.Snapshot())
}

// -----------------------------------------------------------------------------

func (s *Server) postTimewindow(c *gin.Context) {
	sub := s.lookup(c.Param("id"))
	if sub == nil {
		c.JSON(http.StatusNotFound, gin.H{"message": "unknown subscription"})
		return
	}
	z, ok := sub.(zoomable)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"message": "subscription has no time window"})
		return
	}

	var body struct {
		StartTimeMs int64 `json:"startTimeMs"`
		EndTimeMs   int64 `json:"endTimeMs"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.EndTimeMs <= body.StartTimeMs {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid time range"})
		return
	}

	z.UpdateTimewindow(body.StartTimeMs, body.EndTimeMs)
	c.JSON(http.StatusOK, sub.Snapshot())
}

// -----------------------------------------------------------------------------

func (s *Server) deleteTimewindow(c *gin.Context) {
	sub := s.lookup(c.Param("id"))
	if sub == nil {
		c.JSON(http.StatusNotFound, gin.H{"message": "unknown subscription"})
		return
	}
	if z, ok := sub.(zoomable); ok {
		z.ResetTimewindow()
	}
	c.JSON(http.StatusOK, sub.Snapshot())
}

// -----------------------------------------------------------------------------

func (s *Server) postRpc(c *gin.Context) {
	sub := s.lookup(c.Param("id"))
	if sub == nil {
		c.JSON(http.StatusNotFound, gin.H{"message": "unknown subscription"})
		return
	}
	r, ok := sub.(rpcCapable)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"message": "not a command subscription"})
		return
	}

	var body struct {
		models.MRpcRequest
		OneWay bool `json:"oneWay"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Method == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid command"})
		return
	}

	var cmd *rpc.Command
	if body.OneWay {
		cmd = r.SendOneWayCommand(&body.MRpcRequest)
	} else {
		cmd = r.SendTwoWayCommand(&body.MRpcRequest)
	}

	response, err := cmd.Wait(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"response": response})
}

// -----------------------------------------------------------------------------

func (s *Server) deleteRpcError(c *gin.Context) {
	sub := s.lookup(c.Param("id"))
	if sub == nil {
		c.JSON(http.StatusNotFound, gin.H{"message": "unknown subscription"})
		return
	}
	if r, ok := sub.(rpcCapable); ok {
		r.ClearRpcError()
	}
	c.JSON(http.StatusOK, sub.Snapshot())
}

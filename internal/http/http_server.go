package http

import (
	"context"
	"io"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/gin-gonic/gin"
	"github.com/walletsync/ledgersync/internal/config"
	"github.com/walletsync/ledgersync/internal/explorer"
	"github.com/walletsync/ledgersync/internal/store"
	"github.com/walletsync/ledgersync/internal/syncer"
	"github.com/walletsync/ledgersync/internal/ui"
)

type HTTPServer struct {
	syncer   *syncer.Syncer
	explorer *explorer.Service
	registry *ui.Registry
}

func NewHTTPServer(sy *syncer.Syncer, ex *explorer.Service, reg *ui.Registry) *HTTPServer {
	return &HTTPServer{syncer: sy, explorer: ex, registry: reg}
}

func (hs *HTTPServer) Start(ctx context.Context) {
	r := gin.Default()

	r.GET("/api/v1/status", handleStatus)

	wallet := r.Group("/api/v1/wallet")
	{
		wallet.POST("/session", hs.handleSession)
		wallet.POST("/transactions", hs.handleTransactions)
		wallet.POST("/invalidate", hs.handleInvalidate)
		wallet.GET("/events", hs.handleEvents)
	}

	ex := r.Group("/api/v1/explorer")
	{
		ex.GET("/blockhash", hs.handleBlockHash)
		ex.POST("/import", hs.handleImport)
		ex.POST("/check", hs.handleCheck)
		ex.POST("/transactions", hs.handleExplorerTransactions)
		ex.GET("/dump", hs.handleDump)
		ex.POST("/desync", hs.handleDesync)
		ex.POST("/remove", hs.handleRemove)
	}

	addr := ":" + config.AppConfig.HTTPPort
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warnf("HTTP server shutdown: %v", err)
		}
	}()

	log.Infof("HTTP server is running on port %s", config.AppConfig.HTTPPort)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Failed to start HTTP server: %v", err)
	}
}

func handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type sessionRequest struct {
	Identity string `json:"identity" binding:"required"`
	Token    string `json:"token"`
	QA       bool   `json:"qa"`
}

// handleSession points both engines at a wallet identity and stores the
// bearer token for daemon calls.
func (hs *HTTPServer) handleSession(c *gin.Context) {
	var req sessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	hs.syncer.SetToken(req.Token, req.QA)
	hs.syncer.SetIdentity(req.Identity)
	hs.explorer.SetQA(req.QA)
	if err := hs.explorer.SetIdentity(req.Identity); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type transactionsRequest struct {
	store.Filter
	Invalidate bool   `json:"invalidate"`
	Handler    string `json:"handler"`
	Event      string `json:"event"`
}

// handleTransactions reads from the cache. With invalidate set a sync
// cycle is started first and the read is answered once it commits. A
// registered UI handler id gets the same result pushed to it.
func (hs *HTTPServer) handleTransactions(c *gin.Context) {
	var req transactionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Invalidate {
		hs.syncer.Invalidate()
	}
	c.JSON(http.StatusOK, hs.syncer.QueryTo(c.Request.Context(), &req.Filter, req.Handler, req.Event))
}

func (hs *HTTPServer) handleInvalidate(c *gin.Context) {
	hs.syncer.Invalidate()
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleEvents streams wallet notifications over SSE. The first frame
// carries the handler id the client echoes back in the transactions
// endpoint to get its query result pushed here as well.
func (hs *HTTPServer) handleEvents(c *gin.Context) {
	msgs := make(chan ui.Message, 16)
	id := hs.registry.Register(ui.HandlerFunc(func(msg ui.Message) {
		select {
		case msgs <- msg:
		default:
			log.Warnf("slow event stream, dropping %s", msg.Event)
		}
	}))
	defer hs.registry.Unregister(id)

	c.SSEvent("registered", gin.H{"handler": id})
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case msg := <-msgs:
			c.SSEvent(msg.Event, msg.Payload)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func (hs *HTTPServer) handleBlockHash(c *gin.Context) {
	hash, ok := hs.explorer.GetLastBlockHash()
	c.JSON(http.StatusOK, gin.H{"block_hash": hash, "known": ok})
}

type importRequest struct {
	Address       string `json:"address" binding:"required"`
	CurrentHeight int64  `json:"current_height" binding:"required"`
	BlockHash     string `json:"block_hash" binding:"required"`
}

func (hs *HTTPServer) handleImport(c *gin.Context) {
	var req importRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	reload, err := hs.explorer.ImportTransactions(c.Request.Context(), req.Address, req.CurrentHeight, req.BlockHash)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reload": reload})
}

type checkRequest struct {
	Address string  `json:"address" binding:"required"`
	Balance float64 `json:"balance"`
}

func (hs *HTTPServer) handleCheck(c *gin.Context) {
	var req checkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	wiped, err := hs.explorer.CheckTransactions(req.Address, req.Balance)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"wiped": wiped})
}

func (hs *HTTPServer) handleExplorerTransactions(c *gin.Context) {
	var f explorer.Filter
	if err := c.ShouldBindJSON(&f); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, hs.explorer.GetTransactions(&f))
}

func (hs *HTTPServer) handleDump(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"transactions": hs.explorer.Dump()})
}

func (hs *HTTPServer) handleDesync(c *gin.Context) {
	if err := hs.explorer.Desync(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (hs *HTTPServer) handleRemove(c *gin.Context) {
	if err := hs.explorer.RemoveDatabase(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

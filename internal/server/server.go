package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"redx-pair/internal/linker"
	"redx-pair/internal/session"
)

// Linker is the linking backend the HTTP handlers drive.
type Linker interface {
	Pair(ctx context.Context, phone string) (string, error)
	QR(ctx context.Context) ([]byte, error)
	Active() int
}

type Server struct {
	linker  Linker
	log     *zap.Logger
	router  *gin.Engine
	http    *http.Server
	version string
	started time.Time
	ready   atomic.Bool
}

var registerValidators sync.Once

func New(l Linker, log *zap.Logger, version string) *Server {
	registerValidators.Do(func() {
		if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
			_ = v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
				return session.ValidPhone(fl.Field().String())
			})
		}
	})

	s := &Server{
		linker:  l,
		log:     log,
		version: version,
		started: time.Now(),
	}

	router := gin.New()
	router.HandleMethodNotAllowed = true
	router.Use(requestID())
	router.Use(ginzap.Ginzap(log, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(log, true))
	router.Use(cors.New(cors.Config{
		AllowAllOrigins:           true,
		AllowMethods:              []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:              []string{"Content-Type"},
		OptionsResponseStatusCode: http.StatusOK,
	}))

	router.GET("/", s.handleIndex)
	router.GET("/health", func(c *gin.Context) { c.String(http.StatusOK, "OK") })
	router.GET("/status", s.handleStatus)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/pair", s.handlePair)
	router.GET("/qr", s.handleQR)
	// OPTIONS is answered for any path; other methods get 405 on known routes and 404 elsewhere.
	router.NoMethod(func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			preflight(c)
			return
		}
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "Method not allowed"})
	})
	router.NoRoute(func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			preflight(c)
			return
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})

	s.router = router
	s.http = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func preflight(c *gin.Context) {
	c.Header("Access-Control-Allow-Origin", "*")
	c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	c.Header("Access-Control-Allow-Headers", "Content-Type")
	c.Status(http.StatusOK)
}

// Router exposes the gin engine, mainly for tests.
func (s *Server) Router() *gin.Engine { return s.router }

// SetReady toggles whether linking requests are accepted.
func (s *Server) SetReady(ready bool) { s.ready.Store(ready) }

func (s *Server) Ready() bool { return s.ready.Load() }

// ListenAndServe blocks until the server stops. http.ErrServerClosed is not reported.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown. Calling it after Shutdown returns at once.
func (s *Server) Serve(ln net.Listener) error {
	if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting linking requests and drains in-flight HTTP requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.SetReady(false)
	return s.http.Shutdown(ctx)
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

// unavailable reports errors that mean "try again later" rather than a failure.
func unavailable(err error) bool {
	return errors.Is(err, linker.ErrBusy) || errors.Is(err, linker.ErrClosed)
}

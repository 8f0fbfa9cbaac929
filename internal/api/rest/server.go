package rest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Registrar 注册一组路由
type Registrar interface {
	Register(r *gin.Engine)
}

// NewRouter 创建gin路由，附带访问日志与panic恢复
func NewRouter(logger *zap.Logger, handlers ...Registrar) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), accessLog(logger))
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	for _, h := range handlers {
		h.Register(r)
	}
	return r
}

func accessLog(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http请求",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

type Server struct {
	router *gin.Engine
	logger *zap.Logger

	mu     sync.Mutex
	server *http.Server
}

func NewServer(router *gin.Engine, logger *zap.Logger) *Server {
	return &Server{router: router, logger: logger.Named("rest")}
}

// Start 启动REST服务器，阻塞直到Shutdown
func (s *Server) Start(port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("REST服务已启动", zap.String("addr", srv.Addr))

	s.mu.Lock()
	s.server = srv
	s.mu.Unlock()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

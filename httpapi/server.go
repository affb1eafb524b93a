package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"conductor/logging"
)

// Registrar 能把自身路由注册到多路复用器的处理器组
type Registrar interface {
	Register(mux *http.ServeMux)
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	Host         string        `json:"host" yaml:"host"`
	Port         int           `json:"port" yaml:"port"`
	ReadTimeout  time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
}

// Server 基于标准库 net/http 的 API 服务器
type Server struct {
	config ServerConfig
	mux    *http.ServeMux
	server *http.Server
	logger logging.Logger
}

// NewServer 创建 API 服务器并注册处理器组
func NewServer(config ServerConfig, handlers ...Registrar) *Server {
	if config.Port == 0 {
		config.Port = 8080
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = 15 * time.Second
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = 30 * time.Second
	}
	if config.IdleTimeout == 0 {
		config.IdleTimeout = 60 * time.Second
	}

	mux := http.NewServeMux()
	for _, h := range handlers {
		h.Register(mux)
	}
	return &Server{
		config: config,
		mux:    mux,
		logger: logging.Component("httpapi.server"),
	}
}

// Handler 返回底层处理器，供测试与嵌入使用
func (s *Server) Handler() http.Handler { return s.mux }

// Start 启动监听，阻塞直到服务退出
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
	s.logger.Info(context.Background(), "api server listening", logging.String("addr", addr))
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop 优雅停机
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

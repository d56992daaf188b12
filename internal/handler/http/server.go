package http

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/juju/errors"
	"github.com/juju/worker/v4"
	"gopkg.in/tomb.v2"
)

// Closer закрывает все живые подписки при остановке
type Closer interface {
	Close()
}

// ServerConfig параметры Server
type ServerConfig struct {
	Addr            string
	Handler         http.Handler
	Subscriptions   Closer
	ShutdownTimeout time.Duration
}

// Validate проверяет конфигурацию
func (c ServerConfig) Validate() error {
	if c.Handler == nil {
		return errors.NotValidf("nil Handler")
	}
	if c.Subscriptions == nil {
		return errors.NotValidf("nil Subscriptions")
	}
	if c.ShutdownTimeout <= 0 {
		return errors.NotValidf("ShutdownTimeout %v", c.ShutdownTimeout)
	}
	return nil
}

// Server HTTP сервер как worker. Остановка отменяет контекст всех запросов,
// поэтому долгие потоки завершаются сразу.
type Server struct {
	tomb     tomb.Tomb
	cfg      ServerConfig
	listener net.Listener
	srv      *http.Server
}

var _ worker.Worker = (*Server)(nil)

// NewServer начинает слушать адрес и запускает обработку запросов
func NewServer(cfg ServerConfig) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	listener, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, errors.Annotatef(err, "listening on %q", cfg.Addr)
	}

	s := &Server{
		cfg:      cfg,
		listener: listener,
	}
	s.srv = &http.Server{
		Handler:           cfg.Handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return s.tomb.Context(context.Background())
		},
	}
	s.tomb.Go(s.loop)
	return s, nil
}

// Addr адрес, на котором слушает сервер
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Kill is part of the worker.Worker interface.
func (s *Server) Kill() {
	s.tomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (s *Server) Wait() error {
	return s.tomb.Wait()
}

func (s *Server) loop() error {
	served := make(chan error, 1)
	go func() {
		served <- s.srv.Serve(s.listener)
	}()
	logger.Infof("listening on %s", s.listener.Addr())

	select {
	case <-s.tomb.Dying():
	case err := <-served:
		return errors.Annotate(err, "serving http")
	}

	s.cfg.Subscriptions.Close()
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		return errors.Annotate(err, "shutting down http server")
	}
	<-served
	return tomb.ErrDying
}

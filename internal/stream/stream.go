// Package stream доставляет результаты подписчику через долгоживущее
// соединение: Connecting -> Registered -> Streaming -> Terminated.
package stream

import (
	"context"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo"

	"prudo-grid/internal/domain"
	"prudo-grid/internal/subscriber"
)

var logger = loggo.GetLogger("prudo.stream")

// Registry часть subscriber.Registry, нужная потоку
type Registry interface {
	Register(id domain.UserID) *subscriber.Subscription
	Unregister(id domain.UserID, sub *subscriber.Subscription) bool
}

// Sink транспорт, в который поток пишет события
type Sink interface {
	// Open вызывается после регистрации, до первого события
	Open() error
	// Send отправляет одно событие с компактным GridResult
	Send(msg []byte) error
	// Heartbeat пишет пустое служебное событие, чтобы заметить полуоткрытое соединение
	Heartbeat() error
}

// Reason причина завершения потока
type Reason string

const (
	// Superseded канал закрыт: новая регистрация или остановка реестра
	Superseded Reason = "superseded"
	// Cancelled клиент отключился или сервер останавливается
	Cancelled Reason = "cancelled"
	// SinkFailed запись в транспорт не удалась
	SinkFailed Reason = "sink failed"
)

// Config параметры одного потока
type Config struct {
	Registry Registry
	UserID   domain.UserID
	Sink     Sink
	Clock    clock.Clock

	// HeartbeatInterval ноль отключает heartbeat
	HeartbeatInterval time.Duration
}

// Validate проверяет конфигурацию
func (c Config) Validate() error {
	if c.Registry == nil {
		return errors.NotValidf("nil Registry")
	}
	if c.Sink == nil {
		return errors.NotValidf("nil Sink")
	}
	if c.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	if c.HeartbeatInterval < 0 {
		return errors.NotValidf("negative HeartbeatInterval")
	}
	if _, err := domain.ValidateUserID(string(c.UserID)); err != nil {
		return errors.Trace(err)
	}
	return nil
}

// Result итог работы потока
type Result struct {
	Events int
	Reason Reason
}

// Run регистрирует подписку и пересылает сообщения в Sink, пока не закроется
// канал, не отменится ctx или не сломается транспорт. Подписка снимается
// при любом исходе.
func Run(ctx context.Context, cfg Config) (Result, error) {
	if err := cfg.Validate(); err != nil {
		return Result{}, errors.Trace(err)
	}

	sub := cfg.Registry.Register(cfg.UserID)
	result := Result{}
	defer func() {
		cfg.Registry.Unregister(cfg.UserID, sub)
		logger.Debugf("stream %s for %q terminated (%s) after %d events",
			sub.ID, cfg.UserID, result.Reason, result.Events)
	}()

	if err := cfg.Sink.Open(); err != nil {
		result.Reason = SinkFailed
		return result, errors.Annotate(err, "opening stream")
	}
	logger.Debugf("stream %s for %q registered", sub.ID, cfg.UserID)

	var (
		timer     clock.Timer
		heartbeat <-chan time.Time
	)
	if cfg.HeartbeatInterval > 0 {
		timer = cfg.Clock.NewTimer(cfg.HeartbeatInterval)
		defer timer.Stop()
		heartbeat = timer.Chan()
	}

	for {
		select {
		case <-ctx.Done():
			result.Reason = Cancelled
			return result, nil

		case msg, ok := <-sub.C():
			if !ok {
				result.Reason = Superseded
				return result, nil
			}
			if err := cfg.Sink.Send(msg); err != nil {
				result.Reason = SinkFailed
				return result, errors.Annotate(err, "sending event")
			}
			result.Events++

		case <-heartbeat:
			if err := cfg.Sink.Heartbeat(); err != nil {
				result.Reason = SinkFailed
				return result, errors.Annotate(err, "sending heartbeat")
			}
			timer.Reset(cfg.HeartbeatInterval)
		}
	}
}

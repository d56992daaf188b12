// Package subscriber держит для каждого пользователя не более одного
// живого канала доставки результатов.
package subscriber

import (
	"sync"

	"github.com/google/uuid"
	"github.com/im7mortal/kmutex"
	"github.com/juju/loggo"

	"prudo-grid/internal/domain"
)

var logger = loggo.GetLogger("prudo.subscriber")

// DefaultBufferSize размер очереди подписчика по умолчанию
const DefaultBufferSize = 8

// Subscription одна регистрация потока. Канал закрывает только Registry:
// при замене новой регистрацией, при Unregister или при Close.
type Subscription struct {
	ID     string
	UserID domain.UserID

	ch chan []byte
	// closed защищён блокировкой ключа UserID в Registry
	closed bool
}

// C канал сообщений. Закрытие канала означает, что поток должен завершиться.
func (s *Subscription) C() <-chan []byte {
	return s.ch
}

func (s *Subscription) close() {
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Registry таблица UserID -> Subscription.
// Операции над одним пользователем сериализуются блокировкой по ключу,
// разные пользователи друг другу не мешают.
type Registry struct {
	keys       *kmutex.Kmutex
	bufferSize int
	metrics    *Collector

	mu     sync.RWMutex
	subs   map[domain.UserID]*Subscription
	closed bool
}

// NewRegistry создаёт пустую таблицу. metrics может быть nil.
func NewRegistry(bufferSize int, metrics *Collector) *Registry {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Registry{
		keys:       kmutex.New(),
		bufferSize: bufferSize,
		metrics:    metrics,
		subs:       make(map[domain.UserID]*Subscription),
	}
}

// Register устанавливает новую подписку для пользователя.
// Предыдущая подписка вытесняется, её канал закрывается.
func (r *Registry) Register(id domain.UserID) *Subscription {
	r.keys.Lock(id)
	defer r.keys.Unlock(id)

	sub := &Subscription{
		ID:     uuid.NewString(),
		UserID: id,
		ch:     make(chan []byte, r.bufferSize),
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		sub.close()
		logger.Debugf("registry closed, subscription %s for %q closed immediately", sub.ID, id)
		return sub
	}
	prev := r.subs[id]
	r.subs[id] = sub
	total := len(r.subs)
	r.mu.Unlock()

	if prev != nil {
		prev.close()
		r.metrics.superseded()
		logger.Infof("subscription %s for %q superseded by %s", prev.ID, id, sub.ID)
	}
	r.metrics.setActive(total)
	logger.Debugf("registered subscription %s for %q, %d active", sub.ID, id, total)
	return sub
}

// Publish ставит сообщение в очередь текущего подписчика, не блокируясь.
// Возвращает false, если подписчика нет или его очередь заполнена;
// в обоих случаях сообщение отбрасывается.
func (r *Registry) Publish(id domain.UserID, msg []byte) bool {
	r.keys.Lock(id)
	defer r.keys.Unlock(id)

	r.mu.RLock()
	sub := r.subs[id]
	r.mu.RUnlock()

	if sub == nil {
		r.metrics.undelivered()
		logger.Debugf("no subscriber for %q, message discarded", id)
		return false
	}

	select {
	case sub.ch <- msg:
		r.metrics.published()
		return true
	default:
		r.metrics.dropped()
		logger.Warningf("queue of subscription %s for %q is full, message dropped", sub.ID, id)
		return false
	}
}

// Unregister удаляет подписку, только если она всё ещё установлена.
// Возвращает true, если запись была удалена.
func (r *Registry) Unregister(id domain.UserID, sub *Subscription) bool {
	r.keys.Lock(id)
	defer r.keys.Unlock(id)

	r.mu.Lock()
	current, ok := r.subs[id]
	removed := ok && current == sub
	if removed {
		delete(r.subs, id)
	}
	total := len(r.subs)
	r.mu.Unlock()

	sub.close()
	if removed {
		r.metrics.setActive(total)
		logger.Debugf("unregistered subscription %s for %q, %d active", sub.ID, id, total)
	}
	return removed
}

// Subscribed сообщает, есть ли у пользователя живой подписчик
func (r *Registry) Subscribed(id domain.UserID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.subs[id]
	return ok
}

// Len число активных подписок
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// Close закрывает все подписки; новые регистрации сразу закрыты.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	subs := r.subs
	r.subs = make(map[domain.UserID]*Subscription)
	r.mu.Unlock()

	for id, sub := range subs {
		r.keys.Lock(id)
		sub.close()
		r.keys.Unlock(id)
	}
	r.metrics.setActive(0)
	logger.Infof("closed %d subscriptions", len(subs))
}

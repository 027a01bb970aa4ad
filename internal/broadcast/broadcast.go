// Package broadcast fans moderation output out to the registered transports.
package broadcast

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-lounge/internal/reply"
	"github.com/ovaphlow/pitchfork/service-lounge/internal/user/entity"
)

var receiverFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "lounge_receiver_failures_total",
	Help: "Number of receiver calls that returned an error or panicked",
}, []string{"receiver", "op"})

var deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "lounge_broadcast_calls_total",
	Help: "Number of broadcaster calls by operation",
}, []string{"op"})

// Delivery is one reply handed to the receivers.
//
// A non-nil Target makes it a private notice. Otherwise it goes to every joined,
// non-blacklisted user except Except. ID and ReplyTo are zero when unset.
type Delivery struct {
	Message reply.Reply
	ID      int64
	Target  *entity.User
	Except  *entity.User
	ReplyTo int64
}

// Private reports whether the delivery has a single recipient.
func (d Delivery) Private() bool { return d.Target != nil }

// Receiver is an output channel such as a chat platform client.
type Receiver interface {
	Reply(d Delivery) error
	Delete(msid int64) error
	StopInvoked(u entity.User, deleteOut bool) error
}

type registered struct {
	name string
	r    Receiver
}

// Broadcaster forwards every call to all receivers in registration order.
type Broadcaster struct {
	mu        sync.RWMutex
	receivers []registered
	logger    *zap.SugaredLogger
}

func New(logger *zap.SugaredLogger) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Broadcaster{logger: logger}
}

// Register appends a receiver. Names label logs and metrics.
func (b *Broadcaster) Register(name string, r Receiver) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.receivers = append(b.receivers, registered{name: name, r: r})
}

func (b *Broadcaster) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.receivers)
}

func (b *Broadcaster) snapshot() []registered {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]registered, len(b.receivers))
	copy(out, b.receivers)
	return out
}

// Reply delivers d to every receiver. Users are copied so receivers never
// share a record with the caller.
func (b *Broadcaster) Reply(d Delivery) {
	deliveries.WithLabelValues("reply").Inc()
	if d.Target != nil {
		d.Target = d.Target.Clone()
	}
	if d.Except != nil {
		d.Except = d.Except.Clone()
	}
	for _, rc := range b.snapshot() {
		b.call(rc, "reply", func() error { return rc.r.Reply(d) })
	}
}

// Delete retracts a delivered message everywhere.
func (b *Broadcaster) Delete(msid int64) {
	deliveries.WithLabelValues("delete").Inc()
	for _, rc := range b.snapshot() {
		b.call(rc, "delete", func() error { return rc.r.Delete(msid) })
	}
}

// StopInvoked tells receivers to stop serving u.
func (b *Broadcaster) StopInvoked(u entity.User, deleteOut bool) {
	deliveries.WithLabelValues("stop").Inc()
	for _, rc := range b.snapshot() {
		b.call(rc, "stop", func() error { return rc.r.StopInvoked(u, deleteOut) })
	}
}

func (b *Broadcaster) call(rc registered, op string, fn func() error) {
	defer func() {
		if p := recover(); p != nil {
			receiverFailures.WithLabelValues(rc.name, op).Inc()
			b.logger.Errorw("receiver panicked", "receiver", rc.name, "op", op, "panic", fmt.Sprint(p))
		}
	}()
	if err := fn(); err != nil {
		receiverFailures.WithLabelValues(rc.name, op).Inc()
		b.logger.Warnw("receiver failed", "receiver", rc.name, "op", op, "err", err)
	}
}

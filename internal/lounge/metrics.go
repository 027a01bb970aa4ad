package lounge

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var joins = promauto.NewCounter(prometheus.CounterOpts{
	Name: "lounge_joins_total",
	Help: "Number of successful joins and rejoins",
})

var admitted = promauto.NewCounter(prometheus.CounterOpts{
	Name: "lounge_messages_admitted_total",
	Help: "Number of user messages that passed admission",
})

var rejections = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "lounge_messages_rejected_total",
	Help: "Number of user messages rejected at admission",
}, []string{"reason"})

var upvotes = promauto.NewCounter(prometheus.CounterOpts{
	Name: "lounge_upvotes_total",
	Help: "Number of karma upvotes given",
})

var moderationActions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "lounge_moderation_actions_total",
	Help: "Number of moderation actions taken",
}, []string{"action"})

var sweepErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "lounge_sweep_errors_total",
	Help: "Number of per-user failures inside scheduled sweeps",
}, []string{"task"})

package matchmaker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	groupsFormed = promauto.With(prometheus.DefaultRegisterer).NewCounter(prometheus.CounterOpts{
		Namespace: "roomd",
		Subsystem: "matchmaker",
		Name:      "groups_formed_total",
		Help:      "Rooms formed by the matchmaker.",
	})
	usersMatched = promauto.With(prometheus.DefaultRegisterer).NewCounter(prometheus.CounterOpts{
		Namespace: "roomd",
		Subsystem: "matchmaker",
		Name:      "users_matched_total",
		Help:      "Users moved from the waitroom into a room.",
	})
	ticksFailed = promauto.With(prometheus.DefaultRegisterer).NewCounter(prometheus.CounterOpts{
		Namespace: "roomd",
		Subsystem: "matchmaker",
		Name:      "collection_pass_failures_total",
		Help:      "Per-collection matchmaking passes that ended in an error.",
	})
)

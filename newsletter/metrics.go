package newsletter

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	subscribeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "newsletter_subscribe_total",
		Help: "Subscription attempts by outcome.",
	}, []string{"outcome"})

	confirmTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "newsletter_confirm_total",
		Help: "Confirmation link visits by outcome.",
	}, []string{"outcome"})

	unsubscribeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "newsletter_unsubscribe_total",
		Help: "Unsubscribe link visits by outcome.",
	}, []string{"outcome"})

	compensationTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "newsletter_compensating_delete_total",
		Help: "Subscribers deleted after their confirmation email failed.",
	}, []string{"result"})
)

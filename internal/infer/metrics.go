package infer

import "github.com/prometheus/client_golang/prometheus"

var requestFailure = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "inferd",
		Subsystem: "request",
		Name:      "failure_total",
		Help:      "Total number of failed generation requests by error class",
	},
	[]string{"err"},
)

func init() {
	prometheus.MustRegister(requestFailure)
}

package server

import "github.com/prometheus/client_golang/prometheus"

var (
	OnlineUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "wechat_online_users",
		Help: "Number of currently authenticated online users",
	})

	RequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wechat_requests_total",
		Help: "Total requests processed by action",
	}, []string{"action"})

	RequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wechat_request_seconds",
		Help:    "Time to process each request action",
		Buckets: prometheus.DefBuckets,
	}, []string{"action"})
)

func init() {
	prometheus.MustRegister(OnlineUsers)
	prometheus.MustRegister(RequestsTotal)
	prometheus.MustRegister(RequestDuration)
}

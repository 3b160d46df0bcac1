package rpcclient

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	rpcRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dripfeed_rpc_requests_total",
			Help: "Total number of RpcClient calls by method",
		},
		[]string{"method"},
	)

	rpcErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dripfeed_rpc_errors_total",
			Help: "Total number of failed RpcClient calls by method",
		},
		[]string{"method"},
	)

	rpcRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dripfeed_rpc_retries_total",
			Help: "Total number of RpcClient retry attempts by method",
		},
		[]string{"method"},
	)

	rpcDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dripfeed_rpc_request_duration_seconds",
			Help:    "Duration of RpcClient calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func methodInc(method string)                       { rpcRequests.WithLabelValues(method).Inc() }
func methodError(method string)                      { rpcErrors.WithLabelValues(method).Inc() }
func retryInc(method string)                         { rpcRetries.WithLabelValues(method).Inc() }
func methodDuration(method string, d time.Duration)  { rpcDuration.WithLabelValues(method).Observe(d.Seconds()) }

package tidemark

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// storeCacheEntries is the live number of pending entries per write-back
// cache, i.e. stores/<name>/numCacheEntries. It is updated synchronously on
// every put, delete and flush.
var storeCacheEntries = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "tidemark",
	Subsystem: "stores",
	Name:      "num_cache_entries",
	Help:      "Live number of pending entries in a write-back cache.",
}, []string{"store"})

var recordsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "tidemark",
	Subsystem: "worker",
	Name:      "records_processed_total",
	Help:      "Records delivered to transform steps.",
}, []string{"topic"})

var commitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "tidemark",
	Subsystem: "worker",
	Name:      "commits_total",
	Help:      "Commit-interval boundaries handled, by outcome.",
}, []string{"outcome"})

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SnapshotCommits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lakehouse_snapshot_commits_total",
		Help: "Total number of snapshot commits, by outcome (ok, conflict, error).",
	}, []string{"outcome"})

	CommitRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lakehouse_commit_retries_total",
		Help: "Total number of commit retries after losing the compare-and-swap race.",
	})

	DataFilesWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lakehouse_data_files_written_total",
		Help: "Total number of data files written, by format.",
	}, []string{"format"})

	BytesWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lakehouse_bytes_written_total",
		Help: "Total bytes of data files written, by format.",
	}, []string{"format"})

	Conversions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lakehouse_conversions_total",
		Help: "Total number of file format conversions, by source and target format.",
	}, []string{"source", "target"})

	QueryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lakehouse_query_duration_seconds",
		Help:    "Duration of SQL query execution.",
		Buckets: prometheus.DefBuckets,
	})

	Queries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lakehouse_queries_total",
		Help: "Total number of SQL queries executed, by outcome (ok, error).",
	}, []string{"outcome"})

	SnapshotsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lakehouse_snapshots_expired_total",
		Help: "Total number of snapshots removed by expiration.",
	})
)

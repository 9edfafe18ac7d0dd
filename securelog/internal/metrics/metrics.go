package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Pipeline metrics
	EventsLogged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "securelog_events_logged_total",
			Help: "Total number of events durably logged",
		},
		[]string{"severity"},
	)

	StageFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "securelog_stage_failures_total",
			Help: "Total number of pipeline stage failures",
		},
		[]string{"stage"},
	)

	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "securelog_queue_depth",
			Help: "Current depth of internal work queues",
		},
		[]string{"queue"},
	)

	ListenerDrops = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "securelog_listener_drops_total",
			Help: "Events dropped because a listener queue was full",
		},
	)

	// Hash chain metrics
	ChainAppendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "securelog_chain_append_duration_seconds",
			Help:    "Duration of hash chain appends including proof-of-work",
			Buckets: prometheus.DefBuckets,
		},
	)

	ChainLength = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "securelog_chain_length",
			Help: "Number of entries in the hash chain",
		},
	)

	// Encryption metrics
	KeyRotations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "securelog_key_rotations_total",
			Help: "Total number of encryption key rotations",
		},
	)

	DecryptFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "securelog_decrypt_failures_total",
			Help: "Total number of records that failed authentication on decrypt",
		},
	)

	// Storage metrics
	StorageWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "securelog_storage_writes_total",
			Help: "Total number of replica writes by location and result",
		},
		[]string{"location", "result"},
	)

	StorageLocationActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "securelog_storage_location_active",
			Help: "Whether a storage location is active (1) or excluded (0)",
		},
		[]string{"location"},
	)

	StorageRepairs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "securelog_storage_repairs_total",
			Help: "Total number of replica repairs by result",
		},
		[]string{"result"},
	)

	// Notification metrics
	Notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "securelog_notifications_total",
			Help: "Total notification attempts by channel and status",
		},
		[]string{"channel", "status"},
	)

	Escalations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "securelog_escalations_total",
			Help: "Total number of escalations scheduled",
		},
	)

	// SIEM metrics
	SIEMEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "securelog_siem_events_total",
			Help: "Total events forwarded per SIEM connector by result",
		},
		[]string{"connector", "result"},
	)

	SIEMBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "securelog_siem_batch_size",
			Help:    "Number of events per SIEM batch flush",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
	)
)

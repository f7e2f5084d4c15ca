package metrics

import (
	"context"
	"sync/atomic"
	"time"
)

// Metrics collects gateway counters
type Metrics struct {
	// Request metrics
	requests            atomic.Int64
	admissionRejections atomic.Int64
	authFailures        atomic.Int64
	decodeFailures      atomic.Int64

	// Record metrics
	recordsAccepted atomic.Int64
	duplicates      atomic.Int64
	bufferEvictions atomic.Int64

	// Dependency metrics
	publishFailures  atomic.Int64
	backendFailures  atomic.Int64
	recordsForwarded atomic.Int64

	// Rate metrics
	acceptedPerSecond atomic.Int64
	lastSecondCount   atomic.Int64

	startTime time.Time
}

func NewMetrics() *Metrics {
	return &Metrics{startTime: time.Now()}
}

// Run updates the per-second rate until ctx is done
func (m *Metrics) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick()
		}
	}
}

func (m *Metrics) tick() {
	current := m.recordsAccepted.Load()
	m.acceptedPerSecond.Store(current - m.lastSecondCount.Swap(current))
}

// Request metrics methods

func (m *Metrics) IncrementRequests()            { m.requests.Add(1) }
func (m *Metrics) IncrementAdmissionRejections() { m.admissionRejections.Add(1) }
func (m *Metrics) IncrementAuthFailures()        { m.authFailures.Add(1) }
func (m *Metrics) IncrementDecodeFailures()      { m.decodeFailures.Add(1) }

func (m *Metrics) GetRequests() int64            { return m.requests.Load() }
func (m *Metrics) GetAdmissionRejections() int64 { return m.admissionRejections.Load() }
func (m *Metrics) GetAuthFailures() int64        { return m.authFailures.Load() }
func (m *Metrics) GetDecodeFailures() int64      { return m.decodeFailures.Load() }

// Record metrics methods

func (m *Metrics) IncrementRecordsAccepted() { m.recordsAccepted.Add(1) }
func (m *Metrics) IncrementDuplicates()      { m.duplicates.Add(1) }
func (m *Metrics) IncrementBufferEvictions() { m.bufferEvictions.Add(1) }

func (m *Metrics) GetRecordsAccepted() int64 { return m.recordsAccepted.Load() }
func (m *Metrics) GetDuplicates() int64      { return m.duplicates.Load() }
func (m *Metrics) GetBufferEvictions() int64 { return m.bufferEvictions.Load() }

// Dependency metrics methods

func (m *Metrics) IncrementPublishFailures() { m.publishFailures.Add(1) }
func (m *Metrics) IncrementBackendFailures() { m.backendFailures.Add(1) }

func (m *Metrics) AddRecordsForwarded(n int) {
	m.recordsForwarded.Add(int64(n))
}

func (m *Metrics) GetPublishFailures() int64  { return m.publishFailures.Load() }
func (m *Metrics) GetBackendFailures() int64  { return m.backendFailures.Load() }
func (m *Metrics) GetRecordsForwarded() int64 { return m.recordsForwarded.Load() }

// Rate metrics methods

func (m *Metrics) GetAcceptedPerSecond() int64 {
	return m.acceptedPerSecond.Load()
}

func (m *Metrics) GetUptime() time.Duration {
	return time.Since(m.startTime)
}

// Snapshot represents a point-in-time snapshot of all metrics
type Snapshot struct {
	Requests            int64 `json:"requests"`
	AdmissionRejections int64 `json:"admission_rejections"`
	AuthFailures        int64 `json:"auth_failures"`
	DecodeFailures      int64 `json:"decode_failures"`

	RecordsAccepted   int64 `json:"records_accepted"`
	Duplicates        int64 `json:"duplicates"`
	BufferEvictions   int64 `json:"buffer_evictions"`
	AcceptedPerSecond int64 `json:"accepted_per_second"`

	PublishFailures  int64 `json:"publish_failures"`
	BackendFailures  int64 `json:"backend_failures"`
	RecordsForwarded int64 `json:"records_forwarded"`

	UptimeSeconds int64 `json:"uptime_seconds"`
	Timestamp     int64 `json:"timestamp"`
}

func (m *Metrics) GetSnapshot() *Snapshot {
	return &Snapshot{
		Requests:            m.GetRequests(),
		AdmissionRejections: m.GetAdmissionRejections(),
		AuthFailures:        m.GetAuthFailures(),
		DecodeFailures:      m.GetDecodeFailures(),
		RecordsAccepted:     m.GetRecordsAccepted(),
		Duplicates:          m.GetDuplicates(),
		BufferEvictions:     m.GetBufferEvictions(),
		AcceptedPerSecond:   m.GetAcceptedPerSecond(),
		PublishFailures:     m.GetPublishFailures(),
		BackendFailures:     m.GetBackendFailures(),
		RecordsForwarded:    m.GetRecordsForwarded(),
		UptimeSeconds:       int64(m.GetUptime().Seconds()),
		Timestamp:           time.Now().Unix(),
	}
}

// Package metrics exposes Prometheus counters for key lifecycle and cipher operations.
//
// The CLI is short-lived, so metrics are not served; they are written to a node-exporter
// textfile after each command when configured.
package metrics

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/quantumauth-io/tpm-encrypt/errs"
)

const (
	Namespace = "tpm_encrypt"

	LabelOperation = "operation"
	LabelStatus    = "status"
	LabelErrorType = "error_type"

	StatusSuccess = "success"
	StatusError   = "error"

	OpGenerate = "generate"
	OpUnseal   = "unseal"
	OpDelete   = "delete"
	OpWipe     = "wipe"
	OpEncrypt  = "encrypt"
	OpDecrypt  = "decrypt"
)

var (
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "operations_total",
			Help:      "Total number of operations by type and status",
		},
		[]string{LabelOperation, LabelStatus},
	)

	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of operations in seconds, TPM round trips included",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{LabelOperation},
	)

	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "errors_total",
			Help:      "Total number of errors by operation and error type",
		},
		[]string{LabelOperation, LabelErrorType},
	)

	BytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "bytes_total",
			Help:      "Plaintext or ciphertext bytes consumed by cipher operations",
		},
		[]string{LabelOperation},
	)
)

var enabled atomic.Bool

func init() {
	enabled.Store(true)
}

func Enable()         { enabled.Store(true) }
func Disable()        { enabled.Store(false) }
func IsEnabled() bool { return enabled.Load() }

// RecordOperation counts op and its duration since start, classifying err.
func RecordOperation(op string, start time.Time, err error) {
	if !IsEnabled() {
		return
	}
	status := StatusSuccess
	if err != nil {
		status = StatusError
		ErrorsTotal.WithLabelValues(op, ErrorType(err)).Inc()
	}
	OperationsTotal.WithLabelValues(op, status).Inc()
	OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func RecordBytes(op string, n int64) {
	if !IsEnabled() || n <= 0 {
		return
	}
	BytesTotal.WithLabelValues(op).Add(float64(n))
}

var errorTypes = []struct {
	err  error
	name string
}{
	{errs.ErrConnectionFailed, "connection_failed"},
	{errs.ErrProvisioningFailed, "provisioning_failed"},
	{errs.ErrSealFailed, "seal_failed"},
	{errs.ErrUnsealFailed, "unseal_failed"},
	{errs.ErrDeleteFailed, "delete_failed"},
	{errs.ErrBadRequest, "bad_request"},
	{errs.ErrInvalidKeyMaterial, "invalid_key_material"},
	{errs.ErrPaddingInvalid, "padding_invalid"},
	{errs.ErrIoFailure, "io_failure"},
	{errs.ErrEntropyUnavailable, "entropy_unavailable"},
}

// ErrorType maps err to a low-cardinality label value.
func ErrorType(err error) string {
	for _, et := range errorTypes {
		if errors.Is(err, et.err) {
			return et.name
		}
	}
	return "other"
}

// WriteTextfile writes every registered metric to path in the text exposition format.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}

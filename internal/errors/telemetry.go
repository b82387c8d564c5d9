package errors

import "sync/atomic"

// TelemetryReporter receives errors worth reporting to an external error tracker.
type TelemetryReporter interface {
	ReportError(err *EnhancedError)
	IsEnabled() bool
}

type reporterHolder struct{ r TelemetryReporter }

var telemetryReporter atomic.Pointer[reporterHolder]

// SetTelemetryReporter installs the global reporter. nil disables reporting.
func SetTelemetryReporter(reporter TelemetryReporter) {
	if reporter == nil {
		telemetryReporter.Store(nil)
		return
	}
	telemetryReporter.Store(&reporterHolder{r: reporter})
}

// GetTelemetryReporter returns the installed reporter, or nil.
func GetTelemetryReporter() TelemetryReporter {
	if h := telemetryReporter.Load(); h != nil {
		return h.r
	}
	return nil
}

// ShouldReport selects the errors sent to telemetry: persistent store
// failures and anything marked critical. Network and cache misses are the
// normal offline path and stay local.
func ShouldReport(ee *EnhancedError) bool {
	return ee.Category == CategoryStorage || ee.Priority == PriorityCritical
}

func reportToTelemetry(ee *EnhancedError) {
	h := telemetryReporter.Load()
	if h == nil || !h.r.IsEnabled() || !ShouldReport(ee) {
		return
	}
	h.r.ReportError(ee)
}

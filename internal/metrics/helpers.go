package metrics

import (
	"time"
)

// Result constants for metric labels
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Effect constants for executor metrics
const (
	EffectFlood          = "flood"
	EffectInstallForward = "install_forward"
	EffectInstallDrop    = "install_drop"
)

// Boundary rejection reasons
const (
	RejectIncomplete = "incomplete"
	RejectNonIP      = "non_ip"
)

func result(err error) string {
	if err != nil {
		return ResultFailure
	}
	return ResultSuccess
}

// RecordDecision records one decision and the time it took
func RecordDecision(action, reason string, duration time.Duration) {
	DecisionsTotal.WithLabelValues(action, reason).Inc()
	DecisionDuration.Observe(duration.Seconds())
}

// RecordRejected records an observation rejected at the boundary
func RecordRejected(reason string) {
	RejectedPacketsTotal.WithLabelValues(reason).Inc()
}

// RecordEffect records a switch effect
//
// Parameters:
//   - effect: flood/install_forward/install_drop
//   - err: The error returned by the switch channel (nil for success)
func RecordEffect(effect string, err error) {
	EffectsTotal.WithLabelValues(effect, result(err)).Inc()
}

// RecordReload records a configuration reload
func RecordReload(err error) {
	ReloadsTotal.WithLabelValues(result(err)).Inc()
}

// RecordProviderLoad records a network spec load
func RecordProviderLoad(provider string, err error, duration time.Duration) {
	ProviderLoadDuration.WithLabelValues(provider, result(err)).Observe(duration.Seconds())
}

// RecordDBConnect records a database connection attempt
func RecordDBConnect(err error) {
	DBConnectAttemptsTotal.WithLabelValues(result(err)).Inc()
}

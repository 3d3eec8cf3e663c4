package service

import (
	"github.com/impcg-clinical-engine/internal/domain"
)

// MEOWS thresholds. Lower bounds are exclusive (value < bound triggers),
// upper bounds inclusive (value >= bound triggers).
const (
	redSystolicLow     = 90.0
	redSystolicHigh    = 160.0
	redDiastolicHigh   = 110.0
	redHeartRateLow    = 50.0
	redHeartRateHigh   = 120.0
	redRespRateLow     = 10.0
	redRespRateHigh    = 30.0
	redTemperatureLow  = 35.0
	redTemperatureHigh = 38.0

	yellowHeartRateLow = 100.0
	yellowSystolicLow  = 140.0
)

// ClassifyTriage maps a snapshot to a triage color. ok is false when the
// snapshot is empty or fails validation; callers must not substitute a
// default color in that case.
//
// The function is pure and cheap; callers re-evaluate it on every change to
// the snapshot rather than only at save time.
func ClassifyTriage(v domain.Vitals) (color domain.TriageColor, ok bool) {
	if v.IsEmpty() || ValidateVitals(v) != nil {
		return "", false
	}

	if isRed(v) {
		return domain.TriageRed, true
	}

	if between(v.HeartRate, yellowHeartRateLow, redHeartRateHigh) ||
		between(v.SystolicBP, yellowSystolicLow, redSystolicHigh) {
		return domain.TriageYellow, true
	}

	return domain.TriageGreen, true
}

func isRed(v domain.Vitals) bool {
	if v.Consciousness.Normalized() != domain.ConsciousnessAlert {
		return true
	}
	return outside(v.SystolicBP, redSystolicLow, redSystolicHigh) ||
		atLeast(v.DiastolicBP, redDiastolicHigh) ||
		outside(v.HeartRate, redHeartRateLow, redHeartRateHigh) ||
		outside(v.RespiratoryRate, redRespRateLow, redRespRateHigh) ||
		outside(v.Temperature, redTemperatureLow, redTemperatureHigh)
}

// outside reports v < low or v >= high for a present value.
func outside(v *float64, low, high float64) bool {
	return v != nil && (*v < low || *v >= high)
}

func atLeast(v *float64, bound float64) bool {
	return v != nil && *v >= bound
}

// between reports low <= v < high for a present value.
func between(v *float64, low, high float64) bool {
	return v != nil && *v >= low && *v < high
}

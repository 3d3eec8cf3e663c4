package service

import (
	"github.com/impcg-clinical-engine/internal/domain"
)

// ValidateVitals checks a partially filled snapshot. It returns a
// *domain.ValidationError when systolic is below diastolic; absent fields
// are never a violation.
func ValidateVitals(v domain.Vitals) error {
	if v.SystolicBP != nil && v.DiastolicBP != nil && *v.SystolicBP < *v.DiastolicBP {
		return domain.NewValidationError("systolic_bp", "Systolic BP cannot be lower than Diastolic", *v.SystolicBP)
	}
	if !v.Consciousness.Normalized().IsValid() {
		return domain.NewValidationError("consciousness", "Unknown consciousness level", string(v.Consciousness))
	}
	return nil
}

// RangeWarning flags a value outside the physiologically plausible range for
// its field. Warnings are advisory and never suppress classification.
type RangeWarning struct {
	Field string  `json:"field"`
	Value float64 `json:"value"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

type plausibleRange struct {
	field    string
	min, max float64
	value    func(domain.Vitals) *float64
}

var plausibleRanges = []plausibleRange{
	{"systolic_bp", 60, 250, func(v domain.Vitals) *float64 { return v.SystolicBP }},
	{"diastolic_bp", 30, 150, func(v domain.Vitals) *float64 { return v.DiastolicBP }},
	{"heart_rate", 30, 200, func(v domain.Vitals) *float64 { return v.HeartRate }},
	{"respiratory_rate", 8, 60, func(v domain.Vitals) *float64 { return v.RespiratoryRate }},
	{"temperature", 35, 42, func(v domain.Vitals) *float64 { return v.Temperature }},
}

// CheckPlausibility returns a warning for every present field outside its
// plausible range, in a fixed field order.
func CheckPlausibility(v domain.Vitals) []RangeWarning {
	var warnings []RangeWarning
	for _, r := range plausibleRanges {
		val := r.value(v)
		if val == nil {
			continue
		}
		if *val < r.min || *val > r.max {
			warnings = append(warnings, RangeWarning{Field: r.field, Value: *val, Min: r.min, Max: r.max})
		}
	}
	return warnings
}

package domain

import (
	"time"
)

// Vitals is a partially filled vital-signs snapshot. A nil field has not
// been entered yet, which is a valid state rather than an error.
type Vitals struct {
	SystolicBP      *float64      `json:"systolic_bp,omitempty"`
	DiastolicBP     *float64      `json:"diastolic_bp,omitempty"`
	HeartRate       *float64      `json:"heart_rate,omitempty"`
	RespiratoryRate *float64      `json:"respiratory_rate,omitempty"`
	Temperature     *float64      `json:"temperature,omitempty"`
	Consciousness   Consciousness `json:"consciousness"`
}

// IsEmpty reports whether nothing has been entered: every measurement is
// absent and consciousness is still the ALERT default.
func (v Vitals) IsEmpty() bool {
	return v.SystolicBP == nil &&
		v.DiastolicBP == nil &&
		v.HeartRate == nil &&
		v.RespiratoryRate == nil &&
		v.Temperature == nil &&
		v.Consciousness.Normalized() == ConsciousnessAlert
}

// PatientRecord is a saved triage encounter. Records are created only on an
// explicit save and never edited afterwards.
type PatientRecord struct {
	ID                  string      `json:"id"`
	Timestamp           time.Time   `json:"timestamp"`
	Vitals              Vitals      `json:"vitals"`
	TriageResult        TriageColor `json:"triage_result"`
	Notes               string      `json:"notes,omitempty"`
	Synced              bool        `json:"synced"`
	GestationalAgeWeeks *int        `json:"gestational_age_weeks,omitempty"`
}

// PatientStats summarises the saved encounters for the current device.
type PatientStats struct {
	HighRisk int `json:"high_risk"` // RED + YELLOW
	LowRisk  int `json:"low_risk"`  // GREEN
	Total    int `json:"total"`
}

// LaborDataPoint is one cervical-dilation observation on the partogram.
// HoursFromStart is relative to the active-phase origin and is recomputed
// whenever the origin moves.
type LaborDataPoint struct {
	DilationCm     int       `json:"dilation_cm"`
	ObservedAt     time.Time `json:"observed_at"`
	HoursFromStart float64   `json:"hours_from_start"`
}

// PartogramState is the persisted labour-progress series. Points are kept
// sorted by HoursFromStart ascending.
type PartogramState struct {
	ActivePhaseStart *time.Time       `json:"start,omitempty"`
	Points           []LaborDataPoint `json:"points"`
}

// IsEmpty reports whether no origin has been established.
func (s PartogramState) IsEmpty() bool {
	return s.ActivePhaseStart == nil && len(s.Points) == 0
}

// PPHSession is the persisted postpartum-haemorrhage emergency timer.
//
// IsActive=false with StartTime=nil is the canonical cleared state.
// IsActive=true always carries a StartTime. IsRefractory only ever moves
// from false to true while the session is active.
type PPHSession struct {
	IsActive     bool       `json:"is_active"`
	StartTime    *time.Time `json:"start_time,omitempty"`
	ActionsTaken []string   `json:"actions_taken"`
	IsRefractory bool       `json:"is_refractory"`
}

// IsCleared reports whether the session is in the canonical ended state.
func (s PPHSession) IsCleared() bool {
	return !s.IsActive && s.StartTime == nil
}

// HasAction reports whether the action tag has been marked done.
func (s PPHSession) HasAction(tag string) bool {
	for _, a := range s.ActionsTaken {
		if a == tag {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers cannot mutate engine state.
func (s PPHSession) Clone() PPHSession {
	out := s
	if s.StartTime != nil {
		t := *s.StartTime
		out.StartTime = &t
	}
	out.ActionsTaken = append([]string(nil), s.ActionsTaken...)
	return out
}

// GuidelineChunk is one searchable unit of static guideline content.
type GuidelineChunk struct {
	ID      string   `json:"id" yaml:"id"`
	Title   string   `json:"title" yaml:"title"`
	Content string   `json:"content" yaml:"content"`
	Page    int      `json:"page" yaml:"page"`
	Tags    []string `json:"tags" yaml:"tags"`
}

// ProtocolCategory groups drug and protocol reference entries.
type ProtocolCategory string

const (
	CategoryEmergencyDrug ProtocolCategory = "Emergency Drug"
	CategoryProcedure     ProtocolCategory = "Procedure"
	CategoryProtocol      ProtocolCategory = "Protocol"
)

// ProtocolItem is a drug or protocol reference entry. Drugs carry dosage
// fields; procedures and protocols carry steps.
type ProtocolItem struct {
	ID          string           `json:"id" yaml:"id"`
	Category    ProtocolCategory `json:"category" yaml:"category"`
	Title       string           `json:"title" yaml:"title"`
	DosageIV    string           `json:"dosage_iv,omitempty" yaml:"dosage_iv"`
	Rate        string           `json:"rate,omitempty" yaml:"rate"`
	Indications []string         `json:"indications,omitempty" yaml:"indications"`
	Steps       []string         `json:"steps,omitempty" yaml:"steps"`
	PDFRef      string           `json:"pdf_ref" yaml:"pdf_ref"`
	Warning     string           `json:"warning,omitempty" yaml:"warning"`
}

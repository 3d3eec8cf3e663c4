// Package domain contains the core clinical entities shared by the IMPCG
// decision-support engine: vital-sign snapshots, triage colors, antenatal
// hypertension risk tiers, partogram observations and the PPH emergency
// session.
//
// Reference: South African Integrated Maternal and Perinatal Care Guidelines
// (IMPCG 2024), MEOWS triage chart and E-MOTIVE PPH bundle.
package domain

import (
	"errors"
	"fmt"
)

// TriageColor is the three-level acuity signal derived from a vitals snapshot.
// It is never stored independently of the snapshot it was computed from.
type TriageColor string

const (
	TriageGreen  TriageColor = "GREEN"
	TriageYellow TriageColor = "YELLOW"
	TriageRed    TriageColor = "RED"
)

// RiskLevel is the BANC hypertensive-disorder risk tier.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// Consciousness is the AVPU level of responsiveness.
type Consciousness string

const (
	ConsciousnessAlert        Consciousness = "ALERT"
	ConsciousnessVoice        Consciousness = "VOICE"
	ConsciousnessPain         Consciousness = "PAIN"
	ConsciousnessUnresponsive Consciousness = "UNRESPONSIVE"
)

// AuditKind names the category of an audit trail event.
type AuditKind string

const (
	AuditViewProtocol       AuditKind = "VIEW_PROTOCOL"
	AuditGenerateReferral   AuditKind = "GENERATE_REFERRAL"
	AuditClinicalAction     AuditKind = "CLINICAL_ACTION"
	AuditRiskAssessment     AuditKind = "RISK_ASSESSMENT"
	AuditTriageSaved        AuditKind = "TRIAGE_SAVED"
	AuditMomConnectRegister AuditKind = "MOMCONNECT_REGISTER"
)

// Sentinel errors for clinical state operations
var (
	ErrNotFound             = errors.New("not found")
	ErrInvalidTriageColor   = errors.New("invalid triage color")
	ErrInvalidRiskLevel     = errors.New("invalid risk level")
	ErrInvalidConsciousness = errors.New("invalid consciousness level")
	ErrNoClassification     = errors.New("no classification available for the current vitals")
	ErrInvalidRiskInput     = errors.New("systolic and diastolic must both be whole numbers")
	ErrInvalidDilation      = errors.New("dilation must be between 0 and 10 cm")
	ErrInvalidTimeOfDay     = errors.New("observation time must be HH:MM")
	ErrSessionGated         = errors.New("a previous PPH session is awaiting a resume or discard decision")
	ErrNoActiveSession      = errors.New("no active PPH session")
	ErrSessionAlreadyActive = errors.New("a PPH session is already active")
	ErrNoPendingSession     = errors.New("no PPH session is awaiting a decision")
	ErrConfirmationRequired = errors.New("explicit confirmation is required for this action")
	ErrUnknownAction        = errors.New("unknown PPH action")
	ErrInvalidSAID          = errors.New("SA ID number must be exactly 13 digits")
	ErrAssistantUnavailable = errors.New("guideline assistant unavailable")
)

// IsValid reports whether the color is one of the three triage levels.
func (c TriageColor) IsValid() bool {
	switch c {
	case TriageGreen, TriageYellow, TriageRed:
		return true
	default:
		return false
	}
}

// String returns the string representation of TriageColor
func (c TriageColor) String() string {
	return string(c)
}

// IsHighRisk reports whether the color counts toward the shift's high-risk tally.
func (c TriageColor) IsHighRisk() bool {
	return c == TriageRed || c == TriageYellow
}

// ParseTriageColor converts a string to TriageColor with validation
func ParseTriageColor(s string) (TriageColor, error) {
	c := TriageColor(s)
	if !c.IsValid() {
		return "", fmt.Errorf("%w: %s", ErrInvalidTriageColor, s)
	}
	return c, nil
}

// IsValid reports whether the level is one of the three BANC tiers.
func (r RiskLevel) IsValid() bool {
	switch r {
	case RiskLow, RiskHigh, RiskCritical:
		return true
	default:
		return false
	}
}

// String returns the string representation of RiskLevel
func (r RiskLevel) String() string {
	return string(r)
}

// IsValid reports whether the AVPU level is recognised.
func (c Consciousness) IsValid() bool {
	switch c {
	case ConsciousnessAlert, ConsciousnessVoice, ConsciousnessPain, ConsciousnessUnresponsive:
		return true
	default:
		return false
	}
}

// Normalized maps the unset value to ALERT, the form default.
func (c Consciousness) Normalized() Consciousness {
	if c == "" {
		return ConsciousnessAlert
	}
	return c
}

// ParseConsciousness converts a string to Consciousness with validation.
// The empty string yields ALERT.
func ParseConsciousness(s string) (Consciousness, error) {
	c := Consciousness(s).Normalized()
	if !c.IsValid() {
		return "", fmt.Errorf("%w: %s", ErrInvalidConsciousness, s)
	}
	return c, nil
}

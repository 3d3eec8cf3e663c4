package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/impcg-clinical-engine/internal/domain"
	"github.com/impcg-clinical-engine/internal/metrics"
)

// RiskInput is a parsed BANC hypertension screen.
type RiskInput struct {
	Systolic            int  `json:"systolic"`
	Diastolic           int  `json:"diastolic"`
	ProteinDipstick     int  `json:"protein_dipstick"` // 0=Neg, 1..3 = 1+..3+
	GestationalAgeWeeks *int `json:"gestational_age_weeks,omitempty"`
}

// RiskGuidance is the headline and next action shown for a tier.
type RiskGuidance struct {
	Title  string `json:"title"`
	Action string `json:"action"`
}

// RiskAssessment is the result of a BANC screen.
type RiskAssessment struct {
	Level    domain.RiskLevel `json:"level"`
	Guidance RiskGuidance     `json:"guidance"`
	Input    RiskInput        `json:"input"`
}

// ParseRiskInput converts the raw text fields of the screen. Both blood
// pressure values must be whole numbers; gestational age may be blank.
func ParseRiskInput(systolic, diastolic string, protein int, gestationalAge string) (RiskInput, error) {
	sys, err := strconv.Atoi(strings.TrimSpace(systolic))
	if err != nil {
		return RiskInput{}, fmt.Errorf("%w: systolic %q", domain.ErrInvalidRiskInput, systolic)
	}
	dia, err := strconv.Atoi(strings.TrimSpace(diastolic))
	if err != nil {
		return RiskInput{}, fmt.Errorf("%w: diastolic %q", domain.ErrInvalidRiskInput, diastolic)
	}

	in := RiskInput{Systolic: sys, Diastolic: dia, ProteinDipstick: protein}
	if ga, err := strconv.Atoi(strings.TrimSpace(gestationalAge)); err == nil {
		in.GestationalAgeWeeks = &ga
	}

	if err := in.Validate(); err != nil {
		return RiskInput{}, err
	}
	return in, nil
}

// Validate checks the dipstick reading is on the 0..3 scale.
func (in RiskInput) Validate() error {
	if in.ProteinDipstick < 0 || in.ProteinDipstick > 3 {
		return domain.NewValidationError("protein_dipstick", "Protein dipstick must be between 0 and 3", in.ProteinDipstick)
	}
	return nil
}

// ClassifyRisk applies the BANC tiers. Gestational age is deliberately not an
// input: it is recorded alongside the result but never changes the tier,
// and a 1+ dipstick is treated the same as negative.
func ClassifyRisk(systolic, diastolic, proteinDipstick int) domain.RiskLevel {
	switch {
	case systolic >= 160 || diastolic >= 110:
		return domain.RiskCritical
	case (systolic >= 140 || diastolic >= 90) && proteinDipstick >= 2:
		return domain.RiskHigh
	default:
		return domain.RiskLow
	}
}

// GuidanceFor returns the result-card text for a tier.
func GuidanceFor(level domain.RiskLevel) RiskGuidance {
	switch level {
	case domain.RiskCritical:
		return RiskGuidance{Title: "SEVERE HYPERTENSION / ECLAMPSIA RISK", Action: "START MAGNESIUM SULPHATE"}
	case domain.RiskHigh:
		return RiskGuidance{Title: "POSSIBLE PRE-ECLAMPSIA", Action: "REFER TO HOSPITAL TODAY"}
	default:
		return RiskGuidance{Title: "ROUTINE ANC", Action: "CONTINUE STANDARD CARE"}
	}
}

// RiskService runs BANC assessments and records them in the audit trail.
type RiskService struct {
	audit  domain.AuditRecorder
	logger *logrus.Logger
}

// NewRiskService creates a new risk service
func NewRiskService(audit domain.AuditRecorder, logger *logrus.Logger) *RiskService {
	return &RiskService{audit: audit, logger: logger}
}

// Assess classifies the input and emits a RISK_ASSESSMENT audit event.
func (s *RiskService) Assess(ctx context.Context, in RiskInput) (*RiskAssessment, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	level := ClassifyRisk(in.Systolic, in.Diastolic, in.ProteinDipstick)
	metrics.IncRisk(string(level))

	ga := "Unspecified"
	if in.GestationalAgeWeeks != nil {
		ga = fmt.Sprintf("%dw", *in.GestationalAgeWeeks)
	}

	s.logger.WithFields(logrus.Fields{
		"systolic":  in.Systolic,
		"diastolic": in.Diastolic,
		"protein":   in.ProteinDipstick,
		"ga":        ga,
		"risk":      level,
	}).Debug("BANC risk calculated")

	s.audit.Record(ctx, domain.AuditRiskAssessment,
		fmt.Sprintf("Calculated BANC Risk: %s. Inputs: BP %d/%d, Protein %d+, GA: %s",
			level, in.Systolic, in.Diastolic, in.ProteinDipstick, ga),
		"")

	return &RiskAssessment{Level: level, Guidance: GuidanceFor(level), Input: in}, nil
}

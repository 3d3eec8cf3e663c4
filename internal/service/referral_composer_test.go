package service

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/impcg-clinical-engine/internal/domain"
	"github.com/impcg-clinical-engine/internal/repository"
	"github.com/impcg-clinical-engine/internal/storage"
)

func referralRecord(color domain.TriageColor, v domain.Vitals) domain.PatientRecord {
	return domain.PatientRecord{
		ID:           "rec-42",
		Timestamp:    time.Date(2026, 10, 15, 14, 5, 0, 0, time.UTC),
		Vitals:       v,
		TriageResult: color,
	}
}

func TestComposeReferral_Red(t *testing.T) {
	v := domain.Vitals{
		SystolicBP:      fptr(82),
		DiastolicBP:     fptr(50),
		HeartRate:       fptr(128),
		RespiratoryRate: fptr(26),
		Temperature:     fptr(36.5),
		Consciousness:   domain.ConsciousnessVoice,
	}

	ref := ComposeReferral(referralRecord(domain.TriageRed, v), time.UTC)

	expected := `**URGENT REFERRAL NOTE**
Time: 2026-10-15 14:05

SITUATION:
Classification: RED (CRITICAL)

VITALS:
BP: 82/50 mmHg
HR: 128 bpm
RR: 26 /min
Temp: 36.5 °C
Consciousness: VOICE

ASSESSMENT:
CRITICAL: Patient exhibits signs of hemodynamic instability or severe distress.

RECOMMENDATION:
URGENT AMBULANCE TRANSFER REQUIRED. Please accept patient for stabilization.`

	assert.Equal(t, expected, ref.Text)
	assert.False(t, ref.HasMissingData)
	assert.Equal(t, "rec-42", ref.RecordID)
}

func TestComposeReferral_MissingFields(t *testing.T) {
	v := domain.Vitals{SystolicBP: fptr(150), HeartRate: fptr(104)}

	ref := ComposeReferral(referralRecord(domain.TriageYellow, v), nil)

	assert.Equal(t, MissingMarker, ref.BP, "BP needs both values")
	assert.Equal(t, "104 bpm", ref.HR)
	assert.Equal(t, MissingMarker, ref.RR)
	assert.Equal(t, MissingMarker, ref.Temp)
	assert.Equal(t, "ALERT", ref.AVPU)
	assert.True(t, ref.HasMissingData)
	assert.Equal(t, "URGENT: Abnormal vitals detected requiring medical review.", ref.Assessment)
	assert.Equal(t, "Review at District Hospital.", ref.Recommendation)
	assert.Contains(t, ref.Text, "Classification: YELLOW (Observation)")
}

func TestComposeReferral_GreenAndDeterministic(t *testing.T) {
	rec := referralRecord(domain.TriageGreen, normalVitals())

	first := ComposeReferral(rec, time.UTC)
	second := ComposeReferral(rec, time.UTC)

	assert.Equal(t, first, second)
	assert.Equal(t, "Routine referral.", first.Assessment)
	assert.Equal(t, "Review at District Hospital.", first.Recommendation)
}

func TestComposeReferral_TimeInLocation(t *testing.T) {
	ref := ComposeReferral(referralRecord(domain.TriageGreen, normalVitals()), time.FixedZone("SAST", 2*60*60))
	assert.Equal(t, "2026-10-15 16:05", ref.Time)
}

func TestReferralService_Generate(t *testing.T) {
	ctx := context.Background()
	logger, _ := test.NewNullLogger()
	records := repository.NewPatientRepository(storage.NewMemoryStore(), logger)
	require.NoError(t, records.Save(ctx, referralRecord(domain.TriageRed, normalVitals())))

	audit := new(MockAuditRecorder)
	audit.On("Record", ctx, domain.AuditGenerateReferral, "Referral generated for Patient rec-42. Triage: RED", "rec-42").Return()

	svc := NewReferralService(records, audit, time.UTC, logger)

	ref, err := svc.Generate(ctx, "rec-42")
	require.NoError(t, err)
	assert.Equal(t, domain.TriageRed, ref.TriageResult)
	audit.AssertExpectations(t)

	_, err = svc.Generate(ctx, "unknown")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	audit.AssertNumberOfCalls(t, "Record", 1)
}

func TestReferralService_RecordShare(t *testing.T) {
	ctx := context.Background()
	logger, _ := test.NewNullLogger()
	records := repository.NewPatientRepository(storage.NewMemoryStore(), logger)
	require.NoError(t, records.Save(ctx, referralRecord(domain.TriageYellow, normalVitals())))

	audit := &recordingAudit{}
	svc := NewReferralService(records, audit, time.UTC, logger)

	require.NoError(t, svc.RecordShare(ctx, "rec-42", ShareNative))
	require.NoError(t, svc.RecordShare(ctx, "rec-42", ShareCopy))
	assert.ErrorIs(t, svc.RecordShare(ctx, "missing", ShareCopy), domain.ErrNotFound)

	assert.Equal(t, []string{
		"Shared referral note for Patient rec-42",
		"Copied referral note for Patient rec-42",
	}, audit.Details())
	assert.Equal(t, domain.AuditClinicalAction, audit.events[0].Kind)
	assert.Equal(t, "rec-42", audit.events[1].SubjectID)
}

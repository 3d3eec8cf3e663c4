package service

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/impcg-clinical-engine/internal/domain"
)

func TestValidSAID(t *testing.T) {
	assert.True(t, ValidSAID("9001015800085"))
	assert.False(t, ValidSAID("900101580008"))
	assert.False(t, ValidSAID("90010158000856"))
	assert.False(t, ValidSAID("90010158000A5"))
	assert.False(t, ValidSAID(""))
}

func TestMomConnectService_Register(t *testing.T) {
	ctx := context.Background()
	logger, _ := test.NewNullLogger()

	t.Run("Valid registration", func(t *testing.T) {
		audit := new(MockAuditRecorder)
		audit.On("Record", ctx, domain.AuditMomConnectRegister,
			"Registration initiated. ID: ...800085, Facility: N/A", "").Return()

		reg, err := NewMomConnectService(audit, logger).Register(ctx, MomConnectRequest{
			IDNumber:  "9001015800085",
			Confirmed: true,
		})

		require.NoError(t, err)
		assert.Equal(t, "*134*550*9001015800085#", reg.USSD)
		assert.Equal(t, "tel:*134*550*9001015800085%23", reg.DialURI)
		audit.AssertExpectations(t)
	})

	t.Run("Facility code is logged", func(t *testing.T) {
		audit := new(MockAuditRecorder)
		audit.On("Record", ctx, domain.AuditMomConnectRegister,
			"Registration initiated. ID: ...800085, Facility: GP-0142", "").Return()

		_, err := NewMomConnectService(audit, logger).Register(ctx, MomConnectRequest{
			IDNumber:     "9001015800085",
			FacilityCode: "GP-0142",
			Confirmed:    true,
		})

		require.NoError(t, err)
		audit.AssertExpectations(t)
	})

	t.Run("Invalid ID", func(t *testing.T) {
		audit := new(MockAuditRecorder)
		_, err := NewMomConnectService(audit, logger).Register(ctx, MomConnectRequest{IDNumber: "12345", Confirmed: true})

		assert.ErrorIs(t, err, domain.ErrInvalidSAID)
		audit.AssertNotCalled(t, "Record", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Requires confirmation", func(t *testing.T) {
		audit := new(MockAuditRecorder)
		_, err := NewMomConnectService(audit, logger).Register(ctx, MomConnectRequest{IDNumber: "9001015800085"})

		assert.ErrorIs(t, err, domain.ErrConfirmationRequired)
		audit.AssertNotCalled(t, "Record", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

package service

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/impcg-clinical-engine/internal/domain"
)

// MomConnectShortCode is the USSD service prefix for registration.
const MomConnectShortCode = "*134*550*"

// MomConnectRequest carries the registration form.
type MomConnectRequest struct {
	IDNumber     string `json:"id_number"`
	Phone        string `json:"phone,omitempty"`
	EDD          string `json:"edd,omitempty"`
	FacilityCode string `json:"facility_code,omitempty"`
	Confirmed    bool   `json:"confirmed"`
}

// MomConnectRegistration is the dialable registration code.
type MomConnectRegistration struct {
	USSD    string `json:"ussd"`
	DialURI string `json:"dial_uri"`
}

// ValidSAID reports whether id is exactly 13 digits.
func ValidSAID(id string) bool {
	if len(id) != 13 {
		return false
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

var ussdEscaper = strings.NewReplacer("#", "%23")

// MomConnectService prepares USSD registrations with the national
// maternal messaging service.
type MomConnectService struct {
	audit  domain.AuditRecorder
	logger *logrus.Logger
}

// NewMomConnectService creates a new MomConnect service
func NewMomConnectService(audit domain.AuditRecorder, logger *logrus.Logger) *MomConnectService {
	return &MomConnectService{audit: audit, logger: logger}
}

// Register validates the ID and returns the USSD string to dial. Only the
// last six ID digits are written to the audit trail.
func (s *MomConnectService) Register(ctx context.Context, req MomConnectRequest) (MomConnectRegistration, error) {
	id := strings.TrimSpace(req.IDNumber)
	if !ValidSAID(id) {
		return MomConnectRegistration{}, domain.ErrInvalidSAID
	}
	if !req.Confirmed {
		return MomConnectRegistration{}, domain.ErrConfirmationRequired
	}

	ussd := MomConnectShortCode + id + "#"

	facility := strings.TrimSpace(req.FacilityCode)
	if facility == "" {
		facility = "N/A"
	}
	s.audit.Record(ctx, domain.AuditMomConnectRegister,
		"Registration initiated. ID: ..."+id[len(id)-6:]+", Facility: "+facility, "")

	s.logger.WithField("facility", facility).Info("MomConnect registration initiated")

	return MomConnectRegistration{
		USSD:    ussd,
		DialURI: "tel:" + ussdEscaper.Replace(ussd),
	}, nil
}

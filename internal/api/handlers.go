package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/impcg-clinical-engine/internal/domain"
	"github.com/impcg-clinical-engine/internal/report"
	"github.com/impcg-clinical-engine/internal/service"
	"github.com/impcg-clinical-engine/pkg/external"
)

// ClassifyResponse is the live triage result for a vitals snapshot.
// Triage is nil while the snapshot is empty.
type ClassifyResponse struct {
	Triage   *domain.TriageColor    `json:"triage"`
	Warnings []service.RangeWarning `json:"warnings"`
}

func (s *Server) handleClassify(c *gin.Context) {
	var v domain.Vitals
	if err := c.ShouldBindJSON(&v); err != nil {
		s.badRequest(c, err)
		return
	}
	if err := service.ValidateVitals(v); err != nil {
		s.writeError(c, err)
		return
	}

	resp := ClassifyResponse{Warnings: service.CheckPlausibility(v)}
	if resp.Warnings == nil {
		resp.Warnings = []service.RangeWarning{}
	}
	if color, ok := service.ClassifyTriage(v); ok {
		resp.Triage = &color
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleSaveEncounter(c *gin.Context) {
	var req service.EncounterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	record, err := s.app.Encounters.Save(c.Request.Context(), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, record)
}

func (s *Server) handleClearTriage(c *gin.Context) {
	s.app.Encounters.Clear(c.Request.Context())
	c.Status(http.StatusNoContent)
}

// RiskRequest is the BANC screen as typed into the form.
type RiskRequest struct {
	Systolic        string `json:"systolic"`
	Diastolic       string `json:"diastolic"`
	ProteinDipstick int    `json:"protein_dipstick"`
	GestationalAge  string `json:"gestational_age"`
}

func (s *Server) handleRisk(c *gin.Context) {
	var req RiskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	in, err := service.ParseRiskInput(req.Systolic, req.Diastolic, req.ProteinDipstick, req.GestationalAge)
	if err != nil {
		s.writeError(c, err)
		return
	}
	result, err := s.app.Risk.Assess(c.Request.Context(), in)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleListRecords(c *gin.Context) {
	limit := -1
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.badRequest(c, fmt.Errorf("invalid limit %q", raw))
			return
		}
		limit = n
	}
	c.JSON(http.StatusOK, gin.H{"records": s.app.Patients.Recent(c.Request.Context(), limit)})
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.app.Patients.Stats(c.Request.Context()))
}

func (s *Server) handleGetRecord(c *gin.Context) {
	record, err := s.app.Patients.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func (s *Server) handleReferral(c *gin.Context) {
	ref, err := s.app.Referrals.Generate(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ref)
}

func (s *Server) handleReferralPDF(c *gin.Context) {
	ref, err := s.app.Referrals.Generate(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	pdf, err := report.RenderReferralPDF(ref)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="referral-%s.pdf"`, ref.RecordID))
	c.Data(http.StatusOK, "application/pdf", pdf)
}

func (s *Server) handleShareReferral(c *gin.Context) {
	var req struct {
		Method service.ShareMethod `json:"method"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	if req.Method != service.ShareNative && req.Method != service.ShareCopy {
		s.badRequest(c, fmt.Errorf("method must be %q or %q", service.ShareNative, service.ShareCopy))
		return
	}
	if err := s.app.Referrals.RecordShare(c.Request.Context(), c.Param("id"), req.Method); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleExportRecords(c *gin.Context) {
	records := s.app.Patients.All(c.Request.Context())
	out, err := report.RenderRecordsXLSX(records, s.app.Location)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="encounters.xlsx"`)
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", out)
}

func (s *Server) handlePartogram(c *gin.Context) {
	c.JSON(http.StatusOK, s.app.Partogram.View())
}

// ObservationRequest plots one dilation reading at a time of day.
type ObservationRequest struct {
	DilationCm int    `json:"dilation_cm"`
	Time       string `json:"time"`
}

func (s *Server) handleAddObservation(c *gin.Context) {
	var req ObservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	view, err := s.app.Partogram.AddObservation(c.Request.Context(), req.DilationCm, req.Time)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) handleResetPartogram(c *gin.Context) {
	confirmed := c.Query("confirm") == "true"
	if err := s.app.Partogram.Reset(c.Request.Context(), confirmed); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.app.Partogram.View())
}

func (s *Server) handlePPHStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.app.PPH.Status())
}

func (s *Server) handlePPHCatalogue(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"actions": service.PPHActions})
}

func (s *Server) handlePPHResume(c *gin.Context) {
	status, err := s.app.PPH.Resume(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) handlePPHDiscard(c *gin.Context) {
	if err := s.app.PPH.Discard(c.Request.Context()); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.app.PPH.Status())
}

func (s *Server) handlePPHStart(c *gin.Context) {
	status, err := s.app.PPH.Start(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) handlePPHToggle(c *gin.Context) {
	status, err := s.app.PPH.ToggleAction(c.Request.Context(), c.Param("tag"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) handlePPHEnd(c *gin.Context) {
	var req struct {
		Confirm bool `json:"confirm"`
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			s.badRequest(c, err)
			return
		}
	}
	status, err := s.app.PPH.End(c.Request.Context(), req.Confirm)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) handleSearch(c *gin.Context) {
	var results []domain.GuidelineChunk
	if tag := c.Query("tag"); tag != "" {
		results = s.app.Guidelines.TagSearch(c.Request.Context(), tag)
	} else {
		results = s.app.Guidelines.Search(c.Query("q"))
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (s *Server) handleViewGuideline(c *gin.Context) {
	chunk, err := s.app.Guidelines.View(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, chunk)
}

func (s *Server) handleDrugs(c *gin.Context) {
	page := 1
	if raw := c.Query("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			s.badRequest(c, fmt.Errorf("invalid page %q", raw))
			return
		}
		page = n
	}
	c.JSON(http.StatusOK, s.app.Drugs.Page(c.Query("q"), page))
}

func (s *Server) handleProtocols(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"items": s.app.Drugs.Protocols()})
}

func (s *Server) handleProtocol(c *gin.Context) {
	item, err := s.app.Drugs.Item(c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (s *Server) handleMomConnect(c *gin.Context) {
	var req service.MomConnectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	reg, err := s.app.MomConnect.Register(c.Request.Context(), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, reg)
}

func (s *Server) handleAuditEntries(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.badRequest(c, fmt.Errorf("invalid limit %q", raw))
			return
		}
		limit = n
	}
	entries, err := s.app.Audit.Entries(c.Request.Context(), limit)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (s *Server) handleAuditVerify(c *gin.Context) {
	rep, err := s.app.Audit.Verify(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}

// handleAssistant proxies a guideline question to the AI assistant. It keeps
// the proxy's plain {"error": ...} body so existing clients keep working.
func (s *Server) handleAssistant(c *gin.Context) {
	var req struct {
		Question string `json:"question"`
	}
	_ = c.ShouldBindJSON(&req)

	question := strings.TrimSpace(req.Question)
	if question == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing question"})
		return
	}

	text, err := s.app.Assistant.Ask(c.Request.Context(), question)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"text": text})
	case errors.Is(err, external.ErrMissingAPIKey):
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Missing GEMINI_API_KEY on server"})
	case errors.Is(err, domain.ErrAssistantUnavailable):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		s.logger.WithError(err).Error("Assistant proxy failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

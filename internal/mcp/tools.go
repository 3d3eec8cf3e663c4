package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/impcg-clinical-engine/internal/app"
	"github.com/impcg-clinical-engine/internal/domain"
	"github.com/impcg-clinical-engine/internal/service"
)

// VitalsInput is a triage snapshot as sent by a tool caller. Every field is
// optional.
type VitalsInput struct {
	SystolicBP      *float64 `json:"systolic_bp,omitempty" jsonschema:"systolic blood pressure in mmHg"`
	DiastolicBP     *float64 `json:"diastolic_bp,omitempty" jsonschema:"diastolic blood pressure in mmHg"`
	HeartRate       *float64 `json:"heart_rate,omitempty" jsonschema:"heart rate in beats per minute"`
	RespiratoryRate *float64 `json:"respiratory_rate,omitempty" jsonschema:"respiratory rate in breaths per minute"`
	Temperature     *float64 `json:"temperature,omitempty" jsonschema:"temperature in degrees Celsius"`
	Consciousness   string   `json:"consciousness,omitempty" jsonschema:"AVPU level: ALERT, VOICE, PAIN or UNRESPONSIVE"`
}

func (in VitalsInput) toDomain() domain.Vitals {
	return domain.Vitals{
		SystolicBP:      in.SystolicBP,
		DiastolicBP:     in.DiastolicBP,
		HeartRate:       in.HeartRate,
		RespiratoryRate: in.RespiratoryRate,
		Temperature:     in.Temperature,
		Consciousness:   domain.Consciousness(strings.ToUpper(strings.TrimSpace(in.Consciousness))),
	}
}

// SaveEncounterInput saves the triage form as a patient record.
type SaveEncounterInput struct {
	Vitals              VitalsInput `json:"vitals,omitempty" jsonschema:"the triage snapshot"`
	Notes               string      `json:"notes,omitempty" jsonschema:"free-text clinical notes"`
	GestationalAgeWeeks *int        `json:"gestational_age_weeks,omitempty" jsonschema:"gestational age in completed weeks"`
}

// RiskInput is the BANC hypertension screen as typed into the form.
type RiskInput struct {
	Systolic        string `json:"systolic" jsonschema:"systolic blood pressure, whole number"`
	Diastolic       string `json:"diastolic" jsonschema:"diastolic blood pressure, whole number"`
	ProteinDipstick int    `json:"protein_dipstick,omitempty" jsonschema:"urine protein: 0 negative, 1 to 3 for 1+ to 3+"`
	GestationalAge  string `json:"gestational_age,omitempty" jsonschema:"gestational age in weeks"`
}

// ListRecordsInput limits the number of records returned.
type ListRecordsInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"maximum records, newest first; 0 returns all"`
}

// RecordInput names one saved record.
type RecordInput struct {
	RecordID string `json:"record_id" jsonschema:"saved patient record id"`
}

// ObservationInput plots one dilation reading.
type ObservationInput struct {
	DilationCm int    `json:"dilation_cm" jsonschema:"cervical dilation in cm, 0 to 10"`
	Time       string `json:"time" jsonschema:"time of day HH:MM"`
}

// ConfirmInput guards destructive actions.
type ConfirmInput struct {
	Confirm bool `json:"confirm,omitempty" jsonschema:"must be true to proceed"`
}

// ActionInput names an E-MOTIVE bundle step.
type ActionInput struct {
	Tag string `json:"tag" jsonschema:"action tag: Massage, Oxytocin, TXA, EmptyBladder, IV or Ergo"`
}

// SearchInput queries the guideline index.
type SearchInput struct {
	Query string `json:"query,omitempty" jsonschema:"free-text query, at least 2 characters"`
	Tag   string `json:"tag,omitempty" jsonschema:"quick tag; takes precedence over query"`
}

// GuidelineInput names a guideline chunk.
type GuidelineInput struct {
	ID string `json:"id" jsonschema:"guideline chunk id"`
}

// DrugInput pages through the emergency drug reference.
type DrugInput struct {
	Query string `json:"query,omitempty" jsonschema:"filter by title or indication"`
	Page  int    `json:"page,omitempty" jsonschema:"1-based page number"`
}

// AskInput is a question for the guideline assistant.
type AskInput struct {
	Question string `json:"question" jsonschema:"clinical question about the maternal care guidelines"`
}

// EmptyInput is used by tools without arguments.
type EmptyInput struct{}

type toolSet struct {
	app *app.App
}

// registerTools adds every clinical tool to server and returns the count.
func registerTools(server *mcp.Server, a *app.App) int {
	t := &toolSet{app: a}
	n := 0
	add := func(name, description string) *mcp.Tool {
		n++
		return &mcp.Tool{Name: name, Description: description}
	}

	mcp.AddTool(server, add("classify_triage", "Classify a vitals snapshot with the MEOWS triage chart (RED, YELLOW or GREEN)"), t.classifyTriage)
	mcp.AddTool(server, add("save_encounter", "Save the triage snapshot as an immutable patient record"), t.saveEncounter)
	mcp.AddTool(server, add("assess_banc_risk", "Assess BANC hypertensive-disorder risk from blood pressure and proteinuria"), t.assessRisk)
	mcp.AddTool(server, add("list_records", "List saved patient records, newest first"), t.listRecords)
	mcp.AddTool(server, add("record_stats", "Count high-risk and low-risk encounters on this device"), t.recordStats)
	mcp.AddTool(server, add("generate_referral", "Compose the SBAR referral note for a saved record"), t.generateReferral)
	mcp.AddTool(server, add("partogram_view", "Show the labour partogram with alert and action lines"), t.partogramView)
	mcp.AddTool(server, add("partogram_add", "Plot a cervical dilation observation on the partogram"), t.partogramAdd)
	mcp.AddTool(server, add("partogram_reset", "Clear the partogram (requires confirm)"), t.partogramReset)
	mcp.AddTool(server, add("pph_status", "Show the PPH emergency session and any session awaiting resume"), t.pphStatus)
	mcp.AddTool(server, add("pph_start", "Start the PPH emergency timer"), t.pphStart)
	mcp.AddTool(server, add("pph_resume", "Resume the saved PPH session"), t.pphResume)
	mcp.AddTool(server, add("pph_discard", "Discard the saved PPH session"), t.pphDiscard)
	mcp.AddTool(server, add("pph_toggle_action", "Mark or unmark an E-MOTIVE bundle action"), t.pphToggle)
	mcp.AddTool(server, add("pph_end", "End the active PPH session (requires confirm)"), t.pphEnd)
	mcp.AddTool(server, add("search_guidelines", "Search the maternal care guidelines by text or quick tag"), t.searchGuidelines)
	mcp.AddTool(server, add("view_guideline", "Open one guideline section"), t.viewGuideline)
	mcp.AddTool(server, add("drug_reference", "Page through the emergency drug reference"), t.drugReference)
	mcp.AddTool(server, add("momconnect_register", "Prepare the MomConnect USSD registration code"), t.momConnect)
	mcp.AddTool(server, add("ask_guideline_assistant", "Ask the AI assistant a question about the guidelines"), t.ask)
	mcp.AddTool(server, add("verify_audit", "Verify the integrity of the audit trail hash chain"), t.verifyAudit)
	return n
}

// jsonResult renders v as the tool's text content.
func jsonResult(v any) (*mcp.CallToolResult, any, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode tool result: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, nil, nil
}

// errorResult reports a clinical error to the caller as tool output rather
// than a protocol failure.
func errorResult(err error) (*mcp.CallToolResult, any, error) {
	body := map[string]string{"error": err.Error(), "code": errorCode(err)}
	data, _ := json.Marshal(body)
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		IsError: true,
	}, nil, nil
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return domain.ErrNotFoundCode
	case errors.Is(err, domain.ErrConfirmationRequired):
		return domain.ErrConfirmation
	case errors.Is(err, domain.ErrSessionGated),
		errors.Is(err, domain.ErrNoActiveSession),
		errors.Is(err, domain.ErrSessionAlreadyActive),
		errors.Is(err, domain.ErrNoPendingSession):
		return domain.ErrSessionState
	case errors.Is(err, domain.ErrAssistantUnavailable):
		return domain.ErrExternalAPI
	case errors.Is(err, domain.ErrNoClassification):
		return domain.ErrClassificationEmpty
	default:
		return domain.ErrValidation
	}
}

func (t *toolSet) classifyTriage(_ context.Context, _ *mcp.CallToolRequest, in VitalsInput) (*mcp.CallToolResult, any, error) {
	v := in.toDomain()
	if err := service.ValidateVitals(v); err != nil {
		return errorResult(err)
	}
	out := struct {
		Triage   *domain.TriageColor    `json:"triage"`
		Warnings []service.RangeWarning `json:"warnings"`
	}{Warnings: service.CheckPlausibility(v)}
	if out.Warnings == nil {
		out.Warnings = []service.RangeWarning{}
	}
	if color, ok := service.ClassifyTriage(v); ok {
		out.Triage = &color
	}
	return jsonResult(out)
}

func (t *toolSet) saveEncounter(ctx context.Context, _ *mcp.CallToolRequest, in SaveEncounterInput) (*mcp.CallToolResult, any, error) {
	record, err := t.app.Encounters.Save(ctx, service.EncounterRequest{
		Vitals:              in.Vitals.toDomain(),
		Notes:               in.Notes,
		GestationalAgeWeeks: in.GestationalAgeWeeks,
	})
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(record)
}

func (t *toolSet) assessRisk(ctx context.Context, _ *mcp.CallToolRequest, in RiskInput) (*mcp.CallToolResult, any, error) {
	parsed, err := service.ParseRiskInput(in.Systolic, in.Diastolic, in.ProteinDipstick, in.GestationalAge)
	if err != nil {
		return errorResult(err)
	}
	result, err := t.app.Risk.Assess(ctx, parsed)
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(result)
}

func (t *toolSet) listRecords(ctx context.Context, _ *mcp.CallToolRequest, in ListRecordsInput) (*mcp.CallToolResult, any, error) {
	limit := in.Limit
	if limit <= 0 {
		limit = -1
	}
	return jsonResult(map[string]any{"records": t.app.Patients.Recent(ctx, limit)})
}

func (t *toolSet) recordStats(ctx context.Context, _ *mcp.CallToolRequest, _ EmptyInput) (*mcp.CallToolResult, any, error) {
	return jsonResult(t.app.Patients.Stats(ctx))
}

func (t *toolSet) generateReferral(ctx context.Context, _ *mcp.CallToolRequest, in RecordInput) (*mcp.CallToolResult, any, error) {
	ref, err := t.app.Referrals.Generate(ctx, in.RecordID)
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(ref)
}

func (t *toolSet) partogramView(_ context.Context, _ *mcp.CallToolRequest, _ EmptyInput) (*mcp.CallToolResult, any, error) {
	return jsonResult(t.app.Partogram.View())
}

func (t *toolSet) partogramAdd(ctx context.Context, _ *mcp.CallToolRequest, in ObservationInput) (*mcp.CallToolResult, any, error) {
	view, err := t.app.Partogram.AddObservation(ctx, in.DilationCm, in.Time)
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(view)
}

func (t *toolSet) partogramReset(ctx context.Context, _ *mcp.CallToolRequest, in ConfirmInput) (*mcp.CallToolResult, any, error) {
	if err := t.app.Partogram.Reset(ctx, in.Confirm); err != nil {
		return errorResult(err)
	}
	return jsonResult(t.app.Partogram.View())
}

func (t *toolSet) pphStatus(_ context.Context, _ *mcp.CallToolRequest, _ EmptyInput) (*mcp.CallToolResult, any, error) {
	return jsonResult(map[string]any{
		"status":  t.app.PPH.Status(),
		"actions": service.PPHActions,
	})
}

func (t *toolSet) pphStart(ctx context.Context, _ *mcp.CallToolRequest, _ EmptyInput) (*mcp.CallToolResult, any, error) {
	status, err := t.app.PPH.Start(ctx)
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(status)
}

func (t *toolSet) pphResume(ctx context.Context, _ *mcp.CallToolRequest, _ EmptyInput) (*mcp.CallToolResult, any, error) {
	status, err := t.app.PPH.Resume(ctx)
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(status)
}

func (t *toolSet) pphDiscard(ctx context.Context, _ *mcp.CallToolRequest, _ EmptyInput) (*mcp.CallToolResult, any, error) {
	if err := t.app.PPH.Discard(ctx); err != nil {
		return errorResult(err)
	}
	return jsonResult(t.app.PPH.Status())
}

func (t *toolSet) pphToggle(ctx context.Context, _ *mcp.CallToolRequest, in ActionInput) (*mcp.CallToolResult, any, error) {
	status, err := t.app.PPH.ToggleAction(ctx, in.Tag)
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(status)
}

func (t *toolSet) pphEnd(ctx context.Context, _ *mcp.CallToolRequest, in ConfirmInput) (*mcp.CallToolResult, any, error) {
	status, err := t.app.PPH.End(ctx, in.Confirm)
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(status)
}

func (t *toolSet) searchGuidelines(ctx context.Context, _ *mcp.CallToolRequest, in SearchInput) (*mcp.CallToolResult, any, error) {
	var results []domain.GuidelineChunk
	if in.Tag != "" {
		results = t.app.Guidelines.TagSearch(ctx, in.Tag)
	} else {
		results = t.app.Guidelines.Search(in.Query)
	}
	return jsonResult(map[string]any{"results": results})
}

func (t *toolSet) viewGuideline(ctx context.Context, _ *mcp.CallToolRequest, in GuidelineInput) (*mcp.CallToolResult, any, error) {
	chunk, err := t.app.Guidelines.View(ctx, in.ID)
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(chunk)
}

func (t *toolSet) drugReference(_ context.Context, _ *mcp.CallToolRequest, in DrugInput) (*mcp.CallToolResult, any, error) {
	page := in.Page
	if page == 0 {
		page = 1
	}
	return jsonResult(t.app.Drugs.Page(in.Query, page))
}

func (t *toolSet) momConnect(ctx context.Context, _ *mcp.CallToolRequest, in service.MomConnectRequest) (*mcp.CallToolResult, any, error) {
	reg, err := t.app.MomConnect.Register(ctx, in)
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(reg)
}

func (t *toolSet) ask(ctx context.Context, _ *mcp.CallToolRequest, in AskInput) (*mcp.CallToolResult, any, error) {
	question := strings.TrimSpace(in.Question)
	if question == "" {
		return errorResult(errors.New("missing question"))
	}
	text, err := t.app.Assistant.Ask(ctx, question)
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(map[string]string{"text": text})
}

func (t *toolSet) verifyAudit(ctx context.Context, _ *mcp.CallToolRequest, _ EmptyInput) (*mcp.CallToolResult, any, error) {
	rep, err := t.app.Audit.Verify(ctx)
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(rep)
}

package guidelines

import (
	"fmt"
	"strings"

	"github.com/impcg-clinical-engine/internal/domain"
)

// DefaultDrugsPerPage is the emergency drug list page size.
const DefaultDrugsPerPage = 15

// DrugPage is one page of the filtered emergency drug list.
type DrugPage struct {
	Items      []domain.ProtocolItem `json:"items"`
	Page       int                   `json:"page"`
	TotalPages int                   `json:"total_pages"`
	Total      int                   `json:"total"`
}

// DrugReference is the read-only drug and protocol catalogue.
type DrugReference struct {
	items   []domain.ProtocolItem
	perPage int
}

// NewDrugReference wraps the catalogue. perPage <= 0 uses DefaultDrugsPerPage.
func NewDrugReference(items []domain.ProtocolItem, perPage int) *DrugReference {
	if perPage <= 0 {
		perPage = DefaultDrugsPerPage
	}
	return &DrugReference{items: items, perPage: perPage}
}

// Drugs returns emergency drugs whose title contains term, ignoring case.
func (d *DrugReference) Drugs(term string) []domain.ProtocolItem {
	term = strings.ToLower(strings.TrimSpace(term))
	out := []domain.ProtocolItem{}
	for _, it := range d.items {
		if it.Category != domain.CategoryEmergencyDrug {
			continue
		}
		if term == "" || strings.Contains(strings.ToLower(it.Title), term) {
			out = append(out, it)
		}
	}
	return out
}

// Page returns one page of the filtered drug list. Pages are 1-based and
// clamped to the available range.
func (d *DrugReference) Page(term string, page int) DrugPage {
	all := d.Drugs(term)
	totalPages := (len(all) + d.perPage - 1) / d.perPage
	if page > totalPages {
		page = totalPages
	}
	if page < 1 {
		page = 1
	}
	start := (page - 1) * d.perPage
	if start > len(all) {
		start = len(all)
	}
	end := start + d.perPage
	if end > len(all) {
		end = len(all)
	}
	return DrugPage{
		Items:      all[start:end],
		Page:       page,
		TotalPages: totalPages,
		Total:      len(all),
	}
}

// Protocols returns the procedure and protocol entries.
func (d *DrugReference) Protocols() []domain.ProtocolItem {
	out := []domain.ProtocolItem{}
	for _, it := range d.items {
		if it.Category != domain.CategoryEmergencyDrug {
			out = append(out, it)
		}
	}
	return out
}

// Item looks up a catalogue entry by id.
func (d *DrugReference) Item(id string) (domain.ProtocolItem, error) {
	for _, it := range d.items {
		if it.ID == id {
			return it, nil
		}
	}
	return domain.ProtocolItem{}, fmt.Errorf("protocol item %s: %w", id, domain.ErrNotFound)
}

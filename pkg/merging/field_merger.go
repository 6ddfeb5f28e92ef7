// Package merging folds duplicate data into a survivor without overwriting it.
package merging

import (
	"fmt"
	"strings"

	"github.com/Ramsey-B/clover/pkg/models"
)

// NotesSeparator introduces a duplicate's notes on the survivor.
const NotesSeparator = "--- merged from lead %s ---"

// FieldMerger builds survivor patches. Text fields and estimated value fill only
// when the survivor's value is empty; the first non-empty duplicate in group order wins.
type FieldMerger struct{}

func NewFieldMerger() *FieldMerger {
	return &FieldMerger{}
}

type textField struct {
	get func(*models.Lead) string
	set func(*models.LeadPatch, *string)
}

var fillableFields = []textField{
	{func(l *models.Lead) string { return l.CompanyName }, func(p *models.LeadPatch, v *string) { p.CompanyName = v }},
	{func(l *models.Lead) string { return l.ContactName }, func(p *models.LeadPatch, v *string) { p.ContactName = v }},
	{func(l *models.Lead) string { return l.Email }, func(p *models.LeadPatch, v *string) { p.Email = v }},
	{func(l *models.Lead) string { return l.Phone }, func(p *models.LeadPatch, v *string) { p.Phone = v }},
	{func(l *models.Lead) string { return l.City }, func(p *models.LeadPatch, v *string) { p.City = v }},
	{func(l *models.Lead) string { return l.Category }, func(p *models.LeadPatch, v *string) { p.Category = v }},
	{func(l *models.Lead) string { return l.Stage }, func(p *models.LeadPatch, v *string) { p.Stage = v }},
	{func(l *models.Lead) string { return l.Temperature }, func(p *models.LeadPatch, v *string) { p.Temperature = v }},
}

// BuildPatch returns the patch to apply to survivor. MergedFrom is always set.
func (m *FieldMerger) BuildPatch(survivor models.Lead, duplicates []models.Lead) models.LeadPatch {
	var patch models.LeadPatch

	for _, field := range fillableFields {
		if !models.IsBlank(field.get(&survivor)) {
			continue
		}
		if v, ok := m.preferNonEmpty(duplicates, field.get); ok {
			field.set(&patch, &v)
		}
	}

	if survivor.EstimatedValue == nil {
		for i := range duplicates {
			if duplicates[i].EstimatedValue != nil {
				v := *duplicates[i].EstimatedValue
				patch.EstimatedValue = &v
				break
			}
		}
	}

	if notes, changed := m.concatNotes(survivor, duplicates); changed {
		patch.Notes = &notes
	}

	patch.MergedFrom = m.mergedFrom(survivor, duplicates)
	return patch
}

func (m *FieldMerger) preferNonEmpty(duplicates []models.Lead, get func(*models.Lead) string) (string, bool) {
	for i := range duplicates {
		if v := get(&duplicates[i]); !models.IsBlank(v) {
			return v, true
		}
	}
	return "", false
}

// concatNotes appends each duplicate's notes under a separator naming its lead id.
func (m *FieldMerger) concatNotes(survivor models.Lead, duplicates []models.Lead) (string, bool) {
	var parts []string
	if !models.IsBlank(survivor.Notes) {
		parts = append(parts, strings.TrimRight(survivor.Notes, "\n"))
	}

	changed := false
	for i := range duplicates {
		notes := strings.TrimSpace(duplicates[i].Notes)
		if notes == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf(NotesSeparator, duplicates[i].ID)+"\n"+notes)
		changed = true
	}

	if !changed {
		return "", false
	}
	return strings.Join(parts, "\n\n"), true
}

// mergedFrom is the survivor's list, then each duplicate followed by what it had absorbed, without repeats.
func (m *FieldMerger) mergedFrom(survivor models.Lead, duplicates []models.Lead) []string {
	seen := map[string]bool{survivor.ID: true}
	out := make([]string, 0, len(survivor.MergedFrom)+len(duplicates))
	add := func(id string) {
		if id == "" || seen[id] {
			return
		}
		seen[id] = true
		out = append(out, id)
	}

	for _, id := range survivor.MergedFrom {
		add(id)
	}
	for i := range duplicates {
		add(duplicates[i].ID)
		for _, id := range duplicates[i].MergedFrom {
			add(id)
		}
	}
	return out
}

// Package assistant orchestrates draft generation across AI providers and
// gates the merged result through regulatory validation.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

type DraftRequest struct {
	DocumentType string
	Prompt       string
}

type ProviderDraft struct {
	Provider string
	Text     string
}

// DraftProvider is one upstream text generator.
type DraftProvider interface {
	Name() string
	GenerateDraft(ctx context.Context, req DraftRequest) (ProviderDraft, error)
}

// Finding is a single validation hit against the generated draft.
type Finding struct {
	Rule       string `json:"rule"`
	Term       string `json:"term,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}

type ValidationResult struct {
	Compliant bool      `json:"compliant"`
	Findings  []Finding `json:"findings"`
}

// Draft is the merged, validated output returned to the caller.
type Draft struct {
	Text               string           `json:"text"`
	Confidence         float64          `json:"confidence"`
	Providers          []string         `json:"providers"`
	Degraded           bool             `json:"degraded"`
	Validation         ValidationResult `json:"validation"`
	CorrectionsApplied bool             `json:"correctionsApplied"`
}

const (
	primaryWeight   = 0.6
	secondaryWeight = 0.4
)

var ErrAllProvidersFailed = errors.New("assistant: all providers failed")

type Service struct {
	primary   DraftProvider
	secondary DraftProvider
}

// New builds the orchestrator. The secondary provider may be nil when only
// one upstream is configured.
func New(primary, secondary DraftProvider) *Service {
	return &Service{primary: primary, secondary: secondary}
}

func (s *Service) GenerateDraft(ctx context.Context, req DraftRequest) (Draft, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return Draft{}, errors.New("assistant: prompt is required")
	}
	if req.DocumentType == "" {
		req.DocumentType = "general"
	}

	type result struct {
		draft  ProviderDraft
		weight float64
		err    error
	}

	providers := []struct {
		provider DraftProvider
		weight   float64
	}{
		{s.primary, primaryWeight},
		{s.secondary, secondaryWeight},
	}

	results := make([]result, len(providers))
	var wg sync.WaitGroup
	for i, entry := range providers {
		if entry.provider == nil {
			results[i] = result{err: errors.New("not configured")}
			continue
		}
		wg.Add(1)
		go func(i int, p DraftProvider, weight float64) {
			defer wg.Done()
			draft, err := p.GenerateDraft(ctx, req)
			results[i] = result{draft: draft, weight: weight, err: err}
		}(i, entry.provider, entry.weight)
	}
	wg.Wait()

	var (
		confidence float64
		names      []string
		failures   []error
		drafts     []ProviderDraft
	)
	for _, r := range results {
		if r.err != nil {
			failures = append(failures, r.err)
			continue
		}
		confidence += r.weight
		names = append(names, r.draft.Provider)
		drafts = append(drafts, r.draft)
	}

	if len(drafts) == 0 {
		return Draft{}, fmt.Errorf("%w: %v", ErrAllProvidersFailed, errors.Join(failures...))
	}

	// Results keep weight order, so the first successful draft is the
	// higher-confidence one and wins any section both providers produced.
	text := drafts[0].Text
	if len(drafts) > 1 {
		text = mergeSections(drafts[0].Text, drafts[1].Text)
	}

	draft := Draft{
		Text:       text,
		Confidence: confidence,
		Providers:  names,
		Degraded:   len(failures) > 0,
	}

	draft.Validation = Validate(req.DocumentType, draft.Text)
	if !draft.Validation.Compliant {
		draft.Text = ApplyCorrections(draft.Text, draft.Validation.Findings)
		draft.CorrectionsApplied = true
	}

	return draft, nil
}

type draftSection struct {
	heading string
	body    []string
}

func splitSections(text string) (preamble []string, sections []draftSection) {
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			sections = append(sections, draftSection{heading: line})
			continue
		}
		if len(sections) == 0 {
			preamble = append(preamble, line)
		} else {
			sections[len(sections)-1].body = append(sections[len(sections)-1].body, line)
		}
	}
	return preamble, sections
}

func headingKey(heading string) string {
	trimmed := strings.TrimLeft(strings.TrimSpace(heading), "#")
	return strings.ToLower(strings.TrimSpace(trimmed))
}

// mergeSections combines two drafts heading by heading. Sections present in
// both keep the lead draft's text; sections only the other draft produced are
// appended in their original order. When the other draft has no headings the
// lead text passes through unchanged.
func mergeSections(lead, other string) string {
	leadPre, leadSections := splitSections(lead)
	_, otherSections := splitSections(other)
	if len(otherSections) == 0 {
		return lead
	}

	covered := make(map[string]bool, len(leadSections))
	for _, section := range leadSections {
		covered[headingKey(section.heading)] = true
	}

	lines := append([]string{}, leadPre...)
	for _, section := range leadSections {
		lines = append(lines, section.heading)
		lines = append(lines, section.body...)
	}
	for _, section := range otherSections {
		if covered[headingKey(section.heading)] {
			continue
		}
		if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) != "" {
			lines = append(lines, "")
		}
		lines = append(lines, section.heading)
		lines = append(lines, section.body...)
	}
	return strings.TrimRight(strings.Join(lines, "\n"), "\n")
}

// promotionalTerms are claims that never belong in a regulatory submission.
var promotionalTerms = map[string]string{
	"guaranteed":      "demonstrated",
	"miracle":         "notable",
	"100% safe":       "well tolerated",
	"completely safe": "well tolerated",
	"breakthrough":    "novel",
}

// Validate screens a draft for promotional language and, for structured
// document types, missing mandatory sections.
func Validate(documentType, text string) ValidationResult {
	result := ValidationResult{Compliant: true, Findings: []Finding{}}
	lower := strings.ToLower(text)

	for term, suggestion := range promotionalTerms {
		if strings.Contains(lower, term) {
			result.Findings = append(result.Findings, Finding{
				Rule:       "promotional_language",
				Term:       term,
				Suggestion: suggestion,
			})
		}
	}

	for _, section := range requiredSections(documentType) {
		if !strings.Contains(lower, strings.ToLower(section)) {
			result.Findings = append(result.Findings, Finding{
				Rule: "missing_section",
				Term: section,
			})
		}
	}

	result.Compliant = len(result.Findings) == 0
	return result
}

func requiredSections(documentType string) []string {
	switch documentType {
	case "clinical_overview":
		return []string{"benefit", "risk"}
	case "csr":
		return []string{"efficacy", "safety"}
	default:
		return nil
	}
}

// ApplyCorrections rewrites flagged promotional terms in place. Missing
// sections cannot be fabricated, so those findings are left for the author.
func ApplyCorrections(text string, findings []Finding) string {
	corrected := text
	for _, finding := range findings {
		if finding.Rule != "promotional_language" || finding.Suggestion == "" {
			continue
		}
		corrected = replaceFold(corrected, finding.Term, finding.Suggestion)
	}
	return corrected
}

// replaceFold replaces every case-insensitive occurrence of old with new.
func replaceFold(s, old, new string) string {
	if old == "" {
		return s
	}
	var b strings.Builder
	lower := strings.ToLower(s)
	lowerOld := strings.ToLower(old)
	for {
		idx := strings.Index(lower, lowerOld)
		if idx < 0 {
			b.WriteString(s)
			return b.String()
		}
		b.WriteString(s[:idx])
		b.WriteString(new)
		s = s[idx+len(old):]
		lower = lower[idx+len(lowerOld):]
	}
}

package normalize

import "strings"

// phaseStandards maps raw registry phase text onto dashboard buckets.
// More specific patterns come first so combined phases never fall
// through to their single-phase prefix.
var phaseStandards = []struct {
	match string
	value string
}{
	{"Phase 1/Phase 2", "Phase 1/2"},
	{"Phase 2/Phase 3", "Phase 2/3"},
	{"Early Phase 1", "Phase 1"},
	{"Phase 1", "Phase 1"},
	{"Phase 2", "Phase 2"},
	{"Phase 3", "Phase 3"},
	{"Phase 4", "Phase 4"},
	{"Approved", "Approved"},
	{"Not Applicable", "Preclinical"},
	{"N/A", "Preclinical"},
}

// StandardizePhase maps free-form phase text to one of the standard
// buckets, or "Unknown" when nothing matches.
func StandardizePhase(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "Unknown"
	}
	for _, standard := range phaseStandards {
		if strings.Contains(trimmed, standard.match) {
			return standard.value
		}
	}
	return "Unknown"
}

var therapeuticAreas = []struct {
	name     string
	keywords []string
}{
	{"Oncology", []string{"cancer", "tumor", "neoplasm", "carcinoma", "lymphoma", "leukemia", "melanoma"}},
	{"Cardiovascular", []string{"heart", "cardio", "vascular", "stroke", "hypertension", "atherosclerosis"}},
	{"Neurology", []string{"brain", "neuro", "alzheimer", "parkinson", "multiple sclerosis", "epilepsy"}},
	{"Immunology", []string{"immune", "arthritis", "lupus", "inflammatory", "crohn", "psoriasis"}},
	{"Metabolic", []string{"diabetes", "obesity", "metabolic"}},
	{"Respiratory", []string{"lung", "respiratory", "copd", "asthma", "bronchitis"}},
	{"Infectious Disease", []string{"infect", "viral", "bacterial", "virus", "covid", "hiv", "hepatitis"}},
}

// CategorizeCondition buckets condition or indication text into a
// therapeutic area by keyword, falling back to "Other".
func CategorizeCondition(condition string) string {
	lowered := strings.ToLower(condition)
	for _, area := range therapeuticAreas {
		for _, keyword := range area.keywords {
			if strings.Contains(lowered, keyword) {
				return area.name
			}
		}
	}
	return "Other"
}

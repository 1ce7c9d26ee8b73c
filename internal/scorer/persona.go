package scorer

import (
	"fmt"

	"github.com/sells-group/prospect-engine/internal/model"
)

// PersonaResult is the fit of a contact to a persona.
type PersonaResult struct {
	Score   float64            `json:"score"`
	Matched map[string]float64 `json:"matched"`
	Reasons []string           `json:"reasons"`
}

// PersonaFit scores a contact's title, seniority and department against p.
// Criteria with no contact data are skipped, as in ScoreICP; with nothing to
// compare the score is 0.5.
func PersonaFit(c *model.Contact, p *model.Persona) PersonaResult {
	res := PersonaResult{Matched: map[string]float64{}}
	if c == nil || p == nil {
		res.Score = neutralScore
		res.Reasons = []string{ReasonNoData}
		return res
	}

	var hits, known float64
	check := func(name string, targets []string, value string, match func() (string, bool)) {
		if len(targets) == 0 || value == "" {
			return
		}
		known++
		if m, ok := match(); ok {
			hits++
			res.Matched[name] = 1
			res.Reasons = append(res.Reasons, fmt.Sprintf("%s matches %s", name, m))
			return
		}
		res.Matched[name] = 0
	}

	check("title", p.Titles, c.Title, func() (string, bool) {
		if m, ok := containsNormalized(p.Titles, c.Title); ok {
			return m, true
		}
		if kw := matchKeywords(p.Titles, c.Title); len(kw) > 0 {
			return kw[0], true
		}
		return "", false
	})
	check("seniority", p.Seniorities, c.Seniority, func() (string, bool) {
		return containsNormalized(p.Seniorities, c.Seniority)
	})
	check("department", p.Departments, c.Department, func() (string, bool) {
		return containsNormalized(p.Departments, c.Department)
	})

	if known == 0 {
		res.Score = neutralScore
		res.Reasons = []string{ReasonNoData}
		return res
	}
	res.Score = hits / known
	return res
}

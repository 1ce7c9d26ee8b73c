package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func TestPipelineStage_Next(t *testing.T) {
	tests := []struct {
		from   PipelineStage
		want   PipelineStage
		wantOK bool
	}{
		{StageTAM, StageActiveSegment, true},
		{StageActiveSegment, StageQualified, true},
		{StageQualified, StageReadyToApproach, true},
		{StageInSequence, StageConverted, true},
		{StageConverted, "", false},
		{"bogus", "", false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from), func(t *testing.T) {
			got, ok := tt.from.Next()
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPipelineStage_Index(t *testing.T) {
	assert.Equal(t, 0, StageTAM.Index())
	assert.Equal(t, 5, StageConverted.Index())
	assert.Equal(t, -1, PipelineStage("").Index())
	assert.False(t, PipelineStage("done").Valid())
	assert.Less(t, StageQualified.Index(), StageReadyToApproach.Index())
}

func TestNormalizeDomain(t *testing.T) {
	tests := map[string]string{
		"Acme.com":                      "acme.com",
		"  https://www.acme.com/about ": "acme.com",
		"http://acme.com?ref=x":         "acme.com",
		"sub.acme.io#top":               "sub.acme.io",
		"":                              "",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeDomain(in), in)
	}
}

func TestCompany_Merge(t *testing.T) {
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	older := at.AddDate(-1, 0, 0)

	c := Company{
		Name:          "Acme",
		EmployeeCount: ptr(50),
		TechStack:     []string{"Go"},
		LastFundingAt: &at,
	}
	c.Merge(Company{
		Domain:        "WWW.Acme.com",
		Name:          "Acme Corporation",
		Industry:      "Software",
		EmployeeCount: ptr(80),
		TechStack:     []string{"go", "Postgres"},
		LastFundingAt: &older,
		FoundedYear:   ptr(2011),
	}, "clearbit", at)

	assert.Equal(t, "Acme", c.Name, "descriptive fields are not overwritten")
	assert.Equal(t, "Software", c.Industry)
	assert.Equal(t, 80, *c.EmployeeCount, "counts take the fresh value")
	assert.Equal(t, []string{"Go", "Postgres"}, c.TechStack)
	assert.Equal(t, at, *c.LastFundingAt, "older funding date is ignored")
	assert.Equal(t, "acme.com", c.Domain)

	require.Len(t, c.Sources, 1)
	assert.Equal(t, "clearbit", c.Sources[0].Source)
	assert.ElementsMatch(t, []string{"industry", "employee_count", "founded_year", "tech_stack"}, c.Sources[0].FieldsProvided)
}

func TestCompany_MergeWithoutSource(t *testing.T) {
	var c Company
	c.Merge(Company{Name: "Acme"}, "", time.Now())
	assert.Equal(t, "Acme", c.Name)
	assert.Empty(t, c.Sources)
}

func TestCompany_Completeness(t *testing.T) {
	var empty Company
	assert.Zero(t, empty.Completeness())

	c := Company{Name: "Acme", Industry: "Software"}
	assert.InDelta(t, 2.0/companyFieldCount, c.Completeness(), 1e-9)
}

func TestContact_MergeTracksTitleChange(t *testing.T) {
	started := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	c := Contact{FullName: "Dana Scully", Title: "Director of Sales"}
	c.Merge(Contact{Title: "VP Sales", RoleStartedAt: &started, Email: "dana@acme.com"}, "apollo", started)

	assert.Equal(t, "VP Sales", c.Title)
	assert.Equal(t, "Director of Sales", c.PreviousTitle)
	assert.Equal(t, started, *c.RoleStartedAt)
	assert.Equal(t, "dana@acme.com", c.Email)

	c.Merge(Contact{Title: "vp sales"}, "zoominfo", started)
	assert.Equal(t, "Director of Sales", c.PreviousTitle, "case-only difference is not a change")
	assert.Len(t, c.Sources, 2)
}

func TestContact_DedupeKey(t *testing.T) {
	tests := []struct {
		name string
		c    Contact
		want string
	}{
		{"linkedin wins", Contact{LinkedInURL: "https://LinkedIn.com/in/dana/", Email: "d@acme.com"}, "li:https://linkedin.com/in/dana"},
		{"email", Contact{Email: " Dana@Acme.com "}, "em:dana@acme.com"},
		{"none", Contact{FullName: "Dana"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.c.DedupeKey())
		})
	}
}

func TestContact_DisplayName(t *testing.T) {
	assert.Equal(t, "Dana Scully", (&Contact{FirstName: "Dana", LastName: "Scully"}).DisplayName())
	assert.Equal(t, "D. Scully", (&Contact{FullName: "D. Scully", FirstName: "Dana"}).DisplayName())
}

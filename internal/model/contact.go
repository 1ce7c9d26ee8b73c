package model

import (
	"strings"
	"time"
)

// EmailStatus is the deliverability verdict of an address.
type EmailStatus string

const (
	EmailUnknown   EmailStatus = "unknown"
	EmailValid     EmailStatus = "valid"
	EmailInvalid   EmailStatus = "invalid"
	EmailCatchAll  EmailStatus = "catch_all"
	EmailUnchecked EmailStatus = ""
)

// Contact is a person at a target company.
type Contact struct {
	ID              string         `json:"id"`
	ClientID        string         `json:"client_id"`
	CompanyID       string         `json:"company_id,omitempty"`
	FullName        string         `json:"full_name"`
	FirstName       string         `json:"first_name,omitempty"`
	LastName        string         `json:"last_name,omitempty"`
	Title           string         `json:"title,omitempty"`
	Seniority       string         `json:"seniority,omitempty"`
	Department      string         `json:"department,omitempty"`
	LinkedInURL     string         `json:"linkedin_url,omitempty"`
	Email           string         `json:"email,omitempty"`
	EmailStatus     EmailStatus    `json:"email_status,omitempty"`
	PreviousTitle   string         `json:"previous_title,omitempty"`
	RoleStartedAt   *time.Time     `json:"role_started_at,omitempty"`
	Sources         []SourceRecord `json:"sources,omitempty"`
	PersonaFitScore float64        `json:"persona_fit_score"`
	SignalScore     float64        `json:"signal_score"`
	EnrichmentScore float64        `json:"enrichment_score"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// DedupeKey identifies a contact within a client: LinkedIn URL, else email.
// An empty key means the contact cannot be deduplicated.
func (c *Contact) DedupeKey() string {
	if u := strings.TrimRight(strings.ToLower(strings.TrimSpace(c.LinkedInURL)), "/"); u != "" {
		return "li:" + u
	}
	if e := strings.ToLower(strings.TrimSpace(c.Email)); e != "" {
		return "em:" + e
	}
	return ""
}

// DisplayName returns FullName, or first and last name joined.
func (c *Contact) DisplayName() string {
	if c.FullName != "" {
		return c.FullName
	}
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

// PopulatedFields names the profile fields that carry a value.
func (c *Contact) PopulatedFields() []string {
	var out []string
	add := func(name string, ok bool) {
		if ok {
			out = append(out, name)
		}
	}
	add("name", c.DisplayName() != "")
	add("title", c.Title != "")
	add("seniority", c.Seniority != "")
	add("department", c.Department != "")
	add("linkedin_url", c.LinkedInURL != "")
	add("email", c.Email != "")
	add("email_verified", c.EmailStatus == EmailValid)
	return out
}

// contactFieldCount is the number of fields PopulatedFields checks.
const contactFieldCount = 7

// Completeness is the share of profile fields that are populated, in [0,1].
func (c *Contact) Completeness() float64 {
	return float64(len(c.PopulatedFields())) / contactFieldCount
}

// Merge fills empty fields of c from in and appends the provenance record.
func (c *Contact) Merge(in Contact, source string, at time.Time) {
	var provided []string
	str := func(dst *string, v, name string) {
		if v != "" && *dst == "" {
			*dst = v
			provided = append(provided, name)
		}
	}
	str(&c.FullName, in.FullName, "full_name")
	str(&c.FirstName, in.FirstName, "first_name")
	str(&c.LastName, in.LastName, "last_name")
	str(&c.Seniority, in.Seniority, "seniority")
	str(&c.Department, in.Department, "department")
	str(&c.LinkedInURL, in.LinkedInURL, "linkedin_url")
	str(&c.Email, in.Email, "email")
	str(&c.CompanyID, in.CompanyID, "company_id")

	// A changed title is a role change; keep the old one for signal detection.
	if in.Title != "" && !strings.EqualFold(in.Title, c.Title) {
		if c.Title != "" {
			c.PreviousTitle = c.Title
		}
		c.Title = in.Title
		provided = append(provided, "title")
		if in.RoleStartedAt != nil {
			c.RoleStartedAt = in.RoleStartedAt
		}
	}
	if in.EmailStatus != EmailUnchecked {
		c.EmailStatus = in.EmailStatus
		provided = append(provided, "email_status")
	}
	if in.PreviousTitle != "" && c.PreviousTitle == "" {
		c.PreviousTitle = in.PreviousTitle
	}
	if in.RoleStartedAt != nil && c.RoleStartedAt == nil {
		c.RoleStartedAt = in.RoleStartedAt
	}
	c.Sources = AppendSource(c.Sources, SourceRecord{Source: source, FetchedAt: at, FieldsProvided: provided})
}

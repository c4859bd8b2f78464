package models

import (
	"strings"
	"time"
)

// PolicySettings is the instance-wide settings singleton. Exactly one logical
// row exists; admin updates are last-writer-wins at the store level.
type PolicySettings struct {
	ReadOnly                   bool
	DisableUsers               bool
	DisableUserAccountCreation bool
	DisableFileUpload          bool
	HideAllowedIPInput         bool
	RestrictOrganizationEmail  string
	UpdatedAt                  time.Time
}

// AllowedEmailDomains parses the comma-separated domain allowlist.
// An empty list means no restriction.
func (p *PolicySettings) AllowedEmailDomains() []string {
	if p.RestrictOrganizationEmail == "" {
		return nil
	}
	parts := strings.Split(p.RestrictOrganizationEmail, ",")
	domains := make([]string, 0, len(parts))
	for _, part := range parts {
		d := strings.ToLower(strings.TrimSpace(part))
		if d != "" {
			domains = append(domains, d)
		}
	}
	return domains
}

// EmailAllowed reports whether the address passes the organization domain
// restriction. Addresses without a domain part never pass a non-empty list.
func (p *PolicySettings) EmailAllowed(email string) bool {
	domains := p.AllowedEmailDomains()
	if len(domains) == 0 {
		return true
	}
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return false
	}
	domain := strings.ToLower(email[at+1:])
	for _, d := range domains {
		if domain == d {
			return true
		}
	}
	return false
}

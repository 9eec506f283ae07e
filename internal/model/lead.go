package model

import (
	"regexp"
	"strings"
)

// Lead represents one record flowing through the funnel. The identity core
// is fixed; everything a stage learns lands in Attrs.
type Lead struct {
	ID            string `json:"id,omitempty"`
	Email         string `json:"email,omitempty"`
	LinkedInURL   string `json:"linkedin_url,omitempty"`
	FirstName     string `json:"first_name,omitempty"`
	LastName      string `json:"last_name,omitempty"`
	Title         string `json:"title,omitempty"`
	CompanyName   string `json:"company_name,omitempty"`
	CompanyDomain string `json:"company_domain,omitempty"`

	// Tag is empty while the lead is active. A non-empty tag permanently
	// excludes the lead from later stages and records the reason.
	Tag string `json:"tag,omitempty"`

	Attrs map[string]any `json:"attrs,omitempty"`
}

// Active reports whether the lead is still in the working set.
func (l *Lead) Active() bool {
	return l.Tag == ""
}

// SetTag excludes the lead with the given reason. Tags are write-once:
// an existing tag is never overwritten and false is returned.
func (l *Lead) SetTag(reason string) bool {
	if l.Tag != "" || reason == "" {
		return false
	}
	l.Tag = reason
	return true
}

// SetAttr records a stage-written attribute on the lead.
func (l *Lead) SetAttr(key string, value any) {
	if l.Attrs == nil {
		l.Attrs = make(map[string]any)
	}
	l.Attrs[key] = value
}

// Attr returns a stage-written attribute, or nil.
func (l *Lead) Attr(key string) any {
	if l.Attrs == nil {
		return nil
	}
	return l.Attrs[key]
}

// StringAttr returns a string attribute, or "" when absent or not a string.
func (l *Lead) StringAttr(key string) string {
	if s, ok := l.Attr(key).(string); ok {
		return s
	}
	return ""
}

// NumberAttr returns a numeric attribute coerced to float64.
func (l *Lead) NumberAttr(key string) (float64, bool) {
	switch v := l.Attr(key).(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// Clone returns a deep copy of the lead, including its attribute map.
func (l *Lead) Clone() Lead {
	out := *l
	if l.Attrs != nil {
		out.Attrs = make(map[string]any, len(l.Attrs))
		for k, v := range l.Attrs {
			out.Attrs[k] = v
		}
	}
	return out
}

// ResolveIdentity derives the stable identity used to address a lead in the
// Row Store. Precedence: explicit ID, then email, then LinkedIn profile slug,
// then name plus company domain. Returns false when no field is usable.
func ResolveIdentity(l Lead) (string, bool) {
	if id := strings.TrimSpace(l.ID); id != "" {
		return id, true
	}
	if email := strings.ToLower(strings.TrimSpace(l.Email)); email != "" {
		return "email:" + email, true
	}
	if slug := linkedInSlug(l.LinkedInURL); slug != "" {
		return "li:" + slug, true
	}
	first := strings.ToLower(strings.TrimSpace(l.FirstName))
	last := strings.ToLower(strings.TrimSpace(l.LastName))
	domain := NormalizeDomain(l.CompanyDomain)
	if (first != "" || last != "") && domain != "" {
		return "name:" + first + "." + last + "@" + domain, true
	}
	return "", false
}

// linkedInSlug extracts the canonical profile slug from a LinkedIn URL.
func linkedInSlug(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return ""
	}
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")
	s = strings.TrimPrefix(s, "www.")
	if !strings.HasPrefix(s, "linkedin.com/in/") {
		return ""
	}
	s = strings.TrimPrefix(s, "linkedin.com/in/")
	if idx := strings.IndexAny(s, "/?#"); idx >= 0 {
		s = s[:idx]
	}
	return s
}

// NormalizeDomain canonicalizes a company domain: scheme, www prefix, path
// and port are stripped and the host is lowercased.
func NormalizeDomain(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return ""
	}
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")
	s = strings.TrimPrefix(s, "www.")
	if idx := strings.IndexAny(s, "/?#"); idx >= 0 {
		s = s[:idx]
	}
	if idx := strings.Index(s, ":"); idx >= 0 {
		s = s[:idx]
	}
	return s
}

// legalSuffixes lists common legal entity suffixes stripped during company
// name normalization.
var legalSuffixes = []string{
	" LLC", " L.L.C.", " L.L.C",
	" INC", " INC.", " INCORPORATED",
	" CORP", " CORP.", " CORPORATION",
	" LTD", " LTD.", " LIMITED",
	" LP", " L.P.", " L.P",
	" LLP", " L.L.P.", " L.L.P",
	" PLLC", " P.L.L.C.",
	" PC", " P.C.",
	" CO", " CO.", " COMPANY",
}

var multiSpace = regexp.MustCompile(`\s+`)

// NormalizeCompanyName uppercases, strips punctuation and legal suffixes,
// and collapses whitespace so fuzzy company matches line up across sources.
func NormalizeCompanyName(name string) string {
	s := strings.ToUpper(strings.TrimSpace(name))
	if s == "" {
		return ""
	}
	for stripped := true; stripped; {
		stripped = false
		for _, suffix := range legalSuffixes {
			if strings.HasSuffix(s, suffix) {
				s = strings.TrimSuffix(s, suffix)
				stripped = true
			}
		}
	}
	s = strings.Map(func(r rune) rune {
		switch r {
		case ',', '.', '\'', '"':
			return -1
		}
		return r
	}, s)
	s = multiSpace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

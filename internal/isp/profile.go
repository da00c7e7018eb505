// Package isp normalizes Institutional Style Profile (ISP) documents.
// Profiles arrive as ad-hoc nested JSON from many authoring tools, so each
// logical field is resolved through a list of dotted candidate paths with a
// recursive search fallback. Downstream code only ever sees the typed
// Profile shape.
package isp

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Profile is the normalized, typed view of an ISP document.
type Profile struct {
	Name            string   `json:"name"`
	Organization    string   `json:"organization"`
	Jurisdiction    string   `json:"jurisdiction,omitempty"`
	GovernanceLevel string   `json:"governance_level"`
	PolicyVersion   string   `json:"policy_version"`
	ReviewCycle     string   `json:"review_cycle,omitempty"`
	Contact         string   `json:"contact,omitempty"`
	Templates       []string `json:"templates,omitempty"`
	TemplatesDir    string   `json:"templates_dir,omitempty"`
	SourcePath      string   `json:"source_path,omitempty"`
}

// Candidate paths per logical field. Order expresses preference; the first
// hit wins before the recursive fallback kicks in.
var fieldPaths = map[string][]string{
	"name":             {"name", "profile.name", "isp.name", "meta.name"},
	"organization":     {"organization", "org", "profile.organization", "institution.name", "meta.organization"},
	"jurisdiction":     {"jurisdiction", "profile.jurisdiction", "legal.jurisdiction"},
	"governance_level": {"governance_level", "governance.level", "profile.governance_level"},
	"policy_version":   {"policy_version", "policy.version", "governance.policy_version"},
	"review_cycle":     {"review_cycle", "governance.review_cycle"},
	"contact":          {"contact", "profile.contact", "meta.contact", "contact.email"},
	"templates_dir":    {"templates_dir", "templates.dir", "templates.directory"},
}

// Normalize centralizes the path-tolerance logic: resolve every field via
// its candidate paths, falling back to a recursive key search.
func Normalize(raw map[string]interface{}) Profile {
	p := Profile{
		Name:            lookupString(raw, "name"),
		Organization:    lookupString(raw, "organization"),
		Jurisdiction:    lookupString(raw, "jurisdiction"),
		GovernanceLevel: lookupString(raw, "governance_level"),
		PolicyVersion:   lookupString(raw, "policy_version"),
		ReviewCycle:     lookupString(raw, "review_cycle"),
		Contact:         lookupString(raw, "contact"),
		TemplatesDir:    lookupString(raw, "templates_dir"),
	}
	p.Templates = inlineTemplates(raw)
	return p
}

// Load reads and normalizes one profile file.
func Load(path string) (Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("read profile: %w", err)
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Profile{}, fmt.Errorf("parse profile %s: %w", filepath.Base(path), err)
	}
	p := Normalize(raw)
	p.SourcePath = path
	return p, nil
}

// Issue is one validation finding.
type Issue struct {
	Field    string `json:"field"`
	Severity string `json:"severity"` // required | recommended
}

// Validate reports missing required and recommended fields, and whether
// the profile carries templates at all (inline list or directory).
func Validate(p Profile) (issues []Issue, hasTemplates bool) {
	required := map[string]string{
		"name":             p.Name,
		"organization":     p.Organization,
		"governance_level": p.GovernanceLevel,
		"policy_version":   p.PolicyVersion,
	}
	recommended := map[string]string{
		"jurisdiction": p.Jurisdiction,
		"review_cycle": p.ReviewCycle,
		"contact":      p.Contact,
	}
	for field, val := range required {
		if val == "" {
			issues = append(issues, Issue{Field: field, Severity: "required"})
		}
	}
	for field, val := range recommended {
		if val == "" {
			issues = append(issues, Issue{Field: field, Severity: "recommended"})
		}
	}

	hasTemplates = len(p.Templates) > 0
	if !hasTemplates && p.TemplatesDir != "" {
		if entries, err := os.ReadDir(p.TemplatesDir); err == nil && len(entries) > 0 {
			hasTemplates = true
		}
	}
	return issues, hasTemplates
}

// Valid reports whether p has no missing required fields.
func Valid(p Profile) bool {
	issues, _ := Validate(p)
	for _, is := range issues {
		if is.Severity == "required" {
			return false
		}
	}
	return true
}

// lookupString resolves a logical field: dotted candidates first, then a
// depth-first search for the field's terminal key anywhere in the document.
func lookupString(raw map[string]interface{}, field string) string {
	for _, path := range fieldPaths[field] {
		if v, ok := deepGet(raw, path); ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	if v, ok := searchKey(raw, field, 0); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// deepGet walks a dotted path through nested objects.
func deepGet(raw map[string]interface{}, path string) (interface{}, bool) {
	cur := interface{}(raw)
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// searchKey finds the first value stored under key anywhere in the
// document, bounded to a sane nesting depth.
func searchKey(node interface{}, key string, depth int) (interface{}, bool) {
	if depth > 8 {
		return nil, false
	}
	m, ok := node.(map[string]interface{})
	if !ok {
		return nil, false
	}
	if v, ok := m[key]; ok {
		return v, true
	}
	for _, child := range m {
		if v, ok := searchKey(child, key, depth+1); ok {
			return v, true
		}
	}
	return nil, false
}

// inlineTemplates extracts an inline template list from any of the usual
// locations.
func inlineTemplates(raw map[string]interface{}) []string {
	for _, path := range []string{"templates", "templates.inline", "profile.templates"} {
		v, ok := deepGet(raw, path)
		if !ok {
			continue
		}
		list, ok := v.([]interface{})
		if !ok {
			continue
		}
		var out []string
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return nil
}

package models

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Severity orders decision urgency from low to critical.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Rank returns 0 for unknown severities.
func (s Severity) Rank() int { return severityRank[s] }

// ParseSeverity normalizes raw input; unknown values are rejected.
func ParseSeverity(raw string) (Severity, error) {
	s := Severity(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := severityRank[s]; !ok {
		return "", fmt.Errorf("invalid severity: %q", raw)
	}
	return s, nil
}

// Role is the approval authority required to decide an item.
type Role string

const (
	RoleAnalyst       Role = "analyst"
	RoleManager       Role = "manager"
	RoleSeniorManager Role = "senior_manager"
	RoleDirector      Role = "director"
)

var roleRank = map[Role]int{
	RoleAnalyst:       1,
	RoleManager:       2,
	RoleSeniorManager: 3,
	RoleDirector:      4,
}

// Rank returns 0 for unknown roles.
func (r Role) Rank() int { return roleRank[r] }

// ParseRole normalizes raw input; unknown values are rejected.
func ParseRole(raw string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := roleRank[r]; !ok {
		return "", fmt.Errorf("invalid role: %q", raw)
	}
	return r, nil
}

// AsFloat converts JSON-decoded numbers (and numeric strings) into float64.
func AsFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case int32:
		return float64(t), true
	case uint64:
		return float64(t), true
	case bool:
		return 0, false
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	case interface{ Float64() (float64, error) }:
		f, err := t.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// IDString renders an identifier from a decoded payload value, so that 42, 42.0 and "42" agree.
// Strings are NFC-normalized so agents emitting decomposed accents address the same subject.
func IDString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return norm.NFC.String(strings.TrimSpace(t))
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return fmt.Sprint(t)
	}
}

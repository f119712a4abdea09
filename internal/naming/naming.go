// Package naming is the naming authority for provisioned VMs.
//
// VM names follow the convention:
//
//	[<prefix>-]<customer>-<role><index>[-<site>]
//
// e.g. "acme-web1", "ntq-acme-db2-fra". All labels are lowercase
// alphanumeric so the resulting name is a valid DNS label and a valid
// Proxmox VM name.
package naming

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const (
	// MinIndex and MaxIndex bound the per-role instance index.
	MinIndex = 1
	MaxIndex = 99

	// maxNameLength matches the hostname label limit; the full VM name
	// is used as the guest hostname.
	maxNameLength = 63
)

var (
	labelPattern = regexp.MustCompile(`^[a-z][a-z0-9]*$`)

	// rolePattern additionally forbids a trailing digit so that
	// "<role><index>" can be split unambiguously when parsing.
	rolePattern = regexp.MustCompile(`^[a-z][a-z0-9]*[a-z]$|^[a-z]$`)

	roleIndexPattern = regexp.MustCompile(`^([a-z][a-z0-9]*?[a-z]|[a-z])([0-9]+)$`)
)

// Spec identifies a VM within the naming convention.
type Spec struct {
	Prefix   string // optional organization prefix, e.g. "ntq"
	Customer string
	Role     string
	Index    int
	Site     string // optional site/location suffix, e.g. "fra"
}

// Hostname returns the VM name for the spec.
func (s Spec) Hostname() string {
	var b strings.Builder
	if s.Prefix != "" {
		b.WriteString(s.Prefix)
		b.WriteByte('-')
	}
	b.WriteString(s.Customer)
	b.WriteByte('-')
	b.WriteString(s.Role)
	b.WriteString(strconv.Itoa(s.Index))
	if s.Site != "" {
		b.WriteByte('-')
		b.WriteString(s.Site)
	}
	return b.String()
}

// Validate checks that every component of the spec conforms to the
// naming convention.
func (s Spec) Validate() error {
	if s.Prefix != "" && !labelPattern.MatchString(s.Prefix) {
		return fmt.Errorf("prefix must be lowercase alphanumeric starting with a letter, got %q", s.Prefix)
	}
	if s.Customer == "" {
		return fmt.Errorf("customer is required")
	}
	if !labelPattern.MatchString(s.Customer) {
		return fmt.Errorf("customer must be lowercase alphanumeric starting with a letter, got %q", s.Customer)
	}
	if s.Role == "" {
		return fmt.Errorf("role is required")
	}
	if !rolePattern.MatchString(s.Role) {
		return fmt.Errorf("role must be lowercase alphanumeric and must not end in a digit, got %q", s.Role)
	}
	if s.Index < MinIndex || s.Index > MaxIndex {
		return fmt.Errorf("index must be between %d and %d, got %d", MinIndex, MaxIndex, s.Index)
	}
	if s.Site != "" && !labelPattern.MatchString(s.Site) {
		return fmt.Errorf("site must be lowercase alphanumeric starting with a letter, got %q", s.Site)
	}
	if n := len(s.Hostname()); n > maxNameLength {
		return fmt.Errorf("name %q is %d characters, exceeds the %d character limit", s.Hostname(), n, maxNameLength)
	}
	return nil
}

// Parse decomposes a VM name back into a Spec. If prefix is non-empty
// and the name begins with it, the prefix is stripped first; names
// without the prefix still parse, so both historical conventions
// (with and without an organization prefix) are accepted.
func Parse(name, prefix string) (Spec, error) {
	var spec Spec

	rest := name
	if prefix != "" && strings.HasPrefix(rest, prefix+"-") {
		spec.Prefix = prefix
		rest = strings.TrimPrefix(rest, prefix+"-")
	}

	parts := strings.Split(rest, "-")
	if len(parts) < 2 || len(parts) > 3 {
		return Spec{}, fmt.Errorf("name %q does not match <customer>-<role><index>[-<site>]", name)
	}

	spec.Customer = parts[0]
	m := roleIndexPattern.FindStringSubmatch(parts[1])
	if m == nil {
		return Spec{}, fmt.Errorf("name %q has no parseable <role><index> component", name)
	}
	spec.Role = m[1]
	idx, err := strconv.Atoi(m[2])
	if err != nil {
		return Spec{}, fmt.Errorf("name %q: invalid index: %w", name, err)
	}
	spec.Index = idx

	if len(parts) == 3 {
		spec.Site = parts[2]
	}

	if err := spec.Validate(); err != nil {
		return Spec{}, fmt.Errorf("name %q: %w", name, err)
	}
	return spec, nil
}

// SnippetName returns the cloud-init snippet file name for a VM.
// Format: <vmName>-user-data.yaml
func SnippetName(vmName string) string {
	return fmt.Sprintf("%s-user-data.yaml", vmName)
}

// SeedISOName returns the NoCloud seed image file name for a VM.
// Format: <vmName>-seed.iso
func SeedISOName(vmName string) string {
	return fmt.Sprintf("%s-seed.iso", vmName)
}

// FQDN returns the guest FQDN for a VM name and search domain. With an
// empty search domain the bare name is returned.
func FQDN(vmName, searchDomain string) string {
	if searchDomain == "" {
		return vmName
	}
	return fmt.Sprintf("%s.%s", vmName, searchDomain)
}

package rbac

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/turnstile/pkg/apperr"
)

//go:embed default_permissions.yaml
var defaultSeed []byte

var codePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*(\.[a-z][a-z0-9_]*)+$`)

// Seed is the declarative permission catalog: permissions, the roles that
// hold each by default, and named templates.
type Seed struct {
	Permissions []SeedPermission    `yaml:"permissions"`
	Roles       map[string][]string `yaml:"roles"`
	Templates   []Template          `yaml:"templates"`
}

// SeedPermission is one catalog entry as written in the seed file.
type SeedPermission struct {
	Code             string    `yaml:"code"`
	Name             string    `yaml:"name"`
	Description      string    `yaml:"description"`
	Category         string    `yaml:"category"`
	RiskLevel        RiskLevel `yaml:"risk_level"`
	Requires2FA      bool      `yaml:"requires_2fa"`
	RequiresApproval bool      `yaml:"requires_approval"`
	Parent           string    `yaml:"parent"`
}

// LoadSeed parses and validates a seed document.
func LoadSeed(r io.Reader) (*Seed, error) {
	var seed Seed
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&seed); err != nil {
		return nil, fmt.Errorf("failed to parse permission seed: %w", err)
	}
	if err := seed.Validate(); err != nil {
		return nil, err
	}
	return &seed, nil
}

// LoadSeedFile reads a seed from path.
func LoadSeedFile(path string) (*Seed, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open permission seed: %w", err)
	}
	defer f.Close()
	return LoadSeed(f)
}

// DefaultSeed returns the built-in catalog.
func DefaultSeed() (*Seed, error) {
	return LoadSeed(bytes.NewReader(defaultSeed))
}

// Validate checks codes are well formed and unique and that every role,
// template and parent reference names a known code.
func (s *Seed) Validate() error {
	known := make(map[string]bool, len(s.Permissions))
	for _, p := range s.Permissions {
		if !codePattern.MatchString(p.Code) {
			return apperr.Invalid("code", "must be dot-namespaced lowercase", p.Code)
		}
		if known[p.Code] {
			return apperr.Invalid("code", "is declared twice", p.Code)
		}
		known[p.Code] = true
	}

	var unknown []string
	check := func(codes ...string) {
		for _, c := range codes {
			if c != "" && !known[c] {
				unknown = append(unknown, c)
			}
		}
	}
	for _, p := range s.Permissions {
		check(p.Parent)
	}
	for _, codes := range s.Roles {
		check(codes...)
	}
	for _, t := range s.Templates {
		if t.Name == "" {
			return apperr.Invalid("template", "name is required")
		}
		check(t.Permissions...)
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return apperr.Invalid("codes", "unknown permission codes", unknown...)
	}
	return nil
}

// Catalog converts the seed into permissions with default roles, level and
// path filled in. IDs are left empty; they are assigned on first sync.
func (s *Seed) Catalog() []*Permission {
	roles := make(map[string][]string)
	roleNames := make([]string, 0, len(s.Roles))
	for role := range s.Roles {
		roleNames = append(roleNames, role)
	}
	sort.Strings(roleNames)
	for _, role := range roleNames {
		for _, code := range s.Roles[role] {
			roles[code] = append(roles[code], role)
		}
	}

	perms := make([]*Permission, 0, len(s.Permissions))
	for _, sp := range s.Permissions {
		category := sp.Category
		if category == "" {
			category = CategoryOf(sp.Code)
		}
		risk := sp.RiskLevel
		if risk == "" {
			risk = RiskLow
		}
		name := sp.Name
		if name == "" {
			name = sp.Code
		}
		perms = append(perms, &Permission{
			Code:             sp.Code,
			Name:             name,
			Description:      sp.Description,
			Category:         category,
			RiskLevel:        risk,
			Requires2FA:      sp.Requires2FA,
			RequiresApproval: sp.RequiresApproval,
			DefaultForRoles:  roles[sp.Code],
			ParentCode:       sp.Parent,
		})
	}

	h := NewHierarchy(perms)
	for _, p := range perms {
		p.Level = h.Depth(p.Code)
		p.Path = h.PathOf(p.Code)
	}
	// Parents first, so a store can resolve parent codes while inserting.
	return h.Permissions()
}

// TemplateMap indexes templates by name.
func (s *Seed) TemplateMap() map[string]Template {
	out := make(map[string]Template, len(s.Templates))
	for _, t := range s.Templates {
		out[t.Name] = t
	}
	return out
}

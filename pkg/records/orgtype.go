// Package records maps normalized upstream items into the typed records served to
// callers, with derived fields (occupancy, status, acceptance flags) computed once.
package records

import (
	"fmt"
	"io"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// Emergency institution tiers.
const (
	TierRegionalCenter    = "권역응급의료센터"
	TierLocalCenter       = "지역응급의료센터"
	TierSpecializedCenter = "전문응급의료센터"
	TierLocalInstitution  = "지역응급의료기관"
)

// centerTiers sort ahead of everything else.
var centerTiers = map[string]bool{
	TierRegionalCenter:    true,
	TierLocalCenter:       true,
	TierSpecializedCenter: true,
}

// IsCenter reports whether tier is one of the center tiers.
func IsCenter(tier string) bool {
	return centerTiers[tier]
}

// tierCodes maps the upstream dutyEmcls code to its tier.
var tierCodes = map[string]string{
	"HVS05": TierRegionalCenter,
	"HVS06": TierLocalCenter,
	"HVS07": TierSpecializedCenter,
	"HVS08": TierLocalInstitution,
}

// TierForCode returns the tier for an upstream dutyEmcls code, "" if unknown.
func TierForCode(code string) string {
	return tierCodes[code]
}

// OrgTypes maps hospital id to tier. It is seeded from a file and learns from
// every hospital-list fetch.
type OrgTypes struct {
	mu    sync.RWMutex
	tiers map[string]string
}

// NewOrgTypes returns an empty table.
func NewOrgTypes() *OrgTypes {
	return &OrgTypes{tiers: make(map[string]string)}
}

// LoadOrgTypes reads a flat hpid→tier mapping. JSON and YAML are both accepted.
func LoadOrgTypes(r io.Reader) (*OrgTypes, error) {
	var m map[string]string
	if err := yaml.NewDecoder(r).Decode(&m); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode hospital type mapping: %w", err)
	}
	t := NewOrgTypes()
	for hpid, tier := range m {
		t.tiers[hpid] = tier
	}
	return t, nil
}

// LoadOrgTypesFile is LoadOrgTypes on a file. An empty path yields an empty table.
func LoadOrgTypesFile(path string) (*OrgTypes, error) {
	if path == "" {
		return NewOrgTypes(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open hospital type mapping: %w", err)
	}
	defer f.Close()
	return LoadOrgTypes(f)
}

// Lookup returns the tier for hpid, "" when unknown.
func (t *OrgTypes) Lookup(hpid string) string {
	if t == nil {
		return ""
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.tiers[hpid]
}

// Set records the tier for hpid. Empty values are ignored.
func (t *OrgTypes) Set(hpid, tier string) {
	if hpid == "" || tier == "" {
		return
	}
	t.mu.Lock()
	t.tiers[hpid] = tier
	t.mu.Unlock()
}

// Learn records the tier of every hospital in hs.
func (t *OrgTypes) Learn(hs []Hospital) int {
	n := 0
	for _, h := range hs {
		if h.Tier != "" {
			t.Set(h.HPID, h.Tier)
			n++
		}
	}
	return n
}

// Len returns the number of known hospitals.
func (t *OrgTypes) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.tiers)
}

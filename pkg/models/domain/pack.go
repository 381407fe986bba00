package domain

import (
	"fmt"
	"strings"
)

type Pack string

const (
	PackPremium      Pack = "premium"
	PackCareer       Pack = "career"
	PackEvent        Pack = "event"
	PackMicro        Pack = "micro"
	PackNPL          Pack = "npl"
	PackStage1Top25k Pack = "stage1_top_25k"
)

const extractSuffix = "_with_ad_ids.csv"

// DefaultPacks is the processing order used when a run does not name its packs.
var DefaultPacks = []Pack{
	PackPremium,
	PackCareer,
	PackEvent,
	PackMicro,
	PackNPL,
	PackStage1Top25k,
}

// FileName returns the extract file expected inside a cohort directory.
func (p Pack) FileName() string {
	if p == PackStage1Top25k {
		return string(p) + extractSuffix
	}
	return string(p) + "_packs" + extractSuffix
}

// Label is the display name used in summary columns, e.g. "Premium".
func (p Pack) Label() string {
	s := string(p)
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func (p Pack) Valid() bool {
	for _, known := range DefaultPacks {
		if p == known {
			return true
		}
	}
	return false
}

// ParsePack accepts either the pack name ("premium") or its extract file name.
func ParsePack(s string) (Pack, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, p := range DefaultPacks {
		if s == string(p) || s == p.FileName() {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown pack %q", s)
}

func ParsePacks(values []string) ([]Pack, error) {
	if len(values) == 0 {
		return append([]Pack(nil), DefaultPacks...), nil
	}
	seen := make(map[Pack]struct{}, len(values))
	packs := make([]Pack, 0, len(values))
	for _, v := range values {
		p, err := ParsePack(v)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		packs = append(packs, p)
	}
	return packs, nil
}

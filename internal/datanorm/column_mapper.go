package datanorm

import (
	"strings"

	"github.com/ignite/report-etl/internal/report"
)

// RenameTable maps raw export header names to destination column names.
// A campaign's overrides are overlaid on the common mapping, so a campaign
// only lists the headers it spells differently.
type RenameTable struct {
	common    map[string]string
	campaigns map[string]map[string]string
}

// NewRenameTable builds a RenameTable. Keys are matched after trimming
// surrounding whitespace.
func NewRenameTable(common map[string]string, campaigns map[string]map[string]string) *RenameTable {
	rt := &RenameTable{
		common:    trimKeys(common),
		campaigns: make(map[string]map[string]string, len(campaigns)),
	}
	for name, m := range campaigns {
		rt.campaigns[name] = trimKeys(m)
	}
	return rt
}

func trimKeys(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out
}

// For returns the effective mapping for campaign: common entries first, then
// the campaign's overrides on top.
func (rt *RenameTable) For(campaign report.Campaign) map[string]string {
	merged := make(map[string]string, len(rt.common))
	for k, v := range rt.common {
		merged[k] = v
	}
	for k, v := range rt.campaigns[string(campaign)] {
		merged[k] = v
	}
	return merged
}

// Apply renames header in place. Each column is looked up once; columns with
// no mapping keep their name. It returns how many columns were renamed.
func (rt *RenameTable) Apply(header []string, campaign report.Campaign) int {
	mapping := rt.For(campaign)
	renamed := 0
	for i, col := range header {
		if dest, ok := mapping[col]; ok && dest != col {
			header[i] = dest
			renamed++
		}
	}
	return renamed
}

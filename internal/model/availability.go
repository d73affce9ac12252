package model

import (
	"math"
	"strings"
)

// Level classifies how usable an account currently is.
type Level string

const (
	LevelOK      Level = "ok"
	LevelWarn    Level = "warn"
	LevelBad     Level = "bad"
	LevelUnknown Level = "unknown"
)

// LowRemainingPercent is the remaining-quota threshold at or below which a
// window counts as low.
const LowRemainingPercent = 20

// Availability is the computed status of an account's usage.
type Availability struct {
	Level Level  `json:"level"`
	Text  string `json:"text"`
}

// CalcAvailability derives the availability of an account from its latest
// usage snapshot. Both windows must be reported; a missing window means the
// upstream could not be read and the account is treated as unavailable.
func CalcAvailability(u *UsageSnapshot) Availability {
	if u == nil {
		return Availability{Level: LevelUnknown, Text: "unknown"}
	}
	if u.UsedPercent == nil || u.WindowMinutes == nil ||
		u.SecondaryUsedPercent == nil || u.SecondaryWindowMinutes == nil {
		return Availability{Level: LevelBad, Text: "unavailable"}
	}
	if *u.UsedPercent >= 100 || *u.SecondaryUsedPercent >= 100 {
		return Availability{Level: LevelBad, Text: "limited"}
	}
	if isLow(RemainingPercent(u.UsedPercent)) || isLow(RemainingPercent(u.SecondaryUsedPercent)) {
		return Availability{Level: LevelWarn, Text: "low"}
	}
	return Availability{Level: LevelOK, Text: "available"}
}

// RemainingPercent converts a used percentage into the remaining
// percentage, rounded and clamped to [0, 100]. Nil in, nil out.
func RemainingPercent(used *float64) *int {
	if used == nil || math.IsNaN(*used) {
		return nil
	}
	r := int(math.Round(100 - *used))
	if r < 0 {
		r = 0
	}
	if r > 100 {
		r = 100
	}
	return &r
}

func isLow(remain *int) bool {
	return remain != nil && *remain <= LowRemainingPercent
}

// IsLow reports whether either usage window has little quota left.
func IsLow(u *UsageSnapshot) bool {
	if u == nil {
		return false
	}
	return isLow(RemainingPercent(u.UsedPercent)) || isLow(RemainingPercent(u.SecondaryUsedPercent))
}

// UsageIndex maps account ids to their snapshot.
type UsageIndex map[string]*UsageSnapshot

// IndexUsage builds a UsageIndex. Snapshots without an account id are skipped;
// on duplicates the last one wins.
func IndexUsage(usage []UsageSnapshot) UsageIndex {
	idx := make(UsageIndex, len(usage))
	for i := range usage {
		if id := usage[i].Account(); id != "" {
			idx[id] = &usage[i]
		}
	}
	return idx
}

// UsageStats aggregates availability over all accounts.
type UsageStats struct {
	Total        int `json:"total"`
	OKCount      int `json:"okCount"`
	LowCount     int `json:"lowCount"`
	BadCount     int `json:"badCount"`
	UnknownCount int `json:"unknownCount"`
}

// ComputeUsageStats counts accounts by availability. LowCount is independent
// of Level: it counts every account with a low window.
func ComputeUsageStats(accounts []Account, usage []UsageSnapshot) UsageStats {
	idx := IndexUsage(usage)
	stats := UsageStats{Total: len(accounts)}
	for _, a := range accounts {
		u := idx[a.ID]
		switch CalcAvailability(u).Level {
		case LevelOK:
			stats.OKCount++
		case LevelBad:
			stats.BadCount++
		case LevelUnknown:
			stats.UnknownCount++
		}
		if IsLow(u) {
			stats.LowCount++
		}
	}
	return stats
}

// Account filters accepted by FilterAccounts.
const (
	FilterAll = "all"
	FilterLow = "low"
	FilterOK  = "ok"
	FilterBad = "bad"
)

// FilterAccounts returns the accounts matching a free-text query (label, id,
// group or tags, case-insensitive) and a status filter.
func FilterAccounts(accounts []Account, usage []UsageSnapshot, query, filter string) []Account {
	idx := IndexUsage(usage)
	q := strings.ToLower(strings.TrimSpace(query))

	out := make([]Account, 0, len(accounts))
	for _, a := range accounts {
		if q != "" && !matchesQuery(a, q) {
			continue
		}
		u := idx[a.ID]
		switch filter {
		case FilterLow:
			if !IsLow(u) {
				continue
			}
		case FilterOK:
			if CalcAvailability(u).Level != LevelOK {
				continue
			}
		case FilterBad:
			if CalcAvailability(u).Level != LevelBad {
				continue
			}
		}
		out = append(out, a)
	}
	return out
}

func matchesQuery(a Account, q string) bool {
	fields := []string{a.Label, a.ID, deref(a.GroupName), deref(a.Tags)}
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), q) {
			return true
		}
	}
	return false
}

// UsageRow is one dashboard line: an account and both of its windows.
type UsageRow struct {
	AccountID         string `json:"accountId"`
	AccountLabel      string `json:"accountLabel"`
	AccountSub        string `json:"accountSub"`
	PrimaryRemain     *int   `json:"primaryRemain,omitempty"`
	PrimaryResetsAt   *int64 `json:"primaryResetsAt,omitempty"`
	SecondaryRemain   *int   `json:"secondaryRemain,omitempty"`
	SecondaryResetsAt *int64 `json:"secondaryResetsAt,omitempty"`
}

// Dashboard is the summary shown on the dashboard page.
type Dashboard struct {
	OKCount          int        `json:"okCount"`
	WarnCount        int        `json:"warnCount"`
	BadCount         int        `json:"badCount"`
	Available        int        `json:"available"`
	Unavailable      int        `json:"unavailable"`
	OKPercent        int        `json:"okPercent"`
	WarnPercent      int        `json:"warnPercent"` // cumulative: ok + warn
	LatestCapturedAt *int64     `json:"latestCapturedAt,omitempty"`
	Rows             []UsageRow `json:"rows"`
}

// Summarize builds the dashboard summary. Accounts with unknown usage count
// towards neither side of the donut.
func Summarize(accounts []Account, usage []UsageSnapshot) Dashboard {
	idx := IndexUsage(usage)
	var d Dashboard

	for _, a := range accounts {
		switch CalcAvailability(idx[a.ID]).Level {
		case LevelOK:
			d.OKCount++
		case LevelWarn:
			d.WarnCount++
		case LevelBad:
			d.BadCount++
		}
	}
	for i := range usage {
		c := usage[i].CapturedAt
		if c != nil && (d.LatestCapturedAt == nil || *c > *d.LatestCapturedAt) {
			v := *c
			d.LatestCapturedAt = &v
		}
	}

	d.Available = d.OKCount
	d.Unavailable = d.WarnCount + d.BadCount

	total := d.OKCount + d.WarnCount + d.BadCount
	if total == 0 {
		total = 1
	}
	d.OKPercent = int(math.Round(float64(d.OKCount) / float64(total) * 100))
	d.WarnPercent = int(math.Round(float64(d.OKCount+d.WarnCount) / float64(total) * 100))

	d.Rows = BuildUsageRows(accounts, usage)
	return d
}

// BuildUsageRows pairs every account with its usage windows, in account order.
func BuildUsageRows(accounts []Account, usage []UsageSnapshot) []UsageRow {
	idx := IndexUsage(usage)
	rows := make([]UsageRow, 0, len(accounts))
	for _, a := range accounts {
		row := UsageRow{
			AccountID:    a.ID,
			AccountLabel: a.Label,
			AccountSub:   accountSub(a),
		}
		if u := idx[a.ID]; u != nil {
			row.PrimaryRemain = RemainingPercent(u.UsedPercent)
			row.PrimaryResetsAt = u.ResetsAt
			row.SecondaryRemain = RemainingPercent(u.SecondaryUsedPercent)
			row.SecondaryResetsAt = u.SecondaryResetsAt
		}
		rows = append(rows, row)
	}
	return rows
}

func accountSub(a Account) string {
	if s := deref(a.WorkspaceName); s != "" {
		return s
	}
	if s := deref(a.GroupName); s != "" {
		return s
	}
	return a.ID
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

package model

import (
	"encoding/json"
	"testing"
)

func ptrF(v float64) *float64 { return &v }
func ptrI(v int64) *int64     { return &v }
func ptrS(v string) *string   { return &v }

func TestCalcAvailability(t *testing.T) {
	tests := []struct {
		name  string
		usage *UsageSnapshot
		want  Level
	}{
		{
			name:  "nil usage is unknown",
			usage: nil,
			want:  LevelUnknown,
		},
		{
			name: "missing primary fields",
			usage: &UsageSnapshot{
				WindowMinutes:          ptrI(300),
				SecondaryUsedPercent:   ptrF(10),
				SecondaryWindowMinutes: ptrI(10080),
			},
			want: LevelBad,
		},
		{
			name: "missing secondary fields",
			usage: &UsageSnapshot{
				UsedPercent:            ptrF(10),
				WindowMinutes:          ptrI(300),
				SecondaryWindowMinutes: ptrI(10080),
			},
			want: LevelBad,
		},
		{
			name: "both windows under limit",
			usage: &UsageSnapshot{
				UsedPercent:            ptrF(10),
				WindowMinutes:          ptrI(300),
				SecondaryUsedPercent:   ptrF(5),
				SecondaryWindowMinutes: ptrI(10080),
			},
			want: LevelOK,
		},
		{
			name: "primary window exhausted",
			usage: &UsageSnapshot{
				UsedPercent:            ptrF(100),
				WindowMinutes:          ptrI(300),
				SecondaryUsedPercent:   ptrF(5),
				SecondaryWindowMinutes: ptrI(10080),
			},
			want: LevelBad,
		},
		{
			name: "secondary window low",
			usage: &UsageSnapshot{
				UsedPercent:            ptrF(10),
				WindowMinutes:          ptrI(300),
				SecondaryUsedPercent:   ptrF(85),
				SecondaryWindowMinutes: ptrI(10080),
			},
			want: LevelWarn,
		},
		{
			name: "exactly at low threshold",
			usage: &UsageSnapshot{
				UsedPercent:            ptrF(80),
				WindowMinutes:          ptrI(300),
				SecondaryUsedPercent:   ptrF(0),
				SecondaryWindowMinutes: ptrI(10080),
			},
			want: LevelWarn,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalcAvailability(tt.usage)
			if got.Level != tt.want {
				t.Errorf("Level = %q, want %q", got.Level, tt.want)
			}
			if got.Text == "" {
				t.Error("Text should not be empty")
			}
		})
	}
}

func TestRemainingPercent(t *testing.T) {
	tests := []struct {
		used *float64
		want *int
	}{
		{nil, nil},
		{ptrF(0), intPtr(100)},
		{ptrF(12.4), intPtr(88)},
		{ptrF(12.6), intPtr(87)},
		{ptrF(130), intPtr(0)},
		{ptrF(-5), intPtr(100)},
	}

	for _, tt := range tests {
		got := RemainingPercent(tt.used)
		if (got == nil) != (tt.want == nil) {
			t.Fatalf("RemainingPercent(%v) = %v, want %v", tt.used, got, tt.want)
		}
		if got != nil && *got != *tt.want {
			t.Errorf("RemainingPercent(%v) = %d, want %d", *tt.used, *got, *tt.want)
		}
	}
}

func intPtr(v int) *int { return &v }

func TestComputeUsageStats(t *testing.T) {
	accounts := []Account{{ID: "a"}, {ID: "b"}}
	usage := []UsageSnapshot{
		{AccountID: ptrS("a"), UsedPercent: ptrF(20), SecondaryUsedPercent: ptrF(40)},
		{AccountID: ptrS("b"), UsedPercent: ptrF(80), SecondaryUsedPercent: ptrF(10)},
	}

	out := ComputeUsageStats(accounts, usage)

	if out.Total != 2 {
		t.Errorf("Total = %d, want 2", out.Total)
	}
	if out.LowCount != 1 {
		t.Errorf("LowCount = %d, want 1", out.LowCount)
	}
}

func TestComputeUsageStats_UnknownAccounts(t *testing.T) {
	accounts := []Account{{ID: "a"}, {ID: "b"}, {ID: "c"}}

	out := ComputeUsageStats(accounts, nil)

	if out.UnknownCount != 3 {
		t.Errorf("UnknownCount = %d, want 3", out.UnknownCount)
	}
	if out.LowCount != 0 {
		t.Errorf("LowCount = %d, want 0", out.LowCount)
	}
}

func TestFilterAccounts(t *testing.T) {
	accounts := []Account{{ID: "a", Label: "alpha"}, {ID: "b", Label: "bravo"}}
	usage := []UsageSnapshot{
		{AccountID: ptrS("a"), UsedPercent: ptrF(90), SecondaryUsedPercent: ptrF(10)},
	}

	out := FilterAccounts(accounts, usage, "alp", FilterLow)

	if len(out) != 1 {
		t.Fatalf("len = %d, want 1", len(out))
	}
	if out[0].ID != "a" {
		t.Errorf("ID = %q, want %q", out[0].ID, "a")
	}
}

func TestFilterAccounts_QueryMatchesGroupAndTags(t *testing.T) {
	accounts := []Account{
		{ID: "a", Label: "alpha", GroupName: ptrS("TEAM")},
		{ID: "b", Label: "bravo", Tags: ptrS("backup,eu")},
		{ID: "c", Label: "charlie"},
	}

	if got := FilterAccounts(accounts, nil, "team", FilterAll); len(got) != 1 || got[0].ID != "a" {
		t.Errorf("group query = %+v, want [a]", got)
	}
	if got := FilterAccounts(accounts, nil, "EU", ""); len(got) != 1 || got[0].ID != "b" {
		t.Errorf("tags query = %+v, want [b]", got)
	}
	if got := FilterAccounts(accounts, nil, "", FilterAll); len(got) != 3 {
		t.Errorf("empty query len = %d, want 3", len(got))
	}
}

func TestSummarize(t *testing.T) {
	full := func(id string, used, secondary float64, captured int64) UsageSnapshot {
		return UsageSnapshot{
			AccountID:              ptrS(id),
			UsedPercent:            ptrF(used),
			WindowMinutes:          ptrI(300),
			SecondaryUsedPercent:   ptrF(secondary),
			SecondaryWindowMinutes: ptrI(10080),
			CapturedAt:             ptrI(captured),
		}
	}
	accounts := []Account{{ID: "a", Label: "alpha"}, {ID: "b", Label: "bravo"}, {ID: "c", Label: "charlie"}, {ID: "d"}}
	usage := []UsageSnapshot{
		full("a", 10, 10, 1700000000),
		full("b", 90, 10, 1700000300),
		full("c", 100, 10, 1700000100),
	}

	d := Summarize(accounts, usage)

	if d.OKCount != 1 || d.WarnCount != 1 || d.BadCount != 1 {
		t.Errorf("counts = %d/%d/%d, want 1/1/1", d.OKCount, d.WarnCount, d.BadCount)
	}
	if d.Available != 1 || d.Unavailable != 2 {
		t.Errorf("Available/Unavailable = %d/%d, want 1/2", d.Available, d.Unavailable)
	}
	if d.OKPercent != 33 {
		t.Errorf("OKPercent = %d, want 33", d.OKPercent)
	}
	if d.WarnPercent != 67 {
		t.Errorf("WarnPercent = %d, want 67", d.WarnPercent)
	}
	if d.LatestCapturedAt == nil || *d.LatestCapturedAt != 1700000300 {
		t.Errorf("LatestCapturedAt = %v, want 1700000300", d.LatestCapturedAt)
	}
	if len(d.Rows) != 4 {
		t.Fatalf("len(Rows) = %d, want 4", len(d.Rows))
	}
	if d.Rows[1].PrimaryRemain == nil || *d.Rows[1].PrimaryRemain != 10 {
		t.Errorf("Rows[1].PrimaryRemain = %v, want 10", d.Rows[1].PrimaryRemain)
	}
	if d.Rows[3].PrimaryRemain != nil {
		t.Errorf("Rows[3].PrimaryRemain = %v, want nil", d.Rows[3].PrimaryRemain)
	}
	if d.Rows[3].AccountSub != "d" {
		t.Errorf("Rows[3].AccountSub = %q, want %q", d.Rows[3].AccountSub, "d")
	}
}

func TestSummarize_Empty(t *testing.T) {
	d := Summarize(nil, nil)

	if d.OKPercent != 0 || d.WarnPercent != 0 {
		t.Errorf("percents = %d/%d, want 0/0", d.OKPercent, d.WarnPercent)
	}
	if d.LatestCapturedAt != nil {
		t.Errorf("LatestCapturedAt = %v, want nil", d.LatestCapturedAt)
	}
}

func TestUsageSnapshot_DecodeServicePayload(t *testing.T) {
	data := `{"accountId":"acc-1","usedPercent":42.5,"windowMinutes":300,"resetsAt":1705328200,"secondaryUsedPercent":null,"capturedAt":1705320000}`

	var u UsageSnapshot
	if err := json.Unmarshal([]byte(data), &u); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if u.Account() != "acc-1" {
		t.Errorf("Account() = %q, want acc-1", u.Account())
	}
	if u.UsedPercent == nil || *u.UsedPercent != 42.5 {
		t.Errorf("UsedPercent = %v, want 42.5", u.UsedPercent)
	}
	if u.SecondaryUsedPercent != nil {
		t.Errorf("SecondaryUsedPercent = %v, want nil", u.SecondaryUsedPercent)
	}
	if got := CalcAvailability(&u).Level; got != LevelBad {
		t.Errorf("Level = %q, want bad", got)
	}
}

func TestAPIKey_Disabled(t *testing.T) {
	if !(APIKey{Status: "Disabled"}).Disabled() {
		t.Error("Disabled() = false for \"Disabled\"")
	}
	if (APIKey{Status: "active"}).Disabled() {
		t.Error("Disabled() = true for \"active\"")
	}
}

func TestRequestLog_StatusClass(t *testing.T) {
	code := func(v int) *int { return &v }
	tests := []struct {
		code *int
		want string
	}{
		{nil, ""},
		{code(200), "2xx"},
		{code(404), "4xx"},
		{code(503), "5xx"},
		{code(42), ""},
	}
	for _, tt := range tests {
		if got := (RequestLog{StatusCode: tt.code}).StatusClass(); got != tt.want {
			t.Errorf("StatusClass(%v) = %q, want %q", tt.code, got, tt.want)
		}
	}
}

package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTaskID_Deterministic(t *testing.T) {
	a := TaskID(1, "1818", "TEST-001", "scan_a.xlsx", 10)
	b := TaskID(1, "1818", "TEST-001", "scan_a.xlsx", 10)

	assert.Equal(t, a, b)
	assert.Len(t, a, 40)
}

func TestTaskID_UsesBasename(t *testing.T) {
	plain := TaskID(1, "1818", "TEST-001", "scan_a.xlsx", 10)

	assert.Equal(t, plain, TaskID(1, "1818", "TEST-001", `\\share\exports\scan_a.xlsx`, 10))
	assert.Equal(t, plain, TaskID(1, "1818", "TEST-001", "/mnt/exports/scan_a.xlsx", 10))
}

func TestTaskID_StripsRoleSuffix(t *testing.T) {
	plain := TaskID(1, "1818", "TEST-001", "scan_a.xlsx", 10)

	assert.Equal(t, plain, TaskID(1, "1818", "TEST-001（设计人员）", "scan_a.xlsx", 10))
	assert.Equal(t, plain, TaskID(1, "1818", "TEST-001(接口工程师)", "scan_a.xlsx", 10))
}

func TestTaskID_DistinctKeys(t *testing.T) {
	base := TaskID(1, "1818", "TEST-001", "scan_a.xlsx", 10)

	assert.NotEqual(t, base, TaskID(2, "1818", "TEST-001", "scan_a.xlsx", 10))
	assert.NotEqual(t, base, TaskID(1, "1818", "TEST-001", "scan_a.xlsx", 11))
	assert.NotEqual(t, base, TaskID(1, "1818", "TEST-001", "scan_b.xlsx", 10))
}

func TestBusinessID(t *testing.T) {
	assert.Equal(t, "1|1818|TEST-001", BusinessID(1, "1818", "TEST-001"))
	assert.Equal(t, "1|1818|TEST-001", BusinessID(1, "1818", "TEST-001（设计人员）"))
}

func TestNormalizeInterfaceID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"IF-001", "IF-001"},
		{"IF-001（设计人员）", "IF-001"},
		{"IF-001(接口工程师)", "IF-001"},
		{"IF-001 （室主任）", "IF-001"},
		{"IF(001)-A（设计人员）", "IF(001)-A"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeInterfaceID(tt.in))
		})
	}
}

func TestSameInterfaceTime(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want bool
	}{
		{"identical", "2025.11.07", "2025.11.07", true},
		{"dot vs dash", "2025.11.07", "2025-11-07", true},
		{"dot vs slash", "2025.11.07", "2025/11/07", true},
		{"chinese date", "2025年11月7日", "2025.11.07", true},
		{"month-day matches any year", "11.07", "2025.11.07", true},
		{"month-day both sides", "11.07", "11-07", true},
		{"different day", "2025.11.07", "2025.11.08", false},
		{"different year", "2024.01.15", "2026.01.15", false},
		{"non-date equal", "25C2", "25C2", true},
		{"non-date trimmed", " 25C2 ", "25C2", true},
		{"non-date different", "25C2", "25C3", false},
		{"date vs non-date", "2025.11.07", "25C2", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SameInterfaceTime(tt.a, tt.b))
			assert.Equal(t, tt.want, SameInterfaceTime(tt.b, tt.a))
		})
	}
}

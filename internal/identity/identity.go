// Package identity derives deterministic task identifiers and provides the
// comparison predicates shared by the lifecycle service.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// TimestampLayout is the storage format for all timestamp columns.
const TimestampLayout = "2006-01-02 15:04:05"

// DateLayout is the day-granularity format used for scan bookkeeping.
const DateLayout = "2006-01-02"

// roleSuffixPattern matches a trailing parenthetical role annotation on an
// interface id, in either ASCII or fullwidth parentheses.
var roleSuffixPattern = regexp.MustCompile(`\s*[（(][^（()）]*[)）]\s*$`)

// TaskID returns the deterministic 40-hex-char identifier of a task row.
// The source file is reduced to its basename and the interface id stripped
// of any role suffix first, so the same row hashes identically whether the
// scan saw a UNC path or a local one, a suffixed id or a bare one.
func TaskID(fileType int, projectID, interfaceID, sourceFile string, rowIndex int) string {
	joined := fmt.Sprintf("%d|%s|%s|%s|%d",
		fileType, projectID, NormalizeInterfaceID(interfaceID), Basename(sourceFile), rowIndex)
	sum := sha256.Sum256([]byte(joined))
	return hex.EncodeToString(sum[:])[:40]
}

// BusinessID returns the cross-snapshot equivalence class of a logical
// interface: the same interface keeps the same business id no matter which
// workbook or row currently carries it. Role-suffixed interface ids fold
// into the same class as their bare form.
func BusinessID(fileType int, projectID, interfaceID string) string {
	return fmt.Sprintf("%d|%s|%s", fileType, projectID, NormalizeInterfaceID(interfaceID))
}

// ArchivedTaskID re-keys a task row at archive time. Archived rows leave
// the live keyspace so a reappearing or forked row can claim the
// deterministic id for the same locator.
func ArchivedTaskID(id, archivedAt string) string {
	sum := sha256.Sum256([]byte(id + "|" + archivedAt))
	return hex.EncodeToString(sum[:])[:40]
}

// Basename strips any directory components from a workbook path. Both
// Windows and POSIX separators are honored regardless of the host platform,
// since scans may hand over UNC paths.
func Basename(path string) string {
	p := strings.ReplaceAll(path, "\\", "/")
	if i := strings.LastIndex(p, "/"); i >= 0 {
		p = p[i+1:]
	}
	return p
}

// NormalizeInterfaceID strips a trailing parenthetical role suffix from an
// interface id, e.g. "IF-001（设计人员）" becomes "IF-001".
func NormalizeInterfaceID(id string) string {
	return strings.TrimSpace(roleSuffixPattern.ReplaceAllString(id, ""))
}

// FormatTimestamp renders t in the storage timestamp format.
func FormatTimestamp(t time.Time) string {
	return t.Format(TimestampLayout)
}

// FormatDate renders t in the storage date format.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// ParseTimestamp parses a stored timestamp, accepting a bare date as well.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(TimestampLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(DateLayout, s)
}

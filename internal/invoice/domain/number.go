package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	scheduledomain "github.com/smallbiznis/billingschedule/internal/schedule/domain"
)

// YearMonth is the numbering bucket of t, e.g. "202501".
func YearMonth(t time.Time) string {
	return t.UTC().Format("200601")
}

// FormatNumber renders {PREFIX}-{YYYYMM}-{NNNN}.
func FormatNumber(prefix, yearMonth string, seq int) string {
	return fmt.Sprintf("%s-%s-%04d", prefix, yearMonth, seq)
}

// BucketPattern is the LIKE pattern matching every number in a bucket.
func BucketPattern(prefix, yearMonth string) string {
	return prefix + "-" + yearMonth + "-%"
}

// ParseSequence extracts the numeric suffix of a number in the given bucket.
func ParseSequence(number, prefix, yearMonth string) (int, bool) {
	rest, ok := strings.CutPrefix(number, prefix+"-"+yearMonth+"-")
	if !ok || rest == "" {
		return 0, false
	}
	seq, err := strconv.Atoi(rest)
	if err != nil || seq < 0 {
		return 0, false
	}
	return seq, true
}

// HasPrefix reports whether number was issued under prefix.
func HasPrefix(number, prefix string) bool {
	return prefix != "" && strings.HasPrefix(number, prefix+"-")
}

// ClassForNumber is the invoice class a number's prefix implies. The stored
// class mirrors the number, so renumbering under another prefix moves it too.
// ok is false when the number carries neither prefix.
func ClassForNumber(number, proformaPrefix, taxPrefix string) (scheduledomain.InvoiceClass, bool) {
	switch {
	case HasPrefix(number, taxPrefix):
		return scheduledomain.InvoiceClassTax, true
	case HasPrefix(number, proformaPrefix):
		return scheduledomain.InvoiceClassProforma, true
	}
	return "", false
}

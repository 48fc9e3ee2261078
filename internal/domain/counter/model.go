package counter

import (
	"fmt"
	"regexp"

	"github.com/patholab/lis/internal/platform/apperr"
)

// Counter keys. Each key numbers independently within a year.
const (
	KeyCase     = "case"
	KeyApproval = "approval"
	KeyTicket   = "ticket"
)

var validKeys = map[string]bool{
	KeyCase:     true,
	KeyApproval: true,
	KeyTicket:   true,
}

func ValidKey(key string) bool { return validKeys[key] }

var (
	CaseCodePattern     = regexp.MustCompile(`^20\d{2}-\d{5}$`)
	ApprovalCodePattern = regexp.MustCompile(`^AP-20\d{2}-\d{3}$`)
	TicketCodePattern   = regexp.MustCompile(`^T-20\d{2}-\d{3}$`)
)

const (
	caseWidthMax  = 99999
	shortWidthMax = 999
)

// Counter is one (key, year) record.
type Counter struct {
	Key        string `json:"key"`
	Year       int    `json:"year"`
	LastNumber int64  `json:"last_number"`
}

func checkYear(year int) error {
	if year < 2000 || year > 2099 {
		return apperr.BadParameter("year %d cannot be encoded in a code", year)
	}
	return nil
}

func overflow(key string, year int, n int64) error {
	return apperr.New(apperr.KindCounterUnavailable, "%s counter for %d overflowed at %d", key, year, n)
}

// FormatCaseCode renders YYYY-NNNNN.
func FormatCaseCode(year int, n int64) (string, error) {
	if err := checkYear(year); err != nil {
		return "", err
	}
	if n < 1 || n > caseWidthMax {
		return "", overflow(KeyCase, year, n)
	}
	return fmt.Sprintf("%04d-%05d", year, n), nil
}

// FormatApprovalCode renders AP-YYYY-NNN.
func FormatApprovalCode(year int, n int64) (string, error) {
	if err := checkYear(year); err != nil {
		return "", err
	}
	if n < 1 || n > shortWidthMax {
		return "", overflow(KeyApproval, year, n)
	}
	return fmt.Sprintf("AP-%04d-%03d", year, n), nil
}

// FormatTicketCode renders T-YYYY-NNN.
func FormatTicketCode(year int, n int64) (string, error) {
	if err := checkYear(year); err != nil {
		return "", err
	}
	if n < 1 || n > shortWidthMax {
		return "", overflow(KeyTicket, year, n)
	}
	return fmt.Sprintf("T-%04d-%03d", year, n), nil
}

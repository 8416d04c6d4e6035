package transfer

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// SyncResult is the outcome of one transfer attempt.
type SyncResult struct {
	Success          bool
	Duration         time.Duration
	FilesTransferred int64
	BytesTransferred int64
	Err              error
}

// ErrorMessage returns the error text or an empty string on success.
func (r SyncResult) ErrorMessage() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

var (
	filesTransferredRe = regexp.MustCompile(`Number of (?:regular )?files transferred:\s*([\d,.]+)`)
	bytesTransferredRe = regexp.MustCompile(`Total transferred file size:\s*([\d,.]+)\s*bytes`)
)

// ParseStats extracts the transferred file count and byte size from rsync --stats output.
// Missing values are reported as zero.
func ParseStats(output string) (files, bytes int64) {
	return extractNumber(filesTransferredRe, output), extractNumber(bytesTransferredRe, output)
}

func extractNumber(re *regexp.Regexp, output string) int64 {
	m := re.FindStringSubmatch(output)
	if m == nil {
		return 0
	}

	digits := strings.NewReplacer(",", "", ".", "").Replace(m[1])
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

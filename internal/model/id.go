package model

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

var runIDRegex = regexp.MustCompile(`^run_[0-9]{10}_[0-9a-f]{8}$`)

// NewRunID returns "run_<unix seconds>_<8 hex>", sortable by start time.
func NewRunID() string {
	return newRunID(time.Now(), uuid.New())
}

func newRunID(now time.Time, id uuid.UUID) string {
	hex := strings.ReplaceAll(id.String(), "-", "")
	return fmt.Sprintf("run_%010d_%s", now.Unix(), hex[:8])
}

// ValidateRunID reports whether id has the shape NewRunID produces.
func ValidateRunID(id string) bool {
	return runIDRegex.MatchString(id)
}


// Package jobid encodes workflow metadata into broker job names.
//
// A repeatable job only carries a name, so the workflow name, function name,
// cron expression and owner key are joined into a single token with a
// reserved delimiter. Decode is the left inverse of Encode.
package jobid

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Delimiter separates identity fields. No field may contain it.
const Delimiter = "|"

const fieldCount = 4

var (
	// ErrInvalidIdentityField is returned when a field contains Delimiter.
	ErrInvalidIdentityField = errors.New("invalid job identity field")

	// ErrMalformedJobIdentity is returned when a token does not split into exactly four fields.
	ErrMalformedJobIdentity = errors.New("malformed job identity")
)

// Identity is the decoded form of a job identity token.
type Identity struct {
	Workflow string
	Function string
	Cron     string
	Owner    string
}

// Encode joins the four identity fields into a token.
func Encode(workflow, function, cron, owner string) (string, error) {
	fields := [fieldCount]struct{ name, value string }{
		{"workflow", workflow},
		{"function", function},
		{"cron", cron},
		{"owner", owner},
	}

	values := make([]string, 0, fieldCount)
	for _, f := range fields {
		if strings.Contains(f.value, Delimiter) {
			return "", fmt.Errorf("%w: %s %q contains %q", ErrInvalidIdentityField, f.name, f.value, Delimiter)
		}
		values = append(values, f.value)
	}

	return strings.Join(values, Delimiter), nil
}

// Decode splits a token produced by Encode.
func Decode(token string) (Identity, error) {
	parts := strings.Split(token, Delimiter)
	if len(parts) != fieldCount {
		return Identity{}, fmt.Errorf("%w: %q has %d fields, want %d", ErrMalformedJobIdentity, token, len(parts), fieldCount)
	}

	return Identity{
		Workflow: parts[0],
		Function: parts[1],
		Cron:     parts[2],
		Owner:    parts[3],
	}, nil
}

// OneShotName is the fixed job name used for non-recurring submissions.
func OneShotName(owner, function string) string {
	if owner == "" {
		owner = "customId"
	}
	return owner + "." + function
}

// RepeatKey derives the broker key of a repeatable series. seriesID is the
// optional caller-chosen series identifier and is usually empty.
func RepeatKey(name, seriesID, cron string) string {
	return name + ":" + seriesID + ":" + cron
}

// RepeatInstanceID derives the id of the concrete job a repeatable series
// materializes for the run at next. Brokers must use this function when
// materializing instances so that lookups by the same inputs succeed.
func RepeatInstanceID(name string, next time.Time, key string) string {
	sum := md5.Sum([]byte(name + key))
	return "repeat:" + hex.EncodeToString(sum[:]) + ":" + strconv.FormatInt(next.UnixMilli(), 10)
}

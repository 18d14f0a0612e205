package operation

import (
	"strconv"
	"strings"
)

const activityIDPrefix = "ACTIVITY_"

// ActivityID encodes an operation id as its activity id.
func ActivityID(operationID int64) string {
	return activityIDPrefix + strconv.FormatInt(operationID, 10)
}

// ParseActivityID decodes an activity id back to its operation id. Only the
// canonical encoding of a positive id is accepted.
func ParseActivityID(activityID string) (int64, error) {
	suffix, ok := strings.CutPrefix(activityID, activityIDPrefix)
	if !ok {
		return 0, validationError("activity id %q lacks the %s prefix", activityID, activityIDPrefix)
	}

	id, err := strconv.ParseInt(suffix, 10, 64)
	if err != nil || id <= 0 || strconv.FormatInt(id, 10) != suffix {
		return 0, validationError("activity id %q does not name a positive operation id", activityID)
	}
	return id, nil
}

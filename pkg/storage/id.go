package storage

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// GenerateID returns a collision-resistant record identifier: a base-36
// millisecond timestamp followed by a random component. The time prefix keeps
// ids roughly sortable by creation time; the suffix makes collisions within
// one millisecond irrelevant.
func GenerateID() string {
	ts := strconv.FormatInt(time.Now().UnixMilli(), 36)
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return ts + "-" + random
}

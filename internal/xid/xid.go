package xid

import (
	"fmt"

	"github.com/google/uuid"
)

// New returns an opaque identifier such as "rec-3f1c...". Identifiers never
// contain commas, which keeps share tokens short.
func New(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
}

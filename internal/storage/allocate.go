package storage

import (
	"fmt"
	"time"
)

// AllocateName resolves desired against a snapshot of the names already in the
// namespace. A free name comes back unchanged; a taken one gets the current
// unix-second timestamp prefixed. If that prefixed name is itself taken the
// timestamp advances until a free name is found, so a batch carrying several
// files with the same name never overwrites an earlier one.
func AllocateName(desired string, taken map[string]struct{}, now time.Time) string {
	if _, ok := taken[desired]; !ok {
		return desired
	}
	for ts := now.Unix(); ; ts++ {
		name := fmt.Sprintf("%d_%s", ts, desired)
		if _, ok := taken[name]; !ok {
			return name
		}
	}
}

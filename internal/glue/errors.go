package glue

import (
	"fmt"
	"strings"
)

// GlueError reports a resolution collision: source records forced into
// one entity that the crosswalk records as distinct, or distinct
// native ids of one source merged without a crosswalk entry.
type GlueError struct {
	Kind    string
	Members []string
	Reason  string
}

func (e *GlueError) Error() string {
	return fmt.Sprintf("resolving %s entities: %s: %s", e.Kind, e.Reason, strings.Join(e.Members, ", "))
}

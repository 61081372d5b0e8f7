package helpers

import (
	"strings"

	"github.com/juju/errors"
)

// FoldErrors collapses a multi-error validation pass into one error,
// nil when every element is nil.
func FoldErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	ss := make([]string, 0, len(errs))
	for _, e := range errs {
		if e != nil {
			ss = append(ss, e.Error())
		}
	}
	if len(ss) == 0 {
		return nil
	}
	return errors.New(strings.Join(ss, "\n"))
}

package types

import (
	"fmt"
)

// FormatError reports a file or record that does not have the expected layout.
type FormatError struct {
	Path   string
	Reason string
}

func (e *FormatError) Error() string {
	if e.Path == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Reason)
}

// NotFoundError reports a wallet that opened fine but holds no master key
// with the requested id.
type NotFoundError struct {
	Path  string
	Table string
	ID    uint32
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf(
		"encrypted master key #%d not found in the Bitcoin Core wallet file\n"+
			"(is this wallet encrypted? is this a standard Bitcoin Core wallet?)",
		e.ID,
	)
}

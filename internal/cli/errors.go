package cli

import (
	"fmt"

	"github.com/vburojevic/beacon/internal/output"
)

// CommandError is returned by a command after its failure has been reported
// on stdout (ndjson) or stderr (text).
type CommandError struct {
	Code    string
	Message string
}

func (e *CommandError) Error() string { return e.Message }

// outputErrorCommon reports a failure in the active output format and
// returns it as a *CommandError.
func outputErrorCommon(globals *Globals, code, message string, hint ...string) error {
	if globals != nil && globals.Format == "ndjson" {
		output.NewNDJSONWriter(globals.Stdout).WriteError(code, message, hint...)
	} else if globals != nil {
		fmt.Fprintf(globals.Stderr, "Error [%s]: %s", code, message)
		if len(hint) > 0 && hint[0] != "" {
			fmt.Fprintf(globals.Stderr, " (hint: %s)", hint[0])
		}
		fmt.Fprintln(globals.Stderr)
	}
	return &CommandError{Code: code, Message: message}
}

package cli

// validateFlags rejects flag combinations shared by the sink and replay
// commands. hasSink is true when the command runs a local collector.
func validateFlags(globals *Globals, failBatch int, outputDir string, hasSink bool) error {
	if failBatch < 0 {
		return outputErrorCommon(globals, "INVALID_FLAGS", "--fail-batch must not be negative")
	}
	if !hasSink && failBatch > 0 {
		return outputErrorCommon(globals, "INVALID_FLAGS", "--fail-batch needs a local collector", "add --local")
	}
	if !hasSink && outputDir != "" {
		return outputErrorCommon(globals, "INVALID_FLAGS", "--output-dir needs a local collector", "add --local")
	}
	// quiet + text prints nothing a human can use
	if globals != nil && globals.Format == "text" && globals.Quiet {
		return outputErrorCommon(globals, "INVALID_FLAGS", "--quiet is only supported with ndjson output", "switch to --format ndjson or drop --quiet")
	}
	return nil
}

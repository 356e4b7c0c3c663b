package cli

import (
	"os"

	"github.com/mattn/go-isatty"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// newLogger builds the zap logger for commands: JSON unless stderr is a
// terminal, debug with --verbose, warnings only with --quiet.
func newLogger(globals *Globals) *zap.Logger {
	level := zap.InfoLevel
	switch {
	case globals.Verbose:
		level = zap.DebugLevel
	case globals.Quiet:
		level = zap.WarnLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.Encoding = "json"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if stderrIsTerminal(globals) {
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	enc := zapcore.NewJSONEncoder(cfg.EncoderConfig)
	if cfg.Encoding == "console" {
		enc = zapcore.NewConsoleEncoder(cfg.EncoderConfig)
	}
	core := zapcore.NewCore(enc, zapcore.Lock(zapcore.AddSync(globals.Stderr)), cfg.Level)
	return zap.New(core)
}

func stderrIsTerminal(globals *Globals) bool {
	f, ok := globals.Stderr.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Package logging configures zap for the CLI and the API server and tees
// log lines into background job output.
package logging

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a logger. JSON output is meant for machine consumption; the
// console format is for operators watching a migration.
func New(jsonOutput, verbose bool) (*zap.SugaredLogger, error) {
	level := zap.InfoLevel
	if verbose {
		level = zap.DebugLevel
	}

	if jsonOutput {
		config := zap.NewProductionConfig()
		config.Level = zap.NewAtomicLevelAt(level)
		config.OutputPaths = []string{"stderr"}
		logger, err := config.Build()
		if err != nil {
			return nil, err
		}
		return logger.Sugar(), nil
	}

	enc := zapcore.NewConsoleEncoder(consoleEncoderConfig("2006-01-02 15:04:05"))
	return zap.New(zapcore.NewCore(enc, zapcore.AddSync(os.Stderr), level)).Sugar(), nil
}

func consoleEncoderConfig(timeLayout string) zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:          "time",
		LevelKey:         "level",
		MessageKey:       "msg",
		EncodeTime:       zapcore.TimeEncoderOfLayout(timeLayout),
		EncodeLevel:      zapcore.CapitalLevelEncoder,
		EncodeDuration:   zapcore.StringDurationEncoder,
		ConsoleSeparator: " ",
	}
}

// LineSink receives one formatted log line per entry.
type LineSink interface {
	AppendLog(line string)
}

// jobCore writes console-formatted entries into a LineSink.
type jobCore struct {
	zapcore.LevelEnabler
	enc  zapcore.Encoder
	sink LineSink
}

// NewJobCore returns a core that appends every enabled entry to sink.
func NewJobCore(sink LineSink, level zapcore.LevelEnabler) zapcore.Core {
	return &jobCore{
		LevelEnabler: level,
		enc:          zapcore.NewConsoleEncoder(consoleEncoderConfig("15:04:05")),
		sink:         sink,
	}
}

func (c *jobCore) With(fields []zapcore.Field) zapcore.Core {
	enc := c.enc.Clone()
	for _, f := range fields {
		f.AddTo(enc)
	}
	return &jobCore{LevelEnabler: c.LevelEnabler, enc: enc, sink: c.sink}
}

func (c *jobCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *jobCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	buf, err := c.enc.EncodeEntry(ent, fields)
	if err != nil {
		return err
	}
	c.sink.AppendLog(strings.TrimRight(buf.String(), "\n"))
	buf.Free()
	return nil
}

func (c *jobCore) Sync() error { return nil }

// ForJob returns a logger that writes to base and, at info level and
// above, to sink.
func ForJob(base *zap.SugaredLogger, sink LineSink) *zap.SugaredLogger {
	if base == nil {
		base = zap.NewNop().Sugar()
	}
	return base.Desugar().WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, NewJobCore(sink, zapcore.InfoLevel))
	})).Sugar()
}

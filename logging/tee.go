package logging

import (
	"go.uber.org/zap/zapcore"
)

// newTeeCore writes every entry to console and, when file is non-nil, to
// file. The file always gets JSON; the console gets JSON in production and
// colored text in development.
func newTeeCore(level zapcore.LevelEnabler, console, file zapcore.WriteSyncer, development bool) zapcore.Core {
	consoleEnc := zapcore.NewJSONEncoder(jsonEncoderConfig())
	if development {
		consoleEnc = zapcore.NewConsoleEncoder(consoleEncoderConfig())
	}
	cores := []zapcore.Core{zapcore.NewCore(consoleEnc, console, level)}
	if file != nil {
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(jsonEncoderConfig()), file, level))
	}
	return zapcore.NewTee(cores...)
}

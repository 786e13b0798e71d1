// Package log wires the process-wide *zap.Logger exactly the way
// moto/utils does: a rotating lumberjack sink feeding a zap JSON core,
// level-gated from config.
package log

import (
	"time"

	"github.com/natefinch/lumberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"bdt/config"
)

// Logger is the process-wide structured logger.
var Logger *zap.Logger

func init() {
	Logger = build()
}

// Reload rebuilds Logger from the current config.GlobalCfg, used after
// config.Reload swaps in a new log level/path.
func Reload() {
	Logger = build()
}

func build() *zap.Logger {
	gated := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		return lvl >= levelMap[config.GlobalCfg.Log.Level]
	})

	hook := lumberjack.Logger{
		Filename:   config.GlobalCfg.Log.Path,
		MaxSize:    1024,
		MaxBackups: 5,
		MaxAge:     30,
		Compress:   true,
	}
	files := zapcore.AddSync(&hook)

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	fileEncoder := zapcore.NewJSONEncoder(encoderConfig)

	core := zapcore.NewTee(
		zapcore.NewCore(fileEncoder, files, gated),
	)

	return zap.New(core, zap.AddCaller(), zap.Development())
}

var levelMap = map[string]zapcore.Level{
	"debug":  zapcore.DebugLevel,
	"info":   zapcore.InfoLevel,
	"warn":   zapcore.WarnLevel,
	"error":  zapcore.ErrorLevel,
	"dpanic": zapcore.DPanicLevel,
	"panic":  zapcore.PanicLevel,
	"fatal":  zapcore.FatalLevel,
}

// TimeEncoder formats timestamps the way moto/utils does.
func TimeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.Format("2006-01-02 15:04:05.000"))
}

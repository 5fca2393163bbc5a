package logging

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// New builds the process logger. mode "dev" selects a console encoder at debug
// level; anything else logs JSON at info level. A non-empty file adds a rotating
// JSON sink next to stdout.
func New(mode, file string) *zap.Logger {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "time"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeDuration = zapcore.StringDurationEncoder

	level := zap.InfoLevel
	var console zapcore.Encoder
	if strings.EqualFold(mode, "dev") {
		level = zap.DebugLevel
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		console = zapcore.NewConsoleEncoder(encoderConfig)
	} else {
		console = zapcore.NewJSONEncoder(encoderConfig)
	}

	cores := []zapcore.Core{zapcore.NewCore(console, zapcore.AddSync(os.Stdout), level)}
	if file != "" {
		fileEncoder := zap.NewProductionEncoderConfig()
		fileEncoder.TimeKey = "time"
		fileEncoder.EncodeTime = zapcore.ISO8601TimeEncoder
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(fileEncoder),
			zapcore.AddSync(&lumberjack.Logger{
				Filename:   file,
				MaxSize:    50,
				MaxBackups: 3,
				MaxAge:     14,
				Compress:   true,
			}),
			level,
		))
	}
	return zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddStacktrace(zap.ErrorLevel))
}

// HashID shortens an identity for logs so raw user ids never hit disk.
func HashID(id string) string {
	if id == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(id))
	return "hash:" + hex.EncodeToString(sum[:])[:12]
}

package logsvc

import (
	"fmt"
	"os"

	"github.com/rollbar/rollbar-go"
	"github.com/rollbar/rollbar-go/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/daniel-alt-pages/ietac-sub000/core"
	"github.com/daniel-alt-pages/ietac-sub000/core/user"
)

// Logger writes structured logs through zap and reports warnings and errors to Rollbar.
type Logger struct {
	zap     *zap.Logger
	rollbar bool
}

var _ core.Logger = (*Logger)(nil)

// NewZap builds a JSON logger writing to stdout and, when conf.Log.File is set, to a rotated file.
func NewZap(conf *core.Config) *zap.Logger {
	encoderConfig := zapcore.EncoderConfig{
		MessageKey:     "msg",
		LevelKey:       "level",
		TimeKey:        "time",
		NameKey:        "logger",
		CallerKey:      "file",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
		EncodeName:     zapcore.FullNameEncoder,
	}

	level := zap.NewAtomicLevelAt(zap.InfoLevel)
	if conf.Debug {
		level.SetLevel(zap.DebugLevel)
	}
	if lvl, err := zapcore.ParseLevel(conf.Log.Level); err == nil && conf.Log.Level != "" {
		level.SetLevel(lvl)
	}

	writers := []zapcore.WriteSyncer{zapcore.AddSync(os.Stdout)}
	if conf.Log.File != "" {
		writers = append(writers, zapcore.AddSync(&lumberjack.Logger{
			Filename:   conf.Log.File,
			MaxSize:    conf.Log.MaxSizeMB,
			MaxAge:     conf.Log.MaxAgeDays,
			MaxBackups: conf.Log.MaxBackups,
		}))
	}

	zc := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.NewMultiWriteSyncer(writers...), level)
	return zap.New(zc, zap.AddCaller(), zap.AddCallerSkip(1), zap.Fields(
		zap.String("app", conf.AppName),
		zap.String("env", conf.Env),
		zap.String("build", conf.Build),
	))
}

// NewLogger wraps zl. Rollbar reporting is enabled when conf carries a token.
func NewLogger(zl *zap.Logger, conf *core.Config) *Logger {
	enabled := conf.RollbarToken != "" && !conf.TestMode
	if enabled {
		rollbar.SetToken(conf.RollbarToken)
		rollbar.SetEnvironment(conf.Env)
		rollbar.SetServerHost(conf.Server.Host)
		rollbar.SetCodeVersion(conf.Build)
		rollbar.SetStackTracer(errors.StackTracer)
	}
	rollbar.SetEnabled(enabled)
	return &Logger{zap: zl, rollbar: enabled}
}

// Sync flushes buffered logs and pending Rollbar items.
func (l *Logger) Sync() {
	_ = l.zap.Sync()
	if l.rollbar {
		rollbar.Wait()
	}
}

// fields converts the args: error, map[string]interface{} or user.User; anything else is logged as is.
func fields(args []interface{}) []zap.Field {
	flds := make([]zap.Field, 0, len(args))
	for i, arg := range args {
		switch v := arg.(type) {
		case error:
			flds = append(flds, zap.Error(v))
		case map[string]interface{}:
			for k, val := range v {
				flds = append(flds, zap.Any(k, val))
			}
		case user.User:
			flds = append(flds, zap.String("user", v.Actor()))
		case *user.User:
			if v != nil {
				flds = append(flds, zap.String("user", v.Actor()))
			}
		default:
			flds = append(flds, zap.Any(fmt.Sprintf("arg%d", i), v))
		}
	}
	return flds
}

// prepare builds the rollbar arguments and attaches the first user.User found as the person.
func (l *Logger) prepare(msg string, args []interface{}) []interface{} {
	var usrSet bool
	newArgs := make([]interface{}, 0, len(args)+1)
	newArgs = append(newArgs, msg)
	for _, arg := range args {
		if usr, ok := arg.(user.User); ok {
			if !usrSet {
				rollbar.SetPerson(usr.ID, usr.Username, usr.Email)
				usrSet = true
			}
		} else {
			newArgs = append(newArgs, arg)
		}
	}
	if !usrSet {
		rollbar.ClearPerson()
	}
	return newArgs
}

func (l *Logger) Debug(msg string, args ...interface{}) {
	l.zap.Debug(msg, fields(args)...)
}

func (l *Logger) Info(msg string, args ...interface{}) {
	l.zap.Info(msg, fields(args)...)
}

func (l *Logger) Warn(msg string, args ...interface{}) {
	l.zap.Warn(msg, fields(args)...)
	if l.rollbar {
		rollbar.Warning(l.prepare(msg, args)...)
	}
}

func (l *Logger) Error(msg string, args ...interface{}) {
	l.zap.Error(msg, fields(args)...)
	if l.rollbar {
		rollbar.Error(l.prepare(msg, args)...)
	}
}

func (l *Logger) Fatal(msg string, args ...interface{}) {
	if l.rollbar {
		rollbar.Critical(l.prepare(msg, args)...)
		rollbar.Wait()
	}
	l.zap.Fatal(msg, fields(args)...)
}

package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ohmynofan/paws-community-bot/internal/domain/model"
	"github.com/ohmynofan/paws-community-bot/internal/platform/ui"
	"github.com/ohmynofan/paws-community-bot/pkg/utils"
)

var (
	fileLogger zerolog.Logger = zerolog.Nop()
	once       sync.Once
	logFile    io.Closer
	console    = true
)

func Init(path string) error {
	var err error
	once.Do(func() {
		if err = os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return
		}
		zerolog.TimestampFunc = func() time.Time { return time.Now().UTC() }
		rotator := &lumberjack.Logger{Filename: path, MaxSize: 25, MaxBackups: 3, Compress: true}
		logFile = rotator
		fileLogger = zerolog.New(rotator).With().Timestamp().Logger()
	})
	return err
}

func Close() error {
	if logFile != nil {
		return logFile.Close()
	}
	return nil
}

// SetOutput replaces the file sink and toggles console lines. Used by tests
// and by callers that want logs somewhere other than the rotated file.
func SetOutput(w io.Writer, withConsole bool) {
	if w == nil {
		fileLogger = zerolog.Nop()
	} else {
		fileLogger = zerolog.New(w).With().Timestamp().Logger()
	}
	console = withConsole
}

type ClassLogger struct {
	class   string
	session *model.Session
	runID   string
}

func NewLogger(v interface{}, session *model.Session) *ClassLogger {
	t := reflect.TypeOf(v)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return &ClassLogger{class: t.Name(), session: session}
}

func NewNamed(name string, session *model.Session) *ClassLogger {
	return &ClassLogger{class: name, session: session}
}

func (l *ClassLogger) WithRun(runID string) *ClassLogger {
	clone := *l
	clone.runID = runID
	return &clone
}

func (l *ClassLogger) Info(msg string)    { l.emit(ui.LevelInfo, zerolog.InfoLevel, msg) }
func (l *ClassLogger) Success(msg string) { l.emit(ui.LevelSuccess, zerolog.InfoLevel, msg) }
func (l *ClassLogger) Warn(msg string)    { l.emit(ui.LevelWarning, zerolog.WarnLevel, msg) }
func (l *ClassLogger) Error(msg string)   { l.emit(ui.LevelError, zerolog.ErrorLevel, msg) }

// JustLog writes to the file sink only.
func (l *ClassLogger) JustLog(msg string) {
	l.event(fileLogger.Debug(), 3).Msg(msg)
}

// Wait logs msg with the delay and sleeps for d unless ctx ends first. A nil
// sleep uses the real clock.
func (l *ClassLogger) Wait(ctx context.Context, msg string, d time.Duration, sleep func(context.Context, time.Duration) error) error {
	if d <= 0 {
		return ctx.Err()
	}
	if sleep == nil {
		sleep = utils.SleepContext
	}
	l.Info(fmt.Sprintf("%s (%s)", msg, ui.FormatDelay(d)))
	return sleep(ctx, d)
}

func (l *ClassLogger) emit(level ui.Level, zl zerolog.Level, msg string) {
	success := level == ui.LevelSuccess
	ev := l.event(fileLogger.WithLevel(zl), 4)
	if success {
		ev = ev.Bool("success", true)
	}
	ev.Msg(msg)

	if console {
		ui.PrintLine(level, l.label(), l.session.IP(), shortenForDisplay(msg))
	}
}

func (l *ClassLogger) event(ev *zerolog.Event, skip int) *zerolog.Event {
	ev = ev.Str("class", l.class).
		Str("account", l.label()).
		Str("ip", l.session.IP()).
		Str("func", callerFunc(skip))
	if l.runID != "" {
		ev = ev.Str("run", l.runID)
	}
	return ev
}

func (l *ClassLogger) label() string {
	if l.session == nil {
		return "System"
	}
	return l.session.DisplayLabel()
}

func callerFunc(skip int) string {
	pc, _, _, ok := runtime.Caller(skip)
	if !ok {
		return "unknown"
	}
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return "unknown"
	}
	parts := strings.Split(fn.Name(), ".")
	return parts[len(parts)-1]
}

func shortenForDisplay(msg string) string {
	const maxLen = 140
	runes := []rune(msg)
	if len(runes) <= maxLen {
		return msg
	}
	return string(runes[:maxLen-1]) + "…"
}

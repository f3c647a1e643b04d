package ndv

import (
	"strings"
	"time"
)

// ModeFlag is a log severity threshold.
type ModeFlag uint

const (
	DebugMode ModeFlag = iota
	InfoMode
	WarningMode
	ErrorMode
	CriticalMode
	SilentMode
)

var (
	// Verbose is set by the -verbose flag of the ndv command.
	Verbose bool

	// mode is the minimum severity that will be logged by this process.
	mode = InfoMode
)

// Logger is the sink for server, engine, and command messages.  The default
// writes through the standard log package; LogConfig.SetLogger switches to a
// rotating file.
type Logger interface {
	// Debugf records per-request details such as extracted array sizes.
	Debugf(format string, args ...interface{})

	// Infof records requests served and server lifecycle events.
	Infof(format string, args ...interface{})

	Warningf(format string, args ...interface{})

	// Errorf records failed requests and unreadable files.
	Errorf(format string, args ...interface{})

	Criticalf(format string, args ...interface{})

	// Shutdown flushes and closes any log file.
	Shutdown()
}

// SetLogMode sets the severity required for a log message to be printed.
// The ndv command uses DebugMode with -verbose and InfoMode otherwise.
func SetLogMode(newMode ModeFlag) {
	mode = newMode
}

// LogMode returns the current severity threshold.  Handlers check it before
// computing expensive debug-only values.
func LogMode() ModeFlag {
	return mode
}

func Debugf(format string, args ...interface{}) {
	if mode <= DebugMode {
		logger.Debugf(format, args...)
	}
}

func Infof(format string, args ...interface{}) {
	if mode <= InfoMode {
		logger.Infof(format, args...)
	}
}

func Warningf(format string, args ...interface{}) {
	if mode <= WarningMode {
		logger.Warningf(format, args...)
	}
}

func Errorf(format string, args ...interface{}) {
	if mode <= ErrorMode {
		logger.Errorf(format, args...)
	}
}

func Criticalf(format string, args ...interface{}) {
	if mode <= CriticalMode {
		logger.Criticalf(format, args...)
	}
}

// Shutdown closes any log file opened through LogConfig.SetLogger.
func Shutdown() {
	logger.Shutdown()
}

// TimeLog appends the time elapsed since its creation to each message.  HTTP
// handlers create one on entry and log the served request on exit:
//
//	timedLog := ndv.NewTimeLog()
//	...
//	timedLog.Infof("HTTP %s: %s (%s)", r.Method, r.URL, size)
type TimeLog struct {
	logger Logger
	start  time.Time
}

func NewTimeLog() TimeLog {
	return TimeLog{logger, time.Now()}
}

// Elapsed returns the time since the TimeLog was created.
func (t TimeLog) Elapsed() time.Duration {
	return time.Since(t.start)
}

// elapsedFormat keeps the elapsed time on the same line as the message.
func elapsedFormat(format string) string {
	return strings.TrimRight(format, "\n") + ": %s\n"
}

func (t TimeLog) Debugf(format string, args ...interface{}) {
	if mode <= DebugMode {
		t.logger.Debugf(elapsedFormat(format), append(args, time.Since(t.start))...)
	}
}

func (t TimeLog) Infof(format string, args ...interface{}) {
	if mode <= InfoMode {
		t.logger.Infof(elapsedFormat(format), append(args, time.Since(t.start))...)
	}
}

func (t TimeLog) Warningf(format string, args ...interface{}) {
	if mode <= WarningMode {
		t.logger.Warningf(elapsedFormat(format), append(args, time.Since(t.start))...)
	}
}

func (t TimeLog) Errorf(format string, args ...interface{}) {
	if mode <= ErrorMode {
		t.logger.Errorf(elapsedFormat(format), append(args, time.Since(t.start))...)
	}
}

func (t TimeLog) Criticalf(format string, args ...interface{}) {
	if mode <= CriticalMode {
		t.logger.Criticalf(elapsedFormat(format), append(args, time.Since(t.start))...)
	}
}

func (t TimeLog) Shutdown() {
	t.logger.Shutdown()
}

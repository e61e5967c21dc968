// Package swarmlog extends Go's logging functionality to allow for multiple
// named loggers, each with its own level. Call AddLogger to register a
// logger, then use the package-level functions to send messages to all of
// them.
package swarmlog

import (
	"errors"
	"fmt"
	"io"
	golog "log"
	"runtime"
	"strconv"
	"strings"
	"sync"
)

// Log levels supported, lowest to highest severity.
const (
	DEBUG = iota
	INFO
	WARN
	ERROR
	FATAL
)

var (
	loggers = make(map[string]*logger)
	logLock sync.RWMutex
)

type printer interface {
	Println(...interface{})
}

type logger struct {
	printer

	level   int
	color   bool
	filters []string
}

// AddLogger registers a logger that only emits events at level or higher.
func AddLogger(name string, output io.Writer, level int, color bool) {
	logLock.Lock()
	defer logLock.Unlock()

	loggers[name] = &logger{golog.New(output, "", golog.LstdFlags), level, color, nil}
}

// AddRingLogger registers a logger backed by a fixed-size in-memory Ring
// instead of an io.Writer, so recent log lines can be dumped on demand (an
// admin/debug surface) without retaining unbounded history or touching
// disk.
func AddRingLogger(name string, size int, level int) *Ring {
	r := NewRing(size)

	logLock.Lock()
	defer logLock.Unlock()

	loggers[name] = &logger{r, level, false, nil}
	return r
}

// DelLogger removes a named logger previously added with AddLogger.
func DelLogger(name string) {
	logLock.Lock()
	defer logLock.Unlock()

	delete(loggers, name)
}

// WillLog reports whether logging at level would reach at least one
// registered logger. Useful to skip building expensive format arguments.
func WillLog(level int) bool {
	logLock.RLock()
	defer logLock.RUnlock()

	for _, l := range loggers {
		if l.level <= level {
			return true
		}
	}
	return false
}

// SetLevel changes the level of a named logger.
func SetLevel(name string, level int) error {
	logLock.Lock()
	defer logLock.Unlock()

	if loggers[name] == nil {
		return errors.New("swarmlog: no such logger")
	}
	loggers[name].level = level
	return nil
}

func (l *logger) prologue(level int, name string) string {
	var msg string
	switch level {
	case DEBUG:
		msg = "DEBUG "
	case INFO:
		msg = "INFO "
	case WARN:
		msg = "WARN "
	case ERROR:
		msg = "ERROR "
	default:
		msg = "FATAL "
	}

	if name == "" {
		_, file, line, _ := runtime.Caller(4)
		short := file
		for i := len(file) - 1; i > 0; i-- {
			if file[i] == '/' {
				short = file[i+1:]
				break
			}
		}
		msg += short + ":" + strconv.Itoa(line) + ": "
	} else {
		msg += name + ": "
	}

	return msg
}

func (l *logger) log(level int, name, format string, args ...interface{}) {
	msg := l.prologue(level, name) + fmt.Sprintf(format, args...)
	for _, f := range l.filters {
		if strings.Contains(msg, f) {
			return
		}
	}
	l.Println(msg)
}

func dispatch(level int, name, format string, args ...interface{}) {
	logLock.RLock()
	defer logLock.RUnlock()

	for _, l := range loggers {
		if l.level <= level {
			l.log(level, name, format, args...)
		}
	}
}

// Debug logs a formatted message at DEBUG level to every registered logger.
func Debug(format string, args ...interface{}) { dispatch(DEBUG, "", format, args...) }

// Info logs a formatted message at INFO level.
func Info(format string, args ...interface{}) { dispatch(INFO, "", format, args...) }

// Warn logs a formatted message at WARN level.
func Warn(format string, args ...interface{}) { dispatch(WARN, "", format, args...) }

// Error logs a formatted message at ERROR level.
func Error(format string, args ...interface{}) { dispatch(ERROR, "", format, args...) }

// Fatal logs a formatted message at FATAL level. It does not exit the
// process; callers that want process termination call os.Exit themselves.
func Fatal(format string, args ...interface{}) { dispatch(FATAL, "", format, args...) }

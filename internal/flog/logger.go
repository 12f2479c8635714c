// Package flog provides the leveled logger used throughout the overlay
// daemon.
package flog

import (
	"io"
	"log"
	"os"
)

const (
	LevelSilent = iota
	LevelError
	LevelInfo
	LevelDebug
)

// Logger is implemented by basicLogger. Components depend on this
// interface rather than a concrete type so that tests can supply a
// discarding logger.
type Logger interface {
	Debug(v ...interface{})
	Debugf(f string, v ...interface{})
	Info(v ...interface{})
	Infof(f string, v ...interface{})
	Error(v ...interface{})
	Errorf(f string, v ...interface{})
}

type basicLogger struct {
	debug *log.Logger
	info  *log.Logger
	err   *log.Logger
}

// New builds a Logger that writes to stderr, gated by level, with a
// prefix identifying the originating component (e.g. the short form of
// an account's identity or "connector").
func New(level int, prefix string) Logger {
	output := os.Stderr

	logErr, logInfo, logDebug := func() (io.Writer, io.Writer, io.Writer) {
		if level >= LevelDebug {
			return output, output, output
		}
		if level >= LevelInfo {
			return output, output, io.Discard
		}
		if level >= LevelError {
			return output, io.Discard, io.Discard
		}
		return io.Discard, io.Discard, io.Discard
	}()

	return &basicLogger{
		debug: log.New(logDebug, "DEBUG: "+prefix, log.Ldate|log.Ltime),
		info:  log.New(logInfo, "INFO: "+prefix, log.Ldate|log.Ltime),
		err:   log.New(logErr, "ERROR: "+prefix, log.Ldate|log.Ltime),
	}
}

// Discard returns a Logger that drops everything; useful in tests.
func Discard() Logger {
	return New(LevelSilent, "")
}

func (l *basicLogger) Debug(v ...interface{})            { l.debug.Println(v...) }
func (l *basicLogger) Debugf(f string, v ...interface{}) { l.debug.Printf(f, v...) }
func (l *basicLogger) Info(v ...interface{})             { l.info.Println(v...) }
func (l *basicLogger) Infof(f string, v ...interface{})  { l.info.Printf(f, v...) }
func (l *basicLogger) Error(v ...interface{})            { l.err.Println(v...) }
func (l *basicLogger) Errorf(f string, v ...interface{}) { l.err.Printf(f, v...) }

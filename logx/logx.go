package logx

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	ColorReset  = "\033[0m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorBlue   = "\033[34m"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// Options configures the rotating log file.
type Options struct {
	Dir        string
	File       string
	MaxSizeMB  int
	MaxAgeDays int
	Level      string
	Stdout     bool
}

var (
	mu       sync.RWMutex
	minLevel = LevelInfo
	logger   = log.New(newRotator(optionsFromEnv()), "", log.Ldate|log.Ltime|log.Lmicroseconds)
)

func optionsFromEnv() Options {
	opts := Options{Dir: "./logs", File: "triunity.log", MaxSizeMB: 100, MaxAgeDays: 7}
	if f := os.Getenv("LOGFILE"); f != "" {
		opts.File = f
	}
	if v, err := strconv.Atoi(os.Getenv("LOGFILE_MAX_SIZE_MB")); err == nil && v > 0 {
		opts.MaxSizeMB = v
	}
	if v, err := strconv.Atoi(os.Getenv("LOGFILE_MAX_AGE_DAYS")); err == nil && v > 0 {
		opts.MaxAgeDays = v
	}
	return opts
}

func newRotator(opts Options) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename: filepath.Join(opts.Dir, opts.File),
		MaxSize:  opts.MaxSizeMB, // megabytes
		MaxAge:   opts.MaxAgeDays, // days
	}
}

// Init replaces the default sink. Zero fields keep their env/default values.
func Init(opts Options) {
	base := optionsFromEnv()
	if opts.Dir != "" {
		base.Dir = opts.Dir
	}
	if opts.File != "" {
		base.File = opts.File
	}
	if opts.MaxSizeMB > 0 {
		base.MaxSizeMB = opts.MaxSizeMB
	}
	if opts.MaxAgeDays > 0 {
		base.MaxAgeDays = opts.MaxAgeDays
	}

	var out io.Writer = newRotator(base)
	if opts.Stdout {
		out = io.MultiWriter(out, os.Stdout)
	}
	SetOutput(out)
	if opts.Level != "" {
		SetLevel(ParseLevel(opts.Level))
	}
}

func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	logger.SetOutput(w)
}

func SetLevel(l Level) {
	mu.Lock()
	defer mu.Unlock()
	minLevel = l
}

func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func write(l Level, color, tag, category string, content []interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	if l < minLevel {
		return
	}
	message := fmt.Sprintln(content...)
	message = strings.TrimSuffix(message, "\n")
	coloredCategory := fmt.Sprintf("%s[%s][%s]%s", color, tag, category, ColorReset)
	logger.Printf("%s: %s", coloredCategory, message)
}

func Info(category string, content ...interface{}) {
	write(LevelInfo, ColorGreen, "INFO", category, content)
}

func Error(category string, content ...interface{}) {
	write(LevelError, ColorRed, "ERROR", category, content)
}

func Warn(category string, content ...interface{}) {
	write(LevelWarn, ColorYellow, "WARN", category, content)
}

func Debug(category string, content ...interface{}) {
	write(LevelDebug, ColorBlue, "DEBUG", category, content)
}

// Errorf logs an error message and returns a formatted error
func Errorf(format string, args ...interface{}) error {
	err := fmt.Errorf(format, args...)
	Error("ERROR", err.Error())
	return err
}

package main

import (
	"io"
	"os"
	"path"
	"runtime"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// setupLogging logs to stderr, and also to a rotating file when one is configured.
// The returned closer flushes the file.
func setupLogging(cfg LogConfig) io.Closer {
	log.SetLevel(log.InfoLevel)
	formatter := &log.TextFormatter{
		FullTimestamp:    true,
		QuoteEmptyFields: true,
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
		log.SetReportCaller(true)
		formatter.CallerPrettyfier = func(f *runtime.Frame) (string, string) {
			s := strings.Split(f.Function, ".")
			funcName := s[len(s)-1] + "()"
			_, filename := path.Split(f.File)
			return funcName, filename + ":" + strconv.Itoa(f.Line)
		}
	}
	log.SetFormatter(formatter)

	if cfg.File == "" {
		log.SetOutput(os.Stderr)
		return io.NopCloser(nil)
	}
	file := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}
	log.SetOutput(io.MultiWriter(os.Stderr, file))
	return file
}

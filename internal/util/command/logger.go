package command

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github/chapool/gem-payout/internal/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

// ConfigureLogger sets the global zerolog logger. Console output is JSON
// unless PrettyPrintConsole is set; a rotating JSON file is added when
// cfg.File is set. The returned function closes the file.
func ConfigureLogger(cfg config.LoggerServer) func() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	zerolog.SetGlobalLevel(cfg.Level)

	var console io.Writer = os.Stderr
	if cfg.PrettyPrintConsole {
		console = zerolog.NewConsoleWriter(func(w *zerolog.ConsoleWriter) {
			w.TimeFormat = "15:04:05"
		})
	}

	if cfg.File == "" {
		log.Logger = zerolog.New(console).With().Timestamp().Logger()
		return func() {}
	}

	file := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.FileMaxSizeMB,
		MaxBackups: cfg.FileMaxBackups,
		Compress:   true,
	}

	log.Logger = zerolog.New(zerolog.MultiLevelWriter(console, file)).With().Timestamp().Logger()

	return func() {
		_ = file.Close()
	}
}

package log

import "gopkg.in/natefinch/lumberjack.v2"

// FileAppenderOpt configures the rotated log file. Zero values take the
// defaults below; a check run logs little, so the files stay small.
type FileAppenderOpt struct {
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`    // megabytes
	MaxBackups int    `mapstructure:"max_backups"` // rotated files kept
	MaxAge     int    `mapstructure:"max_age"`     // days
	Compress   bool   `mapstructure:"compress"`
}

const (
	defaultMaxSize    = 10
	defaultMaxBackups = 3
	defaultMaxAge     = 30
)

func (o FileAppenderOpt) withDefaults() FileAppenderOpt {
	if o.MaxSize <= 0 {
		o.MaxSize = defaultMaxSize
	}
	if o.MaxBackups <= 0 {
		o.MaxBackups = defaultMaxBackups
	}
	if o.MaxAge <= 0 {
		o.MaxAge = defaultMaxAge
	}
	return o
}

// AddFileAppender adds a lumberjack writer rotating o.Filename.
func (m *MultiWriter) AddFileAppender(o FileAppenderOpt) *MultiWriter {
	o = o.withDefaults()
	return m.Add(&lumberjack.Logger{
		Filename:   o.Filename,
		MaxSize:    o.MaxSize,
		MaxBackups: o.MaxBackups,
		MaxAge:     o.MaxAge,
		Compress:   o.Compress,
	})
}

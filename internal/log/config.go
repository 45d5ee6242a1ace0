package log

// Config selects level, format and outputs of a Logger.
type Config struct {
	Level   string          `mapstructure:"level"`  // debug / info / warn / error / critical
	Format  string          `mapstructure:"format"` // text / json
	Pattern string          `mapstructure:"pattern"`
	Time    string          `mapstructure:"time"`
	File    FileAppenderOpt `mapstructure:"file"`
}

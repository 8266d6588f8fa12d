// internal/utils/logger/config.go
package logger

type Config struct {
	LogFile     string // empty disables the file core
	MaxSize     int    // megabytes
	MaxAge      int    // days
	MaxBackups  int
	Compress    bool
	Development bool // console encoder colours and debug level
}

// DefaultConfig returns the rotation defaults used when no config is supplied.
func DefaultConfig() *Config {
	return &Config{
		LogFile:    "logs/graduation-sniper.log",
		MaxSize:    100,
		MaxAge:     30,
		MaxBackups: 5,
		Compress:   true,
	}
}

// Package logging configures the process-wide logrus logger used by the
// capsule pipeline and its CLI driver.
package logging

import (
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
)

// InitFromEnv initializes logging from the LOG_LEVEL environment variable.
func InitFromEnv() {
	setLogLevel(strings.ToLower(os.Getenv("LOG_LEVEL")))
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp: true,
	})
}

// SetLevel sets the log level explicitly, bypassing the environment.
func SetLevel(level string) {
	setLogLevel(strings.ToLower(level))
}

func setLogLevel(logLevel string) {
	switch logLevel {
	case "trace":
		log.SetLevel(log.TraceLevel)
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "info":
		log.SetLevel(log.InfoLevel)
	case "warn":
		log.SetLevel(log.WarnLevel)
	default:
		log.SetLevel(log.ErrorLevel)
	}
}

func init() {
	InitFromEnv()
}

package logging

import (
	"os"
	"strings"

	"github.com/onepanelio/functionary/pkg/util/env"
	"github.com/sirupsen/logrus"
)

// Config selects the format and level of the standard logger.
type Config struct {
	// Level is a logrus level name. Unknown names keep the current level.
	Level string
	// Format is "text" or "json".
	Format string
}

func init() {
	logrus.SetOutput(os.Stderr)
	if env.GetEnvBool("LOGGING_ENABLE_CALLER_TRACE", false) {
		logrus.SetReportCaller(true)
	}
}

// Configure applies config to the standard logger. It can be called again when the configuration changes.
func Configure(config Config) {
	switch strings.ToLower(config.Format) {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	if config.Level == "" {
		return
	}
	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"Level": config.Level,
			"Error": err.Error(),
		}).Warn("Unknown log level, keeping the current one.")
		return
	}
	logrus.SetLevel(level)
}

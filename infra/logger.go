package infra

import "go.uber.org/zap"

// BuildLogger builds a development logger writing to logFile, or stderr when
// logFile is empty.
func BuildLogger(logFile string) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	if logFile != "" {
		cfg.OutputPaths = []string{logFile}
		cfg.ErrorOutputPaths = []string{logFile}
	}
	return cfg.Build()
}

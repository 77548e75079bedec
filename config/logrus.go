package config

import (
	"context"
	"os"
	"strings"

	"bitbucket.org/mmdatafocus/events_backend/appctx"
	"github.com/sirupsen/logrus"
)

// NewLogger builds the shared JSON logger. Level comes from LOG_LEVEL
// (default info); output is stdout so Cloud Run picks it up.
func NewLogger() *logrus.Logger {
	logg := logrus.New()
	logg.SetFormatter(&logrus.JSONFormatter{})
	logg.SetOutput(os.Stdout)

	level, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(os.Getenv("LOG_LEVEL"))))
	if err != nil {
		level = logrus.InfoLevel
	}
	logg.SetLevel(level)

	return logg
}

// LogError is the error-logging convention for every package: module and
// funcName identify the call site, data carries the call-specific fields,
// and the correlation and organization ids ride along whenever the context
// has them.
func LogError(ctx context.Context, logger *logrus.Logger, moduleName string, funcName string, data logrus.Fields, err error) {
	fields := logrus.Fields{
		"module":   moduleName,
		"funcName": funcName,
	}
	if ctx != nil {
		if v, ok := appctx.GetString(ctx, appctx.ContextKeyCorrelationId); ok && v != "" {
			fields["correlation_id"] = v
		}
		if v, ok := appctx.GetString(ctx, appctx.ContextKeyOrganizationId); ok && v != "" {
			fields["organization_id"] = v
		}
	}
	for k, v := range data {
		fields[k] = v
	}
	logger.WithFields(fields).Error(err.Error())
}

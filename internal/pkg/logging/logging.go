package logging

import (
	"context"
	"os"
	"path"

	stdlog "log"

	"github.com/google/uuid"
	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

/*
 *  Process-wide logger for the bridge.  Every line carries the process
 *  identity; request scoped lines also carry the transaction ID.
 */

type ctxID int

const (
	txnIDKey ctxID = iota
)

// WithTxnID returns a context which knows its transaction ID
func WithTxnID(ctx context.Context, txnID string) context.Context {
	return context.WithValue(ctx, txnIDKey, txnID)
}

// TxnID returns the transaction ID stored in ctx, if any
func TxnID(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	txnID, ok := ctx.Value(txnIDKey).(string)
	return txnID, ok
}

type logger struct {
	logger  *logrus.Entry
	logFile *os.File
}

var gLogger logger
var gInstanceID string

// Logger returns the global logger, tagged with the transaction ID when ctx
// has one.  A nil context is fine.
func Logger(ctx context.Context) *logrus.Entry {
	if txnID, ok := TxnID(ctx); ok {
		return gLogger.logger.WithField("txnid", txnID)
	}

	return gLogger.logger
}

// ForEntry scopes the logger to a config entry
func ForEntry(ctx context.Context, entryID string) *logrus.Entry {
	return Logger(ctx).WithField("entry", entryID)
}

// InstanceID identifies this run of the process
func InstanceID() string {
	return gInstanceID
}

func processFields() logrus.Fields {
	return logrus.Fields{
		"pid":      os.Getpid(),
		"exe":      path.Base(os.Args[0]),
		"instance": gInstanceID,
	}
}

func init() {
	viper.SetDefault("logging.location", "stderr")
	viper.SetDefault("logging.format", "text")
	viper.SetDefault("logging.level", "info")

	gInstanceID = uuid.New().String()
	gLogger.logger = logrus.WithFields(processFields())
}

// Configure sets the log level and output location/format.  The location is
// stdout, stderr or a file path, which may start with ~.
func Configure(cfg *viper.Viper) error {
	switch loc := cfg.GetString("logging.location"); loc {
	case "stdout":
		logrus.SetOutput(os.Stdout)
	case "stderr":
		logrus.SetOutput(os.Stderr)
	default:
		file, err := openLogFile(loc)
		if err != nil {
			return err
		}

		gLogger.logger.Debugf("Switching system log to %s", loc)
		logrus.SetOutput(file)

		if gLogger.logFile != nil {
			gLogger.logFile.Close()
		}
		gLogger.logFile = file
	}
	gLogger.logger = logrus.WithFields(processFields())

	// Obey the level setting in the config if not already in debug mode
	if !logrus.IsLevelEnabled(logrus.DebugLevel) {
		level := cfg.GetString("logging.level")
		val, err := logrus.ParseLevel(level)
		if err != nil {
			return errors.Errorf("bad log level: [%s]", level)
		}
		logrus.SetLevel(val)
	}

	switch format := cfg.GetString("logging.format"); format {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	case "text", "":
		logrus.SetFormatter(&logrus.TextFormatter{})
	default:
		return errors.Errorf("bad log format: [%s]", format)
	}

	// Override the standard system logger
	stdlog.SetOutput(Logger(nil).WriterLevel(logrus.DebugLevel))

	return nil
}

func openLogFile(loc string) (*os.File, error) {
	expanded, err := homedir.Expand(loc)
	if err != nil {
		return nil, errors.Wrapf(err, "expanding log location %s", loc)
	}

	file, err := os.OpenFile(expanded, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, errors.Wrap(err, "opening log file")
	}
	return file, nil
}

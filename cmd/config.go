package cmd

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"mixedstack.dev/pkg/mixedstack/internal/domain"
)

const (
	configVersionKey     = "version"
	currentConfigVersion = 1

	configBaseName   = "mixedstack"
	configFileName   = configBaseName + ".yaml"
	configFolderPath = "."

	mapsDirFlagName  = "maps-dir"
	layoutFlagName   = "layout"
	formatFlagName   = "format"
	pidFlagName      = "pid"
	domainFlagName   = "domain"
	statsFlagName    = "stats"
	verboseFlagName  = "verbose"
	logFileFlagName  = "log-file"
	policyFlagName   = "failure-policy"
	parallelFlagName = "parallel"

	mapsDirKey        = "maps.dir"
	layoutKey         = "index.layout"
	failurePolicyKey  = "failure.policy"
	failureBackoffKey = "failure.backoff"
	jitHostKey        = "jit.host"
	parseParallelKey  = "parse.parallel"
	outputFormatKey   = "output.format"

	defaultLayout         = "domain"
	defaultFailurePolicy  = "disable"
	defaultFailureBackoff = 30 * time.Second
	defaultOutputFormat   = "table"

	envPrefix = "MIXEDSTACK"

	logFilenameKey   = "log.filename"
	logLevelKey      = "log.level"
	logVerboseKey    = "log.verbose"
	logMaxSizeKey    = "log.max_size"
	logMaxBackupsKey = "log.max_backups"
	logMaxAgeKey     = "log.max_age"
	logCompressKey   = "log.compress"

	defaultLogFilename   = ".mixedstack.log"
	defaultLogLevel      = int(slog.LevelInfo)
	defaultLogVerbose    = false
	defaultLogMaxSize    = 10
	defaultLogMaxBackups = 3
	defaultLogMaxAge     = 28
	defaultLogCompress   = true
)

var globalLogger *slog.Logger

func init() {
	viper.SetConfigName(configBaseName)
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configFolderPath)
	viper.SetConfigFile(filepath.Join(configFolderPath, configFileName))
	viper.AutomaticEnv()
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))

	viper.SetDefault(configVersionKey, currentConfigVersion)
	viper.SetDefault(mapsDirKey, os.TempDir())
	viper.SetDefault(layoutKey, defaultLayout)
	viper.SetDefault(failurePolicyKey, defaultFailurePolicy)
	viper.SetDefault(failureBackoffKey, int64(defaultFailureBackoff.Seconds()))
	viper.SetDefault(jitHostKey, domain.DefaultJITHost)
	viper.SetDefault(parseParallelKey, domain.DefaultParallelism)
	viper.SetDefault(outputFormatKey, defaultOutputFormat)

	// Logging defaults (used by config/env and as fallbacks for flags).
	viper.SetDefault(logFilenameKey, defaultLogFilename)
	viper.SetDefault(logLevelKey, defaultLogLevel)
	viper.SetDefault(logVerboseKey, defaultLogVerbose)
	viper.SetDefault(logMaxSizeKey, defaultLogMaxSize)
	viper.SetDefault(logMaxBackupsKey, defaultLogMaxBackups)
	viper.SetDefault(logMaxAgeKey, defaultLogMaxAge)
	viper.SetDefault(logCompressKey, defaultLogCompress)

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return
		}

		return
	}
}

func parseSlogLevel(value string, defaultLevel slog.Level) slog.Level {
	level := strings.ToLower(strings.TrimSpace(value))
	if level == "" {
		return defaultLevel
	}

	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}

	// Allow numeric slog levels as well (e.g. -4 for debug).
	if n, err := strconv.Atoi(level); err == nil {
		return slog.Level(n)
	}

	return defaultLevel
}

// configureLogger configures the global slog logger.
//
// By default it logs at Info; if verbose is true it logs at Debug.
func configureLogger(logPath string, verbose bool) {
	if strings.TrimSpace(logPath) == "" {
		logPath = viper.GetString(logFilenameKey)
	}

	if strings.TrimSpace(logPath) == "" {
		logPath = defaultLogFilename
	}

	var logLevel slog.Level
	if verbose {
		logLevel = slog.LevelDebug
	} else {
		logLevel = parseSlogLevel(viper.GetString(logLevelKey), slog.LevelInfo)
	}

	logWriter := &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    viper.GetInt(logMaxSizeKey),
		MaxBackups: viper.GetInt(logMaxBackupsKey),
		MaxAge:     viper.GetInt(logMaxAgeKey),
		Compress:   viper.GetBool(logCompressKey),
	}

	handler := slog.NewTextHandler(logWriter, &slog.HandlerOptions{
		AddSource: true,
		Level:     logLevel,
	})

	globalLogger = slog.New(handler)
	slog.SetDefault(globalLogger)
}

// resolverOptions translates the configuration into resolver options.
func resolverOptions() ([]domain.Option, error) {
	layout, err := domain.ParseLayout(viper.GetString(layoutKey))
	if err != nil {
		return nil, err
	}

	policy, err := domain.ParseFailurePolicy(viper.GetString(failurePolicyKey))
	if err != nil {
		return nil, err
	}

	backoff := time.Duration(viper.GetInt64(failureBackoffKey)) * time.Second

	return []domain.Option{
		domain.WithLayout(layout),
		domain.WithFailurePolicy(policy, backoff),
		domain.WithJITHost(viper.GetString(jitHostKey)),
		domain.WithParallelism(viper.GetInt(parseParallelKey)),
		domain.WithLogger(globalLogger),
	}, nil
}

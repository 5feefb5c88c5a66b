package logger

import (
	"io"
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const defaultTimeLocation = "UTC"

type (
	GlobalConfig struct {
		DefaultLevel  LogLevel
		PackageLevels map[string]LogLevel
		Writer        io.Writer
		ConsoleFormat bool
		ShowCaller    bool
		TimeLocation  string
	}

	globalFactory struct {
		sync.Mutex
		config                  GlobalConfig
		loggers                 map[string]*ContextLogger
		children                []*ContextLogger
		context                 Context
		consoleTimeFormat       string
		callerSkipFrames        int // how many frames to skip to get real caller
		packageNameResolver     *PackageNameResolver
		nonAlphaNumericRegex    *regexp.Regexp
		globalLoggerInitialized bool
	}
)

// Singleton for managing application wide logging.
var globalFactoryImpl *globalFactory

func init() {
	initializeGlobalFactory()
}

func initializeGlobalFactory() {
	globalFactoryImpl = &globalFactory{
		loggers:              make(map[string]*ContextLogger),
		context:              make(Context),
		consoleTimeFormat:    "15:04:05.000000",
		callerSkipFrames:     4,
		packageNameResolver:  &PackageNameResolver{BasePackage: "alphabill-org/stakepool"},
		nonAlphaNumericRegex: regexp.MustCompile(`[^a-zA-Z0-9]`),
	}
}

// SetContext sets context for all loggers
func SetContext(key string, value interface{}) {
	globalFactoryImpl.Lock()
	defer globalFactoryImpl.Unlock()
	globalFactoryImpl.context[key] = value
	globalFactoryImpl.updateAllLoggers()
}

// ClearContext will clear a context key from all loggers
func ClearContext(key string) {
	globalFactoryImpl.Lock()
	defer globalFactoryImpl.Unlock()
	delete(globalFactoryImpl.context, key)
	globalFactoryImpl.updateAllLoggers()
}

// CreateForPackage creates logger named after the caller package.
func CreateForPackage() Logger {
	return Create(globalFactoryImpl.packageNameResolver.PackageName())
}

// Create creates custom named logger
func Create(name string) Logger {
	return globalFactoryImpl.create(name)
}

// UpdateGlobalConfig updates global config and all the loggers accordingly.
func UpdateGlobalConfig(config GlobalConfig) {
	globalFactoryImpl.Lock()
	defer globalFactoryImpl.Unlock()
	globalFactoryImpl.updateFromConfig(config)
}

// UpdateGlobalConfigFromFile reads the file and parses it as YAML. Global logger configuration is updated accordingly.
// In case of an error, logger won't be updated.
func UpdateGlobalConfigFromFile(fileName string) error {
	conf, err := loadGlobalConfigFromFile(fileName)
	if err != nil {
		return err
	}
	UpdateGlobalConfig(conf)
	return nil
}

// SetDefaultLevel changes the level of all loggers without a package specific level.
func SetDefaultLevel(level LogLevel) {
	globalFactoryImpl.Lock()
	defer globalFactoryImpl.Unlock()
	globalFactoryImpl.config.DefaultLevel = level
	globalFactoryImpl.updateAllLoggers()
}

// InitializeGlobalLogger initializes global logger with default configuration if it hasn't been initialized already.
func InitializeGlobalLogger() {
	globalFactoryImpl.Lock()
	defer globalFactoryImpl.Unlock()
	if !globalFactoryImpl.globalLoggerInitialized {
		globalFactoryImpl.updateFromConfig(developerConfiguration())
	}
}

func developerConfiguration() GlobalConfig {
	return GlobalConfig{
		DefaultLevel:  DEBUG,
		Writer:        os.Stdout,
		ConsoleFormat: true,
		ShowCaller:    true,
		TimeLocation:  defaultTimeLocation,
	}
}

func (gf *globalFactory) updateFromConfig(config GlobalConfig) {
	newWriter := config.Writer != nil && config.Writer != gf.config.Writer
	updateOutputFormat := !gf.globalLoggerInitialized || newWriter ||
		gf.config.ConsoleFormat != config.ConsoleFormat ||
		gf.config.ShowCaller != config.ShowCaller

	if newWriter {
		gf.config.Writer = config.Writer
	}
	if gf.config.Writer == nil {
		gf.config.Writer = os.Stdout
	}
	gf.config.DefaultLevel = config.DefaultLevel
	gf.config.PackageLevels = config.PackageLevels
	gf.config.ConsoleFormat = config.ConsoleFormat
	gf.config.ShowCaller = config.ShowCaller

	if updateOutputFormat {
		gf.updateOutputFormat()
	}
	if config.TimeLocation != "" {
		gf.updateTimeLocation(config.TimeLocation)
	}
	gf.updateAllLoggers()
}

func (gf *globalFactory) updateTimeLocation(location string) {
	loc, err := time.LoadLocation(location)
	if err != nil {
		loc, _ = time.LoadLocation(defaultTimeLocation)
	}
	zerolog.TimestampFunc = func() time.Time {
		return time.Now().In(loc)
	}
}

func (gf *globalFactory) updateOutputFormat() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	var l zerolog.Logger
	if gf.config.ConsoleFormat {
		l = zerolog.New(zerolog.ConsoleWriter{
			Out:          gf.config.Writer,
			TimeFormat:   gf.consoleTimeFormat,
			FormatCaller: consoleFormatCallerLastTwoDirs,
		}).With().Timestamp().Logger()
	} else {
		l = zerolog.New(gf.config.Writer).With().Timestamp().Logger()
	}
	if gf.config.ShowCaller {
		l = l.With().CallerWithSkipFrameCount(gf.callerSkipFrames).Logger()
	}
	log.Logger = l
	gf.globalLoggerInitialized = true
}

func (gf *globalFactory) updateAllLoggers() {
	for _, l := range gf.loggers {
		l.update(gf.loggerLevel(l.name), gf.context)
	}
	for _, l := range gf.children {
		l.update(gf.loggerLevel(l.name), gf.context)
	}
}

func (gf *globalFactory) create(name string) Logger {
	gf.Lock()
	defer gf.Unlock()

	normName := gf.normalizeName(name)
	if l, ok := gf.loggers[normName]; ok {
		return l
	}
	// configuration can specify the log levels based on logger names, it's
	// expected that each package creates one named after the package
	cl := newContextLogger(normName, gf.loggerLevel(normName), gf.context)
	gf.loggers[normName] = cl
	return cl
}

func (gf *globalFactory) track(child *ContextLogger) {
	gf.Lock()
	defer gf.Unlock()
	gf.children = append(gf.children, child)
}

func (gf *globalFactory) normalizeName(name string) string {
	return gf.nonAlphaNumericRegex.ReplaceAllString(name, "_")
}

func (gf *globalFactory) loggerLevel(loggerName string) LogLevel {
	if level, ok := gf.config.PackageLevels[loggerName]; ok {
		return level
	}
	return gf.config.DefaultLevel
}

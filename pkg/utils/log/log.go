// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package log

import (
	"os"
	"sync"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	EcsVersion     = "1.4.0"
	EcsServiceType = "deepfreeze"
	FlagName       = "log-verbosity"
	JSONFlagName   = "log-json"
)

var (
	rootSink = &sinkRoot{}

	// Log is the global logger. Loggers derived from it before InitLogger is
	// called pick up the configured sink once initialization happens.
	Log = logr.New(&delegatingSink{root: rootSink})
)

func init() {
	setDefaultLogger([]zap.Option{})
}

// BindFlags attaches logging flags to the given flag set.
func BindFlags(flags *pflag.FlagSet) {
	flags.Int(FlagName, 0, "Verbosity level of logs (-2=Error, -1=Warn, 0=Info, >0=Debug)")
	flags.Bool(JSONFlagName, false, "Emit logs as newline delimited JSON in ECS format")
}

// InitLogger initializes the global logger according to the given verbosity
// level and output format.
func InitLogger(verbosity int, jsonOutput bool) {
	setLogger(verbosity, jsonOutput)
}

func setLogger(v int, jsonOutput bool) {
	zapLevel := determineLogLevel(v)

	var encoder zapcore.Encoder
	if jsonOutput {
		encoderConf := ecsEncoderConfig()
		encoder = zapcore.NewJSONEncoder(encoderConf)
	} else {
		encoderConf := zap.NewDevelopmentEncoderConfig()
		encoderConf.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConf)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), zapLevel)
	opts := []zap.Option{zap.ErrorOutput(zapcore.Lock(os.Stderr))}
	if zapLevel.Level() > zapcore.DebugLevel {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}
	logger := zap.New(core, opts...)
	if jsonOutput {
		logger = logger.With(
			zap.String("service.type", EcsServiceType),
			zap.String("ecs.version", EcsVersion),
		)
	}
	rootSink.set(zapr.NewLogger(logger).GetSink())
}

func setDefaultLogger(opts []zap.Option) {
	encoderConf := zap.NewDevelopmentEncoderConfig()
	encoderConf.EncodeLevel = zapcore.CapitalColorLevelEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConf), zapcore.Lock(os.Stderr), zapcore.InfoLevel)
	rootSink.set(zapr.NewLogger(zap.New(core, opts...)).GetSink())
}

func ecsEncoderConfig() zapcore.EncoderConfig {
	encoderConf := zap.NewProductionEncoderConfig()
	encoderConf.MessageKey = "message"
	encoderConf.TimeKey = "@timestamp"
	encoderConf.LevelKey = "log.level"
	encoderConf.NameKey = "log.logger"
	encoderConf.StacktraceKey = "error.stack_trace"
	encoderConf.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConf.EncodeDuration = zapcore.SecondsDurationEncoder
	return encoderConf
}

// determineLogLevel maps the logr verbosity convention onto zap levels:
// positive values increase debug verbosity, negative values restrict output
// to warnings or errors.
func determineLogLevel(v int) zap.AtomicLevel {
	return zap.NewAtomicLevelAt(zapcore.Level(-v)) //nolint:gosec
}

// sinkRoot holds the currently configured log sink behind a lock so loggers
// created before initialization observe sink swaps.
type sinkRoot struct {
	mu   sync.RWMutex
	sink logr.LogSink
}

func (r *sinkRoot) set(sink logr.LogSink) {
	r.mu.Lock()
	r.sink = sink
	r.mu.Unlock()
}

func (r *sinkRoot) get() logr.LogSink {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sink
}

// delegatingSink forwards log calls to the sink currently held by its root,
// replaying any WithName/WithValues applied before initialization.
type delegatingSink struct {
	root   *sinkRoot
	names  []string
	values []interface{}
}

var _ logr.LogSink = &delegatingSink{}

func (d *delegatingSink) delegate() logr.LogSink {
	sink := d.root.get()
	if sink == nil {
		return nil
	}
	for _, name := range d.names {
		sink = sink.WithName(name)
	}
	if len(d.values) > 0 {
		sink = sink.WithValues(d.values...)
	}
	return sink
}

func (d *delegatingSink) Init(info logr.RuntimeInfo) {}

func (d *delegatingSink) Enabled(level int) bool {
	sink := d.delegate()
	return sink != nil && sink.Enabled(level)
}

func (d *delegatingSink) Info(level int, msg string, keysAndValues ...interface{}) {
	if sink := d.delegate(); sink != nil {
		sink.Info(level, msg, keysAndValues...)
	}
}

func (d *delegatingSink) Error(err error, msg string, keysAndValues ...interface{}) {
	if sink := d.delegate(); sink != nil {
		sink.Error(err, msg, keysAndValues...)
	}
}

func (d *delegatingSink) WithValues(keysAndValues ...interface{}) logr.LogSink {
	values := make([]interface{}, 0, len(d.values)+len(keysAndValues))
	values = append(values, d.values...)
	values = append(values, keysAndValues...)
	return &delegatingSink{root: d.root, names: d.names, values: values}
}

func (d *delegatingSink) WithName(name string) logr.LogSink {
	names := make([]string, 0, len(d.names)+1)
	names = append(names, d.names...)
	names = append(names, name)
	return &delegatingSink{root: d.root, names: names, values: d.values}
}

package logger

import (
	"io"
	"os"
	"sync"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// 日志级别
type Level = zapcore.Level

const (
	DebugLevel Level = zapcore.DebugLevel
	InfoLevel  Level = zapcore.InfoLevel
	WarnLevel  Level = zapcore.WarnLevel
	ErrorLevel Level = zapcore.ErrorLevel
	FatalLevel Level = zapcore.FatalLevel
)

// Logger 对zap的简单封装，级别可在运行时调整
type Logger struct {
	l     *zap.Logger
	s     *zap.SugaredLogger
	level zap.AtomicLevel
}

var (
	std = New(os.Stderr, InfoLevel)
	mu  sync.RWMutex
)

func encoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.Format("2006-01-02 15:04:05.000"))
	}
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return cfg
}

// New 创建写入out的日志器
func New(out io.Writer, level Level) *Logger {
	if out == nil {
		out = os.Stderr
	}
	al := zap.NewAtomicLevelAt(level)
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig()),
		zapcore.AddSync(out),
		al,
	)
	l := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	return &Logger{l: l, s: l.Sugar(), level: al}
}

// NewProductionRotateBySize 按大小切割日志文件
func NewProductionRotateBySize(filename string) io.Writer {
	return &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    100, // MB
		MaxBackups: 7,
		MaxAge:     30, // days
		Compress:   true,
	}
}

// NewProductionRotateByTime 按天切割日志文件，失败时退回按大小切割
func NewProductionRotateByTime(filename string) io.Writer {
	w, err := rotatelogs.New(
		filename+".%Y%m%d",
		rotatelogs.WithLinkName(filename),
		rotatelogs.WithMaxAge(30*24*time.Hour),
		rotatelogs.WithRotationTime(24*time.Hour),
	)
	if err != nil {
		return NewProductionRotateBySize(filename)
	}
	return w
}

// ReplaceDefault 替换全局日志器
func ReplaceDefault(l *Logger) {
	if l == nil {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	std = l
}

func def() *Logger {
	mu.RLock()
	defer mu.RUnlock()
	return std
}

// SetLevel 调整全局日志级别
func SetLevel(level Level) {
	def().level.SetLevel(level)
}

// GetLevel 当前全局日志级别
func GetLevel() Level {
	return def().level.Level()
}

// ParseLevel 解析配置中的级别字符串，未知值返回InfoLevel
func ParseLevel(s string) Level {
	switch s {
	case "debug":
		return DebugLevel
	case "info":
		return InfoLevel
	case "warn":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

// GetError 把错误转为日志字段
func GetError(err error) zap.Field {
	return zap.Error(err)
}

func Sync() error {
	return def().l.Sync()
}

// withFields 把参数中的zap.Field挑出来作为结构化字段
func withFields(args []interface{}) (*zap.SugaredLogger, []interface{}) {
	s := def().s
	var fields []interface{}
	rest := args[:0:0]
	for _, a := range args {
		if f, ok := a.(zap.Field); ok {
			fields = append(fields, f)
			continue
		}
		rest = append(rest, a)
	}
	if len(fields) > 0 {
		s = s.With(fields...)
	}
	return s, rest
}

func Debug(args ...interface{}) {
	s, rest := withFields(args)
	s.Debug(rest...)
}

func Info(args ...interface{}) {
	s, rest := withFields(args)
	s.Info(rest...)
}

func Warn(args ...interface{}) {
	s, rest := withFields(args)
	s.Warn(rest...)
}

func Error(args ...interface{}) {
	s, rest := withFields(args)
	s.Error(rest...)
}

func Debugf(format string, args ...interface{}) { def().s.Debugf(format, args...) }
func Infof(format string, args ...interface{})  { def().s.Infof(format, args...) }
func Warnf(format string, args ...interface{})  { def().s.Warnf(format, args...) }
func Errorf(format string, args ...interface{}) { def().s.Errorf(format, args...) }
func Fatalf(format string, args ...interface{}) { def().s.Fatalf(format, args...) }

package logx

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"gopkg.in/natefinch/lumberjack.v2"
	glogger "gorm.io/gorm/logger"
)

/******** Levels ********/
type Level int32

const (
	Trace Level = iota
	Debug
	Info
	Warn
	Error
	Off
)

var globalLevel = int32(Info)

func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return Trace
	case "debug":
		return Debug
	case "warn", "warning":
		return Warn
	case "info", "":
		return Info
	case "off", "silent":
		return Off
	default:
		return Error
	}
}
func (l Level) String() string {
	switch l {
	case Trace:
		return "trace"
	case Debug:
		return "debug"
	case Info:
		return "info"
	case Warn:
		return "warn"
	case Error:
		return "error"
	case Off:
		return "off"
	default:
		return "error"
	}
}
func levelTag(l Level) string {
	switch l {
	case Trace:
		return "[TRACE]"
	case Debug:
		return "[DEBUG]"
	case Info:
		return "[INFO]"
	case Warn:
		return "[WARN]"
	default:
		return "[ERROR]"
	}
}
func SetLevel(l Level)        { atomic.StoreInt32(&globalLevel, int32(l)) }
func SetLevelString(s string) { SetLevel(ParseLevel(s)) }
func GetLevel() Level         { return Level(atomic.LoadInt32(&globalLevel)) }
func GetLevelString() string  { return GetLevel().String() }

/******** Writers (global sinks) ********/
var (
	appInfoW  io.Writer = os.Stdout
	appErrW   io.Writer = os.Stderr
	ginInfoW  io.Writer = os.Stdout
	ginErrW   io.Writer = os.Stderr
	gormInfoW io.Writer = os.Stdout
	gormErrW  io.Writer = os.Stderr

	onceInit atomic.Bool
)

/******** level-gated writer ********/
type levelWriter struct {
	min Level
	dst io.Writer
}

func (w levelWriter) Write(p []byte) (int, error) {
	if GetLevel() <= w.min {
		return w.dst.Write(p)
	}
	return len(p), nil
}

// 轮转文件：单文件 100MB，保留 5 份 / 14 天
func rotating(path string) *lumberjack.Logger {
	_ = os.MkdirAll(filepath.Dir(path), 0o755)
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    100,
		MaxBackups: 5,
		MaxAge:     14,
	}
}

/******** Init ********/

// MustInit 把 app/gin/gorm 三路日志接到 dir 下的轮转文件；dir 为空只写终端。
// 返回的 io.Closer 在退出时关闭全部文件。
func MustInit(dir string) io.Closer {
	if onceInit.Swap(true) {
		return nopCloser{}
	}
	if strings.TrimSpace(dir) == "" {
		gin.DefaultWriter = &ginRewriter{infoW: ginInfoW, errW: ginErrW}
		gin.DefaultErrorWriter = gin.DefaultWriter
		return nopCloser{}
	}

	ginInfo := rotating(filepath.Join(dir, "gin_info.log"))
	ginErr := rotating(filepath.Join(dir, "gin_error.log"))
	gormInfo := rotating(filepath.Join(dir, "gorm_info.log"))
	gormErr := rotating(filepath.Join(dir, "gorm_error.log"))
	appInfo := rotating(filepath.Join(dir, "info.log"))
	appErr := rotating(filepath.Join(dir, "error.log"))

	// app: INFO/WARN -> stdout(+file)；ERROR -> stderr(+file)
	appInfoW = io.MultiWriter(os.Stdout, appInfo)
	appErrW = io.MultiWriter(os.Stderr, appErr)

	gormInfoW = io.MultiWriter(levelWriter{min: Info, dst: os.Stdout}, gormInfo)
	gormErrW = io.MultiWriter(levelWriter{min: Error, dst: os.Stderr}, gormErr)

	ginInfoW = io.MultiWriter(levelWriter{min: Info, dst: os.Stdout}, ginInfo)
	ginErrW = io.MultiWriter(levelWriter{min: Error, dst: os.Stderr}, ginErr)
	gr := &ginRewriter{infoW: ginInfoW, errW: ginErrW}
	gin.DefaultWriter = gr
	gin.DefaultErrorWriter = gr

	gin.DebugPrintRouteFunc = func(method, path, handler string, nHandlers int) {
		site := findCaller(ginExclude, 1)
		ts := time.Now().Format("2006/01/02 15:04:05.000000")
		msg := fmt.Sprintf("%-6s %-30s --> %s (%d handlers)", method, path, handler, nHandlers)
		line := fmt.Sprintf("%s %s: %s gin - %s\n", ts, site, levelTag(Debug), msg)
		_, _ = ginInfoW.Write([]byte(line))
	}

	return multiCloser{ginInfo, ginErr, gormInfo, gormErr, appInfo, appErr}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

type multiCloser []io.Closer

func (m multiCloser) Close() error {
	var first error
	for _, c := range m {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

/******** Component Logger ********/
type Logger struct {
	pfx string
}
type Option func(*Logger)

func WithPrefix(p string) Option { return func(l *Logger) { l.pfx = strings.TrimSpace(p) } }

func New(opts ...Option) *Logger {
	l := &Logger{}
	for _, o := range opts {
		o(l)
	}
	return l
}

// 按组件前缀覆盖全局级别
var componentLevels atomic.Value // map[string]Level

// SetComponentLevels 如 {"relay": "trace", "listener": "debug"}；nil 清空
func SetComponentLevels(m map[string]string) {
	out := make(map[string]Level, len(m))
	for k, v := range m {
		out[strings.TrimSpace(k)] = ParseLevel(v)
	}
	componentLevels.Store(out)
}

func (l *Logger) effLevel() Level {
	if m, _ := componentLevels.Load().(map[string]Level); l.pfx != "" && m != nil {
		if lv, ok := m[l.pfx]; ok {
			return lv
		}
	}
	return GetLevel()
}
func (l *Logger) shouldLog(at Level) bool { return l.effLevel() <= at && at < Off }
func (l *Logger) dstFor(at Level) io.Writer {
	if at >= Error {
		return appErrW
	}
	return appInfoW
}
func (l *Logger) site(skip int) string {
	if _, f, ln, ok := runtime.Caller(skip); ok {
		return fmt.Sprintf("%s:%d", filepath.Base(f), ln)
	}
	return "-"
}

// ts file:line: [LEVEL] prefix - message...
func (l *Logger) out(at Level, format string, args ...any) {
	ts := time.Now().Format("2006/01/02 15:04:05.000000")
	site := l.site(3)
	pfx := l.pfx
	var b bytes.Buffer
	if pfx != "" {
		fmt.Fprintf(&b, "%s %s: %s %s - ", ts, site, levelTag(at), pfx)
	} else {
		fmt.Fprintf(&b, "%s %s: %s - ", ts, site, levelTag(at))
	}
	fmt.Fprintf(&b, format, args...)
	b.WriteByte('\n')
	_, _ = l.dstFor(at).Write(b.Bytes())
}
func (l *Logger) Tracef(format string, args ...any) {
	if l.shouldLog(Trace) {
		l.out(Trace, format, args...)
	}
}
func (l *Logger) Debugf(format string, args ...any) {
	if l.shouldLog(Debug) {
		l.out(Debug, format, args...)
	}
}
func (l *Logger) Infof(format string, args ...any) {
	if l.shouldLog(Info) {
		l.out(Info, format, args...)
	}
}
func (l *Logger) Warnf(format string, args ...any) {
	if l.shouldLog(Warn) {
		l.out(Warn, format, args...)
	}
}
func (l *Logger) Errorf(format string, args ...any) {
	if l.shouldLog(Error) {
		l.out(Error, format, args...)
	}
}

/******** std log helpers (boot logs) ********/
func NewStdInfo() *log.Logger {
	flags := log.LstdFlags | log.Lmicroseconds | log.Lshortfile | log.Lmsgprefix
	return log.New(appInfoW, "[INFO] ", flags)
}
func NewStdErr() *log.Logger {
	flags := log.LstdFlags | log.Lmicroseconds | log.Lshortfile | log.Lmsgprefix
	return log.New(appErrW, "[ERROR] ", flags)
}

/******** Stack helpers: find first non-library frame ********/
var ginExclude = []string{
	"/gin-gonic/gin", "github.com/gin-gonic/gin",
	"/net/http", "runtime/", "/go/src/net/http", "/logx/",
}
var gormExclude = []string{
	"gorm.io/gorm", "gorm.io/driver", "/database/sql", "runtime/", "/logx/",
}

func findCaller(excludes []string, additionalSkip int) string {
	pcs := make([]uintptr, 64)
	n := runtime.Callers(2+additionalSkip, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		fr, more := frames.Next()
		if fr.File != "" {
			skip := false
			for _, e := range excludes {
				if strings.Contains(fr.File, e) {
					skip = true
					break
				}
			}
			if !skip {
				return fmt.Sprintf("%s:%d", filepath.Base(fr.File), fr.Line)
			}
		}
		if !more {
			break
		}
	}
	return "-"
}

/******** GORM logger ********/
type gormSplitLogger struct {
	level glogger.LogLevel
	slow  time.Duration
}

func NewGormLogger(level string, slowThreshold time.Duration) glogger.Interface {
	return &gormSplitLogger{level: toGormLevel(level), slow: slowThreshold}
}
func (l *gormSplitLogger) LogMode(level glogger.LogLevel) glogger.Interface {
	cp := *l
	cp.level = level
	return &cp
}

func gormWrite(dst io.Writer, lvl Level, site string, msg string) {
	ts := time.Now().Format("2006/01/02 15:04:05.000000")
	for _, line := range strings.Split(strings.TrimRight(msg, "\n"), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var b bytes.Buffer
		fmt.Fprintf(&b, "%s %s: %s gorm - %s\n", ts, site, levelTag(lvl), line)
		_, _ = dst.Write(b.Bytes())
	}
}
func (l *gormSplitLogger) Info(ctx context.Context, s string, args ...any) {
	if l.level >= glogger.Info {
		gormWrite(gormInfoW, Info, findCaller(gormExclude, 1), fmt.Sprintf(s, args...))
	}
}
func (l *gormSplitLogger) Warn(ctx context.Context, s string, args ...any) {
	if l.level >= glogger.Warn {
		gormWrite(gormInfoW, Warn, findCaller(gormExclude, 1), fmt.Sprintf(s, args...))
	}
}
func (l *gormSplitLogger) Error(ctx context.Context, s string, args ...any) {
	if l.level >= glogger.Error {
		gormWrite(gormErrW, Error, findCaller(gormExclude, 1), fmt.Sprintf(s, args...))
	}
}
func (l *gormSplitLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level == glogger.Silent {
		return
	}
	site := findCaller(gormExclude, 1)
	elapsed := time.Since(begin)
	sql, rows := fc()
	rowStr := "-"
	if rows >= 0 {
		rowStr = fmt.Sprintf("%d", rows)
	}
	ms := float64(elapsed.Microseconds()) / 1000.0
	switch {
	case err != nil && l.level >= glogger.Error && !strings.Contains(err.Error(), "record not found"):
		gormWrite(gormErrW, Error, site, fmt.Sprintf("[%.3fms] rows=%s %s | err=%v", ms, rowStr, sql, err))
	case l.slow > 0 && elapsed > l.slow && l.level >= glogger.Warn:
		gormWrite(gormInfoW, Warn, site, fmt.Sprintf("[SLOW >= %s] [%.3fms] rows=%s %s", l.slow, ms, rowStr, sql))
	case l.level >= glogger.Info:
		gormWrite(gormInfoW, Debug, site, fmt.Sprintf("[%.3fms] rows=%s %s", ms, rowStr, sql))
	}
}
func toGormLevel(s string) glogger.LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "silent", "off":
		return glogger.Silent
	case "error":
		return glogger.Error
	case "debug", "trace":
		return glogger.Info // debug => 打 SQL
	default:
		return glogger.Warn
	}
}
func GormLoggerDefault(level string) glogger.Interface {
	return NewGormLogger(level, 500*time.Millisecond)
}

/******** Gin rewriter ********/
type ginRewriter struct {
	infoW io.Writer
	errW  io.Writer
}

func (w *ginRewriter) Write(p []byte) (n int, err error) {
	for _, ln := range bytes.Split(p, []byte{'\n'}) {
		ln = bytes.TrimSpace(ln)
		if len(ln) == 0 {
			continue
		}
		lvl, msg := ginDetect(string(ln))
		dst := w.infoW
		if lvl >= Error {
			dst = w.errW
		}
		ts := time.Now().Format("2006/01/02 15:04:05.000000")
		line := fmt.Sprintf("%s %s: %s gin - %s\n", ts, findCaller(ginExclude, 1), levelTag(lvl), msg)
		_, _ = dst.Write([]byte(line))
	}
	return len(p), nil
}
func ginDetect(s string) (Level, string) {
	switch {
	case strings.Contains(s, "[WARNING]") || strings.Contains(s, "[WARN]"):
		return Warn, stripGinPrefix(s)
	case strings.Contains(s, "[ERROR]"):
		return Error, stripGinPrefix(s)
	case strings.HasPrefix(s, "[GIN-debug]"):
		return Debug, stripGinPrefix(s)
	}
	return Info, stripGinPrefix(s)
}
func stripGinPrefix(s string) string {
	for i := 0; i < 2 && strings.HasPrefix(s, "["); i++ {
		j := strings.Index(s, "]")
		if j < 0 || j+1 >= len(s) {
			break
		}
		s = strings.TrimSpace(s[j+1:])
	}
	return s
}

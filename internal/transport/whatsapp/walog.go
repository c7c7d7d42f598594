package whatsapp

import (
	"fmt"

	waLog "go.mau.fi/whatsmeow/util/log"

	"schedbot/pkg/logx"
)

// waLogger bridges whatsmeow's printf-style logger onto logx.
type waLogger struct {
	log    logx.Logger
	module string
}

func (l waLogger) emit(fn func(string, ...logx.Field), msg string, args []any) {
	fields := []logx.Field{}
	if l.module != "" {
		fields = append(fields, logx.String("module", l.module))
	}
	fn(fmt.Sprintf(msg, args...), fields...)
}

func (l waLogger) Debugf(msg string, args ...any) { l.emit(l.log.Debug, msg, args) }
func (l waLogger) Infof(msg string, args ...any)  { l.emit(l.log.Debug, msg, args) }
func (l waLogger) Warnf(msg string, args ...any)  { l.emit(l.log.Warn, msg, args) }
func (l waLogger) Errorf(msg string, args ...any) { l.emit(l.log.Error, msg, args) }

func (l waLogger) Sub(module string) waLog.Logger {
	if l.module != "" {
		module = l.module + "/" + module
	}
	return waLogger{log: l.log, module: module}
}

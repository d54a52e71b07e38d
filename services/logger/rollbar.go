package logsvc

import (
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"

	"github.com/rollbar/rollbar-go"
	"github.com/rollbar/rollbar-go/errors"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/enrollment"
	"github.com/trezcool/shule/core/user"
)

// RollbarLogger prints to a std logger and reports to Rollbar (when enabled).
type RollbarLogger struct {
	std *log.Logger
}

var _ core.Logger = (*RollbarLogger)(nil)

// NewRollbarLogger returns a logger that reports to Rollbar outside debug mode, when a token is configured.
func NewRollbarLogger(std *log.Logger, conf *core.Config) *RollbarLogger {
	rollbar.SetToken(conf.RollbarToken)
	rollbar.SetEnvironment(conf.Env)
	rollbar.SetServerHost(conf.Server.Host)
	rollbar.SetCodeVersion(conf.Build)
	rollbar.SetStackTracer(errors.StackTracer)
	rollbar.SetEnabled(!conf.Debug && conf.RollbarToken != "")
	return &RollbarLogger{std: std}
}

func (l *RollbarLogger) Enable(enabled bool) {
	rollbar.SetEnabled(enabled)
}

// Close waits for the queued Rollbar items to be sent.
func (l *RollbarLogger) Close() {
	rollbar.Close()
}

// prepare turns args into rollbar args: msg, the first error, one merged extras map.
// expected args: error, map[string]interface{}, user.User
func (l *RollbarLogger) prepare(msg string, args []interface{}) (rbArgs []interface{}, extras map[string]interface{}) {
	var (
		usrSet bool
		err    error
	)
	extras = make(map[string]interface{})
	for _, arg := range args {
		switch a := arg.(type) {
		case user.User:
			if !usrSet { // only set one User
				rollbar.SetPerson(strconv.FormatInt(a.ID, 10), a.Username, a.Email)
				usrSet = true
			}
		case error:
			if err == nil {
				err = a
				if kind := enrollment.KindOf(a); kind != enrollment.KindUnknown {
					extras["kind"] = kind.String()
				}
			}
		case map[string]interface{}:
			for k, v := range a {
				extras[k] = v
			}
		default:
			extras[fmt.Sprintf("arg%d", len(extras))] = a
		}
	}
	if !usrSet {
		rollbar.ClearPerson()
	}

	rbArgs = []interface{}{msg}
	if err != nil {
		rbArgs = append(rbArgs, err)
	}
	if len(extras) > 0 {
		rbArgs = append(rbArgs, extras)
	}
	return rbArgs, extras
}

func (l *RollbarLogger) print(level, msg string, extras map[string]interface{}) {
	var b strings.Builder
	b.WriteString(level)
	b.WriteString(" ")
	b.WriteString(msg)

	keys := make([]string, 0, len(extras))
	for k := range extras {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		_, _ = fmt.Fprintf(&b, " %s=%v", k, extras[k])
	}
	l.std.Println(b.String())
}

func (l *RollbarLogger) Debug(msg string, args ...interface{}) {
	rbArgs, extras := l.prepare(msg, args)
	rollbar.Debug(rbArgs...)
	l.print("DEBUG", msg, extras)
}

func (l *RollbarLogger) Info(msg string, args ...interface{}) {
	rbArgs, extras := l.prepare(msg, args)
	rollbar.Info(rbArgs...)
	l.print("INFO", msg, extras)
}

func (l *RollbarLogger) Warn(msg string, args ...interface{}) {
	rbArgs, extras := l.prepare(msg, args)
	rollbar.Warning(rbArgs...)
	l.print("WARN", msg, extras)
}

func (l *RollbarLogger) Error(msg string, args ...interface{}) {
	rbArgs, extras := l.prepare(msg, args)
	rollbar.Error(rbArgs...)
	l.print("ERROR", msg, extras)
}

func (l *RollbarLogger) Fatal(msg string, args ...interface{}) {
	rbArgs, extras := l.prepare(msg, args)
	rollbar.Critical(rbArgs...)
	l.print("FATAL", msg, extras)
	rollbar.Close()
	l.std.Fatal(msg)
}

package httpapi

import (
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// zlog is the structured logger used by the HTTP layer; silent until SetLogger.
var zlog = zerolog.Nop()

// SetLogger installs a structured logger used by the HTTP layer.
func SetLogger(l zerolog.Logger) { zlog = l }

// LogLevel controls per-request logging behavior.
type LogLevel int

const (
	LevelOff LogLevel = iota
	LevelError
	LevelInfo
	LevelDebug
)

func parseLevel(s string) LogLevel {
	switch s {
	case "off", "":
		return LevelOff
	case "error":
		return LevelError
	case "info":
		return LevelInfo
	case "debug":
		return LevelDebug
	default:
		return LevelInfo
	}
}

// global default, read once
var defaultLogLevel = parseLevel(os.Getenv("ANALYZERD_REQUEST_LOG"))

// SetRequestLogLevel overrides the default per-request log level.
func SetRequestLogLevel(s string) { defaultLogLevel = parseLevel(s) }

func requestLogLevel(r *http.Request) LogLevel {
	// Per-request overrides
	if v := r.URL.Query().Get("log"); v != "" {
		if v == "1" {
			return LevelDebug
		}
		return parseLevel(v)
	}
	if v := r.Header.Get("X-Log-Level"); v != "" {
		return parseLevel(v)
	}
	return defaultLogLevel
}

// logEnd writes the request summary line when the request's level allows it.
func logEnd(r *http.Request, lvl LogLevel, msg string, status int, start time.Time, err error) {
	if lvl == LevelOff || (lvl == LevelError && err == nil) {
		return
	}
	ev := zlog.Info()
	if err != nil {
		ev = zlog.Warn().Err(err)
	}
	ev = ev.Str("path", r.URL.Path).Int("status", status).Dur("dur", time.Since(start))
	if rid := middleware.GetReqID(r.Context()); rid != "" {
		ev = ev.Str("request_id", rid)
	}
	ev.Msg(msg)
}

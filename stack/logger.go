package stack

import (
	"log/slog"

	"github.com/go-tuntcp/tuntcp/internal"
)

// logger mirrors the embedding pattern used throughout the donor codebase
// (see tcp.ControlBlock's debug/trace/logerr helpers): a nil-safe *slog.Logger
// wrapped so call sites never need a nil check.
type logger struct {
	log *slog.Logger
}

func (l logger) logerr(msg string, attrs ...slog.Attr) {
	internal.LogAttrs(l.log, slog.LevelError, msg, attrs...)
}
func (l logger) info(msg string, attrs ...slog.Attr) {
	internal.LogAttrs(l.log, slog.LevelInfo, msg, attrs...)
}
func (l logger) warn(msg string, attrs ...slog.Attr) {
	internal.LogAttrs(l.log, slog.LevelWarn, msg, attrs...)
}
func (l logger) debug(msg string, attrs ...slog.Attr) {
	internal.LogAttrs(l.log, slog.LevelDebug, msg, attrs...)
}
func (l logger) trace(msg string, attrs ...slog.Attr) {
	internal.LogAttrs(l.log, internal.LevelTrace, msg, attrs...)
}

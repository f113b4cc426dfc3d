package logger

import (
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

// callerHook rewrites the caller reported by logrus to the first frame
// outside this package, so log lines point at the real call site instead
// of the wrapper methods.
type callerHook struct{}

func (h *callerHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *callerHook) Fire(entry *logrus.Entry) error {
	pcs := make([]uintptr, 16)
	// Skip runtime.Callers itself, this hook and the logrus dispatch.
	frames := runtime.CallersFrames(pcs[:runtime.Callers(6, pcs)])
	for frame, more := frames.Next(); more; frame, more = frames.Next() {
		if strings.Contains(frame.Function, "sirupsen/logrus") ||
			strings.Contains(frame.Function, "smartfeed/logger") {
			continue
		}
		entry.Caller = &frame
		break
	}
	return nil
}

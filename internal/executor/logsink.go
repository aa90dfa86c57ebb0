package executor

import (
	"context"
	"fmt"
	"time"

	"conveyor/internal/pipeline"
	"conveyor/internal/storage"
	logx "conveyor/pkg/logx"
)

// runLogger is the log sink bound to one run. It is only used from the
// run's executor goroutine, so the current task id needs no locking.
type runLogger struct {
	exec  *Executor
	runID int64
	task  string
}

var _ pipeline.RunLogger = (*runLogger)(nil)

func (l *runLogger) Debugf(format string, args ...any) {
	l.emit(pipeline.LevelDebug, fmt.Sprintf(format, args...), "")
}

func (l *runLogger) Infof(format string, args ...any) {
	l.emit(pipeline.LevelInfo, fmt.Sprintf(format, args...), "")
}

func (l *runLogger) Warnf(format string, args ...any) {
	l.emit(pipeline.LevelWarning, fmt.Sprintf(format, args...), "")
}

func (l *runLogger) Errorf(format string, args ...any) {
	l.emit(pipeline.LevelError, fmt.Sprintf(format, args...), "")
}

// emit appends one line under the current task.
func (l *runLogger) emit(level pipeline.LogLevel, msg, detail string) {
	l.append(level, l.task, msg, detail)
}

// runLevel appends a line not attributed to any task.
func (l *runLogger) runLevel(level pipeline.LogLevel, msg, detail string) {
	l.append(level, "", msg, detail)
}

func (l *runLogger) append(level pipeline.LogLevel, task, msg, detail string) {
	entry := l.exec.bus.Append(l.runID, string(level), task, msg, detail)
	l.persist(entry.Seq, entry.At, string(level), task, msg, detail)
}

func (l *runLogger) persist(seq int64, at time.Time, level, task, msg, detail string) {
	if l.exec.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := l.exec.store.AppendLog(ctx, storage.LogRecord{
		RunID:   l.runID,
		Seq:     seq,
		At:      at,
		Level:   level,
		Task:    task,
		Message: msg,
		Detail:  detail,
	})
	if err != nil {
		l.exec.log.Warn("failed persisting run log line",
			logx.Int64("run", l.runID), logx.Int64("seq", seq), logx.Err(err))
	}
}

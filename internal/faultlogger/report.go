package faultlogger

import (
	"context"
	"fmt"

	"github.com/xtxerr/faultlogger/internal/errors"
	"github.com/xtxerr/faultlogger/internal/storage/formatter"
	"github.com/xtxerr/faultlogger/internal/storage/ingestion"
	"github.com/xtxerr/faultlogger/internal/storage/types"
)

// AddRequest is a fault reported directly by an application.
type AddRequest struct {
	ProcessID int32
	UserID    int32
	FaultType types.Category
	Module    string
	Reason    string

	// Summary is stored verbatim in the full log.
	Summary string

	// Sections adds extra log sections keyed by formatter.Key* constants.
	Sections map[string]string
}

// NativeCrash is a crash caught by the native signal handler.
type NativeCrash struct {
	ProcessID   int32
	UserID      int32
	Module      string
	ProcessName string

	// Signal is the signal name, e.g. "SIGABRT"; Code its si_code name.
	Signal string
	Code   string

	FaultMessage string
	FaultThread  string
	Registers    string
	OtherThreads string
}

// ScriptCrash is an uncaught error reported by the script runtime.
type ScriptCrash struct {
	ProcessID    int32
	UserID       int32
	Module       string
	ErrorName    string
	ErrorMessage string
	Stacktrace   string
}

// AppFreeze is an application that stopped responding.
type AppFreeze struct {
	ProcessID    int32
	UserID       int32
	Module       string
	Event        string // e.g. "THREAD_BLOCK_6S"
	Stacktrace   string
	MessageQueue string
	ProcessStack string
}

// AddFaultLog stores a directly added fault record.
func (l *Logger) AddFaultLog(ctx context.Context, req AddRequest) (types.Handle, error) {
	return l.store.Ingest(ctx, ingestion.Request{
		ProcessID: req.ProcessID,
		UserID:    req.UserID,
		Category:  req.FaultType,
		Module:    req.Module,
		Reason:    req.Reason,
		Summary:   req.Summary,
		Sections:  req.Sections,
	})
}

// ReportNativeCrash stores a native crash. The reason names the signal and
// the full log always carries a fault thread section.
func (l *Logger) ReportNativeCrash(ctx context.Context, c NativeCrash) (types.Handle, error) {
	if c.Signal == "" {
		return types.Handle{}, errors.NewMissingField("signal")
	}

	reason := "Signal:" + c.Signal
	if c.Code != "" {
		reason += "(" + c.Code + ")"
	}

	sections := map[string]string{
		formatter.KeyKeyThreadInfo:   threadInfo(c.FaultThread, c.ProcessID, c.ProcessName, c.Module),
		formatter.KeyRegisters:       c.Registers,
		formatter.KeyOtherThreadInfo: c.OtherThreads,
		formatter.KeyFaultMessage:    c.FaultMessage,
		formatter.KeyProcessName:     c.ProcessName,
	}

	return l.store.Ingest(ctx, ingestion.Request{
		ProcessID: c.ProcessID,
		UserID:    c.UserID,
		Category:  types.CategoryNativeCrash,
		Module:    c.Module,
		Reason:    reason,
		Sections:  sections,
	})
}

// ReportScriptCrash stores an uncaught script error. A process gets at
// most one script crash record per Options.ScriptCrashInterval; later
// reports inside the window fail with ErrRateLimited.
func (l *Logger) ReportScriptCrash(ctx context.Context, c ScriptCrash) (types.Handle, error) {
	if c.ErrorName == "" {
		return types.Handle{}, errors.NewMissingField("errorName")
	}
	if !l.scripts.allow(c.ProcessID) {
		l.stats.limited.Add(1)
		l.logger.Warn("script crash dropped", "pid", c.ProcessID, "module", c.Module, "error", c.ErrorName)
		return types.Handle{}, errors.ErrRateLimited
	}

	summary := fmt.Sprintf("Error name:%s\nError message:%s\n", c.ErrorName, c.ErrorMessage)
	if c.Stacktrace != "" {
		summary += "Stacktrace:\n" + c.Stacktrace
	}

	sections := map[string]string{
		formatter.KeyKeyThreadInfo: threadInfo(c.Stacktrace, c.ProcessID, "", c.Module),
		formatter.KeyFaultMessage:  c.ErrorMessage,
	}

	return l.store.Ingest(ctx, ingestion.Request{
		ProcessID: c.ProcessID,
		UserID:    c.UserID,
		Category:  types.CategoryScriptCrash,
		Module:    c.Module,
		Reason:    c.ErrorName,
		Summary:   summary,
		Sections:  sections,
	})
}

// ReportAppFreeze stores an application freeze.
func (l *Logger) ReportAppFreeze(ctx context.Context, f AppFreeze) (types.Handle, error) {
	if f.Event == "" {
		return types.Handle{}, errors.NewMissingField("event")
	}

	sections := map[string]string{
		formatter.KeyStacktrace:   f.Stacktrace,
		formatter.KeyMsgQueueInfo: f.MessageQueue,
		formatter.KeyProcessStack: f.ProcessStack,
	}

	return l.store.Ingest(ctx, ingestion.Request{
		ProcessID: f.ProcessID,
		UserID:    f.UserID,
		Category:  types.CategoryAppFreeze,
		Module:    f.Module,
		Reason:    f.Event,
		Sections:  sections,
	})
}

// threadInfo returns the fault thread section, falling back to the thread
// header alone when the producer captured no stack.
func threadInfo(stack string, pid int32, name, module string) string {
	if stack != "" {
		return stack
	}
	if name == "" {
		name = module
	}
	return fmt.Sprintf("Tid:%d, Name:%s\n", pid, name)
}

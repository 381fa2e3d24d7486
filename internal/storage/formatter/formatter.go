// Package formatter renders and parses the full text body of a fault record.
//
// A body is a sequence of sections. Single-line sections are written as
// "Header:value"; multi-line sections as "Header:\n" followed by the value.
// Each category has its own section order.
package formatter

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xtxerr/faultlogger/internal/storage/types"
)

// Section keys accepted in Input.Sections.
const (
	KeyDeviceInfo      = "DEVICE_INFO"
	KeyBuildInfo       = "BUILD_INFO"
	KeyTimestamp       = "TIMESTAMP"
	KeyModule          = "MODULE"
	KeyVersion         = "VERSION"
	KeyForeground      = "FOREGROUND"
	KeyPID             = "PID"
	KeyUID             = "UID"
	KeyFaultType       = "FAULT_TYPE"
	KeyReason          = "REASON"
	KeyFaultMessage    = "FAULT_MESSAGE"
	KeyProcessName     = "PNAME"
	KeyKeyThreadInfo   = "KEY_THREAD_INFO"
	KeyRegisters       = "KEY_THREAD_REGISTERS"
	KeyOtherThreadInfo = "OTHER_THREAD_INFO"
	KeyStacktrace      = "TRUSTSTACK"
	KeyMsgQueueInfo    = "MSG_QUEUE_INFO"
	KeyProcessStack    = "PROCESS_STACKTRACE"
	KeySummary         = "SUMMARY"
)

type section struct {
	key       string
	header    string
	multiline bool
}

var (
	deviceInfo      = section{KeyDeviceInfo, "Device info", false}
	buildInfo       = section{KeyBuildInfo, "Build info", false}
	timestamp       = section{KeyTimestamp, "Timestamp", false}
	moduleName      = section{KeyModule, "Module name", false}
	moduleVersion   = section{KeyVersion, "Version", false}
	foreground      = section{KeyForeground, "Foreground", false}
	modulePID       = section{KeyPID, "Pid", false}
	moduleUID       = section{KeyUID, "Uid", false}
	faultType       = section{KeyFaultType, "Fault type", false}
	reason          = section{KeyReason, "Reason", false}
	faultMessage    = section{KeyFaultMessage, "Fault message", false}
	processName     = section{KeyProcessName, "Process name", false}
	keyThreadInfo   = section{KeyKeyThreadInfo, "Fault thread info", true}
	registers       = section{KeyRegisters, "Registers", true}
	otherThreadInfo = section{KeyOtherThreadInfo, "Other thread info", true}
	stacktrace      = section{KeyStacktrace, "Selected stacktrace", true}
	msgQueueInfo    = section{KeyMsgQueueInfo, "Message queue info", true}
	processStack    = section{KeyProcessStack, "Process stacktrace", true}
	summary         = section{KeySummary, "Summary", true}
)

var (
	nativeCrashSequence = []section{
		deviceInfo, buildInfo, timestamp, moduleName, moduleVersion, foreground,
		modulePID, moduleUID, faultType, reason, faultMessage, processName,
		keyThreadInfo, summary, registers, otherThreadInfo,
	}

	scriptCrashSequence = []section{
		deviceInfo, buildInfo, timestamp, moduleName, moduleVersion, foreground,
		modulePID, moduleUID, faultType, faultMessage, reason, keyThreadInfo, summary,
	}

	appFreezeSequence = []section{
		deviceInfo, buildInfo, timestamp, moduleName, moduleVersion, foreground,
		modulePID, moduleUID, faultType, reason, stacktrace, msgQueueInfo,
		processStack, summary,
	}
)

func sequenceFor(c types.Category) []section {
	switch c {
	case types.CategoryNativeCrash:
		return nativeCrashSequence
	case types.CategoryScriptCrash:
		return scriptCrashSequence
	case types.CategoryAppFreeze:
		return appFreezeSequence
	default:
		return nil
	}
}

// Input is everything a producer knows about a fault.
type Input struct {
	Category  types.Category
	ProcessID int32
	UserID    int32
	Module    string
	Reason    string
	Summary   string
	Time      time.Time

	// Sections holds producer-supplied section bodies keyed by Key* constants.
	// Values here take precedence over the fields above.
	Sections map[string]string
}

// Build renders the full log body for in. The output always contains the
// summary verbatim so a later reader can locate it.
func Build(in Input) string {
	values := map[string]string{
		KeyTimestamp: in.Time.Format("2006-01-02 15:04:05.000"),
		KeyModule:    in.Module,
		KeyPID:       strconv.FormatInt(int64(in.ProcessID), 10),
		KeyUID:       strconv.FormatInt(int64(in.UserID), 10),
		KeyFaultType: in.Category.Name(),
		KeyReason:    in.Reason,
		KeySummary:   in.Summary,
	}
	for k, v := range in.Sections {
		values[k] = v
	}

	var b strings.Builder
	for _, s := range sequenceFor(in.Category) {
		v, ok := values[s.key]
		if !ok || v == "" {
			continue
		}
		writeSection(&b, s, v)
	}

	// Unknown categories and the summary guarantee: never drop the summary.
	if in.Summary != "" && !strings.Contains(b.String(), in.Summary) {
		writeSection(&b, summary, in.Summary)
	}

	return b.String()
}

func writeSection(b *strings.Builder, s section, v string) {
	if s.multiline {
		fmt.Fprintf(b, "%s:\n%s", s.header, v)
		if !strings.HasSuffix(v, "\n") {
			b.WriteByte('\n')
		}
		return
	}
	fmt.Fprintf(b, "%s:%s\n", s.header, v)
}

// Parse splits a body produced by Build back into sections.
// Unknown lines outside any multi-line section are ignored.
func Parse(body string, c types.Category) map[string]string {
	seq := sequenceFor(c)
	if seq == nil {
		seq = nativeCrashSequence
	}

	out := make(map[string]string)
	var current *section
	var multi strings.Builder

	flush := func() {
		if current != nil {
			out[current.key] = multi.String()
			multi.Reset()
			current = nil
		}
	}

	sc := bufio.NewScanner(strings.NewReader(body))
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if s, value, ok := matchHeader(seq, line); ok {
			flush()
			if s.multiline {
				current = &s
				continue
			}
			out[s.key] = value
			continue
		}
		if current != nil {
			multi.WriteString(line)
			multi.WriteByte('\n')
		}
	}
	flush()

	return out
}

func matchHeader(seq []section, line string) (section, string, bool) {
	for _, s := range seq {
		prefix := s.header + ":"
		if !strings.HasPrefix(line, prefix) {
			continue
		}
		rest := line[len(prefix):]
		if s.multiline {
			if rest == "" {
				return s, "", true
			}
			continue
		}
		return s, rest, true
	}
	return section{}, "", false
}

// DeriveSummary picks the section that best summarizes a fault when the
// producer did not provide one: the faulting thread for native crashes,
// the selected stack for freezes and script errors.
func DeriveSummary(c types.Category, sections map[string]string, reason string) string {
	var s string
	switch c {
	case types.CategoryNativeCrash:
		s = sections[KeyKeyThreadInfo]
	case types.CategoryScriptCrash, types.CategoryAppFreeze:
		s = sections[KeyStacktrace]
		if s == "" {
			s = sections[KeyKeyThreadInfo]
		}
	}
	if s == "" {
		s = reason
	}
	return s
}

package common

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// CrashLogDir is where crash reports are written; set from logging.dir at startup.
var CrashLogDir = "./logs"

// WriteCrashFile writes a crash report for a panic that is about to take the
// process down and returns its path, or "" when the file could not be written.
func WriteCrashFile(process string, panicVal interface{}, stackTrace string) string {
	now := time.Now()
	crashPath := filepath.Join(CrashLogDir, fmt.Sprintf("crash-%s-%s.log", process, now.Format("2006-01-02T15-04-05")))

	var report bytes.Buffer
	fmt.Fprintf(&report, "=== STOCKFEED CRASH REPORT (%s) ===\n", process)
	fmt.Fprintf(&report, "Time: %s\n", now.Format(time.RFC3339))
	fmt.Fprintf(&report, "Version: %s\n", GetFullVersion())
	fmt.Fprintf(&report, "PID: %d\n\n", os.Getpid())
	fmt.Fprintf(&report, "=== PANIC VALUE ===\n%v\n\n", panicVal)
	fmt.Fprintf(&report, "=== STACK TRACE ===\n%s\n", stackTrace)
	fmt.Fprintf(&report, "=== RUNTIME ===\nNumGoroutine: %d\nGOOS: %s\nGOARCH: %s\n", runtime.NumGoroutine(), runtime.GOOS, runtime.GOARCH)

	if err := os.MkdirAll(CrashLogDir, 0755); err == nil {
		if err := os.WriteFile(crashPath, report.Bytes(), 0644); err == nil {
			fmt.Fprintf(os.Stderr, "\n!!! FATAL CRASH - Report saved to: %s !!!\n", crashPath)
			return crashPath
		}
	}

	// Last resort: the report goes to stderr
	fmt.Fprint(os.Stderr, report.String())
	return ""
}

// GetStackTrace returns the current goroutine's stack trace.
func GetStackTrace() string {
	buf := make([]byte, 8192)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}

// RecoverWithCrashFile is a helper for deferred panic recovery that writes a crash file
// and exits with status 1.
// Usage: defer common.RecoverWithCrashFile("supervise")
func RecoverWithCrashFile(process string) {
	if r := recover(); r != nil {
		WriteCrashFile(process, r, GetStackTrace())
		os.Exit(1)
	}
}

package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// RunLogger writes a human-readable transcript of a single scheduler run:
// prompts, model output, and per-conversation sections.
type RunLogger struct {
	runID     string
	path      string
	logFile   *os.File
	mutex     sync.Mutex
	startTime time.Time
}

var (
	currentLogger *RunLogger
	loggerMutex   sync.Mutex
)

// StartRunLogging opens dir/run_<id>_<ts>.log and makes it the current logger.
func StartRunLogging(dir, runID string) (*RunLogger, error) {
	loggerMutex.Lock()
	defer loggerMutex.Unlock()

	if currentLogger != nil {
		currentLogger.close()
		currentLogger = nil
	}

	if dir == "" {
		dir = "run_logs"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	start := time.Now()
	path := filepath.Join(dir, fmt.Sprintf("run_%s_%s.log", runID, start.Format("20060102_150405")))
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %w", err)
	}

	l := &RunLogger{runID: runID, path: path, logFile: f, startTime: start}
	fmt.Fprintf(f, "AUTOPOST ENGAGEMENT RUN LOG\nRun ID: %s\nStart Time: %s\nLog Format: [HH:MM:SS.mmm] [+duration] message\n\n",
		runID, start.Format("2006-01-02 15:04:05"))
	currentLogger = l
	return l, nil
}

// GetCurrentLogger returns the active run logger, or nil. All methods are
// safe to call on nil.
func GetCurrentLogger() *RunLogger {
	loggerMutex.Lock()
	defer loggerMutex.Unlock()
	return currentLogger
}

func (r *RunLogger) Path() string {
	if r == nil {
		return ""
	}
	return r.path
}

func (r *RunLogger) Log(format string, args ...any) {
	if r == nil {
		return
	}
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.logFile == nil {
		return
	}
	fmt.Fprintf(r.logFile, "[%s] [+%v] %s\n", time.Now().Format("15:04:05.000"),
		time.Since(r.startTime).Round(time.Millisecond), fmt.Sprintf(format, args...))
}

func (r *RunLogger) LogSection(title string) {
	if r == nil {
		return
	}
	sep := strings.Repeat("=", 80)
	r.Log(sep)
	r.Log("= %s", title)
	r.Log(sep)
}

// LogRequest records a prompt sent to the completion service.
func (r *RunLogger) LogRequest(purpose, model, prompt string) {
	if r == nil {
		return
	}
	r.LogSection("COMPLETION REQUEST - " + purpose)
	r.Log("Model: %s", model)
	r.Log("Prompt length: %d characters", len(prompt))
	r.writeBlock("PROMPT", prompt)
}

func (r *RunLogger) LogResponse(purpose, response string) {
	if r == nil {
		return
	}
	r.LogSection("COMPLETION RESPONSE - " + purpose)
	r.Log("Response length: %d characters", len(response))
	r.writeBlock("RESPONSE", response)
}

func (r *RunLogger) LogError(where string, err error) {
	if r == nil {
		return
	}
	r.Log("ERROR in %s: %v", where, err)
}

func (r *RunLogger) writeBlock(label, body string) {
	r.Log("--- %s START ---", label)
	r.mutex.Lock()
	if r.logFile != nil {
		r.logFile.WriteString(body + "\n")
	}
	r.mutex.Unlock()
	r.Log("--- %s END ---", label)
}

// Close finalizes the file and clears it as the current logger.
func (r *RunLogger) Close() {
	if r == nil {
		return
	}
	loggerMutex.Lock()
	if currentLogger == r {
		currentLogger = nil
	}
	loggerMutex.Unlock()
	r.close()
}

func (r *RunLogger) close() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.logFile == nil {
		return
	}
	fmt.Fprintf(r.logFile, "[%s] Run logging completed. Total duration: %v\n",
		time.Now().Format("15:04:05.000"), time.Since(r.startTime).Round(time.Millisecond))
	r.logFile.Sync()
	r.logFile.Close()
	r.logFile = nil
}

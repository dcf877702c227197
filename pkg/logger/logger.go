package logger

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level controls which log lines are emitted.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

var (
	mu    sync.Mutex
	level = INFO
	out   = os.Stderr
)

func SetLevel(l Level) {
	mu.Lock()
	defer mu.Unlock()
	level = l
}

func levelName(l Level) string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	}
	return "?"
}

func logLine(l Level, component, msg string, fields map[string]interface{}) {
	mu.Lock()
	defer mu.Unlock()
	if l < level {
		return
	}
	var b strings.Builder
	b.WriteString(time.Now().Format("2006-01-02 15:04:05"))
	b.WriteString(" [")
	b.WriteString(levelName(l))
	b.WriteString("] [")
	b.WriteString(component)
	b.WriteString("] ")
	b.WriteString(msg)
	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, fields[k])
		}
	}
	b.WriteString("\n")
	_, _ = out.WriteString(b.String())
}

func DebugC(component, msg string) { logLine(DEBUG, component, msg, nil) }
func InfoC(component, msg string)  { logLine(INFO, component, msg, nil) }
func WarnC(component, msg string)  { logLine(WARN, component, msg, nil) }
func ErrorC(component, msg string) { logLine(ERROR, component, msg, nil) }

func DebugCF(component, msg string, fields map[string]interface{}) {
	logLine(DEBUG, component, msg, fields)
}

func InfoCF(component, msg string, fields map[string]interface{}) {
	logLine(INFO, component, msg, fields)
}

func WarnCF(component, msg string, fields map[string]interface{}) {
	logLine(WARN, component, msg, fields)
}

func ErrorCF(component, msg string, fields map[string]interface{}) {
	logLine(ERROR, component, msg, fields)
}

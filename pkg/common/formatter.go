package common

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Entry fields rendered as workflow command properties on annotations.
var annotationFields = []string{"title", "file", "line", "endLine", "col", "endColumn"}

// ActionsFormatter renders log entries as GitHub Actions workflow commands so
// that the runner turns them into debug lines and annotations.
type ActionsFormatter struct{}

func (f *ActionsFormatter) Format(entry *log.Entry) ([]byte, error) {
	b := &bytes.Buffer{}
	msg := strings.TrimSuffix(entry.Message, "\n")

	var command string
	switch entry.Level {
	case log.TraceLevel, log.DebugLevel:
		command = "debug"
	case log.WarnLevel:
		command = "warning"
	case log.ErrorLevel, log.FatalLevel, log.PanicLevel:
		command = "error"
	default:
		b.WriteString(msg)
		b.WriteByte('\n')
		return b.Bytes(), nil
	}

	b.WriteString("::")
	b.WriteString(command)
	if command != "debug" {
		props := make([]string, 0, len(annotationFields))
		for _, k := range annotationFields {
			if v, ok := entry.Data[k]; ok {
				props = append(props, fmt.Sprintf("%s=%s", k, EscapeProperty(fmt.Sprint(v))))
			}
		}
		if len(props) > 0 {
			b.WriteByte(' ')
			b.WriteString(strings.Join(props, ","))
		}
	}
	b.WriteString("::")
	b.WriteString(EscapeData(msg))
	b.WriteByte('\n')
	return b.Bytes(), nil
}

// EscapeData escapes the message part of a workflow command.
func EscapeData(s string) string {
	s = strings.ReplaceAll(s, "%", "%25")
	s = strings.ReplaceAll(s, "\r", "%0D")
	return strings.ReplaceAll(s, "\n", "%0A")
}

// EscapeProperty escapes a property value of a workflow command.
func EscapeProperty(s string) string {
	s = EscapeData(s)
	s = strings.ReplaceAll(s, ":", "%3A")
	return strings.ReplaceAll(s, ",", "%2C")
}

const (
	red    = 31
	yellow = 33
	blue   = 34
	gray   = 37
)

// ConsoleFormatter is the human readable formatter used outside of a workflow run.
type ConsoleFormatter struct{}

func (f *ConsoleFormatter) Format(entry *log.Entry) ([]byte, error) {
	b := &bytes.Buffer{}
	entry.Message = strings.TrimSuffix(entry.Message, "\n")

	level := strings.ToUpper(entry.Level.String())
	if len(level) > 4 {
		level = level[:4]
	}

	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	if entry.Logger != nil && CheckIfColorable(entry.Logger.Out) {
		_, _ = fmt.Fprintf(b, "\x1b[%dm%s\x1b[0m %s", levelColor(entry.Level), level, entry.Message)
		for _, k := range keys {
			_, _ = fmt.Fprintf(b, " \x1b[%dm%s\x1b[0m=%v", gray, k, entry.Data[k])
		}
	} else {
		_, _ = fmt.Fprintf(b, "%s %s", level, entry.Message)
		for _, k := range keys {
			_, _ = fmt.Fprintf(b, " %s=%v", k, entry.Data[k])
		}
	}

	b.WriteByte('\n')
	return b.Bytes(), nil
}

func levelColor(l log.Level) int {
	switch l {
	case log.DebugLevel, log.TraceLevel:
		return gray
	case log.WarnLevel:
		return yellow
	case log.ErrorLevel, log.FatalLevel, log.PanicLevel:
		return red
	default:
		return blue
	}
}

type entryProcessor func(entry *log.Entry) *log.Entry

// MaskedFormatter replaces every occurrence of a secret in the message with ***.
type MaskedFormatter struct {
	log.Formatter
	masker entryProcessor
}

func NewMaskedFormatter(f log.Formatter, secrets ...string) *MaskedFormatter {
	return &MaskedFormatter{
		Formatter: f,
		masker:    valueMasker(secrets),
	}
}

func (f *MaskedFormatter) Format(entry *log.Entry) ([]byte, error) {
	return f.Formatter.Format(f.masker(entry))
}

func valueMasker(secrets []string) entryProcessor {
	return func(entry *log.Entry) *log.Entry {
		for _, v := range secrets {
			if v != "" {
				entry.Message = strings.ReplaceAll(entry.Message, v, "***")
			}
		}
		return entry
	}
}

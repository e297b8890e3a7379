package common

import (
	"bytes"
	"io"
)

// LineHandler is a callback function for handling a line.
// Returning false stops the remaining handlers for that line.
type LineHandler func(line string) bool

type lineWriter struct {
	buffer   bytes.Buffer
	handlers []LineHandler
}

// NewLineWriter creates a new instance of a line writer
func NewLineWriter(handlers ...LineHandler) io.Writer {
	w := new(lineWriter)
	w.handlers = handlers
	return w
}

func (lw *lineWriter) Write(p []byte) (n int, err error) {
	pBuf := bytes.NewBuffer(p)
	written := 0
	for {
		line, err := pBuf.ReadString('\n')
		w, _ := lw.buffer.WriteString(line)
		written += w
		if err == nil {
			lw.handleLine(lw.buffer.String())
			lw.buffer.Reset()
		} else if err == io.EOF {
			break
		} else {
			return written, err
		}
	}

	return written, nil
}

// Flush hands a trailing line without newline to the handlers.
func (lw *lineWriter) Flush() {
	if lw.buffer.Len() > 0 {
		lw.handleLine(lw.buffer.String())
		lw.buffer.Reset()
	}
}

func (lw *lineWriter) handleLine(line string) {
	for _, h := range lw.handlers {
		ok := h(line)
		if !ok {
			break
		}
	}
}

// FlushLineWriter flushes w if it was created by NewLineWriter.
func FlushLineWriter(w io.Writer) {
	if lw, ok := w.(*lineWriter); ok {
		lw.Flush()
	}
}

// Package summary builds the markdown/HTML job summary of a step.
package summary

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

const EnvVar = "GITHUB_STEP_SUMMARY"

var ErrNoSummaryFile = errors.New("Unable to find environment variable for $GITHUB_STEP_SUMMARY. Check if your runtime environment supports job summaries.")

// Attr is one HTML attribute; attributes render in the order given.
type Attr struct {
	Name, Value string
}

// TableCell is a cell of AddTable. A plain string row cell is Data only.
type TableCell struct {
	Data    string
	Header  bool
	Colspan string
	Rowspan string
}

// ImageOptions sizes AddImage.
type ImageOptions struct {
	Width  string
	Height string
}

// Summary accumulates content in memory until Write.
type Summary struct {
	buffer   strings.Builder
	filePath string
}

// New returns an empty summary writing to $GITHUB_STEP_SUMMARY.
func New() *Summary {
	return &Summary{}
}

// NewFile returns an empty summary writing to path.
func NewFile(path string) *Summary {
	return &Summary{filePath: path}
}

func (s *Summary) path() (string, error) {
	if s.filePath != "" {
		return s.filePath, nil
	}
	p := os.Getenv(EnvVar)
	if p == "" {
		return "", ErrNoSummaryFile
	}
	f, err := os.OpenFile(p, os.O_RDWR, 0)
	if err != nil {
		return "", fmt.Errorf("Unable to access summary file: '%s'. Check if the file has correct read/write permissions.", p)
	}
	_ = f.Close()
	s.filePath = p
	return p, nil
}

func wrap(tag, content string, selfClose bool, attrs ...Attr) string {
	var sb strings.Builder
	sb.WriteString("<" + tag)
	for _, a := range attrs {
		if a.Value == "" {
			continue
		}
		fmt.Fprintf(&sb, ` %s="%s"`, a.Name, a.Value)
	}
	sb.WriteString(">")
	if selfClose {
		return sb.String()
	}
	sb.WriteString(content)
	sb.WriteString("</" + tag + ">")
	return sb.String()
}

// Write flushes the buffer to the summary file, appending unless overwrite
// is set, and empties the buffer.
func (s *Summary) Write(overwrite bool) error {
	p, err := s.path()
	if err != nil {
		return err
	}
	flag := os.O_WRONLY | os.O_CREATE | os.O_APPEND
	if overwrite {
		flag = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}
	f, err := os.OpenFile(p, flag, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(s.buffer.String()); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	s.EmptyBuffer()
	return nil
}

// Clear empties both the buffer and the summary file.
func (s *Summary) Clear() error {
	return s.EmptyBuffer().Write(true)
}

func (s *Summary) Stringify() string {
	return s.buffer.String()
}

func (s *Summary) IsEmptyBuffer() bool {
	return s.buffer.Len() == 0
}

func (s *Summary) EmptyBuffer() *Summary {
	s.buffer.Reset()
	return s
}

// AddRaw appends text as is, followed by a line break when addEOL is set.
func (s *Summary) AddRaw(text string, addEOL bool) *Summary {
	s.buffer.WriteString(text)
	if addEOL {
		return s.AddEOL()
	}
	return s
}

func (s *Summary) AddEOL() *Summary {
	return s.AddRaw(eol, false)
}

// AddHeading adds an h1 to h6 heading; levels out of range fall back to h1.
func (s *Summary) AddHeading(text string, level int) *Summary {
	tag := "h1"
	if level >= 1 && level <= 6 {
		tag = fmt.Sprintf("h%d", level)
	}
	return s.AddRaw(wrap(tag, text, false), true)
}

func (s *Summary) AddParagraph(text string) *Summary {
	return s.AddRaw(wrap("p", text, false), true)
}

func (s *Summary) AddCodeBlock(code, lang string) *Summary {
	element := wrap("pre", wrap("code", code, false), false, Attr{"lang", lang})
	return s.AddRaw(element, true)
}

func (s *Summary) AddList(items []string, ordered bool) *Summary {
	tag := "ul"
	if ordered {
		tag = "ol"
	}
	var sb strings.Builder
	for _, item := range items {
		sb.WriteString(wrap("li", item, false))
	}
	return s.AddRaw(wrap(tag, sb.String(), false), true)
}

func (s *Summary) AddTable(rows [][]TableCell) *Summary {
	var body strings.Builder
	for _, row := range rows {
		var cells strings.Builder
		for _, cell := range row {
			tag := "td"
			if cell.Header {
				tag = "th"
			}
			cells.WriteString(wrap(tag, cell.Data, false, Attr{"colspan", cell.Colspan}, Attr{"rowspan", cell.Rowspan}))
		}
		body.WriteString(wrap("tr", cells.String(), false))
	}
	return s.AddRaw(wrap("table", body.String(), false), true)
}

func (s *Summary) AddDetails(label, content string) *Summary {
	return s.AddRaw(wrap("details", wrap("summary", label, false)+content, false), true)
}

func (s *Summary) AddImage(src, alt string, opts *ImageOptions) *Summary {
	attrs := []Attr{{"src", src}, {"alt", alt}}
	if opts != nil {
		attrs = append(attrs, Attr{"width", opts.Width}, Attr{"height", opts.Height})
	}
	return s.AddRaw(wrap("img", "", true, attrs...), true)
}

func (s *Summary) AddSeparator() *Summary {
	return s.AddRaw(wrap("hr", "", true), true)
}

func (s *Summary) AddBreak() *Summary {
	return s.AddRaw(wrap("br", "", true), true)
}

func (s *Summary) AddQuote(text, cite string) *Summary {
	return s.AddRaw(wrap("blockquote", text, false, Attr{"cite", cite}), true)
}

func (s *Summary) AddLink(text, href string) *Summary {
	return s.AddRaw(wrap("a", text, false, Attr{"href", href}), true)
}

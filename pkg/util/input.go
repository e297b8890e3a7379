// Package util holds the input parsing and formatting helpers shared by the
// toolkit commands.
package util

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ListOpts tunes GetList.
type ListOpts struct {
	// IgnoreComma keeps commas inside a line instead of splitting on them.
	IgnoreComma bool
	// Comment starts a comment running to the end of the line.
	Comment string
	// Quote is the quoting character, '"' when zero. NoQuote disables quoting.
	Quote rune
}

// NoQuote disables quote handling in GetList.
const NoQuote rune = -1

// GetInput reads the action input name from its INPUT_ variable.
func GetInput(name string) string {
	key := "INPUT_" + strings.ToUpper(strings.ReplaceAll(name, " ", "_"))
	return strings.TrimSpace(os.Getenv(key))
}

func GetInputList(name string, opts *ListOpts) []string {
	return GetList(GetInput(name), opts)
}

// GetInputNumber returns nil when the input is empty.
func GetInputNumber(name string) (*int, error) {
	input := GetInput(name)
	if input == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(input)
	if err != nil {
		return nil, fmt.Errorf("input %s is not a number: %w", name, err)
	}
	return &n, nil
}

// GetList splits a multi-line, comma separated input into trimmed, non
// empty items. Quoted fields may contain commas and newlines.
func GetList(input string, opts *ListOpts) []string {
	if opts == nil {
		opts = &ListOpts{}
	}
	res := []string{}
	if input == "" {
		return res
	}

	for _, record := range parseRecords(input, opts) {
		switch {
		case len(record) == 1 && opts.IgnoreComma:
			res = append(res, record[0])
		case len(record) == 1:
			res = append(res, strings.Split(record[0], ",")...)
		case !opts.IgnoreComma:
			res = append(res, record...)
		default:
			res = append(res, strings.Join(record, ","))
		}
	}

	out := res[:0]
	for _, item := range res {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// parseRecords reads CSV-like records with relaxed quoting: a quote only
// opens a quoted field at the start of the field.
func parseRecords(input string, opts *ListOpts) [][]string {
	quote := opts.Quote
	if quote == 0 {
		quote = '"'
	}
	comment := []rune(opts.Comment)

	var (
		records [][]string
		record  []string
		field   strings.Builder
		inQuote bool
		quoted  bool
	)
	endRecord := func() {
		record = append(record, field.String())
		field.Reset()
		quoted = false
		for _, f := range record {
			if f != "" {
				records = append(records, record)
				break
			}
		}
		record = nil
	}

	runes := []rune(strings.ReplaceAll(input, "\r\n", "\n"))
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case inQuote:
			if r == quote {
				if i+1 < len(runes) && runes[i+1] == quote {
					field.WriteRune(quote)
					i++
					continue
				}
				inQuote = false
				continue
			}
			field.WriteRune(r)
		case quote != NoQuote && r == quote && field.Len() == 0 && !quoted:
			inQuote = true
			quoted = true
		case len(comment) > 0 && hasRunesAt(runes, i, comment):
			// drop the rest of the line
			for i+1 < len(runes) && runes[i+1] != '\n' {
				i++
			}
		case r == ',':
			record = append(record, field.String())
			field.Reset()
			quoted = false
		case r == '\n':
			endRecord()
		default:
			field.WriteRune(r)
		}
	}
	if field.Len() > 0 || len(record) > 0 {
		endRecord()
	}
	return records
}

func hasRunesAt(runes []rune, i int, want []rune) bool {
	if i+len(want) > len(runes) {
		return false
	}
	for j, w := range want {
		if runes[i+j] != w {
			return false
		}
	}
	return true
}

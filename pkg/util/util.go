package util

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"net/url"
	"os"
	osexec "os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

var (
	powershellEscape = strings.NewReplacer(`'`, `''`, `"`, "", "\n", "", "\r", "")
	lineBreaks       = regexp.MustCompile(`\r\n|\r|\n`)
)

// IsValidURL reports whether s is an absolute http(s) URL.
func IsValidURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

// IsValidRef reports whether s looks like a remote git reference.
func IsValidRef(s string) bool {
	if IsValidURL(s) {
		return true
	}
	for _, prefix := range []string{"git://", "github.com/", "git@"} {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}

// PowershellCommand builds the invocation running script with params
// through powershell found in PATH.
func PowershellCommand(script string, params map[string]string) (string, []string, error) {
	path, err := osexec.LookPath("powershell")
	if err != nil {
		return "", nil, err
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	escapedParams := make([]string, 0, len(keys))
	for _, k := range keys {
		escapedParams = append(escapedParams, fmt.Sprintf("-%s '%s'", k, powershellEscape.Replace(params[k])))
	}

	return fmt.Sprintf("%q", path), []string{
		"-NoLogo", "-Sta", "-NoProfile", "-NonInteractive", "-ExecutionPolicy", "Unrestricted",
		"-Command", fmt.Sprintf("& '%s' %s", powershellEscape.Replace(script), strings.Join(escapedParams, " ")),
	}, nil
}

func IsDirectory(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && fi.IsDir()
}

func TrimPrefix(s, prefix string) string {
	return strings.TrimPrefix(s, prefix)
}

func TrimSuffix(s, suffix string) string {
	return strings.TrimSuffix(s, suffix)
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Hash is the hex sha256 of input.
func Hash(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

func ParseBool(s string) (bool, error) {
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("parseBool syntax error: %s", s)
	}
	return b, nil
}

var fileSizeUnits = []string{"Bytes", "KB", "MB", "GB", "TB"}

// FormatFileSize renders bytes in 1024 based units with up to two decimals.
func FormatFileSize(bytes int64) string {
	if bytes <= 0 {
		return "0 Bytes"
	}
	v := float64(bytes)
	i := 0
	for v >= 1024 && i < len(fileSizeUnits)-1 {
		v /= 1024
		i++
	}
	return humanize.Ftoa(math.Round(v*100)/100) + " " + fileSizeUnits[i]
}

// GenerateRandomString returns length random hex characters, 10 when
// length is not positive.
func GenerateRandomString(length int) (string, error) {
	if length <= 0 {
		length = 10
	}
	b := make([]byte, (length+1)/2)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b)[:length], nil
}

// StringToUnicodeEntities encodes every character as an HTML hex entity.
func StringToUnicodeEntities(s string) string {
	var sb strings.Builder
	for _, r := range s {
		fmt.Fprintf(&sb, "&#x%x;", r)
	}
	return sb.String()
}

// CountLines counts lines separated by any of \r\n, \r or \n.
func CountLines(s string) int {
	return len(lineBreaks.Split(s, -1))
}

// IsPathRelativeTo reports whether child lies strictly inside parent.
func IsPathRelativeTo(parent, child string) bool {
	p, err := filepath.Abs(parent)
	if err != nil {
		return false
	}
	c, err := filepath.Abs(child)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(p, c)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// FormatDuration renders d as hours, minutes and whole seconds, e.g. 1h2m3s.
func FormatDuration(d time.Duration) string {
	if d == 0 {
		return "0s"
	}
	total := int64(d / time.Second)
	hours := total / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60

	var parts []string
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	if minutes > 0 {
		parts = append(parts, fmt.Sprintf("%dm", minutes))
	}
	if seconds > 0 || len(parts) == 0 {
		parts = append(parts, fmt.Sprintf("%ds", seconds))
	}
	return strings.Join(parts, "")
}

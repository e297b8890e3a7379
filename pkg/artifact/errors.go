package artifact

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// NetworkError reports a connection level failure talking to GitHub.
type NetworkError struct {
	Code string
	Err  error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("Unable to make request: %s\nIf you are using self-hosted runners, please make sure your runner has access to all GitHub endpoints: https://docs.github.com/en/actions/hosting-your-own-runners/managing-self-hosted-runners/about-self-hosted-runners#communication-between-self-hosted-runners-and-github", e.Code)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// InvalidResponseError reports an unusable answer from the backend.
type InvalidResponseError struct {
	Message string
}

func (e *InvalidResponseError) Error() string {
	return e.Message
}

// NotFoundError reports an artifact that does not exist.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string {
	return e.Message
}

// FilesNotFoundError lists upload inputs missing from disk.
type FilesNotFoundError struct {
	Files []string
}

func (e *FilesNotFoundError) Error() string {
	if len(e.Files) == 0 {
		return "No files were found to upload"
	}
	return "The following files do not exist: " + strings.Join(e.Files, ", ")
}

var ErrGHESNotSupported = errors.New("artifact upload and download v4+ are not currently supported on GHES")

// NetworkErrorCode classifies err as one of ECONNRESET, ENOTFOUND,
// ETIMEDOUT, ECONNREFUSED or EHOSTUNREACH, "" when it is none of them.
func NetworkErrorCode(err error) string {
	var dnsErr *net.DNSError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, syscall.ECONNRESET):
		return "ECONNRESET"
	case errors.Is(err, syscall.ECONNREFUSED):
		return "ECONNREFUSED"
	case errors.Is(err, syscall.EHOSTUNREACH):
		return "EHOSTUNREACH"
	case errors.Is(err, syscall.ETIMEDOUT):
		return "ETIMEDOUT"
	case errors.As(err, &dnsErr):
		if dnsErr.IsTimeout {
			return "ETIMEDOUT"
		}
		return "ENOTFOUND"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "ETIMEDOUT"
	}
	return ""
}

// asNetworkError wraps err in a NetworkError when it is a connection failure.
func asNetworkError(err error) error {
	if code := NetworkErrorCode(err); code != "" {
		return &NetworkError{Code: code, Err: err}
	}
	return err
}

// Package artifacts serves the artifact v4 results protocol from a local
// directory, for local runs and tests of the artifact client.
package artifacts

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/sirupsen/logrus"

	"github.com/nektos/actions-toolkit/pkg/common"
)

// Server stores artifacts under dir/<run id>/<name>/.
type Server struct {
	dir      string
	router   *httprouter.Router
	listener net.Listener
	server   *http.Server
	logger   logrus.FieldLogger
	secret   []byte

	outboundIP string
}

// StartServer serves dir on port, 0 picks a free one.
func StartServer(dir, outboundIP string, port uint16, logger logrus.FieldLogger) (*Server, error) {
	s := &Server{}

	if logger == nil {
		discard := logrus.New()
		discard.Out = io.Discard
		logger = discard
	}
	s.logger = logger.WithField("module", "artifacts")

	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		dir = filepath.Join(home, ".cache", "actions-toolkit", "artifacts")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	s.dir = dir
	s.secret = []byte(dir)

	if outboundIP != "" {
		s.outboundIP = outboundIP
	} else if ip := common.GetOutboundIP(); ip == nil {
		return nil, fmt.Errorf("unable to determine outbound IP address")
	} else {
		s.outboundIP = ip.String()
	}

	s.router = httprouter.New()
	s.routes(s.router)

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port)) // listen on all interfaces
	if err != nil {
		return nil, err
	}
	server := &http.Server{
		ReadHeaderTimeout: 2 * time.Second,
		Handler:           s.router,
	}
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, net.ErrClosed) && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Errorf("http serve: %v", err)
		}
	}()
	s.listener = listener
	s.server = server

	s.logger.Debugf("Artifacts base path '%s'", dir)
	return s, nil
}

// ExternalURL is the value for ACTIONS_RESULTS_URL.
func (s *Server) ExternalURL() string {
	return fmt.Sprintf("http://%s:%d", s.outboundIP, s.listener.Addr().(*net.TCPAddr).Port)
}

func (s *Server) Close() error {
	if s == nil {
		return nil
	}
	var retErr error
	if s.server != nil {
		if err := s.server.Close(); err != nil {
			retErr = err
		}
		s.server = nil
	}
	if s.listener != nil {
		err := s.listener.Close()
		if errors.Is(err, net.ErrClosed) {
			err = nil
		}
		if err != nil {
			retErr = err
		}
		s.listener = nil
	}
	return retErr
}

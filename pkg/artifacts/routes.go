package artifacts

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/nektos/actions-toolkit/pkg/artifact"
	"github.com/nektos/actions-toolkit/pkg/common"
)

const (
	expiresLayout = "2006-01-02 15:04:05.999999999 -0700 MST"
	signedURLTTL  = 60 * time.Minute
	digestFile    = "digest"
)

func artifactNameToID(s string) int64 {
	h := fnv.New32a()
	h.Write([]byte(s))
	return int64(h.Sum32())
}

func (s *Server) routes(router *httprouter.Router) {
	router.POST(path.Join(artifact.ServicePath, "CreateArtifact"), s.middleware(s.createArtifact))
	router.POST(path.Join(artifact.ServicePath, "FinalizeArtifact"), s.middleware(s.finalizeArtifact))
	router.POST(path.Join(artifact.ServicePath, "ListArtifacts"), s.middleware(s.listArtifacts))
	router.POST(path.Join(artifact.ServicePath, "GetSignedArtifactURL"), s.middleware(s.getSignedArtifactURL))
	router.POST(path.Join(artifact.ServicePath, "DeleteArtifact"), s.middleware(s.deleteArtifact))
	// blob storage requests carry a signature instead of a token
	router.PUT(path.Join(artifact.ServicePath, "UploadArtifact"), s.uploadArtifact)
	router.GET(path.Join(artifact.ServicePath, "DownloadArtifact"), s.downloadArtifact)
}

func (s *Server) middleware(handler httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
		s.logger.Debugf("%s %s", r.Method, r.RequestURI)
		if _, err := common.ParseAuthorizationToken(r); err != nil {
			s.error(w, r, http.StatusUnauthorized, fmt.Errorf("unauthorized: %w", err))
			return
		}
		handler(w, r, params)
	}
}

func (s *Server) error(w http.ResponseWriter, r *http.Request, code int, err error) {
	s.logger.Errorf("%v %v: %v", r.Method, r.RequestURI, err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"code": http.StatusText(code), "msg": err.Error()})
}

func (s *Server) send(w http.ResponseWriter, r *http.Request, v artifact.Message) {
	resp, err := artifact.MarshalMessage(v)
	if err != nil {
		s.error(w, r, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/json;charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(resp)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v artifact.Message) bool {
	if err := artifact.DecodeMessage(r.Body, v); err != nil {
		s.error(w, r, http.StatusBadRequest, fmt.Errorf("decode request body: %w", err))
		return false
	}
	return true
}

func (s *Server) runID(w http.ResponseWriter, r *http.Request, raw string) (int64, bool) {
	runID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		s.error(w, r, http.StatusBadRequest, fmt.Errorf("invalid workflow run backend id %q", raw))
		return 0, false
	}
	return runID, true
}

// resolve joins the run directory and artifact name, refusing names that
// escape it.
func (s *Server) resolve(runID int64, name string) (string, error) {
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return "", fmt.Errorf("invalid artifact name %q", name)
	}
	return filepath.Join(s.dir, strconv.FormatInt(runID, 10), name), nil
}

func (s *Server) signature(endp, expires, name string, runID int64) []byte {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(endp))
	mac.Write([]byte(expires))
	mac.Write([]byte(name))
	mac.Write([]byte(strconv.FormatInt(runID, 10)))
	return mac.Sum(nil)
}

func (s *Server) signedURL(r *http.Request, endp, name string, runID int64) string {
	expires := time.Now().Add(signedURLTTL).Format(expiresLayout)
	q := url.Values{}
	q.Set("sig", base64.URLEncoding.EncodeToString(s.signature(endp, expires, name, runID)))
	q.Set("expires", expires)
	q.Set("artifactName", name)
	q.Set("taskID", strconv.FormatInt(runID, 10))
	return "http://" + r.Host + path.Join(artifact.ServicePath, endp) + "?" + q.Encode()
}

func (s *Server) verify(r *http.Request, endp string) (int64, string, error) {
	q := r.URL.Query()
	sig, _ := base64.URLEncoding.DecodeString(q.Get("sig"))
	runID, _ := strconv.ParseInt(q.Get("taskID"), 10, 64)
	expires := q.Get("expires")
	name := q.Get("artifactName")

	if !hmac.Equal(sig, s.signature(endp, expires, name, runID)) {
		return 0, "", errors.New("invalid signature")
	}
	t, err := time.Parse(expiresLayout, expires)
	if err != nil || t.Before(time.Now()) {
		return 0, "", errors.New("link expired")
	}
	return runID, name, nil
}

func (s *Server) createArtifact(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req artifact.CreateArtifactRequest
	if !s.decode(w, r, &req) {
		return
	}
	runID, ok := s.runID(w, r, req.WorkflowRunBackendID)
	if !ok {
		return
	}
	dir, err := s.resolve(runID, req.Name)
	if err != nil {
		s.error(w, r, http.StatusBadRequest, err)
		return
	}
	// a new upload replaces an older artifact of the same name
	if err := os.RemoveAll(dir); err != nil {
		s.error(w, r, http.StatusInternalServerError, err)
		return
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		s.error(w, r, http.StatusInternalServerError, err)
		return
	}
	if err := os.WriteFile(filepath.Join(dir, req.Name+".zip"), nil, 0o644); err != nil {
		s.error(w, r, http.StatusInternalServerError, err)
		return
	}

	s.send(w, r, &artifact.CreateArtifactResponse{
		Ok:              true,
		SignedUploadURL: s.signedURL(r, "UploadArtifact", req.Name, runID),
	})
}

func (s *Server) uploadArtifact(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	runID, name, err := s.verify(r, "UploadArtifact")
	if err != nil {
		s.error(w, r, http.StatusUnauthorized, err)
		return
	}
	dir, err := s.resolve(runID, name)
	if err != nil {
		s.error(w, r, http.StatusBadRequest, err)
		return
	}

	flag := os.O_WRONLY | os.O_CREATE
	switch r.URL.Query().Get("comp") {
	case "":
		flag |= os.O_TRUNC
	case "block", "appendBlock":
		flag |= os.O_APPEND
	case "blocklist", "blockList":
		w.WriteHeader(http.StatusCreated)
		return
	}

	f, err := os.OpenFile(filepath.Join(dir, name+".zip"), flag, 0o644)
	if err != nil {
		s.error(w, r, http.StatusInternalServerError, err)
		return
	}
	defer f.Close()
	if _, err := io.Copy(f, r.Body); err != nil {
		s.error(w, r, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) finalizeArtifact(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req artifact.FinalizeArtifactRequest
	if !s.decode(w, r, &req) {
		return
	}
	runID, ok := s.runID(w, r, req.WorkflowRunBackendID)
	if !ok {
		return
	}
	dir, err := s.resolve(runID, req.Name)
	if err != nil {
		s.error(w, r, http.StatusBadRequest, err)
		return
	}
	fi, err := os.Stat(filepath.Join(dir, req.Name+".zip"))
	if err != nil {
		s.error(w, r, http.StatusNotFound, fmt.Errorf("artifact %s was not created", req.Name))
		return
	}
	if req.Size != 0 && fi.Size() != req.Size {
		s.error(w, r, http.StatusBadRequest, fmt.Errorf("artifact size mismatch: got %d, expected %d", fi.Size(), req.Size))
		return
	}
	if req.Hash != "" {
		if err := os.WriteFile(filepath.Join(dir, digestFile), []byte(req.Hash), 0o644); err != nil {
			s.error(w, r, http.StatusInternalServerError, err)
			return
		}
	}

	s.send(w, r, &artifact.FinalizeArtifactResponse{
		Ok:         true,
		ArtifactID: artifactNameToID(req.Name),
	})
}

func (s *Server) listArtifacts(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req artifact.ListArtifactsRequest
	if !s.decode(w, r, &req) {
		return
	}
	runID, ok := s.runID(w, r, req.WorkflowRunBackendID)
	if !ok {
		return
	}

	entries, err := os.ReadDir(filepath.Join(s.dir, strconv.FormatInt(runID, 10)))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.error(w, r, http.StatusInternalServerError, err)
		return
	}

	list := []*artifact.MonolithArtifact{}
	for _, entry := range entries {
		name := entry.Name()
		id := artifactNameToID(name)
		if req.NameFilter != nil && *req.NameFilter != name {
			continue
		}
		if req.IDFilter != nil && *req.IDFilter != id {
			continue
		}
		data := &artifact.MonolithArtifact{
			WorkflowRunBackendID:    req.WorkflowRunBackendID,
			WorkflowJobRunBackendID: req.WorkflowJobRunBackendID,
			DatabaseID:              id,
			Name:                    name,
		}
		if fi, err := os.Stat(filepath.Join(s.dir, strconv.FormatInt(runID, 10), name, name+".zip")); err == nil {
			created := fi.ModTime().UTC()
			data.Size = fi.Size()
			data.CreatedAt = &created
		}
		if digest, err := os.ReadFile(filepath.Join(s.dir, strconv.FormatInt(runID, 10), name, digestFile)); err == nil {
			data.Digest = strings.TrimSpace(string(digest))
		}
		list = append(list, data)
	}

	s.send(w, r, &artifact.ListArtifactsResult{Artifacts: list})
}

func (s *Server) getSignedArtifactURL(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req artifact.GetSignedArtifactURLRequest
	if !s.decode(w, r, &req) {
		return
	}
	runID, ok := s.runID(w, r, req.WorkflowRunBackendID)
	if !ok {
		return
	}
	if _, err := s.resolve(runID, req.Name); err != nil {
		s.error(w, r, http.StatusBadRequest, err)
		return
	}
	s.send(w, r, &artifact.GetSignedArtifactURLResponse{
		SignedURL: s.signedURL(r, "DownloadArtifact", req.Name, runID),
	})
}

func (s *Server) downloadArtifact(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	runID, name, err := s.verify(r, "DownloadArtifact")
	if err != nil {
		s.error(w, r, http.StatusUnauthorized, err)
		return
	}
	dir, err := s.resolve(runID, name)
	if err != nil {
		s.error(w, r, http.StatusBadRequest, err)
		return
	}
	f, err := os.Open(filepath.Join(dir, name+".zip"))
	if err != nil {
		s.error(w, r, http.StatusNotFound, fmt.Errorf("artifact %s not found", name))
		return
	}
	defer f.Close()
	w.Header().Set("Content-Type", "application/zip")
	_, _ = io.Copy(w, f)
}

func (s *Server) deleteArtifact(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req artifact.DeleteArtifactRequest
	if !s.decode(w, r, &req) {
		return
	}
	runID, ok := s.runID(w, r, req.WorkflowRunBackendID)
	if !ok {
		return
	}
	dir, err := s.resolve(runID, req.Name)
	if err != nil {
		s.error(w, r, http.StatusBadRequest, err)
		return
	}
	if _, err := os.Stat(dir); err != nil {
		s.error(w, r, http.StatusNotFound, fmt.Errorf("artifact %s not found", req.Name))
		return
	}
	if err := os.RemoveAll(dir); err != nil {
		s.error(w, r, http.StatusInternalServerError, err)
		return
	}

	s.send(w, r, &artifact.DeleteArtifactResult{
		Ok:         true,
		ArtifactID: artifactNameToID(req.Name),
	})
}

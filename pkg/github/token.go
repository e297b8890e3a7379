package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nektos/actions-toolkit/pkg/common"
)

var ErrRuntimeTokenNotSet = errors.New("ACTIONS_RUNTIME_TOKEN not set")

// RuntimeToken holds the claims of ACTIONS_RUNTIME_TOKEN.
type RuntimeToken struct {
	jwt.RegisteredClaims
	Ac  string `json:"ac,omitempty"`
	Scp string `json:"scp,omitempty"`
}

// RuntimeTokenAC is one access control entry of the ac claim.
type RuntimeTokenAC struct {
	Scope      string
	Permission int
}

// BackendIDs identify the run and job to the results service.
type BackendIDs struct {
	WorkflowRunBackendID    string
	WorkflowJobRunBackendID string
}

// ActionsRuntimeToken decodes ACTIONS_RUNTIME_TOKEN without verifying its
// signature. It returns nil when the variable is empty.
func ActionsRuntimeToken() (*RuntimeToken, error) {
	raw := os.Getenv("ACTIONS_RUNTIME_TOKEN")
	if raw == "" {
		return nil, nil
	}
	return ParseRuntimeToken(raw)
}

func ParseRuntimeToken(raw string) (*RuntimeToken, error) {
	claims := &RuntimeToken{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// ACs decodes the ac claim.
func (t *RuntimeToken) ACs() ([]RuntimeTokenAC, error) {
	var acs []RuntimeTokenAC
	if err := json.Unmarshal([]byte(t.Ac), &acs); err != nil {
		return nil, err
	}
	return acs, nil
}

// BackendIDs reads the Actions.Results:<run>:<job> scope of the scp claim.
func (t *RuntimeToken) BackendIDs() (*BackendIDs, error) {
	for _, scope := range strings.Fields(t.Scp) {
		parts := strings.Split(scope, ":")
		if parts[0] != "Actions.Results" {
			continue
		}
		if len(parts) != 3 {
			return nil, fmt.Errorf("invalid Actions.Results scope %q", scope)
		}
		return &BackendIDs{
			WorkflowRunBackendID:    parts[1],
			WorkflowJobRunBackendID: parts[2],
		}, nil
	}
	return nil, errors.New("failed to get backend IDs: no Actions.Results scope in token")
}

func PermissionString(p int) string {
	switch p {
	case 1:
		return "read"
	case 2:
		return "write"
	case 3:
		return "read/write"
	default:
		return fmt.Sprintf("unimplemented (%d)", p)
	}
}

// PrintActionsRuntimeTokenACs logs the scopes granted to the runtime token.
func PrintActionsRuntimeTokenACs(ctx context.Context) error {
	token, err := ActionsRuntimeToken()
	if err != nil {
		return fmt.Errorf("Cannot parse GitHub Actions Runtime Token: %w", err)
	}
	if token == nil {
		return ErrRuntimeTokenNotSet
	}
	acs, err := token.ACs()
	if err != nil {
		return fmt.Errorf("Cannot parse GitHub Actions Runtime Token ACs: %w", err)
	}
	logger := common.Logger(ctx)
	for _, ac := range acs {
		logger.Infof("%s: %s", ac.Scope, PermissionString(ac.Permission))
	}
	return nil
}

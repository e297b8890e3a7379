package github

import (
	"sort"
)

// EventNameFromPayload guesses the name of the webhook event that produced
// payload from the keys it carries. It returns "" when no rule matches.
// nolint:gocyclo
func EventNameFromPayload(event map[string]any) string {
	keys := make([]string, 0, len(event))
	for k := range event {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	if event["action"] == "revoked" {
		return "github_app_authorization"
	}
	for _, k := range keys {
		switch k {
		case "check_run", "check_suite", "content_reference", "label", "marketplace_purchase", "milestone", "package",
			"project_card", "project_column", "project", "release", "security_advisory", "discussion", "sponsorship":
			return k
		case "alert":
			if event["ref"] != nil {
				return "code_scanning_alert"
			}
			switch event["action"] {
			case "created", "resolved", "reopened":
				return "secret_scanning_alert"
			}
			return "repository_vulnerability_alert"
		case "blocked_user":
			return "org_block"
		case "comment":
			if event["pull_request"] != nil {
				continue
			}
			if event["issue"] != nil {
				return "issue_comment"
			}
			if event["discussion"] != nil {
				return "discussion_comment"
			}
			return "commit_comment"
		case "client_payload":
			return "repository_dispatch"
		case "deployment":
			if event["deployment_status"] != nil {
				return "deployment_status"
			}
			return k
		case "member":
			if event["team"] != nil {
				return "membership"
			}
			return k
		case "membership":
			return "organization"
		case "ref":
			if event["ref_type"] != nil {
				if event["master_branch"] == nil {
					return "delete"
				}
				return "create"
			}
			if event["workflow"] != nil {
				return "workflow_dispatch"
			}
			return "push"
		case "key":
			return "deploy_key"
		case "forkee":
			return "fork"
		case "pull_request":
			if event["comment"] != nil {
				return "pull_request_review_comment"
			}
			if event["review"] != nil {
				return "pull_request_review"
			}
			return k
		case "pages":
			return "gollum"
		case "hook_id":
			if event["zen"] != nil {
				return "ping"
			}
			return "meta"
		case "issue":
			return "issues"
		case "installation":
			if event["repository_selection"] != nil {
				return "installation_repositories"
			}
			return k
		case "build":
			return "page_build"
		case "repository":
			switch {
			case event["starred_at"] != nil:
				return "star"
			case event["team"] != nil && event["action"] != nil:
				return "team"
			case event["team"] != nil:
				return "team_add"
			case event["state"] != nil:
				return "status"
			case event["action"] == "started":
				return "watch"
			case event["action"] == "requested" || event["action"] == "completed":
				return "workflow_run"
			case event["action"] != nil:
				return "repository"
			case event["status"] != nil:
				return "repository_import"
			}
			return "public"
		}
	}
	return ""
}

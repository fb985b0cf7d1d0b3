package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/forgesync/forgesync/internal/types"
)

const defaultGitHubURL = "https://api.github.com/graphql"

// GitHubConfig holds connection settings for the GitHub GraphQL API.
type GitHubConfig struct {
	BaseURL string        // endpoint URL (default: https://api.github.com/graphql)
	Token   string        // bearer token
	Timeout time.Duration // per-request timeout (default: 30s)
}

// DefaultGitHubConfig returns the default GitHub client configuration.
func DefaultGitHubConfig() GitHubConfig {
	return GitHubConfig{
		BaseURL: defaultGitHubURL,
		Timeout: 30 * time.Second,
	}
}

// GitHubClient talks to the GitHub GraphQL API.
type GitHubClient struct {
	cfg    GitHubConfig
	client *http.Client
}

var _ Client = (*GitHubClient)(nil)

// NewGitHubClient creates a client from the given configuration.
func NewGitHubClient(cfg GitHubConfig) *GitHubClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultGitHubURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &GitHubClient{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphQLError struct {
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
}

// do posts one GraphQL query and decodes the data payload into out.
// Non-2xx responses and GraphQL-level errors become *APIError so the
// retry layer can classify them by status.
func (c *GitHubClient) do(ctx context.Context, query string, vars map[string]any, out any) (RateInfo, error) {
	var rate RateInfo

	body, err := json.Marshal(graphQLRequest{Query: query, Variables: vars})
	if err != nil {
		return rate, fmt.Errorf("failed to encode query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(body))
	if err != nil {
		return rate, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return rate, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	rate = rateFromHeaders(resp.Header)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return rate, &APIError{StatusCode: resp.StatusCode, Message: string(bytes.TrimSpace(msg))}
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []graphQLError  `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return rate, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(envelope.Errors) > 0 {
		// GraphQL reports rate exhaustion in-band with a 200 status.
		first := envelope.Errors[0]
		status := http.StatusBadGateway
		switch first.Type {
		case "RATE_LIMITED":
			status = http.StatusTooManyRequests
		case "NOT_FOUND":
			status = http.StatusNotFound
		case "FORBIDDEN":
			status = http.StatusForbidden
		}
		return rate, &APIError{StatusCode: status, Message: first.Message}
	}
	if out != nil {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return rate, fmt.Errorf("failed to decode data: %w", err)
		}
	}
	return rate, nil
}

func rateFromHeaders(h http.Header) RateInfo {
	var rate RateInfo
	if v := h.Get("X-RateLimit-Remaining"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			rate.Remaining = n
		}
	}
	if v := h.Get("X-RateLimit-Reset"); v != "" {
		if epoch, err := strconv.ParseInt(v, 10, 64); err == nil {
			rate.ResetAt = time.Unix(epoch, 0)
		}
	}
	return rate
}

const issuesQuery = `
query($owner: String!, $name: String!, $first: Int!, $after: String) {
  repository(owner: $owner, name: $name) {
    issuesAndPullRequests: issues(first: $first, after: $after, orderBy: {field: UPDATED_AT, direction: DESC}) {
      pageInfo { hasNextPage endCursor }
      nodes {
        id number title body state
        author { login }
        createdAt updatedAt closedAt
        __typename
      }
    }
  }
}`

type wireIssue struct {
	ID     string `json:"id"`
	Number int    `json:"number"`
	Title  string `json:"title"`
	Body   string `json:"body"`
	State  string `json:"state"`
	Author *struct {
		Login string `json:"login"`
	} `json:"author"`
	CreatedAt *time.Time `json:"createdAt"`
	UpdatedAt *time.Time `json:"updatedAt"`
	ClosedAt  *time.Time `json:"closedAt"`
	TypeName  string     `json:"__typename"`
}

type wirePageInfo struct {
	HasNextPage bool   `json:"hasNextPage"`
	EndCursor   string `json:"endCursor"`
}

// ListIssues pages through issues and pull requests, most recently updated first.
func (c *GitHubClient) ListIssues(ctx context.Context, q PageQuery) (*Page[IssueNode], error) {
	var data struct {
		Repository struct {
			Issues struct {
				PageInfo wirePageInfo `json:"pageInfo"`
				Nodes    []wireIssue  `json:"nodes"`
			} `json:"issuesAndPullRequests"`
		} `json:"repository"`
	}
	rate, err := c.do(ctx, issuesQuery, pageVars(q), &data)
	if err != nil {
		return nil, err
	}

	page := &Page[IssueNode]{
		HasNextPage: data.Repository.Issues.PageInfo.HasNextPage,
		EndCursor:   data.Repository.Issues.PageInfo.EndCursor,
		Rate:        rate,
	}
	for _, w := range data.Repository.Issues.Nodes {
		node := IssueNode{
			NativeID:  w.ID,
			Number:    w.Number,
			Kind:      types.KindIssue,
			Title:     w.Title,
			Body:      w.Body,
			State:     mapState(w.State),
			CreatedAt: w.CreatedAt,
			UpdatedAt: w.UpdatedAt,
			ClosedAt:  w.ClosedAt,
		}
		if w.TypeName == "PullRequest" {
			node.Kind = types.KindPullRequest
		}
		if w.Author != nil {
			node.Author = w.Author.Login
		}
		page.Nodes = append(page.Nodes, node)
	}
	return page, nil
}

const dependenciesQuery = `
query($owner: String!, $name: String!, $first: Int!, $after: String) {
  repository(owner: $owner, name: $name) {
    issues(first: $first, after: $after, filterBy: {hasBlockedBy: true}) {
      pageInfo { hasNextPage endCursor }
      nodes {
        id number
        blockedBy(first: 50) {
          nodes { id number repository { id name owner { login } } }
        }
      }
    }
  }
}`

type wireRef struct {
	ID         string `json:"id"`
	Number     int    `json:"number"`
	Repository *struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		Owner struct {
			Login string `json:"login"`
		} `json:"owner"`
	} `json:"repository"`
}

func (w wireRef) toRef(q PageQuery) types.Ref {
	ref := types.Ref{NativeID: w.ID, Number: w.Number}
	if w.Repository != nil {
		ref.Repo = types.RepoRef{
			NativeID: w.Repository.ID,
			Owner:    w.Repository.Owner.Login,
			Name:     w.Repository.Name,
		}
	} else {
		// Same-repository reference, owner/name come from the query scope.
		ref.Repo = types.RepoRef{Owner: q.Owner, Name: q.Name}
	}
	return ref
}

// ListDependencies pages through entities carrying blocking relationships.
func (c *GitHubClient) ListDependencies(ctx context.Context, q PageQuery) (*Page[DependencyNode], error) {
	var data struct {
		Repository struct {
			Issues struct {
				PageInfo wirePageInfo `json:"pageInfo"`
				Nodes    []struct {
					wireRef
					BlockedBy struct {
						Nodes []wireRef `json:"nodes"`
					} `json:"blockedBy"`
				} `json:"nodes"`
			} `json:"issues"`
		} `json:"repository"`
	}
	rate, err := c.do(ctx, dependenciesQuery, pageVars(q), &data)
	if err != nil {
		return nil, err
	}

	page := &Page[DependencyNode]{
		HasNextPage: data.Repository.Issues.PageInfo.HasNextPage,
		EndCursor:   data.Repository.Issues.PageInfo.EndCursor,
		Rate:        rate,
	}
	for _, w := range data.Repository.Issues.Nodes {
		node := DependencyNode{Node: w.toRef(q)}
		for _, b := range w.BlockedBy.Nodes {
			node.Blockers = append(node.Blockers, b.toRef(q))
		}
		page.Nodes = append(page.Nodes, node)
	}
	return page, nil
}

const hierarchyQuery = `
query($owner: String!, $name: String!, $first: Int!, $after: String) {
  repository(owner: $owner, name: $name) {
    issues(first: $first, after: $after, filterBy: {hasSubIssues: true}) {
      pageInfo { hasNextPage endCursor }
      nodes {
        id number
        parent { id number repository { id name owner { login } } }
        subIssuesSummary { total completed }
      }
    }
  }
}`

// ListHierarchy pages through entities participating in a sub-issue hierarchy.
func (c *GitHubClient) ListHierarchy(ctx context.Context, q PageQuery) (*Page[HierarchyNode], error) {
	var data struct {
		Repository struct {
			Issues struct {
				PageInfo wirePageInfo `json:"pageInfo"`
				Nodes    []struct {
					wireRef
					Parent  *wireRef `json:"parent"`
					Summary struct {
						Total     int `json:"total"`
						Completed int `json:"completed"`
					} `json:"subIssuesSummary"`
				} `json:"nodes"`
			} `json:"issues"`
		} `json:"repository"`
	}
	rate, err := c.do(ctx, hierarchyQuery, pageVars(q), &data)
	if err != nil {
		return nil, err
	}

	page := &Page[HierarchyNode]{
		HasNextPage: data.Repository.Issues.PageInfo.HasNextPage,
		EndCursor:   data.Repository.Issues.PageInfo.EndCursor,
		Rate:        rate,
	}
	for _, w := range data.Repository.Issues.Nodes {
		node := HierarchyNode{
			Node:      w.toRef(q),
			SubTotal:  w.Summary.Total,
			SubClosed: w.Summary.Completed,
		}
		if w.Parent != nil {
			ref := w.Parent.toRef(q)
			node.Parent = &ref
		}
		page.Nodes = append(page.Nodes, node)
	}
	return page, nil
}

const commitsQuery = `
query($owner: String!, $name: String!, $first: Int!, $after: String) {
  repository(owner: $owner, name: $name) {
    defaultBranchRef {
      target {
        ... on Commit {
          history(first: $first, after: $after) {
            pageInfo { hasNextPage endCursor }
            nodes {
              oid message authoredDate committedDate
              author { name email user { login } }
              committer { name email user { login } }
            }
          }
        }
      }
    }
  }
}`

type wireSignature struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	User  *struct {
		Login string `json:"login"`
	} `json:"user"`
}

func (w wireSignature) toSignature() types.Signature {
	sig := types.Signature{Name: w.Name, Email: w.Email}
	if w.User != nil {
		sig.Login = w.User.Login
	}
	return sig
}

// ListCommits pages through commits on the default branch.
func (c *GitHubClient) ListCommits(ctx context.Context, q PageQuery) (*Page[CommitNode], error) {
	var data struct {
		Repository struct {
			DefaultBranchRef *struct {
				Target struct {
					History struct {
						PageInfo wirePageInfo `json:"pageInfo"`
						Nodes    []struct {
							OID           string        `json:"oid"`
							Message       string        `json:"message"`
							AuthoredDate  *time.Time    `json:"authoredDate"`
							CommittedDate *time.Time    `json:"committedDate"`
							Author        wireSignature `json:"author"`
							Committer     wireSignature `json:"committer"`
						} `json:"nodes"`
					} `json:"history"`
				} `json:"target"`
			} `json:"defaultBranchRef"`
		} `json:"repository"`
	}
	rate, err := c.do(ctx, commitsQuery, pageVars(q), &data)
	if err != nil {
		return nil, err
	}

	page := &Page[CommitNode]{Rate: rate}
	if data.Repository.DefaultBranchRef == nil {
		// Empty repository, nothing on the default branch.
		return page, nil
	}
	history := data.Repository.DefaultBranchRef.Target.History
	page.HasNextPage = history.PageInfo.HasNextPage
	page.EndCursor = history.PageInfo.EndCursor
	for _, w := range history.Nodes {
		node := CommitNode{
			SHA:         w.OID,
			Message:     w.Message,
			AuthoredAt:  w.AuthoredDate,
			CommittedAt: w.CommittedDate,
			Author:      w.Author.toSignature(),
			Committer:   w.Committer.toSignature(),
			CoAuthors:   ParseCoAuthors(w.Message),
		}
		page.Nodes = append(page.Nodes, node)
	}
	return page, nil
}

func pageVars(q PageQuery) map[string]any {
	vars := map[string]any{
		"owner": q.Owner,
		"name":  q.Name,
		"first": q.PageSize,
	}
	if q.After != "" {
		vars["after"] = q.After
	} else {
		vars["after"] = nil
	}
	return vars
}

func mapState(s string) types.EntityState {
	switch s {
	case "CLOSED", "MERGED":
		return types.StateClosed
	default:
		return types.StateOpen
	}
}

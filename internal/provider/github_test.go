package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgesync/forgesync/internal/types"
)

func testClient(t *testing.T, handler http.HandlerFunc) *GitHubClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg := DefaultGitHubConfig()
	cfg.BaseURL = srv.URL
	cfg.Token = "test-token"
	return NewGitHubClient(cfg)
}

func TestListIssues(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		var req graphQLRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "acme", req.Variables["owner"])
		assert.Equal(t, float64(50), req.Variables["first"])

		w.Header().Set("X-RateLimit-Remaining", "4900")
		w.Header().Set("X-RateLimit-Reset", "1700000000")
		_, _ = w.Write([]byte(`{"data": {"repository": {"issuesAndPullRequests": {
			"pageInfo": {"hasNextPage": true, "endCursor": "abc"},
			"nodes": [
				{"id": "I_1", "number": 7, "title": "Fix it", "body": "please",
				 "state": "OPEN", "author": {"login": "octocat"},
				 "createdAt": "2024-01-01T00:00:00Z", "updatedAt": "2024-01-02T00:00:00Z",
				 "__typename": "Issue"},
				{"id": "PR_2", "number": 8, "title": "A change", "body": "",
				 "state": "MERGED", "author": null,
				 "__typename": "PullRequest"}
			]}}}}`))
	})

	page, err := client.ListIssues(context.Background(), PageQuery{Owner: "acme", Name: "rocket", PageSize: 50})
	require.NoError(t, err)

	assert.True(t, page.HasNextPage)
	assert.Equal(t, "abc", page.EndCursor)
	assert.Equal(t, 4900, page.Rate.Remaining)
	assert.False(t, page.Rate.ResetAt.IsZero())

	require.Len(t, page.Nodes, 2)
	first := page.Nodes[0]
	assert.Equal(t, "I_1", first.NativeID)
	assert.Equal(t, 7, first.Number)
	assert.Equal(t, types.KindIssue, first.Kind)
	assert.Equal(t, types.StateOpen, first.State)
	assert.Equal(t, "octocat", first.Author)
	require.NotNil(t, first.UpdatedAt)

	second := page.Nodes[1]
	assert.Equal(t, types.KindPullRequest, second.Kind)
	assert.Equal(t, types.StateClosed, second.State)
	assert.Empty(t, second.Author)
}

func TestListDependenciesCrossRepo(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data": {"repository": {"issues": {
			"pageInfo": {"hasNextPage": false, "endCursor": ""},
			"nodes": [
				{"id": "I_x", "number": 1, "blockedBy": {"nodes": [
					{"id": "I_a", "number": 2},
					{"id": "I_b", "number": 3, "repository":
						{"id": "R_lib", "name": "lib", "owner": {"login": "other"}}}
				]}}
			]}}}}`))
	})

	page, err := client.ListDependencies(context.Background(), PageQuery{Owner: "acme", Name: "rocket", PageSize: 100})
	require.NoError(t, err)
	require.Len(t, page.Nodes, 1)

	node := page.Nodes[0]
	assert.Equal(t, "acme/rocket#1", node.Node.String())
	require.Len(t, node.Blockers, 2)
	// Same-repo blocker inherits the query scope.
	assert.Equal(t, "acme/rocket#2", node.Blockers[0].String())
	// Cross-repo blocker keeps its own coordinates.
	assert.Equal(t, "other/lib#3", node.Blockers[1].String())
	assert.Equal(t, "R_lib", node.Blockers[1].Repo.NativeID)
}

func TestListHierarchy(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data": {"repository": {"issues": {
			"pageInfo": {"hasNextPage": false, "endCursor": ""},
			"nodes": [
				{"id": "I_c", "number": 5,
				 "parent": {"id": "I_p", "number": 4},
				 "subIssuesSummary": {"total": 0, "completed": 0}},
				{"id": "I_p", "number": 4, "parent": null,
				 "subIssuesSummary": {"total": 3, "completed": 1}}
			]}}}}`))
	})

	page, err := client.ListHierarchy(context.Background(), PageQuery{Owner: "acme", Name: "rocket", PageSize: 100})
	require.NoError(t, err)
	require.Len(t, page.Nodes, 2)

	child := page.Nodes[0]
	require.NotNil(t, child.Parent)
	assert.Equal(t, "I_p", child.Parent.NativeID)

	parent := page.Nodes[1]
	assert.Nil(t, parent.Parent)
	assert.Equal(t, 3, parent.SubTotal)
	assert.Equal(t, 1, parent.SubClosed)
}

func TestListCommits(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data": {"repository": {"defaultBranchRef": {"target": {"history": {
			"pageInfo": {"hasNextPage": false, "endCursor": "x"},
			"nodes": [
				{"oid": "abcdef1234567890", "message": "feat: add\n\nCo-authored-by: Grace <grace@example.com>",
				 "authoredDate": "2024-03-01T10:00:00Z", "committedDate": "2024-03-01T10:05:00Z",
				 "author": {"name": "Ada", "email": "ada@example.com", "user": {"login": "ada"}},
				 "committer": {"name": "GitHub", "email": "noreply@github.com", "user": null}}
			]}}}}}}`))
	})

	page, err := client.ListCommits(context.Background(), PageQuery{Owner: "acme", Name: "rocket", PageSize: 100})
	require.NoError(t, err)
	require.Len(t, page.Nodes, 1)

	commit := page.Nodes[0]
	assert.Equal(t, "abcdef1234567890", commit.SHA)
	assert.Equal(t, "ada", commit.Author.Login)
	assert.Empty(t, commit.Committer.Login)
	require.Len(t, commit.CoAuthors, 1)
	assert.Equal(t, "grace@example.com", commit.CoAuthors[0].Email)
}

func TestListCommitsEmptyRepository(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data": {"repository": {"defaultBranchRef": null}}}`))
	})

	page, err := client.ListCommits(context.Background(), PageQuery{Owner: "acme", Name: "empty", PageSize: 100})
	require.NoError(t, err)
	assert.Empty(t, page.Nodes)
	assert.False(t, page.HasNextPage)
}

func TestHTTPErrorBecomesAPIError(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream unavailable"))
	})

	_, err := client.ListIssues(context.Background(), PageQuery{Owner: "a", Name: "b", PageSize: 10})
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "upstream unavailable")
}

func TestGraphQLRateLimitError(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Remaining", "0")
		_, _ = w.Write([]byte(`{"data": null, "errors": [{"type": "RATE_LIMITED", "message": "API rate limit exceeded"}]}`))
	})

	_, err := client.ListIssues(context.Background(), PageQuery{Owner: "a", Name: "b", PageSize: 10})
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
}

func TestParseCoAuthors(t *testing.T) {
	tests := []struct {
		name    string
		message string
		want    int
	}{
		{"none", "fix: plain commit", 0},
		{"single", "feat: x\n\nCo-authored-by: Ada <ada@example.com>", 1},
		{"case insensitive", "feat: x\n\nco-Authored-By: Ada <ada@example.com>", 1},
		{"duplicate email collapsed", "x\n\nCo-authored-by: A <a@b.c>\nCo-authored-by: A2 <A@B.C>", 1},
		{"multiple", "x\n\nCo-authored-by: A <a@b.c>\nCo-authored-by: B <b@b.c>", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Len(t, ParseCoAuthors(tt.message), tt.want)
		})
	}
}

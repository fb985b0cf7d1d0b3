// Package webhook receives provider push deltas over HTTP and hands them
// to the reconciler. Deliveries are at-least-once and unordered; every
// handler path tolerates replays and references to entities that have not
// been bulk-synced yet.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/forgesync/forgesync/internal/provider"
	"github.com/forgesync/forgesync/internal/reconcile"
	"github.com/forgesync/forgesync/internal/storage"
	"github.com/forgesync/forgesync/internal/types"
)

// maxPayloadBytes caps webhook bodies; GitHub's own limit is 25 MB.
const maxPayloadBytes = 25 << 20

// Config holds webhook receiver settings.
type Config struct {
	Addr   string // listen address (default: ":8090")
	Path   string // handler path (default: "/webhook")
	Secret string // HMAC secret; empty disables signature checks
}

// DefaultConfig returns the default webhook configuration.
func DefaultConfig() Config {
	return Config{
		Addr: ":8090",
		Path: "/webhook",
	}
}

// Handler is the HTTP handler for provider webhook deliveries.
type Handler struct {
	store  storage.Store
	rec    *reconcile.Reconciler
	secret string
	logger *log.Logger
}

// NewHandler creates a webhook handler. An empty secret disables signature
// verification.
func NewHandler(store storage.Store, rec *reconcile.Reconciler, secret string, logger *log.Logger) *Handler {
	return &Handler{store: store, rec: rec, secret: secret, logger: logger}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	if h.secret != "" && !verifySignature(h.secret, body, r.Header.Get("X-Hub-Signature-256")) {
		h.logger.Warn("rejected webhook with bad signature", "remote", r.RemoteAddr)
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	event := r.Header.Get("X-GitHub-Event")
	if err := h.dispatch(r, event, body); err != nil {
		h.logger.Error("webhook processing failed", "event", event, "error", err)
		http.Error(w, "processing failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// verifySignature checks the sha256= HMAC header against the body.
func verifySignature(secret string, body []byte, header string) bool {
	const prefix = "sha256="
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(want), []byte(strings.TrimPrefix(header, prefix)))
}

func (h *Handler) dispatch(r *http.Request, event string, body []byte) error {
	switch event {
	case "ping":
		return nil
	case "issues":
		return h.handleIssues(r, body)
	case "sub_issues":
		return h.handleSubIssues(r, body)
	case "issue_dependencies":
		return h.handleDependencies(r, body)
	default:
		// Unknown events are acknowledged so the provider does not retry.
		h.logger.Debug("ignoring webhook event", "event", event)
		return nil
	}
}

// Wire shapes, the subset of GitHub's payloads we consume.

type wireIssue struct {
	NodeID    string     `json:"node_id"`
	Number    int        `json:"number"`
	Title     string     `json:"title"`
	Body      string     `json:"body"`
	State     string     `json:"state"`
	CreatedAt *time.Time `json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at"`
	ClosedAt  *time.Time `json:"closed_at"`
	User      *struct {
		Login string `json:"login"`
	} `json:"user"`
	PullRequest *struct{} `json:"pull_request"`
	Repository  *wireRepo `json:"repository"`
}

type wireRepo struct {
	NodeID string `json:"node_id"`
	Name   string `json:"name"`
	Owner  struct {
		Login string `json:"login"`
	} `json:"owner"`
}

func (w *wireRepo) ref() types.RepoRef {
	return types.RepoRef{NativeID: w.NodeID, Owner: w.Owner.Login, Name: w.Name}
}

func (w *wireIssue) node() provider.IssueNode {
	node := provider.IssueNode{
		NativeID:  w.NodeID,
		Number:    w.Number,
		Kind:      types.KindIssue,
		Title:     w.Title,
		Body:      w.Body,
		State:     types.StateOpen,
		CreatedAt: w.CreatedAt,
		UpdatedAt: w.UpdatedAt,
		ClosedAt:  w.ClosedAt,
	}
	if w.PullRequest != nil {
		node.Kind = types.KindPullRequest
	}
	if w.State == "closed" {
		node.State = types.StateClosed
	}
	if w.User != nil {
		node.Author = w.User.Login
	}
	return node
}

// ref builds a reference for relationship payloads, using the embedded
// repository when present and the delivery repo otherwise.
func (w *wireIssue) ref(fallback types.RepoRef) types.Ref {
	ref := types.Ref{NativeID: w.NodeID, Number: w.Number, Repo: fallback}
	if w.Repository != nil {
		ref.Repo = w.Repository.ref()
	}
	return ref
}

func (h *Handler) handleIssues(r *http.Request, body []byte) error {
	var payload struct {
		Action     string    `json:"action"`
		Issue      wireIssue `json:"issue"`
		Repository wireRepo  `json:"repository"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return fmt.Errorf("failed to decode issues payload: %w", err)
	}

	switch payload.Action {
	case "opened", "edited", "closed", "reopened", "deleted", "transferred":
	default:
		// Label, assignment and similar actions carry nothing we track.
		return nil
	}

	scopeID, err := h.scopeFor(r, payload.Repository.Owner.Login)
	if err != nil {
		return err
	}
	return h.rec.ApplyIssueEvent(r.Context(), scopeID, payload.Action, payload.Repository.ref(), payload.Issue.node())
}

func (h *Handler) handleSubIssues(r *http.Request, body []byte) error {
	var payload struct {
		Action     string    `json:"action"`
		Issue      wireIssue `json:"issue"`     // the parent
		SubIssue   wireIssue `json:"sub_issue"` // the child
		Repository wireRepo  `json:"repository"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return fmt.Errorf("failed to decode sub_issues payload: %w", err)
	}

	scopeID, err := h.scopeFor(r, payload.Repository.Owner.Login)
	if err != nil {
		return err
	}

	repoRef := payload.Repository.ref()
	child := payload.SubIssue.ref(repoRef)
	parent := payload.Issue.ref(repoRef)
	switch payload.Action {
	case "sub_issue_added":
		return h.rec.ApplyHierarchyDelta(r.Context(), scopeID, types.ProviderGitHub, true, child, parent)
	case "sub_issue_removed":
		return h.rec.ApplyHierarchyDelta(r.Context(), scopeID, types.ProviderGitHub, false, child, parent)
	default:
		return nil
	}
}

func (h *Handler) handleDependencies(r *http.Request, body []byte) error {
	var payload struct {
		Action        string    `json:"action"`
		Issue         wireIssue `json:"issue"`          // the blocked side
		BlockingIssue wireIssue `json:"blocking_issue"` // the blocker
		Repository    wireRepo  `json:"repository"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return fmt.Errorf("failed to decode issue_dependencies payload: %w", err)
	}

	scopeID, err := h.scopeFor(r, payload.Repository.Owner.Login)
	if err != nil {
		return err
	}

	repoRef := payload.Repository.ref()
	blocked := payload.Issue.ref(repoRef)
	blocker := payload.BlockingIssue.ref(repoRef)
	switch payload.Action {
	case "blocked_by_added":
		return h.rec.ApplyDependencyDelta(r.Context(), scopeID, types.ProviderGitHub, true, blocked, blocker)
	case "blocked_by_removed":
		return h.rec.ApplyDependencyDelta(r.Context(), scopeID, types.ProviderGitHub, false, blocked, blocker)
	default:
		return nil
	}
}

// scopeFor maps a delivery to a scope: the scope named after the repository
// owner when one exists, otherwise the only scope in the store.
func (h *Handler) scopeFor(r *http.Request, owner string) (int64, error) {
	scope, err := h.store.GetScopeByName(r.Context(), owner)
	if err != nil {
		return 0, err
	}
	if scope != nil {
		return scope.ID, nil
	}

	scopes, err := h.store.ListScopes(r.Context())
	if err != nil {
		return 0, err
	}
	if len(scopes) == 1 {
		return scopes[0].ID, nil
	}
	return 0, fmt.Errorf("no scope matches repository owner %q", owner)
}

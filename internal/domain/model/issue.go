package model

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidIssueURL is returned when a string is not a canonical GitHub issue URL.
var ErrInvalidIssueURL = errors.New("invalid GitHub issue URL")

// IssueRef identifies a GitHub issue by owner, repository and number. It is parsed
// once from the canonical issue URL when an issue enters the catalog.
type IssueRef struct {
	Owner  string
	Repo   string
	Number int
}

// ParseIssueURL parses https://github.com/{owner}/{repo}/issues/{number}.
func ParseIssueURL(raw string) (IssueRef, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return IssueRef{}, fmt.Errorf("%w: %q: %v", ErrInvalidIssueURL, raw, err)
	}
	if u.Scheme != "https" || !strings.EqualFold(u.Host, "github.com") {
		return IssueRef{}, fmt.Errorf("%w: %q: expected https://github.com host", ErrInvalidIssueURL, raw)
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) != 4 || parts[0] == "" || parts[1] == "" || parts[2] != "issues" {
		return IssueRef{}, fmt.Errorf("%w: %q: expected /{owner}/{repo}/issues/{number}", ErrInvalidIssueURL, raw)
	}

	number, err := strconv.Atoi(parts[3])
	if err != nil || number <= 0 {
		return IssueRef{}, fmt.Errorf("%w: %q: bad issue number", ErrInvalidIssueURL, raw)
	}

	return IssueRef{Owner: parts[0], Repo: parts[1], Number: number}, nil
}

// IsValidName reports whether name is a plausible GitHub owner or repository
// name: alphanumerics, hyphens, dots and underscores.
func IsValidName(name string) bool {
	if name == "" || len(name) > 100 {
		return false
	}
	for _, ch := range name {
		if !isValidNameChar(ch) {
			return false
		}
	}
	return true
}

func isValidNameChar(ch rune) bool {
	return (ch >= 'a' && ch <= 'z') ||
		(ch >= 'A' && ch <= 'Z') ||
		(ch >= '0' && ch <= '9') ||
		ch == '-' || ch == '.' || ch == '_'
}

// URL returns the canonical issue URL, which is the catalog primary key.
func (r IssueRef) URL() string {
	return fmt.Sprintf("https://github.com/%s/%s/issues/%d", r.Owner, r.Repo, r.Number)
}

// RepoFullName returns "owner/repo".
func (r IssueRef) RepoFullName() string {
	return r.Owner + "/" + r.Repo
}

// String returns "owner/repo#number".
func (r IssueRef) String() string {
	return fmt.Sprintf("%s/%s#%d", r.Owner, r.Repo, r.Number)
}

// Label is a GitHub issue label as captured in the snapshot.
type Label struct {
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

// IssueUser is the author block of the snapshot.
type IssueUser struct {
	Login string `json:"login"`
}

// IssueSnapshot is GitHub's representation of an issue at the time it was last
// observed. It is stored as a document and only read back for display, so the
// JSON shape follows the REST API's issue object.
type IssueSnapshot struct {
	Number    int        `json:"number"`
	Title     string     `json:"title"`
	Body      string     `json:"body"`
	State     IssueState `json:"state"`
	URL       string     `json:"url"`
	Labels    []Label    `json:"labels"`
	User      IssueUser  `json:"user"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Issue is a catalog entry: a GitHub issue that was open and carried the
// sponsorable label when last observed.
type Issue struct {
	URL       string
	Ref       IssueRef
	Snapshot  IssueSnapshot
	CreatedAt time.Time // First time the catalog stored the issue.
	UpdatedAt time.Time // Last snapshot replacement.
}

// NewIssue builds a catalog Issue from a snapshot, deriving the ref from the URL.
func NewIssue(snapshot IssueSnapshot) (Issue, error) {
	ref, err := ParseIssueURL(snapshot.URL)
	if err != nil {
		return Issue{}, err
	}
	if snapshot.Labels == nil {
		snapshot.Labels = []Label{}
	}
	snapshot.URL = ref.URL()
	return Issue{URL: ref.URL(), Ref: ref, Snapshot: snapshot}, nil
}

// State returns the issue state from the snapshot.
func (i Issue) State() IssueState {
	return i.Snapshot.State
}

// HasLabel reports whether the snapshot carries the named label (case-insensitive,
// matching GitHub's label uniqueness rules).
func (i Issue) HasLabel(name string) bool {
	for _, l := range i.Snapshot.Labels {
		if strings.EqualFold(l.Name, name) {
			return true
		}
	}
	return false
}

// IsSponsorable reports whether the issue is open and carries the sponsorable label.
func (i Issue) IsSponsorable(label string) bool {
	return i.Snapshot.State == IssueStateOpen && i.HasLabel(label)
}

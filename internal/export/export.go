// Package export pushes a completed build's generated project to GitHub.
package export

import (
	"context"
	"fmt"
	"strings"

	gogh "github.com/google/go-github/v68/github"

	"github.com/plugforge/plugforge/pkg/model"
)

// Client wraps the GitHub API for project export.
type Client struct {
	gh *gogh.Client
}

// NewClient creates a GitHub client authenticated with the given token.
func NewClient(token string) *Client {
	return &Client{
		gh: gogh.NewClient(nil).WithAuthToken(token),
	}
}

// Result describes a completed export.
type Result struct {
	RepoURL   string `json:"repo_url"`
	CommitSHA string `json:"commit_sha"`
	Branch    string `json:"branch"`
}

// Export creates repoName under the authenticated user (unless it already
// exists) and commits every file in one commit via the Git Data API:
// blobs, then a tree, then a commit, then the branch ref.
func (c *Client) Export(ctx context.Context, repoName, commitMessage string, files []*model.ProjectFile) (*Result, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("nothing to export: no project files")
	}

	repo, err := c.ensureRepo(ctx, repoName)
	if err != nil {
		return nil, err
	}
	owner := repo.GetOwner().GetLogin()
	name := repo.GetName()
	branch := repo.GetDefaultBranch()
	if branch == "" {
		branch = "main"
	}

	entries := make([]*gogh.TreeEntry, 0, len(files))
	for _, f := range files {
		blob, _, err := c.gh.Git.CreateBlob(ctx, owner, name, &gogh.Blob{
			Content:  gogh.Ptr(f.Content),
			Encoding: gogh.Ptr("utf-8"),
		})
		if err != nil {
			return nil, fmt.Errorf("creating blob for %s: %w", f.Path, err)
		}
		entries = append(entries, &gogh.TreeEntry{
			Path: gogh.Ptr(f.Path),
			Mode: gogh.Ptr("100644"),
			Type: gogh.Ptr("blob"),
			SHA:  blob.SHA,
		})
	}

	// A parent commit exists only if the repo already has history.
	var parents []*gogh.Commit
	baseTree := ""
	if ref, _, err := c.gh.Git.GetRef(ctx, owner, name, "refs/heads/"+branch); err == nil {
		parentSHA := ref.GetObject().GetSHA()
		parent, _, err := c.gh.Git.GetCommit(ctx, owner, name, parentSHA)
		if err != nil {
			return nil, fmt.Errorf("reading parent commit: %w", err)
		}
		parents = append(parents, parent)
		baseTree = parent.GetTree().GetSHA()
	}

	tree, _, err := c.gh.Git.CreateTree(ctx, owner, name, baseTree, entries)
	if err != nil {
		return nil, fmt.Errorf("creating tree: %w", err)
	}

	commit, _, err := c.gh.Git.CreateCommit(ctx, owner, name, &gogh.Commit{
		Message: gogh.Ptr(commitMessage),
		Tree:    tree,
		Parents: parents,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("creating commit: %w", err)
	}

	ref := &gogh.Reference{
		Ref:    gogh.Ptr("refs/heads/" + branch),
		Object: &gogh.GitObject{SHA: commit.SHA},
	}
	if len(parents) > 0 {
		_, _, err = c.gh.Git.UpdateRef(ctx, owner, name, ref, false)
	} else {
		_, _, err = c.gh.Git.CreateRef(ctx, owner, name, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("updating branch ref: %w", err)
	}

	return &Result{
		RepoURL:   repo.GetHTMLURL(),
		CommitSHA: commit.GetSHA(),
		Branch:    branch,
	}, nil
}

// ensureRepo returns the named repo, creating it private if it doesn't
// exist. repoName may be "name" (authenticated user) or "owner/name".
func (c *Client) ensureRepo(ctx context.Context, repoName string) (*gogh.Repository, error) {
	owner := ""
	name := repoName
	if parts := strings.SplitN(repoName, "/", 2); len(parts) == 2 {
		owner, name = parts[0], parts[1]
	}
	if name == "" {
		return nil, fmt.Errorf("invalid repo name %q", repoName)
	}

	if owner != "" {
		if repo, _, err := c.gh.Repositories.Get(ctx, owner, name); err == nil {
			return repo, nil
		}
	} else {
		user, _, err := c.gh.Users.Get(ctx, "")
		if err != nil {
			return nil, fmt.Errorf("resolving authenticated user: %w", err)
		}
		if repo, _, err := c.gh.Repositories.Get(ctx, user.GetLogin(), name); err == nil {
			return repo, nil
		}
	}

	repo, _, err := c.gh.Repositories.Create(ctx, "", &gogh.Repository{
		Name:          gogh.Ptr(name),
		Private:       gogh.Ptr(true),
		AutoInit:      gogh.Ptr(false),
		DefaultBranch: gogh.Ptr("main"),
	})
	if err != nil {
		return nil, fmt.Errorf("creating repository %s: %w", name, err)
	}
	return repo, nil
}

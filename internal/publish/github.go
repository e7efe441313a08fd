// Package publish pushes a finished workspace to GitHub and turns on Pages
// hosting for it.
package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	apiBase        = "https://api.github.com"
	maxDescription = 140
)

// DeploymentResult carries the coordinates of a pushed site.
type DeploymentResult struct {
	RepoFullName string
	RepoURL      string
	CommitSHA    string
	PagesURL     string
}

// Credentials is the publish secret bundle resolved from a snapshot.
type Credentials struct {
	Token    string
	Username string
	Email    string
	Org      string
}

// Options parameterize a single deployment.
type Options struct {
	RepoName     string
	Description  string
	ExistingRepo string
	Force        bool
}

// GitHubClient drives repository creation over the REST API and content
// upload through the local git binary.
type GitHubClient struct {
	creds         Credentials
	defaultBranch string
	client        *http.Client
	maxRetries    int
	pollInterval  time.Duration
	apiBase       string
	log           *zap.SugaredLogger
}

func NewGitHubClient(creds Credentials, defaultBranch string, timeout time.Duration, maxRetries int) *GitHubClient {
	if defaultBranch == "" {
		defaultBranch = "main"
	}
	return &GitHubClient{
		creds:         creds,
		defaultBranch: defaultBranch,
		client:        &http.Client{Timeout: timeout},
		maxRetries:    maxRetries,
		pollInterval:  5 * time.Second,
		apiBase:       apiBase,
		log:           zap.S().Named("publish"),
	}
}

func (c *GitHubClient) owner() string {
	if c.creds.Org != "" {
		return c.creds.Org
	}
	return c.creds.Username
}

var repoSlugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// GenerateRepoName derives a unique repository name from the brief title.
func GenerateRepoName(title string) string {
	slug := strings.Trim(repoSlugPattern.ReplaceAllString(strings.ToLower(title), "-"), "-")
	if slug == "" {
		slug = "site"
	}
	if len(slug) > 80 {
		slug = strings.Trim(slug[:80], "-")
	}
	return fmt.Sprintf("%s-%s", slug, uuid.New().String()[:6])
}

func shortenDescription(description string) string {
	collapsed := strings.Join(strings.Fields(description), " ")
	if len(collapsed) <= maxDescription {
		return collapsed
	}
	cut := collapsed[:maxDescription-1]
	if idx := strings.LastIndex(cut, " "); idx > 0 {
		cut = cut[:idx]
	}
	return cut + "…"
}

// Deploy creates (or reuses) the repository, pushes the workspace contents
// and configures GitHub Pages on the default branch.
func (c *GitHubClient) Deploy(ctx context.Context, workspace string, opts Options) (*DeploymentResult, error) {
	repoFullName := opts.ExistingRepo
	if repoFullName == "" {
		var err error
		repoFullName, err = c.createRepository(ctx, opts.RepoName, opts.Description)
		if err != nil {
			return nil, err
		}
	}

	if err := c.ensureLicense(workspace); err != nil {
		return nil, err
	}

	commitSHA, err := c.pushWorkspace(ctx, workspace, repoFullName, opts.Force)
	if err != nil {
		return nil, err
	}

	pagesURL, err := c.configurePages(ctx, repoFullName)
	if err != nil {
		return nil, err
	}

	return &DeploymentResult{
		RepoFullName: repoFullName,
		RepoURL:      "https://github.com/" + repoFullName,
		CommitSHA:    commitSHA,
		PagesURL:     pagesURL,
	}, nil
}

func (c *GitHubClient) createRepository(ctx context.Context, name, description string) (string, error) {
	url := c.apiBase + "/user/repos"
	if c.creds.Org != "" {
		url = fmt.Sprintf("%s/orgs/%s/repos", c.apiBase, c.creds.Org)
	}

	c.log.Infof("creating repository %s", name)
	body, status, err := c.request(ctx, http.MethodPost, url, map[string]any{
		"name":        name,
		"description": shortenDescription(description),
		"private":     false,
		"auto_init":   false,
	})
	if err != nil {
		return "", err
	}
	if status >= 300 {
		return "", fmt.Errorf("repository creation failed (%d): %s", status, strings.TrimSpace(string(body)))
	}

	var created struct {
		FullName string `json:"full_name"`
	}
	if err := json.Unmarshal(body, &created); err != nil {
		return "", errors.Wrap(err, "failed to decode repository creation response")
	}
	if created.FullName == "" {
		return "", fmt.Errorf("repository creation response missing full_name")
	}
	return created.FullName, nil
}

func (c *GitHubClient) pushWorkspace(ctx context.Context, workspace, repoFullName string, force bool) (string, error) {
	remote := fmt.Sprintf("https://%s:%s@github.com/%s.git", c.creds.Username, c.creds.Token, repoFullName)

	commands := [][]string{
		{"git", "init", "-b", c.defaultBranch},
		{"git", "config", "user.name", c.creds.Username},
		{"git", "config", "user.email", c.creds.Email},
		{"git", "add", "."},
		{"git", "commit", "-m", "Automated deployment"},
		{"git", "remote", "add", "origin", remote},
	}
	push := []string{"git", "push", "-u", "origin", c.defaultBranch}
	if force {
		push = append(push, "--force")
	}
	commands = append(commands, push)

	for _, args := range commands {
		if err := c.runGit(ctx, workspace, args); err != nil {
			return "", err
		}
	}

	cmd := exec.CommandContext(ctx, "git", "rev-parse", "HEAD")
	cmd.Dir = workspace
	out, err := cmd.Output()
	if err != nil {
		return "", errors.Wrap(err, "failed to read commit sha")
	}
	commitSHA := strings.TrimSpace(string(out))

	// Scrub the token-bearing remote and git metadata before the workspace
	// gets packaged or inspected.
	if err := c.runGit(ctx, workspace, []string{"git", "remote", "remove", "origin"}); err != nil {
		return "", err
	}
	if err := os.RemoveAll(filepath.Join(workspace, ".git")); err != nil {
		return "", errors.Wrap(err, "failed to remove git metadata")
	}
	return commitSHA, nil
}

func (c *GitHubClient) runGit(ctx context.Context, workspace string, args []string) error {
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = workspace
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	logged := strings.Join(args, " ")
	if strings.Contains(args[len(args)-1], "@") {
		logged = strings.Join(args[:len(args)-1], " ")
	}
	c.log.Debugf("running %s", logged)

	if err := cmd.Run(); err != nil {
		// Failed pushes echo the remote URL, which carries the token.
		output := strings.TrimSpace(buf.String())
		if c.creds.Token != "" {
			output = strings.ReplaceAll(output, c.creds.Token, "***")
		}
		return fmt.Errorf("%s failed: %v: %s", logged, err, output)
	}
	return nil
}

var licenseCandidates = []string{"LICENSE", "LICENSE.md", "LICENSE.txt", "MIT-LICENSE", "MIT_LICENSE"}

func (c *GitHubClient) ensureLicense(workspace string) error {
	for _, name := range licenseCandidates {
		if _, err := os.Stat(filepath.Join(workspace, name)); err == nil {
			return nil
		}
	}
	content := fmt.Sprintf(mitLicenseText, time.Now().Year(), c.owner())
	if err := os.WriteFile(filepath.Join(workspace, "LICENSE"), []byte(content), 0o644); err != nil {
		return errors.Wrap(err, "failed to write LICENSE")
	}
	c.log.Info("injected MIT LICENSE file")
	return nil
}

func (c *GitHubClient) configurePages(ctx context.Context, repoFullName string) (string, error) {
	c.log.Infof("configuring Pages for %s", repoFullName)
	url := fmt.Sprintf("%s/repos/%s/pages", c.apiBase, repoFullName)
	payload := map[string]any{
		"source": map[string]string{"branch": c.defaultBranch, "path": "/"},
	}

	body, status, err := c.request(ctx, http.MethodPost, url, payload)
	if err != nil {
		return "", err
	}
	if status == http.StatusConflict {
		// Pages already enabled for this repo, update the source instead.
		body, status, err = c.request(ctx, http.MethodPut, url, payload)
		if err != nil {
			return "", err
		}
	}
	switch status {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted, http.StatusNoContent:
	default:
		return "", fmt.Errorf("failed to configure Pages (%d): %s", status, strings.TrimSpace(string(body)))
	}

	repoName := repoFullName[strings.LastIndex(repoFullName, "/")+1:]
	pagesURL := fmt.Sprintf("https://%s.github.io/%s/", c.owner(), repoName)

	c.waitForPagesBuild(ctx, repoFullName)
	return pagesURL, nil
}

// waitForPagesBuild polls the latest Pages build until it reports ready or
// the retry budget runs out. Build lag is not an error, the deployment is
// already complete.
func (c *GitHubClient) waitForPagesBuild(ctx context.Context, repoFullName string) {
	statusURL := fmt.Sprintf("%s/repos/%s/pages/builds/latest", c.apiBase, repoFullName)
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		body, status, err := c.request(ctx, http.MethodGet, statusURL, nil)
		if err == nil && status == http.StatusOK {
			var build struct {
				Status string `json:"status"`
			}
			if json.Unmarshal(body, &build) == nil && (build.Status == "built" || build.Status == "ready") {
				c.log.Infof("Pages build ready after %d attempt(s)", attempt)
				return
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.pollInterval):
		}
	}
	c.log.Warnf("Pages build for %s not ready after %d attempts", repoFullName, c.maxRetries)
}

func (c *GitHubClient) request(ctx context.Context, method, url string, payload any) ([]byte, int, error) {
	var reqBody io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, errors.Wrap(err, "failed to encode request")
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to build request")
	}
	req.Header.Set("Authorization", "Bearer "+c.creds.Token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	req.Header.Set("User-Agent", "sitesmith/"+c.creds.Username)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, errors.Wrap(err, "github request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to read github response")
	}
	return body, resp.StatusCode, nil
}

const mitLicenseText = `MIT License

Copyright (c) %d %s

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in all
copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
SOFTWARE.
`

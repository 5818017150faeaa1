package source

import (
	"github.com/gofri/go-github-ratelimit/github_ratelimit"
	"github.com/google/go-github/v81/github"
)

// NewGitHubClient returns a GitHub API client that waits out primary and
// secondary rate limits. An empty token gives an anonymous client with the
// lower unauthenticated quota.
func NewGitHubClient(token string) (*github.Client, error) {
	rateLimiter, err := github_ratelimit.NewRateLimitWaiterClient(nil)
	if err != nil {
		return nil, err
	}
	client := github.NewClient(rateLimiter)
	if token != "" {
		client = client.WithAuthToken(token)
	}
	return client, nil
}

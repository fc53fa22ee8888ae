package github

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

// HasSponsorsProfile probes {web}/sponsors/{login} without following redirects.
// GitHub serves the sponsors page with 200 when the profile exists and
// redirects to the plain user profile when it does not.
func (c *Client) HasSponsorsProfile(ctx context.Context, login string) (bool, error) {
	if !loginPattern.MatchString(login) {
		return false, nil
	}

	client := &http.Client{
		Transport: c.base,
		Timeout:   c.timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.webURL+"/sponsors/"+login, nil)
	if err != nil {
		return false, fmt.Errorf("building sponsors request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		slog.Warn("sponsors profile probe failed", "login", login, "error", err)
		return false, fmt.Errorf("probing sponsors profile of %s: %w", login, err)
	}
	defer resp.Body.Close()

	return sponsorsProfileFromResponse(resp.StatusCode, resp.Header.Get("Location"), login), nil
}

func sponsorsProfileFromResponse(status int, location, login string) bool {
	switch status {
	case http.StatusOK:
		return true
	case http.StatusMovedPermanently, http.StatusFound:
		loc := strings.ToLower(location)
		if strings.Contains(loc, "github.com/"+strings.ToLower(login)) && !strings.Contains(loc, "/sponsors/") {
			return false
		}
		return true
	default:
		return false
	}
}

package server

import (
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// Client talks to a running daemon over the control socket.
type Client struct {
	socketPath string
}

// NewClient creates a control client for the given socket path.
func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath}
}

// call performs one request/response exchange.
func (c *Client) call(req Request, result any) error {
	conn, err := net.DialTimeout("unix", c.socketPath, 2*time.Second)
	if err != nil {
		return fmt.Errorf("daemon not reachable at %s: %w", c.socketPath, err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(connTimeout))

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return fmt.Errorf("send request: %w", err)
	}

	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if !resp.OK {
		return fmt.Errorf("%s", resp.Error)
	}
	if result != nil && len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
	}
	return nil
}

// Status fetches the current snapshot summary and engine state.
func (c *Client) Status() (*Status, error) {
	var st Status
	if err := c.call(Request{Method: "status"}, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// CurrentProfile returns the active profile name.
func (c *Client) CurrentProfile() (string, error) {
	var name string
	err := c.call(Request{Method: "current_profile"}, &name)
	return name, err
}

// ListProfiles returns all profile names, sorted.
func (c *Client) ListProfiles() ([]string, error) {
	var names []string
	err := c.call(Request{Method: "list_profiles"}, &names)
	return names, err
}

// SwitchProfile activates the named profile.
func (c *Client) SwitchProfile(name string) (string, error) {
	var activated string
	err := c.call(Request{Method: "switch_profile", Name: name}, &activated)
	return activated, err
}

// RecentKills returns the most recent kill-log lines, newest first.
func (c *Client) RecentKills(limit int) ([]string, error) {
	var lines []string
	err := c.call(Request{Method: "recent_kills", Limit: limit}, &lines)
	return lines, err
}

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// client talks to the slaacd HTTP API.
type client struct {
	base   string
	http   *http.Client
	apiKey string
	user   string
	pass   string
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func newClient(addr string) *client {
	base := addr
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &client{base: strings.TrimSuffix(base, "/"), http: &http.Client{}}
}

func (c *client) request(ctx context.Context, method, path string, q url.Values) (*http.Request, error) {
	u := c.base + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, err
	}
	switch {
	case c.apiKey != "":
		req.Header.Set("X-API-Key", c.apiKey)
	case c.user != "":
		req.SetBasicAuth(c.user, c.pass)
	}
	return req, nil
}

func (c *client) call(ctx context.Context, method, path string, q url.Values, out any) error {
	req, err := c.request(ctx, method, path, q)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("%s %s: %s", method, path, resp.Status)
	}
	if !env.Success {
		if env.Error == "" {
			env.Error = resp.Status
		}
		return errors.New(env.Error)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}

func (c *client) get(ctx context.Context, path string, q url.Values, out any) error {
	return c.call(ctx, http.MethodGet, path, q, out)
}

func (c *client) post(ctx context.Context, path string, out any) error {
	return c.call(ctx, http.MethodPost, path, nil, out)
}

// stream reads Server-Sent Events from path and calls fn for each until
// ctx is done or the server closes the stream.
func (c *client) stream(ctx context.Context, path string, q url.Values, fn func(event string, data []byte)) error {
	req, err := c.request(ctx, http.MethodGet, path, q)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: %s", path, resp.Status)
	}

	var event string
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			event = ""
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			fn(event, []byte(strings.TrimPrefix(line, "data: ")))
		}
	}
	if ctx.Err() != nil {
		return nil
	}
	return sc.Err()
}

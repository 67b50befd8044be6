// Package httpstore is a sufdex.NodeStore that talks to the node routes of a
// remote sufdex server.
package httpstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/wizenheimer/sufdex"
)

const DefaultTimeout = 10 * time.Second

// Client implements sufdex.NodeStore and sufdex.NodeRemover over HTTP.
type Client struct {
	base string
	http *http.Client
}

// New creates a client for the server at baseURL. A nil hc gets a client with DefaultTimeout.
func New(baseURL string, hc *http.Client) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse node store url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("node store url %q: unsupported scheme", baseURL)
	}
	if hc == nil {
		hc = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{base: strings.TrimRight(u.String(), "/"), http: hc}, nil
}

func (c *Client) nodeURL(id sufdex.NodeID) string {
	return c.base + "/nodes/" + url.PathEscape(id.String())
}

func (c *Client) GetNode(ctx context.Context, id sufdex.NodeID) (*sufdex.Node, error) {
	var node sufdex.Node
	if err := c.do(ctx, http.MethodGet, c.nodeURL(id), nil, &node); err != nil {
		return nil, fmt.Errorf("get node %s: %w", id, err)
	}
	return &node, nil
}

func (c *Client) SetNode(ctx context.Context, node *sufdex.Node) error {
	if err := c.do(ctx, http.MethodPut, c.nodeURL(node.ID), node, nil); err != nil {
		return fmt.Errorf("set node %s: %w", node.ID, err)
	}
	return nil
}

func (c *Client) NextID(ctx context.Context) (sufdex.NodeID, error) {
	var resp struct {
		ID sufdex.NodeID `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, c.base+"/nodes/ids", nil, &resp); err != nil {
		return sufdex.NoNode, fmt.Errorf("next id: %w", err)
	}
	if !resp.ID.IsRef() {
		return sufdex.NoNode, fmt.Errorf("%w: server allocated %s", sufdex.ErrInvalidNodeID, resp.ID)
	}
	return resp.ID, nil
}

func (c *Client) RemoveNode(ctx context.Context, id sufdex.NodeID) error {
	if err := c.do(ctx, http.MethodDelete, c.nodeURL(id), nil, nil); err != nil {
		return fmt.Errorf("remove node %s: %w", id, err)
	}
	return nil
}

// do sends one request. A 404 becomes sufdex.ErrNodeNotFound.
func (c *Client) do(ctx context.Context, method, target string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return sufdex.ErrNodeNotFound
	case resp.StatusCode >= 300:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: %s: %s", method, target, resp.Status, bytes.TrimSpace(msg))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

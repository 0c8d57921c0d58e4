package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"

	"github.com/furisto/parley/backend/agent"
	"github.com/furisto/parley/backend/api"
	"github.com/furisto/parley/frontend/cli/pkg/fail"
	"github.com/furisto/parley/shared/keyring"
	"github.com/spf13/cobra"
)

const DefaultServer = "http://127.0.0.1:5000"

type clientOptions struct {
	Server string
	Token  string
}

func (o *clientOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.Server, "server", "", "server address, http(s)://host:port or unix:///path (env PARLEY_SERVER)")
	cmd.Flags().StringVar(&o.Token, "token", "", "access token (env PARLEY_TOKEN, falls back to the keyring)")
}

// Client talks to a running parley server.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func newClient(ctx context.Context, options clientOptions) (*Client, error) {
	server := firstNonEmpty(options.Server, os.Getenv("PARLEY_SERVER"), DefaultServer)

	token := firstNonEmpty(options.Token, os.Getenv("PARLEY_TOKEN"))
	if token == "" {
		stored, err := keyring.Lookup(getKeyring(ctx), keyring.KeyCLIToken)
		if err != nil {
			return nil, fmt.Errorf("failed to read token from keyring: %w", err)
		}
		token = stored
	}

	client := getHTTPClient(ctx)
	baseURL := strings.TrimRight(server, "/")
	if socket, ok := strings.CutPrefix(server, "unix://"); ok {
		baseURL = "http://parley"
		if client == nil {
			client = &http.Client{
				Transport: &http.Transport{
					DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
						var dialer net.Dialer
						return dialer.DialContext(ctx, "unix", socket)
					},
				},
			}
		}
	}
	if client == nil {
		client = &http.Client{}
	}

	return &Client{baseURL: baseURL, token: token, http: client}, nil
}

// Chat posts a message and calls fn for every event of the turn.
func (c *Client) Chat(ctx context.Context, req *agent.ChatRequest, fn func(agent.Event) error) error {
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}

	resp, err := c.do(ctx, http.MethodPost, "/chat", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return agent.ReadEvents(resp.Body, fn)
}

func (c *Client) ListConversations(ctx context.Context) (*api.ConversationList, error) {
	resp, err := c.do(ctx, http.MethodGet, "/chats", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var list api.ConversationList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &list, nil
}

func (c *Client) GetConversation(ctx context.Context, id string) (*api.ConversationDetail, error) {
	resp, err := c.do(ctx, http.MethodGet, "/chats/"+id, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var detail api.ConversationDetail
	if err := json.NewDecoder(resp.Body).Decode(&detail); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &detail, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		var netErr *net.OpError
		if errors.As(err, &netErr) {
			return nil, fail.NewConnectionError(c.baseURL, err)
		}
		return nil, err
	}

	if resp.StatusCode == http.StatusOK {
		return resp, nil
	}
	defer resp.Body.Close()

	message := readErrorMessage(resp.Body)
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, fail.NewUnauthorizedError(errors.New(message))
	}
	return nil, fmt.Errorf("%s (status %d)", message, resp.StatusCode)
}

func readErrorMessage(r io.Reader) string {
	var payload struct {
		Error string `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(r, 1<<16))
	if err := json.Unmarshal(data, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	return strings.TrimSpace(string(data))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

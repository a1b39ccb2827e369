package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Mem0Client talks to the mem0 memory service.
type Mem0Client struct {
	baseURL  string
	client   *http.Client
	numChats int
}

func NewMem0Client(baseURL string) *Mem0Client {
	return &Mem0Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: 30 * time.Second},
		numChats: 10,
	}
}

func (c *Mem0Client) Search(ctx context.Context, userID int64, query string) ([]string, error) {
	q := url.Values{}
	q.Set("user_id", strconv.FormatInt(userID, 10))
	q.Set("msg", query)
	q.Set("num_chats", strconv.Itoa(c.numChats))
	q.Set("include_chat_history", "false")

	var resp struct {
		Data json.RawMessage `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/get?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return snippets(resp.Data), nil
}

func (c *Mem0Client) Remember(ctx context.Context, userID int64, userText, reply string) error {
	return c.do(ctx, http.MethodPost, "/add", map[string]any{
		"user_id":      strconv.FormatInt(userID, 10),
		"user_message": userText,
		"ai_message":   reply,
	}, nil)
}

func (c *Mem0Client) Clear(ctx context.Context, userID int64) error {
	q := url.Values{}
	q.Set("user_id", strconv.FormatInt(userID, 10))
	return c.do(ctx, http.MethodDelete, "/clear?"+q.Encode(), nil, nil)
}

func (c *Mem0Client) do(ctx context.Context, method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return errors.New("mem0 api error: " + resp.Status + " body=" + string(respBody))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("mem0 decode: %w", err)
	}
	return nil
}

// snippets accepts the shapes mem0 deployments return for "data": a plain string,
// a list of strings, or a list of {"memory": "..."} objects.
func snippets(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(s)
		if s == "" {
			return nil
		}
		return []string{s}
	}

	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		var str string
		if err := json.Unmarshal(item, &str); err == nil {
			if str = strings.TrimSpace(str); str != "" {
				out = append(out, str)
			}
			continue
		}
		var obj struct {
			Memory string `json:"memory"`
		}
		if err := json.Unmarshal(item, &obj); err == nil && strings.TrimSpace(obj.Memory) != "" {
			out = append(out, strings.TrimSpace(obj.Memory))
		}
	}
	return out
}

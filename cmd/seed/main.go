// Command seed fills a running server with fake users, chats and messages.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/samber/lo"

	"github.com/nexus-im/messenger/internal/observability"
)

var (
	addr     = flag.String("addr", "http://localhost:8080", "server base url")
	users    = flag.Int("users", 5, "number of users to register")
	messages = flag.Int("messages", 20, "messages per chat")
	seed     = flag.Int64("seed", 0, "random seed, 0 picks one from the clock")
)

func main() {
	flag.Parse()
	log := observability.NewLogger(os.Stderr, "info", "text")

	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}
	gofakeit.Seed(*seed)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	c := newClient(*addr)
	if err := c.health(ctx); err != nil {
		log.Error("server not ready", "addr", *addr, "error", err)
		os.Exit(1)
	}
	stats, err := c.Seed(ctx, *users, *messages)
	if err != nil {
		log.Error("seeding failed", "error", err)
		os.Exit(1)
	}
	log.Info("seeding done", "seed", *seed, "users", stats.Users, "chats", stats.Chats, "messages", stats.Messages)
}

type account struct {
	ID    int64
	Token string
}

type Stats struct {
	Users, Chats, Messages int
}

type client struct {
	base string
	http *http.Client
}

func newClient(base string) *client {
	return &client{base: base, http: &http.Client{Timeout: 10 * time.Second}}
}

// Seed registers n users, opens one group chat with all of them and a direct
// chat between each consecutive pair, then posts perChat messages into each.
func (c *client) Seed(ctx context.Context, n, perChat int) (Stats, error) {
	var stats Stats
	if n < 2 {
		return stats, fmt.Errorf("need at least 2 users, got %d", n)
	}

	accounts := make([]account, 0, n)
	for range n {
		a, err := c.register(ctx)
		if err != nil {
			return stats, err
		}
		accounts = append(accounts, a)
	}
	stats.Users = len(accounts)

	owner := accounts[0]
	ids := lo.Map(accounts[1:], func(a account, _ int) int64 { return a.ID })
	group, err := c.createChat(ctx, owner, lo.ToPtr(gofakeit.Company()), true, ids)
	if err != nil {
		return stats, err
	}
	chats := map[int64][]account{group: accounts}

	for i := 0; i+1 < len(accounts); i++ {
		pair := accounts[i : i+2]
		id, err := c.createChat(ctx, pair[0], nil, false, []int64{pair[1].ID})
		if err != nil {
			return stats, err
		}
		chats[id] = pair
	}
	stats.Chats = len(chats)

	for chatID, members := range chats {
		for range perChat {
			author := lo.Sample(members)
			if err := c.send(ctx, author, chatID, gofakeit.Sentence(gofakeit.Number(3, 12))); err != nil {
				return stats, err
			}
			stats.Messages++
		}
	}
	return stats, nil
}

func (c *client) register(ctx context.Context) (account, error) {
	body := map[string]any{
		"action":   "register",
		"email":    gofakeit.Email(),
		"username": gofakeit.Username(),
		"password": gofakeit.Password(true, true, true, false, false, 12),
	}
	var resp struct {
		User struct {
			ID int64 `json:"id"`
		} `json:"user"`
		Token string `json:"token"`
	}
	if err := c.post(ctx, "/api/auth", "", body, &resp); err != nil {
		return account{}, fmt.Errorf("register: %w", err)
	}
	return account{ID: resp.User.ID, Token: resp.Token}, nil
}

func (c *client) createChat(ctx context.Context, as account, name *string, isGroup bool, members []int64) (int64, error) {
	body := map[string]any{
		"action":   "create_chat",
		"name":     name,
		"is_group": isGroup,
		"members":  members,
	}
	var resp struct {
		ID int64 `json:"id"`
	}
	if err := c.post(ctx, "/api/chats", as.Token, body, &resp); err != nil {
		return 0, fmt.Errorf("create chat: %w", err)
	}
	return resp.ID, nil
}

func (c *client) send(ctx context.Context, as account, chatID int64, content string) error {
	body := map[string]any{
		"action":  "send_message",
		"chat_id": chatID,
		"content": content,
	}
	if err := c.post(ctx, "/api/chats", as.Token, body, nil); err != nil {
		return fmt.Errorf("send message to chat %d: %w", chatID, err)
	}
	return nil
}

func (c *client) post(ctx context.Context, path, token string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("%s: %s", resp.Status, bytes.TrimSpace(raw))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func (c *client) health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health: %s", resp.Status)
	}
	return nil
}

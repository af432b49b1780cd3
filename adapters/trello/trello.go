package trello

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ELICE-01/line/core"
)

// Bound account ids carry this qualifier, the board API wants the bare
// member id.
const accountPrefix = "trello@"

// Config identifies the board the relay works against and the key/token
// pair Trello authenticates with.
type Config struct {
	BaseURL string
	APIKey  string
	Token   string
	BoardID string
	ListID  string
}

// Client reads and creates cards on one Trello board. It is the relay's
// core.TaskSource.
type Client struct {
	log  *slog.Logger
	cfg  Config
	http *http.Client
}

func NewClient(log *slog.Logger, cfg Config) *Client {
	return &Client{
		log:  log,
		cfg:  cfg,
		http: &http.Client{Timeout: 15 * time.Second},
	}
}

type card struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Due         string   `json:"due"`
	DueComplete bool     `json:"dueComplete"`
	IDList      string   `json:"idList"`
	IDMembers   []string `json:"idMembers"`
}

type boardList struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ListTasks returns the board's cards assigned to the given member,
// normalized into core tasks. Card state comes from the column the card
// sits in.
func (c *Client) ListTasks(ctx context.Context, memberID string) ([]core.Task, error) {
	member := strings.TrimPrefix(memberID, accountPrefix)

	var cards []card
	if err := c.get(ctx, "/1/boards/"+c.cfg.BoardID+"/cards", nil, &cards); err != nil {
		return nil, err
	}

	lists, err := c.listNames(ctx)
	if err != nil {
		return nil, err
	}

	var tasks []core.Task
	for _, cd := range cards {
		if !containsMember(cd.IDMembers, member) {
			continue
		}
		tasks = append(tasks, cd.toTask(lists))
	}
	c.log.Debug("board cards fetched", "memberId", member, "matched", len(tasks), "total", len(cards))
	return tasks, nil
}

// CreateTask adds a card to the configured inbox list with the member
// assigned and returns the new card id.
func (c *Client) CreateTask(ctx context.Context, memberID, title string) (string, error) {
	member := strings.TrimPrefix(memberID, accountPrefix)

	params := url.Values{
		"idList": {c.cfg.ListID},
		"name":   {title},
	}
	if member != "" {
		params.Set("idMembers", member)
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := c.post(ctx, "/1/cards", params, &created); err != nil {
		return "", err
	}

	c.log.Info("board card created", "cardId", created.ID, "memberId", member)
	return created.ID, nil
}

// Ping checks the board is reachable with the configured credentials.
func (c *Client) Ping(ctx context.Context) error {
	var lists []boardList
	return c.get(ctx, "/1/boards/"+c.cfg.BoardID+"/lists", nil, &lists)
}

// listNames maps list id to list name for the whole board.
func (c *Client) listNames(ctx context.Context) (map[string]string, error) {
	var lists []boardList
	if err := c.get(ctx, "/1/boards/"+c.cfg.BoardID+"/lists", nil, &lists); err != nil {
		return nil, err
	}
	names := make(map[string]string, len(lists))
	for _, l := range lists {
		names[l.ID] = l.Name
	}
	return names, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path, params, out)
}

func (c *Client) post(ctx context.Context, path string, params url.Values, out any) error {
	return c.do(ctx, http.MethodPost, path, params, out)
}

// do performs one board API call. Trello authenticates via key/token
// query parameters, so every request carries them.
func (c *Client) do(ctx context.Context, method, path string, params url.Values, out any) error {
	if params == nil {
		params = url.Values{}
	}
	params.Set("key", c.cfg.APIKey)
	params.Set("token", c.cfg.Token)

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("create board request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: board: %v", core.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%w: board: HTTP %d: %s", core.ErrUpstreamUnavailable, resp.StatusCode, string(respBody))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode board response: %w", err)
	}
	return nil
}

var _ core.TaskSource = (*Client)(nil)

func containsMember(members []string, member string) bool {
	for _, m := range members {
		if m == member {
			return true
		}
	}
	return false
}

func (cd card) toTask(lists map[string]string) core.Task {
	t := core.Task{
		ID:     cd.ID,
		Title:  cd.Name,
		Status: statusForList(lists[cd.IDList]),
	}
	if cd.DueComplete {
		t.Status = core.StatusDone
	}
	if cd.Due != "" {
		if due, err := time.Parse(time.RFC3339, cd.Due); err == nil {
			t.DueAt = &due
		}
	}
	return t
}

// statusForList maps a board column name onto a task state. Unknown
// columns count as open so their cards still get reminders.
func statusForList(name string) core.TaskStatus {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "done") || strings.Contains(lower, "complete") || strings.Contains(lower, "完成"):
		return core.StatusDone
	case strings.Contains(lower, "doing") || strings.Contains(lower, "progress") || strings.Contains(lower, "進行"):
		return core.StatusInProgress
	default:
		return core.StatusOpen
	}
}

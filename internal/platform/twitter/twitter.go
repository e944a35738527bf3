// Package twitter is the X/Twitter API v2 platform adapter.
package twitter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/autopost/internal/platform"
	"github.com/autopost/internal/retry"
)

const (
	DefaultBaseURL = "https://api.twitter.com"
	// search/recent only covers the last seven days
	searchWindow = 7 * 24 * time.Hour
	maxPages     = 5
)

type Config struct {
	BaseURL           string
	Timeout           time.Duration
	RequestsPerMinute int
	// Retry applies to read calls only; posting is never retried.
	Retry *retry.Config
}

type Adapter struct {
	baseURL     string
	httpClient  *http.Client
	RateLimiter *rate.Limiter
	retry       retry.Config
	now         func() time.Time
}

func New(cfg Config) *Adapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 50
	}
	rc := retry.PlatformConfig()
	if cfg.Retry != nil {
		rc = *cfg.Retry
	}
	return &Adapter{
		baseURL:     cfg.BaseURL,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		RateLimiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 5),
		retry:       rc,
		now:         time.Now,
	}
}

var _ platform.Adapter = (*Adapter)(nil)

type tweet struct {
	ID             string    `json:"id"`
	Text           string    `json:"text"`
	AuthorID       string    `json:"author_id"`
	CreatedAt      time.Time `json:"created_at"`
	ConversationID string    `json:"conversation_id"`
}

type user struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type searchResponse struct {
	Data     []tweet `json:"data"`
	Includes struct {
		Users []user `json:"users"`
	} `json:"includes"`
	Meta struct {
		NextToken   string `json:"next_token"`
		ResultCount int    `json:"result_count"`
	} `json:"meta"`
}

// APIError is a non-2xx answer. Its message carries the status line so
// callers can classify auth and transient failures by text.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Status     string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("twitter %s %s failed: %s: %s", e.Method, e.Path, e.Status, e.Body)
}

func (a *Adapter) do(ctx context.Context, token, method, path string, query url.Values, payload, out any) error {
	if err := a.RateLimiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
		body = bytes.NewReader(data)
	}

	u := a.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("twitter %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &APIError{Method: method, Path: path, StatusCode: resp.StatusCode, Status: resp.Status, Body: string(b)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

// get runs a read call under the retry policy.
func (a *Adapter) get(ctx context.Context, token, path string, query url.Values, out any) error {
	res := retry.Do(ctx, a.retry, func(ctx context.Context) error {
		return a.do(ctx, token, http.MethodGet, path, query, nil, out)
	})
	if !res.Success {
		return res.LastError
	}
	return nil
}

func (a *Adapter) GetOwnUserID(ctx context.Context, account platform.Account) (string, error) {
	var resp struct {
		Data user `json:"data"`
	}
	if err := a.get(ctx, account.AccessToken, "/2/users/me", nil, &resp); err != nil {
		return "", fmt.Errorf("could not get user info: %w", err)
	}
	return resp.Data.ID, nil
}

func (a *Adapter) CheckConversationReplies(ctx context.Context, account platform.Account, threadID string, since *time.Time, ownLastMessageID string) ([]platform.Reply, error) {
	q := url.Values{}
	q.Set("query", "conversation_id:"+threadID)
	q.Set("tweet.fields", "author_id,created_at,conversation_id")
	q.Set("expansions", "author_id")
	q.Set("max_results", "100")
	if ownLastMessageID != "" {
		q.Set("since_id", ownLastMessageID)
	} else if since != nil && a.now().Sub(*since) < searchWindow {
		// small overlap; duplicates are dropped downstream
		q.Set("start_time", since.Add(-time.Minute).UTC().Format(time.RFC3339))
	}

	var replies []platform.Reply
	for page := 0; page < maxPages; page++ {
		var resp searchResponse
		if err := a.get(ctx, account.AccessToken, "/2/tweets/search/recent", q, &resp); err != nil {
			return nil, err
		}

		handles := make(map[string]string, len(resp.Includes.Users))
		for _, u := range resp.Includes.Users {
			handles[u.ID] = u.Username
		}
		for _, t := range resp.Data {
			if t.ID == threadID {
				continue
			}
			replies = append(replies, platform.Reply{
				ID:        t.ID,
				AuthorID:  t.AuthorID,
				Text:      t.Text,
				CreatedAt: t.CreatedAt,
				URL:       statusURL(handles[t.AuthorID], t.ID),
				IsFromUs:  account.PlatformUserID != "" && t.AuthorID == account.PlatformUserID,
			})
		}

		if resp.Meta.NextToken == "" {
			break
		}
		q.Set("next_token", resp.Meta.NextToken)
	}

	log.Debug().Str("thread_id", threadID).Int("replies", len(replies)).Msg("twitter conversation fetched")
	return replies, nil
}

func (a *Adapter) PostReply(ctx context.Context, account platform.Account, parentMessageID, text string) (platform.PostedReply, error) {
	payload := map[string]any{
		"text":  text,
		"reply": map[string]string{"in_reply_to_tweet_id": parentMessageID},
	}
	var resp struct {
		Data tweet `json:"data"`
	}
	if err := a.do(ctx, account.AccessToken, http.MethodPost, "/2/tweets", nil, payload, &resp); err != nil {
		return platform.PostedReply{}, err
	}
	return platform.PostedReply{ReplyID: resp.Data.ID, ReplyURL: statusURL(account.Handle, resp.Data.ID)}, nil
}

func statusURL(handle, id string) string {
	if id == "" {
		return ""
	}
	if handle == "" {
		return "https://x.com/i/web/status/" + id
	}
	return "https://x.com/" + handle + "/status/" + id
}

package simulate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/TinchoF/gym-score-be/internal/domain/model"
)

const maxAttempts = 5

// submitResponse mirrors the fields of POST /api/scores the simulator reads.
type submitResponse struct {
	Outcome string `json:"outcome"`
	Deleted bool   `json:"deleted"`
}

// groupView mirrors the fields of a score group the simulator verifies.
type groupView struct {
	GroupID           string            `json:"groupId"`
	Scored            bool              `json:"scored"`
	FinalScore        *float64          `json:"finalScore"`
	SubmittedJudgeIDs []string          `json:"submittedJudgeIds"`
	JudgeMarks        []json.RawMessage `json:"judgeMarks"`
	MyScore           *float64          `json:"myScore"`
}

// client talks to the service as one institution.
type client struct {
	base        string
	institution string
	http        *http.Client
}

func newClient(cfg Config) *client {
	return &client{
		base:        cfg.BaseURL,
		institution: cfg.Institution,
		http:        &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *client) health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnhealthy, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrUnhealthy, resp.StatusCode)
	}
	return nil
}

func (c *client) headers(req *http.Request, callerID string, role model.Role) {
	req.Header.Set("X-Institution-ID", c.institution)
	req.Header.Set("X-Caller-ID", callerID)
	req.Header.Set("X-Caller-Role", string(role))
}

// submit posts step as its judge. 429 answers are retried with the same
// idempotency key after Retry-After; throttled counts them.
func (c *client) submit(ctx context.Context, step Step) (res submitResponse, throttled int, err error) {
	body, err := json.Marshal(step.Submission)
	if err != nil {
		return res, 0, err
	}
	for attempt := 1; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/scores", bytes.NewReader(body))
		if err != nil {
			return res, throttled, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotency-Key", step.IdempotencyKey)
		c.headers(req, step.Judge, model.RoleJudge)

		resp, err := c.http.Do(req)
		if err != nil {
			return res, throttled, err
		}
		data, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			return res, throttled, err
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests && attempt < maxAttempts:
			throttled++
			if err := sleep(ctx, retryAfter(resp)); err != nil {
				return res, throttled, err
			}
			continue
		case resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated:
			return res, throttled, fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, bytes.TrimSpace(data))
		}
		if err := json.Unmarshal(data, &res); err != nil {
			return res, throttled, fmt.Errorf("decode submit response: %w", err)
		}
		return res, throttled, nil
	}
}

func (c *client) group(ctx context.Context, key model.GroupKey, callerID string, role model.Role) (groupView, error) {
	var v groupView
	u := fmt.Sprintf("%s/api/scores/%s/%s/%s", c.base,
		url.PathEscape(key.TournamentID), url.PathEscape(key.GymnastID), url.PathEscape(key.Apparatus))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return v, err
	}
	c.headers(req, callerID, role)
	resp, err := c.http.Do(req)
	if err != nil {
		return v, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return v, fmt.Errorf("get %s: status %d", key.ID(), resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return v, fmt.Errorf("decode group %s: %w", key.ID(), err)
	}
	return v, nil
}

func retryAfter(resp *http.Response) time.Duration {
	if s, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && s > 0 {
		return time.Duration(s) * time.Second
	}
	return time.Second
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

package astrology

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Birth is the chart every prediction is computed from.
type Birth struct {
	Date  string // YYYY-MM-DD
	Time  string // HH:MM
	Place string
}

// Query is one prediction request. Range and event fields are optional and only
// sent when set; which ones a topic accepts is listed in Topics.
type Query struct {
	Topic        Topic
	Birth        Birth
	StartDate    string
	EndDate      string
	Question     string
	SpecificDate string
}

type Client struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

func NewClient(baseURL string, logger *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  logger.Named("astrology"),
	}
}

// Fetch returns the raw JSON the prediction service answered with.
func (c *Client) Fetch(ctx context.Context, q Query) (json.RawMessage, error) {
	spec, ok := Lookup(q.Topic)
	if !ok {
		return nil, fmt.Errorf("unknown prediction topic %q", q.Topic)
	}

	body := map[string]string{
		"date_of_birth":  q.Birth.Date,
		"time_of_birth":  q.Birth.Time,
		"place_of_birth": q.Birth.Place,
	}
	optional := map[string]string{
		"start_date":    q.StartDate,
		"end_date":      q.EndDate,
		"query":         q.Question,
		"specific_date": q.SpecificDate,
	}
	for k, v := range optional {
		if v != "" {
			body[k] = v
		}
	}

	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+spec.Path, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	started := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("astrology %s: %w", q.Topic, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("astrology %s: read body: %w", q.Topic, err)
	}
	if resp.StatusCode >= 300 {
		return nil, errors.New(
			"astrology api error: " +
				spec.Path + " " +
				resp.Status +
				" body=" + string(respBody),
		)
	}
	if !json.Valid(respBody) {
		return nil, fmt.Errorf("astrology %s: response is not JSON", q.Topic)
	}

	c.logger.Debug("prediction fetched",
		zap.String("topic", string(q.Topic)),
		zap.Int("bytes", len(respBody)),
		zap.Duration("took", time.Since(started)),
	)
	return respBody, nil
}

// Package news fetches ticker headlines from the Google News RSS feed.
// It is a best-effort collaborator: the API degrades to an empty item
// list rather than failing a request over a broken feed.
package news

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fadingview/marketd/internal/market"
)

const userAgent = "Mozilla/5.0 (compatible; FadingView/1.0)"

// Client reads the RSS search feed for one ticker at a time.
type Client struct {
	httpc   *http.Client
	baseURL string
	timeout time.Duration
}

func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		httpc:   &http.Client{},
		baseURL: baseURL,
		timeout: timeout,
	}
}

type rssFeed struct {
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title   string `xml:"title"`
	Link    string `xml:"link"`
	PubDate string `xml:"pubDate"`
	Source  string `xml:"source"`
}

// Headlines returns up to limit items for symbol. Feed titles carry a
// " - Publisher" suffix that duplicates the source element; it is
// stripped.
func (c *Client) Headlines(ctx context.Context, symbol string, limit int) ([]market.NewsItem, error) {
	params := url.Values{}
	params.Set("q", symbol+" stock")
	params.Set("hl", "en-US")
	params.Set("gl", "US")
	params.Set("ceid", "US:en")
	rawURL := c.baseURL + "/rss/search?" + params.Encode()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("news fetch %s: %w", symbol, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("news fetch %s: unexpected status %d", symbol, resp.StatusCode)
	}

	var feed rssFeed
	if err := xml.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, fmt.Errorf("news parse %s: %w", symbol, err)
	}

	items := make([]market.NewsItem, 0, limit)
	for _, item := range feed.Channel.Items {
		if len(items) >= limit {
			break
		}
		title := item.Title
		if item.Source != "" {
			title = strings.TrimSuffix(title, " - "+item.Source)
		} else if i := strings.LastIndex(title, " - "); i > 0 {
			title = title[:i]
		}
		items = append(items, market.NewsItem{
			Ticker: symbol,
			Title:  title,
			Source: item.Source,
			Time:   item.PubDate,
			URL:    item.Link,
		})
	}
	log.Debug().Str("symbol", symbol).Int("items", len(items)).Msg("news feed fetched")
	return items, nil
}

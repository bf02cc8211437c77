package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fadingview/marketd/internal/market"
)

const (
	lookupRetries = 2
	lookupBackoff = 250 * time.Millisecond
)

type quoteSummaryResponse struct {
	QuoteSummary struct {
		Result []struct {
			Price priceModule `json:"price"`
		} `json:"result"`
		Error *vendorError `json:"error"`
	} `json:"quoteSummary"`
}

type priceModule struct {
	Exchange                   string        `json:"exchange"`
	ExchangeName               string        `json:"exchangeName"`
	QuoteType                  string        `json:"quoteType"`
	ShortName                  string        `json:"shortName"`
	LongName                   string        `json:"longName"`
	Currency                   string        `json:"currency"`
	RegularMarketPreviousClose wrappedNumber `json:"regularMarketPreviousClose"`
}

type wrappedNumber struct {
	Raw *float64 `json:"raw"`
}

type searchResponse struct {
	Quotes []struct {
		Symbol    string `json:"symbol"`
		ShortName string `json:"shortname"`
		LongName  string `json:"longname"`
		Exchange  string `json:"exchange"`
		QuoteType string `json:"quoteType"`
	} `json:"quotes"`
}

// Metadata fetches the per-symbol decoration. It never fails: lookups are
// cosmetic, so any error yields the zero Meta, which callers cache like a
// real answer to avoid hammering a broken endpoint.
func (c *Client) Metadata(ctx context.Context, symbol string) market.Meta {
	params := url.Values{}
	params.Set("modules", "price")
	rawURL := buildURL(c.baseURL, "/v10/finance/quoteSummary/"+url.PathEscape(symbol), params)

	var parsed quoteSummaryResponse
	if err := c.getJSON(ctx, rawURL, &parsed); err != nil {
		log.Debug().Err(err).Str("symbol", symbol).Msg("metadata lookup failed")
		return market.Meta{}
	}
	if parsed.QuoteSummary.Error != nil || len(parsed.QuoteSummary.Result) == 0 {
		return market.Meta{}
	}
	price := parsed.QuoteSummary.Result[0].Price

	exchange := price.Exchange
	if exchange == "" {
		exchange = price.ExchangeName
	}
	name := price.ShortName
	if name == "" {
		name = price.LongName
	}
	return market.Meta{
		Exchange:  exchange,
		QuoteType: price.QuoteType,
		Name:      name,
		Currency:  price.Currency,
		PrevClose: price.RegularMarketPreviousClose.Raw,
	}
}

// Search runs the vendor symbol lookup and maps the quote rows.
func (c *Client) Search(ctx context.Context, query string) ([]market.SearchResult, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("quotesCount", "10")
	params.Set("newsCount", "0")
	rawURL := buildURL(c.searchURL, "/v1/finance/search", params)

	var parsed searchResponse
	if err := c.getJSON(ctx, rawURL, &parsed); err != nil {
		return nil, market.Upstreamf("symbol search %q: %w", query, err)
	}
	results := make([]market.SearchResult, 0, len(parsed.Quotes))
	for _, q := range parsed.Quotes {
		name := q.ShortName
		if name == "" {
			name = q.LongName
		}
		results = append(results, market.SearchResult{
			Symbol:   q.Symbol,
			Name:     name,
			Exchange: q.Exchange,
			Type:     q.QuoteType,
		})
	}
	return results, nil
}

func (c *Client) getJSON(ctx context.Context, rawURL string, out any) error {
	var lastErr error
	for attempt := 0; attempt < lookupRetries; attempt++ {
		terminal, err := c.doJSON(ctx, rawURL, c.timeout, func(resp *http.Response) error {
			return json.NewDecoder(resp.Body).Decode(out)
		})
		if err == nil {
			return nil
		}
		lastErr = err
		if terminal {
			return err
		}
		if attempt < lookupRetries-1 {
			if err := c.sleep(ctx, time.Duration(attempt+1)*lookupBackoff); err != nil {
				return err
			}
		}
	}
	return lastErr
}

// Package solr computes query extents from a Solr-compatible search index.
package solr

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/jobrunner/dataspatial/internal/domain"
	"github.com/jobrunner/dataspatial/internal/ports/output"
)

// Config holds Solr connection settings.
type Config struct {
	URL            string
	Core           string // defaults to the resource id
	IndexField     string
	LatitudeField  string
	LongitudeField string
	Timeout        time.Duration
}

// ExtentBackend implements output.ExtentQueryBackend with Solr field stats.
type ExtentBackend struct {
	client *http.Client
	cfg    Config
	logger *slog.Logger
}

var _ output.ExtentQueryBackend = (*ExtentBackend)(nil)

// NewExtentBackend creates a Solr extent backend.
func NewExtentBackend(cfg Config, logger *slog.Logger) *ExtentBackend {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.LatitudeField == "" {
		cfg.LatitudeField = "latitude"
	}
	if cfg.LongitudeField == "" {
		cfg.LongitudeField = "longitude"
	}
	cfg.URL = strings.TrimSuffix(cfg.URL, "/")

	return &ExtentBackend{
		client: &http.Client{Timeout: cfg.Timeout},
		cfg:    cfg,
		logger: logger,
	}
}

// Name implements output.ExtentQueryBackend.
func (b *ExtentBackend) Name() string { return "solr" }

// QueryExtent implements output.ExtentQueryBackend. SQL filter clauses
// cannot be expressed in Solr and are rejected.
func (b *ExtentBackend) QueryExtent(ctx context.Context, q domain.ExtentQuery) (*domain.ExtentResult, error) {
	if len(q.Clauses) > 0 {
		return nil, fmt.Errorf("sql filter clauses on solr: %w", domain.ErrUnsupported)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.selectURL(q), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("querying solr: %w: %w", domain.ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading solr response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := gjson.GetBytes(body, "error.msg").String()
		return nil, fmt.Errorf("solr returned status %d: %s: %w", resp.StatusCode, msg, domain.ErrUnavailable)
	}

	return b.parse(body)
}

func (b *ExtentBackend) selectURL(q domain.ExtentQuery) string {
	core := b.cfg.Core
	if core == "" {
		core = q.ResourceID
	}

	params := url.Values{}
	params.Set("q", "*:*")
	if q.Query != "" {
		params.Set("q", q.Query)
	}
	params.Set("rows", "0")
	params.Set("wt", "json")
	params.Set("stats", "true")
	params.Add("stats.field", b.cfg.LatitudeField)
	params.Add("stats.field", b.cfg.LongitudeField)

	keys := make([]string, 0, len(q.Filters))
	for k := range q.Filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		params.Add("fq", fmt.Sprintf("%s:%s", k, quote(fmt.Sprint(q.Filters[k]))))
	}

	return fmt.Sprintf("%s/%s/select?%s", b.cfg.URL, url.PathEscape(core), params.Encode())
}

func (b *ExtentBackend) parse(body []byte) (*domain.ExtentResult, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("solr response is not json: %w", domain.ErrInternal)
	}
	doc := gjson.ParseBytes(body)

	total := doc.Get("response.numFound")
	if !total.Exists() {
		return nil, fmt.Errorf("solr response has no numFound: %w", domain.ErrInternal)
	}
	if total.Int() == 0 {
		return domain.EmptyExtent(), nil
	}

	lat := doc.Get("stats.stats_fields." + gjson.Escape(b.cfg.LatitudeField))
	lng := doc.Get("stats.stats_fields." + gjson.Escape(b.cfg.LongitudeField))

	result := &domain.ExtentResult{
		TotalCount: total.Int(),
		GeomCount:  lat.Get("count").Int(),
	}
	if result.GeomCount > 0 && numeric(lat, "min", "max") && numeric(lng, "min", "max") {
		result.Bounds = &domain.Bounds{
			LatMin: lat.Get("min").Float(),
			LngMin: lng.Get("min").Float(),
			LatMax: lat.Get("max").Float(),
			LngMax: lng.Get("max").Float(),
		}
	}
	return result, nil
}

func numeric(r gjson.Result, paths ...string) bool {
	for _, p := range paths {
		if r.Get(p).Type != gjson.Number {
			return false
		}
	}
	return true
}

// quote renders a Solr phrase literal.
func quote(v string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(v) + `"`
}

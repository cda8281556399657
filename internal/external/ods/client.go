// Package ods is the client for opendatasoft Explore v2.1 portals, the
// remote source of every synchronized dataset.
package ods

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/lcalmbach/open-data-insights-sub000/internal/contracts"
	"github.com/lcalmbach/open-data-insights-sub000/pkg/httputil"
	"github.com/lcalmbach/open-data-insights-sub000/pkg/logger"
)

// Client handles communication with opendatasoft portals. Downloads are
// cached on disk per dataset so a failed request can fall back to the
// previous extract.
type Client struct {
	httpClient *httputil.Client
	logger     *logger.Logger
	cacheDir   string
	timezone   string
}

// NewClient creates an ODS client. cacheDir is created on first download.
func NewClient(httpClient *httputil.Client, log *logger.Logger, cacheDir, timezone string) *Client {
	if timezone == "" {
		timezone = "Europe/Zurich"
	}
	return &Client{
		httpClient: httpClient,
		logger:     log,
		cacheDir:   cacheDir,
		timezone:   timezone,
	}
}

// Metadata is the portal's catalog entry for a dataset.
type Metadata struct {
	DatasetID string `json:"dataset_id"`
	Metas     struct {
		Default struct {
			Title        string    `json:"title"`
			RecordsCount int       `json:"records_count"`
			Modified     time.Time `json:"modified"`
		} `json:"default"`
	} `json:"metas"`
}

type recordsResponse struct {
	TotalCount int              `json:"total_count"`
	Results    []map[string]any `json:"results"`
}

func (c *Client) datasetURL(ds *contracts.Dataset) string {
	base := ds.BaseURL
	if !strings.Contains(base, "://") {
		base = "https://" + base
	}
	return fmt.Sprintf("%s/api/explore/v2.1/catalog/datasets/%s",
		base, url.PathEscape(ds.SourceIdentifier))
}

// Metadata fetches the catalog entry for a dataset.
func (c *Client) Metadata(ctx context.Context, ds *contracts.Dataset) (*Metadata, error) {
	resp, err := c.httpClient.Get(ctx, c.datasetURL(ds))
	if err != nil {
		return nil, fmt.Errorf("fetch metadata for %s: %w", ds.SourceIdentifier, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch metadata for %s: status %d", ds.SourceIdentifier, resp.StatusCode)
	}

	var meta Metadata
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return nil, fmt.Errorf("decode metadata for %s: %w", ds.SourceIdentifier, err)
	}
	return &meta, nil
}

// LastRecord fetches the most recent record ordered by orderField
// descending, along with the remote record count.
func (c *Client) LastRecord(ctx context.Context, ds *contracts.Dataset, orderField string) (int, map[string]any, error) {
	u := fmt.Sprintf("%s/records?limit=1&order_by=%s", c.datasetURL(ds),
		url.QueryEscape(orderField+" desc"))

	resp, err := c.httpClient.Get(ctx, u)
	if err != nil {
		return 0, nil, fmt.Errorf("fetch last record for %s: %w", ds.SourceIdentifier, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, nil, fmt.Errorf("fetch last record for %s: status %d", ds.SourceIdentifier, resp.StatusCode)
	}

	var rr recordsResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return 0, nil, fmt.Errorf("decode last record for %s: %w", ds.SourceIdentifier, err)
	}
	if len(rr.Results) == 0 {
		return rr.TotalCount, nil, nil
	}
	return rr.TotalCount, rr.Results[0], nil
}

// Identifiers lists every value of the dataset's record identifier column
// via a single-column CSV export, deduplicated and sorted.
func (c *Client) Identifiers(ctx context.Context, ds *contracts.Dataset) ([]string, error) {
	params := c.exportParams()
	params.Set("select", ds.RecordIdentifierField)
	u := fmt.Sprintf("%s/exports/csv?%s", c.datasetURL(ds), params.Encode())

	resp, err := c.httpClient.Get(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("fetch identifiers for %s: %w", ds.SourceIdentifier, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch identifiers for %s: status %d", ds.SourceIdentifier, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read identifiers for %s: %w", ds.SourceIdentifier, err)
	}

	lines := strings.Split(strings.TrimPrefix(string(body), "\uFEFF"), "\n")
	seen := map[string]bool{}
	var ids []string
	for i, line := range lines {
		if i == 0 {
			continue // header
		}
		id := strings.TrimSpace(line)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Download fetches the filtered CSV extract into the cache directory and
// returns the local path. When the request fails and a previous extract is
// on disk, that file is reused instead.
func (c *Client) Download(ctx context.Context, ds *contracts.Dataset, where string, fields []string) (string, error) {
	params := c.exportParams()
	if where != "" {
		params.Set("where", where)
	}
	if len(fields) > 0 {
		params.Set("fields", strings.Join(fields, ","))
	}
	u := fmt.Sprintf("%s/exports/csv?%s", c.datasetURL(ds), params.Encode())

	if err := os.MkdirAll(c.cacheDir, 0o755); err != nil {
		return "", fmt.Errorf("create cache dir: %w", err)
	}
	cachePath := filepath.Join(c.cacheDir, ds.SourceIdentifier+".csv")

	if err := c.downloadTo(ctx, u, cachePath); err != nil {
		if _, statErr := os.Stat(cachePath); statErr == nil {
			c.logger.WithError(err).WithField("dataset", ds.SourceIdentifier).
				Warn("Download failed, reusing cached extract")
			return cachePath, nil
		}
		return "", fmt.Errorf("download extract for %s: %w", ds.SourceIdentifier, err)
	}
	return cachePath, nil
}

func (c *Client) downloadTo(ctx context.Context, u, path string) error {
	resp, err := c.httpClient.Get(ctx, u)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}

	tmp := path + ".partial"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}

	pw := &progressWriter{
		dst:    f,
		total:  resp.ContentLength,
		every:  5 << 20,
		logger: c.logger,
	}
	_, copyErr := io.Copy(pw, resp.Body)
	closeErr := f.Close()
	if copyErr != nil {
		os.Remove(tmp)
		return copyErr
	}
	if closeErr != nil {
		os.Remove(tmp)
		return closeErr
	}

	c.logger.WithFields(map[string]interface{}{
		"bytes": pw.written,
		"file":  filepath.Base(path),
	}).Info("Extract downloaded")
	return os.Rename(tmp, path)
}

// CleanCache removes cached extracts older than maxAge and returns how many
// files were deleted.
func (c *Client) CleanCache(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(c.cacheDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".csv") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(c.cacheDir, entry.Name())); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}

func (c *Client) exportParams() url.Values {
	return url.Values{
		"lang":       []string{"de"},
		"timezone":   []string{c.timezone},
		"use_labels": []string{"false"},
		"delimiter":  []string{";"},
	}
}

// progressWriter logs byte progress for large extracts at fixed intervals.
type progressWriter struct {
	dst     io.Writer
	total   int64
	written int64
	every   int64
	next    int64
	logger  *logger.Logger
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.dst.Write(b)
	p.written += int64(n)
	if p.next == 0 {
		p.next = p.every
	}
	if p.written >= p.next {
		p.next += p.every
		fields := map[string]interface{}{"bytes": p.written}
		if p.total > 0 {
			fields["total"] = p.total
		}
		p.logger.WithFields(fields).Debug("Downloading extract")
	}
	return n, err
}

package connectors

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/gosimple/slug"
	"github.com/tidwall/gjson"

	"canon/internal/ingest"
	"canon/pkg/platform/sentinel"
)

// FixtureConfig points a fixture connector at a directory of JSON files.
type FixtureConfig struct {
	Dir string `yaml:"dir" validate:"required"`
}

// DefaultFixture is served when no file matches the query.
const DefaultFixture = "default.json"

// Fixture serves canned responses from files. A query resolves to
// <slug of query>.json and falls back to default.json.
type Fixture struct {
	id   string
	fsys fs.FS
	memo *memo
}

// NewFixture creates a fixture connector over fsys.
func NewFixture(id string, fsys fs.FS) (*Fixture, error) {
	if id == "" {
		return nil, errors.New("connector id is required")
	}
	if fsys == nil {
		return nil, fmt.Errorf("connector %s: fixture filesystem is required", id)
	}
	return &Fixture{id: id, fsys: fsys, memo: newMemo(DefaultMemoSize)}, nil
}

// ID implements ingest.Connector.
func (c *Fixture) ID() string {
	return c.id
}

// Fetch implements ingest.Connector.
func (c *Fixture) Fetch(ctx context.Context, query string) (ingest.RawPayload, error) {
	if err := ctx.Err(); err != nil {
		return ingest.RawPayload{}, err
	}
	body, err := c.read(query)
	if err != nil {
		return ingest.RawPayload{}, err
	}
	if !gjson.ValidBytes(body) {
		return ingest.RawPayload{}, ingest.NewConnectorError(ingest.ErrorBadData, c.id, "fixture is not valid json", nil)
	}
	return ingest.RawPayload{
		ConnectorID: c.id,
		Query:       query,
		ContentType: "application/json",
		Body:        body,
	}, nil
}

func (c *Fixture) read(query string) ([]byte, error) {
	names := []string{DefaultFixture}
	if s := slug.Make(query); s != "" {
		names = []string{s + ".json", DefaultFixture}
	}
	for _, name := range names {
		body, err := fs.ReadFile(c.fsys, name)
		if err == nil {
			return body, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, ingest.NewConnectorError(ingest.ErrorInternal, c.id, "read fixture "+name, err)
		}
	}
	return nil, fmt.Errorf("fixture for %q: %w", query, sentinel.ErrNotFound)
}

// IsDuplicate implements ingest.Connector.
func (c *Fixture) IsDuplicate(payload ingest.RawPayload) bool {
	return c.memo.seen(payload)
}

// MarkRecorded implements ingest.RecordMarker.
func (c *Fixture) MarkRecorded(payload ingest.RawPayload) {
	c.memo.remember(payload)
}

package data

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/splunk/browser-e2e/e2e/framework/objectstore"
)

const sample = `
search_keywords:
  ai: "artificial intelligence"
  ml: machine learning
validation_criteria:
  min_results: 3
  title_contains: AI
urls:
  google: https://www.google.com
timeouts:
  page_load: 15000
  element: 2s
`

func TestTestDataAccessors(t *testing.T) {
	td, err := Parse([]byte(sample))
	require.NoError(t, err)

	v, ok := td.Get("urls.google")
	require.True(t, ok)
	assert.Equal(t, "https://www.google.com", v)
	_, ok = td.Get("urls.google.deeper")
	assert.False(t, ok)

	assert.Equal(t, "artificial intelligence", td.SearchKeyword("ai"))
	assert.Equal(t, "robots", td.SearchKeyword("robots"))
	assert.Equal(t, map[string]string{"ai": "artificial intelligence", "ml": "machine learning"}, td.SearchKeywords())
	assert.Equal(t, 3, td.ValidationCriteria()["min_results"])
	assert.Equal(t, "", td.URL("bing"))

	assert.Equal(t, 15*time.Second, td.Timeout("page_load"))
	assert.Equal(t, 2*time.Second, td.Timeout("element"))
	assert.Equal(t, DefaultTimeout, td.Timeout("missing"))
}

func TestTestDataJSON(t *testing.T) {
	td, err := Parse([]byte(`{"urls": {"google": "https://www.google.com"}, "timeouts": {"page_load": 1000}}`))
	require.NoError(t, err)
	assert.Equal(t, "https://www.google.com", td.URL("google"))
	assert.Equal(t, time.Second, td.Timeout("page_load"))
}

func TestLookupServesOrchestrationDefaults(t *testing.T) {
	td, err := Parse([]byte(sample))
	require.NoError(t, err)

	kw, ok := td.Lookup("search_keyword")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"keyword": "artificial intelligence", "source": "test_data"}, kw)

	criteria, ok := td.Lookup("validation_criteria")
	require.True(t, ok)
	assert.Equal(t, "AI", criteria["title_contains"])

	_, ok = td.Lookup("unknown")
	assert.False(t, ok)
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	td, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultTimeout, td.Timeout("page_load"))
	_, ok := td.Lookup("search_keyword")
	assert.False(t, ok)
}

func TestCachePersistsIndex(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(t.TempDir(), "data.yaml")
	require.NoError(t, os.WriteFile(src, []byte(sample), 0o644))

	c, err := NewCache(dir)
	require.NoError(t, err)
	entry, err := c.Put("s3://bucket/data.yaml", src)
	require.NoError(t, err)
	assert.Len(t, entry.Checksum, 64)
	assert.Equal(t, ".yaml", filepath.Ext(entry.Path))

	reopened, err := NewCache(dir)
	require.NoError(t, err)
	got, ok := reopened.Get("s3://bucket/data.yaml")
	require.True(t, ok)
	assert.Equal(t, entry.Checksum, got.Checksum)
	assert.Equal(t, 1, reopened.Stats().Entries)
}

func TestCachePruneBySize(t *testing.T) {
	c, err := NewCache(t.TempDir())
	require.NoError(t, err)
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return clock }

	for _, key := range []string{"old", "mid", "new"} {
		_, err := c.PutReader(key, strings.NewReader("12345"))
		require.NoError(t, err)
		clock = clock.Add(time.Minute)
	}
	require.NoError(t, c.Prune(0, 10))

	_, ok := c.Get("old")
	assert.False(t, ok)
	_, ok = c.Get("new")
	assert.True(t, ok)
	assert.Equal(t, int64(10), c.Stats().TotalSize)
}

type fakeProvider struct {
	downloads int
	err       error
	cfg       objectstore.Config
}

func (p *fakeProvider) List(context.Context, string) ([]objectstore.ObjectInfo, error) { return nil, nil }

func (p *fakeProvider) Upload(context.Context, string, string) (objectstore.ObjectInfo, error) {
	return objectstore.ObjectInfo{}, errors.New("read only")
}

func (p *fakeProvider) Download(_ context.Context, key string, localPath string) (objectstore.ObjectInfo, error) {
	p.downloads++
	if p.err != nil {
		return objectstore.ObjectInfo{}, p.err
	}
	if err := os.WriteFile(localPath, []byte(sample), 0o644); err != nil {
		return objectstore.ObjectInfo{}, err
	}
	return objectstore.ObjectInfo{Key: key, Size: int64(len(sample))}, nil
}

func (p *fakeProvider) Close() error { return nil }

func TestFetchDownloadsOnce(t *testing.T) {
	cache, err := NewCache(t.TempDir())
	require.NoError(t, err)
	fake := &fakeProvider{}
	f := NewFetcher(cache, objectstore.Config{Region: "eu-west-1", Prefix: "ignored"}, nil).
		WithProviderFactory(func(_ context.Context, cfg objectstore.Config) (objectstore.Provider, error) {
			fake.cfg = cfg
			return fake, nil
		})

	path, err := f.Fetch(context.Background(), "s3://fixtures/e2e/test_data.yaml")
	require.NoError(t, err)
	td, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "artificial intelligence", td.SearchKeyword("ai"))

	again, err := f.Fetch(context.Background(), "s3://fixtures/e2e/test_data.yaml")
	require.NoError(t, err)
	assert.Equal(t, path, again)
	assert.Equal(t, 1, fake.downloads)
	assert.Equal(t, "fixtures", fake.cfg.Bucket)
	assert.Equal(t, "s3", fake.cfg.Provider)
	assert.Empty(t, fake.cfg.Prefix)
}

func TestFetchLocalPathPassesThrough(t *testing.T) {
	cache, err := NewCache(t.TempDir())
	require.NoError(t, err)
	path, err := NewFetcher(cache, objectstore.Config{}, nil).Fetch(context.Background(), "test_data/test_data.yaml")
	require.NoError(t, err)
	assert.Equal(t, "test_data/test_data.yaml", path)
}

func TestFetchDownloadError(t *testing.T) {
	cache, err := NewCache(t.TempDir())
	require.NoError(t, err)
	fake := &fakeProvider{err: errors.New("access denied")}
	f := NewFetcher(cache, objectstore.Config{}, nil).
		WithProviderFactory(func(context.Context, objectstore.Config) (objectstore.Provider, error) { return fake, nil })

	_, err = f.Fetch(context.Background(), "gs://fixtures/test_data.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
	assert.Zero(t, cache.Stats().Entries)
}

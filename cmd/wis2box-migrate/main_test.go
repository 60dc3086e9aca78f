package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const stationCSV = "station_name,wigos_station_identifier,facility_type,territory_name,wmo_region\n" +
	"Nairobi,0-20000-0-63741,Land (fixed),Kenya,I\n"

// fakeStore serves one page of stations through a point in time and counts
// every request.
type fakeStore struct {
	opened   atomic.Int32
	closed   atomic.Int32
	searches atomic.Int32
	bulks    atomic.Int32
}

func (f *fakeStore) server(t *testing.T) *httptest.Server {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			w.Header().Set("X-Elastic-Product", "Elasticsearch")
			w.Header().Set("Content-Type", "application/json")
			next.ServeHTTP(w, req)
		})
	})
	r.Post("/{index}/_pit", func(w http.ResponseWriter, r *http.Request) {
		f.opened.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "pit-" + chi.URLParam(r, "index")})
	})
	r.Delete("/_pit", func(w http.ResponseWriter, r *http.Request) {
		f.closed.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{"succeeded": true, "num_freed": 1})
	})
	r.Post("/_search", func(w http.ResponseWriter, r *http.Request) {
		f.searches.Add(1)
		hits := []map[string]any{}
		if r.URL.Query().Get("from") == "0" {
			hits = append(hits, map[string]any{
				"_index": "stations",
				"_id":    "0-20000-0-63741",
				"_source": map[string]any{
					"properties": map[string]any{"wmo_region": "I", "territory_name": "Kenya"},
				},
			})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"pit_id": "pit-stations", "hits": map[string]any{"hits": hits}})
	})
	r.Post("/_bulk", func(w http.ResponseWriter, r *http.Request) {
		f.bulks.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{"errors": false, "items": []any{}})
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func setupEnv(t *testing.T, storeURL string) string {
	t.Helper()
	dir := t.TempDir()
	stationDir := filepath.Join(dir, "metadata", "station")
	require.NoError(t, os.MkdirAll(stationDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(stationDir, "station_list.csv"), []byte(stationCSV), 0o644))

	t.Setenv("WIS2BOX_HOST_DATADIR", dir)
	t.Setenv("WIS2BOX_API_BACKEND_URL", storeURL)
	t.Setenv("WIS2BOX_DOCUMENT_STORE_URL", "")
	t.Setenv("WIS2BOX_STATIONS_INDEX", "")
	t.Setenv("MIGRATION_BATCH_SIZE", "")
	t.Setenv("CHECKPOINT_DATABASE_URL", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("LOG_FORMAT", "")
	return filepath.Join(stationDir, "station_list.csv")
}

func run(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := execute(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestList(t *testing.T) {
	code, stdout, _ := run("list")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "v1.0b7")
}

func TestVersionFlag(t *testing.T) {
	code, stdout, _ := run("--version")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, version)
}

func TestRun_UnknownVersion(t *testing.T) {
	fake := &fakeStore{}
	setupEnv(t, fake.server(t).URL)

	code, _, stderr := run("run", "9.9.9")

	assert.Equal(t, 7, code)
	assert.Contains(t, stderr, "VER001")
	assert.Contains(t, stderr, "9.9.9")
	assert.Zero(t, fake.opened.Load()+fake.searches.Load(), "store must not be contacted")
}

func TestRun_MissingConfiguration(t *testing.T) {
	setupEnv(t, "http://localhost:9200")
	t.Setenv("WIS2BOX_HOST_DATADIR", "")

	code, _, stderr := run("run", "v1.0b7")

	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "CFG001")
	assert.Contains(t, stderr, "WIS2BOX_HOST_DATADIR")
}

func TestRun_InvalidVerbosity(t *testing.T) {
	code, _, stderr := run("run", "v1.0b7", "--verbosity", "LOUD")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "invalid --verbosity")
}

func TestRun_RequiresVersion(t *testing.T) {
	code, _, _ := run("run")
	assert.Equal(t, 1, code)
}

func TestRun_DryRun(t *testing.T) {
	fake := &fakeStore{}
	path := setupEnv(t, fake.server(t).URL)

	code, stdout, stderr := run("run", "v1.0b7", "--dryrun", "-v", "WARNING")
	require.Equal(t, 0, code, stderr)

	assert.Contains(t, stdout, "Nairobi,0-20000-0-63741,landFixed,KEN,africa\n")
	assert.Contains(t, stdout, `"_op_type":"update"`)
	assert.Contains(t, stdout, `"wmo_region":"africa"`)
	assert.Zero(t, fake.bulks.Load(), "dry-run must not submit updates")
	assert.Equal(t, int32(1), fake.closed.Load(), "dry-run must release its point in time")

	_, err := os.Stat(path + ".v1.0b7")
	assert.True(t, os.IsNotExist(err), "dry-run must not write the station file")
}

func TestRun_Commit(t *testing.T) {
	fake := &fakeStore{}
	path := setupEnv(t, fake.server(t).URL)

	code, stdout, stderr := run("run", "v1_0b7")
	require.Equal(t, 0, code, stderr)

	assert.Empty(t, stdout)
	assert.Equal(t, int32(1), fake.bulks.Load())
	assert.Equal(t, int32(1), fake.opened.Load())
	assert.Equal(t, int32(1), fake.searches.Load())
	assert.Equal(t, int32(1), fake.closed.Load())
	assert.Contains(t, stderr, "run_id=")

	got, err := os.ReadFile(path + ".v1.0b7")
	require.NoError(t, err)
	assert.Contains(t, string(got), "landFixed,KEN,africa")

	src, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, stationCSV, string(src))
}

func TestRun_StoreUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()
	path := setupEnv(t, addr)

	code, _, stderr := run("run", "v1.0b7")

	assert.Equal(t, 5, code)
	assert.Contains(t, stderr, "STORE001")

	// The station pass ran before the store was found unreachable.
	_, err := os.Stat(path + ".v1.0b7")
	assert.NoError(t, err)
}

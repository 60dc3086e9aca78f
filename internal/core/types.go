package core

import (
	"context"
	"errors"
	"io"
)

// DefaultBatchSize is the number of documents fetched per page.
const DefaultBatchSize = 100

// OpUpdate is the bulk operation kind for a partial document update.
const OpUpdate = "update"

// Codelist maps legacy code values to their canonical replacements.
type Codelist map[string]string

// Document is one record of the station collection.
type Document struct {
	Index  string         // collection the document lives in
	ID     string         // store-assigned identifier
	Source map[string]any // full document body; codelist fields sit under "properties"
}

// Properties returns the document's properties object.
func (d Document) Properties() (map[string]any, bool) {
	props, ok := d.Source["properties"].(map[string]any)
	return props, ok
}

// UpdateOp is a partial update of one document, produced 1:1 per fetched
// document and submitted with the rest of its batch.
type UpdateOp struct {
	Kind  string         `json:"_op_type"`
	Index string         `json:"_index"`
	ID    string         `json:"_id"`
	Doc   map[string]any `json:"doc"`
}

// DocumentStore is the search/update surface the store migrator needs.
type DocumentStore interface {
	// Search returns up to size documents of index starting at offset from,
	// matching all documents in the store's default order. That order may
	// change as documents are updated; stores that can pin it implement
	// Snapshotter.
	Search(ctx context.Context, index string, from, size int) ([]Document, error)

	// Bulk submits ops as a single bulk partial-update request.
	Bulk(ctx context.Context, ops []UpdateOp) error
}

// Snapshotter is implemented by stores that can freeze the contents and
// order of an index for the length of a pass, so documents the pass updates
// do not move between pages.
type Snapshotter interface {
	// OpenSnapshot pins the current contents of index.
	OpenSnapshot(ctx context.Context, index string) (Snapshot, error)

	// ResumeSnapshot reattaches to a snapshot opened by an earlier run. If it
	// has expired, the first Search fails with ErrSnapshotExpired.
	ResumeSnapshot(index, id string) Snapshot
}

// Snapshot is a frozen view of one index.
type Snapshot interface {
	// ID identifies the snapshot for ResumeSnapshot. It may change after
	// each Search.
	ID() string

	// Search returns up to size documents starting at offset from, in an
	// order that stays fixed for the life of the snapshot.
	Search(ctx context.Context, from, size int) ([]Document, error)

	// Close releases the snapshot.
	Close(ctx context.Context) error
}

// ErrSnapshotExpired reports a snapshot the store no longer holds.
var ErrSnapshotExpired = errors.New("snapshot expired")

// Checkpoint is the saved position of an interrupted store pass.
type Checkpoint struct {
	Cursor   int    // offset of the next page
	Snapshot string // snapshot the cursor counts into, empty without one
}

// Checkpointer persists the next cursor of a store pass so an interrupted
// commit can resume instead of restarting from zero.
type Checkpointer interface {
	Load(ctx context.Context, key string) (cp Checkpoint, found bool, err error)
	Save(ctx context.Context, key string, cp Checkpoint) error
	Clear(ctx context.Context, key string) error
}

// Migration is one versioned, one-time data migration.
type Migration interface {
	// Version is the release the migration upgrades data to, e.g. "v1.0b7".
	Version() string

	// Description is a one-line human readable summary.
	Description() string

	// Migrate runs the migration. In dry-run mode nothing is written.
	Migrate(ctx context.Context, env *Env, dryRun bool) error
}

// Env carries everything a migration touches. It is built once at startup
// from configuration and passed to the selected migration.
type Env struct {
	StationFile string // path of station_list.csv
	Index       string // station collection name
	BatchSize   int    // documents per page, DefaultBatchSize when zero

	Store       DocumentStore
	Checkpoints Checkpointer // optional
	Resume      bool         // start the store pass from a saved checkpoint

	Out io.Writer // dry-run output
}

// TableResult summarises a tabular pass.
type TableResult struct {
	Rows       int      // data rows read
	Changed    int      // rows with at least one rewritten value
	OutputPath string   // written file, empty in dry-run
	Missing    []string // codelists with no column in the header
}

// StoreResult summarises a document store pass.
type StoreResult struct {
	StartCursor int // cursor the pass started from
	Fetches     int // search requests issued
	Batches     int // non-empty batches printed or submitted
	Documents   int // documents fetched
	Changed     int // documents with at least one rewritten value
	Skipped     int // documents without a properties object
}

// Package store persists discovered graphs as numbered snapshots so a
// sweep can run against a previous discovery pass.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/btree"
	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"github.com/yairfalse/reclaim/pkg/resource"
)

// DefaultFile is the database file name inside the storage directory.
const DefaultFile = "reclaim.db"

// Bucket names in bbolt
var (
	bucketSnapshots = []byte("snapshots")
	bucketIndex     = []byte("index")
	bucketMeta      = []byte("meta")

	keyRevision = []byte("current_revision")
)

// ErrNotFound is returned when a requested snapshot does not exist.
var ErrNotFound = errors.New("snapshot not found")

// Meta describes the discovery pass a snapshot came from.
type Meta struct {
	// PassID names the discovery pass. Save generates one when empty and
	// moves it to Info.PassID.
	PassID    string    `json:"-"`
	Account   string    `json:"account,omitempty"`
	Regions   []string  `json:"regions,omitempty"`
	Anomalies int       `json:"anomalies"`
	Started   time.Time `json:"started"`
}

// Info is the index entry of a snapshot.
type Info struct {
	Revision  int64     `json:"revision"`
	PassID    string    `json:"pass_id"`
	Taken     time.Time `json:"taken"`
	Resources int       `json:"resources"`
	Relations int       `json:"relations"`
	Meta      Meta      `json:"meta"`
}

// Snapshot is a stored graph with its index entry.
type Snapshot struct {
	Info
	Graph resource.Graph `json:"graph"`
}

// Store keeps snapshots in bbolt and their index in memory.
type Store struct {
	mu sync.RWMutex

	index *btree.BTreeG[Info]
	db    *bbolt.DB

	currentRev int64
	path       string
	now        func() time.Time
}

// Open opens (or creates) the store in dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	dbPath := filepath.Join(dir, DefaultFile)

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{bucketSnapshots, bucketIndex, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init buckets: %w", err)
	}

	s := &Store{
		index: btree.NewG[Info](32, func(a, b Info) bool {
			return a.Revision < b.Revision
		}),
		db:   db,
		path: dbPath,
		now:  time.Now,
	}
	if err := s.rebuildIndex(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save stores g as the next revision.
func (s *Store) Save(g resource.Graph, meta Meta) (Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	passID := meta.PassID
	if passID == "" {
		passID = uuid.NewString()
	}
	meta.PassID = ""

	rev := s.currentRev + 1
	resources, relations := g.Len()
	snap := Snapshot{
		Info: Info{
			Revision:  rev,
			PassID:    passID,
			Taken:     s.now().UTC(),
			Resources: resources,
			Relations: relations,
			Meta:      meta,
		},
		Graph: g,
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return Info{}, fmt.Errorf("encode snapshot: %w", err)
	}
	info, err := json.Marshal(snap.Info)
	if err != nil {
		return Info{}, fmt.Errorf("encode snapshot info: %w", err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		key := revisionKey(rev)
		if err := tx.Bucket(bucketSnapshots).Put(key, data); err != nil {
			return err
		}
		if err := tx.Bucket(bucketIndex).Put(key, info); err != nil {
			return err
		}
		return tx.Bucket(bucketMeta).Put(keyRevision, []byte(strconv.FormatInt(rev, 10)))
	})
	if err != nil {
		return Info{}, fmt.Errorf("save snapshot %d: %w", rev, err)
	}

	s.currentRev = rev
	s.index.ReplaceOrInsert(snap.Info)
	return snap.Info, nil
}

// Load returns the snapshot with the given revision.
func (s *Store) Load(rev int64) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.index.Get(Info{Revision: rev}); !ok {
		return nil, fmt.Errorf("%w: revision %d", ErrNotFound, rev)
	}

	var snap Snapshot
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketSnapshots).Get(revisionKey(rev))
		if data == nil {
			return fmt.Errorf("%w: revision %d", ErrNotFound, rev)
		}
		return json.Unmarshal(data, &snap)
	})
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	return &snap, nil
}

// Latest returns the most recent snapshot.
func (s *Store) Latest() (*Snapshot, error) {
	s.mu.RLock()
	latest, ok := s.index.Max()
	s.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}
	return s.Load(latest.Revision)
}

// List returns the index entries, newest first.
func (s *Store) List() []Info {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Info, 0, s.index.Len())
	s.index.Descend(func(info Info) bool {
		out = append(out, info)
		return true
	})
	return out
}

// CurrentRevision returns the last revision handed out.
func (s *Store) CurrentRevision() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentRev
}

// Compact removes all but the newest keep snapshots and returns how many
// were removed. Revision numbers are never reused.
func (s *Store) Compact(keep int) (int, error) {
	if keep < 1 {
		return 0, fmt.Errorf("compact: keep must be at least 1, got %d", keep)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	excess := s.index.Len() - keep
	if excess <= 0 {
		return 0, nil
	}

	var doomed []Info
	s.index.Ascend(func(info Info) bool {
		doomed = append(doomed, info)
		return len(doomed) < excess
	})

	err := s.db.Update(func(tx *bbolt.Tx) error {
		for _, info := range doomed {
			key := revisionKey(info.Revision)
			if err := tx.Bucket(bucketSnapshots).Delete(key); err != nil {
				return err
			}
			if err := tx.Bucket(bucketIndex).Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("compact: %w", err)
	}

	for _, info := range doomed {
		s.index.Delete(info)
	}
	return len(doomed), nil
}

func (s *Store) rebuildIndex() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		if data := tx.Bucket(bucketMeta).Get(keyRevision); data != nil {
			rev, err := strconv.ParseInt(string(data), 10, 64)
			if err != nil {
				return fmt.Errorf("corrupt revision counter: %w", err)
			}
			s.currentRev = rev
		}

		return tx.Bucket(bucketIndex).ForEach(func(k, v []byte) error {
			var info Info
			if err := json.Unmarshal(v, &info); err != nil {
				return fmt.Errorf("corrupt index entry %s: %w", k, err)
			}
			s.index.ReplaceOrInsert(info)
			return nil
		})
	})
}

func revisionKey(rev int64) []byte {
	return []byte(fmt.Sprintf("%016d", rev))
}

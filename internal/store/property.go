package store

import (
	"encoding/json"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/bananahana720/PHX-houses-Dec-2025-sub000/internal/model"
	"github.com/bananahana720/PHX-houses-Dec-2025-sub000/internal/resilience"
)

// propertyFileVersion guards against loading a state file written by an
// incompatible layout.
const propertyFileVersion = 1

// diskProperty is the on-disk shape of one property: full address, the
// normalized lookup key, current values, lineage grouped into per-source
// sections, opaque extras, and freshness metadata. The file holds an ordered
// list of these, not a map; readers must not assume map semantics.
type diskProperty struct {
	Address     string                                   `json:"address"`
	Normalized  string                                   `json:"normalized"`
	Fields      map[string]model.FieldValue              `json:"fields"`
	Sources     map[string]map[string][]model.FieldValue `json:"sources,omitempty"`
	Extra       map[string]any                           `json:"extra,omitempty"`
	Staged      map[string]map[string]model.FieldValue   `json:"staged,omitempty"`
	LastUpdated time.Time                                `json:"_last_updated"`
	LastSync    time.Time                                `json:"_last_sync"`
}

type propertyFile struct {
	Version    int            `json:"version"`
	Properties []diskProperty `json:"properties"`
}

// PropertyStore is the canonical property collection. In memory it is
// indexed by normalized address for O(1) lookup; the ordered-list layout
// exists only at the serialization boundary.
type PropertyStore struct {
	path string

	mu    sync.RWMutex
	order []string // normalized keys in disk order
	byKey map[string]*model.PropertyRecord
}

// OpenProperties loads the property store from path, creating an empty store
// when the file does not exist yet. Corruption or a version mismatch returns
// an IntegrityError; the caller decides between abort and discard.
func OpenProperties(path string) (*PropertyStore, error) {
	s := &PropertyStore{
		path:  path,
		byKey: make(map[string]*model.PropertyRecord),
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "store: read property file %s", path)
	}

	var file propertyFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, &resilience.IntegrityError{
			Err:  eris.Wrapf(err, "store: property file %s is corrupt", path),
			Path: path,
		}
	}
	if file.Version != propertyFileVersion {
		return nil, &resilience.IntegrityError{
			Err:           eris.Errorf("store: property file %s has version %d, want %d", path, file.Version, propertyFileVersion),
			Path:          path,
			CompletedLost: len(file.Properties),
		}
	}

	for _, dp := range file.Properties {
		rec := fromDisk(dp)
		if _, dup := s.byKey[rec.Normalized]; dup {
			// Last entry wins but the collection stays deduplicated.
			zap.L().Warn("store: duplicate property entry collapsed",
				zap.String("normalized", rec.Normalized))
			s.byKey[rec.Normalized] = rec
			continue
		}
		s.order = append(s.order, rec.Normalized)
		s.byKey[rec.Normalized] = rec
	}
	return s, nil
}

// Get returns a copy of the record for the address, or nil when absent.
func (s *PropertyStore) Get(address string) *model.PropertyRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byKey[model.NormalizeAddress(address)]
	if !ok {
		return nil
	}
	return rec.Clone()
}

// Upsert stores a copy of the record, replacing any entry with the same
// normalized address. Lookup-and-update, never blind-append: merging results
// back after a resume cannot create duplicate entries.
func (s *PropertyStore) Upsert(rec *model.PropertyRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := rec.Clone()
	if _, exists := s.byKey[clone.Normalized]; !exists {
		s.order = append(s.order, clone.Normalized)
	}
	s.byKey[clone.Normalized] = clone
}

// All returns copies of every record in disk order.
func (s *PropertyStore) All() []*model.PropertyRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.PropertyRecord, 0, len(s.order))
	for _, key := range s.order {
		out = append(out, s.byKey[key].Clone())
	}
	return out
}

// Len returns the number of stored properties.
func (s *PropertyStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Save persists the collection: backup of the prior file, then atomic
// replace. Only the controlling process calls this.
func (s *PropertyStore) Save() error {
	s.mu.RLock()
	file := propertyFile{Version: propertyFileVersion}
	for _, key := range s.order {
		file.Properties = append(file.Properties, toDisk(s.byKey[key]))
	}
	s.mu.RUnlock()

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return eris.Wrap(err, "store: marshal property file")
	}
	return saveWithBackup(s.path, data, time.Now())
}

// toDisk groups lineage into per-source sections for the on-disk layout.
func toDisk(rec *model.PropertyRecord) diskProperty {
	dp := diskProperty{
		Address:     rec.FullAddress,
		Normalized:  rec.Normalized,
		Fields:      rec.Fields,
		Extra:       rec.Extra,
		Staged:      rec.Staged,
		LastUpdated: rec.LastUpdated,
		LastSync:    rec.LastSync,
	}
	if len(rec.History) > 0 {
		dp.Sources = make(map[string]map[string][]model.FieldValue)
		for field, lineage := range rec.History {
			for _, fv := range lineage {
				section := dp.Sources[fv.Source]
				if section == nil {
					section = make(map[string][]model.FieldValue)
					dp.Sources[fv.Source] = section
				}
				section[field] = append(section[field], fv)
			}
		}
	}
	return dp
}

// fromDisk rebuilds per-field lineage from the per-source sections, ordered
// by observation time.
func fromDisk(dp diskProperty) *model.PropertyRecord {
	rec := &model.PropertyRecord{
		FullAddress: dp.Address,
		Normalized:  dp.Normalized,
		Fields:      dp.Fields,
		History:     make(map[string][]model.FieldValue),
		Extra:       dp.Extra,
		Staged:      dp.Staged,
		LastUpdated: dp.LastUpdated,
		LastSync:    dp.LastSync,
	}
	if rec.Normalized == "" {
		rec.Normalized = model.NormalizeAddress(dp.Address)
	}
	if rec.Fields == nil {
		rec.Fields = make(map[string]model.FieldValue)
	}
	for _, section := range dp.Sources {
		for field, lineage := range section {
			rec.History[field] = append(rec.History[field], lineage...)
		}
	}
	for field := range rec.History {
		lineage := rec.History[field]
		// Sections iterate in map order, so equal timestamps need a
		// deterministic tie-break to keep history stable across loads.
		sort.SliceStable(lineage, func(i, j int) bool {
			if !lineage[i].ObservedAt.Equal(lineage[j].ObservedAt) {
				return lineage[i].ObservedAt.Before(lineage[j].ObservedAt)
			}
			pi, pj := model.SourcePrecedence(lineage[i].Source), model.SourcePrecedence(lineage[j].Source)
			if pi != pj {
				return pi < pj
			}
			return lineage[i].Source < lineage[j].Source
		})
	}
	return rec
}

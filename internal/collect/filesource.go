package collect

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"

	"github.com/bananahana720/PHX-houses-Dec-2025-sub000/internal/model"
)

// FileSource reads fragments that external collaborators drop into an inbox
// directory, one JSON file per property under a per-source subdirectory:
//
//	<dir>/<source>/<normalized-address>.json
//
// A missing file means the collaborator found nothing for the address.
type FileSource struct {
	dir    string
	source string
}

// NewFileSource creates a file-backed source for the given provenance
// identifier.
func NewFileSource(dir, source string) *FileSource {
	return &FileSource{dir: dir, source: source}
}

func (f *FileSource) Name() string { return f.source }

// fileFragment is the drop-file shape: recognized fields plus anything else
// the collaborator included.
type fileFragment struct {
	Fields map[string]model.FieldValue `json:"fields"`
	Extra  map[string]any              `json:"extra,omitempty"`
}

// Fetch loads the fragment file for an address. The source on every field
// value is forced to this source's identifier; collaborators cannot claim
// someone else's provenance.
func (f *FileSource) Fetch(ctx context.Context, address string) (Fragment, error) {
	if err := ctx.Err(); err != nil {
		return Fragment{}, err
	}

	path := filepath.Join(f.dir, f.source, model.NormalizeAddress(address)+".json")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Fragment{Source: f.source, NotFound: true}, nil
	}
	if err != nil {
		return Fragment{}, eris.Wrapf(err, "collect: read fragment %s", path)
	}

	var ff fileFragment
	if err := json.Unmarshal(data, &ff); err != nil {
		return Fragment{}, eris.Wrapf(err, "collect: parse fragment %s", path)
	}

	frag := Fragment{
		Source: f.source,
		Fields: make(map[string]model.FieldValue, len(ff.Fields)),
		Extra:  ff.Extra,
	}
	for name, fv := range ff.Fields {
		fv.Source = f.source
		frag.Fields[name] = fv
	}
	return frag, nil
}

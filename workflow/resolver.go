package workflow

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
)

// ErrSubflowNotFound is returned when a subflow reference does not name a readable file.
var ErrSubflowNotFound = errors.New("subflow not found")

// FileResolver resolves subflow references as document paths relative to a base
// directory.
type FileResolver struct {
	dir string
}

func NewFileResolver(dir string) *FileResolver {
	return &FileResolver{dir: dir}
}

func (r *FileResolver) Resolve(ctx context.Context, ref string) (*Definition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p := ref
	if !filepath.IsAbs(p) {
		p = filepath.Join(r.dir, p)
	}

	if ext := strings.ToLower(filepath.Ext(p)); ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("subflow %q: expected a .yaml or .yml document", ref)
	}

	d, err := ParseFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %q", ErrSubflowNotFound, ref)
		}

		return nil, err
	}

	return d, nil
}

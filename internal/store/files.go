package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/jonathan/docpipeline/internal/types"
)

// PutFiles stores every file as a blob and returns the matching payload refs sorted by path
func PutFiles(ctx context.Context, s ArtifactStore, files map[string][]byte) ([]types.PayloadRef, error) {
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	refs := make([]types.PayloadRef, 0, len(paths))
	for _, p := range paths {
		digest, err := s.PutBlob(ctx, files[p])
		if err != nil {
			return nil, fmt.Errorf("failed to store %s: %w", p, err)
		}
		refs = append(refs, types.PayloadRef{
			Path:   p,
			Kind:   types.KindForPath(p),
			Digest: digest,
			Size:   int64(len(files[p])),
		})
	}
	return refs, nil
}

// ReadFiles loads every payload of a unit keyed by path
func ReadFiles(ctx context.Context, s ArtifactStore, unit *types.ContentUnit) (map[string][]byte, error) {
	files := make(map[string][]byte, len(unit.Payloads))
	for _, ref := range unit.Payloads {
		data, err := s.GetBlob(ctx, ref.Digest)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s of %s: %w", ref.Path, unit.VersionID, err)
		}
		files[ref.Path] = data
	}
	return files, nil
}

// Export materializes a unit's files under dir
func Export(ctx context.Context, s ArtifactStore, unit *types.ContentUnit, dir string) error {
	files, err := ReadFiles(ctx, s, unit)
	if err != nil {
		return err
	}
	for p, data := range files {
		target := filepath.Join(dir, filepath.FromSlash(p))
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return fmt.Errorf("failed to create export directory: %w", err)
		}
		if err := os.WriteFile(target, data, 0644); err != nil {
			return fmt.Errorf("failed to export %s: %w", p, err)
		}
	}
	return nil
}

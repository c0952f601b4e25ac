package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonathan/docpipeline/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func backends(t *testing.T) map[string]Store {
	t.Helper()
	fileStore, err := NewFileStore(t.TempDir(), WithClock(func() time.Time { return fixedTime }))
	require.NoError(t, err)
	return map[string]Store{
		"memory": NewMemoryStore(WithClock(func() time.Time { return fixedTime })),
		"file":   fileStore,
	}
}

func commitFiles(t *testing.T, s Store, runID, version, parent string, seq int, files map[string][]byte) *types.ContentUnit {
	t.Helper()
	ctx := context.Background()
	refs, err := PutFiles(ctx, s, files)
	require.NoError(t, err)
	unit := &types.ContentUnit{
		RunID:      runID,
		VersionID:  version,
		Sequence:   seq,
		StageName:  "stage",
		Parent:     parent,
		Payloads:   refs,
		ProducedBy: "test",
	}
	_, err = s.Commit(ctx, unit)
	require.NoError(t, err)
	return unit
}

func TestStore_CommitAndGet(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			commitFiles(t, s, "run-1", "v0_original", "", 0, map[string][]byte{
				"sections/introduction.md": []byte("# Intro"),
				"tables/results.csv":       []byte("a,b\n1,2\n"),
			})

			got, err := s.Get(ctx, "run-1", "v0_original")
			require.NoError(t, err)
			assert.Equal(t, "v0_original", got.VersionID)
			assert.Equal(t, fixedTime, got.CreatedAt.UTC())
			assert.Len(t, got.Payloads, 2)

			files, err := ReadFiles(ctx, s, got)
			require.NoError(t, err)
			assert.Equal(t, "# Intro", string(files["sections/introduction.md"]))
		})
	}
}

func TestStore_DuplicateVersion(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			unit := commitFiles(t, s, "run-1", "v0_original", "", 0, map[string][]byte{"a.md": []byte("a")})

			_, err := s.Commit(ctx, unit)
			var dup *DuplicateVersionError
			require.True(t, errors.As(err, &dup), "expected DuplicateVersionError, got %v", err)
			assert.Equal(t, "v0_original", dup.VersionID)

			manifest, err := s.Manifest(ctx, "run-1")
			require.NoError(t, err)
			assert.Len(t, manifest, 1)
		})
	}
}

func TestStore_GetNotFound(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get(context.Background(), "run-x", "v9_missing")
			var nf *NotFoundError
			require.True(t, errors.As(err, &nf))
			assert.Equal(t, "v9_missing", nf.Key)

			_, err = s.GetBlob(context.Background(), Digest([]byte("never stored")))
			assert.True(t, errors.As(err, &nf))
		})
	}
}

func TestStore_LineageRules(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			commitFiles(t, s, "run-1", "v0_original", "", 0, map[string][]byte{"a.md": []byte("a")})
			refs, err := PutFiles(ctx, s, map[string][]byte{"a.md": []byte("b")})
			require.NoError(t, err)

			var lineage *LineageError
			_, err = s.Commit(ctx, &types.ContentUnit{RunID: "run-1", VersionID: "v0_again", Sequence: 0, Parent: "v0_original", Payloads: refs})
			assert.True(t, errors.As(err, &lineage), "sequence must increase")

			_, err = s.Commit(ctx, &types.ContentUnit{RunID: "run-1", VersionID: "v1_orphan", Sequence: 1, Payloads: refs})
			assert.True(t, errors.As(err, &lineage), "non-first unit needs a parent")

			var nf *NotFoundError
			_, err = s.Commit(ctx, &types.ContentUnit{RunID: "run-1", VersionID: "v1_x", Sequence: 1, Parent: "v7_ghost", Payloads: refs})
			assert.True(t, errors.As(err, &nf), "parent must exist")

			_, err = s.Commit(ctx, &types.ContentUnit{RunID: "run-1", VersionID: "v1_ok", Sequence: 1, Parent: "v0_original", Payloads: refs})
			assert.NoError(t, err)
		})
	}
}

func TestStore_CommitRejectsUnknownBlob(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			unit := &types.ContentUnit{
				RunID:     "run-1",
				VersionID: "v0_original",
				Payloads:  []types.PayloadRef{{Path: "a.md", Digest: Digest([]byte("not stored"))}},
			}
			_, err := s.Commit(context.Background(), unit)
			var nf *NotFoundError
			assert.True(t, errors.As(err, &nf))
		})
	}
}

func TestStore_ConcurrentCommitsAcrossRuns(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			const runs = 8
			const versions = 5

			var wg sync.WaitGroup
			errs := make(chan error, runs*versions)
			for r := 0; r < runs; r++ {
				wg.Add(1)
				go func(r int) {
					defer wg.Done()
					runID := fmt.Sprintf("run-%d", r)
					parent := ""
					for v := 0; v < versions; v++ {
						refs, err := PutFiles(ctx, s, map[string][]byte{"doc.md": []byte(fmt.Sprintf("%d-%d", r, v))})
						if err != nil {
							errs <- err
							return
						}
						version := fmt.Sprintf("v%d_stage", v)
						if _, err := s.Commit(ctx, &types.ContentUnit{RunID: runID, VersionID: version, Sequence: v, Parent: parent, Payloads: refs}); err != nil {
							errs <- err
							return
						}
						parent = version
					}
				}(r)
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				t.Fatalf("commit failed: %v", err)
			}

			for r := 0; r < runs; r++ {
				manifest, err := s.Manifest(ctx, fmt.Sprintf("run-%d", r))
				require.NoError(t, err)
				require.Len(t, manifest, versions)
				for i, u := range manifest {
					assert.Equal(t, i, u.Sequence)
				}
			}
		})
	}
}

func TestStore_LedgerRoundTrip(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.AppendTrajectory(ctx, types.TrajectoryEntry{RunID: "run-1", Stage: "content_review", Attempt: 1, Score: types.QualityScore{Score: 70}, Decision: types.DecisionRetry}))
			require.NoError(t, s.AppendTrajectory(ctx, types.TrajectoryEntry{RunID: "run-1", Stage: "content_review", Attempt: 2, Score: types.QualityScore{Score: 88}, Decision: types.DecisionPass}))
			require.NoError(t, s.AppendChange(ctx, types.ChangeRecord{RunID: "run-1", ToVersion: "v0_original", Changes: map[string]types.ChangeKind{"a.md": types.ChangeAdded}}))

			traj, err := s.Trajectory(ctx, "run-1")
			require.NoError(t, err)
			require.Len(t, traj, 2)
			assert.Equal(t, 88.0, traj[1].Score.Score)

			changes, err := s.Changes(ctx, "run-1")
			require.NoError(t, err)
			require.Len(t, changes, 1)
			assert.Equal(t, types.ChangeAdded, changes[0].Changes["a.md"])

			run := types.NewPipelineRun("run-1", "src", []string{"content_review"}, fixedTime)
			require.NoError(t, s.SaveRun(ctx, run))
			loaded, err := s.LoadRun(ctx, "run-1")
			require.NoError(t, err)
			assert.Equal(t, types.StatusRunning, loaded.Status)
			assert.Equal(t, []string{"content_review"}, loaded.Stages)

			_, err = s.LoadRun(ctx, "run-missing")
			var nf *NotFoundError
			assert.True(t, errors.As(err, &nf))

			ids, err := s.ListRuns(ctx)
			require.NoError(t, err)
			assert.Contains(t, ids, "run-1")
		})
	}
}

func TestDigest(t *testing.T) {
	d := Digest([]byte("hello"))
	assert.True(t, validDigest(d))
	assert.Equal(t, d, Digest([]byte("hello")))
	assert.NotEqual(t, d, Digest([]byte("hello!")))
	assert.False(t, validDigest("sha256-abc"))
}

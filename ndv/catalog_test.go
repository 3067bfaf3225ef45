package ndv

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drunlade/go-ndv/internal/ndvtest"
	"github.com/drunlade/go-ndv/pal"
)

// libraryChunk returns a reply with n libraries named after offset.
func libraryChunk(offset, n, notify int) ndvtest.Handler {
	recs := make([]pal.Record, 0, n+1)
	for i := range n {
		recs = append(recs, &pal.Library{Name: fmt.Sprintf("LIB%03d", offset+i)})
	}
	recs = append(recs, &pal.Notify{Code: notify})
	return ndvtest.Reply(recs...)
}

func TestListLibrariesInChunks(t *testing.T) {
	srv := ndvtest.NewServer(t)
	s := connect(t, srv)
	ctx := context.Background()

	var events []EventType
	s.callbacks.OnEvent = func(e Event) { events = append(events, e.Type) }

	srv.Script(
		ndvtest.Reply(&pal.Generic{Data: 250}, &pal.Notify{Code: pal.NotifyMore}),
		libraryChunk(0, 50, pal.NotifyMore),
		libraryChunk(50, 50, pal.NotifyMore),
		libraryChunk(100, 50, pal.NotifyMore),
		libraryChunk(150, 50, pal.NotifyMore),
		libraryChunk(200, 50, pal.NotifyEnd),
	)

	libs, err := s.ListLibrariesFirst(ctx, testSystemFile, "*")
	require.NoError(t, err)
	require.Len(t, libs, 50)
	assert.Equal(t, "LIB000", libs[0].Name)
	assert.Equal(t, 250, s.RetrievalHint())
	assert.Equal(t, RetrievalLibraries, s.Retrieval())

	start := srv.Requests()[0]
	assert.Equal(t, opLibraries, start.Operation().Code)
	assert.Equal(t, pal.NotifyStart, start.Notify())
	ids := records[*pal.LibID](t, start, pal.TagLibIDSearchOrder)
	require.Len(t, ids, 1)
	assert.Equal(t, "*", ids[0].Library)
	assert.Equal(t, pal.NotifyContinue, srv.Last().Notify())

	total := len(libs)
	for range 4 {
		libs, err = s.ListLibrariesNext(ctx)
		require.NoError(t, err)
		require.Len(t, libs, 50)
		total += len(libs)
	}
	assert.Equal(t, 250, total)
	assert.Equal(t, "LIB249", libs[49].Name)
	assert.Equal(t, RetrievalIdle, s.Retrieval())
	assert.Len(t, srv.Requests(), 6)
	assert.Equal(t, 0, srv.Pending())
	assert.Contains(t, events, EventRetrievalStarted)
	assert.Contains(t, events, EventRetrievalEnded)

	_, err = s.ListLibrariesNext(ctx)
	assert.True(t, IsKind(err, KindIllegalState))
}

func TestSecondListingIsIllegal(t *testing.T) {
	srv := ndvtest.NewServer(t)
	s := connect(t, srv)
	ctx := context.Background()

	srv.Script(
		ndvtest.Reply(&pal.Generic{Data: 100}, &pal.Notify{Code: pal.NotifyMore}),
		libraryChunk(0, 50, pal.NotifyMore),
	)
	_, err := s.ListLibrariesFirst(ctx, testSystemFile, "A*")
	require.NoError(t, err)

	_, err = s.ListLibrariesFirst(ctx, testSystemFile, "B*")
	assert.True(t, IsKind(err, KindIllegalState))
	_, err = s.ListObjectsFirst(ctx, testSystemFile, ObjectQuery{Library: "A", Filter: "*", Kind: SourceOrGP, Type: TypeAll})
	assert.True(t, IsKind(err, KindIllegalState))
	_, err = s.ListObjectsNext(ctx)
	assert.True(t, IsKind(err, KindIllegalState))
	assert.Len(t, srv.Requests(), 2)
}

func TestTerminateRetrieval(t *testing.T) {
	srv := ndvtest.NewServer(t)
	s := connect(t, srv)
	ctx := context.Background()

	srv.Script(
		ndvtest.Reply(&pal.Generic{Data: 100}, &pal.Notify{Code: pal.NotifyMore}),
		libraryChunk(0, 50, pal.NotifyMore),
		ndvtest.Reply(),
	)
	_, err := s.ListLibrariesFirst(ctx, testSystemFile, "*")
	require.NoError(t, err)
	require.NoError(t, s.TerminateRetrieval(ctx))
	assert.Equal(t, pal.NotifyTerminate, srv.Last().Notify())
	assert.Equal(t, RetrievalIdle, s.Retrieval())

	assert.True(t, IsKind(s.TerminateRetrieval(ctx), KindIllegalState))
}

func TestTerminateAfterLastChunkSendsNothing(t *testing.T) {
	srv := ndvtest.NewServer(t)
	s := connect(t, srv)
	ctx := context.Background()

	srv.Script(
		ndvtest.Reply(&pal.Generic{Data: 3}, &pal.Notify{Code: pal.NotifyMore}),
		libraryChunk(0, 3, pal.NotifyEnd),
	)
	libs, err := s.ListLibrariesFirst(ctx, testSystemFile, "*")
	require.NoError(t, err)
	assert.Len(t, libs, 3)
	assert.Equal(t, RetrievalIdle, s.Retrieval())
	assert.Len(t, srv.Requests(), 2)
}

func TestNumberOfLibraries(t *testing.T) {
	srv := ndvtest.NewServer(t)
	s := connect(t, srv)

	srv.Script(
		ndvtest.Reply(&pal.Generic{Data: 120}, &pal.Notify{Code: pal.NotifyMore}),
		libraryChunk(0, 50, pal.NotifyMore),
		ndvtest.Reply(),
	)
	n, err := s.NumberOfLibraries(context.Background(), testSystemFile, "*")
	require.NoError(t, err)
	assert.Equal(t, 120, n)
	assert.Equal(t, RetrievalIdle, s.Retrieval())
	assert.Equal(t, pal.NotifyTerminate, srv.Last().Notify())
}

func TestListLibrariesValidates(t *testing.T) {
	s := connect(t, ndvtest.NewServer(t))
	ctx := context.Background()

	_, err := s.ListLibrariesFirst(ctx, testSystemFile, "")
	assert.True(t, IsKind(err, KindInvalidArgument))
	_, err = s.ListLibrariesFirst(ctx, nil, "*")
	assert.True(t, IsKind(err, KindInvalidArgument))
}

func TestListObjectsNoObjects(t *testing.T) {
	srv := ndvtest.NewServer(t)
	s := connect(t, srv)

	srv.Script(ndvtest.Reply(&pal.Result{Natural: resultNoObjects}))
	objs, err := s.ListObjectsFirst(context.Background(), testSystemFile,
		ObjectQuery{Library: "EMPTY", Filter: "*", Kind: SourceOrGP, Type: TypeAll})
	require.NoError(t, err)
	assert.Empty(t, objs)
	assert.Equal(t, RetrievalIdle, s.Retrieval())

	req := srv.Last()
	assert.Equal(t, &pal.Operation{Code: opObjects, SubKey: 3}, stripIDs(req.Operation()))
	descs := records[*pal.ObjDesc](t, req, pal.TagObjDesc2)
	require.Len(t, descs, 1)
	assert.Equal(t, "*", descs[0].Name)
	assert.Equal(t, SourceOrGP, descs[0].Kind)
}

func TestValidateObjectQuery(t *testing.T) {
	tests := []struct {
		name string
		q    ObjectQuery
		ok   bool
	}{
		{"valid", ObjectQuery{Library: "L", Filter: "*", Kind: Source, Type: TypeAll}, true},
		{"negative kind", ObjectQuery{Library: "L", Filter: "*", Kind: -1, Type: TypeAll}, false},
		{"unknown type", ObjectQuery{Library: "L", Filter: "*", Kind: Source, Type: 0x7fff}, false},
		{"error messages need all", ObjectQuery{Library: "L", Filter: "*", Kind: ErrorMessage, Type: TypeProgram.ID}, false},
		{"ddm resource", ObjectQuery{Filter: "*", Kind: Resource, Type: TypeDDM.ID}, false},
		{"ddm without library", ObjectQuery{Filter: "*", Kind: Source, Type: TypeDDM.ID}, true},
		{"empty filter", ObjectQuery{Library: "L", Kind: Source, Type: TypeAll}, false},
		{"empty library", ObjectQuery{Filter: "*", Kind: Source, Type: TypeAll}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateObjectQuery(tt.q)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.True(t, IsKind(err, KindInvalidArgument), "got %v", err)
			}
		})
	}
}

func TestObjectIteratorDedupesOnMainframe(t *testing.T) {
	srv := ndvtest.NewServer(t, ndvtest.Mainframe())
	s := connect(t, srv)

	srv.Script(
		ndvtest.Reply(&pal.Generic{Data: 4}, &pal.Notify{Code: pal.NotifyMore}),
		ndvtest.Reply(
			&pal.Object{Name: "PGM1", NatType: TypeProgram.ID},
			&pal.Object{Name: "PGM2", NatType: TypeProgram.ID},
			&pal.Notify{Code: pal.NotifyMore},
		),
		ndvtest.Reply(
			&pal.Object{Name: "PGM2", NatType: TypeProgram.ID},
			&pal.Notify{Code: pal.NotifyMore},
		),
		ndvtest.Reply(
			&pal.Object{Name: "PGM3", NatType: TypeProgram.ID},
			&pal.Notify{Code: pal.NotifyEnd},
		),
	)
	it := s.Objects(testSystemFile, ObjectQuery{Library: "LIB", Filter: "PGM*;PGM2", Kind: SourceOrGP, Type: TypeAll})
	objs, err := it.All(context.Background())
	require.NoError(t, err)

	var names []string
	for _, o := range objs {
		names = append(names, o.Name)
	}
	assert.Equal(t, []string{"PGM1", "PGM2", "PGM3"}, names)
	assert.Equal(t, RetrievalIdle, s.Retrieval())
	require.NoError(t, it.Close(context.Background()))
}

func TestListObjectsNextDedupedChunkKeepsListing(t *testing.T) {
	srv := ndvtest.NewServer(t, ndvtest.Mainframe())
	s := connect(t, srv)
	ctx := context.Background()

	srv.Script(
		ndvtest.Reply(&pal.Generic{Data: 3}, &pal.Notify{Code: pal.NotifyMore}),
		ndvtest.Reply(
			&pal.Object{Name: "PGM1", NatType: TypeProgram.ID},
			&pal.Object{Name: "PGM2", NatType: TypeProgram.ID},
			&pal.Notify{Code: pal.NotifyMore},
		),
		ndvtest.Reply(
			&pal.Object{Name: "PGM2", NatType: TypeProgram.ID},
			&pal.Notify{Code: pal.NotifyMore},
		),
		ndvtest.Reply(
			&pal.Object{Name: "PGM3", NatType: TypeProgram.ID},
			&pal.Notify{Code: pal.NotifyEnd},
		),
	)
	q := ObjectQuery{Library: "LIB", Filter: "PGM*;PGM2", Kind: SourceOrGP, Type: TypeAll}
	objs, err := s.ListObjectsFirst(ctx, testSystemFile, q)
	require.NoError(t, err)
	assert.Len(t, objs, 2)
	assert.Equal(t, 3, s.RetrievalHint())

	objs, err = s.ListObjectsNext(ctx)
	require.NoError(t, err)
	assert.Empty(t, objs)
	assert.Equal(t, RetrievalObjects, s.Retrieval())

	objs, err = s.ListObjectsNext(ctx)
	require.NoError(t, err)
	require.Len(t, objs, 1)
	assert.Equal(t, "PGM3", objs[0].Name)
	assert.Equal(t, RetrievalIdle, s.Retrieval())
	assert.Len(t, srv.Requests(), 4)
}

func TestLibraryIteratorClose(t *testing.T) {
	srv := ndvtest.NewServer(t)
	s := connect(t, srv)
	ctx := context.Background()

	srv.Script(
		ndvtest.Reply(&pal.Generic{Data: 100}, &pal.Notify{Code: pal.NotifyMore}),
		libraryChunk(0, 50, pal.NotifyMore),
		ndvtest.Reply(),
	)
	it := s.Libraries(testSystemFile, "*")
	assert.Empty(t, srv.Requests(), "nothing is sent before Next")
	require.True(t, it.Next(ctx))
	assert.Len(t, it.Chunk(), 50)
	require.NoError(t, it.Close(ctx))
	assert.False(t, it.Next(ctx))
	assert.Equal(t, pal.NotifyTerminate, srv.Last().Notify())
}

func TestExistsTerminatesListing(t *testing.T) {
	srv := ndvtest.NewServer(t)
	s := connect(t, srv)

	srv.Script(
		ndvtest.Reply(&pal.Generic{Data: 1}, &pal.Notify{Code: pal.NotifyMore}),
		ndvtest.Reply(&pal.Object{Name: "PGM1", NatType: TypeProgram.ID}, &pal.Notify{Code: pal.NotifyMore}),
		ndvtest.Reply(),
	)
	ok, err := s.Exists(context.Background(), testSystemFile, "LIB", "PGM1", SourceOrGP)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, RetrievalIdle, s.Retrieval())
	assert.Equal(t, pal.NotifyTerminate, srv.Last().Notify())
}

func TestLibraryStatistics(t *testing.T) {
	srv := ndvtest.NewServer(t)
	s := connect(t, srv)

	srv.Script(ndvtest.Reply(&pal.LibraryStatistics{}))
	stats, err := s.LibraryStatistics(context.Background(), testSystemFile, "LIB", StatisticsOptions{Rebuild: true, LinkedDDMs: true})
	require.NoError(t, err)
	require.NotNil(t, stats)
	assert.Equal(t, &pal.Operation{Code: opStatistics, SubKey: 5 | 16}, stripIDs(srv.Last().Operation()))
}

func TestIsLibraryEmpty(t *testing.T) {
	srv := ndvtest.NewServer(t)
	s := connect(t, srv)
	ctx := context.Background()

	srv.Script(ndvtest.Reply(&pal.Result{Natural: resultNoObjects}), ndvtest.Reply())
	empty, err := s.IsLibraryEmpty(ctx, testSystemFile, "LIB")
	require.NoError(t, err)
	assert.True(t, empty)

	empty, err = s.IsLibraryEmpty(ctx, testSystemFile, "LIB")
	require.NoError(t, err)
	assert.False(t, empty)
}

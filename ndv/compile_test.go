package ndv

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drunlade/go-ndv/internal/ndvtest"
	"github.com/drunlade/go-ndv/pal"
)

func TestStowReportsCompileError(t *testing.T) {
	srv := ndvtest.NewServer(t)
	s := connect(t, srv)

	srv.Script(ndvtest.Reply(
		&pal.Result{Natural: 1234},
		&pal.ResultEx{ShortText: "Invalid statement", Row: 2, Column: 7},
		&pal.TimeStamp{Stamp: "202403041011", User: "DEV"},
	))
	fp := &FileProperties{Name: "PGM1", Type: TypeProgram.ID, LineIncrement: 10, TimeStamp: EmptyTimeStamp()}
	err := s.Stow(context.Background(), testSystemFile, "LIB", fp, []string{"WRITE 'A'", "WRTE 'B'", "END"})
	require.Error(t, err)

	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, KindCompile, ce.Err.Kind)
	assert.Equal(t, 1234, ce.Err.Number)
	assert.Equal(t, 2, ce.Row)
	assert.Equal(t, 7, ce.Column)
	assert.Equal(t, "PGM1", ce.Object)
	assert.Equal(t, "LIB", ce.Library)
	assert.Equal(t, 10, ce.DBID)
	assert.True(t, IsNumber(err, 1234))
	assert.Equal(t, 3, fp.TimeStamp.Month, "the stamp is updated also when compiling fails")

	req := srv.Last()
	assert.Equal(t, &pal.Operation{Code: opCommand, SubKey: subCommandSource}, stripIDs(req.Operation()))
	assert.Equal(t, "STOW", records[*pal.Stack](t, req, pal.TagStack)[0].Command)
	srcs := records[*pal.Source](t, req, pal.TagSourceUnicode)
	require.Len(t, srcs, 3)
	assert.Equal(t, "0020 WRTE 'B' ", srcs[1].Line)
	descs := records[*pal.SrcDesc](t, req, pal.TagSrcDesc)
	require.Len(t, descs, 1)
	assert.Equal(t, "PGM1", descs[0].Name)
	assert.Equal(t, TypeProgram.ID, descs[0].NatType)
}

func TestCatalogStoredSource(t *testing.T) {
	srv := ndvtest.NewServer(t)
	s := connect(t, srv)

	srv.Script(ndvtest.Reply())
	require.NoError(t, s.Catalog(context.Background(), testSystemFile, "LIB",
		&FileProperties{Name: "PGM1", Type: TypeProgram.ID, BaseLibrary: "BASE"}, nil))

	req := srv.Last()
	assert.Equal(t, subCommandStored, req.Operation().SubKey)
	assert.False(t, req.Has(pal.TagSourceUnicode))
	assert.Equal(t, "CAT", records[*pal.Stack](t, req, pal.TagStack)[0].Command)
	base := records[*pal.LibID](t, req, pal.TagLibIDSearchOrder)
	require.Len(t, base, 1)
	assert.Equal(t, "BASE", base[0].Library)
}

func TestSaveUsesSaveSubKey(t *testing.T) {
	srv := ndvtest.NewServer(t)
	s := connect(t, srv)

	srv.Script(ndvtest.Reply())
	require.NoError(t, s.Save(context.Background(), testSystemFile, "LIB",
		&FileProperties{Name: "LDA1", Type: TypeLDA.ID, OldDataArea: true}, []string{"1 #A (A10)"}))

	req := srv.Last()
	assert.Equal(t, subCommandSave, req.Operation().SubKey)
	descs := records[*pal.SrcDesc](t, req, pal.TagSrcDesc)
	assert.Equal(t, pal.FileOptionOldDataArea, descs[0].Options)
}

func TestCheckOmitsDDMLocation(t *testing.T) {
	srv := ndvtest.NewServer(t)
	s := connect(t, srv)

	srv.Script(ndvtest.Reply(), ndvtest.Reply())
	fp := &FileProperties{Name: "EMP", LongName: "EMPLOYEES", Type: TypeDDM.ID, DBID: 12, FNR: 40}
	require.NoError(t, s.Check(context.Background(), testSystemFile, "LIB", fp, []string{"T L DB Name"}))
	assert.Zero(t, records[*pal.SrcDesc](t, srv.Last(), pal.TagSrcDesc)[0].DBID)

	require.NoError(t, s.Catalog(context.Background(), testSystemFile, "LIB", fp, []string{"T L DB Name"}))
	descs := records[*pal.SrcDesc](t, srv.Last(), pal.TagSrcDesc)
	assert.Equal(t, "EMPLOYEES", descs[0].Name)
	assert.Equal(t, 12, descs[0].DBID)
	assert.Equal(t, 40, descs[0].FNR)
}

func TestCompileValidates(t *testing.T) {
	s := connect(t, ndvtest.NewServer(t))
	ctx := context.Background()

	assert.True(t, IsKind(s.Stow(ctx, nil, "LIB", &FileProperties{Name: "P", Type: TypeProgram.ID}, nil), KindInvalidArgument))
	assert.True(t, IsKind(s.Stow(ctx, testSystemFile, "LIB", nil, nil), KindInvalidArgument))
	assert.True(t, IsKind(s.Stow(ctx, testSystemFile, "LIB", &FileProperties{Name: "P", Type: 3}, nil), KindInvalidArgument))
	assert.True(t, IsKind(s.Stow(ctx, testSystemFile, "LIB", &FileProperties{Name: "P", Type: TypeDDM.ID}, nil), KindInvalidArgument))
}

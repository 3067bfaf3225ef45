package ndv

import (
	"context"
	"slices"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/drunlade/go-ndv/pal"
)

// RetrievalKind is the listing a session is in the middle of.
type RetrievalKind int

const (
	RetrievalIdle RetrievalKind = iota
	RetrievalLibraries
	RetrievalObjects
)

func (k RetrievalKind) String() string {
	switch k {
	case RetrievalIdle:
		return "idle"
	case RetrievalLibraries:
		return "libraries"
	case RetrievalObjects:
		return "objects"
	default:
		return "unknown"
	}
}

// retrieval tracks an active listing. notify is the last notify code the
// server replied with.
type retrieval struct {
	kind   RetrievalKind
	notify int
	hint   int
	dedupe bool
	seen   map[string]struct{}
}

// keep reports whether key has not been returned by the listing yet.
func (r *retrieval) keep(key string) bool {
	if !r.dedupe {
		return true
	}
	if _, ok := r.seen[key]; ok {
		return false
	}
	r.seen[key] = struct{}{}
	return true
}

// Retrieval returns the kind of the active listing.
func (s *Session) Retrieval() RetrievalKind { return s.retrieval.kind }

// RetrievalHint returns the count hint the server sent when the active
// listing started.
func (s *Session) RetrievalHint() int { return s.retrieval.hint }

func (s *Session) beginRetrieval(kind RetrievalKind, filter string) error {
	if s.retrieval.kind != RetrievalIdle {
		return illegalState("a " + s.retrieval.kind.String() + " retrieval is still active")
	}
	s.retrieval = retrieval{kind: kind}
	if s.props != nil && s.props.Platform.IsMainframe() && strings.Contains(filter, ";") {
		s.retrieval.dedupe = true
		s.retrieval.seen = make(map[string]struct{})
	}
	s.event(EventRetrievalStarted, kind.String(), 0)
	return nil
}

func (s *Session) endRetrieval() {
	if s.retrieval.kind != RetrievalIdle {
		s.event(EventRetrievalEnded, s.retrieval.kind.String(), 0)
	}
	s.retrieval = retrieval{}
}

// countHint returns the hint of the last reply and whether more chunks
// are pending.
func (s *Session) countHint() (int, bool, error) {
	n, err := first[*pal.Notify](s, pal.TagNotify)
	if err != nil {
		return 0, false, err
	}
	g, err := first[*pal.Generic](s, pal.TagGeneric)
	if err != nil {
		return 0, false, err
	}
	if g == nil {
		return 0, false, nil
	}
	return g.Data, n != nil && g.Data > 0, nil
}

// notifyContinue asks for the next chunk and records the notify code the
// server answered with. A reply without notify ends the listing.
func (s *Session) notifyContinue(ctx context.Context) error {
	if err := s.send(ctx, &pal.Notify{Code: pal.NotifyContinue}); err != nil {
		return err
	}
	n, err := first[*pal.Notify](s, pal.TagNotify)
	if err != nil {
		return err
	}
	if n == nil {
		s.retrieval.notify = pal.NotifyEnd
	} else {
		s.retrieval.notify = n.Code
	}
	return nil
}

// ListLibrariesFirst starts a library listing and returns the first chunk.
// The listing stays active until the server reports its end or
// TerminateRetrieval is called.
func (s *Session) ListLibrariesFirst(ctx context.Context, sf *SystemFile, filter string) (libs []*Library, err error) {
	if err := s.requireConnected(); err != nil {
		return nil, err
	}
	if filter == "" {
		return nil, invalidArgument("filter must not be empty")
	}
	if sf == nil {
		return nil, invalidArgument("system file must not be nil")
	}
	if err := s.beginRetrieval(RetrievalLibraries, filter); err != nil {
		return nil, err
	}
	ctx, end := s.start(ctx, "list_libraries", attribute.String("ndv.filter", filter))
	defer end(&err)
	defer s.finishChunk(&err)

	if err := s.call(ctx,
		&pal.Operation{Code: opLibraries},
		libID(sf, filter, pal.TagLibIDSearchOrder),
		&pal.Notify{Code: pal.NotifyStart},
	); err != nil {
		return nil, err
	}
	hint, more, err := s.countHint()
	if err != nil {
		return nil, err
	}
	s.retrieval.hint = hint
	return s.nextLibraries(ctx, more)
}

// ListLibrariesNext returns the next chunk of the active library listing.
func (s *Session) ListLibrariesNext(ctx context.Context) (libs []*Library, err error) {
	if err := s.requireConnected(); err != nil {
		return nil, err
	}
	if s.retrieval.kind != RetrievalLibraries {
		return nil, illegalState("ListLibrariesNext called without an active library listing")
	}
	ctx, end := s.start(ctx, "list_libraries_next")
	defer end(&err)
	defer s.finishChunk(&err)

	for s.retrieval.notify != pal.NotifyEnd {
		libs, err = s.nextLibraries(ctx, true)
		if err != nil || len(libs) > 0 {
			return libs, err
		}
	}
	return nil, nil
}

func (s *Session) nextLibraries(ctx context.Context, more bool) ([]*Library, error) {
	if more {
		if err := s.notifyContinue(ctx); err != nil {
			return nil, err
		}
	} else {
		s.retrieval.notify = pal.NotifyEnd
	}
	if err := s.resultError(); err != nil {
		return nil, err
	}
	recs, err := retrieve[*pal.Library](s, pal.TagLibrary)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		s.retrieval.notify = pal.NotifyEnd
	}
	libs := recs[:0]
	for _, l := range recs {
		if s.retrieval.keep(l.Name) {
			libs = append(libs, l)
		}
	}
	return libs, nil
}

// finishChunk returns the session to idle when the listing ended or failed.
func (s *Session) finishChunk(err *error) {
	if *err != nil || s.retrieval.notify == pal.NotifyEnd {
		s.endRetrieval()
	}
}

// NumberOfLibraries returns the count hint of a library listing without
// keeping the listing open.
func (s *Session) NumberOfLibraries(ctx context.Context, sf *SystemFile, filter string) (int, error) {
	if _, err := s.ListLibrariesFirst(ctx, sf, filter); err != nil {
		return 0, err
	}
	hint := s.retrieval.hint
	if s.retrieval.kind != RetrievalIdle {
		if err := s.TerminateRetrieval(ctx); err != nil {
			return 0, err
		}
	}
	return hint, nil
}

// ObjectQuery selects the objects of a listing.
type ObjectQuery struct {
	Library string
	Filter  string
	Kind    int
	Type    int
}

func validateObjectQuery(q ObjectQuery) error {
	if q.Kind < 0 {
		return invalidArgument("kind must be a combination of the object kinds")
	}
	if q.Type != TypeAll && q.Type != TypeAny {
		if _, ok := LookupObjectType(q.Type); !ok {
			return invalidArgument("type must be one of the object types")
		}
	}
	if q.Kind == ErrorMessage && q.Type != TypeAll {
		return invalidArgument("kind ErrorMessage is only allowed with type TypeAll")
	}
	if q.Type == TypeDDM.ID && (q.Kind < Source || q.Kind > SourceOrGP) {
		return invalidArgument("DDMs must be listed with kind Source, GP or SourceOrGP")
	}
	if q.Filter == "" {
		return invalidArgument("filter must not be empty")
	}
	if q.Library == "" && q.Type != TypeDDM.ID {
		return invalidArgument("library must not be empty")
	}
	return nil
}

// ListObjectsFirst starts an object listing and returns the first chunk.
// Error 82 from the server yields an empty listing.
func (s *Session) ListObjectsFirst(ctx context.Context, sf *SystemFile, q ObjectQuery) (objs []*Object, err error) {
	if err := s.requireConnected(); err != nil {
		return nil, err
	}
	if sf == nil {
		return nil, invalidArgument("system file must not be nil")
	}
	if err := validateObjectQuery(q); err != nil {
		return nil, err
	}
	ctx, end := s.start(ctx, "list_objects",
		attribute.String("ndv.library", q.Library),
		attribute.String("ndv.filter", q.Filter),
		attribute.Int("ndv.type", q.Type))
	defer end(&err)

	op, sub := opObjects, 3
	if q.Type == TypeDDM.ID {
		if sf.Kind == pal.SysFileFDDM {
			q.Library = ""
			if !s.props.Platform.IsOpenSystems() {
				op = opObjectsByType
			}
		} else {
			sub |= 16
		}
	}
	return s.objectsFirst(ctx, op, sf, q, sub)
}

func (s *Session) objectsFirst(ctx context.Context, op int, sf *SystemFile, q ObjectQuery, sub int) (objs []*Object, err error) {
	if err := s.beginRetrieval(RetrievalObjects, q.Filter); err != nil {
		return nil, err
	}
	defer s.finishChunk(&err)

	kind, typ := q.Kind, q.Type
	if kind == ErrorMessage {
		kind, typ = 0, TypeErrMsg
	}
	err = s.call(ctx,
		&pal.Operation{Code: op, SubKey: sub},
		libID(sf, q.Library, pal.TagLibID),
		&pal.ObjDesc{Type: pal.TagObjDesc2, NatType: typ, Kind: kind, Name: q.Filter},
		&pal.Notify{Code: pal.NotifyStart},
	)
	if IsNumber(err, resultNoObjects) {
		s.retrieval.notify = pal.NotifyEnd
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	hint, more, err := s.countHint()
	if err != nil {
		return nil, err
	}
	s.retrieval.hint = hint
	return s.nextObjects(ctx, more)
}

// ListObjectsNext returns the next chunk of the active object listing.
func (s *Session) ListObjectsNext(ctx context.Context) (objs []*Object, err error) {
	if err := s.requireConnected(); err != nil {
		return nil, err
	}
	if s.retrieval.kind != RetrievalObjects {
		return nil, illegalState("ListObjectsNext called without an active object listing")
	}
	ctx, end := s.start(ctx, "list_objects_next")
	defer end(&err)
	defer s.finishChunk(&err)

	if s.retrieval.notify == pal.NotifyEnd {
		return nil, nil
	}
	return s.nextObjects(ctx, true)
}

func (s *Session) nextObjects(ctx context.Context, more bool) ([]*Object, error) {
	if more {
		if err := s.notifyContinue(ctx); err != nil {
			return nil, err
		}
	} else {
		s.retrieval.notify = pal.NotifyEnd
	}
	if err := s.resultError(); err != nil {
		return nil, err
	}
	recs, err := retrieve[*pal.Object](s, pal.TagObject)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		s.retrieval.notify = pal.NotifyEnd
	}
	objs := recs[:0]
	for _, o := range recs {
		key := o.Name
		if o.NatType == TypeDDM.ID {
			key = o.LongName
		}
		if s.retrieval.keep(key) {
			objs = append(objs, o)
		}
	}
	return objs, nil
}

// NumberOfObjects returns the count hint of an object listing without
// keeping the listing open.
func (s *Session) NumberOfObjects(ctx context.Context, sf *SystemFile, q ObjectQuery) (int, error) {
	if _, err := s.ListObjectsFirst(ctx, sf, q); err != nil {
		return 0, err
	}
	hint := max(s.retrieval.hint, 0)
	if s.retrieval.kind != RetrievalIdle {
		if err := s.TerminateRetrieval(ctx); err != nil {
			return 0, err
		}
	}
	return hint, nil
}

// TerminateRetrieval ends the active listing. The server is told to drop
// the remaining chunks when it still has some.
func (s *Session) TerminateRetrieval(ctx context.Context) (err error) {
	if s.retrieval.kind == RetrievalIdle {
		return illegalState("retrieval is not active")
	}
	defer s.endRetrieval()
	if s.retrieval.notify != pal.NotifyMore {
		return nil
	}
	ctx, end := s.start(ctx, "terminate_retrieval")
	defer end(&err)

	return s.call(ctx, &pal.Notify{Code: pal.NotifyTerminate})
}

// StatisticsOptions tune LibraryStatistics.
type StatisticsOptions struct {
	// Rebuild makes the server recount instead of using its cached figures.
	Rebuild bool

	// LinkedDDMs includes the DDMs linked to the library.
	LinkedDDMs bool
}

// LibraryStatistics returns the object counts and sizes of a library.
func (s *Session) LibraryStatistics(ctx context.Context, sf *SystemFile, library string, opts StatisticsOptions) (stats *LibraryStatistics, err error) {
	if err := s.requireConnected(); err != nil {
		return nil, err
	}
	if sf == nil {
		return nil, invalidArgument("system file must not be nil")
	}
	if library == "" {
		return nil, invalidArgument("library must not be empty")
	}
	if s.retrieval.kind != RetrievalIdle {
		return nil, illegalState("a " + s.retrieval.kind.String() + " retrieval is still active")
	}
	ctx, end := s.start(ctx, "library_statistics", attribute.String("ndv.library", library))
	defer end(&err)

	sub := 3
	if opts.Rebuild {
		sub = 5
	}
	if opts.LinkedDDMs {
		sub |= 16
	}
	if err := s.send(ctx, &pal.Operation{Code: opStatistics, SubKey: sub}, libID(sf, library, pal.TagLibIDSearchOrder)); err != nil {
		return nil, err
	}
	n, _ := first[*pal.Notify](s, pal.TagNotify)
	g, _ := first[*pal.Generic](s, pal.TagGeneric)
	if n != nil && g != nil {
		if err := s.send(ctx, &pal.Notify{Code: pal.NotifyContinue}); err != nil {
			return nil, err
		}
	}
	if err := s.resultError(); err != nil {
		return nil, err
	}
	stats, err = first[*pal.LibraryStatistics](s, pal.TagLibraryStatistics)
	if err != nil {
		return nil, err
	}
	if stats == nil {
		return nil, newError(KindProtocol, "server did not deliver library statistics")
	}
	return stats, nil
}

// IsLibraryEmpty reports whether a library holds no objects.
func (s *Session) IsLibraryEmpty(ctx context.Context, sf *SystemFile, library string) (empty bool, err error) {
	if err := s.requireConnected(); err != nil {
		return false, err
	}
	if sf == nil {
		return false, invalidArgument("system file must not be nil")
	}
	if library == "" {
		return false, invalidArgument("library must not be empty")
	}
	ctx, end := s.start(ctx, "library_empty", attribute.String("ndv.library", library))
	defer end(&err)

	if err := s.send(ctx, &pal.Operation{Code: opLibraryEmpty}, libID(sf, library, pal.TagLibID)); err != nil {
		return false, err
	}
	number, _ := s.classify()
	return number != 0, nil
}

// Exists reports whether an object of the given kinds exists in a
// library. name must not contain filter characters.
func (s *Session) Exists(ctx context.Context, sf *SystemFile, library, name string, kind int) (ok bool, err error) {
	if err := s.requireConnected(); err != nil {
		return false, err
	}
	if sf == nil {
		return false, invalidArgument("system file must not be nil")
	}
	if library == "" || name == "" {
		return false, invalidArgument("library and name must not be empty")
	}
	ctx, end := s.start(ctx, "exists", attribute.String("ndv.library", library), attribute.String("ndv.object", name))
	defer end(&err)
	defer s.quietTerminate(ctx)

	openSystems := s.props.Platform.IsOpenSystems()
	q := ObjectQuery{Library: library, Filter: name}
	if kind&SourceOrGP != 0 {
		q.Kind, q.Type = kind&SourceOrGP, TypeAny
		sub := 3 | 16
		if openSystems {
			sub = 3 | 32
		}
		objs, err := s.objectsFirst(ctx, opObjects, sf, q, sub)
		if err != nil {
			return false, err
		}
		if len(objs) > 1 {
			return false, invalidArgument("more than one object found, the name must not contain filter characters")
		}
		if len(objs) == 1 {
			return true, nil
		}
		s.quietTerminate(ctx)
	}
	if kind&Resource != 0 && openSystems {
		q.Kind, q.Type = Resource, TypeAll
		objs, err := s.objectsFirst(ctx, opObjects, sf, q, 3)
		if err != nil {
			return false, err
		}
		if len(objs) > 0 {
			return true, nil
		}
		s.quietTerminate(ctx)
	}
	if kind&ErrorMessage != 0 && slices.ContainsFunc(pal.ErrorMessageLanguages, func(l string) bool { return strings.EqualFold(l, name) }) {
		q.Kind, q.Type = ErrorMessage, TypeAll
		if openSystems {
			q.Filter = "*"
		}
		objs, err := s.objectsFirst(ctx, opObjects, sf, q, 3)
		if err != nil {
			return false, err
		}
		for _, o := range objs {
			if strings.EqualFold(o.LongName, name) {
				return true, nil
			}
		}
	}
	return false, nil
}

// quietTerminate drops a listing a lookup left open.
func (s *Session) quietTerminate(ctx context.Context) {
	if s.retrieval.kind == RetrievalIdle {
		return
	}
	if err := s.TerminateRetrieval(ctx); err != nil {
		s.logger.Error("terminate retrieval: %v", err)
	}
}

// ExistsDDM reports whether a DDM exists in a system file. kind is
// ignored on mainframes and must be Source, GP or SourceOrGP elsewhere.
func (s *Session) ExistsDDM(ctx context.Context, sf *SystemFile, name string, kind int) (ok bool, err error) {
	if err := s.requireConnected(); err != nil {
		return false, err
	}
	if sf == nil {
		return false, invalidArgument("system file must not be nil")
	}
	if name == "" {
		return false, invalidArgument("name must not be empty")
	}
	openSystems := s.props.Platform.IsOpenSystems()
	op, sub := opObjectsByType, 3|16
	if openSystems {
		if kind < Source || kind > SourceOrGP {
			return false, invalidArgument("kind must be Source, GP or SourceOrGP")
		}
		op, sub = opObjects, 3|32
	} else {
		kind = 0
	}
	ctx, end := s.start(ctx, "exists_ddm", attribute.String("ndv.object", name))
	defer end(&err)
	defer s.quietTerminate(ctx)

	objs, err := s.objectsFirst(ctx, op, sf, ObjectQuery{Filter: name, Kind: kind, Type: TypeDDM.ID}, sub)
	if err != nil {
		return false, err
	}
	return len(objs) > 0, nil
}

// ObjectLocation is an object together with the library it was found in.
type ObjectLocation struct {
	Object  *Object
	Library string
	DBID    int
	FNR     int
}

// ObjectByName looks up an object by its name. With steplibs the search
// continues in the steplibs of library. longName looks the object up by
// its long name and is only valid for functions, DDMs, subroutines and
// classes.
func (s *Session) ObjectByName(ctx context.Context, sf *SystemFile, library, name string, natType int, steplibs, longName bool) (loc *ObjectLocation, err error) {
	if err := s.requireConnected(); err != nil {
		return nil, err
	}
	if sf == nil {
		return nil, invalidArgument("system file must not be nil")
	}
	if library == "" || name == "" {
		return nil, invalidArgument("library and name must not be empty")
	}
	if longName {
		switch natType {
		case TypeFunction.ID, TypeDDM.ID, TypeSubroutine.ID, TypeClass.ID:
		default:
			return nil, invalidArgument("long names are only defined for functions, DDMs, subroutines and classes")
		}
	}
	ctx, end := s.start(ctx, "object_by_name", attribute.String("ndv.library", library), attribute.String("ndv.object", name))
	defer end(&err)
	defer s.quietTerminate(ctx)

	sub := 3
	if longName {
		sub |= 8
	}
	if steplibs {
		sub |= 4
	}
	objs, err := s.objectsFirst(ctx, opObjects, sf, ObjectQuery{Library: library, Filter: name, Kind: SourceOrGP, Type: natType}, sub)
	if err != nil {
		return nil, err
	}
	if len(objs) == 0 {
		return nil, &Error{Kind: KindRuntime, Number: resultNoObjects, Severity: SeverityError, ShortText: "object " + name + " not found"}
	}
	loc = &ObjectLocation{Object: objs[0], Library: library, DBID: sf.DBID, FNR: sf.FNR}
	if id, _ := first[*pal.LibID](s, pal.TagLibID); id != nil {
		loc.Library, loc.DBID, loc.FNR = id.Library, id.DBID, id.FNR
	}
	return loc, nil
}

// LibraryOfObject returns the library in the search order of id that
// holds the object. id itself is returned when the server names none.
func (s *Session) LibraryOfObject(ctx context.Context, id *LibID, name string, kind int) (lib *LibID, err error) {
	if err := s.requireConnected(); err != nil {
		return nil, err
	}
	if id == nil || name == "" {
		return nil, invalidArgument("library id and name must be set")
	}
	ctx, end := s.start(ctx, "library_of_object", attribute.String("ndv.library", id.Library), attribute.String("ndv.object", name))
	defer end(&err)
	defer s.quietTerminate(ctx)

	sf := &SystemFile{DBID: id.DBID, FNR: id.FNR, Password: id.Password, Cipher: id.Cipher}
	if _, err := s.objectsFirst(ctx, opObjects, sf, ObjectQuery{Library: id.Library, Filter: name, Kind: kind, Type: TypeAny}, 7); err != nil {
		return nil, err
	}
	found, err := first[*pal.LibID](s, pal.TagLibID)
	if err != nil || found == nil {
		return id, err
	}
	if found.DBID == 0 {
		found.DBID = id.DBID
	}
	if found.FNR == 0 {
		found.FNR = id.FNR
	}
	return found, nil
}

// Iterator pulls a listing chunk by chunk. It skips chunks that duplicate
// suppression left empty.
type Iterator[T any] struct {
	s       *Session
	kind    RetrievalKind
	first   func(context.Context) ([]T, error)
	next    func(context.Context) ([]T, error)
	chunk   []T
	started bool
	done    bool
	err     error
}

// LibraryIterator walks a library listing.
type LibraryIterator = Iterator[*Library]

// ObjectIterator walks an object listing.
type ObjectIterator = Iterator[*Object]

// Libraries returns an iterator over a library listing. Nothing is sent
// before the first call to Next.
func (s *Session) Libraries(sf *SystemFile, filter string) *LibraryIterator {
	return &Iterator[*Library]{
		s:     s,
		kind:  RetrievalLibraries,
		first: func(ctx context.Context) ([]*Library, error) { return s.ListLibrariesFirst(ctx, sf, filter) },
		next:  s.ListLibrariesNext,
	}
}

// Objects returns an iterator over an object listing.
func (s *Session) Objects(sf *SystemFile, q ObjectQuery) *ObjectIterator {
	return &Iterator[*Object]{
		s:     s,
		kind:  RetrievalObjects,
		first: func(ctx context.Context) ([]*Object, error) { return s.ListObjectsFirst(ctx, sf, q) },
		next:  s.ListObjectsNext,
	}
}

// Next fetches the next chunk and reports whether there is one.
func (it *Iterator[T]) Next(ctx context.Context) bool {
	if it.done || it.err != nil {
		return false
	}
	for {
		var chunk []T
		var err error
		switch {
		case !it.started:
			it.started = true
			chunk, err = it.first(ctx)
		case it.s.retrieval.kind == it.kind:
			chunk, err = it.next(ctx)
		default:
			it.done = true
			return false
		}
		if err != nil {
			it.err = err
			return false
		}
		if len(chunk) > 0 {
			it.chunk = chunk
			return true
		}
		if it.s.retrieval.kind != it.kind {
			it.done = true
			return false
		}
	}
}

// Chunk returns the chunk fetched by the last call to Next.
func (it *Iterator[T]) Chunk() []T { return it.chunk }

// Err returns the error that stopped the iteration.
func (it *Iterator[T]) Err() error { return it.err }

// Close terminates the listing if it is still active.
func (it *Iterator[T]) Close(ctx context.Context) error {
	it.done = true
	if it.started && it.s.retrieval.kind == it.kind {
		return it.s.TerminateRetrieval(ctx)
	}
	return nil
}

// All collects the remaining entries of the listing.
func (it *Iterator[T]) All(ctx context.Context) ([]T, error) {
	var out []T
	for it.Next(ctx) {
		out = append(out, it.Chunk()...)
	}
	return out, it.Err()
}

package nodes

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/go-kit/log/level"

	"github.com/cube2222/octoframe/arrowexec/execution"
	"github.com/cube2222/octoframe/logical"
	"github.com/cube2222/octoframe/table"
)

type Scan struct {
	Source     logical.Source
	Projection []string
	Predicate  *logical.Expression
	Limit      int
	Registry   *ScanRegistry
}

func (s *Scan) Run(ctx execution.Context) (*table.Table, error) {
	capabilities := s.Source.Capabilities()
	exact := capabilities.ExactPredicate

	var tbl *table.Table
	var err error
	if !capabilities.Rescannable && s.Registry.References(s.Source) > 1 {
		// The source is read once for all the scans referencing it, so every scan gets all rows and columns.
		level.Debug(ctx.Logger).Log("msg", "sharing scan of non-rescannable source", "source", s.Source.Name())
		tbl, err = s.Registry.ReadShared(ctx, s.Source)
		exact = false
	} else {
		var columns []string
		if columns, err = s.requestedColumns(); err != nil {
			return nil, err
		}
		limit := s.Limit
		if s.Predicate != nil && !exact {
			// The source may return rows failing the predicate, so it can't stop early.
			limit = -1
		}
		tbl, err = ReadAll(ctx, s.Source, logical.ScanRequest{
			Columns:   columns,
			Predicate: s.Predicate,
			Limit:     limit,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("couldn't scan %s: %w", s.Source.Name(), err)
	}

	if s.Predicate != nil && !exact {
		if tbl, err = filterTable(ctx, tbl, *s.Predicate); err != nil {
			return nil, fmt.Errorf("couldn't filter scanned table: %w", err)
		}
	}
	if s.Projection != nil {
		if tbl, err = tbl.Select(s.Projection...); err != nil {
			return nil, fmt.Errorf("couldn't project scanned table: %w", err)
		}
	}
	if s.Limit >= 0 && tbl.NumRows() > s.Limit {
		tbl = tbl.Head(s.Limit)
	}
	if tbl.NumChunks() == 1 && tbl.NumRows() > ctx.ChunkSize() {
		if tbl, err = tbl.RechunkTo(table.SplitBoundaries(tbl.NumRows(), ctx.ChunkSize())); err != nil {
			return nil, err
		}
	}
	return tbl, nil
}

// requestedColumns returns the projected columns plus the ones needed by the predicate, in source order.
func (s *Scan) requestedColumns() ([]string, error) {
	if s.Projection == nil {
		return nil, nil
	}
	if s.Predicate == nil {
		return s.Projection, nil
	}
	schema, err := s.Source.Schema()
	if err != nil {
		return nil, fmt.Errorf("couldn't get source schema: %w", err)
	}
	needed := make(map[string]bool)
	for _, name := range s.Projection {
		needed[name] = true
	}
	for _, name := range s.Predicate.ColumnNames() {
		needed[name] = true
	}
	var out []string
	for _, name := range schema.Names() {
		if needed[name] {
			out = append(out, name)
		}
	}
	return out, nil
}

// ReadAll reads every table the source returns for the request and stacks them.
func ReadAll(ctx execution.Context, source logical.Source, req logical.ScanRequest) (*table.Table, error) {
	reader, err := source.Scan(ctx.Context, req)
	if err != nil {
		return nil, fmt.Errorf("couldn't start scan: %w", err)
	}
	defer reader.Close()

	var parts []*table.Table
	for {
		if err := ctx.Context.Err(); err != nil {
			return nil, err
		}
		part, err := reader.Read(ctx.Context)
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return nil, fmt.Errorf("couldn't read from source: %w", err)
		}
		parts = append(parts, part)
	}

	if len(parts) == 0 {
		schema, err := source.Schema()
		if err != nil {
			return nil, fmt.Errorf("couldn't get source schema: %w", err)
		}
		if len(req.Columns) > 0 {
			if schema, err = schema.Select(req.Columns...); err != nil {
				return nil, err
			}
		}
		return table.NewEmptyTableWithSchema(schema)
	}
	return parts[0].VStack(parts[1:]...)
}

// ScanRegistry tracks the scans of one execution, so that sources which can't be scanned
// more than once are read a single time and shared.
type ScanRegistry struct {
	mu         sync.Mutex
	references map[logical.Source]int
	shared     map[logical.Source]*sharedScan
}

type sharedScan struct {
	once  sync.Once
	table *table.Table
	err   error
}

func NewScanRegistry() *ScanRegistry {
	return &ScanRegistry{
		references: make(map[logical.Source]int),
		shared:     make(map[logical.Source]*sharedScan),
	}
}

// Register records one more scan of the source. It's called while building the physical plan.
func (r *ScanRegistry) Register(source logical.Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.references[source]++
}

func (r *ScanRegistry) References(source logical.Source) int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.references[source]
}

// ReadShared reads the whole source on the first call and returns the same table to every caller.
func (r *ScanRegistry) ReadShared(ctx execution.Context, source logical.Source) (*table.Table, error) {
	r.mu.Lock()
	scan, ok := r.shared[source]
	if !ok {
		scan = &sharedScan{}
		r.shared[source] = scan
	}
	r.mu.Unlock()

	scan.once.Do(func() {
		scan.table, scan.err = ReadAll(ctx, source, logical.ScanRequest{Limit: -1})
	})
	return scan.table, scan.err
}

package logical

import (
	"context"

	"github.com/cube2222/octoframe/octoframe"
	"github.com/cube2222/octoframe/table"
)

// Source is an external collaborator producing tables for scans.
type Source interface {
	Name() string
	Schema() (octoframe.Schema, error)
	Capabilities() Capabilities
	Scan(ctx context.Context, req ScanRequest) (TableReader, error)
}

type Capabilities struct {
	// Rescannable sources may be scanned more than once per execution.
	Rescannable bool
	// ExactPredicate sources return only rows matching the requested predicate,
	// otherwise the predicate is only a hint and gets re-applied by the engine.
	ExactPredicate bool
	// EstimatedRows is -1 if unknown.
	EstimatedRows int
}

type ScanRequest struct {
	// Columns lists the columns to read, in source order. Empty means all columns.
	Columns []string
	// Predicate is optional. Sources may use it to skip rows.
	Predicate *Expression
	// Limit is a hint for the maximum number of rows needed, -1 if unlimited.
	Limit int
}

// TableReader returns consecutive parts of the scanned data.
// Read returns io.EOF once there is nothing left.
type TableReader interface {
	Read(ctx context.Context) (*table.Table, error)
	Close() error
}

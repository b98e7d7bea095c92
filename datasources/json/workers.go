package json

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"runtime"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/pkg/errors"
	"github.com/valyala/fastjson"
	"golang.org/x/sync/errgroup"

	"github.com/cube2222/octoframe/octoframe"
	"github.com/cube2222/octoframe/table"
)

func defaultWorkers() int {
	// We should be able to scale to all cores.
	return runtime.GOMAXPROCS(0)
}

// jobIn is a single job for the parser workers.
// It contains a batch of lines to parse into a table.
type jobIn struct {
	firstLine int
	lines     [][]byte

	// The channel to send the job output to. It's buffered, so workers never block on it.
	outChan chan<- jobOut
}

type jobOut struct {
	table *table.Table
	err   error
}

// reader returns the parsed batches in file order. The line scanner enqueues each job's output
// channel in order, so that reading them one by one restores the order the workers lose.
type reader struct {
	ctx     context.Context
	cancel  context.CancelFunc
	group   *errgroup.Group
	results <-chan chan jobOut
	file    io.Closer
}

func startReader(ctx context.Context, file io.ReadCloser, schema octoframe.Schema, batchSize, workers, limit int) *reader {
	ctx, cancel := context.WithCancel(ctx)
	g, ctx := errgroup.WithContext(ctx)

	jobs := make(chan jobIn, workers)
	results := make(chan chan jobOut, workers*2)
	g.Go(func() error {
		defer close(results)
		defer close(jobs)
		return scanLines(ctx, file, batchSize, limit, jobs, results)
	})
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			var p fastjson.Parser
			for job := range jobs {
				tbl, err := parseLines(&p, schema, job)
				job.outChan <- jobOut{table: tbl, err: err}
			}
			return nil
		})
	}

	return &reader{
		ctx:     ctx,
		cancel:  cancel,
		group:   g,
		results: results,
		file:    file,
	}
}

func scanLines(ctx context.Context, r io.Reader, batchSize, limit int, jobs chan<- jobIn, results chan<- chan jobOut) error {
	sc := bufio.NewScanner(bufio.NewReaderSize(r, 4096*1024))
	sc.Buffer(nil, maxLineSize)

	line := 0
	read := 0
	batch := make([][]byte, 0, batchSize)
	firstLine := 1
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		out := make(chan jobOut, 1)
		select {
		case results <- out:
		case <-ctx.Done():
			return ctx.Err()
		}
		select {
		case jobs <- jobIn{firstLine: firstLine, lines: batch, outChan: out}:
		case <-ctx.Done():
			return ctx.Err()
		}
		batch = make([][]byte, 0, batchSize)
		return nil
	}

	for (limit < 0 || read < limit) && sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		if len(batch) == 0 {
			firstLine = line
		}
		// The scanner reuses its buffer.
		batch = append(batch, append([]byte(nil), sc.Bytes()...))
		read++
		if len(batch) == batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := sc.Err(); err != nil {
		return errors.Wrap(err, "couldn't scan lines")
	}
	return flush()
}

func parseLines(p *fastjson.Parser, schema octoframe.Schema, job jobIn) (*table.Table, error) {
	if len(schema.Fields) == 0 {
		return table.NewEmptyTable(len(job.lines)), nil
	}

	recordBuilder := array.NewRecordBuilder(memory.DefaultAllocator, schema.ArrowSchema())
	defer recordBuilder.Release()
	recordBuilder.Reserve(len(job.lines))

	readRecord, err := recordReader(schema, recordBuilder)
	if err != nil {
		return nil, err
	}
	for i := range job.lines {
		v, err := p.ParseBytes(job.lines[i])
		if err != nil {
			return nil, fmt.Errorf("couldn't parse json on line %d: %w", job.firstLine+i, err)
		}
		if err := readRecord(v); err != nil {
			return nil, fmt.Errorf("couldn't read record on line %d: %w", job.firstLine+i, err)
		}
	}
	return table.FromRecords(schema, []arrow.Record{recordBuilder.NewRecord()})
}

func (r *reader) Read(ctx context.Context) (*table.Table, error) {
	var out chan jobOut
	var ok bool
	select {
	case out, ok = <-r.results:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if !ok {
		if err := r.group.Wait(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}

	select {
	case res := <-out:
		if res.err != nil {
			return nil, octoframe.ExecutionFailure("json scan", res.err)
		}
		return res.table, nil
	case <-r.ctx.Done():
		if err := r.group.Wait(); err != nil {
			return nil, err
		}
		return nil, r.ctx.Err()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *reader) Close() error {
	r.cancel()
	r.group.Wait()
	return r.file.Close()
}

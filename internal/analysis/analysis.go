// Package analysis inspects a layer's output table and summarizes its shape
// and null distribution for the next layer's planning.
package analysis

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/sourcegraph/conc/pool"

	"github.com/ShayCichocki/medallion/internal/warehouse"
	"github.com/ShayCichocki/medallion/pkg/models"
)

const (
	// DefaultSampleSize is the number of rows sampled when none is given.
	DefaultSampleSize = 10
	// MaxNullColumns bounds the columns included in the null scan.
	MaxNullColumns = 20
	// QualityScoreColumn is averaged when a layer output carries it.
	QualityScoreColumn = "data_quality_score"
)

// Querier is the subset of the warehouse the analyzer needs.
type Querier interface {
	ExecuteQuery(ctx context.Context, query string) (warehouse.Result, error)
	GetSchema(ctx context.Context, ref string) (warehouse.Schema, error)
	GetRowCount(ctx context.Context, ref string) (int64, error)
}

// Report is the inspection result for one table.
type Report struct {
	Reference string
	Schema    []models.Column
	Sample    []map[string]any
	RowCount  int64
	Quality   models.QualityMetrics
}

// Analyzer inspects tables through a Querier.
type Analyzer struct {
	wh Querier
}

// New creates an Analyzer.
func New(wh Querier) *Analyzer {
	return &Analyzer{wh: wh}
}

// Analyze reads the schema of ref, then runs the row count, sample and null
// scans concurrently. Any failed query fails the whole analysis.
func (a *Analyzer) Analyze(ctx context.Context, ref string, sampleSize int) (Report, error) {
	if sampleSize <= 0 {
		sampleSize = DefaultSampleSize
	}
	tbl, err := warehouse.ParseRef(ref)
	if err != nil {
		return Report{}, fmt.Errorf("analyze %s: %w", ref, err)
	}

	schema, err := a.wh.GetSchema(ctx, ref)
	if err != nil {
		return Report{}, fmt.Errorf("analyze %s: %w", ref, err)
	}
	checked := schema.Columns
	if len(checked) > MaxNullColumns {
		checked = checked[:MaxNullColumns]
	}

	rep := Report{Reference: ref, Schema: schema.Columns}
	var (
		nullCounts       map[string]int64
		recordsWithNulls int64
		avgScore         *float64
	)

	p := pool.New().WithContext(ctx).WithCancelOnError()
	p.Go(func(ctx context.Context) error {
		n, err := a.wh.GetRowCount(ctx, ref)
		if err != nil {
			return err
		}
		rep.RowCount = n
		return nil
	})
	p.Go(func(ctx context.Context) error {
		res, err := a.wh.ExecuteQuery(ctx, fmt.Sprintf("SELECT * FROM %s LIMIT %d", tbl.Sanitize(), sampleSize))
		if err != nil {
			return fmt.Errorf("sample rows: %w", err)
		}
		rep.Sample = res.Records()
		return nil
	})
	if len(checked) > 0 {
		p.Go(func(ctx context.Context) error {
			res, err := a.wh.ExecuteQuery(ctx, nullCountQuery(tbl, checked))
			if err != nil {
				return fmt.Errorf("count nulls: %w", err)
			}
			nullCounts = make(map[string]int64, len(checked))
			if len(res.Rows) > 0 {
				for i, c := range checked {
					if i < len(res.Rows[0]) {
						nullCounts[c.Name] = toInt64(res.Rows[0][i])
					}
				}
			}
			return nil
		})
		p.Go(func(ctx context.Context) error {
			res, err := a.wh.ExecuteQuery(ctx, nullRecordsQuery(tbl, checked))
			if err != nil {
				return fmt.Errorf("count records with nulls: %w", err)
			}
			if len(res.Rows) > 0 && len(res.Rows[0]) > 0 {
				recordsWithNulls = toInt64(res.Rows[0][0])
			}
			return nil
		})
	}
	if schema.Has(QualityScoreColumn) {
		p.Go(func(ctx context.Context) error {
			q := fmt.Sprintf("SELECT AVG(%s) FROM %s", warehouse.QuoteIdent(QualityScoreColumn), tbl.Sanitize())
			res, err := a.wh.ExecuteQuery(ctx, q)
			if err != nil {
				return fmt.Errorf("average quality score: %w", err)
			}
			if len(res.Rows) > 0 && len(res.Rows[0]) > 0 && res.Rows[0][0] != nil {
				v := toFloat64(res.Rows[0][0])
				avgScore = &v
			}
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return Report{}, fmt.Errorf("analyze %s: %w", ref, err)
	}

	var totalNulls int64
	for _, n := range nullCounts {
		totalNulls += n
	}
	rep.Quality = models.QualityMetrics{
		Completeness:     Completeness(rep.RowCount, len(checked), totalNulls),
		NullCounts:       nullCounts,
		RecordsWithNulls: recordsWithNulls,
		ColumnsChecked:   len(checked),
		AvgQualityScore:  avgScore,
	}
	return rep, nil
}

// Completeness is the share of non-null cells among the checked columns,
// rounded to four decimal places. An empty table is complete.
func Completeness(rows int64, columns int, nulls int64) float64 {
	if rows <= 0 || columns <= 0 {
		return 1.0
	}
	ratio := 1 - float64(nulls)/float64(rows*int64(columns))
	return math.Round(ratio*10000) / 10000
}

func nullCountQuery(tbl warehouse.Ref, cols []models.Column) string {
	exprs := make([]string, len(cols))
	for i, c := range cols {
		id := warehouse.QuoteIdent(c.Name)
		exprs[i] = fmt.Sprintf("SUM(CASE WHEN %s IS NULL THEN 1 ELSE 0 END) AS %s", id, id)
	}
	return fmt.Sprintf("SELECT %s FROM %s", strings.Join(exprs, ", "), tbl.Sanitize())
}

func nullRecordsQuery(tbl warehouse.Ref, cols []models.Column) string {
	conds := make([]string, len(cols))
	for i, c := range cols {
		conds[i] = warehouse.QuoteIdent(c.Name) + " IS NULL"
	}
	return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", tbl.Sanitize(), strings.Join(conds, " OR "))
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int32:
		return int64(n)
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case string:
		var out int64
		_, _ = fmt.Sscan(n, &out)
		return out
	}
	return 0
}

func toFloat64(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int64:
		return float64(n)
	case int:
		return float64(n)
	case string:
		var out float64
		_, _ = fmt.Sscan(n, &out)
		return out
	}
	return 0
}

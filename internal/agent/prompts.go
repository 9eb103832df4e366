package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ShayCichocki/medallion/pkg/models"
)

const (
	// maxRulesLen bounds the transformation rules quoted in prompts.
	maxRulesLen = 2000
	// maxPromptColumns bounds the predecessor columns listed in prompts.
	maxPromptColumns = 15
	// maxPromptSampleRows bounds the predecessor sample rows quoted in prompts.
	maxPromptSampleRows = 3
	// maxPlanExcerpt bounds the plan quoted in the review prompt.
	maxPlanExcerpt = 1000
)

// SourceToken and TargetToken are substituted into generated SQL at execution
// time with the layer's input and output tables.
const (
	SourceToken = "{{source}}"
	TargetToken = "{{target}}"
)

var layerGuidance = map[models.Layer]string{
	models.LayerBronze: `BRONZE LAYER: raw ingestion with an audit trail.

- Copy every source row as-is. Do not filter, deduplicate or clean.
- Add audit columns: ingestion_timestamp, source_reference, row_id.
- Keep source column names and types so lineage stays traceable.`,

	models.LayerSilver: `SILVER LAYER: cleaned and validated records.

Use the bronze schema and sample rows below to plan:
- Deduplication based on the duplicates you can see.
- Null handling for the columns that have missing values.
- Type corrections and format standardization (dates, codes, strings).
- Range and domain validation rules.
- A data_quality_score column (0-100) per record.

Name the bronze columns you act on.`,

	models.LayerGold: `GOLD LAYER: business-ready aggregates.

Use the silver schema and sample rows below to plan:
- Aggregations by the relevant time grain and dimensions.
- Derived business metrics and KPIs.
- Fact and dimension structure with surrogate keys.
- Indexing or partitioning for the expected query patterns.

Name the silver columns you aggregate.`,
}

func guidanceFor(layer models.Layer) string {
	if g, ok := layerGuidance[layer]; ok {
		return g
	}
	return fmt.Sprintf("%s LAYER", strings.ToUpper(string(layer)))
}

func planSystemPrompt(layer models.Layer) string {
	return fmt.Sprintf(`You are a senior data engineer planning one layer of a medallion pipeline.

%s

Respond with a single JSON object:
{
  "transformation_plan": "step-by-step plan for this layer",
  "test_plan": "what the tests must verify",
  "key_considerations": ["..."],
  "expected_improvements": ["..."]
}`, guidanceFor(layer))
}

func planUserPrompt(s *models.PipelineState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "REQUEST: %s\n\n", s.Query)
	fmt.Fprintf(&b, "LAYER: %s\n\n", s.CurrentLayer)
	writeLayerInput(&b, s)
	writeRules(&b, s.Rules)
	b.WriteString("Plan the transformation for this layer.")
	return b.String()
}

func codegenSystemPrompt(layer models.Layer) string {
	return fmt.Sprintf(`You are an expert SQL developer writing production transformations for a PostgreSQL warehouse.

Generate the code for the %s layer.

Write %s wherever the input table belongs and %s wherever the output table
belongs; both are replaced with fully qualified names at execution time.
Statements run in order, one at a time.

Respond with a single JSON object:
{
  "sql_queries": ["CREATE TABLE {{target}} AS ...", "..."],
  "pyspark_code": "optional equivalent script, or empty",
  "test_code": "tests for the transformation",
  "validation_queries": ["SELECT ... FROM {{target}} ..."]
}`, strings.ToUpper(string(layer)), SourceToken, TargetToken)
}

func codegenUserPrompt(s *models.PipelineState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "REQUEST: %s\n\n", s.Query)
	fmt.Fprintf(&b, "LAYER: %s\n\n", s.CurrentLayer)
	fmt.Fprintf(&b, "TRANSFORMATION PLAN:\n%s\n\n", s.CurrentPlan.Transformation)
	if s.CurrentPlan.Tests != "" {
		fmt.Fprintf(&b, "TEST PLAN:\n%s\n\n", s.CurrentPlan.Tests)
	}
	writeLayerInput(&b, s)
	writeRules(&b, s.Rules)
	b.WriteString("Generate the transformation code.")
	return b.String()
}

const reviewSystemPrompt = `You are a senior reviewer of data transformation code.

Review for correctness against the plan, performance, security (no embedded
credentials), warehouse best practices, readability and test coverage.

Respond with a single JSON object:
{
  "status": "APPROVED" | "NEEDS_REVISION" | "REJECTED",
  "quality_score": 0-100,
  "comments": ["..."],
  "security_issues": ["..."],
  "performance_recommendations": ["..."],
  "approval_reasoning": "..."
}`

func reviewUserPrompt(s *models.PipelineState, defects []string) string {
	a := s.CurrentArtifacts
	var b strings.Builder
	fmt.Fprintf(&b, "Review the %s layer transformation.\n\n", strings.ToUpper(string(s.CurrentLayer)))
	b.WriteString("SQL STATEMENTS:\n")
	for i, q := range a.SQL {
		fmt.Fprintf(&b, "-- Statement %d:\n%s\n\n", i+1, q)
	}
	if a.Script != "" {
		fmt.Fprintf(&b, "SCRIPT:\n%s\n\n", a.Script)
	}
	tests := a.Tests
	if tests == "" {
		tests = "(none)"
	}
	fmt.Fprintf(&b, "TESTS:\n%s\n\n", tests)
	if len(defects) == 0 {
		b.WriteString("SYNTAX CHECK: all statements passed\n\n")
	} else {
		fmt.Fprintf(&b, "SYNTAX CHECK: failed\n%s\n\n", strings.Join(defects, "\n"))
	}
	fmt.Fprintf(&b, "PLAN (excerpt):\n%s\n", truncate(s.CurrentPlan.Transformation, maxPlanExcerpt))
	return b.String()
}

const summarySystemPrompt = `You write short executive summaries of data pipeline runs for business stakeholders.

Explain in plain language what was built, the key metrics, anything that needs
attention, and the next steps. Keep it between 150 and 300 words.`

func summaryUserPrompt(s *models.PipelineState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "REQUEST: %s\n", s.Query)
	fmt.Fprintf(&b, "SOURCE: %s\n", s.SourceReference)
	fmt.Fprintf(&b, "STATUS: %s\n", s.Status)
	fmt.Fprintf(&b, "LAYERS COMPLETED: %s\n\n", joinLayers(s.LayersCompleted))

	for _, l := range s.ContextByLayer.Layers() {
		c, _ := s.ContextByLayer.Get(l)
		fmt.Fprintf(&b, "%s: table %s, %d rows, %.1f%% complete, proposal %s\n",
			strings.ToUpper(string(l)), c.OutputReference, c.RowCount, c.QualityMetrics.Completeness*100, c.ApprovalReference)
	}
	if s.ApprovalHandle != nil && s.Status == models.RunStatusAwaitingApproval {
		fmt.Fprintf(&b, "\nWAITING FOR APPROVAL: %s\n", handleRef(s.ApprovalHandle))
	}
	fmt.Fprintf(&b, "\nCHANGE PROPOSALS: %d\n", len(s.Submissions))
	if len(s.ErrorLog) > 0 {
		fmt.Fprintf(&b, "ERRORS:\n- %s\n", strings.Join(s.ErrorLog, "\n- "))
	} else {
		b.WriteString("ERRORS: none\n")
	}
	return b.String()
}

// writeLayerInput describes what the current layer reads: the source dataset
// for the first layer, the predecessor's context for every later one.
func writeLayerInput(b *strings.Builder, s *models.PipelineState) {
	prev, ok := s.PredecessorContext()
	if !ok {
		fmt.Fprintf(b, "SOURCE DATASET: %s\n\n", s.SourceReference)
		return
	}

	q := prev.QualityMetrics
	fmt.Fprintf(b, "%s LAYER OUTPUT (input to this layer):\n", strings.ToUpper(string(prev.LayerName)))
	fmt.Fprintf(b, "- Table: %s\n", prev.OutputReference)
	fmt.Fprintf(b, "- Rows: %d\n", prev.RowCount)
	fmt.Fprintf(b, "- Columns: %d\n", len(prev.SchemaSummary))
	fmt.Fprintf(b, "- Completeness: %.1f%%\n", q.Completeness*100)
	fmt.Fprintf(b, "- Records with nulls: %d\n", q.RecordsWithNulls)
	if q.AvgQualityScore != nil {
		fmt.Fprintf(b, "- Average quality score: %.1f\n", *q.AvgQualityScore)
	}

	b.WriteString("\nSCHEMA:\n")
	cols := prev.SchemaSummary
	for i, c := range cols {
		if i == maxPromptColumns {
			fmt.Fprintf(b, "  ... and %d more columns\n", len(cols)-maxPromptColumns)
			break
		}
		null := "NOT NULL"
		if c.Nullable {
			null = "NULL"
		}
		fmt.Fprintf(b, "  - %s %s %s", c.Name, c.Type, null)
		if n := q.NullCounts[c.Name]; n > 0 {
			fmt.Fprintf(b, " (%d nulls)", n)
		}
		b.WriteString("\n")
	}

	if len(prev.SampleRows) > 0 {
		b.WriteString("\nSAMPLE ROWS:\n")
		for i, row := range prev.SampleRows {
			if i == maxPromptSampleRows {
				break
			}
			data, err := json.Marshal(row)
			if err != nil {
				continue
			}
			fmt.Fprintf(b, "  %s\n", data)
		}
	}
	b.WriteString("\n")
}

func writeRules(b *strings.Builder, rules string) {
	rules = strings.TrimSpace(rules)
	if rules == "" {
		return
	}
	fmt.Fprintf(b, "TRANSFORMATION RULES:\n%s\n\n", truncate(rules, maxRulesLen))
}

func joinLayers(layers []models.Layer) string {
	if len(layers) == 0 {
		return "none"
	}
	names := make([]string, len(layers))
	for i, l := range layers {
		names[i] = string(l)
	}
	return strings.Join(names, ", ")
}

func handleRef(h *models.ApprovalHandle) string {
	if h.URL != "" {
		return h.URL
	}
	return h.ID
}

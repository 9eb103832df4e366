package agent

import (
	"embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// Schemas for the structured replies of the plan, codegen and review prompts.
var (
	planSchema    = mustCompileSchema("plan.json")
	codegenSchema = mustCompileSchema("codegen.json")
	reviewSchema  = mustCompileSchema("review.json")
)

func compileSchema(name string) (*jsonschema.Schema, error) {
	data, err := schemaFS.ReadFile("schemas/" + name)
	if err != nil {
		return nil, fmt.Errorf("read schema %s: %w", name, err)
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse schema %s: %w", name, err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, doc); err != nil {
		return nil, fmt.Errorf("add schema %s: %w", name, err)
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	return schema, nil
}

func mustCompileSchema(name string) *jsonschema.Schema {
	schema, err := compileSchema(name)
	if err != nil {
		panic(err)
	}
	return schema
}

// planOutput is the structured reply of the plan prompt.
type planOutput struct {
	TransformationPlan   string   `json:"transformation_plan"`
	TestPlan             string   `json:"test_plan"`
	KeyConsiderations    []string `json:"key_considerations"`
	ExpectedImprovements []string `json:"expected_improvements"`
}

// codegenOutput is the structured reply of the codegen prompt.
type codegenOutput struct {
	SQLQueries        []string `json:"sql_queries"`
	PySparkCode       string   `json:"pyspark_code"`
	TestCode          string   `json:"test_code"`
	ValidationQueries []string `json:"validation_queries"`
}

// reviewOutput is the structured reply of the review prompt.
type reviewOutput struct {
	Status                     string   `json:"status"`
	QualityScore               float64  `json:"quality_score"`
	Comments                   []string `json:"comments"`
	SecurityIssues             []string `json:"security_issues"`
	PerformanceRecommendations []string `json:"performance_recommendations"`
	ApprovalReasoning          string   `json:"approval_reasoning"`
}

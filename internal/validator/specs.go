package validator

// Patterns are relative to the scratchpad root and use %s for the project
// id, matching .ad-sdlc/scratchpad's layout.
var (
	collectedInfoPattern  = "info/%s/collected_info.yaml"
	prdPattern            = "documents/%s/prd.md"
	srsPattern            = "documents/%s/srs.md"
	sdsPattern            = "documents/%s/sds.md"
	issueListPattern      = "issues/%s/issue_list.json"
	dependencyGraphPattern = "issues/%s/dependency_graph.json"
	workOrdersPattern     = "progress/%s/work_orders/WO-*.yaml"
	resultsPattern        = "progress/%s/results/WO-*-result.yaml"
	reviewsPattern        = "progress/%s/reviews/PR-*-review.yaml"
)

// GreenfieldSpecs names required/optional artifacts for each stage of the
// greenfield pipeline.
func GreenfieldSpecs() map[string]ArtifactSpec {
	return map[string]ArtifactSpec{
		"initialization":      {Label: "Initialization"},
		"collection":          {Label: "Requirement Collection", Required: []string{collectedInfoPattern}},
		"prd_generation":      {Label: "PRD Generation", Required: []string{prdPattern}},
		"srs_generation":      {Label: "SRS Generation", Required: []string{srsPattern}},
		"sds_generation":      {Label: "SDS Generation", Required: []string{sdsPattern}},
		"github_repo_setup":   {Label: "GitHub Repo Setup"},
		"issue_generation":    {Label: "Issue Generation", Required: []string{issueListPattern, dependencyGraphPattern}},
		"implementation":      {Label: "Implementation", Required: []string{workOrdersPattern}, Optional: []string{resultsPattern}},
		"pr_review":           {Label: "PR Review", Required: []string{reviewsPattern}},
	}
}

// EnhancementSpecs names required/optional artifacts for the enhancement
// pipeline. prd_update/srs_update/sds_update only fire when impact
// analysis widens scope to that document, so their outputs
// are optional from the validator's perspective: their absence does not
// block issue_generation, only their presence (when the prior stage ran)
// is checked.
func EnhancementSpecs() map[string]ArtifactSpec {
	return map[string]ArtifactSpec{
		"initialization":     {Label: "Initialization"},
		"document_reading":   {Label: "Document Reading", Optional: []string{prdPattern, srsPattern, sdsPattern}},
		"codebase_analysis":  {Label: "Codebase Analysis"},
		"code_reading":       {Label: "Code Reading"},
		"impact_analysis":    {Label: "Impact Analysis"},
		"prd_update":         {Label: "PRD Update", Optional: []string{prdPattern}},
		"srs_update":         {Label: "SRS Update", Optional: []string{srsPattern}},
		"sds_update":         {Label: "SDS Update", Optional: []string{sdsPattern}},
		"issue_generation":   {Label: "Issue Generation", Required: []string{issueListPattern, dependencyGraphPattern}},
		"regression_testing": {Label: "Regression Testing"},
		"implementation":     {Label: "Implementation", Required: []string{workOrdersPattern}, Optional: []string{resultsPattern}},
		"pr_review":          {Label: "PR Review", Required: []string{reviewsPattern}},
	}
}

// ImportSpecs names required/optional artifacts for the import pipeline.
func ImportSpecs() map[string]ArtifactSpec {
	return map[string]ArtifactSpec{
		"initialization": {Label: "Initialization"},
		"issue_import":   {Label: "Issue Import", Required: []string{issueListPattern, dependencyGraphPattern}},
		"implementation": {Label: "Implementation", Required: []string{workOrdersPattern}, Optional: []string{resultsPattern}},
		"pr_review":      {Label: "PR Review", Required: []string{reviewsPattern}},
	}
}

// SpecsForMode resolves a pipeline mode's artifact specs. Unknown modes
// return nil (every stage trivially valid).
func SpecsForMode(mode string) map[string]ArtifactSpec {
	switch mode {
	case "greenfield":
		return GreenfieldSpecs()
	case "enhancement":
		return EnhancementSpecs()
	case "import":
		return ImportSpecs()
	default:
		return nil
	}
}

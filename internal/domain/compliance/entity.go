package compliance

import (
	"encoding/json"
	"time"
)

// RunID identifies one analysis run
type RunID string

// RunStatus is the lifecycle state of a run
type RunStatus string

const (
	RunPending     RunStatus = "PENDING"
	RunNormalizing RunStatus = "NORMALIZING"
	RunClassifying RunStatus = "CLASSIFYING"
	RunAnalyzing   RunStatus = "ANALYZING"
	RunValidating  RunStatus = "VALIDATING"
	RunFinalizing  RunStatus = "FINALIZING"
	RunCompleted   RunStatus = "COMPLETED"
	RunFailed      RunStatus = "FAILED"
)

// Terminal reports whether no further stage may touch the run.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed
}

// DocumentType enum
type DocumentType string

const (
	DocumentPDF  DocumentType = "PDF"
	DocumentPNG  DocumentType = "PNG"
	DocumentJPG  DocumentType = "JPG"
	DocumentTIFF DocumentType = "TIFF"
)

// PageType is the drawing-type taxonomy assigned by the classifier
type PageType string

const (
	PageFloorPlan  PageType = "floor_plan"
	PageElevation  PageType = "elevation"
	PageSection    PageType = "section"
	PageSitePlan   PageType = "site_plan"
	PageDetail     PageType = "detail"
	PageSchedule   PageType = "schedule"
	PageTitleBlock PageType = "title_block"
	PageOther      PageType = "other"
)

// PageTypes lists every valid page type in taxonomy order.
var PageTypes = []PageType{
	PageFloorPlan, PageElevation, PageSection, PageSitePlan,
	PageDetail, PageSchedule, PageTitleBlock, PageOther,
}

// Status is the outcome of evaluating one requirement
type Status string

const (
	StatusCompliant   Status = "COMPLIANT"
	StatusWarning     Status = "WARNING"
	StatusCritical    Status = "CRITICAL"
	StatusNotAssessed Status = "NOT_ASSESSED"
)

// Confidence of a model verdict
type Confidence string

const (
	ConfidenceHigh   Confidence = "HIGH"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceLow    Confidence = "LOW"
)

// OverallStatus is the run-level verdict
type OverallStatus string

const (
	OverallPass        OverallStatus = "PASS"
	OverallConditional OverallStatus = "CONDITIONAL"
	OverallFail        OverallStatus = "FAIL"
)

// Priority attached to consolidated recommendations
type Priority string

const (
	PriorityHigh   Priority = "HIGH"
	PriorityMedium Priority = "MEDIUM"
	PriorityLow    Priority = "LOW"
)

// RequirementStatus is the curation state of a requirement in the knowledge base
type RequirementStatus string

const (
	RequirementDraft     RequirementStatus = "DRAFT"
	RequirementPublished RequirementStatus = "PUBLISHED"
	RequirementArchived  RequirementStatus = "ARCHIVED"
)

// StatusCounts tallies deduplicated results per status
type StatusCounts struct {
	Compliant   int `json:"compliant"`
	Warning     int `json:"warning"`
	Critical    int `json:"critical"`
	NotAssessed int `json:"not_assessed"`
}

// Aggregate Root: Run
type Run struct {
	ID              RunID          `json:"id"`
	DocumentURL     string         `json:"document_url"`
	DocumentType    DocumentType   `json:"document_type"`
	ExpectedPages   int            `json:"expected_pages"`
	CodeIDs         []string       `json:"code_ids"`
	BuildingType    string         `json:"building_type,omitempty"`
	Status          RunStatus      `json:"status"`
	CurrentStage    string         `json:"current_stage"`
	TotalChecks     int            `json:"total_checks"`
	ComplianceScore *float64       `json:"compliance_score,omitempty"`
	OverallStatus   *OverallStatus `json:"overall_status,omitempty"`
	Counts          StatusCounts   `json:"counts"`
	Conflicts       []Conflict     `json:"conflicts,omitempty"`
	FailedStage     string         `json:"failed_stage,omitempty"`
	ErrorMessage    string         `json:"error_message,omitempty"`
	StartedAt       *time.Time     `json:"started_at,omitempty"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// NormalizedPage is one rasterized page stored in object storage
type NormalizedPage struct {
	PageNumber int    `json:"page_number"`
	ImageKey   string `json:"image_key"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
}

// ClassifiedPage is a normalized page annotated with its drawing type
type ClassifiedPage struct {
	NormalizedPage
	PageType      PageType `json:"page_type"`
	Description   string   `json:"description"`
	ScaleDetected string   `json:"scale_detected,omitempty"`
}

// Applicability is either an explicit list or the wildcard "all".
type Applicability struct {
	All    bool
	Values []string
}

// AllApplicable is the wildcard applicability.
const AllApplicable = "all"

// Matches reports whether v is covered by the applicability filter.
func (a Applicability) Matches(v string) bool {
	if a.All {
		return true
	}
	for _, x := range a.Values {
		if x == v {
			return true
		}
	}
	return false
}

// Strings renders the filter back to its stored list form.
func (a Applicability) Strings() []string {
	if a.All {
		return []string{AllApplicable}
	}
	return a.Values
}

// ParseApplicability builds a filter from a stored list; any "all" entry makes it a wildcard.
func ParseApplicability(values []string) Applicability {
	var out Applicability
	for _, v := range values {
		if v == AllApplicable {
			return Applicability{All: true}
		}
		if v != "" {
			out.Values = append(out.Values, v)
		}
	}
	return out
}

// Requirement is a published code requirement from the knowledge base (read-only here)
type Requirement struct {
	ID                 string            `json:"id"`
	CodeID             string            `json:"code_id"`
	CodeRef            string            `json:"code_ref"`
	Category           string            `json:"category"`
	Title              string            `json:"title"`
	RequirementText    string            `json:"requirement_text"`
	CheckType          string            `json:"check_type"`
	Thresholds         json.RawMessage   `json:"thresholds,omitempty"`
	DrawingTypes       Applicability     `json:"-"`
	BuildingTypes      Applicability     `json:"-"`
	Spaces             Applicability     `json:"-"`
	Exceptions         []string          `json:"exceptions,omitempty"`
	ExtractionGuidance string            `json:"extraction_guidance"`
	EvaluationGuidance string            `json:"evaluation_guidance"`
	Status             RequirementStatus `json:"status"`
}

// MatrixPair joins one requirement with one applicable page. Never persisted.
type MatrixPair struct {
	Requirement Requirement
	Page        ClassifiedPage
}

// Result is the evaluation of one matrix pair
type Result struct {
	RequirementID  string          `json:"requirement_id"`
	CodeRef        string          `json:"code_ref"`
	Category       string          `json:"category"`
	PageNumber     int             `json:"page_number"`
	Status         Status          `json:"status"`
	Confidence     Confidence      `json:"confidence"`
	RequiredValue  string          `json:"required_value"`
	ProposedValue  string          `json:"proposed_value,omitempty"`
	Location       string          `json:"location,omitempty"`
	Notes          string          `json:"notes"`
	Recommendation string          `json:"recommendation,omitempty"`
	Raw            json.RawMessage `json:"raw,omitempty"`
}

// Conflict records that pages disagree on a requirement's status
type Conflict struct {
	RequirementID string        `json:"requirement_id"`
	CodeRef       string        `json:"code_ref"`
	Pages         []PageVerdict `json:"pages"`
}

// PageVerdict is one page's assessed status inside a conflict
type PageVerdict struct {
	PageNumber int    `json:"page_number"`
	Status     Status `json:"status"`
}

// Aggregate is the run-level outcome written once by the cross-validator
type Aggregate struct {
	Score     float64       `json:"compliance_score"`
	Overall   OverallStatus `json:"overall_status"`
	Counts    StatusCounts  `json:"counts"`
	Conflicts []Conflict    `json:"conflicts"`
}

// Finding is the persisted, immutable report line for one requirement
type Finding struct {
	ID             string          `json:"id"`
	RunID          RunID           `json:"run_id"`
	RequirementID  string          `json:"requirement_id"`
	CodeRef        string          `json:"code_ref"`
	Category       string          `json:"category"`
	PageNumber     int             `json:"page_number"`
	Status         Status          `json:"status"`
	Confidence     Confidence      `json:"confidence"`
	RequiredValue  string          `json:"required_value"`
	ProposedValue  string          `json:"proposed_value,omitempty"`
	Location       string          `json:"location,omitempty"`
	Notes          string          `json:"notes"`
	Recommendation string          `json:"recommendation,omitempty"`
	Raw            json.RawMessage `json:"raw,omitempty"`
	SortOrder      int             `json:"sort_order"`
	CreatedAt      time.Time       `json:"created_at"`
}

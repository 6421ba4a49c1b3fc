package models

// WorkflowType is the dispatch key for success handlers and engine webhooks.
type WorkflowType string

const (
	WorkflowTypeLeadEnrichment           WorkflowType = "LEAD_ENRICHMENT"
	WorkflowTypeEmailSequence            WorkflowType = "EMAIL_SEQUENCE"
	WorkflowTypeLeadRouting              WorkflowType = "LEAD_ROUTING"
	WorkflowTypeTargetAudienceTranslator WorkflowType = "TARGET_AUDIENCE_TRANSLATOR"
)

// WorkflowTypes lists the supported workflow types.
func WorkflowTypes() []WorkflowType {
	return []WorkflowType{
		WorkflowTypeLeadEnrichment,
		WorkflowTypeEmailSequence,
		WorkflowTypeLeadRouting,
		WorkflowTypeTargetAudienceTranslator,
	}
}

func (t WorkflowType) IsValid() bool {
	for _, known := range WorkflowTypes() {
		if t == known {
			return true
		}
	}

	return false
}

// Stage is a workflow's position in the outreach pipeline.
type Stage string

const (
	StageNone          Stage = ""
	StageScraping      Stage = "SCRAPING"
	StageEnrichment    Stage = "ENRICHMENT"
	StageEmailDrafting Stage = "EMAIL_DRAFTING"
)

// Next returns the stage that follows s, or StageNone at the end of the pipeline.
func (s Stage) Next() Stage {
	switch s {
	case StageScraping:
		return StageEnrichment
	case StageEnrichment:
		return StageEmailDrafting
	default:
		return StageNone
	}
}

// Workflow is an engine-side workflow registered for a company.
type Workflow struct {
	ID         string       `json:"id"`
	Name       string       `json:"name"`
	Type       WorkflowType `json:"type"        validate:"required"`
	CompanyID  string       `json:"company_id"  validate:"required"`
	ExternalID string       `json:"external_id"` // Engine-side workflow identifier
	Stage      Stage        `json:"stage,omitempty"`
}

// EffectiveStage returns the explicit stage or the one implied by the workflow type.
// Scraping workflows share the LEAD_ENRICHMENT type and must set their stage explicitly.
func (w *Workflow) EffectiveStage() Stage {
	if w.Stage != StageNone {
		return w.Stage
	}

	switch w.Type {
	case WorkflowTypeLeadEnrichment:
		return StageEnrichment
	case WorkflowTypeEmailSequence:
		return StageEmailDrafting
	default:
		return StageNone
	}
}

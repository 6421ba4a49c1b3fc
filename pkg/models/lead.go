package models

import "time"

// LeadStatus tracks where a lead sits in the outreach funnel.
type LeadStatus string

const (
	LeadStatusNew           LeadStatus = "NEW"
	LeadStatusContacted     LeadStatus = "CONTACTED"
	LeadStatusInterested    LeadStatus = "INTERESTED"
	LeadStatusNotInterested LeadStatus = "NOT_INTERESTED"
	LeadStatusMeetingBooked LeadStatus = "MEETING_BOOKED"
)

// Lead holds the fields the orchestrator mutates on behalf of completed workflows.
type Lead struct {
	ID             string         `json:"id"`
	CompanyID      string         `json:"company_id"`
	CampaignID     string         `json:"campaign_id,omitempty"`
	Name           string         `json:"name,omitempty"`
	Email          string         `json:"email,omitempty"`
	Status         LeadStatus     `json:"status"`
	EnrichmentData map[string]any `json:"enrichment_data,omitempty"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Reply is an inbound message from a lead awaiting classification.
type Reply struct {
	ID             string     `json:"id"`
	LeadID         string     `json:"lead_id"`
	CompanyID      string     `json:"company_id"`
	Body           string     `json:"body,omitempty"`
	Classification string     `json:"classification,omitempty"`
	ProcessedAt    *time.Time `json:"processed_at,omitempty"`
}

// Booking is a meeting scheduled from an interested reply.
type Booking struct {
	ID          string    `json:"id"`
	LeadID      string    `json:"lead_id"`
	CompanyID   string    `json:"company_id"`
	ReplyID     string    `json:"reply_id"`
	MeetingLink string    `json:"meeting_link"`
	CreatedAt   time.Time `json:"created_at"`
}

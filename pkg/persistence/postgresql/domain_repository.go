package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/leadpipe/orchestrator/pkg/models"
	"github.com/leadpipe/orchestrator/pkg/persistence"
)

type LeadRepository struct {
	db *sql.DB
}

func NewLeadRepository(db *sql.DB) *LeadRepository {
	return &LeadRepository{db: db}
}

func (r *LeadRepository) Save(ctx context.Context, lead *models.Lead) error {
	enrichmentJSON, err := marshalJSONB(lead.EnrichmentData)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO leads (id, company_id, campaign_id, name, email, status, enrichment_data, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			company_id = EXCLUDED.company_id,
			campaign_id = EXCLUDED.campaign_id,
			name = EXCLUDED.name,
			email = EXCLUDED.email,
			status = EXCLUDED.status,
			enrichment_data = EXCLUDED.enrichment_data,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		lead.ID, lead.CompanyID, lead.CampaignID, lead.Name, lead.Email,
		string(lead.Status), enrichmentJSON, lead.UpdatedAt,
	)
	if err != nil {
		return persistence.NewEntityError("Save", "lead", lead.ID, err)
	}

	return nil
}

func (r *LeadRepository) GetByID(ctx context.Context, id string) (*models.Lead, error) {
	var (
		lead           models.Lead
		status         string
		enrichmentJSON []byte
	)

	query := `SELECT id, company_id, campaign_id, name, email, status, enrichment_data, updated_at FROM leads WHERE id = $1`

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&lead.ID, &lead.CompanyID, &lead.CampaignID, &lead.Name, &lead.Email,
		&status, &enrichmentJSON, &lead.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewEntityError("GetByID", "lead", id, persistence.ErrLeadNotFound)
		}

		return nil, persistence.NewEntityError("GetByID", "lead", id, err)
	}

	lead.Status = models.LeadStatus(status)

	lead.EnrichmentData, err = unmarshalJSONB(enrichmentJSON)
	if err != nil {
		return nil, err
	}

	return &lead, nil
}

type ReplyRepository struct {
	db *sql.DB
}

func NewReplyRepository(db *sql.DB) *ReplyRepository {
	return &ReplyRepository{db: db}
}

func (r *ReplyRepository) Save(ctx context.Context, reply *models.Reply) error {
	query := `
		INSERT INTO replies (id, lead_id, company_id, body, classification, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			body = EXCLUDED.body,
			classification = EXCLUDED.classification,
			processed_at = EXCLUDED.processed_at
	`

	_, err := r.db.ExecContext(ctx, query,
		reply.ID, reply.LeadID, reply.CompanyID, reply.Body, reply.Classification, reply.ProcessedAt,
	)
	if err != nil {
		return persistence.NewEntityError("Save", "reply", reply.ID, err)
	}

	return nil
}

func (r *ReplyRepository) GetByID(ctx context.Context, id string) (*models.Reply, error) {
	var (
		reply       models.Reply
		processedAt sql.NullTime
	)

	query := `SELECT id, lead_id, company_id, body, classification, processed_at FROM replies WHERE id = $1`

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&reply.ID, &reply.LeadID, &reply.CompanyID, &reply.Body, &reply.Classification, &processedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewEntityError("GetByID", "reply", id, persistence.ErrReplyNotFound)
		}

		return nil, persistence.NewEntityError("GetByID", "reply", id, err)
	}

	if processedAt.Valid {
		processed := processedAt.Time
		reply.ProcessedAt = &processed
	}

	return &reply, nil
}

type BookingRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewBookingRepository(db *sql.DB, logger *slog.Logger) *BookingRepository {
	return &BookingRepository{db: db, logger: logger}
}

func (r *BookingRepository) Create(ctx context.Context, booking *models.Booking) error {
	query := `
		INSERT INTO bookings (id, lead_id, company_id, reply_id, meeting_link, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.db.ExecContext(ctx, query,
		booking.ID, booking.LeadID, booking.CompanyID, booking.ReplyID, booking.MeetingLink, booking.CreatedAt,
	)
	if err != nil {
		return persistence.NewEntityError("Create", "booking", booking.ID, err)
	}

	return nil
}

func (r *BookingRepository) ListByLead(ctx context.Context, leadID string) ([]*models.Booking, error) {
	query := `SELECT id, lead_id, company_id, reply_id, meeting_link, created_at FROM bookings
		WHERE lead_id = $1 ORDER BY created_at ASC`

	rows, err := r.db.QueryContext(ctx, query, leadID)
	if err != nil {
		return nil, fmt.Errorf("failed to query bookings: %w", err)
	}
	defer closeRows(ctx, r.logger, rows)

	bookings := make([]*models.Booking, 0)

	for rows.Next() {
		var booking models.Booking

		err := rows.Scan(&booking.ID, &booking.LeadID, &booking.CompanyID, &booking.ReplyID, &booking.MeetingLink, &booking.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}

		bookings = append(bookings, &booking)
	}

	return bookings, rows.Err()
}

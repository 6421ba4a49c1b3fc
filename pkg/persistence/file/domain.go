package file

import (
	"context"
	"sort"

	"github.com/leadpipe/orchestrator/pkg/models"
	"github.com/leadpipe/orchestrator/pkg/persistence"
)

type LeadRepository struct {
	store *jsonStore[models.Lead]
}

func NewLeadRepository(root string) *LeadRepository {
	return &LeadRepository{store: newJSONStore[models.Lead](root, "leads")}
}

func (r *LeadRepository) Save(_ context.Context, lead *models.Lead) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	return r.store.write(lead.ID, lead)
}

func (r *LeadRepository) GetByID(_ context.Context, id string) (*models.Lead, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	lead, err := r.store.read(id)
	if err != nil {
		if isMissing(err) {
			return nil, persistence.NewEntityError("GetByID", "lead", id, persistence.ErrLeadNotFound)
		}

		return nil, persistence.NewEntityError("GetByID", "lead", id, err)
	}

	return lead, nil
}

type ReplyRepository struct {
	store *jsonStore[models.Reply]
}

func NewReplyRepository(root string) *ReplyRepository {
	return &ReplyRepository{store: newJSONStore[models.Reply](root, "replies")}
}

func (r *ReplyRepository) Save(_ context.Context, reply *models.Reply) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	return r.store.write(reply.ID, reply)
}

func (r *ReplyRepository) GetByID(_ context.Context, id string) (*models.Reply, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	reply, err := r.store.read(id)
	if err != nil {
		if isMissing(err) {
			return nil, persistence.NewEntityError("GetByID", "reply", id, persistence.ErrReplyNotFound)
		}

		return nil, persistence.NewEntityError("GetByID", "reply", id, err)
	}

	return reply, nil
}

type BookingRepository struct {
	store *jsonStore[models.Booking]
}

func NewBookingRepository(root string) *BookingRepository {
	return &BookingRepository{store: newJSONStore[models.Booking](root, "bookings")}
}

func (r *BookingRepository) Create(_ context.Context, booking *models.Booking) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	return r.store.write(booking.ID, booking)
}

func (r *BookingRepository) ListByLead(_ context.Context, leadID string) ([]*models.Booking, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	bookings, err := r.store.all()
	if err != nil {
		return nil, err
	}

	result := make([]*models.Booking, 0)

	for _, booking := range bookings {
		if booking.LeadID == leadID {
			result = append(result, booking)
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	return result, nil
}

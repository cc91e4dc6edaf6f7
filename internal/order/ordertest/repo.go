// Package ordertest provides an in-memory order repository for tests.
package ordertest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/joelyan00/fongbeeV1-sub002/internal/order"
	"github.com/joelyan00/fongbeeV1-sub002/internal/wallet"
)

// Repo implements order.Repository and order.CaptureStore with the same
// conditional-write semantics as the Postgres implementation.
type Repo struct {
	mu      sync.Mutex
	seq     int
	orders  map[string]*order.Order
	ledger  []wallet.Posting
	fees    map[string]decimal.Decimal
	reasons map[string]string
}

func NewRepo() *Repo {
	return &Repo{
		orders:  make(map[string]*order.Order),
		fees:    make(map[string]decimal.Decimal),
		reasons: make(map[string]string),
	}
}

// Add seeds an order, assigning an id and version if unset, and returns a
// snapshot of the stored value.
func (r *Repo) Add(o order.Order) order.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o.ID == "" {
		r.seq++
		o.ID = "order-" + time.Now().Format("150405") + "-" + string(rune('a'+r.seq%26))
	}
	if o.Version == 0 {
		o.Version = 1
	}
	if o.CaptureStatus == "" {
		o.CaptureStatus = order.CaptureUncaptured
	}
	stored := o
	r.orders[o.ID] = &stored
	return o
}

// Get returns a snapshot of a stored order for assertions.
func (r *Repo) Get(id string) order.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.orders[id]
}

// Postings returns every ledger posting applied through MarkCaptured.
func (r *Repo) Postings() []wallet.Posting {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]wallet.Posting, len(r.ledger))
	copy(out, r.ledger)
	return out
}

// CancelReason returns the annotation recorded via SetCancelReason.
func (r *Repo) CancelReason(id string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o, ok := r.orders[id]; ok && o.CancelReason != nil {
		return *o.CancelReason
	}
	return r.reasons[id]
}

func (r *Repo) Create(_ context.Context, o *order.Order) error {
	stored := r.Add(*o)
	o.ID = stored.ID
	o.Version = stored.Version
	o.CreatedAt = time.Now()
	o.UpdatedAt = o.CreatedAt
	return nil
}

func (r *Repo) GetByID(_ context.Context, id string) (*order.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	snapshot := *o
	return &snapshot, nil
}

func (r *Repo) GetByPaymentIntent(_ context.Context, intentID string) (*order.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.orders {
		if o.PaymentIntentID != nil && *o.PaymentIntentID == intentID {
			snapshot := *o
			return &snapshot, nil
		}
	}
	return nil, order.ErrNotFound
}

func (r *Repo) UpdateStatus(_ context.Context, id string, expectedVersion int64, to order.Status, set *order.StatusUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return order.ErrNotFound
	}
	if o.Version != expectedVersion {
		return order.ErrConcurrencyConflict
	}
	o.Status = to
	o.Version++
	o.UpdatedAt = time.Now()
	if set != nil {
		if set.CancelDeadline != nil {
			o.CancelDeadline = set.CancelDeadline
		}
		if set.CancelReason != nil {
			o.CancelReason = set.CancelReason
		}
		if set.CaptureStatus != nil {
			o.CaptureStatus = *set.CaptureStatus
		}
		if set.PlatformFee != nil {
			o.PlatformFee = set.PlatformFee
		}
		if set.RatingScore != nil {
			o.RatingScore = set.RatingScore
		}
		if set.RatingComment != nil {
			o.RatingComment = set.RatingComment
		}
	}
	return nil
}

func (r *Repo) SetPaymentIntent(_ context.Context, id, intentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return order.ErrNotFound
	}
	o.PaymentIntentID = &intentID
	return nil
}

func (r *Repo) SetCancelReason(_ context.Context, id, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return order.ErrNotFound
	}
	o.CancelReason = &reason
	r.reasons[id] = reason
	return nil
}

func (r *Repo) FindCapturable(_ context.Context, now time.Time, limit int) ([]*order.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*order.Order
	for _, o := range r.orders {
		if o.Status == order.StatusAuthHold &&
			o.CaptureStatus == order.CaptureUncaptured &&
			o.CancelDeadline != nil && o.CancelDeadline.Before(now) {
			snapshot := *o
			out = append(out, &snapshot)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CancelDeadline.Before(*out[j].CancelDeadline)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *Repo) ListByUser(_ context.Context, userID string, limit int) ([]*order.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*order.Order
	for _, o := range r.orders {
		if o.UserID == userID || (o.ProviderID != nil && *o.ProviderID == userID) {
			snapshot := *o
			out = append(out, &snapshot)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *Repo) MarkCaptured(_ context.Context, orderID string, fee decimal.Decimal, postings []wallet.Posting) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[orderID]
	if !ok {
		return false, order.ErrNotFound
	}
	if o.CaptureStatus != order.CaptureUncaptured {
		return false, nil
	}
	o.CaptureStatus = order.CaptureCaptured
	o.PlatformFee = &fee
	r.fees[orderID] = fee
	r.ledger = append(r.ledger, postings...)
	return true, nil
}

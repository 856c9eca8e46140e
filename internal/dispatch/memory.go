package dispatch

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"fractional-ledger/internal/distribution"
	"fractional-ledger/internal/governance"
)

// Recorder keeps execution orders and payouts in memory. It stands in for
// the NATS collaborators when the service runs without a broker.
type Recorder struct {
	mu      sync.Mutex
	orders  []governance.ExecutionOrder
	payouts []distribution.Payout
	logger  *zap.Logger
}

// NewRecorder creates an empty recorder.
func NewRecorder(logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{logger: logger.Named("recorder")}
}

func (r *Recorder) Dispatch(_ context.Context, order governance.ExecutionOrder) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders = append(r.orders, order)
	r.logger.Info("execution order recorded", zap.String("proposal_id", order.ProposalID), zap.String("target_ref", order.TargetRef))
	return nil
}

func (r *Recorder) Pay(_ context.Context, po distribution.Payout) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payouts = append(r.payouts, po)
	r.logger.Debug("payout recorded", zap.String("payment_id", po.PaymentID), zap.String("holder", po.Holder), zap.String("amount", po.Amount.Dec()))
	return nil
}

// Orders returns the recorded execution orders.
func (r *Recorder) Orders() []governance.ExecutionOrder {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]governance.ExecutionOrder(nil), r.orders...)
}

// Payouts returns the recorded payouts.
func (r *Recorder) Payouts() []distribution.Payout {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]distribution.Payout(nil), r.payouts...)
}

var (
	_ governance.Dispatcher = (*Recorder)(nil)
	_ distribution.Payer    = (*Recorder)(nil)
	_ governance.Dispatcher = (*NATSDispatcher)(nil)
	_ distribution.Payer    = (*NATSPayer)(nil)
)

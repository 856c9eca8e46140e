// Package dispatch delivers the side effects the engines decide on:
// proposal execution orders and holder payouts.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"fractional-ledger/internal/distribution"
	"fractional-ledger/internal/governance"
)

// DefaultTimeout bounds a publish flush or a payout request.
const DefaultTimeout = 5 * time.Second

// Connect opens a NATS connection that keeps reconnecting in the
// background.
func Connect(url, name string, logger *zap.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", url, err)
	}
	return nc, nil
}

// NATSDispatcher publishes execution orders as JSON to a subject.
type NATSDispatcher struct {
	conn    *nats.Conn
	subject string
	timeout time.Duration
	logger  *zap.Logger
}

// NewNATSDispatcher creates a dispatcher publishing to subject.<asset_id>.
func NewNATSDispatcher(conn *nats.Conn, subject string, logger *zap.Logger) *NATSDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSDispatcher{conn: conn, subject: subject, timeout: DefaultTimeout, logger: logger.Named("dispatch")}
}

// Dispatch publishes the order and waits until the server has it.
func (d *NATSDispatcher) Dispatch(ctx context.Context, order governance.ExecutionOrder) error {
	payload, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("marshal order %s: %w", order.ProposalID, err)
	}
	subject := fmt.Sprintf("%s.%s", d.subject, order.AssetID)
	if err := d.conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	if err := d.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flush %s: %w", subject, err)
	}

	d.logger.Info("execution order dispatched",
		zap.String("proposal_id", order.ProposalID),
		zap.String("subject", subject),
		zap.Int("payload_bytes", len(order.Payload)),
	)
	return nil
}

// PayoutReply is the answer of the payment rail to a payout request.
type PayoutReply struct {
	OK        bool   `json:"ok"`
	Reference string `json:"reference,omitempty"`
	Error     string `json:"error,omitempty"`
}

type payoutMessage struct {
	PaymentID string `json:"payment_id"`
	AssetID   string `json:"asset_id"`
	Holder    string `json:"holder"`
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
}

// ErrPayoutRejected is returned when the payment rail declines a payout.
var ErrPayoutRejected = errors.New("payout rejected")

// NATSPayer requests payouts from a payment rail over NATS request/reply.
type NATSPayer struct {
	conn    *nats.Conn
	subject string
	timeout time.Duration
}

// NewNATSPayer creates a payer sending requests to subject.
func NewNATSPayer(conn *nats.Conn, subject string) *NATSPayer {
	return &NATSPayer{conn: conn, subject: subject, timeout: DefaultTimeout}
}

// Pay succeeds only when the rail replies ok.
func (p *NATSPayer) Pay(ctx context.Context, po distribution.Payout) error {
	payload, err := json.Marshal(payoutMessage{
		PaymentID: po.PaymentID,
		AssetID:   po.AssetID,
		Holder:    po.Holder,
		Amount:    po.Amount.Dec(),
		Currency:  po.Currency,
	})
	if err != nil {
		return fmt.Errorf("marshal payout: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	msg, err := p.conn.RequestWithContext(ctx, p.subject, payload)
	if err != nil {
		return fmt.Errorf("payout request %s/%s: %w", po.PaymentID, po.Holder, err)
	}
	var reply PayoutReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return fmt.Errorf("decode payout reply: %w", err)
	}
	if !reply.OK {
		return fmt.Errorf("%s: %w", reply.Error, ErrPayoutRejected)
	}
	return nil
}

package intake

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"fractional-ledger/internal/fixedpoint"
)

// PaymentMessage is the wire form of an incoming payment. Amount is a
// base-unit integer string.
type PaymentMessage struct {
	AssetID  string `json:"asset_id"`
	Payer    string `json:"payer"`
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

// PaymentReply answers a payment request when the sender asked for one.
type PaymentReply struct {
	OK         bool   `json:"ok"`
	PaymentID  string `json:"payment_id,omitempty"`
	Pages      int    `json:"pages,omitempty"`
	NextCursor string `json:"next_cursor,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Runner feeds payments from a NATS subject into a Processor.
type Runner struct {
	conn      *nats.Conn
	subject   string
	queue     string
	processor *Processor
	buffer    int
	logger    *zap.Logger
}

// RunnerOptions contains configuration for creating a Runner.
type RunnerOptions struct {
	Conn      *nats.Conn
	Subject   string
	Queue     string // optional queue group for load-balanced consumers
	Processor *Processor
	Buffer    int // Default: 64
	Logger    *zap.Logger
}

// NewRunner creates a new intake runner.
func NewRunner(opts RunnerOptions) *Runner {
	if opts.Buffer <= 0 {
		opts.Buffer = 64
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Runner{
		conn:      opts.Conn,
		subject:   opts.Subject,
		queue:     opts.Queue,
		processor: opts.Processor,
		buffer:    opts.Buffer,
		logger:    opts.Logger.Named("intake-runner"),
	}
}

// Run consumes payments until ctx is cancelled. Messages are processed one
// at a time in arrival order.
func (r *Runner) Run(ctx context.Context) error {
	msgs := make(chan *nats.Msg, r.buffer)

	var (
		sub *nats.Subscription
		err error
	)
	if r.queue != "" {
		sub, err = r.conn.ChanQueueSubscribe(r.subject, r.queue, msgs)
	} else {
		sub, err = r.conn.ChanSubscribe(r.subject, msgs)
	}
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", r.subject, err)
	}
	defer func() {
		if err := sub.Unsubscribe(); err != nil {
			r.logger.Warn("unsubscribe failed", zap.Error(err))
		}
	}()

	r.logger.Info("intake runner started", zap.String("subject", r.subject), zap.String("queue", r.queue))

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("intake runner stopping")
			return ctx.Err()
		case msg := <-msgs:
			r.handle(ctx, msg)
		}
	}
}

func (r *Runner) handle(ctx context.Context, msg *nats.Msg) {
	reply := r.process(ctx, msg.Data)
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(reply)
	if err != nil {
		r.logger.Error("marshal reply", zap.Error(err))
		return
	}
	if err := msg.Respond(data); err != nil {
		r.logger.Warn("reply failed", zap.String("reply", msg.Reply), zap.Error(err))
	}
}

func (r *Runner) process(ctx context.Context, data []byte) PaymentReply {
	var m PaymentMessage
	if err := json.Unmarshal(data, &m); err != nil {
		r.logger.Warn("malformed payment message", zap.Error(err))
		return PaymentReply{Error: fmt.Sprintf("decode: %v", err)}
	}
	amount, err := fixedpoint.ParseUnits(m.Amount)
	if err != nil {
		r.logger.Warn("malformed payment amount", zap.String("amount", m.Amount), zap.Error(err))
		return PaymentReply{Error: err.Error()}
	}

	receipt, err := r.processor.Process(ctx, Payment{
		AssetID:  m.AssetID,
		Payer:    m.Payer,
		Amount:   amount,
		Currency: m.Currency,
	})
	if receipt == nil {
		r.logger.Warn("payment rejected", zap.String("asset_id", m.AssetID), zap.Error(err))
		return PaymentReply{Error: err.Error()}
	}

	reply := PaymentReply{OK: err == nil, PaymentID: receipt.Record.PaymentID, Pages: len(receipt.Pages)}
	if n := len(receipt.Pages); n > 0 {
		reply.NextCursor = receipt.Pages[n-1].NextCursor
	}
	if err != nil {
		reply.Error = err.Error()
	}
	return reply
}

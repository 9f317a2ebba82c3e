package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/84hero/burn-notifier/pkg/decoder"
	"github.com/84hero/burn-notifier/pkg/dedup"
	"github.com/84hero/burn-notifier/pkg/enrich"
	"github.com/84hero/burn-notifier/pkg/notify"
	"github.com/84hero/burn-notifier/pkg/sink"
)

// RawTransferEvent is one transaction from an inbound webhook batch.
type RawTransferEvent struct {
	Hash  string `json:"hash"`
	Input string `json:"input"`
}

// Status is the result of processing one event.
type Status int

const (
	StatusSkipped Status = iota
	StatusProcessed
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusSkipped:
		return "skipped"
	case StatusProcessed:
		return "processed"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome records what happened to one event.
type Outcome struct {
	Hash       string
	Status     Status
	Err        error // Why the event failed
	Transfer   *decoder.Transfer
	Enrichment *enrich.Enrichment

	// DeliveryErr is set when the chat message was rejected. It does not change Status.
	DeliveryErr error
}

// Report collects the outcomes of one batch, in input order.
type Report struct {
	Outcomes []Outcome
}

// Counts returns how many events ended in each status.
func (r *Report) Counts() map[Status]int {
	counts := make(map[Status]int, 3)
	for _, o := range r.Outcomes {
		counts[o.Status]++
	}
	return counts
}

// Resolver fetches enrichment for a decoded transfer.
type Resolver interface {
	Resolve(ctx context.Context, t *decoder.Transfer) (*enrich.Enrichment, error)
}

// Notifier delivers alerts to the chat channel.
type Notifier interface {
	SendPhoto(ctx context.Context, p notify.Payload) error
	SendText(ctx context.Context, text string) error
}

// Pipeline turns webhook batches into burn alerts.
type Pipeline struct {
	seen      *dedup.Cache
	resolver  Resolver
	formatter *notify.Formatter
	notifier  Notifier
	outputs   []sink.Output
}

// New creates a pipeline. seen is shared by every batch processed through it.
func New(seen *dedup.Cache, resolver Resolver, formatter *notify.Formatter, notifier Notifier, outputs ...sink.Output) *Pipeline {
	return &Pipeline{
		seen:      seen,
		resolver:  resolver,
		formatter: formatter,
		notifier:  notifier,
		outputs:   outputs,
	}
}

// Process handles every event of a batch in order and never stops early.
// Safe to call from concurrent batches.
func (p *Pipeline) Process(ctx context.Context, events []RawTransferEvent) *Report {
	report := &Report{Outcomes: make([]Outcome, 0, len(events))}
	var records []sink.Record

	for _, ev := range events {
		out := p.processOne(ctx, ev)
		report.Outcomes = append(report.Outcomes, out)
		if out.Status != StatusSkipped {
			records = append(records, toRecord(out))
		}
	}

	if len(records) > 0 && len(p.outputs) > 0 {
		sink.Fanout(ctx, p.outputs, records)
	}

	counts := report.Counts()
	log.Info("Batch complete",
		"events", len(events),
		"processed", counts[StatusProcessed],
		"skipped", counts[StatusSkipped],
		"failed", counts[StatusFailed])

	return report
}

func (p *Pipeline) processOne(ctx context.Context, ev RawTransferEvent) Outcome {
	out := Outcome{Hash: ev.Hash}

	// 1. Dedup. The hash stays remembered even if a later step fails.
	if !p.seen.TryRemember(ev.Hash) {
		log.Info("Duplicate transaction skipped", "tx", ev.Hash)
		out.Status = StatusSkipped
		return out
	}

	// 2. Decode
	transfer, err := decoder.DecodeTransfer(ev.Input)
	if err != nil {
		return p.fail(ctx, out, err)
	}
	out.Transfer = transfer

	// 3. Enrich
	enrichment, err := p.resolver.Resolve(ctx, transfer)
	if err != nil {
		return p.fail(ctx, out, err)
	}
	out.Enrichment = enrichment

	// 4. Format and send
	payload, err := p.formatter.Format(ev.Hash, transfer, enrichment)
	if err != nil {
		return p.fail(ctx, out, err)
	}

	out.Status = StatusProcessed
	if err := p.notifier.SendPhoto(ctx, payload); err != nil {
		log.Error("Failed to deliver burn alert", "tx", ev.Hash, "err", err)
		out.DeliveryErr = err
		return out
	}

	log.Info("Burn alert sent", "tx", ev.Hash, "amount", transfer.Amount, "total_burned", enrichment.TotalBurned)
	return out
}

// fail marks the event failed and posts a diagnostic message, best effort.
func (p *Pipeline) fail(ctx context.Context, out Outcome, err error) Outcome {
	out.Status = StatusFailed
	out.Err = err

	var decErr *decoder.DecodeError
	var enrichErr *enrich.EnrichmentError
	switch {
	case errors.As(err, &decErr):
		log.Warn("Failed to decode transfer", "tx", out.Hash, "err", err)
	case errors.As(err, &enrichErr):
		log.Warn("Failed to enrich transfer", "tx", out.Hash, "source", enrichErr.Source, "err", err)
	default:
		log.Error("Failed to process transfer", "tx", out.Hash, "err", err)
	}

	if sendErr := p.notifier.SendText(ctx, p.formatter.FormatFailure(out.Hash, err)); sendErr != nil {
		log.Error("Failed to deliver diagnostic message", "tx", out.Hash, "err", sendErr)
		out.DeliveryErr = sendErr
	}
	return out
}

func toRecord(o Outcome) sink.Record {
	r := sink.Record{
		TxHash:     o.Hash,
		Status:     o.Status.String(),
		ObservedAt: time.Now().UTC(),
	}
	if o.Transfer != nil {
		r.Recipient = o.Transfer.Recipient.Hex()
		r.Amount = o.Transfer.Amount.String()
	}
	if o.Enrichment != nil {
		r.TotalBurned = o.Enrichment.TotalBurned.String()
		if o.Enrichment.UnitPriceUSD.Valid {
			price := o.Enrichment.UnitPriceUSD.Decimal
			r.UnitPriceUSD = &price
		}
	}
	if o.Err != nil {
		r.Error = o.Err.Error()
	}
	return r
}

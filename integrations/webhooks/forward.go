package webhooks

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"

	"factorchain/core/events"
	"factorchain/native/factoring"
)

var loanEvents = map[string]EventType{
	factoring.EventTypeLoanFunded:    EventLoanFunded,
	factoring.EventTypeLoanRepaid:    EventLoanRepaid,
	factoring.EventTypeLoanDefaulted: EventLoanDefaulted,
}

// Forward enqueues every live loan lifecycle event published on stream
// until ctx is cancelled. When the subscription falls behind it resubscribes
// from the last forwarded cursor and replays the gap from stream history.
func (d *Dispatcher) Forward(ctx context.Context, stream *events.Stream) error {
	if d == nil || stream == nil {
		return errors.New("webhook: dispatcher and stream required")
	}
	var last uint64
	for {
		resync, err := d.forward(ctx, stream, &last)
		if err != nil || !resync {
			return err
		}
		d.logger.Warn("webhook forwarder resubscribing after gap", slog.Uint64("cursor", last))
	}
}

func (d *Dispatcher) forward(ctx context.Context, stream *events.Stream, last *uint64) (bool, error) {
	subCtx, cancelSub := context.WithCancel(ctx)
	defer cancelSub()
	cursor := ""
	if *last > 0 {
		cursor = strconv.FormatUint(*last, 10)
	}
	updates, cancel, backlog := stream.Subscribe(subCtx, cursor)
	defer cancel()

	for _, record := range backlog {
		if err := d.forwardRecord(record, last); err != nil {
			return false, err
		}
	}
	for {
		select {
		case <-ctx.Done():
			return false, nil
		case record, ok := <-updates:
			if !ok {
				return false, nil
			}
			if *last > 0 && record.Sequence <= *last {
				continue
			}
			if *last > 0 && record.Sequence > *last+1 {
				return true, nil
			}
			if err := d.forwardRecord(record, last); err != nil {
				return false, err
			}
		}
	}
}

func (d *Dispatcher) forwardRecord(record events.Record, last *uint64) error {
	*last = record.Sequence
	payload, ok := loanPayload(record)
	if !ok {
		return nil
	}
	return d.EnqueueLoanEvent(payload)
}

func loanPayload(record events.Record) (LoanEventPayload, bool) {
	if record.Event == nil {
		return LoanEventPayload{}, false
	}
	kind, ok := loanEvents[strings.TrimSpace(record.Event.Type)]
	if !ok {
		return LoanEventPayload{}, false
	}
	attrs := make(map[string]string, len(record.Event.Attributes))
	for k, v := range record.Event.Attributes {
		attrs[k] = v
	}
	return LoanEventPayload{
		Type:       kind,
		Sequence:   record.Sequence,
		InvoiceID:  attrs["invoiceId"],
		Attributes: attrs,
	}, true
}

package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/BTreeMap/MailPipe/internal/instrumentation"
	"github.com/BTreeMap/MailPipe/internal/logging"
	"github.com/BTreeMap/MailPipe/internal/models"
)

// Dispatcher sends approved emails. Each email is independent: one failure
// never stops the others.
type Dispatcher struct {
	mail        MailGateway
	receipts    ReceiptRecorder
	metrics     *instrumentation.Metrics
	concurrency int
	now         func() time.Time
}

// NewDispatcher creates a dispatcher. receipts and metrics may be nil.
func NewDispatcher(mail MailGateway, receipts ReceiptRecorder, metrics *instrumentation.Metrics, concurrency int) *Dispatcher {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Dispatcher{mail: mail, receipts: receipts, metrics: metrics, concurrency: concurrency, now: time.Now}
}

// Dispatch sends every email and reports per-email outcomes in input order.
func (d *Dispatcher) Dispatch(ctx context.Context, threadID, userToken string, emails []models.ComposedEmail) models.DispatchReport {
	results := make([]models.DispatchResult, len(emails))
	var g errgroup.Group
	g.SetLimit(d.concurrency)
	for i, e := range emails {
		g.Go(func() error {
			results[i] = d.sendOne(ctx, userToken, e)
			return nil
		})
	}
	_ = g.Wait()

	report := models.DispatchReport{Results: results}
	for _, r := range results {
		d.metrics.RecordDispatch(ctx, r.Succeeded())
		d.recordReceipt(ctx, threadID, r)
	}
	slog.Info("Dispatcher.Dispatch: batch finished", logging.KeyThread, threadID, "sent", report.SentCount(), "total", len(results))
	return report
}

func (d *Dispatcher) sendOne(ctx context.Context, userToken string, e models.ComposedEmail) models.DispatchResult {
	if err := e.Validate(); err != nil {
		return models.DispatchResult{Email: e, Err: err.Error()}
	}
	id, err := d.mail.SendMessage(ctx, userToken, e.To, e.Subject, e.Body)
	if err != nil {
		slog.Warn("Dispatcher.sendOne: send failed", logging.Recipient(e.To), logging.Err(err))
		return models.DispatchResult{Email: e, Err: err.Error()}
	}
	return models.DispatchResult{Email: e, MessageID: id}
}

func (d *Dispatcher) recordReceipt(ctx context.Context, threadID string, r models.DispatchResult) {
	if d.receipts == nil {
		return
	}
	status := models.DeliveryStatusSent
	if !r.Succeeded() {
		status = models.DeliveryStatusFailed
	}
	err := d.receipts.AddReceipt(ctx, models.DeliveryReceipt{
		ThreadID:  threadID,
		To:        r.Email.To,
		ToName:    r.Email.ToName,
		Subject:   r.Email.Subject,
		Status:    status,
		MessageID: r.MessageID,
		Error:     r.Err,
		Time:      d.now(),
	})
	if err != nil {
		slog.Error("Dispatcher.recordReceipt: failed to store receipt", logging.KeyThread, threadID, logging.Err(err))
	}
}

// FormatReport renders a dispatch report for the user.
func FormatReport(r models.DispatchReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Sent %d of %d email(s).", r.SentCount(), len(r.Results))
	for _, res := range r.Results {
		if res.Succeeded() {
			fmt.Fprintf(&b, "\n✓ %s <%s>", res.Email.DisplayName(), res.Email.To)
		} else {
			fmt.Fprintf(&b, "\n✗ %s <%s>: %s", res.Email.DisplayName(), res.Email.To, res.Err)
		}
	}
	return b.String()
}

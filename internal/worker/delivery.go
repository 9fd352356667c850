// Package worker runs the background loops: the invitation delivery
// processor consuming the Redis job queue, and the completion sweeper
// closing sessions whose scheduled window has elapsed.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pulsehub/backend/internal/invitations"
	"github.com/pulsehub/backend/internal/models"
	"github.com/pulsehub/backend/pkg/mailer"
	"github.com/pulsehub/backend/pkg/queue"
)

// DeliveryProcessor consumes invitation delivery jobs: send the invitation
// email, record the delivery attempt, and mark the invitation sent.
type DeliveryProcessor struct {
	invRepo    *invitations.Repository
	mail       *mailer.Mailer
	queue      *queue.Queue
	inviteBase string
	logger     *zap.Logger
}

// NewDeliveryProcessor creates an invitation delivery processor.
func NewDeliveryProcessor(invRepo *invitations.Repository, mail *mailer.Mailer, q *queue.Queue, inviteBase string, logger *zap.Logger) *DeliveryProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DeliveryProcessor{invRepo: invRepo, mail: mail, queue: q, inviteBase: inviteBase, logger: logger}
}

// Process executes one delivery job.
func (p *DeliveryProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeInvitationEmail {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.InvitationEmailPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	inv, err := p.invRepo.GetByID(ctx, payload.InvitationID)
	if err != nil {
		return fmt.Errorf("invitation not found: %s", payload.InvitationID)
	}
	if inv.Status.Terminal() {
		p.logger.Info("invitation no longer deliverable, skipping",
			zap.String("invitation_id", inv.ID.String()),
			zap.String("status", string(inv.Status)))
		return nil
	}

	link := fmt.Sprintf("%s/%s", p.inviteBase, payload.Token)
	body := invitationEmailBody(payload.Subject, link)

	sendErr := p.mail.Send(ctx, payload.Recipient, payload.Subject, body)

	delivery := &models.InvitationDelivery{
		MicroclimateID: payload.MicroclimateID,
		InvitationID:   payload.InvitationID,
		Recipient:      payload.Recipient,
		Channel:        "email",
	}
	if sendErr != nil {
		delivery.Status = "failed"
		delivery.ErrorMessage = sendErr.Error()
	} else {
		now := time.Now()
		delivery.Status = "sent"
		delivery.SentAt = &now
	}
	if logErr := p.invRepo.LogDelivery(ctx, delivery); logErr != nil {
		p.logger.Error("log delivery failed", zap.Error(logErr),
			zap.String("invitation_id", payload.InvitationID.String()))
	}
	if sendErr != nil {
		return fmt.Errorf("send email: %w", sendErr)
	}

	// Mark sent if the invitation has not already advanced past that stage.
	if inv.Status.Rank() < models.InvitationSent.Rank() {
		now := time.Now()
		inv.Status = models.InvitationSent
		inv.SentAt = &now
		if err := p.invRepo.Update(ctx, inv); err != nil {
			p.logger.Error("mark invitation sent failed", zap.Error(err),
				zap.String("invitation_id", inv.ID.String()))
		}
	}

	p.logger.Info("invitation delivered",
		zap.String("invitation_id", payload.InvitationID.String()),
		zap.String("recipient", payload.Recipient))
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *DeliveryProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("delivery worker stopping")
			return
		default:
		}

		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				p.logger.Info("delivery worker stopping")
				return
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			time.Sleep(queue.RetryBackoff)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			time.Sleep(queue.RetryBackoff)
			continue
		}
	}
}

func invitationEmailBody(subject, link string) string {
	return fmt.Sprintf(`<html><body>
<h2>%s</h2>
<p>You have been invited to share quick feedback. The survey takes less than a minute.</p>
<p><a href="%s">Open the survey</a></p>
<p>If the link does not work, copy this address into your browser:<br>%s</p>
</body></html>`, subject, link, link)
}

package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sourcegraph/conc/panics"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-bulletin-api/internal/models"
	appErrors "github.com/noah-isme/sma-bulletin-api/pkg/errors"
	"github.com/noah-isme/sma-bulletin-api/pkg/jobs"
	applogger "github.com/noah-isme/sma-bulletin-api/pkg/logger"
)

const (
	errTimeout  = "timeout"
	errCanceled = "canceled"

	skipNoContact        = "no contact for channel"
	skipNoProvider       = "channel provider not configured"
	skipUnknownRecipient = "recipient not found"
)

// SMSProvider sends text messages.
type SMSProvider interface {
	SendSMS(ctx context.Context, to, body string) error
}

// EmailProvider sends HTML emails.
type EmailProvider interface {
	SendEmail(ctx context.Context, to, subject, html string) error
}

// WhatsAppProvider sends WhatsApp text messages.
type WhatsAppProvider interface {
	SendWhatsApp(ctx context.Context, to, body string) error
}

// NotificationProviders groups the channel adapters. A nil provider disables its channel.
type NotificationProviders struct {
	SMS      SMSProvider
	Email    EmailProvider
	WhatsApp WhatsAppProvider
}

func (p NotificationProviders) configured(channel models.Channel) bool {
	switch channel {
	case models.ChannelSMS:
		return p.SMS != nil
	case models.ChannelEmail:
		return p.Email != nil
	case models.ChannelWhatsApp:
		return p.WhatsApp != nil
	}
	return false
}

// DeliveryLedger remembers which idempotency keys were already delivered.
type DeliveryLedger interface {
	Delivered(ctx context.Context, keys []string) (map[string]bool, error)
	Record(ctx context.Context, result models.NotificationResult) error
}

// RecipientDirectory resolves who should be notified for a student.
type RecipientDirectory interface {
	Recipients(ctx context.Context, studentID string) ([]models.NotificationRecipient, error)
	StudentProfile(ctx context.Context, studentID, classID string) (*models.StudentProfile, error)
}

type dispatchBulletins interface {
	Get(ctx context.Context, id string) (*models.Bulletin, error)
	MarkSent(ctx context.Context, id string) (*models.Bulletin, error)
}

// IdempotencyKey identifies one (bulletin, recipient, channel) delivery.
func IdempotencyKey(bulletinID, recipientID string, channel models.Channel) string {
	return bulletinID + ":" + recipientID + ":" + string(channel)
}

// DispatcherConfig tunes the dispatcher.
type DispatcherConfig struct {
	SendTimeout     time.Duration
	DefaultLanguage string
	SchoolName      string
}

// BulkDispatchRequest lists bulletins to notify in one run.
type BulkDispatchRequest struct {
	BulletinIDs []string         `json:"bulletin_ids" validate:"required,min=1,dive,required"`
	Channels    []models.Channel `json:"channels" validate:"required,min=1,dive,oneof=sms email whatsapp"`
	Language    string           `json:"language" validate:"omitempty,max=16"`
}

// NotificationDispatcher fans a bulletin out to recipients over several channels.
type NotificationDispatcher struct {
	providers NotificationProviders
	ledger    DeliveryLedger
	directory RecipientDirectory
	bulletins dispatchBulletins
	templates *NotificationTemplates
	pool      *jobs.Pool
	cfg       DispatcherConfig
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewNotificationDispatcher constructs the dispatcher.
func NewNotificationDispatcher(providers NotificationProviders, ledger DeliveryLedger, directory RecipientDirectory, bulletins dispatchBulletins, templates *NotificationTemplates, pool *jobs.Pool, cfg DispatcherConfig, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *NotificationDispatcher {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 15 * time.Second
	}
	if pool == nil {
		pool = jobs.NewPool(8)
	}
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationDispatcher{
		providers: providers,
		ledger:    ledger,
		directory: directory,
		bulletins: bulletins,
		templates: templates,
		pool:      pool,
		cfg:       cfg,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// attempt is one scheduled (recipient, channel) send.
type attempt struct {
	bulletin  *models.Bulletin
	recipient models.NotificationRecipient
	channel   models.Channel
	contact   string
	key       string
	message   RenderedMessage
}

// plan is the prepared work for one bulletin.
type plan struct {
	bulletin   *models.Bulletin
	recipients []models.NotificationRecipient
	pending    []attempt
	done       []models.NotificationResult
	skipped    []models.SkippedAttempt
}

// DispatchBulletin loads the bulletin and its recipients and dispatches it.
func (d *NotificationDispatcher) DispatchBulletin(ctx context.Context, bulletinID string, channels []models.Channel, language string) (*models.NotificationBatchResult, error) {
	bulletin, err := d.bulletins.Get(ctx, bulletinID)
	if err != nil {
		return nil, err
	}
	recipients, err := d.recipients(ctx, bulletin)
	if err != nil {
		return nil, err
	}
	return d.Dispatch(ctx, bulletin, recipients, channels, language)
}

// Dispatch sends bulletin to every recipient on every requested channel they have a contact
// for. A failing attempt never affects its siblings; only configuration problems abort the call.
func (d *NotificationDispatcher) Dispatch(ctx context.Context, bulletin *models.Bulletin, recipients []models.NotificationRecipient, channels []models.Channel, language string) (*models.NotificationBatchResult, error) {
	channels, err := d.checkChannels(channels)
	if err != nil {
		return nil, err
	}
	p, err := d.plan(ctx, bulletin, recipients, channels, language, nil)
	if err != nil {
		return nil, err
	}
	results := d.execute(ctx, p.pending)
	return d.finish(ctx, p, results), nil
}

// RetryTarget names one (recipient, channel) pair to try again.
type RetryTarget struct {
	RecipientID string         `json:"recipient_id" validate:"required"`
	Channel     models.Channel `json:"channel" validate:"required,oneof=sms email whatsapp"`
}

// RetryFailed re-attempts only the failed pairs of a previous dispatch of bulletin.
func (d *NotificationDispatcher) RetryFailed(ctx context.Context, bulletin *models.Bulletin, recipients []models.NotificationRecipient, previous models.NotificationBatchResult, language string) (*models.NotificationBatchResult, error) {
	targets := make([]RetryTarget, 0)
	for _, r := range previous.Results {
		if r.Success || (r.BulletinID != "" && r.BulletinID != bulletin.ID) {
			continue
		}
		targets = append(targets, RetryTarget{RecipientID: r.RecipientID, Channel: r.Channel})
	}
	if len(targets) == 0 {
		return &models.NotificationBatchResult{BulletinID: bulletin.ID, Results: []models.NotificationResult{}, Skipped: []models.SkippedAttempt{}}, nil
	}

	channelSet := make(map[models.Channel]struct{})
	for _, t := range targets {
		channelSet[t.Channel] = struct{}{}
	}
	channels := make([]models.Channel, 0, len(channelSet))
	for c := range channelSet {
		channels = append(channels, c)
	}
	if _, err := d.checkChannels(channels); err != nil {
		return nil, err
	}
	p, err := d.plan(ctx, bulletin, recipients, channels, language, targets)
	if err != nil {
		return nil, err
	}
	results := d.execute(ctx, p.pending)
	return d.finish(ctx, p, results), nil
}

// RetryBulletin loads the bulletin and recipients and retries the given pairs.
func (d *NotificationDispatcher) RetryBulletin(ctx context.Context, bulletinID string, targets []RetryTarget, language string) (*models.NotificationBatchResult, error) {
	for _, t := range targets {
		if err := d.validator.Struct(t); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid retry target")
		}
	}
	bulletin, err := d.bulletins.Get(ctx, bulletinID)
	if err != nil {
		return nil, err
	}
	recipients, err := d.recipients(ctx, bulletin)
	if err != nil {
		return nil, err
	}
	previous := models.NotificationBatchResult{BulletinID: bulletinID}
	for _, t := range targets {
		previous.Results = append(previous.Results, models.NotificationResult{BulletinID: bulletinID, RecipientID: t.RecipientID, Channel: t.Channel})
	}
	return d.RetryFailed(ctx, bulletin, recipients, previous, language)
}

// SendBulk dispatches several bulletins in one pool run. A bulletin that cannot be dispatched is
// reported under Errors and does not stop the others.
func (d *NotificationDispatcher) SendBulk(ctx context.Context, req BulkDispatchRequest) (*models.BulkDispatchSummary, error) {
	if err := d.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid bulk dispatch payload")
	}
	channels, err := d.checkChannels(req.Channels)
	if err != nil {
		return nil, err
	}

	summary := &models.BulkDispatchSummary{
		Results:   make([]models.NotificationResult, 0),
		Bulletins: make(map[string]*models.NotificationBatchResult),
		Errors:    make(map[string]string),
		StartedAt: d.now(),
	}
	plans := make(map[string]*plan)
	var pending []attempt
	for _, id := range uniqueStrings(req.BulletinIDs) {
		summary.Processed++
		bulletin, err := d.bulletins.Get(ctx, id)
		if err != nil {
			summary.Errors[id] = err.Error()
			continue
		}
		recipients, err := d.recipients(ctx, bulletin)
		if err != nil {
			summary.Errors[id] = err.Error()
			continue
		}
		p, err := d.plan(ctx, bulletin, recipients, channels, req.Language, nil)
		if err != nil {
			summary.Errors[id] = err.Error()
			continue
		}
		plans[id] = p
		pending = append(pending, p.pending...)
	}

	byBulletin := make(map[string][]models.NotificationResult, len(plans))
	for _, r := range d.execute(ctx, pending) {
		byBulletin[r.BulletinID] = append(byBulletin[r.BulletinID], r)
	}
	for id, p := range plans {
		batch := d.finish(ctx, p, byBulletin[id])
		summary.Bulletins[id] = batch
		summary.Results = append(summary.Results, batch.Results...)
		summary.Successful += batch.Successful()
		summary.Failed += batch.Failed
	}
	summary.FinishedAt = d.now()
	return summary, nil
}

func (d *NotificationDispatcher) recipients(ctx context.Context, bulletin *models.Bulletin) ([]models.NotificationRecipient, error) {
	if d.directory == nil {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "recipient directory not configured")
	}
	recipients, err := d.directory.Recipients(ctx, bulletin.StudentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load recipients")
	}
	return recipients, nil
}

// checkChannels dedupes the request and fails only when none of it can be served.
func (d *NotificationDispatcher) checkChannels(channels []models.Channel) ([]models.Channel, error) {
	if len(channels) == 0 {
		return nil, appErrors.Clone(appErrors.ErrNoChannels, "at least one channel is required")
	}
	seen := make(map[models.Channel]struct{}, len(channels))
	out := make([]models.Channel, 0, len(channels))
	anyConfigured := false
	for _, c := range channels {
		if !c.Valid() {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown channel %q", c))
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
		if d.providers.configured(c) {
			anyConfigured = true
		}
	}
	if !anyConfigured {
		return nil, appErrors.Clone(appErrors.ErrNoChannels, "none of the requested channels has a provider configured")
	}
	return out, nil
}

// plan expands recipients x channels into attempts, dropping pairs without a contact and
// answering already-delivered keys from the ledger. When only is set, just those pairs are kept.
func (d *NotificationDispatcher) plan(ctx context.Context, bulletin *models.Bulletin, recipients []models.NotificationRecipient, channels []models.Channel, language string, only []RetryTarget) (*plan, error) {
	if bulletin.Status != models.BulletinPublished && bulletin.Status != models.BulletinSent {
		return nil, appErrors.NewInvalidTransition(string(bulletin.Status), string(models.TransitionSend))
	}
	if d.templates == nil {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "notification templates not configured")
	}
	p := &plan{bulletin: bulletin, recipients: recipients, skipped: make([]models.SkippedAttempt, 0)}

	studentName := bulletin.StudentID
	if d.directory != nil {
		if profile, err := d.directory.StudentProfile(ctx, bulletin.StudentID, bulletin.ClassID); err == nil && profile != nil && profile.FullName != "" {
			studentName = profile.FullName
		} else if err != nil && !errors.Is(err, sql.ErrNoRows) {
			d.logger.Sugar().Warnw("student profile unavailable for notification", "bulletin_id", bulletin.ID, "error", err)
		}
	}

	wanted := func(recipientID string, channel models.Channel) bool { return true }
	if only != nil {
		set := make(map[string]struct{}, len(only))
		for _, t := range only {
			set[IdempotencyKey(bulletin.ID, t.RecipientID, t.Channel)] = struct{}{}
		}
		wanted = func(recipientID string, channel models.Channel) bool {
			_, ok := set[IdempotencyKey(bulletin.ID, recipientID, channel)]
			return ok
		}
		known := make(map[string]struct{}, len(recipients))
		for _, r := range recipients {
			known[r.ID] = struct{}{}
		}
		for _, t := range only {
			if _, ok := known[t.RecipientID]; !ok {
				p.skipped = append(p.skipped, models.SkippedAttempt{BulletinID: bulletin.ID, RecipientID: t.RecipientID, Channel: t.Channel, Reason: skipUnknownRecipient})
			}
		}
	}

	candidates := make([]attempt, 0, len(recipients)*len(channels))
	for _, recipient := range recipients {
		var message *RenderedMessage
		for _, channel := range channels {
			if !wanted(recipient.ID, channel) {
				continue
			}
			skip := models.SkippedAttempt{BulletinID: bulletin.ID, RecipientID: recipient.ID, Channel: channel}
			contact := recipient.Contact(channel)
			if contact == "" {
				skip.Reason = skipNoContact
				p.skipped = append(p.skipped, skip)
				continue
			}
			if !d.providers.configured(channel) {
				skip.Reason = skipNoProvider
				p.skipped = append(p.skipped, skip)
				continue
			}
			if message == nil {
				rendered, err := d.templates.Render(bulletin, studentName, d.cfg.SchoolName, recipient, language)
				if err != nil {
					return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render notification")
				}
				message = &rendered
			}
			candidates = append(candidates, attempt{
				bulletin:  bulletin,
				recipient: recipient,
				channel:   channel,
				contact:   contact,
				key:       IdempotencyKey(bulletin.ID, recipient.ID, channel),
				message:   *message,
			})
		}
	}

	delivered := map[string]bool{}
	if d.ledger != nil && len(candidates) > 0 {
		keys := make([]string, len(candidates))
		for i, c := range candidates {
			keys[i] = c.key
		}
		found, err := d.ledger.Delivered(ctx, keys)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read delivery ledger")
		}
		delivered = found
	}
	for _, c := range candidates {
		if delivered[c.key] {
			result := models.NotificationResult{
				BulletinID:     bulletin.ID,
				RecipientID:    c.recipient.ID,
				Channel:        c.channel,
				IdempotencyKey: c.key,
				Success:        true,
				Duplicate:      true,
				SentAt:         d.now(),
			}
			d.metrics.ObserveNotification(result, 0)
			p.done = append(p.done, result)
			continue
		}
		p.pending = append(p.pending, c)
	}
	return p, nil
}

// execute runs attempts on the pool. Attempts not started before ctx is done come back as
// canceled failures; started ones finish on their own timeout.
func (d *NotificationDispatcher) execute(ctx context.Context, pending []attempt) []models.NotificationResult {
	if len(pending) == 0 {
		return nil
	}
	return jobs.Collect(ctx, d.pool, pending, func(a attempt) models.NotificationResult {
		return d.send(ctx, a)
	}, func(a attempt, err error) models.NotificationResult {
		result := models.NotificationResult{
			BulletinID:     a.bulletin.ID,
			RecipientID:    a.recipient.ID,
			Channel:        a.channel,
			IdempotencyKey: a.key,
			Error:          errCanceled,
			SentAt:         d.now(),
		}
		d.metrics.ObserveNotification(result, 0)
		return result
	})
}

// send performs one provider call detached from caller cancellation and bounded by the
// per-send timeout. Provider panics are converted into failures.
func (d *NotificationDispatcher) send(ctx context.Context, a attempt) models.NotificationResult {
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.SendTimeout)
	defer cancel()

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		var err error
		var catcher panics.Catcher
		catcher.Try(func() { err = d.call(sendCtx, a) })
		if recovered := catcher.Recovered(); recovered != nil {
			err = recovered.AsError()
		}
		done <- err
	}()

	var err error
	select {
	case err = <-done:
	case <-sendCtx.Done():
		err = sendCtx.Err()
	}
	duration := time.Since(start)

	result := models.NotificationResult{
		BulletinID:     a.bulletin.ID,
		RecipientID:    a.recipient.ID,
		Channel:        a.channel,
		IdempotencyKey: a.key,
		Success:        err == nil,
		SentAt:         d.now(),
	}
	if err != nil {
		result.Error = err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			result.Error = errTimeout
		}
		applogger.WithRequest(ctx, d.logger).Sugar().Warnw("notification attempt failed",
			"bulletin_id", a.bulletin.ID,
			"recipient_id", a.recipient.ID,
			"channel", a.channel,
			"error", result.Error,
		)
	} else if d.ledger != nil {
		recordCtx, cancelRecord := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.SendTimeout)
		if err := d.ledger.Record(recordCtx, result); err != nil {
			d.logger.Sugar().Warnw("failed to record delivery", "idempotency_key", a.key, "error", err)
		}
		cancelRecord()
	}
	d.metrics.ObserveNotification(result, duration)
	return result
}

func (d *NotificationDispatcher) call(ctx context.Context, a attempt) error {
	switch a.channel {
	case models.ChannelSMS:
		return d.providers.SMS.SendSMS(ctx, a.contact, a.message.Text)
	case models.ChannelEmail:
		return d.providers.Email.SendEmail(ctx, a.contact, a.message.Subject, a.message.HTML)
	case models.ChannelWhatsApp:
		return d.providers.WhatsApp.SendWhatsApp(ctx, a.contact, a.message.Text)
	}
	return fmt.Errorf("unsupported channel %q", a.channel)
}

// finish folds the results of one bulletin and moves it to sent when its primary recipient
// received at least one notification.
func (d *NotificationDispatcher) finish(ctx context.Context, p *plan, results []models.NotificationResult) *models.NotificationBatchResult {
	all := make([]models.NotificationResult, 0, len(p.done)+len(results))
	all = append(all, p.done...)
	all = append(all, results...)
	batch := summarize(p.bulletin.ID, all, p.skipped)

	primary := primaryRecipient(p.recipients)
	if primary == "" || d.bulletins == nil {
		return batch
	}
	reached := false
	for _, r := range batch.Results {
		if r.RecipientID == primary && r.Success {
			reached = true
			break
		}
	}
	if !reached {
		return batch
	}
	if _, err := d.bulletins.MarkSent(context.WithoutCancel(ctx), p.bulletin.ID); err != nil {
		d.logger.Sugar().Warnw("failed to mark bulletin sent", "bulletin_id", p.bulletin.ID, "error", err)
		return batch
	}
	batch.MarkedSent = true
	return batch
}

func primaryRecipient(recipients []models.NotificationRecipient) string {
	for _, r := range recipients {
		if r.Primary {
			return r.ID
		}
	}
	if len(recipients) > 0 {
		return recipients[0].ID
	}
	return ""
}

// summarize is the single reducer over attempt results. Output order is stable regardless of
// completion order.
func summarize(bulletinID string, results []models.NotificationResult, skipped []models.SkippedAttempt) *models.NotificationBatchResult {
	batch := &models.NotificationBatchResult{
		BulletinID: bulletinID,
		Results:    append([]models.NotificationResult(nil), results...),
		Skipped:    append([]models.SkippedAttempt{}, skipped...),
	}
	sort.SliceStable(batch.Results, func(i, j int) bool {
		return batch.Results[i].IdempotencyKey < batch.Results[j].IdempotencyKey
	})
	for _, r := range batch.Results {
		if r.Duplicate {
			batch.Duplicates++
		}
		if !r.Success {
			batch.Failed++
			continue
		}
		switch r.Channel {
		case models.ChannelSMS:
			batch.SuccessfulSMS++
		case models.ChannelEmail:
			batch.SuccessfulEmail++
		case models.ChannelWhatsApp:
			batch.SuccessfulWhatsApp++
		}
	}
	if batch.Results == nil {
		batch.Results = []models.NotificationResult{}
	}
	return batch
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

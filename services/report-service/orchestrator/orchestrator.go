package orchestrator

import (
	"context"
	"fmt"
	"log"

	"road-damage-reporting/pkg/storage"
	"road-damage-reporting/services/report-service/models"
	"road-damage-reporting/services/report-service/store"
)

// Notifier delivers a best-effort notification for a persisted report.
type Notifier interface {
	Notify(ctx context.Context, report models.Report, auth models.Authority) bool
}

// AuthorityResolver maps a location to its responsible authority.
type AuthorityResolver interface {
	Resolve(loc models.Location) models.Authority
}

// EventPublisher fans a created report out to downstream consumers.
type EventPublisher interface {
	PublishReportCreated(event models.ReportEvent) error
}

// SubmissionInput is the raw, not-yet-validated submission as received from
// the transport layer.
type SubmissionInput struct {
	LocationJSON     string
	DamageType       string
	Severity         string
	Remarks          string
	ImageData        []byte
	ImageFilename    string
	ImageContentType string
}

// Orchestrator runs the submission pipeline. Persistence is the consistency
// boundary: everything before it must be side-effect free on failure,
// everything after it is best-effort and can only degrade the response.
type Orchestrator struct {
	images   storage.ImageStore
	reports  store.ReportStore
	resolver AuthorityResolver
	notifier Notifier
	events   EventPublisher
}

func New(images storage.ImageStore, reports store.ReportStore, resolver AuthorityResolver, notifier Notifier, events EventPublisher) *Orchestrator {
	return &Orchestrator{
		images:   images,
		reports:  reports,
		resolver: resolver,
		notifier: notifier,
		events:   events,
	}
}

// Submit validates the input, persists the report, and notifies the
// responsible authority. Validation and persistence failures abort the
// submission; image storage and notification failures do not.
func (o *Orchestrator) Submit(ctx context.Context, input SubmissionInput) (models.SubmissionResult, error) {
	draft, err := o.validate(input)
	if err != nil {
		return models.SubmissionResult{}, err
	}

	if len(input.ImageData) > 0 {
		draft.ImageURL = o.saveImage(ctx, input)
	}

	return o.SubmitDraft(ctx, draft)
}

// SubmitDraft persists an already-validated draft and runs the post-persist
// steps. The conversational flow enters here: its image is stored by the
// time validation completes.
func (o *Orchestrator) SubmitDraft(ctx context.Context, draft models.ReportDraft) (models.SubmissionResult, error) {
	if draft.Remarks == "" {
		draft.Remarks = "No additional remarks"
	}
	if err := draft.Validate(); err != nil {
		return models.SubmissionResult{}, err
	}

	report, err := o.reports.Create(ctx, draft)
	if err != nil {
		return models.SubmissionResult{}, err
	}

	auth := o.resolver.Resolve(report.Location())

	notified := o.notifier.Notify(ctx, report, auth)
	if !notified {
		log.Printf("[WARN] Webhook notification failed for report %s", report.ID)
	}

	o.publishEvent(report, auth)

	message := "Report submitted successfully. Responsible authority has been notified."
	if !notified {
		message = "Report submitted successfully. (Webhook notification was not sent - check configuration)"
	}

	return models.SubmissionResult{
		ReportID:          report.ID,
		Status:            string(report.Status),
		Message:           message,
		AuthorityNotified: notified,
		CreatedAt:         report.CreatedAt,
		ImageURL:          report.ImageURL,
	}, nil
}

func (o *Orchestrator) validate(input SubmissionInput) (models.ReportDraft, error) {
	loc, err := models.ParseLocation(input.LocationJSON)
	if err != nil {
		return models.ReportDraft{}, err
	}

	damageType, err := models.ParseDamageType(input.DamageType)
	if err != nil {
		return models.ReportDraft{}, err
	}

	severity, err := models.ParseSeverity(input.Severity)
	if err != nil {
		return models.ReportDraft{}, err
	}

	if len(input.Remarks) > models.MaxRemarksLength {
		return models.ReportDraft{}, fmt.Errorf("%w: remarks exceed %d characters", models.ErrValidation, models.MaxRemarksLength)
	}

	return models.ReportDraft{
		Location:   loc,
		DamageType: damageType,
		Severity:   severity,
		Remarks:    input.Remarks,
	}, nil
}

// saveImage stores the uploaded photo and returns its URL. Storage failure
// is deliberately non-fatal: the report is still worth persisting without
// the photo, but the condition is logged so misconfiguration stays visible.
func (o *Orchestrator) saveImage(ctx context.Context, input SubmissionInput) string {
	if o.images == nil {
		log.Printf("[WARN] Image store not configured, submitting report without image")
		return ""
	}

	url, err := o.images.Save(ctx, input.ImageData, input.ImageFilename, input.ImageContentType)
	if err != nil {
		log.Printf("[WARN] Image upload failed, submitting report without image: %v", err)
		return ""
	}
	return url
}

func (o *Orchestrator) publishEvent(report models.Report, auth models.Authority) {
	if o.events == nil {
		return
	}

	event := models.ReportEvent{
		ID:         report.ID,
		DamageType: string(report.DamageType),
		Severity:   string(report.Severity),
		Location:   report.Location().String(),
		Authority:  auth.Name,
		ImageURL:   report.ImageURL,
		CreatedAt:  report.CreatedAt,
	}

	if err := o.events.PublishReportCreated(event); err != nil {
		log.Printf("[WARN] Report saved but failed to publish event: %v", err)
	}
}

package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"road-damage-reporting/pkg/storage"
	"road-damage-reporting/services/report-service/authority"
	"road-damage-reporting/services/report-service/models"
	"road-damage-reporting/services/report-service/store"
	"road-damage-reporting/services/report-service/webhook"
)

type fakeImageStore struct {
	fail  error
	saved int
}

func (f *fakeImageStore) Save(ctx context.Context, data []byte, filenameHint, contentType string) (string, error) {
	if f.fail != nil {
		return "", f.fail
	}
	f.saved++
	return "http://localhost:9000/road-damage-images/" + storage.ObjectKey(filenameHint), nil
}

type fakeReportStore struct {
	fail    error
	reports map[string]models.Report
	serial  int
}

func newFakeReportStore() *fakeReportStore {
	return &fakeReportStore{reports: map[string]models.Report{}}
}

func (f *fakeReportStore) Create(ctx context.Context, draft models.ReportDraft) (models.Report, error) {
	if f.fail != nil {
		return models.Report{}, f.fail
	}
	f.serial++
	report := models.Report{
		ID:              fmt.Sprintf("report-%d", f.serial),
		LocationLat:     draft.Location.Lat,
		LocationLng:     draft.Location.Lng,
		LocationAddress: draft.Location.Address,
		DamageType:      draft.DamageType,
		Severity:        draft.Severity,
		Remarks:         draft.Remarks,
		ImageURL:        draft.ImageURL,
		Status:          models.StatusSubmitted,
		CreatedAt:       time.Now().UTC(),
	}
	f.reports[report.ID] = report
	return report, nil
}

func (f *fakeReportStore) Get(ctx context.Context, id string) (models.Report, error) {
	report, ok := f.reports[id]
	if !ok {
		return models.Report{}, store.ErrReportNotFound
	}
	return report, nil
}

func (f *fakeReportStore) UpdateStatus(ctx context.Context, id string, status models.ReportStatus) (bool, error) {
	report, ok := f.reports[id]
	if !ok {
		return false, store.ErrReportNotFound
	}
	if !report.Status.CanTransitionTo(status) {
		return false, store.ErrInvalidTransition
	}
	report.Status = status
	f.reports[id] = report
	return true, nil
}

type fakeNotifier struct {
	sent  bool
	calls int
}

func (f *fakeNotifier) Notify(ctx context.Context, report models.Report, auth models.Authority) bool {
	f.calls++
	return f.sent
}

type fakePublisher struct {
	events []models.ReportEvent
	fail   error
}

func (f *fakePublisher) PublishReportCreated(event models.ReportEvent) error {
	if f.fail != nil {
		return f.fail
	}
	f.events = append(f.events, event)
	return nil
}

func validInput() SubmissionInput {
	return SubmissionInput{
		LocationJSON: `{"lat":40.7128,"lng":-74.006,"address":"123 Main Street"}`,
		DamageType:   "pothole",
		Severity:     "high",
		Remarks:      "large hole",
	}
}

func TestSubmitWithoutImage(t *testing.T) {
	reports := newFakeReportStore()
	notifier := &fakeNotifier{sent: true}
	publisher := &fakePublisher{}
	orch := New(&fakeImageStore{}, reports, authority.NewResolver(), notifier, publisher)

	result, err := orch.Submit(context.Background(), validInput())
	require.NoError(t, err)

	assert.NotEmpty(t, result.ReportID)
	assert.Equal(t, "submitted", result.Status)
	assert.Empty(t, result.ImageURL)
	assert.True(t, result.AuthorityNotified)
	assert.False(t, result.CreatedAt.IsZero())

	// Read-your-writes: the persisted record matches the confirmation.
	persisted, err := reports.Get(context.Background(), result.ReportID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSubmitted, persisted.Status)
	assert.Empty(t, persisted.ImageURL)

	require.Len(t, publisher.events, 1)
	assert.Equal(t, result.ReportID, publisher.events[0].ID)
}

func TestSubmitWithImage(t *testing.T) {
	imagesStore := &fakeImageStore{}
	reports := newFakeReportStore()
	orch := New(imagesStore, reports, authority.NewResolver(), &fakeNotifier{sent: true}, nil)

	input := validInput()
	input.ImageData = []byte("jpeg-bytes")
	input.ImageFilename = "damage.jpeg"
	input.ImageContentType = "image/jpeg"

	result, err := orch.Submit(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, 1, imagesStore.saved)
	assert.Contains(t, result.ImageURL, "uploads/")
	assert.Contains(t, result.ImageURL, ".jpeg")
}

func TestSubmitValidationFailsBeforeSideEffects(t *testing.T) {
	imagesStore := &fakeImageStore{}
	reports := newFakeReportStore()
	notifier := &fakeNotifier{sent: true}
	orch := New(imagesStore, reports, authority.NewResolver(), notifier, nil)

	tests := []struct {
		name   string
		mutate func(*SubmissionInput)
	}{
		{"bad location json", func(in *SubmissionInput) { in.LocationJSON = "not-json" }},
		{"latitude out of range", func(in *SubmissionInput) { in.LocationJSON = `{"lat":95,"lng":0}` }},
		{"unknown damage type", func(in *SubmissionInput) { in.DamageType = "sinkhole" }},
		{"unknown severity", func(in *SubmissionInput) { in.Severity = "catastrophic" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := validInput()
			input.ImageData = []byte("jpeg-bytes")
			tt.mutate(&input)

			_, err := orch.Submit(context.Background(), input)
			require.Error(t, err)
			assert.ErrorIs(t, err, models.ErrValidation)
		})
	}

	assert.Equal(t, 0, imagesStore.saved, "no image should be stored for invalid input")
	assert.Empty(t, reports.reports, "no report should be persisted for invalid input")
	assert.Equal(t, 0, notifier.calls)
}

func TestSubmitProceedsWhenImageStorageFails(t *testing.T) {
	imagesStore := &fakeImageStore{fail: storage.ErrStorageUnavailable}
	reports := newFakeReportStore()
	orch := New(imagesStore, reports, authority.NewResolver(), &fakeNotifier{sent: true}, nil)

	input := validInput()
	input.ImageData = []byte("jpeg-bytes")
	input.ImageFilename = "damage.jpg"

	result, err := orch.Submit(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, "submitted", result.Status)
	assert.Empty(t, result.ImageURL)

	persisted, err := reports.Get(context.Background(), result.ReportID)
	require.NoError(t, err)
	assert.Empty(t, persisted.ImageURL)
}

func TestSubmitFailsWhenPersistenceFails(t *testing.T) {
	tests := []struct {
		name string
		fail error
	}{
		{"backend misconfigured", store.ErrPersistenceUnavailable},
		{"transient write error", store.ErrWriteFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reports := newFakeReportStore()
			reports.fail = tt.fail
			notifier := &fakeNotifier{sent: true}
			orch := New(&fakeImageStore{}, reports, authority.NewResolver(), notifier, nil)

			_, err := orch.Submit(context.Background(), validInput())
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.fail)
			assert.Equal(t, 0, notifier.calls, "no notification for a failed persistence")
		})
	}
}

func TestNotificationFailureDoesNotFailSubmission(t *testing.T) {
	reports := newFakeReportStore()
	orch := New(&fakeImageStore{}, reports, authority.NewResolver(), &fakeNotifier{sent: false}, nil)

	result, err := orch.Submit(context.Background(), validInput())
	require.NoError(t, err)
	assert.Equal(t, "submitted", result.Status)
	assert.False(t, result.AuthorityNotified)
	assert.Contains(t, result.Message, "Webhook notification was not sent")
}

func TestPublishFailureDoesNotFailSubmission(t *testing.T) {
	reports := newFakeReportStore()
	publisher := &fakePublisher{fail: errors.New("broker down")}
	orch := New(&fakeImageStore{}, reports, authority.NewResolver(), &fakeNotifier{sent: true}, publisher)

	result, err := orch.Submit(context.Background(), validInput())
	require.NoError(t, err)
	assert.Equal(t, "submitted", result.Status)
}

func TestSubmitAppliesRemarksDefault(t *testing.T) {
	reports := newFakeReportStore()
	orch := New(&fakeImageStore{}, reports, authority.NewResolver(), &fakeNotifier{sent: true}, nil)

	input := validInput()
	input.Remarks = ""

	result, err := orch.Submit(context.Background(), input)
	require.NoError(t, err)

	persisted, err := reports.Get(context.Background(), result.ReportID)
	require.NoError(t, err)
	assert.Equal(t, "No additional remarks", persisted.Remarks)
}

// End-to-end through the real webhook dispatcher: city address yields the
// default authority and high severity maps to urgent priority.
func TestSubmitEndToEndWebhookPayload(t *testing.T) {
	var payload map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	reports := newFakeReportStore()
	notifier := webhook.NewDispatcher(server.URL, time.Second)
	orch := New(&fakeImageStore{}, reports, authority.NewResolver(), notifier, nil)

	result, err := orch.Submit(context.Background(), validInput())
	require.NoError(t, err)
	require.NotEmpty(t, result.ReportID)
	assert.True(t, result.AuthorityNotified)

	assert.Equal(t, "urgent", payload["priority"])
	assert.Equal(t, "City Public Works Department", payload["authority_name"])
	assert.Equal(t, "123 Main Street", payload["location"])
}

func TestSubmitEndToEndHighwayRoutesToDOT(t *testing.T) {
	var payload map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	reports := newFakeReportStore()
	orch := New(&fakeImageStore{}, reports, authority.NewResolver(), webhook.NewDispatcher(server.URL, time.Second), nil)

	input := validInput()
	input.LocationJSON = `{"lat":40.7128,"lng":-74.006,"address":"I-95 Highway Overpass"}`

	_, err := orch.Submit(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, "State Department of Transportation", payload["authority_name"])
}

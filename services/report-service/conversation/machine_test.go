package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"road-damage-reporting/services/report-service/authority"
	"road-damage-reporting/services/report-service/models"
)

func newTestMachine() *Machine {
	return NewMachine(authority.NewResolver())
}

func TestFullCollectionDialogue(t *testing.T) {
	m := newTestMachine()
	state := NewState()

	// Turn 1: greeting.
	state, msgs := m.Reduce(state, Event{Message: "hello"})
	require.NotEmpty(t, msgs)
	assert.Contains(t, msgs[0], "uploading a photo")
	assert.Equal(t, StepCollectImage, state.Step)

	// Turn 2: photo uploaded and classified.
	state, msgs = m.Reduce(state, Event{ImageURL: "http://localhost:9000/road-damage-images/uploads/a.jpg"})
	require.NotEmpty(t, msgs)
	assert.Contains(t, msgs[0], "analyzed your image")
	assert.Equal(t, StepCollectLocation, state.Step)

	// Turn 3: location provided, authority resolved and recorded.
	state, msgs = m.Reduce(state, Event{Location: &models.Location{Lat: 40.7128, Lng: -74.006, Address: "123 Main Street"}})
	require.NotEmpty(t, msgs)
	assert.Contains(t, msgs[0], "City Public Works Department")
	assert.Equal(t, StepCollectDamageType, state.Step)
	assert.Equal(t, "City Public Works Department", state.Fields[FieldAuthority])

	// Turn 4: damage type.
	state, _ = m.Reduce(state, Event{DamageType: models.DamagePothole})
	assert.Equal(t, StepCollectSeverity, state.Step)

	// Turn 5: severity.
	state, _ = m.Reduce(state, Event{Severity: models.SeverityHigh})
	assert.Equal(t, StepCollectRemarks, state.Step)

	// Turn 6: remarks provided; validation completes and the machine stops
	// at submit, where the caller performs the orchestration.
	state, msgs = m.Reduce(state, Event{Remarks: "large hole"})
	assert.Equal(t, StepSubmit, state.Step)
	assert.Equal(t, ValidationComplete, state.ValidationStatus)
	require.NotEmpty(t, msgs)
	assert.Contains(t, msgs[len(msgs)-1], "being submitted")

	// Turn 7: orchestration result fed back.
	state, msgs = m.Reduce(state, Event{Submitted: true, SubmittedReportID: "report-1"})
	assert.Equal(t, StepComplete, state.Step)
	require.NotEmpty(t, msgs)
	assert.Contains(t, msgs[0], "report-1")
}

func TestSkipRemarksIsAccepted(t *testing.T) {
	m := newTestMachine()
	state := State{
		Step: StepCollectRemarks,
		Fields: map[string]string{
			FieldImage:      "http://example.com/uploads/a.jpg",
			FieldLocation:   `{"lat":40.7,"lng":-74,"address":"123 Main Street"}`,
			FieldDamageType: "pothole",
			FieldSeverity:   "high",
		},
		ValidationStatus: ValidationIncomplete,
	}

	state, _ = m.Reduce(state, Event{Message: "skip"})
	assert.Equal(t, StepSubmit, state.Step)
	assert.Equal(t, ValidationComplete, state.ValidationStatus)
	assert.Empty(t, state.Fields[FieldRemarks])
}

func TestValidationLoopsBackToFirstMissingField(t *testing.T) {
	m := newTestMachine()
	state := State{
		Step: StepValidate,
		Fields: map[string]string{
			FieldLocation: `{"lat":40.7,"lng":-74,"address":"123 Main Street"}`,
		},
		ValidationStatus: ValidationIncomplete,
	}

	state, msgs := m.Reduce(state, Event{})
	assert.Equal(t, ValidationIncomplete, state.ValidationStatus)
	assert.Equal(t, StepCollectImage, state.Step)
	require.NotEmpty(t, msgs)
	assert.Contains(t, msgs[0], "Please provide: image, damage type, severity")
}

func TestNeverReachesSubmitWithMissingFields(t *testing.T) {
	m := newTestMachine()
	state := State{
		Step: StepCollectRemarks,
		Fields: map[string]string{
			FieldLocation:   `{"lat":40.7,"lng":-74}`,
			FieldDamageType: "crack",
			FieldSeverity:   "low",
		},
		ValidationStatus: ValidationIncomplete,
	}

	// Remarks answered, but the image is still missing: validation must
	// bounce back to image collection instead of advancing to submit.
	state, _ = m.Reduce(state, Event{SkipRemarks: true})
	assert.Equal(t, StepCollectImage, state.Step)
	assert.Equal(t, ValidationIncomplete, state.ValidationStatus)

	// Supplying the image on the next turn completes the loop.
	state, _ = m.Reduce(state, Event{ImageURL: "http://example.com/uploads/b.jpg"})
	assert.Equal(t, StepSubmit, state.Step)
	assert.Equal(t, ValidationComplete, state.ValidationStatus)
}

func TestImageStepRepromptsUntilImageRecorded(t *testing.T) {
	m := newTestMachine()
	state := NewState()

	state, _ = m.Reduce(state, Event{Message: "hi"})
	require.Equal(t, StepCollectImage, state.Step)

	state, msgs := m.Reduce(state, Event{Message: "I don't have a photo yet"})
	assert.Equal(t, StepCollectImage, state.Step)
	require.NotEmpty(t, msgs)
	assert.Contains(t, msgs[0], "upload a photo")
}

func TestInvalidLocationIsRejectedAndRePrompted(t *testing.T) {
	m := newTestMachine()
	state := State{
		Step:             StepCollectLocation,
		Fields:           map[string]string{FieldImage: "http://example.com/uploads/a.jpg"},
		ValidationStatus: ValidationIncomplete,
	}

	state, msgs := m.Reduce(state, Event{Location: &models.Location{Lat: 40.7, Lng: -74}})
	assert.Equal(t, StepCollectDamageType, state.Step)
	require.NotEmpty(t, msgs)

	// A corrupted stored value is dropped and the user re-prompted.
	bad := State{
		Step:             StepCollectLocation,
		Fields:           map[string]string{FieldImage: "x", FieldLocation: "garbage"},
		ValidationStatus: ValidationIncomplete,
	}
	bad, msgs = m.Reduce(bad, Event{})
	assert.Equal(t, StepCollectLocation, bad.Step)
	assert.Empty(t, bad.Fields[FieldLocation])
	require.NotEmpty(t, msgs)
	assert.Contains(t, msgs[0], "invalid")
}

func TestReduceDoesNotMutateInput(t *testing.T) {
	m := newTestMachine()
	original := NewState()
	original.Fields[FieldDamageType] = "pothole"

	next, _ := m.Reduce(original, Event{Severity: models.SeverityLow})

	assert.Equal(t, StepGreeting, original.Step)
	assert.NotContains(t, original.Fields, FieldSeverity)
	assert.Equal(t, "low", next.Fields[FieldSeverity])
}

func TestSubmitWaitsForOrchestrationResult(t *testing.T) {
	m := newTestMachine()
	state := State{
		Step: StepSubmit,
		Fields: map[string]string{
			FieldImage:      "x",
			FieldLocation:   `{"lat":1,"lng":2}`,
			FieldDamageType: "other",
			FieldSeverity:   "medium",
		},
		ValidationStatus: ValidationComplete,
	}

	// A turn without a submission result leaves the machine at submit.
	state, msgs := m.Reduce(state, Event{Message: "are we done?"})
	assert.Equal(t, StepSubmit, state.Step)
	assert.Empty(t, msgs)
}

func TestDraftFromCollectedFields(t *testing.T) {
	state := State{
		Fields: map[string]string{
			FieldImage:      "http://example.com/uploads/a.jpg",
			FieldLocation:   `{"lat":40.7128,"lng":-74.006,"address":"123 Main Street"}`,
			FieldDamageType: "pothole",
			FieldSeverity:   "high",
			FieldRemarks:    "large hole",
		},
	}

	draft, err := state.Draft()
	require.NoError(t, err)
	assert.Equal(t, models.DamagePothole, draft.DamageType)
	assert.Equal(t, models.SeverityHigh, draft.Severity)
	assert.Equal(t, "123 Main Street", draft.Location.Address)
	assert.Equal(t, "http://example.com/uploads/a.jpg", draft.ImageURL)
	assert.Equal(t, "large hole", draft.Remarks)
}

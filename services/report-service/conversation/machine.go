package conversation

import (
	"fmt"
	"strings"

	"road-damage-reporting/services/report-service/authority"
	"road-damage-reporting/services/report-service/models"
)

type Step string

const (
	StepGreeting          Step = "greeting"
	StepCollectImage      Step = "collect_image"
	StepCollectLocation   Step = "collect_location"
	StepCollectDamageType Step = "collect_damage_type"
	StepCollectSeverity   Step = "collect_severity"
	StepCollectRemarks    Step = "collect_remarks"
	StepValidate          Step = "validate"
	StepSubmit            Step = "submit"
	StepComplete          Step = "complete"
)

const (
	ValidationIncomplete = "incomplete"
	ValidationComplete   = "complete"
)

// Collected field keys.
const (
	FieldImage      = "image"
	FieldLocation   = "location"
	FieldDamageType = "damage_type"
	FieldSeverity   = "severity"
	FieldRemarks    = "remarks"
	FieldAuthority  = "authority"
)

// State is the per-session conversation state. It is treated as an immutable
// value: Reduce returns a fresh copy, callers never mutate it in place.
type State struct {
	Step             Step              `bson:"step" json:"step"`
	Fields           map[string]string `bson:"fields" json:"fields"`
	ValidationStatus string            `bson:"validation_status" json:"validation_status"`
	RemarksCollected bool              `bson:"remarks_collected" json:"remarks_collected"`
	// Messages holds the assistant utterances produced by the latest turn.
	Messages []string `bson:"messages" json:"messages"`
}

func NewState() State {
	return State{
		Step:             StepGreeting,
		Fields:           map[string]string{},
		ValidationStatus: ValidationIncomplete,
	}
}

func (s State) clone() State {
	fields := make(map[string]string, len(s.Fields))
	for k, v := range s.Fields {
		fields[k] = v
	}
	next := s
	next.Fields = fields
	next.Messages = nil
	return next
}

// Event carries one user turn. Optional values are only recorded when set.
type Event struct {
	Message    string
	ImageURL   string
	Location   *models.Location
	DamageType models.DamageType
	Severity   models.Severity
	Remarks    string
	// SkipRemarks marks the optional remarks step as answered with nothing.
	SkipRemarks bool
	// Submitted and SubmittedReportID feed the orchestration result back
	// into the machine; the machine itself never performs the submission.
	Submitted         bool
	SubmittedReportID string
}

type requiredField struct {
	key   string
	label string
	step  Step
}

// requiredFields drives the validate step. Order matters: validation loops
// back to the collection step of the first missing field.
var requiredFields = []requiredField{
	{FieldImage, "image", StepCollectImage},
	{FieldLocation, "location", StepCollectLocation},
	{FieldDamageType, "damage type", StepCollectDamageType},
	{FieldSeverity, "severity", StepCollectSeverity},
}

// Machine drives the multi-turn report collection dialogue as a pure
// reducer over (state, event).
type Machine struct {
	resolver *authority.Resolver
}

func NewMachine(resolver *authority.Resolver) *Machine {
	return &Machine{resolver: resolver}
}

// Reduce applies one user turn and returns the new state together with the
// assistant utterances produced. It advances through as many steps as the
// collected fields allow and stops at the first step that needs input.
func (m *Machine) Reduce(state State, ev Event) (State, []string) {
	next := state.clone()
	next.record(ev)

	var out []string
	for {
		proceed := false
		switch next.Step {
		case StepGreeting:
			out = append(out,
				"Hello! I'm your assistant for reporting road damage. "+
					"I'll guide you through the process step by step. "+
					"Let's start by uploading a photo of the road damage.")
			next.Step = StepCollectImage
			if next.Fields[FieldImage] == "" {
				// Wait for the photo rather than re-prompting immediately.
				return next.withMessages(out), out
			}
			proceed = true

		case StepCollectImage:
			if next.Fields[FieldImage] != "" {
				out = append(out,
					"I've analyzed your image. I can see road damage in the photo. "+
						"Now, please provide the location of this damage.")
				next.Step = StepCollectLocation
				proceed = true
			} else {
				out = append(out, "Please upload a photo of the road damage so I can analyze it.")
			}

		case StepCollectLocation:
			if raw := next.Fields[FieldLocation]; raw != "" {
				loc, err := models.ParseLocation(raw)
				if err == nil {
					auth := m.resolver.Resolve(loc)
					next.Fields[FieldAuthority] = auth.Name
					out = append(out, fmt.Sprintf("Location confirmed. The responsible authority is: %s.", auth.Name))
					next.Step = StepCollectDamageType
					proceed = true
				} else {
					delete(next.Fields, FieldLocation)
					out = append(out, "That location looks invalid. Please provide the location using the map picker or by entering coordinates.")
				}
			} else {
				out = append(out, "Please provide the location using the map picker or by entering coordinates.")
			}

		case StepCollectDamageType:
			if next.Fields[FieldDamageType] != "" {
				next.Step = StepCollectSeverity
				proceed = true
			} else {
				out = append(out, "What type of damage is this? Please select from the options provided.")
			}

		case StepCollectSeverity:
			if next.Fields[FieldSeverity] != "" {
				next.Step = StepCollectRemarks
				proceed = true
			} else {
				out = append(out, "How severe is this damage? Please select the severity level.")
			}

		case StepCollectRemarks:
			if next.RemarksCollected {
				next.Step = StepValidate
				proceed = true
			} else {
				out = append(out, "Would you like to add any additional remarks or details? Say \"skip\" to continue without remarks.")
			}

		case StepValidate:
			missing := next.missingFields()
			if len(missing) == 0 {
				next.ValidationStatus = ValidationComplete
				next.Step = StepSubmit
				out = append(out,
					"All information has been validated. "+
						"Your report is being submitted to the responsible authority.")
				return next.withMessages(out), out
			}
			next.ValidationStatus = ValidationIncomplete
			labels := make([]string, len(missing))
			for i, f := range missing {
				labels[i] = f.label
			}
			out = append(out, fmt.Sprintf("Please provide: %s", strings.Join(labels, ", ")))
			next.Step = missing[0].step
			proceed = true

		case StepSubmit:
			if ev.Submitted {
				next.Step = StepComplete
				out = append(out, fmt.Sprintf("Your report has been submitted. Reference ID: %s.", ev.SubmittedReportID))
				proceed = true
			}

		case StepComplete:
			return next.withMessages(out), out
		}

		if !proceed {
			return next.withMessages(out), out
		}
	}
}

// record copies the event's supplied values into collected fields. Field
// updates are accepted at any step so late corrections and validation
// loop-backs both work.
func (s *State) record(ev Event) {
	if ev.ImageURL != "" {
		s.Fields[FieldImage] = ev.ImageURL
	}
	if ev.Location != nil {
		s.Fields[FieldLocation] = fmt.Sprintf(`{"lat":%v,"lng":%v,"address":%q}`, ev.Location.Lat, ev.Location.Lng, ev.Location.Address)
	}
	if ev.DamageType != "" {
		s.Fields[FieldDamageType] = string(ev.DamageType)
	}
	if ev.Severity != "" {
		s.Fields[FieldSeverity] = string(ev.Severity)
	}
	if ev.Remarks != "" {
		s.Fields[FieldRemarks] = ev.Remarks
		s.RemarksCollected = true
	}
	if ev.SkipRemarks || strings.EqualFold(strings.TrimSpace(ev.Message), "skip") {
		s.RemarksCollected = true
	}
}

func (s State) missingFields() []requiredField {
	var missing []requiredField
	for _, f := range requiredFields {
		if s.Fields[f.key] == "" {
			missing = append(missing, f)
		}
	}
	return missing
}

func (s State) withMessages(msgs []string) State {
	s.Messages = msgs
	return s
}

// Draft assembles a report draft from the collected fields. It is only
// meaningful once validation has completed.
func (s State) Draft() (models.ReportDraft, error) {
	loc, err := models.ParseLocation(s.Fields[FieldLocation])
	if err != nil {
		return models.ReportDraft{}, err
	}
	damageType, err := models.ParseDamageType(s.Fields[FieldDamageType])
	if err != nil {
		return models.ReportDraft{}, err
	}
	severity, err := models.ParseSeverity(s.Fields[FieldSeverity])
	if err != nil {
		return models.ReportDraft{}, err
	}
	return models.ReportDraft{
		Location:   loc,
		DamageType: damageType,
		Severity:   severity,
		Remarks:    s.Fields[FieldRemarks],
		ImageURL:   s.Fields[FieldImage],
	}, nil
}

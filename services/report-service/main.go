package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"road-damage-reporting/pkg/config"
	"road-damage-reporting/pkg/database"
	"road-damage-reporting/pkg/middleware"
	"road-damage-reporting/pkg/queue"
	"road-damage-reporting/pkg/response"
	"road-damage-reporting/pkg/storage"
	"road-damage-reporting/services/report-service/authority"
	"road-damage-reporting/services/report-service/conversation"
	"road-damage-reporting/services/report-service/models"
	"road-damage-reporting/services/report-service/orchestrator"
	"road-damage-reporting/services/report-service/store"
	"road-damage-reporting/services/report-service/vision"
	"road-damage-reporting/services/report-service/webhook"

	amqp "github.com/rabbitmq/amqp091-go"
)

const maxUploadSize = 10 << 20 // 10 MiB

var (
	reports  store.ReportStore
	sessions store.SessionStore
	images   storage.ImageStore
	orch     *orchestrator.Orchestrator
	machine  *conversation.Machine
	analyzer vision.Analyzer
)

// amqpPublisher publishes report events on the shared channel. Satisfies
// orchestrator.EventPublisher.
type amqpPublisher struct {
	channel   *amqp.Channel
	queueName string
}

func (p *amqpPublisher) PublishReportCreated(event models.ReportEvent) error {
	return queue.PublishMessage(p.channel, p.queueName, event)
}

func main() {
	cfg := config.Load()

	db, err := database.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("[ERROR] Failed to connect to Postgres: %v", err)
	}
	log.Println("[OK] Connected to Postgres")

	reportStore, err := store.NewPostgresReportStore(db)
	if err != nil {
		log.Fatalf("[ERROR] Failed to initialize report store: %v", err)
	}
	reports = reportStore

	mongoDB, err := database.ConnectMongo(cfg.MongoURI, cfg.MongoDB)
	if err != nil {
		log.Fatalf("[ERROR] Failed to connect to MongoDB: %v", err)
	}
	log.Println("[OK] Connected to MongoDB")
	sessions = store.NewMongoSessionStore(mongoDB)

	// Image storage is a degraded-mode dependency: reports still go through
	// without it, so startup does not fail here.
	minioStore, err := storage.NewMinioStore(storage.MinioConfig{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Bucket:    cfg.MinioBucket,
		UseSSL:    cfg.MinioUseSSL,
		PublicURL: cfg.MinioPublicURL,
	})
	if err != nil {
		log.Printf("[WARN] Image storage unavailable, submissions will proceed without images: %v", err)
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := minioStore.EnsureBucket(ctx); err != nil {
			log.Printf("[WARN] Failed to ensure image bucket: %v", err)
		} else {
			images = minioStore
			log.Println("[OK] Connected to MinIO")
		}
		cancel()
	}

	// Event fan-out is likewise best effort.
	var events orchestrator.EventPublisher
	conn, ch, err := queue.ConnectRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("[WARN] RabbitMQ unavailable, report events disabled: %v", err)
	} else {
		defer conn.Close()
		defer ch.Close()
		events = &amqpPublisher{channel: ch, queueName: cfg.ReportQueue}
		log.Println("[OK] Connected to RabbitMQ")
	}

	resolver := authority.NewResolver()
	notifier := webhook.NewDispatcher(cfg.WebhookURL, time.Duration(cfg.WebhookTimeoutMS)*time.Millisecond)
	if !notifier.IsConfigured() {
		log.Println("[WARN] RELAY_WEBHOOK_URL not configured, authority notifications disabled")
	}
	orch = orchestrator.New(images, reports, resolver, notifier, events)
	machine = conversation.NewMachine(resolver)
	analyzer = vision.NewClient(vision.ClientConfig{
		APIKey:  cfg.VisionAPIKey,
		BaseURL: cfg.VisionBaseURL,
		Model:   cfg.VisionModel,
		Timeout: time.Duration(cfg.VisionTimeoutMS) * time.Millisecond,
	})

	middleware.RegisterMetrics()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/reports", reportsHandler)
	mux.HandleFunc("/api/reports/", reportDetailHandler)
	mux.HandleFunc("/api/chat", chatHandler)
	mux.HandleFunc("/api/analyze-image", analyzeImageHandler)
	mux.HandleFunc("/health", healthHandler)
	mux.Handle("/metrics", middleware.GetMetricsHandler())

	handler := middleware.TraceMiddleware(
		middleware.MetricsMiddleware(
			middleware.LoggerMiddleware(mux),
		),
	)

	log.Printf("[INFO] Report Service running on port :%s", cfg.Port)
	if err := http.ListenAndServe(":"+cfg.Port, handler); err != nil {
		log.Fatalf("[ERROR] Server failed: %v", err)
	}
}

func reportsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		submitReport(w, r)
	default:
		response.Error(w, http.StatusMethodNotAllowed, "Method not allowed", "")
	}
}

func reportDetailHandler(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Path[len("/api/reports/"):]
	if id == "" {
		response.Error(w, http.StatusBadRequest, "Missing report ID", "")
		return
	}

	switch r.Method {
	case http.MethodGet:
		getReportByID(w, r, id)
	case http.MethodPut:
		updateReportStatus(w, r, id)
	default:
		response.Error(w, http.StatusMethodNotAllowed, "Method not allowed", "")
	}
}

func submitReport(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid multipart form", err.Error())
		return
	}

	input := orchestrator.SubmissionInput{
		LocationJSON: r.FormValue("location"),
		DamageType:   r.FormValue("damage_type"),
		Severity:     r.FormValue("severity"),
		Remarks:      r.FormValue("remarks"),
	}

	file, header, err := r.FormFile("image")
	if err == nil {
		defer file.Close()
		data, readErr := io.ReadAll(io.LimitReader(file, maxUploadSize))
		if readErr != nil {
			response.Error(w, http.StatusBadRequest, "Failed to read image upload", readErr.Error())
			return
		}
		input.ImageData = data
		input.ImageFilename = header.Filename
		input.ImageContentType = header.Header.Get("Content-Type")
	}

	result, err := orch.Submit(r.Context(), input)
	if err != nil {
		writeSubmissionError(w, err)
		return
	}

	middleware.CountReportSubmitted()
	if result.AuthorityNotified {
		middleware.CountNotification("sent")
	} else {
		middleware.CountNotification("failed")
	}

	log.Printf("[OK] Report submitted - ID: %s, Notified: %v", result.ReportID, result.AuthorityNotified)
	response.Success(w, http.StatusCreated, result.Message, result)
}

func writeSubmissionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrValidation):
		response.Error(w, http.StatusBadRequest, "Invalid report data", err.Error())
	case errors.Is(err, store.ErrPersistenceUnavailable):
		response.Error(w, http.StatusInternalServerError,
			"Database configuration error. Please check DATABASE_URL.", err.Error())
	default:
		response.Error(w, http.StatusInternalServerError, "Failed to save report to database", err.Error())
	}
}

func getReportByID(w http.ResponseWriter, r *http.Request, id string) {
	report, err := reports.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrReportNotFound) {
			response.Error(w, http.StatusNotFound, "Report not found", "")
		} else {
			response.Error(w, http.StatusInternalServerError, "Failed to fetch report", err.Error())
		}
		return
	}

	response.Success(w, http.StatusOK, "Report fetched successfully", report)
}

func updateReportStatus(w http.ResponseWriter, r *http.Request, id string) {
	var input struct {
		Status string `json:"status"`
	}

	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request payload", err.Error())
		return
	}

	status, err := models.ParseReportStatus(input.Status)
	if err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid status", err.Error())
		return
	}

	updated, err := reports.UpdateStatus(r.Context(), id, status)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrReportNotFound):
			response.Error(w, http.StatusNotFound, "Report not found", "")
		case errors.Is(err, store.ErrInvalidTransition):
			response.Error(w, http.StatusConflict, "Invalid status transition", err.Error())
		default:
			response.Error(w, http.StatusInternalServerError, "Failed to update status", err.Error())
		}
		return
	}

	if !updated {
		response.Error(w, http.StatusConflict, "Report status changed concurrently, retry", "")
		return
	}

	response.Success(w, http.StatusOK, "Report status updated", nil)
}

type chatInput struct {
	SessionID   string           `json:"session_id"`
	Message     string           `json:"message"`
	ImageURL    string           `json:"image_url,omitempty"`
	Location    *models.Location `json:"location,omitempty"`
	DamageType  string           `json:"damage_type,omitempty"`
	Severity    string           `json:"severity,omitempty"`
	Remarks     string           `json:"remarks,omitempty"`
	SkipRemarks bool             `json:"skip_remarks,omitempty"`
}

type chatOutput struct {
	SessionID        string                   `json:"session_id"`
	Step             conversation.Step        `json:"step"`
	Messages         []string                 `json:"messages"`
	ValidationStatus string                   `json:"validation_status"`
	Report           *models.SubmissionResult `json:"report,omitempty"`
}

// chatHandler drives one turn of the collection dialogue. The caller is
// expected to serialize turns per session; state is replaced wholesale.
func chatHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		response.Error(w, http.StatusMethodNotAllowed, "Method not allowed", "")
		return
	}

	var input chatInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request payload", err.Error())
		return
	}

	event, err := chatEvent(input)
	if err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid chat input", err.Error())
		return
	}

	sessionID := input.SessionID
	state := conversation.NewState()
	if sessionID == "" {
		sessionID = uuid.New().String()
	} else {
		loaded, err := sessions.Load(r.Context(), sessionID)
		if err == nil {
			state = loaded
		} else if !errors.Is(err, store.ErrSessionNotFound) {
			response.Error(w, http.StatusInternalServerError, "Failed to load session", err.Error())
			return
		}
	}

	state, messages := machine.Reduce(state, event)

	var submitted *models.SubmissionResult
	if state.Step == conversation.StepSubmit && state.ValidationStatus == conversation.ValidationComplete {
		draft, err := state.Draft()
		if err != nil {
			response.Error(w, http.StatusBadRequest, "Collected report data is invalid", err.Error())
			return
		}

		result, err := orch.SubmitDraft(r.Context(), draft)
		if err != nil {
			// The machine stays at submit; the caller decides whether to
			// retry the turn.
			if saveErr := sessions.Save(r.Context(), sessionID, state); saveErr != nil {
				log.Printf("[WARN] Failed to save session %s: %v", sessionID, saveErr)
			}
			writeSubmissionError(w, err)
			return
		}

		middleware.CountReportSubmitted()
		if result.AuthorityNotified {
			middleware.CountNotification("sent")
		} else {
			middleware.CountNotification("failed")
		}

		submitted = &result
		var confirmMessages []string
		state, confirmMessages = machine.Reduce(state, conversation.Event{
			Submitted:         true,
			SubmittedReportID: result.ReportID,
		})
		messages = append(messages, confirmMessages...)
	}

	if state.Step == conversation.StepComplete {
		// The report is now the long-lived record; the session is done.
		if err := sessions.Delete(r.Context(), sessionID); err != nil {
			log.Printf("[WARN] Failed to delete session %s: %v", sessionID, err)
		}
	} else {
		if err := sessions.Save(r.Context(), sessionID, state); err != nil {
			response.Error(w, http.StatusInternalServerError, "Failed to save session", err.Error())
			return
		}
	}

	response.Success(w, http.StatusOK, "Chat turn processed", chatOutput{
		SessionID:        sessionID,
		Step:             state.Step,
		Messages:         messages,
		ValidationStatus: state.ValidationStatus,
		Report:           submitted,
	})
}

func chatEvent(input chatInput) (conversation.Event, error) {
	event := conversation.Event{
		Message:     input.Message,
		ImageURL:    input.ImageURL,
		Remarks:     input.Remarks,
		SkipRemarks: input.SkipRemarks,
	}

	if input.Location != nil {
		if err := input.Location.Validate(); err != nil {
			return conversation.Event{}, err
		}
		event.Location = input.Location
	}
	if input.DamageType != "" {
		damageType, err := models.ParseDamageType(input.DamageType)
		if err != nil {
			return conversation.Event{}, err
		}
		event.DamageType = damageType
	}
	if input.Severity != "" {
		severity, err := models.ParseSeverity(input.Severity)
		if err != nil {
			return conversation.Event{}, err
		}
		event.Severity = severity
	}

	return event, nil
}

type analysisPayload struct {
	vision.Result
	ImageURL string `json:"image_url,omitempty"`
}

// analyzeImageHandler classifies an uploaded photo and, when object storage
// is available, also persists it so the chat flow can reference the URL.
func analyzeImageHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		response.Error(w, http.StatusMethodNotAllowed, "Method not allowed", "")
		return
	}

	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid multipart form", err.Error())
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		response.Error(w, http.StatusBadRequest, "No image file provided", "")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadSize))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "Failed to read image upload", err.Error())
		return
	}

	contentType := header.Header.Get("Content-Type")
	result := analyzer.Analyze(r.Context(), data, contentType)

	payload := analysisPayload{Result: result}
	if result.Success && images != nil {
		url, saveErr := images.Save(r.Context(), data, header.Filename, contentType)
		if saveErr != nil {
			log.Printf("[WARN] Failed to store analyzed image: %v", saveErr)
		} else {
			payload.ImageURL = url
		}
	}

	response.Success(w, http.StatusOK, "Image analysis completed", payload)
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, map[string]interface{}{
		"status":  "UP",
		"service": "report-service",
	})
}

package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"road-damage-reporting/services/report-service/models"
)

const defaultTimeout = 10 * time.Second

// Dispatcher sends report notifications to the configured relay endpoint.
// Delivery is best-effort: a failed or unconfigured dispatch is reported as
// sent=false and never as an error, because notification must not be able
// to fail a submission.
type Dispatcher struct {
	endpoint string
	client   *http.Client
}

func NewDispatcher(endpoint string, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Dispatcher{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

func (d *Dispatcher) IsConfigured() bool {
	return d.endpoint != ""
}

// Notify posts the notification payload for a persisted report. Returns
// whether the relay accepted it with a 2xx response.
func (d *Dispatcher) Notify(ctx context.Context, report models.Report, auth models.Authority) bool {
	if !d.IsConfigured() {
		log.Printf("[WARN] Webhook URL not configured, skipping notification for report %s", report.ID)
		return false
	}

	body, err := json.Marshal(BuildPayload(report, auth))
	if err != nil {
		log.Printf("[WARN] Failed to marshal webhook payload for report %s: %v", report.ID, err)
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(body))
	if err != nil {
		log.Printf("[WARN] Failed to build webhook request for report %s: %v", report.ID, err)
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		log.Printf("[WARN] Webhook notification failed for report %s: %v", report.ID, err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Printf("[WARN] Webhook relay returned status %d for report %s", resp.StatusCode, report.ID)
		return false
	}

	return true
}

// BuildPayload flattens the report and authority into the relay template
// shape. Several values are duplicated under alternate key spellings so
// downstream email templates keep working regardless of which name they use;
// the nested sub-structures exist for newer consumers.
func BuildPayload(report models.Report, auth models.Authority) map[string]interface{} {
	return map[string]interface{}{
		"subject":     fmt.Sprintf("🚨 IMPORTANT: Road Damage Report %s", shortID(report.ID)),
		"report_id":   report.ID,
		"location":    report.Location().String(),
		"damage_type": string(report.DamageType),
		"severity":    string(report.Severity),
		"image_url":   report.ImageURL,
		"remarks":     report.Remarks,

		"authority_name":       auth.Name,
		"authority_contact":    auth.Contact,
		"authority_department": auth.Department,

		// Alternate spellings used by existing relay templates.
		"name":            auth.Name,
		"contact":         auth.Contact,
		"designation":     auth.Department,
		"contact_details": auth.Contact,
		"email":           auth.Contact,

		"event_type": "road_damage_report",
		"timestamp":  report.CreatedAt,
		"location_details": map[string]interface{}{
			"latitude":  report.LocationLat,
			"longitude": report.LocationLng,
			"address":   report.LocationAddress,
		},
		"damage_details": map[string]interface{}{
			"type":        string(report.DamageType),
			"severity":    string(report.Severity),
			"description": report.Remarks,
			"image_url":   report.ImageURL,
		},
		"responsible_authority": map[string]interface{}{
			"name":       auth.Name,
			"department": auth.Department,
			"contact":    auth.Contact,
		},
		"status":   string(report.Status),
		"priority": Priority(report.Severity),
	}
}

// Priority maps severity to relay priority. The mapping is total: anything
// unrecognized is treated as normal.
func Priority(severity models.Severity) string {
	switch severity {
	case models.SeverityLow:
		return "normal"
	case models.SeverityMedium:
		return "high"
	case models.SeverityHigh:
		return "urgent"
	}
	return "normal"
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

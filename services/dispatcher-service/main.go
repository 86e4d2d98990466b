package main

import (
	"encoding/json"
	"log"

	"road-damage-reporting/pkg/config"
	"road-damage-reporting/pkg/queue"
	"road-damage-reporting/services/report-service/models"
)

// crewFor picks the work crew that handles a damage category. Potholes and
// surface damage go to paving, cracks to sealing, anything else to a general
// inspection crew.
func crewFor(damageType string) string {
	switch models.DamageType(damageType) {
	case models.DamagePothole, models.DamageSurfaceDamage:
		return "PAVING CREW"
	case models.DamageCrack:
		return "CRACK SEALING CREW"
	default:
		return "GENERAL INSPECTION CREW"
	}
}

func main() {
	cfg := config.Load()

	conn, ch, err := queue.ConnectRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("[ERROR] Failed to connect to RabbitMQ: %v", err)
	}
	defer conn.Close()
	defer ch.Close()

	log.Println("[OK] Dispatcher Service connected to RabbitMQ")

	msgs, err := queue.ConsumeMessages(ch, cfg.ReportQueue)
	if err != nil {
		log.Fatalf("[ERROR] Failed to consume queue: %v", err)
	}

	forever := make(chan bool)

	go func() {
		for d := range msgs {
			var event models.ReportEvent
			if err := json.Unmarshal(d.Body, &event); err != nil {
				log.Printf("[WARN] Error parsing report event: %v", err)
				continue
			}

			crew := crewFor(event.DamageType)
			log.Printf("[ROUTING] Report %s (%s, severity %s) -> %s, crew: %s",
				event.ID, event.DamageType, event.Severity, event.Authority, crew)
			log.Printf("[DETAIL] Location: %s, Image: %s", event.Location, event.ImageURL)
		}
	}()

	log.Printf("[INFO] Waiting for reports in queue '%s'. Press CTRL+C to exit.", cfg.ReportQueue)
	<-forever
}

package mqtt

import (
	"encoding/json"
	"fmt"
	"time"

	"asistente-coples/config"
	"asistente-coples/internal/core/models"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
)

// Publisher pushes finished analyses to an MQTT broker so PLCs and other
// plant-floor consumers can react without polling the REST API.
type Publisher struct {
	config config.MQTTConfig
	client mqtt.Client
}

// AnalysisMessage is the payload published per finished analysis.
type AnalysisMessage struct {
	AnalysisID     string    `json:"id_analisis"`
	Kind           string    `json:"tipo_analisis"`
	Status         string    `json:"estado"`
	PredictedClass string    `json:"clase_predicha,omitempty"`
	Confidence     float64   `json:"confianza,omitempty"`
	DefectCount    int       `json:"defectos"`
	TotalMS        float64   `json:"tiempo_total_ms"`
	ProcessedAt    time.Time `json:"timestamp_procesamiento"`
}

// NewPublisher creates a publisher; Start must be called before publishing.
func NewPublisher(cfg config.MQTTConfig) *Publisher {
	return &Publisher{config: cfg}
}

// Start connects to the broker. Disabled publishers start successfully and
// silently drop messages.
func (p *Publisher) Start() error {
	if !p.config.Enabled {
		log.Info("MQTT publisher is disabled in configuration")
		return nil
	}

	opts := mqtt.NewClientOptions()
	brokerURL := fmt.Sprintf("tcp://%s:%d", p.config.Broker, p.config.Port)
	opts.AddBroker(brokerURL)
	opts.SetClientID(p.config.ClientID)

	if p.config.Username != "" {
		opts.SetUsername(p.config.Username)
		opts.SetPassword(p.config.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(1 * time.Minute)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Infof("Connected to MQTT broker at %s", brokerURL)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warnf("MQTT connection lost: %v", err)
	})

	p.client = mqtt.NewClient(opts)

	log.Infof("Connecting to MQTT broker at %s", brokerURL)
	if token := p.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	return nil
}

// Stop disconnects from the broker.
func (p *Publisher) Stop() {
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
		log.Info("MQTT publisher disconnected")
	}
}

// PublishAnalysis publishes the outcome of one analysis. Errors are logged,
// not returned: MQTT delivery must never fail an analysis request.
func (p *Publisher) PublishAnalysis(analysis *models.Analysis) {
	if !p.config.Enabled || p.client == nil || !p.client.IsConnected() {
		return
	}

	msg := AnalysisMessage{
		AnalysisID:  analysis.AnalysisID,
		Kind:        analysis.Kind,
		Status:      analysis.Status,
		DefectCount: len(analysis.DefectDetections) + len(analysis.DefectSegmentations),
		TotalMS:     analysis.TotalMS,
		ProcessedAt: analysis.ProcessedAt,
	}
	if analysis.Classification != nil {
		msg.PredictedClass = analysis.Classification.PredictedClass
		msg.Confidence = analysis.Classification.Confidence
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		log.Errorf("Failed to marshal MQTT analysis message: %v", err)
		return
	}

	token := p.client.Publish(p.config.Topic, 0, false, payload)
	go func() {
		if token.Wait() && token.Error() != nil {
			log.Warnf("Failed to publish analysis %s to MQTT: %v", analysis.AnalysisID, token.Error())
		}
	}()
}

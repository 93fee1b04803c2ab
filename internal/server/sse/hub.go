package sse

import (
	"encoding/json"
	"sync"
	"time"

	"asistente-coples/internal/core/models"

	log "github.com/sirupsen/logrus"
)

// Client is a single connected SSE subscriber.
type Client chan []byte

// Hub tracks the active subscribers and fans broadcasts out to them.
type Hub struct {
	clients    map[Client]bool
	broadcast  chan []byte
	register   chan Client
	unregister chan Client
	mu         sync.Mutex
}

// AnalysisEvent is pushed whenever an analysis starts or finishes.
type AnalysisEvent struct {
	Event          string    `json:"event"` // "inicio", "completado", "error"
	ID             uint      `json:"id"`
	AnalysisID     string    `json:"id_analisis"`
	Kind           string    `json:"tipo_analisis"`
	Status         string    `json:"estado"`
	PredictedClass string    `json:"clase_predicha,omitempty"`
	Confidence     float64   `json:"confianza,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// PreviewEvent carries one camera preview frame.
type PreviewEvent struct {
	Event      string    `json:"event"` // always "preview"
	Frame      string    `json:"frame"`
	CapturedAt time.Time `json:"timestamp_captura"`
}

// NewHub creates a hub; call Run in a goroutine afterwards.
func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan []byte, 100),
		register:   make(chan Client),
		unregister: make(chan Client),
		clients:    make(map[Client]bool),
	}
}

// Run processes registrations and broadcasts until the process exits.
func (h *Hub) Run() {
	log.Info("SSE hub started")

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			log.Infof("SSE client registered. Total clients: %d", count)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client)
				log.Infof("SSE client unregistered. Total clients: %d", len(h.clients))
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client <- message:
				default:
					// Slow or closed client, drop it.
					log.Warn("SSE client channel full or closed, removing client")
					delete(h.clients, client)
					close(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Register adds a subscriber to the hub.
func (h *Hub) Register(client Client) {
	h.register <- client
}

// Unregister removes a subscriber from the hub.
func (h *Hub) Unregister(client Client) {
	h.unregister <- client
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast queues a raw message for all subscribers without blocking.
func (h *Hub) Broadcast(message []byte) {
	select {
	case h.broadcast <- message:
	default:
		log.Warn("SSE broadcast channel full, message dropped")
	}
}

// BroadcastAnalysis pushes the lifecycle state of an analysis to all clients.
func (h *Hub) BroadcastAnalysis(event string, analysis *models.Analysis) {
	data := AnalysisEvent{
		Event:      event,
		ID:         analysis.ID,
		AnalysisID: analysis.AnalysisID,
		Kind:       analysis.Kind,
		Status:     analysis.Status,
		Timestamp:  time.Now(),
	}
	if analysis.Classification != nil {
		data.PredictedClass = analysis.Classification.PredictedClass
		data.Confidence = analysis.Classification.Confidence
	}

	payload, err := json.Marshal(data)
	if err != nil {
		log.Errorf("Failed to marshal analysis event for SSE: %v", err)
		return
	}
	h.Broadcast(payload)
}

// BroadcastPreview pushes one camera preview frame to all clients.
func (h *Hub) BroadcastPreview(frame string, capturedAt time.Time) {
	payload, err := json.Marshal(PreviewEvent{
		Event:      "preview",
		Frame:      frame,
		CapturedAt: capturedAt,
	})
	if err != nil {
		log.Errorf("Failed to marshal preview event for SSE: %v", err)
		return
	}
	h.Broadcast(payload)
}

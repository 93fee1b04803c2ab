package preview

import (
	"context"
	"time"

	"asistente-coples/config"
	"asistente-coples/internal/integrations/vision"
	"asistente-coples/internal/server/sse"

	log "github.com/sirupsen/logrus"
)

// Poller periodically fetches camera frames from the backend and pushes them
// to SSE subscribers. Frames are only fetched while at least one client is
// connected.
type Poller struct {
	vision   *vision.Client
	hub      *sse.Hub
	interval time.Duration
	stopChan chan struct{}
}

// NewPoller creates a preview poller.
func NewPoller(client *vision.Client, hub *sse.Hub, cfg config.VisionConfig) *Poller {
	interval := cfg.PreviewInterval()
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Poller{
		vision:   client,
		hub:      hub,
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

// Start launches the polling loop in a goroutine.
func (p *Poller) Start() {
	log.Infof("Camera preview poller started (interval: %s)", p.interval)
	go p.run()
}

// Stop terminates the polling loop.
func (p *Poller) Stop() {
	close(p.stopChan)
	log.Info("Camera preview poller stopped")
}

func (p *Poller) run() {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.poll()
		case <-p.stopChan:
			return
		}
	}
}

func (p *Poller) poll() {
	if p.hub.ClientCount() == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.interval)
	defer cancel()

	preview, err := p.vision.CapturePreview(ctx)
	if err != nil {
		log.Debugf("Preview capture failed: %v", err)
		return
	}
	p.hub.BroadcastPreview(preview.Frame, preview.CapturedAt)
}

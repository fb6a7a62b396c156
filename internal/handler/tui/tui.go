// Package tui renders a live terminal dashboard over one node's HTTP
// introspection surface (internal/handler/http), built on gizak/termui/v3
// in its own widget-and-render-loop idiom. This backs the "nodes" operator
// command for live ops visibility into a running node.
package tui

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	ui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"
)

// Stats mirrors internal/handler/http.Handler.Stats's JSON body.
type Stats struct {
	ActorCount    int      `json:"actor_count"`
	ReadyQueueLen int      `json:"ready_queue_len"`
	Peers         []string `json:"peers"`
}

// ActorInfo mirrors internal/handler/http.Handler.ListActors's JSON body.
type ActorInfo struct {
	PID   string `json:"pid"`
	State string `json:"state"`
	Mode  string `json:"mode"`
}

// Dashboard polls one node's HTTP control surface and renders actor count,
// ready-queue depth, and peer/actor tables until the user quits.
type Dashboard struct {
	client   *http.Client
	baseAddr string
	interval time.Duration
}

// NewDashboard constructs a Dashboard pointed at baseAddr (e.g. "http://127.0.0.1:8080").
func NewDashboard(baseAddr string) *Dashboard {
	return &Dashboard{
		client:   &http.Client{Timeout: 2 * time.Second},
		baseAddr: baseAddr,
		interval: time.Second,
	}
}

func (d *Dashboard) fetchStats() (Stats, error) {
	var s Stats
	resp, err := d.client.Get(d.baseAddr + "/stats")
	if err != nil {
		return s, err
	}
	defer resp.Body.Close()
	err = json.NewDecoder(resp.Body).Decode(&s)
	return s, err
}

func (d *Dashboard) fetchActors() ([]ActorInfo, error) {
	var a []ActorInfo
	resp, err := d.client.Get(d.baseAddr + "/actors")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	err = json.NewDecoder(resp.Body).Decode(&a)
	return a, err
}

// Run initializes termbox and renders until 'q'/Ctrl-C is pressed, showing
// a failed stats refresh in the header and keeping the last actor table
// when an actors refresh fails; it always closes termui before returning.
func (d *Dashboard) Run() error {
	if err := ui.Init(); err != nil {
		return fmt.Errorf("tui: init: %w", err)
	}
	defer ui.Close()

	header := widgets.NewParagraph()
	header.Title = "actorcore node"
	header.Text = d.baseAddr
	header.SetRect(0, 0, 60, 3)

	queueGauge := widgets.NewGauge()
	queueGauge.Title = "ready queue"
	queueGauge.SetRect(0, 3, 60, 6)
	queueGauge.BarColor = ui.ColorGreen

	peerList := widgets.NewList()
	peerList.Title = "peers"
	peerList.SetRect(0, 6, 30, 16)

	actorTable := widgets.NewTable()
	actorTable.Title = "actors"
	actorTable.Rows = [][]string{{"pid", "state", "mode"}}
	actorTable.SetRect(30, 6, 90, 26)

	render := func() {
		stats, err := d.fetchStats()
		if err != nil {
			header.Text = fmt.Sprintf("%s  (stats error: %v)", d.baseAddr, err)
		} else {
			header.Text = fmt.Sprintf("%s  actors=%d", d.baseAddr, stats.ActorCount)
			queueGauge.Percent = clampPercent(stats.ReadyQueueLen)
			peerList.Rows = stats.Peers
		}
		if actors, err := d.fetchActors(); err == nil {
			rows := [][]string{{"pid", "state", "mode"}}
			for _, a := range actors {
				rows = append(rows, []string{a.PID, a.State, a.Mode})
			}
			actorTable.Rows = rows
		}
		ui.Render(header, queueGauge, peerList, actorTable)
	}

	render()

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	uiEvents := ui.PollEvents()
	for {
		select {
		case e := <-uiEvents:
			switch e.ID {
			case "q", "<C-c>":
				return nil
			}
		case <-ticker.C:
			render()
		}
	}
}

func clampPercent(n int) int {
	if n < 0 {
		return 0
	}
	if n > 100 {
		return 100
	}
	return n
}

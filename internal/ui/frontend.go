package ui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/asheshgoplani/agent-tower/internal/tower"
)

// Dashboard wraps the bubbletea program and implements tower.FrontEnd, so
// the scheduler can stream notifications straight into the running view.
type Dashboard struct {
	program *tea.Program
}

// NewDashboard builds the dashboard around a controller and status source.
func NewDashboard(controller Controller, status StatusSource) *Dashboard {
	model := NewModel(controller, status)
	return &Dashboard{
		program: tea.NewProgram(model, tea.WithAltScreen()),
	}
}

// Name implements tower.FrontEnd.
func (d *Dashboard) Name() string { return "tui" }

// Notify implements tower.FrontEnd by injecting the notification into the
// bubbletea event loop. Send never blocks past program shutdown.
func (d *Dashboard) Notify(_ context.Context, n tower.Notification) error {
	d.program.Send(NotificationMsg(n))
	return nil
}

// Run blocks until the operator quits the dashboard.
func (d *Dashboard) Run() error {
	_, err := d.program.Run()
	return err
}

// Quit asks the dashboard to exit.
func (d *Dashboard) Quit() {
	d.program.Quit()
}

// Package services lists and controls systemd service units.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vpsdash/vpsd/internal/shared/cmdexec"
)

// ErrInvalidAction indicates a control action outside the supported set.
var ErrInvalidAction = errors.New("services: invalid action")

var allowedActions = map[string]bool{
	"start":   true,
	"stop":    true,
	"restart": true,
}

// Unit is one systemd service row.
type Unit struct {
	Name        string `json:"name"`
	Load        string `json:"load"`
	Active      string `json:"active"`
	Sub         string `json:"sub"`
	Description string `json:"description"`
}

// List enumerates service units via systemctl.
func List(ctx context.Context, runner cmdexec.Runner) ([]Unit, error) {
	out, err := runner.Run(ctx, "systemctl", "list-units", "--type=service", "--all", "--no-pager", "--no-legend", "--plain")
	if err != nil {
		return nil, fmt.Errorf("services: list units: %w", err)
	}
	return parseUnits(out), nil
}

// Control applies a validated action to a unit. The action is checked before
// any command is issued.
func Control(ctx context.Context, runner cmdexec.Runner, name, action string) error {
	if !allowedActions[action] {
		return fmt.Errorf("%w: %s", ErrInvalidAction, action)
	}
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("services: unit name required")
	}
	if _, err := runner.Run(ctx, "systemctl", action, name); err != nil {
		return fmt.Errorf("services: %s %s: %w", action, name, err)
	}
	return nil
}

func parseUnits(out string) []Unit {
	var units []Unit
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}
		units = append(units, Unit{
			Name:        fields[0],
			Load:        fields[1],
			Active:      fields[2],
			Sub:         fields[3],
			Description: strings.Join(fields[4:], " "),
		})
	}
	return units
}

package page

import (
	"fmt"
	"strings"
)

// Context identifies the dashboard screen an interaction started from.
type Context string

const (
	BusDashboard Context = "busDashboard"
	ManageRoute  Context = "manageRoute"
)

// Resolve maps a frontend location path to its page context. Everything outside the
// dashboard section belongs to route management.
func Resolve(path string) Context {
	path = strings.TrimSpace(path)
	if strings.HasPrefix(path, "/dashboard") {
		return BusDashboard
	}
	return ManageRoute
}

// Parse validates a page context supplied by a client.
func Parse(v string) (Context, error) {
	switch Context(strings.TrimSpace(v)) {
	case BusDashboard:
		return BusDashboard, nil
	case ManageRoute:
		return ManageRoute, nil
	default:
		return "", fmt.Errorf("unknown page context %q (expected %s|%s)", v, BusDashboard, ManageRoute)
	}
}

func (c Context) String() string { return string(c) }

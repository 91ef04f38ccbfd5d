package agent

import "strings"

const (
	fallbackRoute   = "I can help you with route management. You can create new routes, edit existing ones, or view route details. What would you like to do?"
	fallbackTrip    = "For trip and vehicle management, I can help you assign drivers, check booking status, or monitor live statuses. What do you need?"
	fallbackDriver  = "I can help you manage driver assignments. Would you like to assign a driver to a trip or view driver availability?"
	fallbackGeneric = "I'm here to help with route management, trip scheduling, and vehicle assignments. Could you be more specific about what you need?"
)

// FallbackReply picks a canned help text for the user's words. It never fails and
// never returns an empty string.
func FallbackReply(text string) string {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "route"):
		return fallbackRoute
	case strings.Contains(lower, "trip"), strings.Contains(lower, "vehicle"):
		return fallbackTrip
	case strings.Contains(lower, "driver"):
		return fallbackDriver
	default:
		return fallbackGeneric
	}
}

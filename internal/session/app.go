package session

import (
	"context"
	"os/exec"
	"strings"
	"time"
)

// knownApps maps process name fragments to display names, checked in
// order so the more specific entries win.
var knownApps = []struct {
	fragment string
	name     string
}{
	{"zoom", "Zoom"},
	{"teams", "Microsoft Teams"},
	{"webex", "Webex"},
	{"slack", "Slack"},
	{"discord", "Discord"},
	{"skype", "Skype"},
	{"chrome", "Google Meet"},
	{"firefox", "Google Meet"},
}

// DetectApp makes a best-effort guess at which meeting application is
// running by scanning the process list. Returns "" when nothing
// recognizable is found; detection failure never affects the session.
func DetectApp(ctx context.Context) string {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, "ps", "-eo", "comm").Output()
	if err != nil {
		return ""
	}

	processes := strings.ToLower(string(out))
	for _, app := range knownApps {
		if strings.Contains(processes, app.fragment) {
			return app.name
		}
	}
	return ""
}

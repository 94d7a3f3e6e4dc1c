package supervisor

import (
	"regexp"
	"strconv"
)

// readyPatterns match the "server listening" lines the common dev servers
// print, in order of specificity. Each pattern's first capture group is the
// port.
var readyPatterns = []*regexp.Regexp{
	// Vite/Next style: "Local:   http://localhost:5173/"
	regexp.MustCompile(`(?i)local:\s+https?://[^:/\s]+:(\d{2,5})`),
	// Generic URL with a loopback or wildcard host.
	regexp.MustCompile(`https?://(?:localhost|127\.0\.0\.1|0\.0\.0\.0):(\d{2,5})`),
	// "Listening on port 3000" / "listening on :3000"
	regexp.MustCompile(`(?i)listening on (?:port\s+|:)?(\d{2,5})`),
	// "Server running at :8080"
	regexp.MustCompile(`(?i)(?:server|app) (?:running|started|ready).*?:(\d{2,5})`),
}

// ParseReadySignal inspects one output line for a server-listening signal
// and extracts the serving port.
func ParseReadySignal(line string) (port int, ok bool) {
	for _, re := range readyPatterns {
		m := re.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		p, err := strconv.Atoi(m[1])
		if err != nil || p == 0 || p > 65535 {
			continue
		}
		return p, true
	}
	return 0, false
}

package bootstrap

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/kbukum/streamkit/observability"
)

// InfrastructureInfo holds detailed infrastructure component information.
type InfrastructureInfo struct {
	Name    string
	Type    string // e.g. "otlp", "quota"
	Status  string
	Details string
	Healthy bool
}

// ClientInfo represents an outbound client.
type ClientInfo struct {
	Name    string
	Target  string
	Status  string
	Details string
}

// Summary tracks and displays the application bootstrap process.
type Summary struct {
	serviceName     string
	version         string
	startupDuration time.Duration
	infrastructure  []InfrastructureInfo
	clients         []ClientInfo
	out             io.Writer
}

// NewSummary creates a new bootstrap summary tracker.
func NewSummary(serviceName, version string) *Summary {
	return &Summary{
		serviceName: serviceName,
		version:     version,
		out:         os.Stdout,
	}
}

// SetOutput redirects Display.
func (s *Summary) SetOutput(w io.Writer) {
	s.out = w
}

// SetStartupDuration records the total startup time.
func (s *Summary) SetStartupDuration(d time.Duration) {
	s.startupDuration = d
}

// TrackInfrastructure adds an infrastructure component with detailed metadata.
func (s *Summary) TrackInfrastructure(name, componentType, status, details string, healthy bool) {
	s.infrastructure = append(s.infrastructure, InfrastructureInfo{
		Name:    name,
		Type:    componentType,
		Status:  status,
		Details: details,
		Healthy: healthy,
	})
}

// TrackClient records an outbound client.
func (s *Summary) TrackClient(name, target, status, details string) {
	s.clients = append(s.clients, ClientInfo{
		Name:    name,
		Target:  target,
		Status:  status,
		Details: details,
	})
}

// Infrastructure returns the tracked infrastructure components.
func (s *Summary) Infrastructure() []InfrastructureInfo {
	return s.infrastructure
}

// Clients returns the tracked clients.
func (s *Summary) Clients() []ClientInfo {
	return s.clients
}

// Display prints the bootstrap summary followed by the ready check result.
func (s *Summary) Display(health *observability.ServiceHealth) {
	w := s.out
	fmt.Fprintf(w, "\n🚀 %s v%s started in %.2fs\n\n",
		s.serviceName, s.version, s.startupDuration.Seconds())

	if len(s.infrastructure) > 0 {
		fmt.Fprintf(w, "📊 Infrastructure\n")
		for i, inf := range s.infrastructure {
			fmt.Fprintf(w, "   %s %s %s [%s]: %s\n",
				treePrefix(i, len(s.infrastructure)), statusIcon(inf.Status, inf.Healthy), inf.Name, inf.Type, inf.Details)
		}
		fmt.Fprintf(w, "\n")
	}

	if len(s.clients) > 0 {
		fmt.Fprintf(w, "🔌 Clients\n")
		for i, c := range s.clients {
			target := c.Target
			if target == "" {
				target = "(per-request URL)"
			}
			fmt.Fprintf(w, "   %s %s → %s [%s] (%s)\n", treePrefix(i, len(s.clients)), c.Name, target, c.Status, c.Details)
		}
		fmt.Fprintf(w, "\n")
	}

	if health != nil && len(health.Components) > 0 {
		fmt.Fprintf(w, "🏥 Health Check\n")
		for i, h := range health.Components {
			msg := ""
			if h.Message != "" {
				msg = ": " + h.Message
			}
			fmt.Fprintf(w, "   %s %s %s: %s%s\n",
				treePrefix(i, len(health.Components)), healthStatusIcon(h.Status), h.Name, strings.ToLower(string(h.Status)), msg)
		}
		fmt.Fprintf(w, "\n")
	}
}

func treePrefix(i, n int) string {
	if i == n-1 {
		return "└──"
	}
	return "├──"
}

func statusIcon(status string, healthy bool) string {
	if !healthy {
		return "❌"
	}
	switch status {
	case "active", "connected", "ready":
		return "✅"
	case "disabled":
		return "⏸️"
	default:
		return "⚠️"
	}
}

func healthStatusIcon(status observability.HealthStatus) string {
	switch status {
	case observability.HealthStatusUp:
		return "✅"
	case observability.HealthStatusDegraded:
		return "⚠️"
	case observability.HealthStatusDown:
		return "❌"
	default:
		return "❓"
	}
}

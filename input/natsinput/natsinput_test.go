package natsinput

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventNameFromSubject(t *testing.T) {
	tests := []struct {
		prefix  string
		subject string
		want    string
	}{
		{"webhook.events", "webhook.events.odalogs_cpu_alerts", "odalogs_cpu_alerts"},
		{"webhook.events", "webhook.events.odalogs.cpu.alerts", "odalogs_cpu_alerts"},
		{"webhook.events", "webhook.events", ""},
		{"webhook.events", "webhook.events.", ""},
		{"", "plain_event", "plain_event"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, EventNameFromSubject(tt.prefix, tt.subject),
			"prefix=%s subject=%s", tt.prefix, tt.subject)
	}
}

package sshexec

import (
	"strings"
	"testing"
	"time"

	"fleetrun/internal/fleet"
)

func TestDialTimeoutFor(t *testing.T) {
	tests := []struct {
		name    string
		client  Client
		node    fleet.Node
		want    time.Duration
		wantErr string
	}{
		{
			name: "default",
			want: defaultDialTimeout,
		},
		{
			name:   "client wide",
			client: Client{DialTimeout: 3 * time.Second},
			want:   3 * time.Second,
		},
		{
			name:   "node option overrides client",
			client: Client{DialTimeout: 3 * time.Second},
			node: fleet.Node{
				ID:      "db-1",
				Options: map[string]string{OptionConnectTimeout: "750ms"},
			},
			want: 750 * time.Millisecond,
		},
		{
			name: "malformed option",
			node: fleet.Node{
				ID:      "db-1",
				Options: map[string]string{OptionConnectTimeout: "soon"},
			},
			wantErr: "connect_timeout",
		},
		{
			name: "non-positive option",
			node: fleet.Node{
				ID:      "db-1",
				Options: map[string]string{OptionConnectTimeout: "-1s"},
			},
			wantErr: "positive",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.client.dialTimeoutFor(tt.node)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("dialTimeoutFor() error = %v, want %q in message", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("dialTimeoutFor() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("dialTimeoutFor() = %v, want %v", got, tt.want)
			}
		})
	}
}

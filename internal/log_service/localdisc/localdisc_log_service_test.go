package localdisc

import (
	"os"
	"strings"
	"testing"

	"github.com/AnishMulay/chfs/internal/log_service"
)

func TestLocalDiscLogService_Filtering(t *testing.T) {
	tests := []struct {
		name     string
		minLevel string
		logFn    func(*LocalDiscLogService)
		want     string
		wantNone bool
	}{
		{
			name:     "info passes info filter",
			minLevel: log_service.InfoLevel,
			logFn: func(ls *LocalDiscLogService) {
				ls.Info(log_service.LogEvent{Message: "started", Metadata: map[string]any{"addr": ":8080"}})
			},
			want: "INFO: started addr=:8080",
		},
		{
			name:     "debug dropped by warn filter",
			minLevel: log_service.WarnLevel,
			logFn: func(ls *LocalDiscLogService) {
				ls.Debug(log_service.LogEvent{Message: "noise"})
			},
			wantNone: true,
		},
		{
			name:     "error passes warn filter",
			minLevel: log_service.WarnLevel,
			logFn: func(ls *LocalDiscLogService) {
				ls.Error(log_service.LogEvent{Message: "failed"})
			},
			want: "[node1] ERROR: failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ls, err := NewLocalDiscLogService(t.TempDir(), "node1", tt.minLevel)
			if err != nil {
				t.Fatalf("NewLocalDiscLogService() error = %v", err)
			}
			defer ls.Close()

			tt.logFn(ls)

			data, err := os.ReadFile(ls.Path())
			if err != nil {
				t.Fatalf("failed to read log file: %v", err)
			}
			if tt.wantNone {
				if len(data) != 0 {
					t.Errorf("expected empty log, got %q", data)
				}
				return
			}
			if !strings.Contains(string(data), tt.want) {
				t.Errorf("log = %q, want substring %q", data, tt.want)
			}
		})
	}
}

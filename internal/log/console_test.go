package log

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestConsoleHandler_Formats(t *testing.T) {
	tests := []struct {
		format string
		want   []string
	}{
		{"text", []string{"msg=\"discovered function\"", "name=foo"}},
		{"json", []string{`"msg":"discovered function"`, `"name":"foo"`}},
		{"", []string{"msg=\"discovered function\""}},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			var buf bytes.Buffer
			h := NewConsoleHandler(&buf, &Config{Format: tt.format}, slog.LevelInfo)
			slog.New(h).Info("discovered function", "name", "foo")

			for _, w := range tt.want {
				if !strings.Contains(buf.String(), w) {
					t.Errorf("expected output to contain %q, got %q", w, buf.String())
				}
			}
		})
	}
}

func TestConsoleHandler_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	h := NewConsoleHandler(&buf, &Config{Format: "text"}, slog.LevelWarn)

	logger := slog.New(h)
	logger.Info("should not appear")
	logger.Warn("should appear")

	output := buf.String()
	if strings.Contains(output, "should not appear") {
		t.Errorf("info message should be filtered out at warn level")
	}
	if !strings.Contains(output, "should appear") {
		t.Errorf("warn message should appear")
	}
}

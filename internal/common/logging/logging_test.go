package logging

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestSetup(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.TraceLevel)

	tests := []struct {
		name  string
		level string
		want  zerolog.Level
	}{
		{name: "debugレベル", level: "debug", want: zerolog.DebugLevel},
		{name: "warnレベル", level: "warn", want: zerolog.WarnLevel},
		{name: "不正な値はinfo", level: "verbose", want: zerolog.InfoLevel},
		{name: "空はinfo", level: "", want: zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			Setup(tt.level, false)
			if got := zerolog.GlobalLevel(); got != tt.want {
				t.Errorf("GlobalLevel() = %v, want %v", got, tt.want)
			}
		})
	}
}

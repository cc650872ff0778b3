package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"

	"github.com/mrzor/logincap/internal/message"
	"github.com/mrzor/logincap/internal/probe"
	"github.com/mrzor/logincap/internal/pyjson"
)

func TestParseArgs(t *testing.T) {
	tests := []struct {
		name       string
		args       []string
		want       Target
		wantLaunch bool
		wantErr    bool
	}{
		{
			name:       "defaults",
			args:       nil,
			want:       Target{Path: "SkyrimSE.exe", ProcessName: "SkyrimSE.exe"},
			wantLaunch: true,
		},
		{
			name:       "path only",
			args:       []string{"/games/skyrim/SkyrimSE.exe"},
			want:       Target{Path: "/games/skyrim/SkyrimSE.exe", ProcessName: "SkyrimSE.exe"},
			wantLaunch: true,
		},
		{
			name:       "path and name",
			args:       []string{"/games/skyrim/skse64_loader.exe", "SkyrimSE.exe"},
			want:       Target{Path: "/games/skyrim/skse64_loader.exe", ProcessName: "SkyrimSE.exe"},
			wantLaunch: true,
		},
		{
			name: "attach only",
			args: []string{"", "SkyrimSE.exe"},
			want: Target{ProcessName: "SkyrimSE.exe"},
		},
		{name: "empty path without name", args: []string{""}, wantErr: true},
		{name: "too many", args: []string{"a", "b", "c"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseArgs(tt.args)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantLaunch, got.Launch())
		})
	}
}

func TestParseEnvironment_Defaults(t *testing.T) {
	cfg, err := ParseEnvironment(map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, time.Second, cfg.PollInterval)
	assert.Zero(t, cfg.Timeout)
	assert.Empty(t, cfg.Launcher)
	assert.Equal(t, probe.ABIMicrosoft, cfg.ProbeABI())
	assert.Equal(t, probe.DefaultMaxPayload, cfg.MaxPayload)
	assert.Equal(t, "info", cfg.LogLevel)

	header := cfg.HeaderHook()
	assert.Equal(t, "winhttp.dll.so!WinHttpAddRequestHeaders", header.String())
	assert.Equal(t, message.KindHeader, header.Kind)
	assert.Equal(t, probe.EncodingUTF16LE, header.Encoding)

	data := cfg.DataHook()
	assert.Equal(t, "winhttp.dll.so!WinHttpWriteData", data.String())
	assert.Equal(t, probe.EncodingBytes, data.Encoding)
	assert.Equal(t, 1, data.BufferArg)
	assert.Equal(t, 2, data.LengthArg)
}

func TestParseEnvironment_Overrides(t *testing.T) {
	cfg, err := ParseEnvironment(map[string]string{
		"LOGINCAP_POLL_INTERVAL": "250ms",
		"LOGINCAP_TIMEOUT":       "2m",
		"LOGINCAP_LAUNCHER":      "proton run",
		"LOGINCAP_ABI":           "sysv",
		"LOGINCAP_DATA_MODULE":   "/usr/lib/libcurl.so.4",
		"LOGINCAP_DATA_SYMBOL":   "curl_easy_setopt",
		"LOGINCAP_MAX_PAYLOAD":   "4096",
		"LOGINCAP_QUALIFY":       `"payload" in body`,
		"POLL_INTERVAL":          "1h",
	})
	require.NoError(t, err)

	assert.Equal(t, 250*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, 2*time.Minute, cfg.Timeout)
	assert.Equal(t, []string{"proton", "run"}, cfg.Launcher)
	assert.Equal(t, probe.ABISystemV, cfg.ProbeABI())
	assert.Equal(t, "/usr/lib/libcurl.so.4!curl_easy_setopt", cfg.DataHook().String())
	assert.Equal(t, 4096, cfg.MaxPayload)

	pred, err := cfg.Predicate()
	require.NoError(t, err)
	body := pyjson.NewObject()
	body.Set("payload", "p")
	ok, err := pred.Qualifies(body)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLaunchCommand(t *testing.T) {
	cfg, err := ParseEnvironment(map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, []string{WindowsLauncher}, cfg.LaunchCommand(Target{Path: DefaultTargetPath}))
	assert.Equal(t, []string{WindowsLauncher}, cfg.LaunchCommand(Target{Path: "/games/Client.EXE"}))
	assert.Nil(t, cfg.LaunchCommand(Target{Path: "/usr/bin/client"}))

	cfg, err = ParseEnvironment(map[string]string{"LOGINCAP_LAUNCHER": "proton run"})
	require.NoError(t, err)
	assert.Equal(t, []string{"proton", "run"}, cfg.LaunchCommand(Target{Path: DefaultTargetPath}))
}

func TestParseEnvironment_Invalid(t *testing.T) {
	tests := map[string]map[string]string{
		"bad duration":     {"LOGINCAP_POLL_INTERVAL": "soon"},
		"zero poll":        {"LOGINCAP_POLL_INTERVAL": "0s"},
		"negative timeout": {"LOGINCAP_TIMEOUT": "-1s"},
		"unknown abi":      {"LOGINCAP_ABI": "fastcall"},
		"huge payload":     {"LOGINCAP_MAX_PAYLOAD": "2000000"},
		"bad predicate":    {"LOGINCAP_QUALIFY": "body ++"},
	}

	for name, environ := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseEnvironment(environ)
			assert.Error(t, err)
		})
	}
}

func TestOTELConfig(t *testing.T) {
	cfg, err := ParseOTELEnvironment(map[string]string{})
	require.NoError(t, err)
	assert.False(t, cfg.Enabled())
	assert.Equal(t, "logincap", cfg.ServiceName)

	cfg, err = ParseOTELEnvironment(map[string]string{
		"OTEL_EXPORTER_OTLP_ENDPOINT":        "collector:4318",
		"OTEL_EXPORTER_OTLP_TRACES_ENDPOINT": "traces:4318",
		"OTEL_RESOURCE_ATTRIBUTES":           "env=lab, host = rig1,broken,=x",
	})
	require.NoError(t, err)
	assert.True(t, cfg.Enabled())
	assert.Equal(t, "traces:4318", cfg.GetEndpoint())
	assert.Equal(t, []attribute.KeyValue{
		attribute.String("env", "lab"),
		attribute.String("host", "rig1"),
	}, cfg.ParseResourceAttributes())
}

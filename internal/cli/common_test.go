package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestPrintVersion(t *testing.T) {
	info := GetVersionInfo("1.0.0")

	var text bytes.Buffer
	if err := PrintVersion(&text, "ensemble", info, false); err != nil {
		t.Fatalf("PrintVersion: %v", err)
	}
	if !strings.HasPrefix(text.String(), "ensemble v"+Version+" (protocol 1.0.0)\n") {
		t.Fatalf("unexpected text output: %q", text.String())
	}

	var js bytes.Buffer
	if err := PrintVersion(&js, "ensemble", info, true); err != nil {
		t.Fatalf("PrintVersion json: %v", err)
	}
	var decoded struct {
		Tool string      `json:"tool"`
		Info VersionInfo `json:"version_info"`
	}
	if err := json.Unmarshal(js.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if decoded.Tool != "ensemble" || decoded.Info.Protocol != "1.0.0" {
		t.Fatalf("unexpected json: %+v", decoded)
	}
}

func TestPrintUsage(t *testing.T) {
	var buf bytes.Buffer
	PrintUsage(&buf, "ensemble", []CommandInfo{
		{Name: "root", Description: "Accept nodes", Examples: []string{"ensemble root -listen :9090"}},
		{Name: "node", Description: "Connect to a root"},
	})
	out := buf.String()
	for _, want := range []string{"COMMANDS:", "root", "Connect to a root", "EXAMPLES:", "ensemble root -listen :9090"} {
		if !strings.Contains(out, want) {
			t.Fatalf("usage missing %q:\n%s", want, out)
		}
	}
}

// Package cli holds the version and usage helpers of the ensemble command.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
)

// Version information, overridden at link time.
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
	CommitSHA = "unknown"
)

// VersionInfo contains version and build information
type VersionInfo struct {
	Version   string `json:"version"`
	Protocol  string `json:"protocol"`
	BuildDate string `json:"build_date"`
	CommitSHA string `json:"commit_sha"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// GetVersionInfo returns the build information together with the remote
// protocol version the binary speaks.
func GetVersionInfo(protocol string) *VersionInfo {
	return &VersionInfo{
		Version:   Version,
		Protocol:  protocol,
		BuildDate: BuildDate,
		CommitSHA: CommitSHA,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// PrintVersion writes info as text or indented JSON.
func PrintVersion(w io.Writer, tool string, info *VersionInfo, jsonOutput bool) error {
	if jsonOutput {
		data, err := json.MarshalIndent(map[string]interface{}{
			"tool":         tool,
			"version_info": info,
		}, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}
	fmt.Fprintf(w, "%s v%s (protocol %s)\n", tool, info.Version, info.Protocol)
	fmt.Fprintf(w, "Build Date: %s\n", info.BuildDate)
	if info.CommitSHA != "unknown" && info.CommitSHA != "" {
		fmt.Fprintf(w, "Commit: %s\n", info.CommitSHA)
	}
	fmt.Fprintf(w, "Go Version: %s\n", info.GoVersion)
	fmt.Fprintf(w, "Platform: %s\n", info.Platform)
	return nil
}

// ExitWithError prints an error message and exits with code 1
func ExitWithError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

// CommandInfo describes one subcommand for the usage text.
type CommandInfo struct {
	Name        string
	Description string
	Examples    []string
}

// PrintUsage writes the standard usage message.
func PrintUsage(w io.Writer, tool string, commands []CommandInfo) {
	fmt.Fprintf(w, "%s - actor runtime and remote node host\n\n", tool)
	fmt.Fprintf(w, "USAGE:\n")
	fmt.Fprintf(w, "    %s <command> [OPTIONS]\n\n", tool)

	if len(commands) > 0 {
		fmt.Fprintf(w, "COMMANDS:\n")
		for _, cmd := range commands {
			fmt.Fprintf(w, "    %-12s %s\n", cmd.Name, cmd.Description)
		}
		fmt.Fprintf(w, "\n")
		var examples []string
		for _, cmd := range commands {
			examples = append(examples, cmd.Examples...)
		}
		if len(examples) > 0 {
			fmt.Fprintf(w, "EXAMPLES:\n")
			for _, e := range examples {
				fmt.Fprintf(w, "    %s\n", e)
			}
			fmt.Fprintf(w, "\n")
		}
	}
	fmt.Fprintf(w, "Use '%s <command> -h' for more information about a command.\n", tool)
}

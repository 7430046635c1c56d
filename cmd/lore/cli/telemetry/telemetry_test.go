package telemetry

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
)

func TestNewClientDisabled(t *testing.T) {
	t.Setenv(OptOutEnvVar, "")

	client := NewClient("1.0.0", false)
	assert.IsType(t, &NoOpClient{}, client)
}

func TestNewClientOptOutWins(t *testing.T) {
	t.Setenv(OptOutEnvVar, "1")

	client := NewClient("1.0.0", true)
	assert.IsType(t, &NoOpClient{}, client)
}

func TestNewClientOptOutAnyValue(t *testing.T) {
	t.Setenv(OptOutEnvVar, "yes")

	client := NewClient("1.0.0", true)
	assert.IsType(t, &NoOpClient{}, client)
}

func TestNoOpClientMethods(_ *testing.T) {
	client := &NoOpClient{}

	client.TrackCommand(nil)
	client.TrackCommand(&cobra.Command{Use: "test"})
	client.Close()
}

func TestPostHogClientSkipsHiddenCommands(_ *testing.T) {
	client := &PostHogClient{machineID: "test-id"}

	client.TrackCommand(&cobra.Command{Use: "hidden", Hidden: true})
}

func TestPostHogClientSkipsNilCommand(_ *testing.T) {
	client := &PostHogClient{machineID: "test-id"}

	client.TrackCommand(nil)
}

func TestPostHogClientCloseWithNilClient(_ *testing.T) {
	client := &PostHogClient{machineID: "test-id"}

	client.Close()
}

func TestTrackCommandUsesCommandPath(t *testing.T) {
	client := &PostHogClient{machineID: "test-id"}

	cmd := &cobra.Command{Use: "sessions"}
	rootCmd := &cobra.Command{Use: "lore"}
	rootCmd.AddCommand(cmd)

	assert.Equal(t, "lore sessions", cmd.CommandPath())

	// Internal client is nil; must not panic.
	client.TrackCommand(cmd)
}

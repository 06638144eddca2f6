package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/marmos91/dittovault/pkg/snapshot"
	"github.com/spf13/cobra"
)

var snapshotPayload bool

func newSnapshotCmd() *cobra.Command {
	snapshotCmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Work with node snapshots",
	}

	inspectCmd := &cobra.Command{
		Use:   "inspect <file>",
		Short: "Show the header of a snapshot file",
		Long: `Decode a snapshot envelope and print its header.

With --payload the decoded JSON image is printed as well.`,
		Args: cobra.ExactArgs(1),
		RunE: runSnapshotInspect,
	}
	inspectCmd.Flags().BoolVar(&snapshotPayload, "payload", false, "print the decoded image")
	snapshotCmd.AddCommand(inspectCmd)

	return snapshotCmd
}

func runSnapshotInspect(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}

	header, payload, err := snapshot.Inspect(data)
	if err != nil {
		return fmt.Errorf("inspect %s: %w", args[0], err)
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Kind:     %s\n", header.Kind)
	_, _ = fmt.Fprintf(out, "Version:  %d\n", header.Version)
	_, _ = fmt.Fprintf(out, "Codec:    %s\n", header.Codec)
	_, _ = fmt.Fprintf(out, "Created:  %s\n", header.CreatedAt.UTC().Format("2006-01-02 15:04:05 UTC"))
	_, _ = fmt.Fprintf(out, "Payload:  %d bytes\n", header.PayloadSize)

	if snapshotPayload {
		var pretty bytes.Buffer
		if err := json.Indent(&pretty, payload, "", "  "); err != nil {
			return fmt.Errorf("format payload: %w", err)
		}
		_, _ = fmt.Fprintf(out, "\n%s\n", pretty.String())
	}
	return nil
}

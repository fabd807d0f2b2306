package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

type submitFile struct {
	Items []struct {
		SceneID  string `json:"scene_id"`
		Prompt   string `json:"prompt"`
		Variants int    `json:"variants"`
	} `json:"items"`
	References []struct {
		URL     string `json:"url"`
		Locator string `json:"locator"`
	} `json:"references"`
}

func newSubmitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a batch from a JSON scene file",
		Long: `Reads a scene file ({"items":[{"scene_id","prompt","variants"}...]})
and submits it. The command blocks until the batch finishes; use --dry-run to
get the cost estimate and admission decision without generating anything.`,
		RunE: runSubmit,
	}
	cmd.Flags().String("file", "", "path to the scene JSON file (required)")
	cmd.Flags().Bool("dry-run", false, "estimate only, do not generate")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func runSubmit(cmd *cobra.Command, args []string) error {
	server, _ := cmd.Flags().GetString("server")
	user, _ := cmd.Flags().GetString("user")
	file, _ := cmd.Flags().GetString("file")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	if user == "" {
		return fmt.Errorf("--user is required")
	}

	raw, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("read scene file: %w", err)
	}
	var scenes submitFile
	if err := json.Unmarshal(raw, &scenes); err != nil {
		return fmt.Errorf("parse scene file: %w", err)
	}
	if len(scenes.Items) == 0 {
		return fmt.Errorf("scene file has no items")
	}

	payload := map[string]any{
		"items":      scenes.Items,
		"references": scenes.References,
		"dry_run":    dryRun,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	// Batches run within the request, so no client timeout here.
	client := &http.Client{Timeout: 0}
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, server+"/v1/batches", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", user)

	started := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "HTTP %d (%s)\n", resp.StatusCode, time.Since(started).Round(time.Millisecond))
	return printJSON(cmd.OutOrStdout(), out)
}

func printJSON(w io.Writer, raw []byte) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		_, err := w.Write(raw)
		return err
	}
	buf.WriteByte('\n')
	_, err := w.Write(buf.Bytes())
	return err
}

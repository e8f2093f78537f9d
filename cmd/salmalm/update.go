package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

const releaseURL = "https://api.github.com/repos/salmalm/salmalm/releases/latest"

// runUpdate compares the running build against the latest published release.
// It reports, rather than installs; package managers own the binary.
func runUpdate(cmd *cobra.Command, args []string) error {
	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Get(releaseURL)
	if err != nil {
		return fmt.Errorf("release check: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("release check: unexpected status %s", resp.Status)
	}

	var release struct {
		TagName string `json:"tag_name"`
		HTMLURL string `json:"html_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return fmt.Errorf("release check: %w", err)
	}
	latest := strings.TrimPrefix(release.TagName, "v")
	if latest == "" {
		return fmt.Errorf("release check: no published release")
	}

	current := strings.TrimPrefix(version, "v")
	if current == latest {
		fmt.Printf("salmalm %s is up to date\n", version)
		return nil
	}
	fmt.Printf("salmalm %s → %s available\n%s\n", version, latest, release.HTMLURL)
	return nil
}

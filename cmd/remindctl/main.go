// Package main implements the remindctl CLI for manual operations against
// a running remindd daemon.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var (
	// serverURL is the base URL for the remindd HTTP server
	serverURL string
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "remindctl",
	Short: "CLI for remindd operations",
	Long: `remindctl is a command-line interface for a running remindd daemon.
It can start reminder calls, inspect call sessions, and check daemon health.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "remindd server URL")
	rootCmd.AddCommand(callCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(healthCmd)
}

// callCmd starts a reminder call
var callCmd = &cobra.Command{
	Use:   "call <patient-number>",
	Short: "Place a reminder call to a patient",
	Long: `Place a medication-reminder call to a patient number in E.164 form.

Examples:
  # Place a call
  remindctl call +15551234567

  # Use a different server
  remindctl call --server http://remindd.internal:8080 +15551234567`,
	Args: cobra.ExactArgs(1),
	RunE: runCall,
}

// listCmd lists call sessions
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List call sessions, newest first",
	RunE:  runList,
}

// getCmd shows one call session
var getCmd = &cobra.Command{
	Use:   "get <call-sid>",
	Short: "Show one call session by call SID",
	Args:  cobra.ExactArgs(1),
	RunE:  runGet,
}

// healthCmd checks daemon health
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check remindd daemon health",
	RunE:  runHealth,
}

var (
	listPage  int
	listLimit int
)

func init() {
	listCmd.Flags().IntVar(&listPage, "page", 1, "result page")
	listCmd.Flags().IntVar(&listLimit, "limit", 20, "results per page")
}

// StartCallRequest matches internal/httpapi StartCallRequest
type StartCallRequest struct {
	PatientNumber string `json:"patient_number"`
}

// StartCallResponse matches internal/httpapi StartCallResponse
type StartCallResponse struct {
	CallID    string `json:"call_id"`
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
}

// CallSession mirrors the session fields the API returns.
type CallSession struct {
	CallID          string    `json:"call_id"`
	PatientNumber   string    `json:"patient_number"`
	Status          string    `json:"status"`
	RetryCount      int       `json:"retry_count"`
	LastTranscript  string    `json:"last_transcript"`
	AdherenceStatus string    `json:"adherence_status"`
	RecordingURL    string    `json:"recording_url"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// ListCallsResponse matches internal/httpapi ListCallsResponse
type ListCallsResponse struct {
	Calls []CallSession `json:"calls"`
	Total int           `json:"total"`
	Page  int           `json:"page"`
	Limit int           `json:"limit"`
}

// HealthResponse matches internal/httpapi HealthResponse
type HealthResponse struct {
	Status string `json:"status"`
}

func runCall(cmd *cobra.Command, args []string) error {
	reqJSON, err := json.Marshal(StartCallRequest{PatientNumber: args[0]})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/api/v1/calls", serverURL)
	httpReq, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(reqJSON))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return statusError(resp)
	}

	var callResp StartCallResponse
	if err := json.NewDecoder(resp.Body).Decode(&callResp); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	fmt.Printf("Call SID:   %s\n", callResp.CallID)
	fmt.Printf("Request ID: %s\n", callResp.RequestID)
	fmt.Printf("Status:     %s\n", callResp.Status)
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	url := fmt.Sprintf("%s/api/v1/calls?page=%d&limit=%d", serverURL, listPage, listLimit)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}

	var listResp ListCallsResponse
	if err := json.NewDecoder(resp.Body).Decode(&listResp); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CALL SID\tSTATUS\tADHERENCE\tRETRIES\tCREATED")
	for _, c := range listResp.Calls {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			c.CallID, c.Status, c.AdherenceStatus, c.RetryCount,
			c.CreatedAt.Local().Format(time.RFC3339))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "showing %d of %d call(s), page %d\n",
		len(listResp.Calls), listResp.Total, listResp.Page)
	return nil
}

func runGet(cmd *cobra.Command, args []string) error {
	url := fmt.Sprintf("%s/api/v1/calls/%s", serverURL, args[0])

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("no call session with SID %s", args[0])
	}
	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}

	var sess CallSession
	if err := json.NewDecoder(resp.Body).Decode(&sess); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	fmt.Printf("Call SID:    %s\n", sess.CallID)
	fmt.Printf("Patient:     %s\n", sess.PatientNumber)
	fmt.Printf("Status:      %s\n", sess.Status)
	fmt.Printf("Adherence:   %s\n", sess.AdherenceStatus)
	fmt.Printf("Retries:     %d\n", sess.RetryCount)
	if sess.LastTranscript != "" {
		fmt.Printf("Transcript:  %s\n", sess.LastTranscript)
	}
	if sess.RecordingURL != "" {
		fmt.Printf("Recording:   %s\n", sess.RecordingURL)
	}
	fmt.Printf("Created:     %s\n", sess.CreatedAt.Local().Format(time.RFC3339))
	fmt.Printf("Updated:     %s\n", sess.UpdatedAt.Local().Format(time.RFC3339))
	return nil
}

func runHealth(cmd *cobra.Command, args []string) error {
	url := fmt.Sprintf("%s/health", serverURL)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to connect to %s: %v\n", url, err)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}

	var healthResp HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&healthResp); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	fmt.Printf("Server Status: %s\n", healthResp.Status)
	fmt.Printf("Server URL: %s\n", serverURL)
	return nil
}

// statusError turns a non-OK response into an error carrying the body.
func statusError(resp *http.Response) error {
	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, readErr)
	}
	return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
}

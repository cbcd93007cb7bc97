package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/plugforge/plugforge/pkg/model"
)

var (
	runSession   string
	runFramework string
	runNoFollow  bool
	listSession  string
)

var runCmd = &cobra.Command{
	Use:   "run \"<request>\"",
	Short: "Start a build and follow its event stream",
	Long: `Start a build from a plain-language request and stream its progress.
A new session is created unless --session names an existing one.

  plugforge run "a homes plugin with /sethome and /home"
  plugforge run "add a cooldown to /home" --session 1a2b3c4d`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List a session's builds",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

var statusCmd = &cobra.Command{
	Use:   "status <build-id>",
	Short: "Show a build's current status",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

var logsCmd = &cobra.Command{
	Use:   "logs <build-id>",
	Short: "Stream a build's events",
	Args:  cobra.ExactArgs(1),
	RunE:  runLogs,
}

func init() {
	runCmd.Flags().StringVar(&runSession, "session", "", "Session ID (default: a new session)")
	runCmd.Flags().StringVar(&runFramework, "framework", "", "Target framework (default: Spigot)")
	runCmd.Flags().BoolVar(&runNoFollow, "no-follow", false, "Start the build and exit without streaming events")
	listCmd.Flags().StringVar(&listSession, "session", "", "Session ID (required)")
	listCmd.MarkFlagRequired("session")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(logsCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	sessionID := runSession
	if sessionID == "" {
		sessionID = uuid.New().String()[:8]
	}

	var b model.Build
	err := postJSON("/api/builds", map[string]string{
		"sessionId":   sessionID,
		"userRequest": args[0],
		"framework":   runFramework,
	}, &b)
	if err != nil {
		return err
	}

	fmt.Printf("Build %s started (session %s)\n", b.ID, sessionID)
	if runNoFollow {
		return nil
	}
	return followEvents(b.ID)
}

func runList(cmd *cobra.Command, args []string) error {
	var builds []*model.Build
	if err := getJSON("/api/sessions/"+listSession+"/builds", &builds); err != nil {
		return err
	}
	if len(builds) == 0 {
		fmt.Println("No builds for session", listSession)
		return nil
	}
	for _, b := range builds {
		name := "-"
		if b.Plan != nil {
			name = b.Plan.PluginName
		}
		fmt.Printf("%-10s %-18s %-20s %s\n", b.ID, b.Status, name, model.Truncate(b.UserRequest, 50))
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	var b model.Build
	if err := getJSON("/api/builds/"+args[0], &b); err != nil {
		return err
	}

	fmt.Printf("Build:    %s\n", b.ID)
	fmt.Printf("Session:  %s\n", b.SessionID)
	fmt.Printf("Status:   %s\n", b.Status)
	fmt.Printf("Request:  %s\n", model.Truncate(b.UserRequest, 80))
	if b.Plan != nil {
		fmt.Printf("Plugin:   %s (%d files)\n", b.Plan.PluginName, b.Plan.FileCount())
	}
	for i, ph := range b.Phases {
		done := 0
		for _, f := range ph.Files {
			if f.Status == model.FileCreated || f.Status == model.FileUpdated {
				done++
			}
		}
		fmt.Printf("  Phase %d: %-30s %s (%d/%d files)\n", i+1, ph.Name, ph.Status, done, len(ph.Files))
	}
	if b.Error != "" {
		fmt.Printf("Error:    %s\n", b.Error)
	}
	if b.Summary != "" {
		fmt.Printf("\n%s\n", b.Summary)
	}
	return nil
}

func runLogs(cmd *cobra.Command, args []string) error {
	return followEvents(args[0])
}

// followEvents streams a build's SSE event feed to stdout until the server
// sends the done terminator.
func followEvents(buildID string) error {
	resp, err := http.Get(serverURL + "/api/builds/" + buildID + "/events")
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", serverURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var e model.Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &e); err != nil {
			continue
		}
		if done := printEvent(&e); done {
			return nil
		}
	}
	return scanner.Err()
}

// printEvent renders one event for the terminal, returning true on the
// stream terminator.
func printEvent(e *model.Event) bool {
	ts := e.CreatedAt.Format(time.TimeOnly)
	switch e.Type {
	case model.EventSnapshot:
		var snap model.Snapshot
		if json.Unmarshal([]byte(e.Data), &snap) == nil {
			fmt.Printf("[%s] build is %s\n", ts, snap.Status)
			if snap.Status == model.StatusAwaitingApproval {
				fmt.Printf("         plan is awaiting approval: POST /api/builds/%s/approval\n", e.BuildID)
			}
		}
	case model.EventFileGenerating:
		fmt.Printf("[%s] generating %s\n", ts, e.FilePath)
	case model.EventFileCreated, model.EventFileUpdated, model.EventFileDeleted:
		fmt.Printf("[%s] %s %s\n", ts, strings.TrimPrefix(string(e.Type), "file-"), e.FilePath)
	case model.EventFileError:
		fmt.Printf("[%s] ERROR %s: %s\n", ts, e.FilePath, e.Data)
	case model.EventBuildComplete:
		fmt.Printf("[%s] build complete\n%s\n", ts, e.Data)
	case model.EventBuildError:
		fmt.Printf("[%s] build failed: %s\n", ts, e.Data)
	case model.EventBuildCancelled:
		fmt.Printf("[%s] build cancelled\n", ts)
	case model.EventDone:
		return true
	default:
		if e.Data != "" {
			fmt.Printf("[%s] %s: %s\n", ts, e.Type, model.Truncate(e.Data, 100))
		} else {
			fmt.Printf("[%s] %s\n", ts, e.Type)
		}
	}
	return false
}

// --- HTTP helpers ---

func getJSON(path string, out any) error {
	resp, err := http.Get(serverURL + path)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", serverURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return apiError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func postJSON(path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := http.Post(serverURL+path, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", serverURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return apiError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func apiError(resp *http.Response) error {
	var e struct {
		Error string `json:"error"`
	}
	data, _ := io.ReadAll(resp.Body)
	if json.Unmarshal(data, &e) == nil && e.Error != "" {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, e.Error)
	}
	return fmt.Errorf("server returned %d", resp.StatusCode)
}

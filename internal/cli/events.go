package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xtrakernel/freqlockd/internal/domain"
)

func init() {
	eventsCmd.Flags().IntVarP(&eventsLimit, "limit", "n", 20, "Number of past events to show")
	eventsCmd.Flags().BoolVarP(&eventsFollow, "follow", "f", false, "Stream new events as they happen")
	eventsCmd.Flags().StringVarP(&eventsType, "type", "t", "", "Only events of this type (e.g. CRITICAL)")
	eventsCmd.Flags().StringVar(&eventsSince, "since", "", "Only events since an RFC 3339 time or a duration ago (e.g. 2h)")
	eventsCmd.Flags().BoolVarP(&eventsAll, "all", "a", false, "Include events whose policy does not notify the user")
	rootCmd.AddCommand(eventsCmd)
}

var (
	eventsLimit  int
	eventsFollow bool
	eventsType   string
	eventsSince  string
	eventsAll    bool
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Show thermal event history, or follow live events",
	RunE:  runEvents,
}

func runEvents(cmd *cobra.Command, args []string) error {
	if eventsFollow {
		return followEvents(cmd)
	}

	var resp struct {
		Events []domain.ThermalEvent `json:"events"`
	}
	q := url.Values{}
	q.Set("limit", strconv.Itoa(eventsLimit))
	if eventsType != "" {
		q.Set("type", eventsType)
	}
	if eventsSince != "" {
		q.Set("since", eventsSince)
	}
	if _, err := newClient().do("GET", "/api/events/history?"+q.Encode(), nil, &resp); err != nil {
		return err
	}
	shown := 0
	// Oldest first reads naturally in a terminal.
	for i := len(resp.Events) - 1; i >= 0; i-- {
		if showEvent(resp.Events[i]) {
			printEvent(cmd.OutOrStdout(), resp.Events[i])
			shown++
		}
	}
	if shown == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No thermal events recorded.")
	}
	return nil
}

// showEvent applies the type filter and the policy's notify setting.
func showEvent(ev domain.ThermalEvent) bool {
	if eventsType != "" && !strings.EqualFold(string(ev.Type), eventsType) {
		return false
	}
	return ev.Notify || eventsAll
}

// followEvents reads the server-sent event stream until it ends.
func followEvents(cmd *cobra.Command) error {
	c := newClient()
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, c.base+"/api/events", nil)
	if err != nil {
		return err
	}
	// The stream has no overall deadline.
	resp, err := (&http.Client{}).Do(req)
	if err != nil {
		return fmt.Errorf("cannot reach freqlockd at %s: %w", c.base, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}

	fmt.Fprintln(cmd.ErrOrStderr(), "Following thermal events (Ctrl-C to stop)...")
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		var ev domain.ThermalEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil || !showEvent(ev) {
			continue
		}
		printEvent(cmd.OutOrStdout(), ev)
	}
	return scanner.Err()
}

func printEvent(w io.Writer, ev domain.ThermalEvent) {
	fmt.Fprintf(w, "%s  %-14s %5.1f°C  %-12s %s\n",
		ev.Timestamp.Local().Format("2006-01-02 15:04:05"), ev.Type, ev.Temperature, ev.Policy, ev.Message)
}

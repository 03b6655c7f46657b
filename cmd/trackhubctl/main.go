package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/markus-lassfolk/trackhub/pkg"
	"github.com/markus-lassfolk/trackhub/pkg/logx"
)

var (
	server  = flag.String("server", "http://localhost:8082", "trackhubd API address")
	authKey = flag.String("auth", "", "API auth key (or TRACKHUB_AUTH_KEY)")
	timeout = flag.Duration("timeout", 10*time.Second, "Request timeout")

	outputFormat = flag.String("format", "standard", "Output format: standard, json, csv")
	logLevel     = flag.String("log-level", "warn", "Log level (debug|info|warn|error|trace)")
	version      = flag.Bool("version", false, "Show version information")

	showStatus  = flag.Bool("status", false, "Show hub status")
	listTracks  = flag.Bool("tracks", false, "List stored tracks")
	selectTrack = flag.Int64("select", -1, "Select a track by id")
	unload      = flag.Bool("unload", false, "Unload the selected track")
	recordStart = flag.String("record-start", "", "Start recording a new track with this name ('-' for a generated name)")
	recordStop  = flag.Bool("record-stop", false, "Stop recording")
	pushFix     = flag.String("push", "", "Push a GPS fix: lat,lon[,accuracy]")
	refresh     = flag.Bool("refresh", false, "Re-announce the current location")
	showEvents  = flag.Int("events", 0, "Show the last N hub events")
)

const (
	AppName    = "trackhubctl"
	AppVersion = "1.0.0"
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("%s version %s\n", AppName, AppVersion)
		os.Exit(0)
	}

	logger := logx.NewLogger(*logLevel, AppName)

	key := *authKey
	if key == "" {
		key = os.Getenv("TRACKHUB_AUTH_KEY")
	}
	c := newClient(*server, key, &http.Client{Timeout: *timeout})

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := dispatch(ctx, c, os.Stdout); err != nil {
		logger.Debug("command failed", "error", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func dispatch(ctx context.Context, c *client, out io.Writer) error {
	switch {
	case *showStatus:
		return printStatus(ctx, c, out)
	case *listTracks:
		return printTracks(ctx, c, out)
	case *selectTrack >= 0:
		return c.post(ctx, "/api/tracks/"+strconv.FormatInt(*selectTrack, 10)+"/select", nil, nil)
	case *unload:
		return c.post(ctx, "/api/tracks/unload", nil, nil)
	case *recordStart != "":
		name := *recordStart
		if name == "-" {
			name = ""
		}
		var resp struct {
			TrackID int64 `json:"track_id"`
		}
		if err := c.post(ctx, "/api/recording/start", map[string]interface{}{"name": name}, &resp); err != nil {
			return err
		}
		fmt.Fprintf(out, "Recording track %d\n", resp.TrackID)
		return nil
	case *recordStop:
		return c.post(ctx, "/api/recording/stop", nil, nil)
	case *pushFix != "":
		loc, err := parseFix(*pushFix, time.Now())
		if err != nil {
			return err
		}
		return c.post(ctx, "/api/location", loc, nil)
	case *refresh:
		return c.post(ctx, "/api/location/refresh", nil, nil)
	case *showEvents > 0:
		return printEvents(ctx, c, *showEvents, out)
	default:
		flag.Usage()
		return fmt.Errorf("no command given")
	}
}

// parseFix parses "lat,lon[,accuracy]"
func parseFix(s string, now time.Time) (pkg.Location, error) {
	parts := strings.Split(s, ",")
	if len(parts) < 2 || len(parts) > 3 {
		return pkg.Location{}, fmt.Errorf("fix must be lat,lon[,accuracy]: %q", s)
	}
	values := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return pkg.Location{}, fmt.Errorf("invalid number %q", p)
		}
		values[i] = v
	}
	loc := pkg.Location{
		Provider:  pkg.ProviderGPS,
		Latitude:  values[0],
		Longitude: values[1],
		Time:      now,
	}
	if len(values) == 3 {
		loc.Accuracy = values[2]
	}
	if !loc.IsValid() {
		return pkg.Location{}, fmt.Errorf("coordinates out of range: %s", s)
	}
	return loc, nil
}

// client talks to the trackhubd control API
type client struct {
	base    string
	authKey string
	http    *http.Client
}

func newClient(base, authKey string, httpClient *http.Client) *client {
	return &client{base: strings.TrimSuffix(base, "/"), authKey: authKey, http: httpClient}
}

func (c *client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.authKey != "" {
		req.Header.Set("X-API-Key", c.authKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error   string `json:"error"`
			Details string `json:"details"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			if apiErr.Details != "" {
				return fmt.Errorf("%s (%d): %s", apiErr.Error, resp.StatusCode, apiErr.Details)
			}
			return fmt.Errorf("%s (%d)", apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

func (c *client) get(ctx context.Context, path string, out interface{}) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *client) post(ctx context.Context, path string, body, out interface{}) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

func printStatus(ctx context.Context, c *client, out io.Writer) error {
	var status map[string]interface{}
	if err := c.get(ctx, "/api/status", &status); err != nil {
		return err
	}
	if *outputFormat == "json" {
		return outputJSON(out, status)
	}

	fmt.Fprintln(out, "Hub Status:")
	fmt.Fprintln(out, "===========")
	if h, ok := status["hub"].(map[string]interface{}); ok {
		for _, key := range []string{"state", "subscribers", "selected_track_id", "recording_track_id",
			"num_loaded_points", "stride", "provider_state", "declination"} {
			fmt.Fprintf(out, "  %-20s %v\n", key+":", h[key])
		}
	}
	fmt.Fprintf(out, "  %-20s %v\n", "uptime:", status["uptime"])
	return nil
}

func printTracks(ctx context.Context, c *client, out io.Writer) error {
	var resp struct {
		Tracks     []pkg.Track `json:"tracks"`
		SelectedID int64       `json:"selected_id"`
	}
	if err := c.get(ctx, "/api/tracks", &resp); err != nil {
		return err
	}

	switch *outputFormat {
	case "json":
		return outputJSON(out, resp.Tracks)
	case "csv":
		writer := csv.NewWriter(out)
		if err := writer.Write([]string{"ID", "Name", "Points", "Start", "Stop", "Selected"}); err != nil {
			return err
		}
		for _, t := range resp.Tracks {
			if err := writer.Write([]string{
				strconv.FormatInt(t.ID, 10),
				t.Name,
				strconv.Itoa(t.NumPoints),
				formatTime(t.StartTime),
				formatTime(t.StopTime),
				strconv.FormatBool(t.ID == resp.SelectedID),
			}); err != nil {
				return err
			}
		}
		writer.Flush()
		return writer.Error()
	default:
		for _, t := range resp.Tracks {
			marker := " "
			if t.ID == resp.SelectedID {
				marker = "*"
			}
			fmt.Fprintf(out, "%s %4d  %-24s %7d points  %s\n", marker, t.ID, t.Name, t.NumPoints, formatTime(t.StartTime))
		}
		return nil
	}
}

func printEvents(ctx context.Context, c *client, limit int, out io.Writer) error {
	var resp struct {
		Events []json.RawMessage `json:"events"`
	}
	if err := c.get(ctx, "/api/events?"+url.Values{"limit": {strconv.Itoa(limit)}}.Encode(), &resp); err != nil {
		return err
	}
	if *outputFormat == "json" {
		return outputJSON(out, resp.Events)
	}

	for _, raw := range resp.Events {
		var e struct {
			Seq       uint64          `json:"seq"`
			Timestamp time.Time       `json:"timestamp"`
			Event     string          `json:"event"`
			Data      json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(raw, &e); err != nil {
			return err
		}
		fmt.Fprintf(out, "%6d %s %-26s %s\n", e.Seq, e.Timestamp.Format(time.RFC3339), e.Event, string(e.Data))
	}
	return nil
}

func outputJSON(out io.Writer, v interface{}) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(time.RFC3339)
}

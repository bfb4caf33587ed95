// cmd/watchctl/main.go
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"text/tabwriter"
	"time"
)

type hostView struct {
	Hostname        string     `json:"hostname"`
	Address         string     `json:"address"`
	Status          string     `json:"status"`
	Since           time.Time  `json:"since"`
	FirstSeenOnline *time.Time `json:"first_seen_online,omitempty"`
	LastCheck       *time.Time `json:"last_check,omitempty"`
	Successes       int        `json:"successes"`
	Attempts        int        `json:"attempts"`
	LatencyMs       *float64   `json:"latency_ms,omitempty"`
}

type hostEvent struct {
	Kind      string    `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	Note      string    `json:"note,omitempty"`
}

type probeResult struct {
	Timestamp time.Time `json:"timestamp"`
	Responded bool      `json:"responded"`
	LatencyMs *float64  `json:"latency_ms,omitempty"`
	Successes int       `json:"successes"`
	Attempts  int       `json:"attempts"`
}

type session struct {
	ID          uint64     `json:"id"`
	StartedAt   time.Time  `json:"started_at"`
	StoppedAt   *time.Time `json:"stopped_at,omitempty"`
	Termination string     `json:"termination,omitempty"`
}

type client struct {
	base string
	http *http.Client
}

func (c *client) get(path string, query url.Values, out interface{}) error {
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	resp, err := c.http.Get(u)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s: %s: %s", path, resp.Status, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func main() {
	server := flag.String("server", "http://127.0.0.1:8082", "watchpost server URL")
	limit := flag.Int("limit", 25, "Maximum entries for events/probes")
	flag.Parse()

	c := &client{
		base: *server + "/api",
		http: &http.Client{Timeout: 10 * time.Second},
	}

	cmd := flag.Arg(0)
	if cmd == "" {
		cmd = "hosts"
	}

	var err error
	switch cmd {
	case "hosts":
		err = showHosts(c)
	case "events":
		err = showEvents(c, flag.Arg(1), *limit)
	case "probes":
		err = showProbes(c, flag.Arg(1), *limit)
	case "session":
		err = showSession(c)
	case "sessions":
		err = showSessions(c)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q\n\n", cmd)
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: watchctl [flags] <command> [args]

Commands:
  hosts               List all hosts with current status (default)
  events <hostname>   Show recent events for a host
  probes <hostname>   Show recent probe results for a host
  session             Show the current monitoring session
  sessions            List monitoring sessions

Flags:`)
	flag.PrintDefaults()
}

func showHosts(c *client) error {
	var hosts []hostView
	if err := c.get("/hosts", nil, &hosts); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "HOSTNAME\tADDRESS\tSTATUS\tSINCE\tSUCCESS\tLATENCY")
	for _, h := range hosts {
		latency := "-"
		if h.LatencyMs != nil {
			latency = fmt.Sprintf("%.1fms", *h.LatencyMs)
		}
		success := "-"
		if h.Attempts > 0 {
			success = fmt.Sprintf("%d/%d", h.Successes, h.Attempts)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			h.Hostname, h.Address, h.Status, formatAge(h.Since), success, latency)
	}
	return w.Flush()
}

func showEvents(c *client, hostname string, limit int) error {
	if hostname == "" {
		return fmt.Errorf("events requires a hostname argument")
	}

	q := url.Values{"limit": {fmt.Sprint(limit)}}
	var events []hostEvent
	if err := c.get("/hosts/"+url.PathEscape(hostname)+"/events", q, &events); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIMESTAMP\tEVENT\tNOTE")
	for _, e := range events {
		fmt.Fprintf(w, "%s\t%s\t%s\n", e.Timestamp.Local().Format(time.RFC3339), e.Kind, e.Note)
	}
	return w.Flush()
}

func showProbes(c *client, hostname string, limit int) error {
	if hostname == "" {
		return fmt.Errorf("probes requires a hostname argument")
	}

	q := url.Values{"limit": {fmt.Sprint(limit)}}
	var probes []probeResult
	if err := c.get("/hosts/"+url.PathEscape(hostname)+"/probes", q, &probes); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIMESTAMP\tRESPONDED\tSUCCESS\tLATENCY")
	for _, p := range probes {
		latency := "-"
		if p.LatencyMs != nil {
			latency = fmt.Sprintf("%.1fms", *p.LatencyMs)
		}
		fmt.Fprintf(w, "%s\t%t\t%d/%d\t%s\n",
			p.Timestamp.Local().Format(time.RFC3339), p.Responded, p.Successes, p.Attempts, latency)
	}
	return w.Flush()
}

func showSession(c *client) error {
	var s session
	if err := c.get("/session", nil, &s); err != nil {
		return err
	}
	printSession(os.Stdout, s)
	return nil
}

func showSessions(c *client) error {
	var sessions []session
	if err := c.get("/sessions", nil, &sessions); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTARTED\tSTOPPED\tTERMINATION")
	for _, s := range sessions {
		stopped := "-"
		termination := "open"
		if s.StoppedAt != nil {
			stopped = s.StoppedAt.Local().Format(time.RFC3339)
			termination = s.Termination
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n",
			s.ID, s.StartedAt.Local().Format(time.RFC3339), stopped, termination)
	}
	return w.Flush()
}

func printSession(w io.Writer, s session) {
	fmt.Fprintf(w, "Session %d\n", s.ID)
	fmt.Fprintf(w, "  Started: %s (%s ago)\n", s.StartedAt.Local().Format(time.RFC3339), formatAge(s.StartedAt))
	if s.StoppedAt != nil {
		fmt.Fprintf(w, "  Stopped: %s (%s)\n", s.StoppedAt.Local().Format(time.RFC3339), s.Termination)
	}
}

func formatAge(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	default:
		return fmt.Sprintf("%dd%dh", int(d.Hours())/24, int(d.Hours())%24)
	}
}

// rankvote CLI - Command line client for rankvote polls
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"time"

	"github.com/eldtechnologies/rankvote/clients/go/rankvote"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	baseURL := os.Getenv("RANKVOTE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	client := rankvote.NewClient(baseURL)
	cmd := os.Args[1]

	switch cmd {
	case "health":
		resp, err := client.Health()
		exitOnError(err)
		printJSON(resp)

	case "create":
		if len(os.Args) < 5 {
			fmt.Fprintln(os.Stderr, "Usage: rankvote create <topic> <votes-per-voter> <name>")
			os.Exit(1)
		}
		votes, err := strconv.Atoi(os.Args[3])
		exitOnError(err)
		resp, err := client.CreatePoll(os.Args[2], votes, os.Args[4])
		exitOnError(err)
		fmt.Printf("Created poll %s (share this code)\n", resp.Poll.ID)

	case "join":
		if len(os.Args) < 4 {
			fmt.Fprintln(os.Stderr, "Usage: rankvote join <poll-id> <name>")
			os.Exit(1)
		}
		resp, err := client.JoinPoll(os.Args[2], os.Args[3])
		exitOnError(err)
		fmt.Printf("Joined poll %s: %s\n", resp.Poll.ID, resp.Poll.Topic)

	case "rejoin":
		poll, err := client.Rejoin()
		exitOnError(err)
		fmt.Printf("Rejoined poll %s as %s\n", poll.ID, client.Session.Name)

	case "show":
		resp, err := client.GetPoll()
		exitOnError(err)
		printPoll(resp.Poll)
		if resp.Summary.IsAdmin && !resp.Poll.HasStarted && !resp.Summary.CanStartVote {
			fmt.Printf("Need %d nominations to start\n", resp.Poll.VotesPerVoter)
		}

	case "nominate":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: rankvote nominate <text>")
			os.Exit(1)
		}
		text := os.Args[2]
		poll := live(client, func(c *rankvote.Conn) error { return c.Nominate(text) })
		printPoll(poll)

	case "unnominate":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: rankvote unnominate <nomination-id>")
			os.Exit(1)
		}
		id := os.Args[2]
		printPoll(live(client, func(c *rankvote.Conn) error { return c.RemoveNomination(id) }))

	case "kick":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: rankvote kick <user-id>")
			os.Exit(1)
		}
		id := os.Args[2]
		printPoll(live(client, func(c *rankvote.Conn) error { return c.RemoveParticipant(id) }))

	case "start":
		printPoll(live(client, (*rankvote.Conn).StartVote))

	case "rank":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: rankvote rank <nomination-id>...")
			os.Exit(1)
		}
		ids := os.Args[2:]
		printPoll(live(client, func(c *rankvote.Conn) error { return c.SubmitRankings(ids) }))

	case "close":
		printPoll(live(client, (*rankvote.Conn).ClosePoll))

	case "cancel":
		conn := dial(client)
		exitOnError(conn.CancelPoll())
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, err := conn.WaitFor(ctx, func(ev rankvote.Event) bool { return ev.Name == rankvote.EventPollCancelled })
		conn.Close()
		exitOnError(err)
		exitOnError(client.ClearSession())
		fmt.Println("Poll cancelled")

	case "watch":
		watch(client)

	case "help", "--help", "-h":
		usage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
}

func dial(client *rankvote.Client) *rankvote.Conn {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	conn, err := client.Connect(ctx)
	exitOnError(err)
	return conn
}

// live connects, waits for the initial state, runs action and returns the
// state broadcast in response.
func live(client *rankvote.Client, action func(*rankvote.Conn) error) *rankvote.Poll {
	conn := dial(client)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	isUpdate := func(ev rankvote.Event) bool { return ev.Name == rankvote.EventPollUpdated }
	_, err := conn.WaitFor(ctx, isUpdate)
	exitOnError(err)

	exitOnError(action(conn))
	ev, err := conn.WaitFor(ctx, isUpdate)
	exitOnError(err)
	return ev.Poll
}

func watch(client *rankvote.Client) {
	conn := dial(client)
	defer conn.Close()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)

	for {
		select {
		case ev, ok := <-conn.Events():
			if !ok {
				if err := conn.Err(); err != nil {
					fmt.Fprintln(os.Stderr, "Disconnected:", err)
				}
				return
			}
			ts := time.Now().Format("15:04:05")
			switch {
			case ev.Exception != nil:
				fmt.Printf("[%s] error: %s\n", ts, ev.Exception)
			case ev.Poll != nil:
				fmt.Printf("[%s] %s\n", ts, ev.Name)
				printPoll(ev.Poll)
			default:
				fmt.Printf("[%s] %s\n", ts, ev.Name)
			}
		case <-quit:
			return
		}
	}
}

func printPoll(p *rankvote.Poll) {
	if p == nil {
		return
	}

	state := "nominating"
	switch {
	case p.HasEnded:
		state = "closed"
	case p.HasStarted:
		state = "voting"
	}
	fmt.Printf("%s  %s  [%s, %d votes each]\n", p.ID, p.Topic, state, p.VotesPerVoter)

	fmt.Println("Participants:")
	for _, id := range sortedKeys(p.Participants) {
		marker := " "
		if id == p.AdminID {
			marker = "*"
		}
		voted := ""
		if _, ok := p.Rankings[id]; ok {
			voted = " (voted)"
		}
		fmt.Printf(" %s %s  %s%s\n", marker, id, p.Participants[id], voted)
	}

	if len(p.Results) > 0 {
		fmt.Println("Results:")
		for i, r := range p.Results {
			fmt.Printf("  %d. %s (%.3f)\n", i+1, r.NominationText, r.Score)
		}
		return
	}

	fmt.Println("Nominations:")
	ids := make([]string, 0, len(p.Nominations))
	for id := range p.Nominations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Printf("  %s  %s\n", id, p.Nominations[id].Text)
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func usage() {
	fmt.Println(`rankvote CLI - ranked-choice polls

Usage: rankvote <command> [options]

Commands:
  create <topic> <votes> <name>   Create a poll as admin
  join <poll-id> <name>           Join a poll
  rejoin                          Re-register the saved session
  show                            Show the current poll
  nominate <text>                 Propose an option
  unnominate <nomination-id>      Remove an option (admin)
  kick <user-id>                  Remove a participant (admin)
  start                           Start voting (admin)
  rank <nomination-id>...         Submit your ranking, best first
  close                           Close the poll and compute results (admin)
  cancel                          Delete the poll (admin)
  watch                           Stream live updates
  health                          Check server health

Environment:
  RANKVOTE_URL      Server URL (default: http://localhost:8080)
  RANKVOTE_CONFIG   Config directory (default: ~/.rankvote)`)
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func printJSON(v any) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}

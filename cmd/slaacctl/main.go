// slaacctl is the remote CLI client for slaacd.
//
// It talks to the slaacd HTTP API. With arguments it runs one command and
// exits; without, it starts an interactive shell with tab completion and
// ? help.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/psaab/slaacd/pkg/api"
	"github.com/psaab/slaacd/pkg/cmdtree"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:8080", "slaacd API address")
	apiKey := flag.String("api-key", os.Getenv("SLAACD_API_KEY"), "API key")
	user := flag.String("user", "", "basic auth user")
	password := flag.String("password", os.Getenv("SLAACD_PASSWORD"), "basic auth password")
	flag.Parse()

	cl := newClient(*addr)
	cl.apiKey = *apiKey
	cl.user = *user
	cl.pass = *password

	// Verify connectivity
	var st api.StatusResponse
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	err := cl.get(ctx, "/api/v1/status", nil, &st)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "slaacctl: cannot reach slaacd at %s: %v\n", *addr, err)
		os.Exit(1)
	}

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "slaacd"
	}
	username := os.Getenv("USER")
	if username == "" {
		username = "remote"
	}

	c := &ctl{
		client:   cl,
		out:      os.Stdout,
		hostname: hostname,
		username: username,
	}

	if flag.NArg() > 0 {
		if err := c.dispatch(strings.Join(flag.Args(), " ")); err != nil && !errors.Is(err, errExit) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          c.operationalPrompt(),
		HistoryFile:     "/tmp/slaacctl_history",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    &remoteCompleter{ctl: c},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "slaacctl: readline: %v\n", err)
		os.Exit(1)
	}
	defer rl.Close()
	c.rl = rl
	c.out = rl.Stdout()

	fmt.Fprintf(c.out, "slaacctl: connected to slaacd (uptime: %s)\n", st.Uptime)
	fmt.Fprintln(c.out, "Type '?' for help")
	fmt.Fprintln(c.out)

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			if err == io.EOF {
				break
			}
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			break
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if err := c.dispatch(line); err != nil {
			if errors.Is(err, errExit) {
				break
			}
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}
}

var errExit = errors.New("exit")

type ctl struct {
	client   *client
	out      io.Writer
	rl       *readline.Instance
	hostname string
	username string
}

// Hostnames returns the names currently published by the daemon.
func (c *ctl) Hostnames() []string {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var hosts []api.HostEntry
	if err := c.client.get(ctx, "/api/v1/slaac/hosts", nil, &hosts); err != nil {
		return nil
	}
	names := make([]string, 0, len(hosts))
	for _, h := range hosts {
		names = append(names, h.Hostname)
	}
	return names
}

func (c *ctl) dispatch(line string) error {
	if strings.HasSuffix(line, "?") {
		c.showContextHelp(strings.TrimSuffix(line, "?"))
		return nil
	}

	parts := strings.Fields(line)
	if len(parts) == 0 {
		return nil
	}

	switch parts[0] {
	case "show":
		return c.handleShow(parts[1:])

	case "monitor":
		if len(parts) < 2 || parts[1] != "events" {
			return fmt.Errorf("monitor: specify 'events'")
		}
		return c.monitorEvents(parts[2:])

	case "request":
		if len(parts) < 2 || parts[1] != "reload" {
			return fmt.Errorf("request: specify 'reload'")
		}
		return c.requestReload()

	case "quit", "exit":
		return errExit

	case "help":
		cmdtree.WriteHelp(c.out, cmdtree.HelpCandidates(cmdtree.OperationalTree))
		return nil

	default:
		return fmt.Errorf("unknown command: %s (expected one of: %s)",
			parts[0], strings.Join(cmdtree.KeysFromTree(cmdtree.OperationalTree), ", "))
	}
}

// remoteCompleter completes against the local command tree, fetching host
// names from the daemon when a hostname argument is expected.
type remoteCompleter struct {
	ctl *ctl
}

func (rc *remoteCompleter) Do(line []rune, pos int) ([][]rune, int) {
	text := string(line[:pos])

	// Determine partial word for replacement length
	words := strings.Fields(text)
	trailingSpace := len(text) > 0 && text[len(text)-1] == ' '
	var partial string
	if !trailingSpace && len(words) > 0 {
		partial = words[len(words)-1]
		words = words[:len(words)-1]
	}

	candidates := cmdtree.CompleteFromTree(cmdtree.OperationalTree, words, partial, rc.ctl)
	if len(candidates) == 0 {
		return nil, 0
	}

	var result [][]rune
	for _, c := range candidates {
		suffix := c[len(partial):]
		result = append(result, []rune(suffix+" "))
	}
	return result, len(partial)
}

func (c *ctl) showContextHelp(prefix string) {
	words := strings.Fields(prefix)
	var partial string
	if prefix != "" && !strings.HasSuffix(prefix, " ") && len(words) > 0 {
		partial = words[len(words)-1]
		words = words[:len(words)-1]
	}
	candidates := cmdtree.CompleteFromTreeWithDesc(cmdtree.OperationalTree, words, partial, c)
	if len(candidates) == 0 {
		fmt.Fprintln(c.out, "  (no help available)")
		return
	}
	cmdtree.WriteHelp(c.out, candidates)
}

func (c *ctl) operationalPrompt() string {
	return fmt.Sprintf("%s@%s> ", c.username, c.hostname)
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/nugget/quill/internal/agent"
	"github.com/nugget/quill/internal/conversation"
	"github.com/nugget/quill/internal/prompts"
)

// discoveryTimeout bounds how long one-shot commands wait for remote
// tool servers before going ahead without them.
const discoveryTimeout = 15 * time.Second

// startCLI loads config and builds an in-memory runtime for a one-shot
// command, waiting briefly for remote tools. Logs go to stderr so stdout
// carries only the command's output. The returned cleanup must be
// called.
func startCLI(ctx context.Context, stderr io.Writer, configPath string) (*app, func(), error) {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger := cfg.Logger(stderr)

	ctx, cancel := context.WithCancel(ctx)
	a, err := buildApp(ctx, cfg, logger, appOptions{remote: true})
	if err != nil {
		cancel()
		return nil, nil, err
	}

	if len(cfg.MCP.Servers) > 0 {
		waitCtx, waitCancel := context.WithTimeout(ctx, discoveryTimeout)
		if err := a.registry.WaitReady(waitCtx); err != nil {
			logger.Warn("continuing without some remote tools", "pending", a.registry.Pending())
		}
		waitCancel()
	}

	cleanup := func() {
		cancel()
		if err := a.Close(); err != nil {
			logger.Warn("cleanup failed", "error", err)
		}
	}
	return a, cleanup, nil
}

// runAsk handles "quill ask <question>". It runs one research request
// against the default model and prints the reply.
func runAsk(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string, args []string) error {
	question := strings.Join(args, " ")

	a, cleanup, err := startCLI(ctx, stderr, configPath)
	if err != nil {
		return err
	}
	defer cleanup()

	res, err := a.loop.Run(ctx, agent.Request{
		ConversationID: "cli",
		Model:          a.cfg.Models.Default,
		Turns:          []conversation.Turn{conversation.UserTurn(conversation.Text(question))},
		Source:         "cli",
	})
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}

	fmt.Fprintln(stdout, res.Reply())
	return nil
}

// runTools handles "quill tools". It lists the tool set a model would be
// offered with the current configuration.
func runTools(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string, outputFmt string) error {
	a, cleanup, err := startCLI(ctx, stderr, configPath)
	if err != nil {
		return err
	}
	defer cleanup()

	list := a.registry.Snapshot()
	if outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(list)
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSOURCE\tDESCRIPTION")
	for _, t := range list {
		desc, _, _ := strings.Cut(t.Description, ". ")
		fmt.Fprintf(tw, "%s\t%s\t%s\n", t.Name, t.Source, desc)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	statuses := a.registry.RemoteStatuses()
	for _, name := range slices.Sorted(maps.Keys(statuses)) {
		fmt.Fprintf(stdout, "remote %s: %s\n", name, statuses[name])
	}
	return nil
}

// runSuggest handles "quill tools suggest <query>".
func runSuggest(w io.Writer, query string) error {
	fmt.Fprintln(w, prompts.SuggestTool(query))
	return nil
}

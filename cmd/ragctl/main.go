package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"ragshell/backend/internal/bootstrap"
	"ragshell/backend/internal/commands"
	"ragshell/backend/internal/config"
	"ragshell/backend/internal/engine"
	"ragshell/backend/internal/observability"
	"ragshell/backend/internal/task"
)

func prettyJSON(raw string) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(raw), "", "  "); err != nil {
		return raw
	}
	return buf.String()
}

func parseArgs(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}, nil
	}
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var args map[string]any
	if err := dec.Decode(&args); err != nil {
		return nil, fmt.Errorf("parse -args: %w", err)
	}
	return args, nil
}

func listOperations(w io.Writer) {
	tw := tabwriter.NewWriter(w, 0, 2, 2, ' ', 0)
	fmt.Fprintln(tw, "OPERATION\tCOMMAND\tPARAMS\tBACKGROUND")
	for _, op := range commands.Operations() {
		var params []string
		for _, p := range op.Params {
			s := p.Name + ":" + string(p.Kind)
			if p.Required {
				s += "!"
			}
			if p.Default != nil {
				s += fmt.Sprintf("=%v", p.Default)
			}
			params = append(params, s)
		}
		command := op.Command
		if op.Local != nil {
			command = "(local)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%v\n", op.Name, command, strings.Join(params, ","), op.Background)
	}
	_ = tw.Flush()
}

func waitForTask(svc *task.Service, taskID string) (*task.Task, error) {
	ticker := time.NewTicker(400 * time.Millisecond)
	defer ticker.Stop()

	for range ticker.C {
		t, ok := svc.GetTaskStatus(taskID)
		if !ok {
			return nil, fmt.Errorf("task not found: %s", taskID)
		}
		observability.Debug("task_poll", map[string]any{"task_id": taskID, "status": t.Status})
		if t.Status == task.StatusSucceeded || t.Status == task.StatusFailed {
			return t, nil
		}
	}
	return nil, fmt.Errorf("stopped polling task %s", taskID)
}

func main() {
	configPath := flag.String("config", "", "Path to a TOML config file")
	op := flag.String("op", "", "Operation to run, see -list")
	rawArgs := flag.String("args", "", `Operation arguments as a JSON object, e.g. {"file_path":"/tmp/a.txt"}`)
	list := flag.Bool("list", false, "List operations and exit")
	queue := flag.Bool("queue", false, "Run background operations through the task queue")
	embeddedDir := flag.String("embedded", "", "Directory holding the engine's logic module")
	dataDir := flag.String("data-dir", "", "Directory for engine and task databases")
	flag.Parse()

	if *list {
		listOperations(os.Stdout)
		return
	}
	if strings.TrimSpace(*op) == "" {
		fmt.Fprintln(os.Stderr, "-op is required (see -list)")
		os.Exit(2)
	}
	args, err := parseArgs(*rawArgs)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	if *embeddedDir != "" {
		cfg.EmbeddedDir = *embeddedDir
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	observability.Configure(observability.Options{Level: cfg.LogLevel, File: cfg.LogFile})

	host, err := bootstrap.New(cfg)
	if err != nil {
		observability.Fatal("host_init_failed", map[string]any{"reason": err.Error()})
	}
	defer host.Close()
	if err := host.Start(); err != nil {
		observability.Fatal("engine_startup_failed", map[string]any{"reason": err.Error(), "module": host.Runtime.Module()})
	}

	var out string
	if *queue && commands.IsBackground(*op) {
		taskID, err := host.Tasks.Submit(*op, args)
		if err != nil {
			fmt.Fprintf(os.Stderr, "submit task failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "task started: %s\n", taskID)
		t, err := waitForTask(host.Tasks, taskID)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		if t.Status == task.StatusFailed {
			fmt.Fprintf(os.Stderr, "task failed at stage %q: %s\n", t.Stage, t.Error)
			os.Exit(1)
		}
		out = string(t.Result)
	} else {
		out, err = host.Commands.Dispatch(*op, args)
		if err != nil {
			if stage, ok := engine.StageOf(err); ok {
				fmt.Fprintf(os.Stderr, "%s error: %v\n", stage, err)
			} else {
				fmt.Fprintln(os.Stderr, err)
			}
			_ = host.Close()
			os.Exit(1)
		}
	}

	fmt.Println(prettyJSON(out))
}

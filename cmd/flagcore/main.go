package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/wippyai/flagcore/config"
)

const (
	defaultRetryInterval  = time.Second
	defaultConnectTimeout = 10 * time.Second
	defaultHealthCheck    = time.Minute
)

func main() {
	var (
		settingsFile = flag.String("config", "", "YAML settings file (optional)")
		envFile      = flag.String("env", "", "Additional .env file (optional)")
		specsFile    = flag.String("specs", "", "Specs document, overrides FLAGCORE_SPECS_FILE")
		engineFile   = flag.String("engine", "", "Engine wasm module, overrides FLAGCORE_ENGINE_MODULE")
		userID       = flag.String("user", "", "User ID to evaluate for")
		gates        = flag.String("gate", "", "Gates to check (comma-separated)")
		configs      = flag.String("dynamic-config", "", "Dynamic configs to evaluate (comma-separated)")
		experiments  = flag.String("experiment", "", "Experiments to evaluate (comma-separated)")
		layers       = flag.String("layer", "", "Layers to evaluate (comma-separated)")
		list         = flag.Bool("list", false, "List entities in the specs document and exit")
		verbose      = flag.Bool("v", false, "Verbose logging")
		interactive  = flag.Bool("i", false, "Interactive mode with TUI")
	)
	flag.Parse()

	s, err := loadSettings(*settingsFile, *envFile)
	if err != nil {
		fail(err)
	}
	if *specsFile != "" {
		s.SpecsFile = *specsFile
	}
	if *engineFile != "" {
		s.EngineModule = *engineFile
	}
	if err := s.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "Usage: flagcore [-config settings.yaml] [-specs specs.json] [-engine engine.wasm] -user id -gate a,b")
		fmt.Fprintln(os.Stderr, "       flagcore -specs specs.json -list")
		fmt.Fprintln(os.Stderr, "       flagcore -specs specs.json -i  (interactive mode)")
		fail(err)
	}

	logger, err := newLogger(*verbose)
	if err != nil {
		fail(err)
	}
	defer func() { _ = logger.Sync() }()
	setLoggers(logger)

	ctx := context.Background()
	st, err := openStack(ctx, s, logger)
	if err != nil {
		fail(err)
	}
	var todo []entity
	todo = appendNames(todo, "gate", *gates)
	todo = appendNames(todo, "config", *configs)
	todo = appendNames(todo, "experiment", *experiments)
	todo = appendNames(todo, "layer", *layers)

	err = serve(st, request{
		userID:      *userID,
		entities:    todo,
		list:        *list,
		interactive: *interactive,
	})
	st.close(ctx)
	if err != nil {
		fail(err)
	}
}

type request struct {
	userID      string
	entities    []entity
	list        bool
	interactive bool
}

func serve(st *stack, req request) error {
	if req.interactive {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			return fmt.Errorf("interactive mode needs a terminal")
		}
		return runInteractive(st, req.userID)
	}

	if req.list {
		for _, e := range st.entities() {
			fmt.Printf("%-10s %s\n", e.kind, e.name)
		}
		return nil
	}

	if len(req.entities) == 0 {
		fmt.Println("Nothing to evaluate. Use -gate, -dynamic-config, -experiment or -layer.")
		return nil
	}
	if req.userID == "" {
		return fmt.Errorf("-user is required")
	}
	return run(st, req.entities, req.userID)
}

func loadSettings(file, envFile string) (config.Settings, error) {
	var envPaths []string
	if envFile != "" {
		envPaths = append(envPaths, envFile)
	}
	if file != "" {
		return config.LoadFile(file, envPaths...)
	}
	return config.Load(envPaths...)
}

func appendNames(dst []entity, kind, names string) []entity {
	if names == "" {
		return dst
	}
	for _, n := range strings.Split(names, ",") {
		if n = strings.TrimSpace(n); n != "" {
			dst = append(dst, entity{kind: kind, name: n})
		}
	}
	return dst
}

func run(st *stack, todo []entity, userID string) error {
	results := make(map[string]any, len(todo))
	for _, e := range todo {
		v, err := st.evaluate(e, userID)
		if err != nil {
			return fmt.Errorf("%s %s: %w", e.kind, e.name, err)
		}
		results[e.kind+":"+e.name] = v
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

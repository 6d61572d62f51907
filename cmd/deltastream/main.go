package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"deltastream/internal/infra/config"
)

func main() {
	args := os.Args[1:]

	if len(args) > 0 {
		switch args[0] {
		case "--help", "-h", "help":
			showUsage()
			return
		}
	}

	// A .env next to the binary's working directory feeds DELTASTREAM_* overrides.
	_ = godotenv.Load()

	cmd := "serve"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	var err error
	switch cmd {
	case "serve":
		err = runServe(args)
	case "stream":
		err = runStream(args, os.Stdout)
	case "test":
		err = runTest(args, os.Stdout)
	case "providers":
		err = runProviders(args, os.Stdout)
	case "use":
		err = runUse(args, os.Stdout)
	case "encrypt":
		err = runEncrypt(args, os.Stdin, os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\nRun 'deltastream --help' for usage information.\n", cmd)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", cmd, err)
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`deltastream - normalized streaming for LLM vendor APIs

USAGE:
    deltastream [COMMAND] [FLAGS]

COMMANDS:
    serve              Run the WebSocket gateway (default)
    stream PROMPT      Stream one completion to stdout
    test               Run a connection test against a provider
    providers          List configured providers
    use NAME           Make NAME the default provider
    encrypt [VALUE]    Encrypt a secret for an enc: config value
                       (reads stdin when VALUE is omitted)

FLAGS:
    -h, --help         Show this help message
    --config PATH      Config file (default: ~/.deltastream/config.yaml)
    --provider NAME    Provider entry to use (default: the configured default)
    --model NAME       Override the provider's model
    --system TEXT      System prompt for stream

CONFIGURATION:
    Environment: DELTASTREAM_* variables override config; a .env file in
    the working directory is loaded first.
    DELTASTREAM_CONFIG_KEY decrypts enc: values.

EXAMPLES:
    deltastream                                 # Run the gateway
    deltastream stream "Write a haiku"          # Stream from the default provider
    deltastream stream --provider claude "Hi"   # Stream from a named provider
    deltastream test --provider gemini          # Check credentials
    deltastream use claude                      # Switch the default`)
}

// flagValue returns the value of --name given as "--name v" or "--name=v".
func flagValue(args []string, name string) string {
	long := "--" + name
	for i, arg := range args {
		if arg == long && i+1 < len(args) {
			return args[i+1]
		}
		if strings.HasPrefix(arg, long+"=") {
			return strings.TrimPrefix(arg, long+"=")
		}
	}
	return ""
}

// positional returns args with every --flag (and its value) removed.
func positional(args []string) []string {
	var out []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "--") {
			out = append(out, arg)
			continue
		}
		if !strings.Contains(arg, "=") && i+1 < len(args) {
			i++
		}
	}
	return out
}

func configPath(args []string) string {
	if p := flagValue(args, "config"); p != "" {
		return p
	}
	if p := os.Getenv("DELTASTREAM_CONFIG"); p != "" {
		return p
	}
	return config.DefaultPath()
}

func loadConfig(args []string) (*config.Config, string, error) {
	path := configPath(args)
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", fmt.Errorf("config: %w", err)
	}
	return cfg, path, nil
}

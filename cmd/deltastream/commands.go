package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"deltastream/internal/adapter/llm"
	"deltastream/internal/domain"
	"deltastream/internal/infra/config"
	"deltastream/internal/infra/logger"
	"deltastream/internal/usecase/eventbus"
	"deltastream/internal/usecase/streaming"
)

func newClient(cfg config.StreamConfig, breakers *llm.Breakers, log *slog.Logger) *llm.Client {
	return llm.NewClient(llm.Options{
		HTTPClient:     llm.NewHTTPClient(cfg),
		Breakers:       breakers,
		ReadBufferSize: cfg.ReadBufferSize,
		Logger:         log,
	})
}

// resolveProvider picks --provider (or the default) and applies --model.
func resolveProvider(cfg *config.Config, args []string) (config.ProviderConfig, error) {
	name := flagValue(args, "provider")
	if name == "" {
		name = cfg.Default
	}
	p, err := cfg.Provider(name)
	if err != nil {
		return config.ProviderConfig{}, err
	}
	if m := flagValue(args, "model"); m != "" {
		p.Model = m
	}
	return p, nil
}

// printer is an llm-stream bus handler that writes deltas to out and closes
// done on the terminal event. The bus calls it from one goroutine; err is
// read only after done is closed.
type printer struct {
	out  io.Writer
	done chan struct{}
	err  error
	once sync.Once
}

func newPrinter(out io.Writer) *printer {
	return &printer{out: out, done: make(chan struct{})}
}

func (p *printer) handle(_ context.Context, event domain.Event) {
	ev, err := domain.DecodeCanonical(event)
	if err != nil {
		return
	}
	if ev.Delta != "" {
		fmt.Fprint(p.out, ev.Delta)
	}
	if !ev.IsTerminal() {
		return
	}
	if ev.Error != nil {
		p.err = errors.New(ev.ErrorText())
	}
	p.once.Do(func() { close(p.done) })
}

func runStream(args []string, out io.Writer) error {
	prompt := strings.Join(positional(args), " ")
	if prompt == "" {
		return fmt.Errorf("usage: deltastream stream [--provider NAME] [--model NAME] [--system TEXT] PROMPT")
	}

	cfg, _, err := loadConfig(args)
	if err != nil {
		return err
	}
	p, err := resolveProvider(cfg, args)
	if err != nil {
		return err
	}

	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	bus := eventbus.New(log)
	defer bus.Close()
	pr := newPrinter(out)
	unsubscribe := bus.Subscribe(domain.EventLLMStream, pr.handle)
	defer unsubscribe()

	client := newClient(cfg.Stream, llm.NewBreakers(cfg.Stream.CircuitBreaker, log), log)
	manager := streaming.NewManager(client, domain.BusSink{Bus: bus}, log)
	id := manager.Launch(ctx, p.Descriptor(prompt, flagValue(args, "system")))

	select {
	case <-pr.done:
	case <-ctx.Done():
		manager.Cancel(id)
		<-pr.done
	}
	fmt.Fprintln(out)
	return pr.err
}

func runTest(args []string, out io.Writer) error {
	cfg, _, err := loadConfig(args)
	if err != nil {
		return err
	}
	p, err := resolveProvider(cfg, args)
	if err != nil {
		return err
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := newClient(cfg.Stream, nil, log)

	start := time.Now()
	err = client.TestConnection(context.Background(), p.Descriptor("", ""), cfg.Stream.ConnectionTestTimeout)
	elapsed := time.Since(start).Round(time.Millisecond)
	if err != nil {
		fmt.Fprintf(out, "FAIL %s (%s, %s) after %s: %v\n", p.Name, p.Type, p.Model, elapsed, err)
		return fmt.Errorf("connection test failed [%s]", domain.ErrorCodeOf(err))
	}
	fmt.Fprintf(out, "OK   %s (%s, %s) in %s\n", p.Name, p.Type, p.Model, elapsed)
	return nil
}

func runProviders(args []string, out io.Writer) error {
	cfg, _, err := loadConfig(args)
	if err != nil {
		return err
	}
	red := cfg.Redacted()

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\tNAME\tTYPE\tMODEL\tBASE URL\tAPI KEY")
	for _, p := range red.Providers {
		marker := ""
		if p.Name == red.Default {
			marker = "*"
		}
		key := p.APIKey
		if key == "" {
			key = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", marker, p.Name, p.Type, p.Model, p.BaseURL, key)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	kinds := llm.NewDefaultRegistry().List()
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	fmt.Fprintf(out, "\nsupported types: %s\n", strings.Join(names, ", "))
	return nil
}

func runUse(args []string, out io.Writer) error {
	pos := positional(args)
	if len(pos) != 1 {
		return fmt.Errorf("usage: deltastream use NAME")
	}
	name := pos[0]
	path := configPath(args)

	if err := config.Edit(path, func(c *config.Config) error { return c.SetDefault(name) }); err != nil {
		return err
	}
	fmt.Fprintf(out, "default provider is now %s (%s)\n", name, path)
	return nil
}

func runEncrypt(args []string, in io.Reader, out io.Writer) error {
	passphrase := os.Getenv("DELTASTREAM_CONFIG_KEY")
	if passphrase == "" {
		return fmt.Errorf("DELTASTREAM_CONFIG_KEY must be set")
	}

	value := strings.Join(positional(args), " ")
	if value == "" {
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read secret: %w", err)
		}
		value = strings.TrimSpace(line)
	}
	if value == "" {
		return fmt.Errorf("nothing to encrypt")
	}

	enc, err := config.EncryptSecret(value, passphrase)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, enc)
	return nil
}

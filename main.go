package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dmorgan81/imagegen/internal/config"
	"github.com/dmorgan81/imagegen/internal/generate"
	"github.com/dmorgan81/imagegen/internal/handler"
	"github.com/dmorgan81/imagegen/internal/inject"
	"github.com/dmorgan81/imagegen/internal/log"
	"github.com/dmorgan81/imagegen/internal/session"
	"github.com/samber/do"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: imagegen [-config file] <command> [args]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "commands:")
	fmt.Fprintln(w, "  serve              serve the image form on server.addr")
	fmt.Fprintln(w, "  generate PROMPT    generate one image and print its URL")
	fmt.Fprintln(w, "  key [VALUE]        save the Replicate API key, or report whether one is saved")
}

func run(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("imagegen", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { usage(stderr) }
	configFile := fs.String("config", "", "path to a YAML config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = log.NewContext(ctx, log.New(stderr, log.ParseLevel(cfg.Log.Level)))

	injector := inject.Setup(ctx, cfg)
	defer func() {
		_ = injector.Shutdown()
	}()

	switch cmd := fs.Arg(0); cmd {
	case "serve":
		return serve(ctx, injector, cfg.Server.Addr)
	case "generate":
		return generateOnce(ctx, injector, stdout, strings.Join(fs.Args()[1:], " "))
	case "key":
		return key(ctx, injector, stdout, fs.Args()[1:])
	case "":
		usage(stderr)
		return flag.ErrHelp
	default:
		usage(stderr)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func serve(ctx context.Context, injector *do.Injector, addr string) error {
	log := log.FromContextOrDiscard(ctx)
	srv := &http.Server{
		Addr:              addr,
		Handler:           do.MustInvoke[*handler.Handler](injector),
		ReadHeaderTimeout: 10 * time.Second,
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.Info("serving", "addr", addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return group.Wait()
}

func generateOnce(ctx context.Context, injector *do.Injector, stdout io.Writer, prompt string) error {
	s := do.MustInvoke[*session.Session](injector)
	ref, err := s.Generate(ctx, prompt)
	if err != nil {
		return errors.New(generate.Message(err))
	}
	fmt.Fprintln(stdout, ref)
	return nil
}

func key(ctx context.Context, injector *do.Injector, stdout io.Writer, args []string) error {
	s := do.MustInvoke[*session.Session](injector)
	if len(args) == 0 {
		if s.Credential() == "" {
			fmt.Fprintln(stdout, "no API key saved")
		} else {
			fmt.Fprintln(stdout, "API key saved")
		}
		return nil
	}
	if err := s.SetCredential(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintln(stdout, "API key saved")
	return nil
}

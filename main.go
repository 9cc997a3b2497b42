package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"

	"talkie/api"
	"talkie/audio"
	"talkie/auth"
	"talkie/clipboard"
	"talkie/config"
	"talkie/doctor"
	"talkie/gesture"
	"talkie/log"
	"talkie/session"
	"talkie/shutdown"
)

var version = "dev"

var shutdownOnce sync.Once

func gracefulShutdown(a *app) {
	shutdownOnce.Do(func() {
		if a != nil {
			a.close()
		}
		log.Close()
		tuiMu.Lock()
		p := tuiProgram
		tuiMu.Unlock()
		if p != nil {
			p.Quit()
		}
	})
}

func deviceLineText(dev *audio.DeviceInfo) string {
	name := "system default"
	suffix := ""
	if dev != nil {
		name = dev.Name
		if audio.IsBluetooth(dev.Name) {
			suffix = " (BT!)"
		}
	}
	return "mic: " + name + suffix
}

func serverLineText(cfg config.Config, user api.User) string {
	return fmt.Sprintf("%s as %s [%s]", cfg.ServerURL, user.Username, cfg.Format)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	log.Errorf(format, args...)
	log.Close()
	os.Exit(1)
}

func run() {
	cfg, flags, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	if flags.Version {
		fmt.Printf("talkie %s\n", version)
		os.Exit(0)
	}

	// Resolve log directory early
	logPath, err := log.ResolveDir(flags.LogPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to resolve log directory: %v\n", err)
		os.Exit(1)
	}
	log.SetDir(logPath)

	if err := log.EnsureDir(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log directory: %v\n", err)
	}

	crashPath := filepath.Join(log.Dir(), "crash_log.txt")
	crashFile, err := os.OpenFile(crashPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err == nil {
		fmt.Fprintf(crashFile, "\n=== Session %s [pid=%d] ===\n", time.Now().Format("2006-01-02 15:04:05"), os.Getpid())
		debug.SetCrashOutput(crashFile, debug.CrashOptions{})
	}

	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}

	stateDir := cfg.StateDir
	if stateDir == "" {
		if stateDir, err = auth.DefaultDir(); err != nil {
			fatalf("state directory: %v", err)
		}
	}
	store, err := auth.Open(stateDir)
	if err != nil {
		fatalf("opening session store: %v", err)
	}

	client, err := api.New(api.Options{
		ServerURL: cfg.ServerURL,
		Prefix:    cfg.APIPrefix,
		Timeout:   cfg.HTTPTimeout,
	}, store)
	if err != nil {
		fatalf("%v", err)
	}

	switch {
	case flags.Logout:
		if err := store.Clear(); err != nil {
			fatalf("logout: %v", err)
		}
		fmt.Println("Logged out.")
		log.Close()
		os.Exit(0)

	case flags.Login != "":
		password, err := readPassword()
		if err != nil {
			fatalf("reading password: %v", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTPTimeout)
		user, err := auth.Login(ctx, client, store, flags.Login, password)
		cancel()
		if err != nil {
			fatalf("login: %v", err)
		}
		fmt.Printf("Logged in as %s.\n", user.Username)
		log.Close()
		os.Exit(0)

	case flags.Doctor:
		code := doctor.Run(cfg, store, client)
		log.Close()
		os.Exit(code)
	}

	user, ok := store.User()
	if !store.LoggedIn() || !ok {
		fmt.Fprintln(os.Stderr, "Not logged in. Run: talkie -login <username>")
		log.Close()
		os.Exit(1)
	}

	if flags.WavPath != "" {
		code := runTestMode(cfg, client, store, flags.WavPath)
		log.Close()
		os.Exit(code)
	}

	actx, err := audio.NewContext()
	if err != nil {
		fatalf("initializing audio context: %v", err)
	}
	defer actx.Close()

	var device *audio.DeviceInfo
	if cfg.Device != "" {
		device, err = audio.FindDevice(actx, cfg.Device)
		if err != nil || device == nil {
			log.Warnf("device %q not found, using default", cfg.Device)
			fmt.Printf("Warning: device %q not found, using system default\n", cfg.Device)
		}
	} else if flags.Setup {
		device, err = audio.SelectDevice(actx)
		if err != nil && !errors.Is(err, audio.ErrSelectionCancelled) {
			log.Warnf("device selection failed: %v", err)
			fmt.Printf("Warning: device selection failed: %v\n", err)
			fmt.Println("Falling back to default device")
		}
	}

	ctx, stop := shutdown.Context(context.Background())
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var expired sync.Once
	client.OnUnauthorized(func() {
		expired.Do(func() {
			log.Warn("session rejected by server, logging out")
			store.Clear()
			cancel()
		})
	})

	var view session.View = tuiView{}
	var pv *plainView
	if !flags.TUI {
		pv = &plainView{out: os.Stdout}
		view = pv
	}
	input := newTUIInput()
	a := newApp(cfg, client, store, actx, device, view, nil)

	if flags.TUI {
		a.onRecording = func(on bool) { tuiSend(RecordingMsg{On: on}) }

		tuiMu.Lock()
		tuiProgram = NewTUIProgram(input, func() error {
			return clipboard.Copy(a.coord.LastReply())
		})
		tuiMu.Unlock()

		go func() {
			if _, err := tuiProgram.Run(); err != nil {
				log.Errorf("TUI error: %v", err)
			}
			cancel()
		}()
		tuiSend(ServerLineMsg{Text: serverLineText(cfg, user)})
		tuiSend(DeviceLineMsg{Text: deviceLineText(device)})
	} else {
		pv.printf("%s", serverLineText(cfg, user))
		pv.printf("%s", deviceLineText(device))
	}
	defer gracefulShutdown(a)

	log.SessionStart(cfg.ServerURL, user.Username, cfg.Format)

	kb := gesture.NewKeyboard()
	inputs := []gesture.Input{input}
	if err := kb.Register(); err != nil {
		log.Warnf("keyboard push-to-talk unavailable: %v", err)
		view.Status("keyboard unavailable, run talkie -doctor")
	} else {
		defer kb.Unregister()
		inputs = append(inputs, kb)
	}

	events := gesture.Merge(ctx.Done(), inputs...)
	a.run(ctx, events)

	if !store.LoggedIn() {
		fmt.Fprintln(os.Stderr, "Session expired. Run: talkie -login <username>")
	}
}

// readPassword prompts on the terminal without echo, or reads one line when
// stdin is not a terminal.
func readPassword() (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, "Password: ")
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"prompter/audio"
	"prompter/backend"
	"prompter/chat"
	"prompter/config"
	"prompter/history"
	"prompter/hotkey"
	"prompter/log"
	"prompter/ocr"
	"prompter/speech"
)

var version = "dev"

func defaultConfigPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "prompter", "prompter.yaml")
	}
	return "prompter.yaml"
}

// runLogin drives the `prompter login` subcommand: prompt for
// credentials, exchange them for a token, persist it.
func runLogin(cfg *config.Config, store *backend.TokenStore) {
	client, err := backend.NewClient(cfg.BackendURL)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Print("Username: ")
	reader := bufio.NewReader(os.Stdin)
	username, err := reader.ReadString('\n')
	if err != nil {
		fmt.Printf("Error reading username: %v\n", err)
		os.Exit(1)
	}
	username = strings.TrimSpace(username)

	fmt.Print("Password: ")
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		fmt.Printf("Error reading password: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	token, err := client.Login(ctx, username, string(password))
	if err != nil {
		fmt.Printf("Login failed: %v\n", err)
		os.Exit(1)
	}
	if err := store.Save(token); err != nil {
		fmt.Printf("Error saving token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Logged in.")
}

func loadResumeSummary(ctx context.Context, client *chat.Client, path string) string {
	if path == "" {
		return ""
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		fmt.Printf("Warning: could not read resume %s: %v\n", path, err)
		return ""
	}
	summary, err := client.SummarizeResume(ctx, string(raw))
	if err != nil {
		log.Errorf("resume summarization failed: %v", err)
		fmt.Printf("Warning: resume summarization failed: %v\n", err)
		return ""
	}
	return summary
}

func run() {
	configFlag := flag.String("config", defaultConfigPath(), "Config file path")
	logPathFlag := flag.String("logpath", "", "log directory path (default: OS-specific location, use ./ for current dir)")
	setupFlag := flag.Bool("setup", false, "Select microphone device (otherwise uses system default)")
	deviceFlag := flag.String("device", "", "Use named microphone device")
	resumeFlag := flag.String("resume", "", "Resume text file to summarize into the persona")
	versionFlag := flag.Bool("version", false, "Print version and exit")

	// Subcommand parsing before flag.Parse, as with plain flags the
	// subcommand word would be rejected.
	args := os.Args[1:]
	loginMode := len(args) > 0 && args[0] == "login"
	logoutMode := len(args) > 0 && args[0] == "logout"
	if loginMode || logoutMode {
		os.Args = append(os.Args[:1], args[1:]...)
	}
	flag.Parse()

	if *versionFlag {
		fmt.Printf("prompter %s\n", version)
		os.Exit(0)
	}

	logPath, err := log.ResolveDir(*logPathFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to resolve log directory: %v\n", err)
		os.Exit(1)
	}
	log.SetDir(logPath)
	if err := log.EnsureDir(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log directory: %v\n", err)
	}

	crashPath := filepath.Join(log.Dir(), "crash_log.txt")
	if crashFile, err := os.OpenFile(crashPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644); err == nil {
		fmt.Fprintf(crashFile, "\n=== Session %s [pid=%d] ===\n", time.Now().Format("2006-01-02 15:04:05"), os.Getpid())
		debug.SetCrashOutput(crashFile, debug.CrashOptions{})
	}

	cfg, err := config.Load(*configFlag)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	if cfg.DataDir == "" {
		cfg.DataDir = log.Dir()
	}
	tokenStore := backend.NewTokenStore(cfg.DataDir)

	if loginMode {
		runLogin(cfg, tokenStore)
		return
	}
	if logoutMode {
		if err := tokenStore.Delete(); err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Logged out.")
		return
	}
	if *resumeFlag != "" {
		cfg.ResumePath = *resumeFlag
	}
	if *deviceFlag != "" {
		cfg.DeviceName = *deviceFlag
	}

	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}

	token, err := tokenStore.Load()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	if token == "" {
		fmt.Println("Not logged in. Run: prompter login")
		os.Exit(1)
	}
	backendClient, err := backend.NewClient(cfg.BackendURL, backend.WithToken(token))
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	chatClient, err := chat.NewClient(cfg.Keys.Gemini)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	actx, err := audio.NewContext()
	if err != nil {
		log.Errorf("audio context init error: %v", err)
		fmt.Printf("Error initializing audio context: %v\n", err)
		os.Exit(1)
	}
	defer actx.Close()

	var selectedDevice *audio.DeviceInfo
	if cfg.DeviceName != "" {
		if devices, err := actx.Devices(); err == nil {
			for i := range devices {
				if devices[i].Name == cfg.DeviceName {
					selectedDevice = &devices[i]
					break
				}
			}
		}
		if selectedDevice == nil {
			fmt.Printf("Warning: device %q not found, using system default\n", cfg.DeviceName)
		}
	} else if *setupFlag {
		selectedDevice, err = audio.SelectDevice(actx)
		if err != nil {
			log.Warnf("device selection failed: %v", err)
			fmt.Printf("Warning: device selection failed: %v\n", err)
			fmt.Println("Falling back to default device")
			selectedDevice = nil
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	resumeSummary := loadResumeSummary(ctx, chatClient, cfg.ResumePath)
	conv := chat.BuildChat(resumeSummary)

	var store *history.Store
	if s, err := history.Open(filepath.Join(cfg.DataDir, "history.db")); err != nil {
		log.Errorf("history store unavailable: %v", err)
	} else {
		store = s
		defer store.Close()
	}

	queue := backend.NewLogQueue(64)
	defer queue.Close()

	ocrClient, ocrErr := ocr.NewClient(cfg.Keys.OCR)

	orch := NewOrchestrator(OrchestratorConfig{
		Conversation: conv,
		Chat:         chatClient,
		Backend:      backendClient,
		Queue:        queue,
		History:      store,
		CaptureText: func(ctx context.Context) (string, error) {
			if ocrErr != nil {
				return "", ocrErr
			}
			path, err := ocr.CaptureScreen(hideOverlay, showOverlay)
			if err != nil {
				return "", err
			}
			return ocrClient.ProcessImage(ctx, path)
		},
	})

	stop := make(chan struct{})
	handle := speech.Start(speech.Config{
		APIKey:       cfg.Keys.AssemblyAI,
		EndSilenceMs: cfg.EndSilenceMs,
	}, actx, selectedDevice, orch.OnTranscript, stop)

	answerHK := hotkey.New(hotkey.TriggerAnswer)
	captureHK := hotkey.New(hotkey.TriggerCapture)
	if err := answerHK.Register(); err != nil {
		log.Errorf("answer hotkey register error: %v", err)
		fmt.Printf("Warning: answer hotkey unavailable: %v\n", err)
	} else {
		defer answerHK.Unregister()
	}
	if err := captureHK.Register(); err != nil {
		log.Errorf("capture hotkey register error: %v", err)
		fmt.Printf("Warning: capture hotkey unavailable: %v\n", err)
	} else {
		defer captureHK.Unregister()
	}
	go func() {
		for {
			select {
			case <-answerHK.Keydown():
				orch.TriggerAnswer(ctx)
			case <-captureHK.Keydown():
				orch.TriggerCapture(ctx)
			case <-stop:
				return
			}
		}
	}()

	tuiMu.Lock()
	tuiProgram = NewTUIProgram(
		func() { orch.TriggerAnswer(ctx) },
		func() { orch.TriggerCapture(ctx) },
	)
	tuiMu.Unlock()

	go func() {
		for cmd := range orch.Render() {
			tuiSend(cmd)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		tuiMu.Lock()
		if tuiProgram != nil {
			tuiProgram.Quit()
		}
		tuiMu.Unlock()
	}()

	deviceName := "system default"
	if selectedDevice != nil {
		deviceName = selectedDevice.Name
	}
	log.SessionStart(deviceName, cfg.BackendURL)

	if _, err := tuiProgram.Run(); err != nil {
		log.Errorf("TUI error: %v", err)
	}

	// Shutdown: stop capture and socket loops, drain in-flight work.
	close(stop)
	cancel()
	if !handle.Join(3 * time.Second) {
		log.Warn("speech loops did not stop in time")
	}
	orch.Wait()
	log.SessionEnd(orch.Answered())
	log.Close()
}

func hideOverlay() {
	tuiMu.Lock()
	defer tuiMu.Unlock()
	if tuiProgram != nil {
		tuiProgram.ReleaseTerminal()
	}
}

func showOverlay() {
	tuiMu.Lock()
	defer tuiMu.Unlock()
	if tuiProgram != nil {
		tuiProgram.RestoreTerminal()
	}
}

package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/kardianos/service"
	"github.com/stone-age-io/telemetry-agent/internal/agent"
	"github.com/stone-age-io/telemetry-agent/internal/config"
)

// Set by -ldflags "-X main.version=..."
var version = "dev"

// program adapts the agent to the service manager
type program struct {
	configPath string
	agent      *agent.Agent
}

func (p *program) Start(s service.Service) error {
	a, err := agent.New(p.configPath, version)
	if err != nil {
		return err
	}
	p.agent = a
	a.Start()
	return nil
}

func (p *program) Stop(s service.Service) error {
	if p.agent == nil {
		return nil
	}
	return p.agent.Shutdown()
}

func main() {
	configPath := flag.String("config", config.GetDefaultConfigPath(), "Path to configuration file")
	svcAction := flag.String("service", "", "Service control: install, uninstall, start, stop, restart or run")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("telemetry-agent", version)
		return
	}

	prg := &program{configPath: *configPath}
	svcConfig := &service.Config{
		Name:        "telemetry-agent",
		DisplayName: "Telemetry Agent",
		Description: "Collects host metrics and posts them to the collection endpoint",
		Arguments:   []string{"-config", *configPath},
	}

	s, err := service.New(prg, svcConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create service: %v\n", err)
		os.Exit(1)
	}

	switch *svcAction {
	case "":
		if service.Interactive() {
			runForeground(*configPath)
			return
		}
		if err := s.Run(); err != nil {
			fmt.Fprintf(os.Stderr, "Service failed: %v\n", err)
			os.Exit(1)
		}
	case "run":
		if err := s.Run(); err != nil {
			fmt.Fprintf(os.Stderr, "Service failed: %v\n", err)
			os.Exit(1)
		}
	default:
		if err := service.Control(s, *svcAction); err != nil {
			fmt.Fprintf(os.Stderr, "Service %s failed: %v (valid actions: %v)\n", *svcAction, err, service.ControlAction)
			os.Exit(1)
		}
		fmt.Printf("Service %s succeeded\n", *svcAction)
	}
}

// runForeground runs the agent attached to the terminal until SIGINT/SIGTERM
func runForeground(configPath string) {
	a, err := agent.New(configPath, version)
	if err != nil {
		// Invalid configuration or an unreadable ledger stops startup
		fmt.Fprintf(os.Stderr, "Failed to start agent: %v\n", err)
		os.Exit(1)
	}

	if err := a.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Agent stopped with error: %v\n", err)
		os.Exit(1)
	}
}

package main

import (
	"flag"
	"log"

	"github.com/danmuck/agentlink/internal/config"
)

func main() {
	kind := flag.String("kind", "gateway", "config kind: gateway|agent")
	output := flag.String("output", "", "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", "", "config path for validation (defaults to per-kind cmd path)")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	if *validate {
		path := *input
		if path == "" {
			path = defaultPath(*kind)
		}
		if err := validateFile(*kind, path); err != nil {
			log.Fatal(err)
		}
		log.Printf("Validated %s config at %s", *kind, path)
		return
	}

	target := *output
	if target == "" {
		target = defaultPath(*kind)
	}
	if err := config.WriteTemplate(target, *kind, *force); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote %s config template to %s", *kind, target)
}

func defaultPath(kind string) string {
	switch kind {
	case "gateway":
		return "cmd/gatewayctl/config.toml"
	case "agent":
		return "cmd/agentctl/config.toml"
	default:
		log.Fatalf("unknown kind: %s", kind)
		return ""
	}
}

func validateFile(kind, path string) error {
	switch kind {
	case "gateway":
		_, err := config.LoadGatewayConfig(path)
		return err
	case "agent":
		_, err := config.LoadAgentConfig(path)
		return err
	default:
		log.Fatalf("unknown kind: %s", kind)
		return nil
	}
}

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/oarkflow/fleetgate"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "convert":
		handleConvert()
	case "validate":
		handleValidate()
	case "stats":
		handleStats()
	case "export-default":
		handleExportDefault()
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("fleetgate-config - rule configuration tool for fleetgate")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  fleetgate-config validate <file>             - Validate a rule configuration")
	fmt.Println("  fleetgate-config stats <file>                - Show configuration statistics")
	fmt.Println("  fleetgate-config convert <input> <output>    - Convert between formats")
	fmt.Println("  fleetgate-config export-default <output>     - Write the shipped fleet rule set")
	fmt.Println()
	fmt.Println("Supported formats: .yaml, .yml, .json")
}

func handleValidate() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: fleetgate-config validate <file>")
		os.Exit(1)
	}
	cfg, err := loadConfig(os.Args[2])
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Printf("Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("%s is valid\n", os.Args[2])
}

func handleStats() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: fleetgate-config stats <file>")
		os.Exit(1)
	}
	cfg, err := loadConfig(os.Args[2])
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
	s := cfg.Stats()
	fmt.Printf("Tables:               %d\n", s.Tables)
	fmt.Printf("Rules:                %d\n", s.Rules)
	fmt.Printf("  allow_all:          %d\n", s.AllowAll)
	fmt.Printf("  filtered:           %d\n", s.Filtered)
	fmt.Printf("Personal-data tables: %d\n", s.PersonalData)
}

func handleConvert() {
	if len(os.Args) < 4 {
		fmt.Println("Usage: fleetgate-config convert <input> <output>")
		os.Exit(1)
	}
	cfg, err := loadConfig(os.Args[2])
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
	if err := saveConfig(cfg, os.Args[3]); err != nil {
		fmt.Printf("Error saving config: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Converted %s -> %s\n", os.Args[2], os.Args[3])
}

func handleExportDefault() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: fleetgate-config export-default <output>")
		os.Exit(1)
	}
	if err := saveConfig(fleetgate.DefaultConfig(), os.Args[2]); err != nil {
		fmt.Printf("Error saving config: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Wrote default fleet rules to %s\n", os.Args[2])
}

func loadConfig(path string) (*fleetgate.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	loader := fleetgate.NewConfigLoader()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return loader.LoadYAML(data)
	case ".json":
		return loader.LoadJSON(data)
	}
	return nil, fmt.Errorf("unsupported format: %s", path)
}

func saveConfig(cfg *fleetgate.Config, path string) error {
	var data []byte
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = cfg.ToYAML()
	case ".json":
		data, err = cfg.ToJSON()
	default:
		return fmt.Errorf("unsupported format: %s", path)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

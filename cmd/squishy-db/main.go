package main

import (
	"fmt"
	"log"
	"os"
	"strings"
	"syscall"

	"github.com/jessevdk/go-flags"
	"golang.org/x/term"

	"github.com/squishylib/database"
	"github.com/squishylib/database/config"
	"github.com/squishylib/database/console"
	_ "github.com/squishylib/database/mongo"
	_ "github.com/squishylib/database/mysql"
	_ "github.com/squishylib/database/sqlite"
)

var version string

func parseOptions(args []string) (*config.Section, string, *console.Logger) {
	var opts struct {
		Config  string `short:"c" long:"config" description:"YAML configuration file" value-name:"filename" default:"database.yml"`
		Prompt  bool   `long:"password-prompt" description:"Force MySQL user password prompt"`
		Debug   bool   `long:"debug" description:"Enable debug logging"`
		Help    bool   `long:"help" description:"Show this help"`
		Version bool   `long:"version" description:"Show this version"`
	}

	parser := flags.NewParser(&opts, flags.None)
	parser.Usage = "[options] command\n\nCommands:\n  ping   connect and report the status\n  drop   destroy the configured database"
	args, err := parser.ParseArgs(args)
	if err != nil {
		log.Fatal(err)
	}

	if opts.Help {
		parser.WriteHelp(os.Stdout)
		os.Exit(0)
	}
	if opts.Version {
		fmt.Println(version)
		os.Exit(0)
	}
	if len(args) != 1 {
		fmt.Print("No command given!\n\n")
		parser.WriteHelp(os.Stdout)
		os.Exit(1)
	}

	section, err := config.Load(opts.Config)
	if err != nil {
		log.Fatalf("Failed to read '%s': %s", opts.Config, err)
	}

	if section.GetBool("mysql.enabled", false) {
		password := section.GetString("mysql.password", "")
		if password == "" || opts.Prompt {
			section.Set("mysql.password", promptPassword())
		}
	}

	logger := console.New("squishy-db")
	if opts.Debug {
		logger.SetLevel(console.LevelDebug)
	}
	return section, args[0], logger
}

func promptPassword() string {
	fmt.Print("Enter Password: ")
	pass, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println()
	return strings.TrimSpace(string(pass))
}

func main() {
	section, command, logger := parseOptions(os.Args[1:])

	db, err := database.NewBuilder(section).Logger(logger).Build()
	if err != nil {
		log.Fatal(err)
	}
	defer db.Shutdown()

	if _, err := db.Connect().Wait(0); err != nil {
		log.Fatal(err)
	}

	switch command {
	case "ping":
		fmt.Printf("%s: %s\n", db.Backend(), db.Status())
	case "drop":
		if _, err := db.Drop().Wait(0); err != nil {
			log.Fatal(err)
		}
		fmt.Printf("%s: database dropped\n", db.Backend())
	default:
		log.Fatalf("Unknown command %q, expected ping or drop", command)
	}
}

package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/mitchr/braid/conf"
	"github.com/mitchr/braid/server"
)

func main() {
	configPath := flag.String("config", "braid.toml", "path to the configuration file")
	logPath := flag.String("logfile", "", "write the log here instead of stderr")
	allowRoot := flag.Bool("allow-root", false, "run even when invoked as root")
	flag.Parse()

	if os.Geteuid() == 0 && !*allowRoot {
		fmt.Fprintln(os.Stderr, "refusing to run as root; pass -allow-root to override")
		os.Exit(1)
	}

	if *logPath != "" {
		f, err := os.OpenFile(*logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			log.Fatal(err)
		}
		defer f.Close()
		log.SetOutput(f)
	}

	c, err := conf.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}

	s, err := server.New(c)
	if err != nil {
		log.Fatal(err)
	}

	log.Printf("%s [%s] listening", c.Server.Name, c.Server.SID)
	if err := s.Serve(); err != nil {
		log.Fatal(err)
	}
}

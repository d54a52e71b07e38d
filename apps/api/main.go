package main

import (
	"flag"
	"log"
	"os"
)

func main() {
	di := flag.String("di", "manual", "how dependencies are wired: manual | dig")
	flag.Parse()

	switch *di {
	case "manual":
		startManual()
	case "dig":
		startWithDig()
	default:
		log.Printf("unknown -di %q", *di)
		flag.Usage()
		os.Exit(2)
	}
}

// Command client is a small interactive terminal client for the bboard
// server. It forwards stdin lines to the server and prints every server
// line as it arrives, colorized by kind so asynchronous events stand out
// from command replies.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/gookit/color"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:5000", "bboard server address")
	noColor := flag.Bool("no-color", false, "Disable colorized output")
	flag.Parse()

	if *noColor {
		color.Disable()
	}

	conn, err := net.Dial("tcp", *addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect to %s: %v\n", *addr, err)
		os.Exit(1)
	}
	defer func() { _ = conn.Close() }()

	// Server lines arrive independently of what the user is typing, so a
	// dedicated goroutine prints them as they come in.
	done := make(chan struct{})
	go func() {
		defer close(done)
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			printLine(scanner.Text())
		}
	}()

	stdin := bufio.NewScanner(os.Stdin)
	for stdin.Scan() {
		line := strings.TrimSpace(stdin.Text())
		if line == "" {
			continue
		}
		if _, err := fmt.Fprintf(conn, "%s\n", line); err != nil {
			fmt.Fprintf(os.Stderr, "send: %v\n", err)
			break
		}
		if strings.EqualFold(line, "QUIT") {
			break
		}
	}

	// Drain the farewell (and any in-flight events) before exiting.
	<-done
}

// printLine colorizes a server line by its leading keyword.
func printLine(line string) {
	switch {
	case strings.HasPrefix(line, "EVENT "):
		color.Green.Println(line)
	case strings.HasPrefix(line, "ERR "):
		color.Red.Println(line)
	default:
		fmt.Println(line)
	}
}

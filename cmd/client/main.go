// Command client is a plain line client for the chat server: server lines are
// printed as they arrive and stdin lines are sent as typed.
package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"
)

func main() {
	fs := pflag.NewFlagSet("worldchat-client", pflag.ContinueOnError)
	addr := fs.String("addr", "localhost:19090", "chat server address")
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		os.Exit(2)
	}

	conn, err := net.Dial("tcp", *addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect %s: %v\n", *addr, err)
		os.Exit(1)
	}
	defer conn.Close()

	go receive(conn, os.Stdout)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		_ = conn.Close()
		os.Exit(0)
	}()

	if err := send(os.Stdin, conn); err != nil {
		fmt.Fprintf(os.Stderr, "send: %v\n", err)
		os.Exit(1)
	}
}

// receive prints server lines until the connection ends.
func receive(conn net.Conn, out io.Writer) {
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		fmt.Fprintln(out, scanner.Text())
	}
	fmt.Fprintln(out, "Disconnected from server.")
	os.Exit(0)
}

// send forwards stdin lines to the server until "quit" or end of input.
func send(in io.Reader, conn net.Conn) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.EqualFold(strings.TrimSpace(line), "quit") {
			return nil
		}
		if _, err := io.WriteString(conn, line+"\n"); err != nil {
			return err
		}
	}
	return scanner.Err()
}

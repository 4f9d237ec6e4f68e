// Command daqcoreclient is a thin manual test client for the command
// socket: it dials a daqcored instance, sends each command-line argument
// (or each line typed on stdin, if none are given) as one command, and
// prints the Return:/Error: replies. Grounded on the teacher's tnctest, a
// similarly minimal TCP protocol exerciser, without its AX.25 framing or
// cgo dependency.
package main

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/spf13/pflag"
)

func main() {
	host := pflag.StringP("host", "h", "localhost", "daqcored host.")
	port := pflag.IntP("port", "p", 7777, "daqcored command port.")
	pflag.Parse()

	addr := fmt.Sprintf("%s:%d", *host, *port)
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "daqcoreclient: connect %s: %v\n", addr, err)
		os.Exit(1)
	}
	defer conn.Close()

	reader := bufio.NewScanner(conn)

	if args := pflag.Args(); len(args) > 0 {
		for _, cmd := range args {
			sendAndPrint(conn, reader, cmd)
		}
		return
	}

	stdin := bufio.NewScanner(os.Stdin)
	for stdin.Scan() {
		sendAndPrint(conn, reader, stdin.Text())
	}
}

func sendAndPrint(conn net.Conn, reader *bufio.Scanner, cmd string) {
	if _, err := fmt.Fprintln(conn, cmd); err != nil {
		fmt.Fprintf(os.Stderr, "daqcoreclient: write failed: %v\n", err)
		os.Exit(1)
	}
	// Each non-empty semicolon-separated segment of cmd produces exactly
	// one reply line, but a bare line always produces at least one.
	n := 0
	for _, seg := range strings.Split(cmd, ";") {
		if strings.TrimSpace(seg) != "" {
			n++
		}
	}
	if n == 0 {
		n = 1
	}
	for i := 0; i < n && reader.Scan(); i++ {
		fmt.Println(reader.Text())
	}
}

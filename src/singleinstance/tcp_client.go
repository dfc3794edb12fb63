package singleinstance

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"
)

type tcpClient struct{}

func (c *tcpClient) Send(ctx context.Context, command string) (bool, string, error) {
	if strings.ContainsAny(command, "\r\n") || command == "" || command == strings.TrimSuffix(pingRequest, "\n") {
		return false, "", fmt.Errorf("singleinstance: invalid command %q", command)
	}
	timeout := 300 * time.Millisecond
	replyTimeout := 10 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if d := time.Until(dl); d > 0 {
			replyTimeout = d
		}
	}

	start, end := getPortRange()
	for port := start; port <= end; port++ {
		if ctx.Err() != nil {
			return false, "", ctx.Err()
		}
		addr := net.JoinHostPort(residentHost, strconv.Itoa(port))
		if !ping(addr, timeout) {
			continue
		}
		text, err := send(addr, command, timeout, replyTimeout)
		return true, text, err
	}
	return false, "", nil
}

// DetectResidentPort returns (port, true) if a resident responds to PING.
func DetectResidentPort(ctx context.Context) (int, bool) {
	timeout := 300 * time.Millisecond
	start, end := getPortRange()
	for port := start; port <= end; port++ {
		if ctx.Err() != nil {
			break
		}
		if ping(net.JoinHostPort(residentHost, strconv.Itoa(port)), timeout) {
			return port, true
		}
	}
	return 0, false
}

func ping(addr string, timeout time.Duration) bool {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return false
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(timeout))
	if _, err := io.WriteString(conn, pingRequest); err != nil {
		return false
	}
	resp, err := bufio.NewReader(conn).ReadString('\n')
	return err == nil && resp == pongResponse
}

func send(addr, command string, dialTimeout, replyTimeout time.Duration) (string, error) {
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return "", err
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(replyTimeout))

	if _, err := io.WriteString(conn, command+"\n"); err != nil {
		return "", err
	}
	br := bufio.NewReader(conn)
	status, err := br.ReadString('\n')
	if err != nil {
		return "", err
	}
	body, _ := io.ReadAll(br)
	switch status {
	case successStatus:
		return string(body), nil
	case errorStatus:
		return "", errors.New(string(body))
	default:
		return "", fmt.Errorf("singleinstance: unexpected reply %q", strings.TrimSpace(status))
	}
}

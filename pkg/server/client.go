package server

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"bufio"
	"fmt"
	"io"
	"net"

	"github.com/pkg/errors"
)

// Client is a minimal interactive client for the fixed-frame protocol: it
// reads command lines from in, sends each as one frame, and prints every
// reply to out.
type Client struct {
	conn net.Conn
}

// Dial connects to a server at addr.
func Dial(addr string) (*Client, error) {

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to '%s'", addr)
	}

	return &Client{conn: conn}, nil

}

// Send transmits one command and returns the server's reply.
func (c *Client) Send(command string) (string, error) {

	err := writeFrame(c.conn, command, CommandLen)
	if err != nil {
		return "", err
	}

	return readFrame(c.conn, ReplyLen)

}

// Run pumps command lines from in to the server until in is exhausted or the
// connection drops. An 'exit' or 'logout' command ends the loop without
// waiting for a reply.
func (c *Client) Run(in io.Reader, out io.Writer) error {

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {

		line := scanner.Text()
		if line == "" {
			continue
		}

		if line == "exit" || line == "logout" {
			return writeFrame(c.conn, line, CommandLen)
		}

		reply, err := c.Send(line)
		if err != nil {
			return err
		}

		fmt.Fprintln(out, reply)

	}

	return scanner.Err()

}

// Close drops the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

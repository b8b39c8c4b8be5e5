package server

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"bytes"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/vorteil/ext2srv/pkg/elog"
	"github.com/vorteil/ext2srv/pkg/shell"
	"github.com/vorteil/ext2srv/pkg/vfs"
)

// Frame sizes of the line-oriented protocol: every client command is a fixed
// 128-byte zero-padded ASCII frame and every server reply a fixed 4096-byte
// zero-padded ASCII frame.
const (
	CommandLen = 128
	ReplyLen   = 4096
)

// DefaultPort is the TCP port served when no other is configured.
const DefaultPort = "60000"

// syncInterval is how often the background timer flushes the cache.
const syncInterval = 10 * time.Second

// Server accepts TCP connections and runs one shell session per connection.
// All sessions share one VFS; a single process-wide mutex serializes every
// call into it.
type Server struct {
	vfs   *vfs.VFS
	users *shell.Users
	log   elog.View
	mu    sync.Mutex
}

// New returns a Server fronting the given VFS.
func New(v *vfs.VFS, users *shell.Users, log elog.View) *Server {
	return &Server{
		vfs:   v,
		users: users,
		log:   log,
	}
}

// readFrame reads one fixed-size frame and returns its content up to the
// first NUL.
func readFrame(conn net.Conn, size int) (string, error) {

	buf := make([]byte, size)
	_, err := io.ReadFull(conn, buf)
	if err != nil {
		return "", err
	}

	if i := bytes.IndexByte(buf, 0); i >= 0 {
		buf = buf[:i]
	}

	return string(buf), nil

}

// writeFrame sends msg as one fixed-size zero-padded frame, truncating
// content that cannot fit.
func writeFrame(conn net.Conn, msg string, size int) error {

	buf := make([]byte, size)
	copy(buf[:size-1], msg)

	_, err := conn.Write(buf)
	return err

}

// Serve listens on addr and accepts connections until the listener fails.
// It also starts the background sync timer.
func (s *Server) Serve(addr string) error {

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on '%s'", addr)
	}
	defer listener.Close()

	s.log.Printf("listening on %s", listener.Addr())

	stop := make(chan struct{})
	defer close(stop)
	go s.syncLoop(stop)

	for {
		conn, err := listener.Accept()
		if err != nil {
			return errors.Wrap(err, "accept failed")
		}
		go s.handle(conn)
	}

}

// syncLoop periodically flushes all pending writes through to the backing
// file, under the same mutex as every other file-system access.
func (s *Server) syncLoop(stop <-chan struct{}) {

	ticker := time.NewTicker(syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			err := s.vfs.Sync()
			s.mu.Unlock()
			if err != nil {
				s.log.Errorf("background sync failed: %v", err)
			}
		}
	}

}

// login reads command frames until a well-formed 'login <user> <password>'
// matches the user list. It returns the uid, or an error once the connection
// drops.
func (s *Server) login(conn net.Conn) (int, error) {

	for {

		line, err := readFrame(conn, CommandLen)
		if err != nil {
			return -1, err
		}

		fields := strings.Fields(line)
		if len(fields) != 3 || fields[0] != "login" {
			err = writeFrame(conn, "Please login first!", ReplyLen)
			if err != nil {
				return -1, err
			}
			continue
		}

		uid, err := s.users.Login(fields[1], fields[2])
		if err != nil {
			err = writeFrame(conn, "Login failed!", ReplyLen)
			if err != nil {
				return -1, err
			}
			continue
		}

		s.log.Printf("%s logged in (uid %d)", fields[1], uid)

		err = writeFrame(conn, "login_success", ReplyLen)
		if err != nil {
			return -1, err
		}

		return uid, nil

	}

}

func (s *Server) handle(conn net.Conn) {

	defer conn.Close()

	s.log.Printf("new connection accepted from %s", conn.RemoteAddr())

	_, err := s.login(conn)
	if err != nil {
		s.log.Debugf("connection from %s closed before login: %v", conn.RemoteAddr(), err)
		return
	}

	sh := shell.New(s.vfs, &s.mu, s.log)

	for {

		line, err := readFrame(conn, CommandLen)
		if err != nil {
			s.log.Debugf("connection from %s closed: %v", conn.RemoteAddr(), err)
			return
		}

		reply, exit := sh.Exec(line)
		if exit {
			s.log.Printf("session from %s ended", conn.RemoteAddr())
			return
		}

		err = writeFrame(conn, reply, ReplyLen)
		if err != nil {
			s.log.Debugf("connection from %s closed: %v", conn.RemoteAddr(), err)
			return
		}

	}

}

package server

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"io/ioutil"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vorteil/ext2srv/pkg/elog"
	"github.com/vorteil/ext2srv/pkg/ext2"
	"github.com/vorteil/ext2srv/pkg/shell"
	"github.com/vorteil/ext2srv/pkg/vdisk"
	"github.com/vorteil/ext2srv/pkg/vfs"
)

func TestFrameRoundTrip(t *testing.T) {

	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	go func() {
		_ = writeFrame(a, "hello world", CommandLen)
	}()

	line, err := readFrame(b, CommandLen)
	require.NoError(t, err)
	assert.Equal(t, "hello world", line)

}

func TestFrameTruncation(t *testing.T) {

	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	long := make([]byte, 2*CommandLen)
	for i := range long {
		long[i] = 'x'
	}

	go func() {
		_ = writeFrame(a, string(long), CommandLen)
	}()

	line, err := readFrame(b, CommandLen)
	require.NoError(t, err)

	// the frame always keeps a trailing NUL
	assert.Len(t, line, CommandLen-1)

}

func newTestServer(t *testing.T) (string, func()) {

	t.Helper()

	dir, err := ioutil.TempDir("", "server-test")
	require.NoError(t, err)

	disk, err := vdisk.Open(filepath.Join(dir, "disk.img"), 64*1024*1024)
	require.NoError(t, err)

	cache := vdisk.NewCache(disk, 64)

	logger := &elog.CLI{DisableTTY: true}

	fs, err := ext2.New(&ext2.Args{
		Cache:       cache,
		Logger:      logger,
		VolumeLabel: "test",
	})
	require.NoError(t, err)

	userlist := filepath.Join(dir, "userlist.txt")
	require.NoError(t, ioutil.WriteFile(userlist, []byte("1000 alice secret\n"), 0644))

	users, err := shell.LoadUsers(userlist)
	require.NoError(t, err)

	srv := New(vfs.New(fs), users, logger)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go srv.handle(conn)
		}
	}()

	return listener.Addr().String(), func() {
		listener.Close()
		cache.Close()
		os.RemoveAll(dir)
	}

}

func TestServerSession(t *testing.T) {

	addr, cleanup := newTestServer(t)
	defer cleanup()

	client, err := Dial(addr)
	require.NoError(t, err)
	defer client.Close()

	// anything before a login is rejected
	reply, err := client.Send("pwd")
	require.NoError(t, err)
	assert.Equal(t, "Please login first!", reply)

	reply, err = client.Send("login alice wrong")
	require.NoError(t, err)
	assert.Equal(t, "Login failed!", reply)

	reply, err = client.Send("login alice secret")
	require.NoError(t, err)
	assert.Equal(t, "login_success", reply)

	reply, err = client.Send("mkdir /home")
	require.NoError(t, err)
	assert.Contains(t, reply, "OK")

	reply, err = client.Send("touch /home/a.txt")
	require.NoError(t, err)
	assert.Contains(t, reply, "OK")

	reply, err = client.Send(`write "Hello World" /home/a.txt`)
	require.NoError(t, err)
	assert.Contains(t, reply, "OK")

	reply, err = client.Send("cat /home/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "Hello World", reply)

	reply, err = client.Send("ls /home")
	require.NoError(t, err)
	assert.Contains(t, reply, "a.txt")

}

func TestTwoSessionsShareTheFilesystem(t *testing.T) {

	addr, cleanup := newTestServer(t)
	defer cleanup()

	first, err := Dial(addr)
	require.NoError(t, err)
	defer first.Close()

	second, err := Dial(addr)
	require.NoError(t, err)
	defer second.Close()

	_, err = first.Send("login alice secret")
	require.NoError(t, err)
	_, err = second.Send("login alice secret")
	require.NoError(t, err)

	_, err = first.Send("mkdir /shared")
	require.NoError(t, err)

	reply, err := second.Send("ls /")
	require.NoError(t, err)
	assert.Contains(t, reply, "shared")

	// working directories are per-session
	_, err = first.Send("cd /shared")
	require.NoError(t, err)

	reply, err = second.Send("pwd")
	require.NoError(t, err)
	assert.Equal(t, "/", reply)

}

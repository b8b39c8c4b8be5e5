package shell

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	shellwords "github.com/mattn/go-shellwords"
	"github.com/pkg/errors"
	"github.com/sisatech/tablewriter"

	"github.com/vorteil/ext2srv/pkg/elog"
	"github.com/vorteil/ext2srv/pkg/vfs"
)

const helpMessage = `Command:
pwd:                    Show working directory
cd(chdir) dirname:      Switch current working directory
ls [dirname]:           Display the contents of the specified working directory
cat(read) fileName:     Connect files and print to standard output devices
mkdir dirName:          Create directory
rm(remove) fileName:    Delete a file
touch(create) name:     Create a new file
write message fileName: File write information
rmdir dirName:          Delete empty directory
mv source dest:         Rename or move a file or directory to another location
exit(logout):           End the session
`

// catLimit bounds how much file content a single cat command returns. The
// reply frame is fixed-size, so anything longer could not be delivered
// anyway.
const catLimit = 4096

// Shell executes textual commands against a VFS on behalf of one connection.
// It owns the connection's working directory; the VFS itself is shared, so
// every call into it happens under the process-wide lock.
type Shell struct {
	vfs *vfs.VFS
	mu  *sync.Mutex
	log elog.Logger
	cwd string
}

// New returns a shell rooted at '/'.
func New(v *vfs.VFS, mu *sync.Mutex, log elog.Logger) *Shell {
	return &Shell{
		vfs: v,
		mu:  mu,
		log: log,
		cwd: "/",
	}
}

// abs resolves a possibly-relative path against the shell's working
// directory.
func (sh *Shell) abs(path string) string {

	if path == "" {
		return sh.cwd
	}
	if strings.HasPrefix(path, "/") {
		return path
	}
	if strings.HasSuffix(sh.cwd, "/") {
		return sh.cwd + path
	}
	return sh.cwd + "/" + path

}

// errorMessage renders an error kind as the short explanation shown to the
// user.
func errorMessage(err error) string {

	switch errors.Cause(err) {
	case vfs.ErrNotFound:
		return "No such file or directory"
	case vfs.ErrExists:
		return "File exists"
	case vfs.ErrNotDirectory:
		return "Not a directory"
	case vfs.ErrIsDirectory:
		return "Is a directory"
	case vfs.ErrNotEmpty:
		return "Directory not empty"
	case vfs.ErrNameTooLong:
		return "File name too long"
	case vfs.ErrNoSpace:
		return "No space left on device"
	case vfs.ErrIsRoot:
		return "Operation not permitted"
	case vfs.ErrBadFileDescriptor:
		return "Bad file descriptor"
	case vfs.ErrInvalid:
		return "Invalid argument"
	default:
		return err.Error()
	}

}

// Exec parses and runs one command line, returning the reply text and
// whether the session should end.
func (sh *Shell) Exec(line string) (string, bool) {

	sh.log.Debugf("exec: %s", line)

	args, err := shellwords.Parse(line)
	if err != nil {
		return fmt.Sprintf("parse error: %v", err), false
	}

	if len(args) == 0 {
		return "", false
	}

	cmd := args[0]
	args = args[1:]

	switch cmd {
	case "pwd":
		return sh.cwd, false
	case "cd", "chdir":
		if len(args) != 1 {
			return "Usage: cd <dir>", false
		}
		return sh.cd(args[0]), false
	case "ls", "dir":
		if len(args) == 0 {
			return sh.ls(""), false
		}
		return sh.ls(args[0]), false
	case "cat", "read":
		if len(args) < 1 {
			return "cat: missing operand", false
		}
		return sh.cat(args[0]), false
	case "mkdir":
		if len(args) < 1 {
			return "mkdir: missing operand", false
		}
		return sh.mkdir(args[0]), false
	case "rm", "remove":
		if len(args) < 1 {
			return "rm: missing operand", false
		}
		return sh.rm(args[0]), false
	case "touch", "create":
		if len(args) < 1 {
			return "touch: missing operand", false
		}
		return sh.touch(args[0]), false
	case "write":
		if len(args) < 2 {
			return "write: missing operand", false
		}
		offset := int64(0)
		if len(args) > 2 {
			offset, err = strconv.ParseInt(args[2], 10, 64)
			if err != nil || offset < 0 {
				return "write: invalid offset", false
			}
		}
		return sh.write(args[1], args[0], offset), false
	case "rmdir":
		if len(args) < 1 {
			return "rmdir: missing operand", false
		}
		return sh.rmdir(args[0]), false
	case "mv", "rename":
		if len(args) < 2 {
			return "mv: missing operand", false
		}
		return sh.mv(args[0], args[1]), false
	case "help", "h":
		return helpMessage, false
	case "exit", "logout":
		return "", true
	default:
		return "Unknown command!", false
	}

}

func (sh *Shell) cd(dir string) string {

	path := sh.abs(dir)

	sh.mu.Lock()
	existence := sh.vfs.Exists(path)
	sh.mu.Unlock()

	switch existence {
	case vfs.Missing:
		return fmt.Sprintf("cd: %s: No such file or directory", dir)
	case vfs.RegularFile:
		return fmt.Sprintf("cd: %s: Not a directory", dir)
	}

	sh.mu.Lock()
	real, err := sh.vfs.RealPath(path)
	sh.mu.Unlock()
	if err != nil {
		return fmt.Sprintf("cd: %s: %s", dir, errorMessage(err))
	}

	sh.cwd = real
	return fmt.Sprintf("cd %s: OK", dir)

}

func (sh *Shell) ls(dir string) string {

	path := sh.abs(dir)

	sh.mu.Lock()
	list, err := sh.vfs.List(path)
	sh.mu.Unlock()
	if err != nil {
		return fmt.Sprintf("ls: %s: %s", dir, errorMessage(err))
	}

	buf := new(bytes.Buffer)
	fmt.Fprintf(buf, "%s:\n", path)

	table := tablewriter.NewWriter(buf)
	table.SetHeader([]string{"INO", "TYPE", "CTIME", "SIZE", "NAME"})
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	table.SetColumnSeparator("")

	for _, e := range list {

		ftype := "file"
		if e.Stat.IsDir() {
			ftype = "dir"
		}

		table.Append([]string{
			strconv.FormatUint(uint64(e.Stat.Ino), 10),
			ftype,
			e.Stat.ChangeTime.Format("2006-01-02 15:04:05"),
			strconv.FormatInt(e.Stat.Size, 10),
			e.Name,
		})

	}

	table.Render()
	return buf.String()

}

func (sh *Shell) cat(file string) string {

	path := sh.abs(file)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	fd, err := sh.vfs.Open(path, vfs.ReadOnly)
	if err != nil {
		return fmt.Sprintf("cat: %s: %s", file, errorMessage(err))
	}
	defer sh.vfs.Close(fd)

	buf := make([]byte, catLimit)
	n, err := sh.vfs.Read(fd, buf)
	if err != nil {
		return fmt.Sprintf("cat: %s: %s", file, errorMessage(err))
	}

	return string(buf[:n])

}

func (sh *Shell) touch(file string) string {

	path := sh.abs(file)

	sh.mu.Lock()
	err := sh.vfs.Create(path)
	sh.mu.Unlock()
	if err != nil {
		return fmt.Sprintf("touch: %s: %s", file, errorMessage(err))
	}

	return fmt.Sprintf("touch: %s: OK", file)

}

func (sh *Shell) write(file string, content string, offset int64) string {

	path := sh.abs(file)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	fd, err := sh.vfs.Open(path, vfs.WriteOnly)
	if err != nil {
		return fmt.Sprintf("write: %s: %s", file, errorMessage(err))
	}
	defer sh.vfs.Close(fd)

	_, err = sh.vfs.Lseek(fd, offset, io.SeekStart)
	if err != nil {
		return fmt.Sprintf("write: %s: %s", file, errorMessage(err))
	}

	_, err = sh.vfs.Write(fd, []byte(content))
	if err != nil {
		return fmt.Sprintf("write: %s: %s", file, errorMessage(err))
	}

	return fmt.Sprintf("write: %s: OK", file)

}

func (sh *Shell) rm(file string) string {

	path := sh.abs(file)

	sh.mu.Lock()
	err := sh.vfs.Unlink(path)
	sh.mu.Unlock()
	if err != nil {
		return fmt.Sprintf("rm: %s: %s", file, errorMessage(err))
	}

	return fmt.Sprintf("rm: %s: OK", file)

}

func (sh *Shell) mkdir(dir string) string {

	path := sh.abs(dir)

	sh.mu.Lock()
	err := sh.vfs.Mkdir(path)
	sh.mu.Unlock()
	if err != nil {
		return fmt.Sprintf("mkdir: %s: %s", dir, errorMessage(err))
	}

	return fmt.Sprintf("mkdir: %s: OK", dir)

}

func (sh *Shell) rmdir(dir string) string {

	path := sh.abs(dir)

	sh.mu.Lock()
	err := sh.vfs.Rmdir(path)
	sh.mu.Unlock()
	if err != nil {
		return fmt.Sprintf("rmdir: %s: %s", dir, errorMessage(err))
	}

	return fmt.Sprintf("rmdir: %s: OK", dir)

}

func (sh *Shell) mv(src string, dst string) string {

	absSrc := sh.abs(src)
	absDst := sh.abs(dst)

	sh.mu.Lock()
	err := sh.vfs.Rename(absSrc, absDst)
	sh.mu.Unlock()
	if err != nil {
		return fmt.Sprintf("mv: %s: %s", src, errorMessage(err))
	}

	return fmt.Sprintf("mv %s %s: OK", src, dst)

}

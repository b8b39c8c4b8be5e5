package shell

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ErrLoginFailed is returned when a user name or password does not match the
// user list.
var ErrLoginFailed = errors.New("login failed")

type userRecord struct {
	uid      int
	password string
}

// Users is a read-only credential store loaded from a flat text file. Each
// line holds three space-separated fields: uid, user name, password.
// Malformed lines are skipped.
type Users struct {
	records map[string]userRecord
}

// LoadUsers reads the user list at path.
func LoadUsers(path string) (*Users, error) {

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open user list '%s'", path)
	}
	defer f.Close()

	users := &Users{
		records: make(map[string]userRecord),
	}

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {

		fields := strings.Fields(scanner.Text())
		if len(fields) != 3 {
			continue
		}

		uid, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}

		users.records[fields[1]] = userRecord{
			uid:      uid,
			password: fields[2],
		}

	}

	err = scanner.Err()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read user list '%s'", path)
	}

	return users, nil

}

// Login checks a name and password pair against the store and returns the
// user's uid.
func (u *Users) Login(name string, password string) (int, error) {

	record, ok := u.records[name]
	if !ok || record.password != password {
		return -1, ErrLoginFailed
	}

	return record.uid, nil

}

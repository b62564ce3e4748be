// Package account loads the user accounts file and checks credentials.
package account

import (
	"crypto/subtle"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrMissing is returned when the accounts file does not exist.
	ErrMissing = errors.New("accounts file not found")
	// ErrWrongCredentials is returned for an unknown user or a bad password.
	ErrWrongCredentials = errors.New("wrong username or password")
	// ErrNotAuthenticated is returned when a request carries no valid session.
	ErrNotAuthenticated = errors.New("not yet authenticated")
)

// Columns of the accounts file, in file order.
var Header = []string{"username", "name", "password", "email", "failed_login_attemps", "logged_in", "role"}

var validate = validator.New()

// Record is one account row.
type Record struct {
	Username           string `validate:"required"`
	Name               string
	Password           string `validate:"required"`
	Email              string `validate:"omitempty,email"`
	FailedLoginAttemps int    `validate:"gte=0"`
	LoggedIn           bool
	Role               string
}

// Public is the part of a Record safe to return to clients.
type Public struct {
	Username string `json:"username"`
	Name     string `json:"name"`
	Email    string `json:"email,omitempty"`
	Role     string `json:"role,omitempty"`
}

// Public strips the credentials.
func (r Record) Public() Public {
	return Public{Username: r.Username, Name: r.Name, Email: r.Email, Role: r.Role}
}

// Rejected describes a quarantined row.
type Rejected struct {
	Line   int
	Reason string
}

// Directory holds the accounts in memory. Login state and failure counters
// are tracked here and are not written back to the file.
type Directory struct {
	mu       sync.Mutex
	accounts map[string]*Record
	order    []string
	Rejected []Rejected
}

// Load reads the accounts file at path. A missing file yields ErrMissing.
func Load(path string) (*Directory, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrMissing, path)
		}
		return nil, fmt.Errorf("opening accounts: %w", err)
	}
	defer f.Close()

	d, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return d, nil
}

// Read parses an accounts file. Columns are matched by name; rows that fail
// to parse or validate are quarantined. Later duplicates of a username are
// quarantined as well.
func Read(r io.Reader) (*Directory, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}
	for _, col := range []string{"username", "password"} {
		if _, ok := idx[col]; !ok {
			return nil, fmt.Errorf("header is missing required column %q", col)
		}
	}

	d := &Directory{accounts: make(map[string]*Record)}
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				d.Rejected = append(d.Rejected, Rejected{Line: perr.Line, Reason: perr.Err.Error()})
				continue
			}
			return nil, fmt.Errorf("reading accounts: %w", err)
		}
		line, _ := cr.FieldPos(0)
		if len(row) != len(header) {
			d.Rejected = append(d.Rejected, Rejected{Line: line, Reason: fmt.Sprintf("expected %d fields, got %d", len(header), len(row))})
			continue
		}

		rec, err := decode(idx, row)
		if err == nil {
			err = validate.Struct(rec)
		}
		if err != nil {
			d.Rejected = append(d.Rejected, Rejected{Line: line, Reason: err.Error()})
			continue
		}
		if _, dup := d.accounts[rec.Username]; dup {
			d.Rejected = append(d.Rejected, Rejected{Line: line, Reason: fmt.Sprintf("duplicate username %q", rec.Username)})
			continue
		}
		d.accounts[rec.Username] = &rec
		d.order = append(d.order, rec.Username)
	}
	return d, nil
}

func decode(idx map[string]int, row []string) (Record, error) {
	get := func(col string) string {
		if i, ok := idx[col]; ok {
			return strings.TrimSpace(row[i])
		}
		return ""
	}
	rec := Record{
		Username: get("username"),
		Name:     get("name"),
		Password: get("password"),
		Email:    get("email"),
		Role:     get("role"),
	}
	if v := get("failed_login_attemps"); v != "" {
		n, err := strconv.Atoi(strings.TrimSuffix(v, ".0"))
		if err != nil {
			return rec, fmt.Errorf("bad failed_login_attemps %q", v)
		}
		rec.FailedLoginAttemps = n
	}
	if v := get("logged_in"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return rec, fmt.Errorf("bad logged_in %q", v)
		}
		rec.LoggedIn = b
	}
	return rec, nil
}

// Len returns the number of accounts.
func (d *Directory) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.accounts)
}

// Get returns a copy of the named account.
func (d *Directory) Get(username string) (Record, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.accounts[username]
	if !ok {
		return Record{}, false
	}
	return *r, true
}

// Authenticate checks the password for username. A failure increments the
// account's failed-attempt counter; a success resets it and marks the
// account logged in.
func (d *Directory) Authenticate(username, password string) (Record, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	r, ok := d.accounts[username]
	if !ok {
		return Record{}, ErrWrongCredentials
	}
	if !passwordMatches(r.Password, password) {
		r.FailedLoginAttemps++
		return Record{}, ErrWrongCredentials
	}
	r.FailedLoginAttemps = 0
	r.LoggedIn = true
	return *r, nil
}

// Logout clears the logged-in flag.
func (d *Directory) Logout(username string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if r, ok := d.accounts[username]; ok {
		r.LoggedIn = false
	}
}

func passwordMatches(stored, given string) bool {
	if isBcrypt(stored) {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(given)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(given)) == 1
}

func isBcrypt(s string) bool {
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}

// HashPassword returns a bcrypt hash suitable for the password column.
func HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(h), nil
}

// Package credstore resolves the administrative credential for a run:
// explicit flags first, then the OS keyring, then an interactive prompt.
// Resolution happens at most once, before any host is touched.
package credstore

import (
	"bufio"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
	"golang.org/x/term"
)

// keyringService namespaces rollout entries in the OS keyring.
const keyringService = "rollout"

// ErrNotFound means no stored credential exists for the user.
var ErrNotFound = errors.New("credential not found in keyring")

// Credential is a remote administrative login. Username may carry a
// domain in DOMAIN\user form.
type Credential struct {
	Username string
	Password string
}

// Resolve produces the credential for a run. An explicit password wins;
// otherwise the keyring is consulted for the user, and failing that the
// operator is prompted.
func Resolve(username, password string) (Credential, error) {
	if username != "" && password != "" {
		return Credential{Username: username, Password: password}, nil
	}

	if username != "" {
		cred, err := FromKeyring(username)
		if err == nil {
			log.Printf("[cred] Using stored credential for %s", username)
			return cred, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return Credential{}, err
		}
	}

	return Prompt(username)
}

// FromKeyring looks up the stored password for a user.
func FromKeyring(username string) (Credential, error) {
	secret, err := keyring.Get(keyringService, username)
	if errors.Is(err, keyring.ErrNotFound) {
		return Credential{}, ErrNotFound
	}
	if err != nil {
		return Credential{}, fmt.Errorf("keyring get: %w", err)
	}
	return Credential{Username: username, Password: secret}, nil
}

// Save stores a password for a user in the OS keyring.
func Save(username, password string) error {
	if err := keyring.Set(keyringService, username, password); err != nil {
		return fmt.Errorf("keyring set: %w", err)
	}
	return nil
}

// Delete removes the stored credential for a user.
func Delete(username string) error {
	err := keyring.Delete(keyringService, username)
	if errors.Is(err, keyring.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("keyring delete: %w", err)
	}
	return nil
}

// Prompt reads a credential interactively. The password is read without
// echo. Fails when stdin is not a terminal.
func Prompt(username string) (Credential, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return Credential{}, errors.New("no credential supplied and stdin is not a terminal")
	}

	if username == "" {
		fmt.Fprint(os.Stderr, "Username (DOMAIN\\user): ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil {
			return Credential{}, fmt.Errorf("read username: %w", err)
		}
		username = strings.TrimSpace(line)
		if username == "" {
			return Credential{}, errors.New("empty username")
		}
	}

	fmt.Fprintf(os.Stderr, "Password for %s: ", username)
	secret, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return Credential{}, fmt.Errorf("read password: %w", err)
	}

	return Credential{Username: username, Password: string(secret)}, nil
}

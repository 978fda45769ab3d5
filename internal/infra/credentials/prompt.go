package credentials

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/ahrav/dastctl/internal/domain/artifact"
)

var errNotTerminal = errors.New("stdin is not a terminal")

var _ artifact.CredentialSource = (*Prompter)(nil)

// Prompter asks the operator for a username and a hidden password.
type Prompter struct {
	in       io.Reader
	out      io.Writer
	fd       int
	username string

	isTerminal   func(fd int) bool
	readPassword func(fd int) ([]byte, error)
}

// NewPrompter prompts on the terminal attached to in. A non-empty username
// skips the username question.
func NewPrompter(in *os.File, out io.Writer, username string) *Prompter {
	return &Prompter{
		in:           in,
		out:          out,
		fd:           int(in.Fd()),
		username:     username,
		isTerminal:   term.IsTerminal,
		readPassword: term.ReadPassword,
	}
}

// Credentials implements artifact.CredentialSource. It fails when no terminal
// is attached so unattended runs never block.
func (p *Prompter) Credentials(ctx context.Context) (artifact.Credentials, error) {
	if err := ctx.Err(); err != nil {
		return artifact.Credentials{}, err
	}
	if !p.isTerminal(p.fd) {
		return artifact.Credentials{}, errNotTerminal
	}

	user := p.username
	if user == "" {
		fmt.Fprint(p.out, "Username: ")
		line, err := bufio.NewReader(p.in).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return artifact.Credentials{}, fmt.Errorf("failed to read username: %w", err)
		}
		user = strings.TrimSpace(line)
	}

	fmt.Fprintf(p.out, "Password for %s: ", user)
	pass, err := p.readPassword(p.fd)
	fmt.Fprintln(p.out)
	if err != nil {
		return artifact.Credentials{}, fmt.Errorf("failed to read password: %w", err)
	}

	creds := artifact.Credentials{Username: user, Password: string(pass)}
	if !creds.Valid() {
		return artifact.Credentials{}, artifact.ErrNoCredentials
	}
	return creds, nil
}
